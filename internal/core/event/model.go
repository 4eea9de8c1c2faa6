package event

import "github.com/ixugo/goddd/pkg/orm"

// Event 一次检测命中，每个目标一条记录
type Event struct {
	ID        int64    `gorm:"primaryKey" json:"id"`
	CameraID  int64    `gorm:"column:camera_id;index;notNull;default:0" json:"camera_id"`
	UserID    int64    `gorm:"column:user_id;index;notNull;default:0" json:"user_id"`
	SessionID string   `gorm:"column:session_id;notNull;default:''" json:"session_id"`
	ClassID   int      `gorm:"column:class_id;notNull;default:0" json:"class_id"`
	Label     string   `gorm:"column:label;index;notNull;default:''" json:"label"`
	Score     float32  `gorm:"column:score;notNull;default:0" json:"score"`
	BBox      string   `gorm:"column:bbox;notNull;default:''" json:"bbox"`             // json 格式的检测框
	ImagePath string   `gorm:"column:image_path;notNull;default:''" json:"image_path"` // 截图路径
	StartedAt orm.Time `gorm:"column:started_at;index;notNull" json:"started_at"`
	CreatedAt orm.Time `gorm:"column:created_at;notNull" json:"created_at"`
}

func (*Event) TableName() string {
	return "events"
}
