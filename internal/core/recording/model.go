package recording

import "github.com/ixugo/goddd/pkg/orm"

// Recording 一次录像的元数据
type Recording struct {
	ID          int64    `gorm:"primaryKey" json:"id"`
	CameraID    int64    `gorm:"column:camera_id;index;notNull;default:0" json:"camera_id"`
	UserID      int64    `gorm:"column:user_id;index;notNull;default:0" json:"user_id"`
	SessionID   string   `gorm:"column:session_id;notNull;default:''" json:"session_id"`
	FileName    string   `gorm:"column:file_name;notNull;default:''" json:"file_name"`
	Format      string   `gorm:"column:format;notNull;default:''" json:"format"`
	Path        string   `gorm:"column:path;notNull;default:''" json:"path"`         // 文件路径
	Size        int64    `gorm:"column:size;notNull;default:0" json:"size"`          // 文件大小（字节）
	Duration    float64  `gorm:"column:duration;notNull;default:0" json:"duration"`  // 时长（秒）
	FrameCount  int64    `gorm:"column:frame_count;notNull;default:0" json:"frame_count"`
	IsScheduled bool     `gorm:"column:is_scheduled;notNull;default:false" json:"is_scheduled"` // 由计划触发
	StartedAt   orm.Time `gorm:"column:started_at;index;notNull" json:"started_at"`
	EndedAt     orm.Time `gorm:"column:ended_at;notNull" json:"ended_at"`
	CreatedAt   orm.Time `gorm:"column:created_at;notNull" json:"created_at"`
}

func (*Recording) TableName() string {
	return "recordings"
}

// TimeRange 时间轴数据项，表示一段录像的时间范围
type TimeRange struct {
	ID          int64   `json:"id"`
	StartMs     int64   `json:"start_ms"`
	EndMs       int64   `json:"end_ms"`
	Duration    float64 `json:"duration"`
	IsScheduled bool    `json:"is_scheduled"`
}
