package schedule

import "github.com/ixugo/goddd/pkg/orm"

// Schedule 按星期和时段自动录制的规则
type Schedule struct {
	ID        int64    `gorm:"primaryKey" json:"id"`
	CameraID  int64    `gorm:"column:camera_id;index;notNull;default:0" json:"camera_id"`
	UserID    int64    `gorm:"column:user_id;index;notNull;default:0" json:"user_id"`
	Name      string   `gorm:"column:name;notNull;default:''" json:"name"`
	Days      []string `gorm:"column:days_of_week;type:text;serializer:json" json:"days_of_week"` // Monday..Sunday
	StartTime string   `gorm:"column:start_time;notNull;default:''" json:"start_time"`            // HH:MM
	EndTime   string   `gorm:"column:end_time;notNull;default:''" json:"end_time"`                // HH:MM
	Enabled   bool     `gorm:"column:enabled;notNull" json:"enabled"`
	CreatedAt orm.Time `gorm:"column:created_at;notNull" json:"created_at"`
	UpdatedAt orm.Time `gorm:"column:updated_at;notNull" json:"updated_at"`
}

func (*Schedule) TableName() string {
	return "schedules"
}
