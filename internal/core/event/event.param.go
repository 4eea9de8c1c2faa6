package event

import (
	"github.com/ixugo/goddd/pkg/orm"
	"github.com/ixugo/goddd/pkg/web"
)

type FindEventInput struct {
	web.PagerFilter
	web.DateFilter
	CameraID int64  `form:"camera_id"`
	UserID   int64  `form:"user_id"`
	Label    string `form:"label"`
}

type AddEventInput struct {
	CameraID  int64    `json:"camera_id"`
	UserID    int64    `json:"user_id"`
	SessionID string   `json:"session_id"`
	ClassID   int      `json:"class_id"`
	Label     string   `json:"label"`
	Score     float32  `json:"score"`
	BBox      string   `json:"bbox"`
	ImagePath string   `json:"image_path"`
	StartedAt orm.Time `json:"started_at"`
}
