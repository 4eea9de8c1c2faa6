package schedule

import "github.com/ixugo/goddd/pkg/web"

type FindScheduleInput struct {
	web.PagerFilter
	CameraID int64 `form:"camera_id"`
	UserID   int64 `form:"user_id"`
	Enabled  *bool `form:"enabled"`
}

type AddScheduleInput struct {
	CameraID  int64    `json:"camera_id" binding:"required"`
	UserID    int64    `json:"user_id"`
	Name      string   `json:"name"`
	Days      []string `json:"days_of_week" binding:"required"`
	StartTime string   `json:"start_time" binding:"required"`
	EndTime   string   `json:"end_time" binding:"required"`
	Enabled   bool     `json:"enabled"`
}

// EditScheduleInput 整体替换，字段含义同 AddScheduleInput
type EditScheduleInput struct {
	CameraID  int64    `json:"camera_id" binding:"required"`
	Name      string   `json:"name"`
	Days      []string `json:"days_of_week" binding:"required"`
	StartTime string   `json:"start_time" binding:"required"`
	EndTime   string   `json:"end_time" binding:"required"`
	Enabled   bool     `json:"enabled"`
}
