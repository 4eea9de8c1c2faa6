package recording

import (
	"github.com/ixugo/goddd/pkg/orm"
	"github.com/ixugo/goddd/pkg/web"
)

type FindRecordingInput struct {
	web.PagerFilter
	web.DateFilter
	CameraID    int64 `form:"camera_id"`
	UserID      int64 `form:"user_id"`
	IsScheduled *bool `form:"is_scheduled"`
}

// AddRecordingInput 录像结束后由会话流水线写入
type AddRecordingInput struct {
	CameraID    int64    `json:"camera_id"`
	UserID      int64    `json:"user_id"`
	SessionID   string   `json:"session_id"`
	FileName    string   `json:"file_name"`
	Format      string   `json:"format"`
	Path        string   `json:"path"`
	Size        int64    `json:"size"`
	Duration    float64  `json:"duration"`
	FrameCount  int64    `json:"frame_count"`
	IsScheduled bool     `json:"is_scheduled"`
	StartedAt   orm.Time `json:"started_at"`
	EndedAt     orm.Time `json:"ended_at"`
}

// TimelineInput 时间轴查询参数
type TimelineInput struct {
	web.DateFilter
	CameraID int64 `form:"camera_id"`
}
