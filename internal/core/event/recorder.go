package event

import (
	"context"
	"encoding/json"
	"image"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gowvp/thermalstream/internal/core/detect"
	"github.com/ixugo/goddd/pkg/orm"
)

// Job 一帧的检测结果，由持久化协程保存截图与记录
type Job struct {
	Frame      *image.RGBA // 调用方交出所有权，入队后不得再修改
	Detections []detect.Detection
	CameraID   int64
	UserID     int64
	SessionID  string
	At         time.Time
}

// Recorder 有界队列 + 单个工作协程，会话循环只入队不等待
type Recorder struct {
	core     Core
	renderer detect.Renderer
	jobs     chan Job
	log      *slog.Logger
	dropped  atomic.Uint64
	saved    atomic.Uint64
	// OnDrop 队列满丢弃时回调，可为 nil
	OnDrop func()
}

// NewRecorder size 为队列长度
func NewRecorder(core Core, renderer detect.Renderer, size int) *Recorder {
	if size <= 0 {
		size = 64
	}
	return &Recorder{
		core:     core,
		renderer: renderer,
		jobs:     make(chan Job, size),
		log:      slog.With("component", "event"),
	}
}

// Enqueue 非阻塞入队，队列满时丢弃并返回 false
func (r *Recorder) Enqueue(job Job) bool {
	select {
	case r.jobs <- job:
		return true
	default:
		r.dropped.Add(1)
		if r.OnDrop != nil {
			r.OnDrop()
		}
		return false
	}
}

// Run 消费队列直到 ctx 结束，结束前把已入队的任务处理完
func (r *Recorder) Run(ctx context.Context) {
	for {
		select {
		case job := <-r.jobs:
			r.handle(ctx, job)
		case <-ctx.Done():
			for {
				select {
				case job := <-r.jobs:
					r.handle(context.WithoutCancel(ctx), job)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) handle(ctx context.Context, job Job) {
	for _, det := range job.Detections {
		var imagePath string
		if r.renderer != nil && job.Frame != nil {
			p, err := r.renderer.SaveCrop(job.Frame, det)
			if err != nil {
				r.log.WarnContext(ctx, "save crop", "session_id", job.SessionID, "label", det.ClassName, "err", err)
			} else {
				imagePath = p
			}
		}
		bbox, _ := json.Marshal(det.BBox)
		_, err := r.core.AddEvent(ctx, &AddEventInput{
			CameraID:  job.CameraID,
			UserID:    job.UserID,
			SessionID: job.SessionID,
			ClassID:   det.ClassID,
			Label:     det.ClassName,
			Score:     float32(det.Confidence),
			BBox:      string(bbox),
			ImagePath: imagePath,
			StartedAt: orm.Time{Time: job.At},
		})
		if err != nil {
			r.log.ErrorContext(ctx, "save event failed", "label", det.ClassName, "err", err)
			continue
		}
		r.saved.Add(1)
	}
}

// Dropped 因队列满丢弃的任务数
func (r *Recorder) Dropped() uint64 { return r.dropped.Load() }

// Saved 已保存的事件数
func (r *Recorder) Saved() uint64 { return r.saved.Load() }
