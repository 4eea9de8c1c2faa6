package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gowvp/thermalstream/internal/core/camera"
	"github.com/gowvp/thermalstream/internal/core/detect"
	"github.com/gowvp/thermalstream/internal/core/event"
	"github.com/gowvp/thermalstream/internal/core/notify"
	"github.com/gowvp/thermalstream/internal/core/recording"
	"github.com/gowvp/thermalstream/internal/core/schedule"
	"github.com/gowvp/thermalstream/internal/metrics"
	"github.com/ixugo/goddd/pkg/orm"
	"github.com/jonboulle/clockwork"
)

var (
	ErrControlBusy   = errors.New("pipeline control queue is full")
	ErrSessionClosed = errors.New("pipeline is closed")
	ErrNoFrame       = errors.New("no frame captured yet")
)

// State 会话循环的生命周期
type State int32

const (
	StateStarting State = iota
	StateRunning
	StateStopping
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// RecordingSaver 录像结束后保存元数据
type RecordingSaver interface {
	AddRecording(ctx context.Context, in *recording.AddRecordingInput) (*recording.Recording, error)
}

// ScheduleSource 计划录像的期望状态
type ScheduleSource interface {
	IsRecordingDesired(cameraID int64) bool
	ActiveScheduleFor(ctx context.Context, cameraID int64, now time.Time) (*schedule.Schedule, error)
}

// EventQueue 检测结果的异步持久化队列，满时丢弃
type EventQueue interface {
	Enqueue(job event.Job) bool
}

// Deps 所有会话共享的协作者，可选项为 nil 时跳过对应步骤
type Deps struct {
	Registry   *camera.Registry
	Cache      *detect.Cache
	Ledger     *recording.Ledger
	Recordings RecordingSaver // 可选
	Schedules  ScheduleSource // 可选
	Detector   detect.Detector
	Renderer   detect.Renderer // 可选
	Events     EventQueue      // 可选
	Notifier   notify.Publisher
	Clock      clockwork.Clock
}

type controlKind int

const (
	ctlToggleDetection controlKind = iota
	ctlStartRecording
	ctlStopRecording
	ctlScreenshot
)

type controlMsg struct {
	kind       controlKind
	enabled    bool
	confidence float64
	reply      chan controlResult
}

type controlResult struct {
	path  string
	stats *recording.Stats
	err   error
}

// Pipeline 一个会话的处理循环，只有自己的协程会写会话相关的缓存与录像
type Pipeline struct {
	deps    *Deps
	cfg     Config
	handle  camera.Handle
	session *camera.Session
	label   string
	log     *slog.Logger

	control chan controlMsg
	sinks   sinkSet
	cancel  context.CancelFunc
	done    chan struct{}

	state      atomic.Int32
	detecting  atomic.Bool
	confidence atomic.Uint64
	frames     atomic.Uint64
	dropped    atomic.Uint64

	// 以下字段只在会话协程内访问
	iterations  uint64
	lastDisplay *image.RGBA
}

func newPipeline(deps *Deps, cfg Config, h camera.Handle, s *camera.Session, label string) *Pipeline {
	if label == "" {
		label = "camera_" + strconv.FormatInt(s.CameraID, 10)
	}
	p := Pipeline{
		deps:    deps,
		cfg:     cfg,
		handle:  h,
		session: s,
		label:   label,
		log:     slog.With("component", "pipeline", "session_id", s.ID, "camera_id", s.CameraID),
		control: make(chan controlMsg, cfg.ControlBuffer),
		done:    make(chan struct{}),
	}
	p.setConfidence(cfg.Confidence)
	return &p
}

func (p *Pipeline) State() State { return State(p.state.Load()) }

func (p *Pipeline) setConfidence(v float64) { p.confidence.Store(math.Float64bits(v)) }

func (p *Pipeline) Confidence() float64 { return math.Float64frombits(p.confidence.Load()) }

// Done 会话循环退出且资源释放完毕后关闭
func (p *Pipeline) Done() <-chan struct{} { return p.done }

// run 会话主循环，任何退出路径都会执行 teardown
func (p *Pipeline) run(ctx context.Context) {
	defer p.teardown(ctx)
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("pipeline panic recovered", "panic", r)
		}
	}()

	p.state.Store(int32(StateRunning))
	p.log.InfoContext(ctx, "pipeline started", "fps", p.session.FPS())

	clock := p.deps.Clock
	interval := time.Duration(float64(time.Second) / p.session.FPS())
	cameraLabel := strconv.FormatInt(p.session.CameraID, 10)
	var n uint64

	for ctx.Err() == nil && p.session.Running() {
		start := clock.Now()
		p.iterations++

		select {
		case msg := <-p.control:
			p.handleControl(ctx, msg)
		default:
		}

		if p.iterations%uint64(p.cfg.ReconcileEvery) == 0 {
			p.reconcile(ctx)
		}

		frame, ok := p.deps.Registry.PullFrame(ctx, p.handle)
		if !ok {
			metrics.EmptyPulls.Inc()
			p.sleep(ctx, p.cfg.NoFrameBackoff)
			continue
		}
		n++
		p.process(ctx, frame, n)
		p.frames.Store(n)
		metrics.FramesProcessed.WithLabelValues(cameraLabel).Inc()

		if wait := interval - clock.Since(start); wait > 0 {
			p.sleep(ctx, wait)
		}
	}
}

func (p *Pipeline) process(ctx context.Context, frame *camera.Frame, n uint64) {
	var dets []detect.Detection
	if p.detecting.Load() {
		fresh := false
		if n%uint64(p.cfg.DetectEvery) == 0 {
			dets = p.detect(ctx, frame)
			fresh = len(dets) > 0
		}
		if !fresh {
			dets = p.deps.Cache.Get(p.handle)
		}
	}

	display, recFrame := frame.Image, frame.Image
	if len(dets) > 0 && p.deps.Renderer != nil {
		display = p.deps.Renderer.DrawOverlay(frame.Image, dets)
		recFrame = detect.Clone(display)
	}
	p.lastDisplay = display

	active := p.deps.Ledger.IsActive(p.handle)
	if active {
		p.deps.Ledger.WriteFrame(p.handle, recFrame)
	}

	if p.sinks.len() == 0 {
		return
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, display, &jpeg.Options{Quality: p.cfg.JPEGQuality}); err != nil {
		p.log.WarnContext(ctx, "encode frame", "err", err)
		return
	}
	pkt := Packet{
		SessionID:  p.session.ID,
		Frame:      buf.Bytes(),
		Detections: dets,
		Recording:  active,
		FrameCount: n,
	}
	if dropped := p.sinks.send(ctx, &pkt, p.cfg.SendTimeout); dropped > 0 {
		p.dropped.Add(uint64(dropped))
	}
}

// detect 推理失败按无结果处理，缓存中的旧结果继续按老化规则生效
func (p *Pipeline) detect(ctx context.Context, frame *camera.Frame) []detect.Detection {
	dctx, cancel := context.WithTimeout(ctx, p.cfg.DetectTimeout)
	defer cancel()

	confidence := p.Confidence()
	start := time.Now()
	dets, err := p.deps.Detector.Detect(dctx, frame.Image, confidence)
	metrics.DetectDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.DetectErrors.Inc()
		p.log.WarnContext(ctx, "detect", "frame", frame.Seq, "err", err)
		return nil
	}
	dets = detect.Filter(dets, confidence)
	if len(dets) == 0 {
		return nil
	}

	p.deps.Cache.Update(p.handle, dets)
	for _, d := range dets {
		metrics.Detections.WithLabelValues(d.ClassName).Inc()
	}
	if p.deps.Events != nil {
		ok := p.deps.Events.Enqueue(event.Job{
			Frame:      detect.Clone(frame.Image),
			Detections: dets,
			CameraID:   p.session.CameraID,
			UserID:     p.session.UserID,
			SessionID:  p.session.ID,
			At:         frame.At,
		})
		if !ok {
			p.log.DebugContext(ctx, "event queue full, detections not persisted", "count", len(dets))
		}
	}
	return dets
}

// reconcile 按计划期望状态开始或停止录像，只停止由计划开始的录像
func (p *Pipeline) reconcile(ctx context.Context) {
	if p.deps.Schedules == nil {
		return
	}
	desired := p.deps.Schedules.IsRecordingDesired(p.session.CameraID)
	active := p.deps.Ledger.IsActive(p.handle)
	switch {
	case desired && !active:
		if _, err := p.startRecording(ctx, true); err != nil {
			p.log.WarnContext(ctx, "start scheduled recording", "err", err)
		}
	case !desired && active && p.deps.Ledger.IsScheduled(p.handle):
		if _, err := p.stopRecording(ctx); err != nil {
			p.log.WarnContext(ctx, "stop scheduled recording", "err", err)
		}
	}
}

func (p *Pipeline) handleControl(ctx context.Context, msg controlMsg) {
	var res controlResult
	switch msg.kind {
	case ctlToggleDetection:
		p.detecting.Store(msg.enabled)
		if msg.confidence > 0 && msg.confidence <= 1 {
			p.setConfidence(msg.confidence)
		}
		if !msg.enabled {
			p.deps.Cache.Clear(p.handle)
		}
		p.log.InfoContext(ctx, "detection toggled", "enabled", msg.enabled, "confidence", p.Confidence())
	case ctlStartRecording:
		res.path, res.err = p.startRecording(ctx, false)
	case ctlStopRecording:
		res.stats, res.err = p.stopRecording(ctx)
	case ctlScreenshot:
		res.path, res.err = p.screenshot()
	}
	msg.reply <- res
}

func (p *Pipeline) startRecording(ctx context.Context, scheduled bool) (string, error) {
	path, err := p.deps.Ledger.Start(p.handle, recording.StartInput{
		FPS:       p.session.FPS(),
		Size:      p.session.Size(),
		Label:     p.label,
		Scheduled: scheduled,
	})
	if err != nil {
		return "", err
	}
	metrics.ActiveRecordings.Inc()
	p.log.InfoContext(ctx, "recording started", "path", path, "scheduled", scheduled)
	p.notify(notify.TypeRecordingStarted, map[string]any{
		"file_path": path,
		"scheduled": scheduled,
	})
	return path, nil
}

// stopRecording 停止录像并保存元数据，保存失败只记录日志
func (p *Pipeline) stopRecording(ctx context.Context) (*recording.Stats, error) {
	stats, ok := p.deps.Ledger.Stop(p.handle)
	if !ok {
		return nil, recording.ErrNotRecording
	}
	metrics.ActiveRecordings.Dec()
	metrics.RecordingsTotal.WithLabelValues(metrics.Trigger(stats.Scheduled)).Inc()

	if p.deps.Recordings != nil {
		_, err := p.deps.Recordings.AddRecording(ctx, &recording.AddRecordingInput{
			CameraID:    p.session.CameraID,
			UserID:      p.session.UserID,
			SessionID:   p.session.ID,
			FileName:    stats.FileName,
			Format:      string(stats.Format),
			Path:        stats.FilePath,
			Size:        stats.FileSizeBytes,
			Duration:    float64(stats.DurationSeconds),
			FrameCount:  stats.FrameCount,
			IsScheduled: stats.Scheduled,
			StartedAt:   orm.Time{Time: stats.StartedAt},
			EndedAt:     orm.Time{Time: stats.EndedAt},
		})
		if err != nil {
			p.log.ErrorContext(ctx, "save recording", "file", stats.FileName, "err", err)
		}
	}

	p.log.InfoContext(ctx, "recording stopped", "file", stats.FileName, "frames", stats.FrameCount, "duration", stats.DurationSeconds)
	p.notify(notify.TypeRecordingStopped, map[string]any{
		"file_name":        stats.FileName,
		"duration_seconds": stats.DurationSeconds,
		"file_size_bytes":  stats.FileSizeBytes,
		"frame_count":      stats.FrameCount,
		"scheduled":        stats.Scheduled,
	})
	return stats, nil
}

// screenshot 保存最近一帧显示画面（含检测框）
func (p *Pipeline) screenshot() (string, error) {
	img := p.lastDisplay
	if img == nil {
		return "", ErrNoFrame
	}
	if err := os.MkdirAll(p.cfg.ScreenshotDir, 0o755); err != nil {
		return "", err
	}
	now := p.deps.Clock.Now()
	name := fmt.Sprintf("%s_screenshot_%s_%d.jpg", p.label, now.Format("20060102_150405"), p.frames.Load())
	path := filepath.Join(p.cfg.ScreenshotDir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: 90}); err != nil {
		_ = f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	p.notify(notify.TypeScreenshotCaptured, map[string]any{"file_path": path})
	return path, nil
}

// abort 循环未启动时释放 Connect 已占用的录像与视频源
func (p *Pipeline) abort(ctx context.Context) {
	if p.deps.Ledger.IsActive(p.handle) {
		if _, err := p.stopRecording(ctx); err != nil {
			p.log.WarnContext(ctx, "stop recording on abort", "err", err)
		}
	}
	if err := p.deps.Registry.Close(p.handle); err != nil {
		p.log.WarnContext(ctx, "close session", "err", err)
	}
	p.state.Store(int32(StateClosed))
	close(p.done)
}

// teardown 清理缓存、结束录像、释放视频源，最后关闭 done
func (p *Pipeline) teardown(ctx context.Context) {
	p.state.Store(int32(StateStopping))
	ctx = context.WithoutCancel(ctx)

	p.deps.Cache.Clear(p.handle)
	if p.deps.Ledger.IsActive(p.handle) {
		if _, err := p.stopRecording(ctx); err != nil {
			p.log.WarnContext(ctx, "stop recording on teardown", "err", err)
		}
	}
	if err := p.deps.Registry.Close(p.handle); err != nil {
		p.log.WarnContext(ctx, "close session", "err", err)
	}
	p.notify(notify.TypeCameraDisconnected, map[string]any{"frames": p.frames.Load()})

	p.state.Store(int32(StateClosed))
	p.log.InfoContext(ctx, "pipeline closed", "frames", p.frames.Load(), "dropped", p.dropped.Load())
	close(p.done)
}

func (p *Pipeline) notify(typ string, data map[string]any) {
	if p.deps.Notifier == nil {
		return
	}
	data["session_id"] = p.session.ID
	data["camera_id"] = p.session.CameraID
	p.deps.Notifier.Publish(notify.Event{
		Type:      typ,
		UserID:    p.session.UserID,
		Data:      data,
		Timestamp: p.deps.Clock.Now(),
	})
}

func (p *Pipeline) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-p.deps.Clock.After(d):
	}
}

// call 把控制消息交给会话协程并等待结果
func (p *Pipeline) call(ctx context.Context, msg controlMsg) (controlResult, error) {
	msg.reply = make(chan controlResult, 1)
	select {
	case <-p.done:
		return controlResult{}, ErrSessionClosed
	default:
	}
	select {
	case p.control <- msg:
	default:
		return controlResult{}, ErrControlBusy
	}
	select {
	case res := <-msg.reply:
		return res, res.err
	case <-p.done:
		select {
		case res := <-msg.reply:
			return res, res.err
		default:
			return controlResult{}, ErrSessionClosed
		}
	case <-ctx.Done():
		return controlResult{}, ctx.Err()
	}
}
