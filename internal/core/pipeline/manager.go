package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/gowvp/thermalstream/internal/core/camera"
	"github.com/gowvp/thermalstream/internal/core/detect"
	"github.com/gowvp/thermalstream/internal/core/notify"
	"github.com/gowvp/thermalstream/internal/core/recording"
	"github.com/gowvp/thermalstream/internal/metrics"
	"github.com/ixugo/goddd/pkg/conc"
	"github.com/jonboulle/clockwork"
)

var ErrStopTimeout = errors.New("pipeline did not stop in time")

// ConnectInput 打开摄像头会话
type ConnectInput struct {
	CameraID   int64   `json:"camera_id"`
	UserID     int64   `json:"user_id"`
	Input      string  `json:"input" binding:"required"` // 设备号、URL 或 IP
	Label      string  `json:"label"`                    // 录像文件名前缀
	Detection  bool    `json:"detection"`
	Confidence float64 `json:"confidence"`
}

// Status 会话运行状态
type Status struct {
	camera.Info
	State              State   `json:"state"`
	Detection          bool    `json:"detection"`
	Confidence         float64 `json:"confidence"`
	Recording          bool    `json:"recording"`
	RecordingScheduled bool    `json:"recording_scheduled"`
	Subscribers        int     `json:"subscribers"`
	FramesProcessed    uint64  `json:"frames_processed"`
	FramesDropped      uint64  `json:"frames_dropped"`
}

// Manager 持有全部会话循环
type Manager struct {
	deps Deps
	cfg  Config
	log  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	// mu 保证 Shutdown 之后不会再有 wg.Add
	mu     sync.Mutex
	closed bool

	pipelines conc.Map[string, *Pipeline]
}

// NewManager deps 中未设置的时钟和检测器使用默认实现
func NewManager(deps Deps, cfg Config) *Manager {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Detector == nil {
		deps.Detector = detect.NopDetector{}
	}
	if deps.Cache == nil {
		deps.Cache = detect.NewCache()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		deps:   deps,
		cfg:    cfg.withDefaults(),
		log:    slog.With("component", "pipeline"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Connect 打开会话并启动处理循环，当前处于计划窗口内时立即开始计划录像
func (m *Manager) Connect(ctx context.Context, in ConnectInput) (*Status, error) {
	if err := m.ctx.Err(); err != nil {
		return nil, ErrSessionClosed
	}
	id := uuid.NewString()
	h, s, err := m.deps.Registry.Connect(ctx, camera.ConnectInput{
		ID:       id,
		CameraID: in.CameraID,
		UserID:   in.UserID,
		Input:    in.Input,
	})
	if err != nil {
		return nil, err
	}

	p := newPipeline(&m.deps, m.cfg, h, s, in.Label)
	p.detecting.Store(in.Detection)
	if in.Confidence > 0 && in.Confidence <= 1 {
		p.setConfidence(in.Confidence)
	}

	// 循环尚未启动，此处直接操作录像不会与会话协程竞争
	if m.deps.Schedules != nil && in.CameraID > 0 {
		sch, err := m.deps.Schedules.ActiveScheduleFor(ctx, in.CameraID, m.deps.Clock.Now())
		if err != nil {
			m.log.WarnContext(ctx, "check active schedule", "camera_id", in.CameraID, "err", err)
		} else if sch != nil {
			if _, err := p.startRecording(ctx, true); err != nil {
				m.log.WarnContext(ctx, "start scheduled recording on connect", "schedule_id", sch.ID, "err", err)
			}
		}
	}

	// 打开视频源期间可能已经 Shutdown
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		p.abort(ctx)
		return nil, ErrSessionClosed
	}
	runCtx, cancel := context.WithCancel(m.ctx)
	p.cancel = cancel
	m.pipelines.Store(id, p)
	m.wg.Add(1)
	m.mu.Unlock()
	metrics.ActiveSessions.Inc()

	p.notify(notify.TypeCameraConnected, map[string]any{
		"input":  s.Input,
		"source": s.Descriptor.String(),
		"fps":    s.FPS(),
	})
	st := p.status()

	go func() {
		defer m.wg.Done()
		defer cancel()
		p.run(runCtx)
		m.pipelines.Delete(id)
		metrics.ActiveSessions.Dec()
	}()
	return &st, nil
}

// Disconnect 通知会话退出并等待资源释放，最多等待 StopTimeout
func (m *Manager) Disconnect(ctx context.Context, id string) error {
	p, ok := m.pipelines.Load(id)
	if !ok {
		return fmt.Errorf("%w: %s", camera.ErrSessionNotFound, id)
	}
	p.cancel()

	timer := m.deps.Clock.NewTimer(m.cfg.StopTimeout)
	defer timer.Stop()
	select {
	case <-p.done:
		return nil
	case <-timer.Chan():
		return fmt.Errorf("%w: %s", ErrStopTimeout, id)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) get(id string) (*Pipeline, error) {
	p, ok := m.pipelines.Load(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", camera.ErrSessionNotFound, id)
	}
	return p, nil
}

// Subscribe 为会话添加帧订阅者，返回取消函数
func (m *Manager) Subscribe(id string, sink Sink) (func(), error) {
	p, err := m.get(id)
	if err != nil {
		return nil, err
	}
	return p.sinks.add(sink), nil
}

// Done 会话循环退出后可读
func (m *Manager) Done(id string) (<-chan struct{}, error) {
	p, err := m.get(id)
	if err != nil {
		return nil, err
	}
	return p.done, nil
}

// ToggleDetection 开关检测，confidence 不在 (0,1] 时保持原值
func (m *Manager) ToggleDetection(ctx context.Context, id string, enabled bool, confidence float64) error {
	p, err := m.get(id)
	if err != nil {
		return err
	}
	_, err = p.call(ctx, controlMsg{kind: ctlToggleDetection, enabled: enabled, confidence: confidence})
	return err
}

// StartRecording 手动开始录像，返回文件路径
func (m *Manager) StartRecording(ctx context.Context, id string) (string, error) {
	p, err := m.get(id)
	if err != nil {
		return "", err
	}
	res, err := p.call(ctx, controlMsg{kind: ctlStartRecording})
	return res.path, err
}

// StopRecording 停止录像，没有进行中的录像时返回 recording.ErrNotRecording
func (m *Manager) StopRecording(ctx context.Context, id string) (*recording.Stats, error) {
	p, err := m.get(id)
	if err != nil {
		return nil, err
	}
	res, err := p.call(ctx, controlMsg{kind: ctlStopRecording})
	return res.stats, err
}

// Screenshot 保存会话最近一帧画面
func (m *Manager) Screenshot(ctx context.Context, id string) (string, error) {
	p, err := m.get(id)
	if err != nil {
		return "", err
	}
	res, err := p.call(ctx, controlMsg{kind: ctlScreenshot})
	return res.path, err
}

// Status 单个会话状态
func (m *Manager) Status(id string) (*Status, error) {
	p, err := m.get(id)
	if err != nil {
		return nil, err
	}
	st := p.status()
	return &st, nil
}

// List 全部会话状态，按打开时间排序
func (m *Manager) List() []Status {
	out := make([]Status, 0, 8)
	m.pipelines.Range(func(_ string, p *Pipeline) bool {
		out = append(out, p.status())
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out
}

// Shutdown 关闭全部会话并等待退出
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.cancel()
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		m.log.InfoContext(ctx, "all pipelines stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pipeline) status() Status {
	return Status{
		Info:               p.session.Info(),
		State:              p.State(),
		Detection:          p.detecting.Load(),
		Confidence:         p.Confidence(),
		Recording:          p.deps.Ledger.IsActive(p.handle),
		RecordingScheduled: p.deps.Ledger.IsScheduled(p.handle),
		Subscribers:        p.sinks.len(),
		FramesProcessed:    p.frames.Load(),
		FramesDropped:      p.dropped.Load(),
	}
}
