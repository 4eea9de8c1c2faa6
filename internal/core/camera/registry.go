package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

var (
	ErrInvalidInput    = errors.New("camera input is empty")
	ErrConnectFailed   = errors.New("camera connect failed")
	ErrSessionExists   = errors.New("camera session already exists")
	ErrSessionNotFound = errors.New("camera session not found")
)

// DefaultFPS 视频源报告不出帧率时使用
const DefaultFPS = 25

// Source 已打开的视频源连接，由会话独占
type Source interface {
	// Read 读取下一帧，ctx 到期返回错误
	Read(ctx context.Context) (*image.RGBA, error)
	// FPS 协商得到的帧率，未知时返回 0
	FPS() float64
	Size() image.Point
	Close() error
}

// Opener 按描述打开视频源
type Opener interface {
	Open(ctx context.Context, d Descriptor) (Source, error)
}

// OpenerFunc 函数适配 Opener
type OpenerFunc func(ctx context.Context, d Descriptor) (Source, error)

func (f OpenerFunc) Open(ctx context.Context, d Descriptor) (Source, error) { return f(ctx, d) }

// Frame 一帧解码后的画面，读取方不得修改 Image
type Frame struct {
	Image *image.RGBA
	Seq   uint64
	At    time.Time
}

// Session 一路摄像头会话
type Session struct {
	ID         string
	CameraID   int64
	UserID     int64
	Input      string
	Descriptor Descriptor
	OpenedAt   time.Time

	source  Source
	fps     float64
	size    image.Point
	running atomic.Bool
	seq     atomic.Uint64

	mu   sync.Mutex
	last *Frame
}

func (s *Session) FPS() float64      { return s.fps }
func (s *Session) Size() image.Point { return s.size }
func (s *Session) Running() bool     { return s.running.Load() }
func (s *Session) Frames() uint64    { return s.seq.Load() }

// LastFrame 最近一次成功读取的帧
func (s *Session) LastFrame() (*Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.last != nil
}

// Info 会话概要，用于列表展示
type Info struct {
	ID         string     `json:"id"`
	CameraID   int64      `json:"camera_id"`
	UserID     int64      `json:"user_id"`
	Input      string     `json:"input"`
	Descriptor Descriptor `json:"descriptor"`
	FPS        float64    `json:"fps"`
	Width      int        `json:"width"`
	Height     int        `json:"height"`
	Frames     uint64     `json:"frames"`
	OpenedAt   time.Time  `json:"opened_at"`
}

func (s *Session) Info() Info {
	return Info{
		ID:         s.ID,
		CameraID:   s.CameraID,
		UserID:     s.UserID,
		Input:      s.Input,
		Descriptor: s.Descriptor,
		FPS:        s.fps,
		Width:      s.size.X,
		Height:     s.size.Y,
		Frames:     s.seq.Load(),
		OpenedAt:   s.OpenedAt,
	}
}

type OpenInput struct {
	ID         string
	CameraID   int64
	UserID     int64
	Input      string
	Descriptor Descriptor
}

type ConnectInput struct {
	ID       string
	CameraID int64
	UserID   int64
	Input    string
}

// Registry 会话注册表，会话以句柄寻址
type Registry struct {
	opener      Opener
	clock       clockwork.Clock
	pullTimeout time.Duration
	defaultFPS  float64
	log         *slog.Logger

	mu    sync.RWMutex
	arena arena
	byID  map[string]Handle
}

type Option func(*Registry)

// WithPullTimeout 单帧读取超时
func WithPullTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.pullTimeout = d
		}
	}
}

// WithDefaultFPS 帧率回退值
func WithDefaultFPS(fps float64) Option {
	return func(r *Registry) {
		if fps > 0 {
			r.defaultFPS = fps
		}
	}
}

func WithClock(c clockwork.Clock) Option {
	return func(r *Registry) { r.clock = c }
}

// NewRegistry 创建会话注册表
func NewRegistry(opener Opener, opts ...Option) *Registry {
	r := Registry{
		opener:      opener,
		clock:       clockwork.NewRealClock(),
		pullTimeout: 2 * time.Second,
		defaultFPS:  DefaultFPS,
		log:         slog.With("component", "camera"),
		byID:        make(map[string]Handle),
	}
	for _, opt := range opts {
		opt(&r)
	}
	return &r
}

// Open 打开单个视频源并注册会话，失败时不留下任何注册信息
func (r *Registry) Open(ctx context.Context, in OpenInput) (Handle, *Session, error) {
	r.mu.RLock()
	_, exists := r.byID[in.ID]
	r.mu.RUnlock()
	if exists {
		return Handle{}, nil, fmt.Errorf("%w: %s", ErrSessionExists, in.ID)
	}

	src, err := r.opener.Open(ctx, in.Descriptor)
	if err != nil {
		return Handle{}, nil, fmt.Errorf("open %s: %w", in.Descriptor, err)
	}

	fps := src.FPS()
	if fps <= 0 {
		fps = r.defaultFPS
	}
	s := &Session{
		ID:         in.ID,
		CameraID:   in.CameraID,
		UserID:     in.UserID,
		Input:      in.Input,
		Descriptor: in.Descriptor,
		OpenedAt:   r.clock.Now(),
		source:     src,
		fps:        fps,
		size:       src.Size(),
	}
	s.running.Store(true)

	r.mu.Lock()
	if _, ok := r.byID[in.ID]; ok {
		r.mu.Unlock()
		_ = src.Close()
		return Handle{}, nil, fmt.Errorf("%w: %s", ErrSessionExists, in.ID)
	}
	h := r.arena.insert(s)
	r.byID[in.ID] = h
	r.mu.Unlock()

	r.log.InfoContext(ctx, "session opened", "session_id", in.ID, "source", in.Descriptor.String(), "fps", fps)
	return h, s, nil
}

// Connect 按优先级依次尝试候选源，第一个成功的生效
func (r *Registry) Connect(ctx context.Context, in ConnectInput) (Handle, *Session, error) {
	candidates := ResolveCandidates(in.Input)
	if len(candidates) == 0 {
		return Handle{}, nil, ErrInvalidInput
	}

	var lastErr error
	for _, d := range candidates {
		if err := ctx.Err(); err != nil {
			return Handle{}, nil, err
		}
		h, s, err := r.Open(ctx, OpenInput{
			ID:         in.ID,
			CameraID:   in.CameraID,
			UserID:     in.UserID,
			Input:      strings.TrimSpace(in.Input),
			Descriptor: d,
		})
		if err == nil {
			return h, s, nil
		}
		if errors.Is(err, ErrSessionExists) {
			return Handle{}, nil, err
		}
		r.log.DebugContext(ctx, "candidate failed", "session_id", in.ID, "source", d.String(), "err", err)
		lastErr = err
	}
	return Handle{}, nil, fmt.Errorf("%w: %s: %w", ErrConnectFailed, in.Input, lastErr)
}

// PullFrame 在超时内读取一帧，读不到返回 false，不视为致命错误
func (r *Registry) PullFrame(ctx context.Context, h Handle) (*Frame, bool) {
	s, ok := r.Get(h)
	if !ok || !s.running.Load() {
		return nil, false
	}

	ctx, cancel := context.WithTimeout(ctx, r.pullTimeout)
	defer cancel()
	img, err := s.source.Read(ctx)
	if err != nil || img == nil {
		if err != nil && ctx.Err() == nil {
			r.log.Debug("read frame", "session_id", s.ID, "err", err)
		}
		return nil, false
	}

	f := &Frame{Image: img, Seq: s.seq.Add(1), At: r.clock.Now()}
	s.mu.Lock()
	s.last = f
	s.mu.Unlock()
	return f, true
}

// Close 注销会话并释放视频源，句柄已失效时什么都不做
func (r *Registry) Close(h Handle) error {
	r.mu.Lock()
	s, ok := r.arena.remove(h)
	if ok && r.byID[s.ID] == h {
		delete(r.byID, s.ID)
	}
	r.mu.Unlock()
	if !ok {
		return nil
	}

	s.running.Store(false)
	if s.source == nil {
		return nil
	}
	if err := s.source.Close(); err != nil {
		r.log.Warn("close source", "session_id", s.ID, "err", err)
		return err
	}
	r.log.Info("session closed", "session_id", s.ID)
	return nil
}

// CloseAll 关闭全部会话，进程退出时使用
func (r *Registry) CloseAll() {
	r.mu.RLock()
	handles := make([]Handle, 0, len(r.byID))
	for _, h := range r.byID {
		handles = append(handles, h)
	}
	r.mu.RUnlock()
	for _, h := range handles {
		_ = r.Close(h)
	}
}

// Lookup 按会话 id 查找句柄
func (r *Registry) Lookup(id string) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.byID[id]
	return h, ok
}

// Get 按句柄取会话，句柄失效返回 false
func (r *Registry) Get(h Handle) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.arena.get(h)
}

// List 所有存活会话
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Info, 0, len(r.byID))
	for _, h := range r.byID {
		if s, ok := r.arena.get(h); ok {
			out = append(out, s.Info())
		}
	}
	return out
}

// Len 存活会话数
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.arena.len()
}
