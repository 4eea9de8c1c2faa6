package recording

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gowvp/thermalstream/internal/core/camera"
	"github.com/jonboulle/clockwork"
)

var (
	ErrAlreadyRecording = errors.New("session is already recording")
	ErrNotRecording     = errors.New("session is not recording")
)

// StartInput 开始录像参数
type StartInput struct {
	FPS       float64
	Size      image.Point
	Label     string // 文件名前缀，一般为摄像头名称
	Scheduled bool   // 由录像计划触发
}

// Stats 录像结束时的统计
type Stats struct {
	FilePath        string    `json:"filepath"`
	FileName        string    `json:"filename"`
	Format          Format    `json:"format"`
	DurationSeconds int       `json:"duration_seconds"`
	FileSizeBytes   int64     `json:"file_size_bytes"`
	FrameCount      int64     `json:"frame_count"`
	StartedAt       time.Time `json:"started_at"`
	EndedAt         time.Time `json:"ended_at"`
	Scheduled       bool      `json:"scheduled"`
}

type activeRecording struct {
	mu        sync.Mutex
	writer    Writer
	path      string
	name      string
	label     string
	scheduled bool
	startedAt time.Time
	frames    int64
	closed    bool
}

// Ledger 每个会话至多一个进行中的录像
type Ledger struct {
	dir     string
	format  Format
	factory WriterFactory
	clock   clockwork.Clock
	log     *slog.Logger

	mu      sync.Mutex
	entries map[camera.Handle]*activeRecording
}

type LedgerOption func(*Ledger)

// WithWriterFactory 替换写入器实现
func WithWriterFactory(f WriterFactory) LedgerOption {
	return func(l *Ledger) { l.factory = f }
}

func WithLedgerClock(c clockwork.Clock) LedgerOption {
	return func(l *Ledger) { l.clock = c }
}

// NewLedger dir 为录像目录，format 决定文件扩展名与默认写入器
func NewLedger(dir string, format Format, opts ...LedgerOption) (*Ledger, error) {
	if format == "" {
		format = FormatMP4
	}
	factory, err := FactoryFor(format)
	if err != nil {
		return nil, err
	}
	l := Ledger{
		dir:     dir,
		format:  format,
		factory: factory,
		clock:   clockwork.NewRealClock(),
		log:     slog.With("component", "recording"),
		entries: make(map[camera.Handle]*activeRecording),
	}
	for _, opt := range opts {
		opt(&l)
	}
	return &l, nil
}

// Start 为会话开始录像，返回文件路径
// 先在锁内占位，再在锁外打开写入器，mp4 需要启动 ffmpeg，不能阻塞其他会话
func (l *Ledger) Start(h camera.Handle, in StartInput) (string, error) {
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return "", fmt.Errorf("create recording dir: %w", err)
	}
	label := sanitizeLabel(in.Label)

	l.mu.Lock()
	if _, ok := l.entries[h]; ok {
		l.mu.Unlock()
		return "", ErrAlreadyRecording
	}
	now := l.clock.Now()
	path := l.uniquePath(label, now)
	e := &activeRecording{
		path:      path,
		name:      filepath.Base(path),
		label:     label,
		scheduled: in.Scheduled,
		startedAt: now,
	}
	// 写入器就绪前，同一会话的 WriteFrame/Stop 在 e.mu 上等待
	e.mu.Lock()
	l.entries[h] = e
	l.mu.Unlock()

	w, err := l.factory(path, in.FPS, in.Size)
	if err != nil {
		e.closed = true
		e.mu.Unlock()
		l.mu.Lock()
		if l.entries[h] == e {
			delete(l.entries, h)
		}
		l.mu.Unlock()
		return "", fmt.Errorf("open writer %s: %w", path, err)
	}
	e.writer = w
	e.mu.Unlock()

	l.log.Info("recording started", "path", path, "scheduled", in.Scheduled, "fps", in.FPS)
	return path, nil
}

// uniquePath 文件名为 <label>_<YYYYmmdd_HHMMSS>.<ext>，同一秒重名时追加序号，调用方持 l.mu
func (l *Ledger) uniquePath(label string, now time.Time) string {
	base := fmt.Sprintf("%s_%s", label, now.Format("20060102_150405"))
	ext := "." + string(l.format)
	path := filepath.Join(l.dir, base+ext)
	for i := 1; l.pathTaken(path); i++ {
		path = filepath.Join(l.dir, fmt.Sprintf("%s_%d%s", base, i, ext))
	}
	return path
}

func (l *Ledger) pathTaken(path string) bool {
	for _, e := range l.entries {
		if e.path == path {
			return true
		}
	}
	_, err := os.Stat(path)
	return err == nil
}

// WriteFrame 写入一帧，未在录像或写入失败返回 false
func (l *Ledger) WriteFrame(h camera.Handle, img *image.RGBA) bool {
	l.mu.Lock()
	e, ok := l.entries[h]
	l.mu.Unlock()
	if !ok {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	if err := e.writer.WriteFrame(img); err != nil {
		l.log.Warn("write frame", "path", e.path, "err", err)
		return false
	}
	e.frames++
	return true
}

// Stop 结束录像并释放写入器，没有进行中的录像返回 false
func (l *Ledger) Stop(h camera.Handle) (*Stats, bool) {
	l.mu.Lock()
	e, ok := l.entries[h]
	delete(l.entries, h)
	l.mu.Unlock()
	if !ok {
		return nil, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.writer == nil {
		// 写入器打开失败，Start 已返回错误
		return nil, false
	}
	e.closed = true
	if err := e.writer.Close(); err != nil {
		l.log.Warn("close writer", "path", e.path, "err", err)
	}

	ended := l.clock.Now()
	var size int64
	if fi, err := os.Stat(e.path); err == nil {
		size = fi.Size()
	}
	stats := Stats{
		FilePath:        e.path,
		FileName:        e.name,
		Format:          l.format,
		DurationSeconds: int(ended.Sub(e.startedAt).Seconds()),
		FileSizeBytes:   size,
		FrameCount:      e.frames,
		StartedAt:       e.startedAt,
		EndedAt:         ended,
		Scheduled:       e.scheduled,
	}
	l.log.Info("recording stopped", "path", e.path, "frames", e.frames, "duration", stats.DurationSeconds, "size", size)
	return &stats, true
}

// IsActive 会话是否在录像
func (l *Ledger) IsActive(h camera.Handle) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.entries[h]
	return ok
}

// IsScheduled 进行中的录像是否由计划触发
func (l *Ledger) IsScheduled(h camera.Handle) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[h]
	return ok && e.scheduled
}

// Count 进行中的录像数
func (l *Ledger) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Format 录像文件格式
func (l *Ledger) Format() Format { return l.format }

func sanitizeLabel(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "camera"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', ' ':
			return '_'
		}
		return r
	}, s)
}
