// Package camtest 测试用的内存视频源
package camtest

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"sync/atomic"

	"github.com/gowvp/thermalstream/internal/core/camera"
)

var ErrClosed = errors.New("source closed")

// Source 由测试推送帧的视频源
type Source struct {
	Frames chan *image.RGBA
	fps    float64
	size   image.Point
	closed atomic.Bool
	once   sync.Once
	done   chan struct{}
	gate   atomic.Pointer[chan struct{}]
}

// NewSource fps 为 0 时模拟报告不出帧率的设备
func NewSource(w, h int, fps float64) *Source {
	return &Source{
		Frames: make(chan *image.RGBA, 64),
		fps:    fps,
		size:   image.Pt(w, h),
		done:   make(chan struct{}),
	}
}

func (s *Source) Read(ctx context.Context) (*image.RGBA, error) {
	if gate := s.gate.Load(); gate != nil {
		<-*gate
	}
	select {
	case img := <-s.Frames:
		return img, nil
	case <-s.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Source) FPS() float64      { return s.fps }
func (s *Source) Size() image.Point { return s.size }

func (s *Source) Close() error {
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.done)
	})
	return nil
}

// Stall 让之后的 Read 卡住且不理会 ctx，模拟失去响应的设备，直到 Resume
func (s *Source) Stall() {
	gate := make(chan struct{})
	s.gate.Store(&gate)
}

func (s *Source) Resume() {
	if gate := s.gate.Swap(nil); gate != nil {
		close(*gate)
	}
}

// Closed 是否已被释放
func (s *Source) Closed() bool { return s.closed.Load() }

// Push 推送 n 帧纯色画面
func (s *Source) Push(n int) {
	for range n {
		s.Frames <- Solid(s.size.X, s.size.Y, color.RGBA{R: 40, G: 40, B: 40, A: 255})
	}
}

// Solid 生成纯色帧
func Solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

// Opener 记录每次打开请求，按 URL 或设备号决定成败
type Opener struct {
	mu      sync.Mutex
	Accept  func(camera.Descriptor) bool
	Tried   []camera.Descriptor
	Opened  []*Source
	Width   int
	Height  int
	FPSRate float64
	// Preload 打开时预先放入的帧数
	Preload int
}

func (o *Opener) Open(_ context.Context, d camera.Descriptor) (camera.Source, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Tried = append(o.Tried, d)
	if o.Accept != nil && !o.Accept(d) {
		return nil, errors.New("unreachable")
	}
	w, h := o.Width, o.Height
	if w == 0 || h == 0 {
		w, h = 64, 48
	}
	src := NewSource(w, h, o.FPSRate)
	src.Push(o.Preload)
	o.Opened = append(o.Opened, src)
	return src, nil
}

// Last 最近一次打开的视频源
func (o *Opener) Last() *Source {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.Opened) == 0 {
		return nil
	}
	return o.Opened[len(o.Opened)-1]
}

// Attempts 已尝试的候选
func (o *Opener) Attempts() []camera.Descriptor {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]camera.Descriptor(nil), o.Tried...)
}
