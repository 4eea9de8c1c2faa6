package ffsource

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"runtime"
	"strings"
	"time"

	"github.com/gowvp/thermalstream/internal/conf"
	"github.com/gowvp/thermalstream/internal/core/camera"
	"github.com/gowvp/thermalstream/pkg/ffwork"
)

var _ camera.Opener = (*Adapter)(nil)

// ErrNoFirstFrame 视频源打开后首帧超时，视为连接失败
var ErrNoFirstFrame = errors.New("no frame from source")

// Adapter 通过 ffmpeg 打开本地设备与网络流
type Adapter struct {
	cfg conf.Camera
	// probe 可替换，测试时不依赖 ffprobe
	probe func(ctx context.Context, input, format string) (*ffwork.StreamInfo, error)
}

func NewAdapter(cfg conf.Camera) *Adapter {
	return &Adapter{cfg: cfg, probe: ffwork.Probe}
}

// inputOf 设备号转为 ffmpeg 输入与格式
func (a *Adapter) inputOf(d camera.Descriptor) (input, format string) {
	if d.Kind != camera.KindDevice {
		return d.URL, ""
	}
	switch runtime.GOOS {
	case "windows":
		return fmt.Sprintf("video=%d", d.Index), "dshow"
	case "darwin":
		return fmt.Sprintf("%d", d.Index), "avfoundation"
	}
	format = a.cfg.DeviceFmt
	if format == "" {
		format = "v4l2"
	}
	return fmt.Sprintf("/dev/video%d", d.Index), format
}

// Open implements camera.Opener.
func (a *Adapter) Open(ctx context.Context, d camera.Descriptor) (camera.Source, error) {
	input, format := a.inputOf(d)
	timeout := a.cfg.PullTimeout.Duration()
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	pctx, cancel := context.WithTimeout(ctx, timeout*2)
	info, err := a.probe(pctx, input, format)
	cancel()
	if err != nil {
		return nil, err
	}

	w, h := a.cfg.Width, a.cfg.Height
	if w <= 0 || h <= 0 {
		w, h = info.Width, info.Height
	}
	fps := info.FPS
	if fps <= 0 || fps > 120 {
		fps = a.cfg.DefaultFPS
	}
	if fps <= 0 {
		fps = camera.DefaultFPS
	}

	fc, err := ffwork.NewFrameCapture(ffwork.Config{
		Width:        w,
		Height:       h,
		FPS:          int(fps + 0.5),
		Input:        input,
		Format:       format,
		Transport:    a.cfg.Transport,
		UseWallClock: strings.HasPrefix(strings.ToLower(input), "rtsp"),
		HWAccel:      a.cfg.HWAccel,
		Name:         d.String(),
	})
	if err != nil {
		return nil, err
	}
	if err := fc.Start(); err != nil {
		return nil, err
	}

	src := &Source{fc: fc, fps: fps, size: image.Pt(w, h)}
	fctx, cancel := context.WithTimeout(ctx, timeout*2)
	defer cancel()
	first, err := fc.ReadFrame(fctx)
	if err != nil {
		slog.Debug("first frame", "source", d.String(), "err", err, "ffmpeg", fc.Log())
		_ = fc.Stop()
		return nil, fmt.Errorf("%w: %w", ErrNoFirstFrame, err)
	}
	src.pending = first
	return src, nil
}

// Source ffmpeg 解码得到的 rgba 帧
type Source struct {
	fc      *ffwork.FrameCapture
	fps     float64
	size    image.Point
	pending *ffwork.FrameData
}

// Read implements camera.Source.
func (s *Source) Read(ctx context.Context) (*image.RGBA, error) {
	if f := s.pending; f != nil {
		s.pending = nil
		if newer := s.fc.Latest(); newer != nil {
			f = newer
		}
		return toRGBA(f.Data, s.size), nil
	}
	f, err := s.fc.ReadFrame(ctx)
	if err != nil {
		return nil, err
	}
	return toRGBA(f.Data, s.size), nil
}

func (s *Source) FPS() float64      { return s.fps }
func (s *Source) Size() image.Point { return s.size }

func (s *Source) Close() error {
	st := s.fc.GetStats()
	slog.Debug("source stopped", "name", st.Name, "frames", st.FrameCount, "skipped", st.SkipCount)
	return s.fc.Stop()
}

// toRGBA 共享底层数组，不拷贝
func toRGBA(pix []byte, size image.Point) *image.RGBA {
	return &image.RGBA{
		Pix:    pix,
		Stride: size.X * ffwork.BytesPerPixel,
		Rect:   image.Rect(0, 0, size.X, size.Y),
	}
}
