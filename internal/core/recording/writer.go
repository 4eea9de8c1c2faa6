package recording

import (
	"bufio"
	"fmt"
	"image"
	"image/jpeg"
	"os"

	"github.com/gowvp/thermalstream/pkg/ffwork"
)

// Format 录像文件格式
type Format string

const (
	FormatMP4   Format = "mp4"
	FormatMJPEG Format = "mjpeg"
)

// Writer 录像写入器，只由所属会话的任务调用
type Writer interface {
	WriteFrame(img *image.RGBA) error
	Close() error
}

// WriterFactory 按路径、帧率、画面尺寸创建写入器
type WriterFactory func(path string, fps float64, size image.Point) (Writer, error)

// FactoryFor 格式对应的默认写入器
func FactoryFor(f Format) (WriterFactory, error) {
	switch f {
	case FormatMP4, "":
		return NewFFmpegWriter, nil
	case FormatMJPEG:
		return NewMJPEGWriter, nil
	default:
		return nil, fmt.Errorf("unsupported recording format %q", f)
	}
}

// MJPEGWriter 逐帧追加 jpeg，ffplay/vlc 可直接播放
type MJPEGWriter struct {
	f    *os.File
	w    *bufio.Writer
	size image.Point
}

func NewMJPEGWriter(path string, _ float64, size image.Point) (Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &MJPEGWriter{f: f, w: bufio.NewWriterSize(f, 256<<10), size: size}, nil
}

func (m *MJPEGWriter) WriteFrame(img *image.RGBA) error {
	return jpeg.Encode(m.w, img, &jpeg.Options{Quality: 80})
}

func (m *MJPEGWriter) Close() error {
	if err := m.w.Flush(); err != nil {
		_ = m.f.Close()
		return err
	}
	return m.f.Close()
}

// FFmpegWriter 通过 ffmpeg 编码为 h264 mp4
type FFmpegWriter struct {
	enc  *ffwork.Encoder
	size image.Point
}

func NewFFmpegWriter(path string, fps float64, size image.Point) (Writer, error) {
	enc, err := ffwork.NewEncoder(ffwork.EncoderConfig{
		Width:  size.X,
		Height: size.Y,
		FPS:    fps,
		Output: path,
	})
	if err != nil {
		return nil, err
	}
	return &FFmpegWriter{enc: enc, size: size}, nil
}

func (w *FFmpegWriter) WriteFrame(img *image.RGBA) error {
	if img.Rect.Size() != w.size {
		return fmt.Errorf("frame size %v != %v", img.Rect.Size(), w.size)
	}
	pix := img.Pix
	if img.Stride != w.size.X*ffwork.BytesPerPixel || img.Rect.Min != (image.Point{}) {
		// 子图或非紧凑布局先整理为连续内存
		packed := image.NewRGBA(image.Rectangle{Max: w.size})
		for y := 0; y < w.size.Y; y++ {
			src := img.PixOffset(img.Rect.Min.X, img.Rect.Min.Y+y)
			copy(packed.Pix[y*packed.Stride:(y+1)*packed.Stride], img.Pix[src:src+packed.Stride])
		}
		pix = packed.Pix
	}
	return w.enc.Write(pix)
}

func (w *FFmpegWriter) Close() error {
	return w.enc.Close()
}
