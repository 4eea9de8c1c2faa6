package ffwork

import (
	"bufio"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ixugo/goddd/pkg/queue"
)

// EncoderConfig rgba 原始帧编码为文件
type EncoderConfig struct {
	Width, Height int
	FPS           float64
	Output        string
	Codec         string // 默认 libx264
	Preset        string // 默认 veryfast
}

// Encoder 通过 stdin 向 ffmpeg 写入 rgba 原始帧
type Encoder struct {
	config    EncoderConfig
	frameSize int
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	ffmpegLog *queue.CirQueue[string]
	wg        sync.WaitGroup
	m         sync.Mutex
	closed    bool
}

func (e *Encoder) buildFFmpegArgs() []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-y",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", e.config.Width, e.config.Height),
		"-r", strconv.FormatFloat(e.config.FPS, 'f', 3, 64),
		"-i", "pipe:0",
		"-an",
		"-c:v", e.config.Codec,
		"-preset", e.config.Preset,
		"-pix_fmt", "yuv420p",
		"-movflags", "+faststart",
		e.config.Output,
	}
}

// NewEncoder 启动 ffmpeg 编码进程
func NewEncoder(cfg EncoderConfig) (*Encoder, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("invalid resolution: %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.FPS <= 0 {
		return nil, fmt.Errorf("invalid fps: %v", cfg.FPS)
	}
	if cfg.Codec == "" {
		cfg.Codec = "libx264"
	}
	if cfg.Preset == "" {
		cfg.Preset = "veryfast"
	}
	e := Encoder{
		config:    cfg,
		frameSize: cfg.Width * cfg.Height * BytesPerPixel,
		ffmpegLog: queue.NewCirQueue[string](50),
	}
	e.cmd = exec.Command("ffmpeg", e.buildFFmpegArgs()...)
	stdin, err := e.cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stdin pipe: %w", err)
	}
	stderr, err := e.cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stderr pipe: %w", err)
	}
	if err := e.cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}
	e.stdin = stdin
	e.wg.Go(func() {
		scan := bufio.NewScanner(stderr)
		for scan.Scan() {
			e.ffmpegLog.Push(scan.Text())
		}
	})
	return &e, nil
}

// Write 写入一帧 rgba 数据
func (e *Encoder) Write(pix []byte) error {
	if len(pix) != e.frameSize {
		return fmt.Errorf("frame size %d != %d", len(pix), e.frameSize)
	}
	e.m.Lock()
	defer e.m.Unlock()
	if e.closed {
		return fmt.Errorf("encoder closed")
	}
	if _, err := e.stdin.Write(pix); err != nil {
		return fmt.Errorf("write frame: %w %s", err, e.lastLog())
	}
	return nil
}

// Close 关闭输入让 ffmpeg 写完文件尾
func (e *Encoder) Close() error {
	e.m.Lock()
	if e.closed {
		e.m.Unlock()
		return nil
	}
	e.closed = true
	e.m.Unlock()

	_ = e.stdin.Close()
	e.wg.Wait()
	if err := waitOrKill(e.cmd, 10*time.Second); err != nil {
		return fmt.Errorf("ffmpeg exit: %w %s", err, e.lastLog())
	}
	return nil
}

func (e *Encoder) lastLog() string {
	return strings.Join(e.ffmpegLog.Range(), "; ")
}
