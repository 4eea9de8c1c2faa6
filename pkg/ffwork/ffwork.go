package ffwork

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ixugo/goddd/pkg/queue"
)

// BytesPerPixel rgba 每像素字节数
const BytesPerPixel = 4

var ErrStopped = errors.New("frame capture stopped")

type (
	Config struct {
		Width, Height int
		FPS           int
		// Input ffmpeg -i 参数，网络地址或设备路径
		Input string
		// Format 输入格式，如 v4l2、dshow，网络流留空
		Format       string
		Transport    string
		UseWallClock bool
		HWAccel      string
		Name         string
	}
	FrameData struct {
		FrameNum  uint64
		Timestamp time.Time
		Data      []byte // rgba，长度为 Width*Height*4
	}
	// FrameCapture 由 ffmpeg 解码并输出 rgba 原始帧
	FrameCapture struct {
		config                Config
		frameSize             int
		frameCh               chan *FrameData
		errCh                 chan error
		ctx                   context.Context
		cancel                context.CancelFunc
		m                     sync.Mutex
		started               bool
		cmd                   *exec.Cmd
		lastFrame             time.Time
		wg                    sync.WaitGroup
		ffmpegLog             *queue.CirQueue[string]
		frameCount, skipCount uint64
	}
	Stats struct {
		Name                  string
		FrameCount, SkipCount uint64
		LastFrame             time.Time
		FrameSize             int
		IsRunning             bool
	}
)

func NewFrameCapture(cfg Config) (*FrameCapture, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("invalid resolution: %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.FPS <= 0 {
		return nil, fmt.Errorf("invalid fps: %d", cfg.FPS)
	}
	if cfg.Input == "" {
		return nil, fmt.Errorf("input is required")
	}
	if cfg.Transport == "" {
		cfg.Transport = "tcp"
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &FrameCapture{
		config:    cfg,
		frameSize: cfg.Width * cfg.Height * BytesPerPixel,
		frameCh:   make(chan *FrameData, 10),
		errCh:     make(chan error, 1),
		ctx:       ctx,
		cancel:    cancel,
		ffmpegLog: queue.NewCirQueue[string](100),
	}, nil
}

func (fc *FrameCapture) FrameSize() int {
	return fc.frameSize
}

func (fc *FrameCapture) buildFFmpegArgs() []string {
	args := []string{
		"-hide_banner",
		"-loglevel", "warning",
		"-threads", "2",
	}
	switch {
	case fc.config.Format != "":
		args = append(args, "-f", fc.config.Format)
	case strings.HasPrefix(strings.ToLower(fc.config.Input), "rtsp"):
		args = append(args,
			"-rtsp_transport", fc.config.Transport,
			"-timeout", "10000000",
		)
	default:
		args = append(args, "-user_agent", "FFmpeg thermalstream")
	}
	args = append(args, "-avoid_negative_ts", "make_zero", "-fflags", "+genpts+discardcorrupt")
	if fc.config.UseWallClock {
		args = append(args, "-use_wallclock_as_timestamps", "1")
	}
	if fc.config.HWAccel != "" {
		args = append(args, "-hwaccel", fc.config.HWAccel)
	}
	args = append(args, "-i", fc.config.Input)

	args = append(args,
		"-an",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-r", strconv.Itoa(fc.config.FPS),
		"-vf", fmt.Sprintf("fps=%d,scale=%d:%d", fc.config.FPS, fc.config.Width, fc.config.Height),
		"pipe:1",
	)
	return args
}

func (fc *FrameCapture) Start() error {
	fc.m.Lock()
	defer fc.m.Unlock()
	if fc.started {
		return fmt.Errorf("frame capture already started")
	}

	fc.cmd = exec.CommandContext(fc.ctx, "ffmpeg", fc.buildFFmpegArgs()...)
	stdout, err := fc.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	stderr, err := fc.cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to get stderr pipe: %w", err)
	}
	if err := fc.cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}
	fc.started = true
	fc.lastFrame = time.Now()

	fc.wg.Go(func() { fc.captureLoop(stdout) })
	fc.wg.Go(func() { fc.readStderr(stderr) })
	return nil
}

// captureLoop 按固定帧长读取 ffmpeg stdout，消费不过来时丢帧
func (fc *FrameCapture) captureLoop(stdout io.Reader) {
	defer close(fc.frameCh)

	reader := bufio.NewReaderSize(stdout, fc.frameSize*2)
	for {
		select {
		case <-fc.ctx.Done():
			return
		default:
		}

		frameBytes := make([]byte, fc.frameSize)
		if _, err := io.ReadFull(reader, frameBytes); err != nil {
			select {
			case fc.errCh <- fmt.Errorf("ffmpeg stream ended: %w", err):
			default:
			}
			return
		}

		frameNum := atomic.AddUint64(&fc.frameCount, 1)
		now := time.Now()
		fc.m.Lock()
		fc.lastFrame = now
		fc.m.Unlock()

		if !fc.push(&FrameData{FrameNum: frameNum, Timestamp: now, Data: frameBytes}) {
			return
		}
	}
}

// push 缓冲区满时丢弃最旧的一帧，保证读到的总是最近画面
func (fc *FrameCapture) push(frame *FrameData) bool {
	for {
		select {
		case fc.frameCh <- frame:
			return true
		case <-fc.ctx.Done():
			return false
		default:
		}
		select {
		case <-fc.frameCh:
			atomic.AddUint64(&fc.skipCount, 1)
		default:
		}
	}
}

// readStderr 保留最近的 ffmpeg 日志，出错时用于排查
func (fc *FrameCapture) readStderr(stderr io.Reader) {
	scan := bufio.NewScanner(stderr)
	for scan.Scan() {
		fc.ffmpegLog.Push(scan.Text())
	}
}

func (fc *FrameCapture) Log() []string {
	return fc.ffmpegLog.Range()
}

// ReadFrame 读取最近的一帧，积压的旧帧直接跳过
// ctx 到期或 ffmpeg 退出时返回错误
func (fc *FrameCapture) ReadFrame(ctx context.Context) (*FrameData, error) {
	select {
	case frame, ok := <-fc.frameCh:
		if !ok {
			select {
			case err := <-fc.errCh:
				return nil, err
			default:
				return nil, ErrStopped
			}
		}
		return fc.latest(frame), nil
	case <-fc.ctx.Done():
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Latest 非阻塞地取最近一帧，缓冲区为空时返回 nil
func (fc *FrameCapture) Latest() *FrameData {
	select {
	case frame, ok := <-fc.frameCh:
		if !ok {
			return nil
		}
		return fc.latest(frame)
	default:
		return nil
	}
}

func (fc *FrameCapture) latest(frame *FrameData) *FrameData {
	for {
		select {
		case next, ok := <-fc.frameCh:
			if !ok {
				return frame
			}
			atomic.AddUint64(&fc.skipCount, 1)
			frame = next
		default:
			return frame
		}
	}
}

func (fc *FrameCapture) Stop() error {
	fc.m.Lock()
	if !fc.started {
		fc.m.Unlock()
		fc.cancel()
		return nil
	}
	fc.started = false
	fc.m.Unlock()

	fc.cancel()
	fc.wg.Wait()
	err := waitOrKill(fc.cmd, 5*time.Second)
	// 被 cancel 杀掉的退出码不算错误
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

func (fc *FrameCapture) GetStats() Stats {
	fc.m.Lock()
	defer fc.m.Unlock()
	return Stats{
		Name:       fc.config.Name,
		FrameCount: atomic.LoadUint64(&fc.frameCount),
		SkipCount:  atomic.LoadUint64(&fc.skipCount),
		LastFrame:  fc.lastFrame,
		FrameSize:  fc.frameSize,
		IsRunning:  fc.started,
	}
}

// waitOrKill 等待进程退出，超时强杀
func waitOrKill(cmd *exec.Cmd, timeout time.Duration) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-time.After(timeout):
		if err := cmd.Process.Kill(); err != nil {
			return fmt.Errorf("failed to kill ffmpeg: %w", err)
		}
		<-done
		return nil
	case err := <-done:
		return err
	}
}
