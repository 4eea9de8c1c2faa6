package pipeline

import (
	"time"

	"github.com/gowvp/thermalstream/internal/conf"
)

// Config 会话循环参数
type Config struct {
	DetectEvery    int           // 每 N 帧推理一次
	ReconcileEvery int           // 每 N 次循环对齐一次计划录像
	DetectTimeout  time.Duration // 单次推理超时
	SendTimeout    time.Duration // 单个订阅者的发送超时
	NoFrameBackoff time.Duration
	StopTimeout    time.Duration // Disconnect 等待会话退出的上限
	ControlBuffer  int
	Confidence     float64 // 开启检测时的默认置信度
	ScreenshotDir  string
	JPEGQuality    int
}

// NewConfig 由配置文件生成
func NewConfig(p conf.Pipeline, d conf.Detect) Config {
	return Config{
		DetectEvery:    p.DetectEvery,
		ReconcileEvery: p.ReconcileEvery,
		DetectTimeout:  d.Timeout.Duration(),
		SendTimeout:    p.SendTimeout.Duration(),
		NoFrameBackoff: p.NoFrameBackoff.Duration(),
		StopTimeout:    p.StopTimeout.Duration(),
		ControlBuffer:  p.ControlBuffer,
		Confidence:     d.Confidence,
		ScreenshotDir:  p.ScreenshotDir,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.DetectEvery <= 0 {
		c.DetectEvery = 2
	}
	if c.ReconcileEvery <= 0 {
		c.ReconcileEvery = 30
	}
	if c.DetectTimeout <= 0 {
		c.DetectTimeout = 2 * time.Second
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = time.Second
	}
	if c.NoFrameBackoff <= 0 {
		c.NoFrameBackoff = 100 * time.Millisecond
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = 10 * time.Second
	}
	if c.ControlBuffer <= 0 {
		c.ControlBuffer = 8
	}
	if c.Confidence <= 0 || c.Confidence > 1 {
		c.Confidence = 0.5
	}
	if c.ScreenshotDir == "" {
		c.ScreenshotDir = "screenshots"
	}
	if c.JPEGQuality <= 0 || c.JPEGQuality > 100 {
		c.JPEGQuality = 80
	}
	return c
}
