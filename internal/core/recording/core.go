package recording

import (
	"path/filepath"

	"github.com/gowvp/thermalstream/internal/conf"
	"github.com/ixugo/goddd/pkg/system"
	"github.com/jonboulle/clockwork"
	"github.com/shirou/gopsutil/v4/disk"
)

// Storer data persistence
type Storer interface {
	Recording() RecordingStorer
}

// Core 录像元数据与文件保留策略
type Core struct {
	store Storer
	conf  *conf.Recording
	clock clockwork.Clock
}

type Option func(*Core)

// WithConfig 注入录制配置
func WithConfig(conf *conf.Recording) Option {
	return func(c *Core) {
		c.conf = conf
	}
}

// WithClock 注入时钟，清理任务按它计算过期时间
func WithClock(clock clockwork.Clock) Option {
	return func(c *Core) {
		c.clock = clock
	}
}

// NewCore create business domain
func NewCore(store Storer, opts ...Option) Core {
	c := Core{store: store, clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// IsEnabled 录制总开关，Disabled=false 表示启用
func (c Core) IsEnabled() bool {
	return c.conf != nil && !c.conf.Disabled
}

// StorageDir 录像目录的绝对路径
func (c Core) StorageDir() string {
	dir := "recordings"
	if c.conf != nil && c.conf.StorageDir != "" {
		dir = c.conf.StorageDir
	}
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(system.Getwd(), dir)
}

// GetFullPath 录像记录中的路径可能是相对 StorageDir 的，也可能是绝对路径
func (c Core) GetFullPath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.StorageDir(), path)
}

// DiskUsage 录像目录所在磁盘的使用情况
func (c Core) DiskUsage() (*disk.UsageStat, error) {
	return disk.Usage(c.StorageDir())
}
