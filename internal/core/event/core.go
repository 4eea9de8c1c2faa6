package event

import (
	"path/filepath"

	"github.com/ixugo/goddd/pkg/system"
	"github.com/jonboulle/clockwork"
)

// Storer data persistence
type Storer interface {
	Event() EventStorer
}

// Core 检测事件业务
type Core struct {
	store   Storer
	cropDir string
	clock   clockwork.Clock
}

// NewCore cropDir 为检测截图目录，相对路径按工作目录解析
func NewCore(store Storer, cropDir string, clock clockwork.Clock) Core {
	if cropDir == "" {
		cropDir = "detections"
	}
	if !filepath.IsAbs(cropDir) {
		cropDir = filepath.Join(system.Getwd(), cropDir)
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return Core{store: store, cropDir: cropDir, clock: clock}
}

// CropDir 检测截图目录
func (c Core) CropDir() string { return c.cropDir }
