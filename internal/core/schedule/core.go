package schedule

import (
	"github.com/jonboulle/clockwork"
)

// Storer data persistence
type Storer interface {
	Schedule() ScheduleStorer
}

// Core 录制计划业务
type Core struct {
	store Storer
	clock clockwork.Clock
}

// NewCore create business domain
func NewCore(store Storer, clock clockwork.Clock) Core {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return Core{store: store, clock: clock}
}
