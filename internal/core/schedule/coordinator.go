package schedule

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gowvp/thermalstream/internal/core/notify"
	"github.com/gowvp/thermalstream/internal/metrics"
	"github.com/jonboulle/clockwork"
)

// DefaultTickInterval 触发表的检查周期
const DefaultTickInterval = 15 * time.Second

// trigger 一个已装载计划的开始/结束触发点
type trigger struct {
	scheduleID int64
	cameraID   int64
	userID     int64
	win        window
	nextStart  time.Time
	nextStop   time.Time
}

// transition 某个摄像头的期望录制状态发生变化
type transition struct {
	cameraID   int64
	userID     int64
	scheduleID int64
	open       bool
}

// Coordinator 计划触发表，由注入的时钟驱动
// open 记录每个摄像头当前处于窗口内的计划 id，非空即期望录制
type Coordinator struct {
	core Core
	// clock 与 core 的时钟相互独立，测试时分别注入
	clock clockwork.Clock
	loc   *time.Location
	tick  time.Duration
	pub   notify.Publisher
	log   *slog.Logger

	mu       sync.Mutex
	triggers map[int64]*trigger
	open     map[int64]map[int64]struct{}
}

type CoordinatorOption func(*Coordinator)

func WithCoordinatorClock(clock clockwork.Clock) CoordinatorOption {
	return func(c *Coordinator) { c.clock = clock }
}

// WithLocation 计划中的时分按该时区解释
func WithLocation(loc *time.Location) CoordinatorOption {
	return func(c *Coordinator) {
		if loc != nil {
			c.loc = loc
		}
	}
}

func WithTickInterval(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		if d > 0 {
			c.tick = d
		}
	}
}

// WithPublisher 窗口开关时发送 schedule_window 通知
func WithPublisher(pub notify.Publisher) CoordinatorOption {
	return func(c *Coordinator) { c.pub = pub }
}

func NewCoordinator(core Core, opts ...CoordinatorOption) *Coordinator {
	c := Coordinator{
		core:     core,
		clock:    clockwork.NewRealClock(),
		loc:      time.Local,
		tick:     DefaultTickInterval,
		log:      slog.With("component", "schedule"),
		triggers: make(map[int64]*trigger),
		open:     make(map[int64]map[int64]struct{}),
	}
	for _, opt := range opts {
		opt(&c)
	}
	return &c
}

// Add 装载计划的触发点，已装载时按最新数据重新装载
// 计划不存在、已停用或时段非法时只记录日志，返回 false
func (c *Coordinator) Add(ctx context.Context, id int64) bool {
	s, err := c.core.GetSchedule(ctx, id)
	if err != nil {
		c.log.WarnContext(ctx, "arm schedule", "schedule_id", id, "err", err)
		c.Remove(id)
		return false
	}
	if !s.Enabled {
		c.log.InfoContext(ctx, "schedule disabled, not armed", "schedule_id", id)
		c.Remove(id)
		return false
	}
	win, err := parseWindow(s)
	if err != nil {
		c.log.WarnContext(ctx, "arm schedule", "schedule_id", id, "err", err)
		c.Remove(id)
		return false
	}

	now := c.clock.Now().In(c.loc)
	// 从当前分钟开始算，当前分钟的触发点在下一次 Fire 时生效
	base := now.Truncate(time.Minute).Add(-time.Nanosecond)
	t := &trigger{
		scheduleID: s.ID,
		cameraID:   s.CameraID,
		userID:     s.UserID,
		win:        win,
		nextStart:  win.next(base, win.start),
		nextStop:   win.next(base, win.end),
	}

	var changes []transition
	c.mu.Lock()
	changes = append(changes, c.removeLocked(id)...)
	c.triggers[id] = t
	// 重启或修改后窗口已经开始，立即视为打开
	if win.contains(now) {
		changes = append(changes, c.setLocked(t, true)...)
	}
	c.mu.Unlock()

	c.publish(changes)
	c.log.InfoContext(ctx, "schedule armed", "schedule_id", id, "camera_id", s.CameraID,
		"next_start", t.nextStart, "next_stop", t.nextStop)
	return true
}

// Remove 卸载计划的触发点，未装载时不做任何事
func (c *Coordinator) Remove(id int64) {
	c.mu.Lock()
	changes := c.removeLocked(id)
	c.mu.Unlock()
	c.publish(changes)
}

// ReloadAll 清空触发表后按存储中的启用计划重新装载，返回装载成功的数量
func (c *Coordinator) ReloadAll(ctx context.Context) int {
	items, err := c.core.FindEnabled(ctx, 0)
	if err != nil {
		c.log.ErrorContext(ctx, "reload schedules", "err", err)
		return 0
	}

	c.mu.Lock()
	var changes []transition
	for id := range c.triggers {
		changes = append(changes, c.removeLocked(id)...)
	}
	c.mu.Unlock()
	c.publish(changes)

	var n int
	for _, s := range items {
		if c.Add(ctx, s.ID) {
			n++
		}
	}
	c.log.InfoContext(ctx, "schedules reloaded", "armed", n, "enabled", len(items))
	return n
}

// IsRecordingDesired 触发表认为该摄像头处于录制窗口内
// 只在触发点到达时更新，调用方需要周期性轮询
func (c *Coordinator) IsRecordingDesired(cameraID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.open[cameraID]) > 0
}

// Armed 已装载的计划数
func (c *Coordinator) Armed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.triggers)
}

// ActiveScheduleFor 按 id 顺序返回 now 所在窗口的第一个启用计划，没有时返回 nil
// 时间截断到分钟，窗口两端都包含，重叠窗口取第一个
func (c *Coordinator) ActiveScheduleFor(ctx context.Context, cameraID int64, now time.Time) (*Schedule, error) {
	items, err := c.core.FindEnabled(ctx, cameraID)
	if err != nil {
		return nil, err
	}
	now = now.In(c.loc)
	for _, s := range items {
		win, err := parseWindow(s)
		if err != nil {
			continue
		}
		if win.contains(now) {
			return s, nil
		}
	}
	return nil, nil
}

// Run 周期性触发到期的开始/结束点，直到 ctx 结束
func (c *Coordinator) Run(ctx context.Context) {
	ticker := c.clock.NewTicker(c.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			c.Fire(c.clock.Now())
		}
	}
}

// Fire 处理 now 之前到期的所有触发点，错过的按时间先后补齐
func (c *Coordinator) Fire(now time.Time) {
	now = now.In(c.loc)
	var changes []transition

	c.mu.Lock()
	for _, t := range c.triggers {
		for {
			startDue := !t.nextStart.After(now)
			stopDue := !t.nextStop.After(now)
			if !startDue && !stopDue {
				break
			}
			// 同一时刻先开后关
			if startDue && (!stopDue || !t.nextStart.After(t.nextStop)) {
				changes = append(changes, c.setLocked(t, true)...)
				t.nextStart = t.win.next(t.nextStart, t.win.start)
				continue
			}
			changes = append(changes, c.setLocked(t, false)...)
			t.nextStop = t.win.next(t.nextStop, t.win.end)
		}
	}
	c.mu.Unlock()

	c.publish(changes)
}

// setLocked 打开或关闭计划的窗口，摄像头期望状态变化时返回 transition
func (c *Coordinator) setLocked(t *trigger, open bool) []transition {
	set := c.open[t.cameraID]
	before := len(set) > 0
	if open {
		if set == nil {
			set = make(map[int64]struct{})
			c.open[t.cameraID] = set
		}
		set[t.scheduleID] = struct{}{}
	} else {
		delete(set, t.scheduleID)
		if len(set) == 0 {
			delete(c.open, t.cameraID)
		}
	}
	metrics.ScheduleWindowsOpen.Set(float64(len(c.open)))

	if after := len(c.open[t.cameraID]) > 0; after != before {
		return []transition{{cameraID: t.cameraID, userID: t.userID, scheduleID: t.scheduleID, open: after}}
	}
	return nil
}

func (c *Coordinator) removeLocked(id int64) []transition {
	t, ok := c.triggers[id]
	if !ok {
		return nil
	}
	delete(c.triggers, id)
	return c.setLocked(t, false)
}

func (c *Coordinator) publish(changes []transition) {
	for _, ch := range changes {
		c.log.Info("schedule window changed", "camera_id", ch.cameraID, "schedule_id", ch.scheduleID, "open", ch.open)
		if c.pub == nil {
			continue
		}
		c.pub.Publish(notify.Event{
			Type:   notify.TypeScheduleWindow,
			UserID: ch.userID,
			Data: map[string]any{
				"camera_id":   ch.cameraID,
				"schedule_id": ch.scheduleID,
				"open":        ch.open,
			},
			Timestamp: c.clock.Now(),
		})
	}
}
