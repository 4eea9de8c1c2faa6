package notify

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gowvp/thermalstream/internal/metrics"
	"github.com/jonboulle/clockwork"
)

// 通知类型
const (
	TypeCameraConnected    = "camera_connected"
	TypeCameraDisconnected = "camera_disconnected"
	TypeRecordingStarted   = "recording_started"
	TypeRecordingStopped   = "recording_stopped"
	TypeScreenshotCaptured = "screenshot_captured"
	TypeScheduleWindow     = "schedule_window"
)

// Event 推送给用户的一条通知
type Event struct {
	Type      string         `json:"type"`
	UserID    int64          `json:"user_id"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

// Forwarder 外部投递通道，例如 MQTT
type Forwarder interface {
	Forward(ctx context.Context, ev Event) error
}

// Publisher 业务侧只依赖发布能力
type Publisher interface {
	Publish(ev Event)
}

type subscriber struct {
	userID int64
	ch     chan Event
}

// Hub 通知扇出，发布方只入队不等待，慢订阅者丢消息
type Hub struct {
	clock      clockwork.Clock
	queue      chan Event
	subBuffer  int
	forwarders []Forwarder

	mu   sync.RWMutex
	subs map[*subscriber]struct{}

	dropped atomic.Uint64
}

var _ Publisher = (*Hub)(nil)

// NewHub buffer 为发布队列长度，同时作为每个订阅者的缓冲
func NewHub(buffer int, clock clockwork.Clock, forwarders ...Forwarder) *Hub {
	if buffer <= 0 {
		buffer = 256
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Hub{
		clock:      clock,
		queue:      make(chan Event, buffer),
		subBuffer:  buffer,
		forwarders: forwarders,
		subs:       make(map[*subscriber]struct{}),
	}
}

// Publish 非阻塞入队，时间戳为空时补上
func (h *Hub) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = h.clock.Now()
	}
	select {
	case h.queue <- ev:
	default:
		h.drop()
	}
}

// Subscribe 订阅某个用户的通知，userID 为 0 时接收全部
func (h *Hub) Subscribe(userID int64) (<-chan Event, func()) {
	s := &subscriber{userID: userID, ch: make(chan Event, h.subBuffer)}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, s)
			h.mu.Unlock()
			close(s.ch)
		})
	}
}

// Subscribers 当前订阅数
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Run 分发队列中的通知，直到 ctx 结束
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-h.queue:
			h.dispatch(ctx, ev)
		}
	}
}

func (h *Hub) dispatch(ctx context.Context, ev Event) {
	h.mu.RLock()
	for s := range h.subs {
		if s.userID != 0 && s.userID != ev.UserID {
			continue
		}
		select {
		case s.ch <- ev:
		default:
			h.drop()
		}
	}
	h.mu.RUnlock()

	for _, f := range h.forwarders {
		if err := f.Forward(ctx, ev); err != nil {
			slog.WarnContext(ctx, "forward notification", "type", ev.Type, "err", err)
		}
	}
}

func (h *Hub) drop() {
	h.dropped.Add(1)
	metrics.NotificationsDropped.Inc()
}

// Dropped 因缓冲满丢弃的通知数
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }
