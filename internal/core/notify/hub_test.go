package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

type recordingForwarder struct {
	mu   sync.Mutex
	seen []Event
	err  error
}

func (p *recordingForwarder) Forward(_ context.Context, ev Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen = append(p.seen, ev)
	return p.err
}

func (p *recordingForwarder) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.seen)
}

func TestHubRoutesByUser(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	pub := &recordingForwarder{err: errors.New("broker down")}
	h := NewHub(8, clock, pub)

	alice, cancelAlice := h.Subscribe(1)
	defer cancelAlice()
	all, cancelAll := h.Subscribe(0)
	defer cancelAll()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	h.Publish(Event{Type: TypeCameraConnected, UserID: 2})
	h.Publish(Event{Type: TypeRecordingStarted, UserID: 1, Data: map[string]any{"camera_id": 3}})

	ev := <-alice
	require.Equal(t, TypeRecordingStarted, ev.Type)
	require.Equal(t, clock.Now(), ev.Timestamp)

	require.Equal(t, TypeCameraConnected, (<-all).Type)
	require.Equal(t, TypeRecordingStarted, (<-all).Type)

	// 外部发布失败不影响订阅者
	require.Eventually(t, func() bool { return pub.count() == 2 }, time.Second, 5*time.Millisecond)
}

func TestHubDropsWhenQueueFull(t *testing.T) {
	h := NewHub(2, nil)
	for range 5 {
		h.Publish(Event{Type: TypeScheduleWindow})
	}
	require.EqualValues(t, 3, h.Dropped())
}

func TestHubUnsubscribe(t *testing.T) {
	h := NewHub(4, nil)
	ch, cancel := h.Subscribe(7)
	require.Equal(t, 1, h.Subscribers())

	cancel()
	cancel()
	require.Zero(t, h.Subscribers())
	_, ok := <-ch
	require.False(t, ok)
}
