package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/gowvp/thermalstream/internal/core/detect"
	"github.com/gowvp/thermalstream/internal/metrics"
)

// Packet 推送给订阅者的一帧
type Packet struct {
	SessionID  string             `json:"session_id"`
	Frame      []byte             `json:"-"` // JPEG
	Detections []detect.Detection `json:"detections"`
	Recording  bool               `json:"recording"`
	FrameCount uint64             `json:"frame_count"`
}

// Sink 帧的接收方，须在 ctx 到期前返回
type Sink interface {
	Send(ctx context.Context, pkt *Packet) error
}

// SinkFunc 函数适配 Sink
type SinkFunc func(ctx context.Context, pkt *Packet) error

func (f SinkFunc) Send(ctx context.Context, pkt *Packet) error { return f(ctx, pkt) }

// sinkSet 一个会话的全部订阅者
type sinkSet struct {
	mu    sync.RWMutex
	next  int
	sinks map[int]Sink
}

func (s *sinkSet) add(sink Sink) func() {
	s.mu.Lock()
	if s.sinks == nil {
		s.sinks = make(map[int]Sink)
	}
	id := s.next
	s.next++
	s.sinks[id] = sink
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.sinks, id)
			s.mu.Unlock()
		})
	}
}

func (s *sinkSet) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sinks)
}

// send 逐个发送，每个订阅者单独计时，超时或出错的帧直接丢弃，返回丢弃数
func (s *sinkSet) send(ctx context.Context, pkt *Packet, timeout time.Duration) int {
	s.mu.RLock()
	sinks := make([]Sink, 0, len(s.sinks))
	for _, sink := range s.sinks {
		sinks = append(sinks, sink)
	}
	s.mu.RUnlock()

	var dropped int
	for _, sink := range sinks {
		sctx, cancel := context.WithTimeout(ctx, timeout)
		err := sink.Send(sctx, pkt)
		cancel()
		if err != nil {
			dropped++
			metrics.SinkDropped.Inc()
		}
	}
	return dropped
}
