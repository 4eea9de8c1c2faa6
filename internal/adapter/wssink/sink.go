package wssink

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/gowvp/thermalstream/internal/core/notify"
	"github.com/gowvp/thermalstream/internal/core/pipeline"
)

var ErrClosed = errors.New("websocket closed")

const (
	writeWait  = 5 * time.Second
	pingPeriod = 30 * time.Second
)

var _ pipeline.Sink = (*Sink)(nil)

// frameMessage 帧以 base64 JPEG 下发
type frameMessage struct {
	*pipeline.Packet
	Frame []byte `json:"frame"`
}

// Sink 一个 websocket 连接，发送队列满时由调用方的 ctx 决定丢帧
type Sink struct {
	conn   *websocket.Conn
	sendCh chan []byte
	done   chan struct{}
	once   sync.Once
}

// New 启动写协程，buffer 为发送队列长度
func New(conn *websocket.Conn, buffer int) *Sink {
	if buffer <= 0 {
		buffer = 4
	}
	s := Sink{
		conn:   conn,
		sendCh: make(chan []byte, buffer),
		done:   make(chan struct{}),
	}
	go s.writeLoop()
	return &s
}

func (s *Sink) writeLoop() {
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	defer s.Close()
	for {
		select {
		case msg := <-s.sendCh:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				slog.Debug("websocket write", "remote", s.conn.RemoteAddr().String(), "err", err)
				return
			}
		case <-ping.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}

// Send implements pipeline.Sink.
func (s *Sink) Send(ctx context.Context, pkt *pipeline.Packet) error {
	b, err := json.Marshal(frameMessage{Packet: pkt, Frame: pkt.Frame})
	if err != nil {
		return err
	}
	return s.enqueue(ctx, b)
}

func (s *Sink) enqueue(ctx context.Context, b []byte) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	select {
	case s.sendCh <- b:
		return nil
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReadLoop 读取并丢弃客户端消息，连接断开时关闭 Sink
func (s *Sink) ReadLoop() {
	defer s.Close()
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Done 连接关闭后可读
func (s *Sink) Done() <-chan struct{} { return s.done }

func (s *Sink) Close() {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

// ForwardNotifications 将通知写入 websocket，直到通道关闭、连接断开或 ctx 结束
func ForwardNotifications(ctx context.Context, s *Sink, events <-chan notify.Event) {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			b, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, writeWait)
			err = s.enqueue(wctx, b)
			cancel()
			if errors.Is(err, ErrClosed) {
				return
			}
		case <-s.done:
			return
		case <-ctx.Done():
			return
		}
	}
}
