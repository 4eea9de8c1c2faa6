package wssink

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/gowvp/thermalstream/internal/core/detect"
	"github.com/gowvp/thermalstream/internal/core/notify"
	"github.com/gowvp/thermalstream/internal/core/pipeline"
	"github.com/stretchr/testify/require"
)

// testServer 每个连接创建一个 Sink 并交给 onSink
func testServer(t *testing.T, onSink func(*Sink)) *ws.Conn {
	t.Helper()
	upgrader := ws.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s := New(conn, 4)
		go s.ReadLoop()
		onSink(s)
	}))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := ws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestSendFrame(t *testing.T) {
	sinks := make(chan *Sink, 1)
	conn := testServer(t, func(s *Sink) { sinks <- s })
	s := <-sinks

	pkt := pipeline.Packet{
		SessionID:  "abc",
		Frame:      []byte{0xff, 0xd8, 0xff},
		Detections: []detect.Detection{{ClassID: 2, ClassName: "car", Confidence: 0.7}},
		Recording:  true,
		FrameCount: 9,
	}
	require.NoError(t, s.Send(context.Background(), &pkt))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, b, err := conn.ReadMessage()
	require.NoError(t, err)

	var got struct {
		SessionID  string             `json:"session_id"`
		Frame      []byte             `json:"frame"`
		Detections []detect.Detection `json:"detections"`
		Recording  bool               `json:"recording"`
		FrameCount uint64             `json:"frame_count"`
	}
	require.NoError(t, json.Unmarshal(b, &got))
	require.Equal(t, "abc", got.SessionID)
	require.Equal(t, pkt.Frame, got.Frame)
	require.Len(t, got.Detections, 1)
	require.True(t, got.Recording)
	require.EqualValues(t, 9, got.FrameCount)
}

func TestSendAfterClientLeaves(t *testing.T) {
	sinks := make(chan *Sink, 1)
	conn := testServer(t, func(s *Sink) { sinks <- s })
	s := <-sinks

	require.NoError(t, conn.Close())
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("sink not closed after client disconnect")
	}
	require.ErrorIs(t, s.Send(context.Background(), &pipeline.Packet{}), ErrClosed)
}

func TestForwardNotifications(t *testing.T) {
	events := make(chan notify.Event, 2)
	conn := testServer(t, func(s *Sink) {
		go ForwardNotifications(context.Background(), s, events)
	})

	events <- notify.Event{Type: notify.TypeRecordingStarted, UserID: 3, Data: map[string]any{"session_id": "x"}}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, b, err := conn.ReadMessage()
	require.NoError(t, err)

	var ev notify.Event
	require.NoError(t, json.Unmarshal(b, &ev))
	require.Equal(t, notify.TypeRecordingStarted, ev.Type)
	require.EqualValues(t, 3, ev.UserID)
	require.Equal(t, "x", ev.Data["session_id"])
}
