package mqttpub

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gowvp/thermalstream/internal/conf"
	"github.com/gowvp/thermalstream/internal/core/notify"
	"github.com/stretchr/testify/require"
)

type fakeToken struct {
	done chan struct{}
	err  error
}

func (t *fakeToken) Wait() bool                       { <-t.done; return true }
func (t *fakeToken) WaitTimeout(d time.Duration) bool { return t.Wait() }
func (t *fakeToken) Done() <-chan struct{}            { return t.done }
func (t *fakeToken) Error() error                     { return t.err }

type published struct {
	topic   string
	payload []byte
}

type fakeClient struct {
	msgs  []published
	err   error
	block bool
}

func (c *fakeClient) Publish(topic string, _ byte, _ bool, payload any) mqtt.Token {
	c.msgs = append(c.msgs, published{topic: topic, payload: payload.([]byte)})
	t := &fakeToken{done: make(chan struct{}), err: c.err}
	if !c.block {
		close(t.done)
	}
	return t
}

func TestForward(t *testing.T) {
	c := &fakeClient{}
	f := newForwarder(c, "")
	ev := notify.Event{Type: notify.TypeScreenshotCaptured, UserID: 4, Data: map[string]any{"path": "a.jpg"}}
	require.NoError(t, f.Forward(context.Background(), ev))

	require.Len(t, c.msgs, 1)
	require.Equal(t, "thermalstream/notifications/screenshot_captured", c.msgs[0].topic)
	var got notify.Event
	require.NoError(t, json.Unmarshal(c.msgs[0].payload, &got))
	require.Equal(t, "a.jpg", got.Data["path"])
}

func TestTopicPlaceholders(t *testing.T) {
	f := newForwarder(&fakeClient{}, "cams/{user_id}/{type}")
	require.Equal(t, "cams/7/recording_started", f.topicOf(notify.Event{Type: notify.TypeRecordingStarted, UserID: 7}))
}

func TestForwardError(t *testing.T) {
	want := errors.New("not connected")
	f := newForwarder(&fakeClient{err: want}, "t")
	require.ErrorIs(t, f.Forward(context.Background(), notify.Event{Type: "x"}), want)

	f = newForwarder(&fakeClient{block: true}, "t")
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, f.Forward(ctx, notify.Event{Type: "x"}), context.DeadlineExceeded)
}

func TestDisabledWithoutBroker(t *testing.T) {
	f, cleanup, err := NewForwarder(conf.MQTT{})
	require.NoError(t, err)
	require.Nil(t, f)
	cleanup()
}
