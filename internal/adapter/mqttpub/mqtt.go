package mqttpub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gowvp/thermalstream/internal/conf"
	"github.com/gowvp/thermalstream/internal/core/notify"
)

var _ notify.Forwarder = (*Forwarder)(nil)

// publisher mqtt.Client 中用到的部分
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload any) mqtt.Token
}

// Forwarder 将通知转发到 MQTT
// Topic 支持 {type} 与 {user_id} 占位符，不含占位符时追加 /{type}
type Forwarder struct {
	client publisher
	topic  string
}

// NewForwarder Broker 为空时返回 nil
func NewForwarder(cfg conf.MQTT) (*Forwarder, func(), error) {
	if cfg.Broker == "" {
		return nil, func() {}, nil
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		slog.Info("mqtt connected", "broker", cfg.Broker)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		slog.Warn("mqtt connection lost", "broker", cfg.Broker, "err", err)
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, nil, fmt.Errorf("connect mqtt %s: timeout", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, nil, fmt.Errorf("connect mqtt %s: %w", cfg.Broker, err)
	}
	return newForwarder(client, cfg.Topic), func() { client.Disconnect(250) }, nil
}

func newForwarder(client publisher, topic string) *Forwarder {
	if topic == "" {
		topic = "thermalstream/notifications"
	}
	return &Forwarder{client: client, topic: topic}
}

// Forward implements notify.Forwarder.
func (f *Forwarder) Forward(ctx context.Context, ev notify.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	token := f.client.Publish(f.topicOf(ev), 1, false, payload)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *Forwarder) topicOf(ev notify.Event) string {
	if !strings.Contains(f.topic, "{") {
		return f.topic + "/" + ev.Type
	}
	return strings.NewReplacer(
		"{type}", ev.Type,
		"{user_id}", strconv.FormatInt(ev.UserID, 10),
	).Replace(f.topic)
}
