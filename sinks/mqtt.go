package sinks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/Uranury/hommie-node/report"
)

type MQTTConfig struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         byte
	Retained    bool
	Timeout     time.Duration
}

// MQTT publishes every payload as JSON on <prefix><path>.
type MQTT struct {
	client   mqtt.Client
	prefix   string
	qos      byte
	retained bool
}

func NewMQTT(cfg MQTTConfig) (*MQTT, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	if cfg.Timeout > 0 {
		opts.SetConnectTimeout(cfg.Timeout)
	}

	c := mqtt.NewClient(opts)
	token := c.Connect()
	if cfg.Timeout > 0 && !token.WaitTimeout(cfg.Timeout) {
		return nil, fmt.Errorf("mqtt connect to %s: timed out", cfg.Broker)
	}
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", cfg.Broker, err)
	}

	return newMQTT(c, cfg), nil
}

func newMQTT(c mqtt.Client, cfg MQTTConfig) *MQTT {
	return &MQTT{
		client:   c,
		prefix:   strings.TrimSuffix(cfg.TopicPrefix, "/"),
		qos:      cfg.QoS,
		retained: cfg.Retained,
	}
}

func (m *MQTT) Name() string {
	return "mqtt"
}

// Topic maps a database path onto the broker topic tree.
func (m *MQTT) Topic(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if m.prefix == "" {
		return strings.TrimPrefix(path, "/")
	}
	return m.prefix + path
}

func (m *MQTT) Write(ctx context.Context, path string, p report.Payload) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	token := m.client.Publish(m.Topic(path), m.qos, m.retained, payload)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return errors.Join(errors.New("mqtt publish not acknowledged"), ctx.Err())
	}
}

func (m *MQTT) Close() {
	m.client.Disconnect(250)
}
