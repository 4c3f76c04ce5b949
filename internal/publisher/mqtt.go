package publisher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// ErrPublishTimeout is returned when the broker does not acknowledge in time.
var ErrPublishTimeout = errors.New("mqtt publish timed out")

// MQTTPublisher wraps a Paho MQTT client.
type MQTTPublisher struct {
	client      mqtt.Client
	qos         byte
	statusTopic string
	logger      *slog.Logger
}

// MQTTOptions configures the MQTT publisher.
type MQTTOptions struct {
	Broker   string
	ClientID string
	QoS      byte
	// StatusTopic, when set, carries a retained "online" message while
	// connected and "offline" as the will.
	StatusTopic    string
	ConnectTimeout time.Duration
	Logger         *slog.Logger
}

// NewMQTTPublisher creates and connects an MQTT publisher.
func NewMQTTPublisher(opts MQTTOptions) (*MQTTPublisher, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	p := &MQTTPublisher{qos: opts.QoS, statusTopic: opts.StatusTopic, logger: logger}

	clientOpts := mqtt.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(60 * time.Second).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Warn("MQTT connection lost", "broker", opts.Broker, "error", err)
		})
	if opts.StatusTopic != "" {
		clientOpts.SetWill(opts.StatusTopic, "offline", opts.QoS, true)
	}

	timeout := opts.ConnectTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	p.client = mqtt.NewClient(clientOpts)
	token := p.client.Connect()
	if !token.WaitTimeout(timeout) {
		p.client.Disconnect(0)
		return nil, fmt.Errorf("connecting to MQTT broker %s: timed out after %s", opts.Broker, timeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connecting to MQTT broker %s: %w", opts.Broker, err)
	}
	return p, nil
}

func (p *MQTTPublisher) onConnect(c mqtt.Client) {
	p.logger.Info("connected to MQTT broker")
	if p.statusTopic != "" {
		c.Publish(p.statusTopic, p.qos, true, "online")
	}
}

// Publish sends payload and waits for the broker until ctx is done.
func (p *MQTTPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	token := p.client.Publish(topic, p.qos, false, payload)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", topic, ErrPublishTimeout)
	}
}

func (p *MQTTPublisher) Close() error {
	if p.statusTopic != "" {
		p.client.Publish(p.statusTopic, p.qos, true, "offline").WaitTimeout(time.Second)
	}
	p.client.Disconnect(1000)
	return nil
}
