package publisher

import "context"

// Publisher defines the interface for publishing messages.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Close() error
}

// Discard drops every message. It stands in when MQTT is disabled.
type Discard struct{}

func (Discard) Publish(context.Context, string, []byte) error { return nil }

func (Discard) Close() error { return nil }
