// Package publisher sends softphone state and roster updates to MQTT.
package publisher

import "context"

// Publisher defines the interface for publishing messages.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte, retained bool) error
	Close() error
}
