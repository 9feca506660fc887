// Package transport moves raw payloads between the node and the outside
// world: MQTT for deployments, an in-memory bus for tests and dry runs.
package transport

import (
	"errors"
	"fmt"
)

// ErrNotConnected is returned when publishing without a live connection.
var ErrNotConnected = errors.New("transport not connected")

// Handler receives one message. It runs on the transport's delivery
// goroutine and must not block.
type Handler func(topic string, payload []byte)

// Publisher emits a payload on a topic.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// Subscriber delivers messages for a topic to a handler.
type Subscriber interface {
	Subscribe(topic string, qos byte, h Handler) error
	Unsubscribe(topic string) error
}

// PubSub is both.
type PubSub interface {
	Publisher
	Subscriber
}

// Fanout publishes every payload to all of its publishers.
type Fanout []Publisher

// Publish tries every publisher and joins their errors.
func (f Fanout) Publish(topic string, payload []byte) error {
	var errs []error
	for i, p := range f {
		if err := p.Publish(topic, payload); err != nil {
			errs = append(errs, fmt.Errorf("publisher %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}
