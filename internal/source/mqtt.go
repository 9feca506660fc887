package source

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/care/orion-pose/internal/transport"
)

// MQTTSource decodes camera messages from a topic.
//
// Decoding runs on the transport's delivery goroutine; failures are logged,
// counted and dropped without touching the sink.
type MQTTSource struct {
	sub   transport.Subscriber
	topic string
	qos   byte
	sink  Sink

	counters
	running atomic.Bool
}

// NewMQTTSource creates a source for topic
func NewMQTTSource(sub transport.Subscriber, topic string, qos byte, sink Sink) (*MQTTSource, error) {
	if sub == nil || sink == nil {
		return nil, fmt.Errorf("mqtt source: subscriber and sink are required")
	}
	if topic == "" {
		return nil, fmt.Errorf("mqtt source: topic is required")
	}
	return &MQTTSource{sub: sub, topic: topic, qos: qos, sink: sink}, nil
}

// Start subscribes to the camera topic
func (s *MQTTSource) Start(ctx context.Context) error {
	if s.running.Swap(true) {
		return fmt.Errorf("mqtt source already running")
	}
	if err := s.sub.Subscribe(s.topic, s.qos, s.handle); err != nil {
		s.running.Store(false)
		return fmt.Errorf("mqtt source: %w", err)
	}
	slog.Info("camera source started", "kind", "mqtt", "topic", s.topic)
	return nil
}

func (s *MQTTSource) handle(topic string, payload []byte) {
	frame, err := DecodeMessage(payload)
	if err != nil {
		s.decodeErrors.Add(1)
		slog.Warn("failed to decode camera image, dropping",
			"topic", topic,
			"size", len(payload),
			"error", err,
		)
		return
	}

	frame.Seq = s.nextSeq()
	frame.Timestamp = time.Now()
	frame.TraceID = uuid.NewString()
	if frame.Source == "" {
		frame.Source = topic
	}

	s.sink.Put(frame)
	s.delivered()
}

// Stop unsubscribes; frames already handed to the sink stay there
func (s *MQTTSource) Stop() error {
	if !s.running.Swap(false) {
		return nil
	}
	if err := s.sub.Unsubscribe(s.topic); err != nil {
		return fmt.Errorf("mqtt source: %w", err)
	}
	slog.Info("camera source stopped", "kind", "mqtt", "frames", s.frames.Load(), "decode_errors", s.decodeErrors.Load())
	return nil
}

func (s *MQTTSource) Stats() Stats {
	return s.stats("mqtt", s.running.Load())
}
