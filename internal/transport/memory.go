package transport

import (
	"sync"
)

// Message is one payload recorded by Memory.
type Message struct {
	Topic   string
	Payload []byte
}

// Memory is an in-process PubSub. Publish records the message and delivers
// it synchronously to subscribers of the exact topic.
type Memory struct {
	mu       sync.Mutex
	messages []Message
	handlers map[string]Handler
	failures map[string]error
}

// NewMemory creates an empty in-memory transport
func NewMemory() *Memory {
	return &Memory{
		handlers: make(map[string]Handler),
		failures: make(map[string]error),
	}
}

func (m *Memory) Publish(topic string, payload []byte) error {
	m.mu.Lock()
	if err, ok := m.failures[topic]; ok {
		m.mu.Unlock()
		return err
	}
	m.messages = append(m.messages, Message{Topic: topic, Payload: append([]byte(nil), payload...)})
	h := m.handlers[topic]
	m.mu.Unlock()

	if h != nil {
		h(topic, payload)
	}
	return nil
}

func (m *Memory) Subscribe(topic string, _ byte, h Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = h
	return nil
}

func (m *Memory) Unsubscribe(topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.handlers, topic)
	return nil
}

// FailTopic makes every Publish on topic return err; nil clears it.
func (m *Memory) FailTopic(topic string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, topic)
		return
	}
	m.failures[topic] = err
}

// Messages returns a copy of everything published so far.
func (m *Memory) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.messages...)
}

// On returns the messages published on topic.
func (m *Memory) On(topic string) []Message {
	var out []Message
	for _, msg := range m.Messages() {
		if msg.Topic == topic {
			out = append(out, msg)
		}
	}
	return out
}

// Discard accepts every publish and never delivers anything. It stands in
// for a broker in dry runs.
type Discard struct{}

func (Discard) Publish(string, []byte) error         { return nil }
func (Discard) Subscribe(string, byte, Handler) error { return nil }
func (Discard) Unsubscribe(string) error              { return nil }
