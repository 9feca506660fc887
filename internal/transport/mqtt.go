package transport

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// MQTTConfig contains broker connection settings
type MQTTConfig struct {
	Broker   string // host:port, or a full URL
	ClientID string // generated when empty
	Username string
	Password string
	// QoS maps topics to QoS levels; unknown topics use 0
	QoS map[string]byte
	// PublishTimeout bounds each publish (default 2s)
	PublishTimeout time.Duration
}

// MQTT is a PubSub over an MQTT broker with automatic reconnection.
type MQTT struct {
	cfg    MQTTConfig
	client mqtt.Client

	mu        sync.RWMutex
	published map[string]uint64 // count per topic
	errors    uint64
	connected bool
	subs      map[string]subscription
}

type subscription struct {
	qos byte
	h   Handler
}

// Stats contains transport statistics
type Stats struct {
	Connected bool
	Published map[string]uint64
	Errors    uint64
}

// NewMQTT creates an MQTT transport; call Connect before use
func NewMQTT(cfg MQTTConfig) *MQTT {
	if cfg.ClientID == "" {
		cfg.ClientID = "orion-pose-" + uuid.NewString()[:8]
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 2 * time.Second
	}
	return &MQTT{
		cfg:       cfg,
		published: make(map[string]uint64),
		subs:      make(map[string]subscription),
	}
}

// Connect establishes connection to the broker
func (m *MQTT) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL(m.cfg.Broker))
	opts.SetClientID(m.cfg.ClientID)
	if m.cfg.Username != "" {
		opts.SetUsername(m.cfg.Username)
		opts.SetPassword(m.cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetOrderMatters(false)

	opts.OnConnect = func(c mqtt.Client) {
		m.mu.Lock()
		m.connected = true
		subs := make(map[string]subscription, len(m.subs))
		for topic, s := range m.subs {
			subs[topic] = s
		}
		m.mu.Unlock()

		slog.Info("mqtt connection established",
			"broker", m.cfg.Broker,
			"client_id", m.cfg.ClientID,
			"auto_reconnect", "enabled")

		// restore subscriptions after a reconnect
		for topic, s := range subs {
			c.Subscribe(topic, s.qos, wrap(s.h))
		}
	}

	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		m.mu.Lock()
		m.connected = false
		m.mu.Unlock()
		slog.Warn("mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", m.cfg.Broker,
			"max_retry_interval", "30s")
	}

	m.client = mqtt.NewClient(opts)

	slog.Info("connecting to mqtt broker", "broker", m.cfg.Broker)

	token := m.client.Connect()
	select {
	case <-token.Done():
	case <-time.After(5 * time.Second):
		return fmt.Errorf("mqtt connection timeout")
	case <-ctx.Done():
		return fmt.Errorf("mqtt connection: %w", ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}

	m.mu.Lock()
	m.connected = true
	m.mu.Unlock()

	return nil
}

// Publish sends payload on topic and waits for the broker acknowledgement
func (m *MQTT) Publish(topic string, payload []byte) error {
	if !m.IsConnected() {
		m.countError()
		return ErrNotConnected
	}

	qos := m.qos(topic)
	token := m.client.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(m.cfg.PublishTimeout) {
		m.countError()
		return fmt.Errorf("publish timeout on %s", topic)
	}
	if err := token.Error(); err != nil {
		m.countError()
		return fmt.Errorf("publish failed on %s: %w", topic, err)
	}

	m.mu.Lock()
	m.published[topic]++
	m.mu.Unlock()

	slog.Debug("message published",
		"topic", topic,
		"qos", qos,
		"size", len(payload),
	)
	return nil
}

// Subscribe registers h for topic; the subscription survives reconnects
func (m *MQTT) Subscribe(topic string, qos byte, h Handler) error {
	if m.client == nil {
		return ErrNotConnected
	}

	slog.Info("subscribing to mqtt topic", "topic", topic, "qos", qos)

	token := m.client.Subscribe(topic, qos, wrap(h))
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("subscription timeout on %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscription failed on %s: %w", topic, err)
	}

	m.mu.Lock()
	m.subs[topic] = subscription{qos: qos, h: h}
	m.mu.Unlock()
	return nil
}

// Unsubscribe removes the subscription for topic
func (m *MQTT) Unsubscribe(topic string) error {
	m.mu.Lock()
	delete(m.subs, topic)
	m.mu.Unlock()

	if m.client == nil || !m.client.IsConnected() {
		return nil
	}
	token := m.client.Unsubscribe(topic)
	if !token.WaitTimeout(2 * time.Second) {
		return fmt.Errorf("unsubscribe timeout on %s", topic)
	}
	return token.Error()
}

// Disconnect closes the MQTT connection
func (m *MQTT) Disconnect() {
	if m.client != nil && m.client.IsConnected() {
		m.client.Disconnect(250) // 250ms grace period
		slog.Info("mqtt disconnected")
	}

	m.mu.Lock()
	m.connected = false
	m.mu.Unlock()
}

// IsConnected returns connection status
func (m *MQTT) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// Stats returns transport statistics
func (m *MQTT) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	published := make(map[string]uint64, len(m.published))
	for k, v := range m.published {
		published[k] = v
	}

	return Stats{
		Connected: m.connected,
		Published: published,
		Errors:    m.errors,
	}
}

func (m *MQTT) countError() {
	m.mu.Lock()
	m.errors++
	m.mu.Unlock()
}

func (m *MQTT) qos(topic string) byte {
	if qos, ok := m.cfg.QoS[topic]; ok {
		return qos
	}
	return 0
}

func wrap(h Handler) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		h(msg.Topic(), msg.Payload())
	}
}

// brokerURL accepts host:port and adds the tcp scheme
func brokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return "tcp://" + broker
}
