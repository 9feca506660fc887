package transport

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryDeliversToSubscriber(t *testing.T) {
	m := NewMemory()

	var got []string
	require.NoError(t, m.Subscribe("camera", 0, func(topic string, payload []byte) {
		got = append(got, topic+":"+string(payload))
	}))

	require.NoError(t, m.Publish("camera", []byte("a")))
	require.NoError(t, m.Publish("other", []byte("b")))
	require.NoError(t, m.Unsubscribe("camera"))
	require.NoError(t, m.Publish("camera", []byte("c")))

	assert.Equal(t, []string{"camera:a"}, got)
	assert.Len(t, m.Messages(), 3)
	assert.Len(t, m.On("camera"), 2)
}

func TestMemoryFailTopic(t *testing.T) {
	m := NewMemory()
	boom := errors.New("broker down")

	m.FailTopic("keypoints", boom)
	assert.ErrorIs(t, m.Publish("keypoints", []byte("x")), boom)
	assert.Empty(t, m.Messages())

	m.FailTopic("keypoints", nil)
	assert.NoError(t, m.Publish("keypoints", []byte("x")))
}

func TestMemoryCopiesPayload(t *testing.T) {
	m := NewMemory()
	payload := []byte("abc")
	require.NoError(t, m.Publish("t", payload))
	payload[0] = 'z'

	assert.Equal(t, "abc", string(m.Messages()[0].Payload))
}

func TestFanout(t *testing.T) {
	a, b := NewMemory(), NewMemory()
	boom := errors.New("boom")
	b.FailTopic("t", boom)

	f := Fanout{a, b}
	err := f.Publish("t", []byte("x"))

	assert.ErrorIs(t, err, boom)
	assert.Len(t, a.Messages(), 1, "a failing publisher must not starve the others")
}

func TestMQTTPublishWithoutConnection(t *testing.T) {
	m := NewMQTT(MQTTConfig{Broker: "localhost:1883"})

	err := m.Publish("camera_with_pose/image", []byte("x"))
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, uint64(1), m.Stats().Errors)
	assert.False(t, m.IsConnected())

	assert.ErrorIs(t, m.Subscribe("t", 0, func(string, []byte) {}), ErrNotConnected)
	assert.NoError(t, m.Unsubscribe("t"))
}

func TestMQTTClientID(t *testing.T) {
	a := NewMQTT(MQTTConfig{Broker: "b:1883"})
	b := NewMQTT(MQTTConfig{Broker: "b:1883"})
	assert.True(t, strings.HasPrefix(a.cfg.ClientID, "orion-pose-"))
	assert.NotEqual(t, a.cfg.ClientID, b.cfg.ClientID)

	c := NewMQTT(MQTTConfig{Broker: "b:1883", ClientID: "fixed"})
	assert.Equal(t, "fixed", c.cfg.ClientID)
}

func TestBrokerURL(t *testing.T) {
	assert.Equal(t, "tcp://localhost:1883", brokerURL("localhost:1883"))
	assert.Equal(t, "ssl://broker:8883", brokerURL("ssl://broker:8883"))
}

func TestMQTTQoS(t *testing.T) {
	m := NewMQTT(MQTTConfig{Broker: "b:1883", QoS: map[string]byte{"ctl": 1}})
	assert.Equal(t, byte(1), m.qos("ctl"))
	assert.Equal(t, byte(0), m.qos("img"))
}

func TestDiscard(t *testing.T) {
	var d PubSub = Discard{}
	assert.NoError(t, d.Publish("camera_with_pose/image", []byte("x")))
	assert.NoError(t, d.Subscribe("camera_with_pose/control", 1, func(string, []byte) {
		t.Fatal("discard never delivers")
	}))
	assert.NoError(t, d.Publish("camera_with_pose/control", []byte("x")))
	assert.NoError(t, d.Unsubscribe("camera_with_pose/control"))
}
