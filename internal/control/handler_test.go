package control

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/care/orion-pose/internal/transport"
)

var topics = Topics{Command: "camera_with_pose/control", Status: "camera_with_pose/status"}

func responses(t *testing.T, bus *transport.Memory) []Response {
	t.Helper()
	var out []Response
	for _, msg := range bus.On(topics.Status) {
		var r Response
		require.NoError(t, json.Unmarshal(msg.Payload, &r))
		out = append(out, r)
	}
	return out
}

func waitResponses(t *testing.T, bus *transport.Memory, n int) []Response {
	t.Helper()
	require.Eventually(t, func() bool { return len(bus.On(topics.Status)) >= n }, 2*time.Second, 5*time.Millisecond)
	return responses(t, bus)
}

func startHandler(t *testing.T, cb Callbacks) (*Handler, *transport.Memory) {
	t.Helper()
	bus := transport.NewMemory()
	h := NewHandler(bus, topics, 1, cb)
	h.ShutdownDelay = 10 * time.Millisecond
	require.NoError(t, h.Start(context.Background()))
	t.Cleanup(func() { h.Stop() })
	return h, bus
}

func TestGetStatus(t *testing.T) {
	_, bus := startHandler(t, Callbacks{
		OnGetStatus: func() map[string]any {
			return map[string]any{"state": "RUNNING", "frames_processed": 12}
		},
	})

	require.NoError(t, bus.Publish(topics.Command, []byte(`{"command":"get_status"}`)))

	resp := waitResponses(t, bus, 1)[0]
	assert.Equal(t, "get_status", resp.CommandAck)
	assert.Equal(t, "success", resp.Status)
	assert.Equal(t, "RUNNING", resp.Data["state"])
	assert.Equal(t, float64(12), resp.Data["frames_processed"])
	_, err := time.Parse(time.RFC3339Nano, resp.Timestamp)
	assert.NoError(t, err)
}

// TestShutdownRespondsFirst validates the ack is published before the
// shutdown callback runs.
func TestShutdownRespondsFirst(t *testing.T) {
	var bus *transport.Memory
	var ackedBeforeShutdown atomic.Bool
	called := make(chan struct{})

	_, bus = startHandler(t, Callbacks{
		OnShutdown: func() error {
			ackedBeforeShutdown.Store(len(bus.On(topics.Status)) == 1)
			close(called)
			return nil
		},
	})

	require.NoError(t, bus.Publish(topics.Command, []byte(`{"command":"shutdown"}`)))

	select {
	case <-called:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown callback not invoked")
	}
	assert.True(t, ackedBeforeShutdown.Load())

	resp := responses(t, bus)[0]
	assert.Equal(t, "shutdown", resp.CommandAck)
	assert.Equal(t, "success", resp.Status)
	assert.Equal(t, true, resp.Data["shutdown_initiated"])
}

func TestErrors(t *testing.T) {
	_, bus := startHandler(t, Callbacks{})

	require.NoError(t, bus.Publish(topics.Command, []byte(`not json`)))
	require.NoError(t, bus.Publish(topics.Command, []byte(`{"command":"pause_inference"}`)))
	require.NoError(t, bus.Publish(topics.Command, []byte(`{"command":"get_status"}`)))
	require.NoError(t, bus.Publish(topics.Command, []byte(`{"command":"shutdown"}`)))

	got := waitResponses(t, bus, 4)
	require.Len(t, got, 4)

	assert.Equal(t, "unknown", got[0].CommandAck)
	assert.Equal(t, "invalid JSON", got[0].Error)
	assert.Equal(t, `unknown command "pause_inference"`, got[1].Error)
	assert.Equal(t, "get_status is not supported", got[2].Error)
	assert.Equal(t, "shutdown is not supported", got[3].Error)
	for _, r := range got {
		assert.Equal(t, "error", r.Status)
	}
}

func TestStopUnsubscribes(t *testing.T) {
	bus := transport.NewMemory()
	h := NewHandler(bus, topics, 1, Callbacks{OnGetStatus: func() map[string]any { return nil }})
	require.NoError(t, h.Start(context.Background()))
	assert.Error(t, h.Start(context.Background()))

	require.NoError(t, h.Stop())
	require.NoError(t, h.Stop())

	require.NoError(t, bus.Publish(topics.Command, []byte(`{"command":"get_status"}`)))
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, bus.On(topics.Status))
}
