package core

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/care/orion-pose/internal/config"
	"github.com/care/orion-pose/internal/engine"
	"github.com/care/orion-pose/internal/exchange"
	"github.com/care/orion-pose/internal/publisher"
	"github.com/care/orion-pose/internal/render"
	"github.com/care/orion-pose/internal/transport"
	"github.com/care/orion-pose/internal/types"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Camera.Source = "synthetic"
	cfg.Health.Addr = ""
	return cfg
}

func syntheticEngine(t *testing.T, cfg *config.Config) engine.Engine {
	t.Helper()
	resolved, err := config.Resolve(cfg)
	require.NoError(t, err)
	eng, err := engine.New(cfg, resolved)
	require.NoError(t, err)
	return eng
}

func bgrFrame(seq uint64, w, h int) types.Frame {
	return types.Frame{
		Seq:       seq,
		Timestamp: time.Now(),
		Width:     w,
		Height:    h,
		Encoding:  types.EncodingBGR8,
		Data:      make([]byte, w*h*3),
		TraceID:   "trace-42",
	}
}

// stubEngine fails on demand.
type stubEngine struct {
	initErr    error
	forwardErr error
	closed     int
}

func (s *stubEngine) Initialize(context.Context) error { return s.initErr }
func (s *stubEngine) ForwardPass(engine.NetInput, image.Point, []float64) error {
	return s.forwardErr
}
func (s *stubEngine) Keypoints() []types.Pose                        { return nil }
func (s *stubEngine) Render(*render.Canvas, types.KeypointSet) error { return nil }
func (s *stubEngine) Close() error {
	s.closed++
	return nil
}

type harness struct {
	node *Node
	ex   *exchange.Exchange
	bus  *transport.Memory
	done chan error
}

func newHarness(t *testing.T, cfg *config.Config, eng engine.Engine, observer func(types.AnalysisResult)) *harness {
	t.Helper()
	h := &harness{ex: exchange.New(), bus: transport.NewMemory(), done: make(chan error, 1)}
	n, err := NewNode(cfg, Options{
		Exchange: h.ex,
		Engine:   eng,
		Bus:      h.bus,
		Observer: observer,
	})
	require.NoError(t, err)
	h.node = n
	return h
}

func (h *harness) run(ctx context.Context) {
	go func() { h.done <- h.node.Run(ctx) }()
}

func (h *harness) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("node did not stop")
		return nil
	}
}

func waitState(t *testing.T, n *Node, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return n.State() == want }, 2*time.Second, time.Millisecond)
}

// TestEndToEndSingleFrame feeds one 1280x720 frame with seq 42 and expects
// exactly one image and one keypoints message, both for seq 42.
func TestEndToEndSingleFrame(t *testing.T) {
	cfg := testConfig()
	var observed []uint64
	h := newHarness(t, cfg, syntheticEngine(t, cfg), func(res types.AnalysisResult) {
		observed = append(observed, res.Seq)
	})

	require.NoError(t, h.node.Configure(context.Background()))
	assert.Equal(t, StateConfigured, h.node.State())

	h.ex.Put(bgrFrame(42, 1280, 720))
	h.run(context.Background())

	require.Eventually(t, func() bool {
		return len(h.bus.On(cfg.MQTT.Topics.Keypoints)) == 1
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, StateRunning, h.node.State())

	h.node.Stop()
	require.NoError(t, h.wait(t))
	assert.Equal(t, StateTerminated, h.node.State())

	images := h.bus.On(cfg.MQTT.Topics.Image)
	require.Len(t, images, 1)
	var img publisher.ImageMessage
	require.NoError(t, json.Unmarshal(images[0].Payload, &img))
	assert.Equal(t, uint64(42), img.Header.Seq)
	assert.Equal(t, "trace-42", img.Header.TraceID)
	assert.Equal(t, 1280, img.Width)
	assert.Equal(t, 720, img.Height)
	assert.Len(t, img.Data, 1280*720*3)

	var kp publisher.KeypointsMessage
	require.NoError(t, json.Unmarshal(h.bus.On(cfg.MQTT.Topics.Keypoints)[0].Payload, &kp))
	assert.Equal(t, uint64(42), kp.Header.Seq)
	assert.Len(t, kp.Keypoints, types.ModelCOCO.Length())
	assert.Equal(t, 1, kp.People)

	// image goes out before keypoints
	msgs := h.bus.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, cfg.MQTT.Topics.Image, msgs[0].Topic)

	assert.Equal(t, []uint64{42}, observed)
	sum := h.node.Summary()
	assert.Equal(t, uint64(1), sum.Frames)
	assert.Greater(t, sum.DurationS, 0.0)
}

// TestShutdownWithPendingFrame stops a node while a frame sits in the
// exchange. The loop exits at the top of the first iteration.
func TestShutdownWithPendingFrame(t *testing.T) {
	cfg := testConfig()
	h := newHarness(t, cfg, syntheticEngine(t, cfg), nil)
	require.NoError(t, h.node.Configure(context.Background()))

	h.ex.Put(bgrFrame(7, 1280, 720))
	h.node.Stop()
	h.run(context.Background())

	require.NoError(t, h.wait(t))
	assert.Equal(t, StateTerminated, h.node.State())
	assert.True(t, h.ex.Pending())
	assert.Equal(t, uint64(0), h.node.Summary().Frames)
	assert.Empty(t, h.bus.Messages())
}

func TestContextCancelStops(t *testing.T) {
	cfg := testConfig()
	h := newHarness(t, cfg, syntheticEngine(t, cfg), nil)
	require.NoError(t, h.node.Configure(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	h.run(ctx)
	waitState(t, h.node, StateRunning)

	cancel()
	require.NoError(t, h.wait(t))
	assert.Equal(t, StateTerminated, h.node.State())
}

func TestEngineFailureIsFatal(t *testing.T) {
	errBoom := errors.New("cuda error")
	eng := &stubEngine{forwardErr: errBoom}
	h := newHarness(t, testConfig(), eng, nil)
	require.NoError(t, h.node.Configure(context.Background()))

	h.ex.Put(bgrFrame(3, 1280, 720))
	h.run(context.Background())

	err := h.wait(t)
	require.Error(t, err)
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, StateTerminated, h.node.State())
	assert.Equal(t, 1, eng.closed)
	assert.Empty(t, h.bus.Messages())
}

func TestConfigureFailures(t *testing.T) {
	t.Run("engine init", func(t *testing.T) {
		eng := &stubEngine{initErr: errors.New("model not found")}
		h := newHarness(t, testConfig(), eng, nil)

		err := h.node.Configure(context.Background())
		require.Error(t, err)
		assert.Equal(t, StateUninitialized, h.node.State())
		assert.Error(t, h.node.Run(context.Background()))
	})

	t.Run("invalid config", func(t *testing.T) {
		cfg := testConfig()
		cfg.Pose.RenderThreshold = 1.5
		h := newHarness(t, cfg, &stubEngine{}, nil)

		err := h.node.Configure(context.Background())
		assert.ErrorIs(t, err, config.ErrInvalid)
		assert.Equal(t, StateUninitialized, h.node.State())
	})

	t.Run("configure twice", func(t *testing.T) {
		h := newHarness(t, testConfig(), &stubEngine{}, nil)
		require.NoError(t, h.node.Configure(context.Background()))
		assert.Error(t, h.node.Configure(context.Background()))
	})
}

func TestInvalidFrameIsSkipped(t *testing.T) {
	cfg := testConfig()
	h := newHarness(t, cfg, syntheticEngine(t, cfg), nil)
	require.NoError(t, h.node.Configure(context.Background()))

	bad := bgrFrame(1, 1280, 720)
	bad.Data = bad.Data[:10]
	h.ex.Put(bad)
	h.run(context.Background())

	require.Eventually(t, func() bool { return h.ex.Stats().Takes == 1 }, 2*time.Second, time.Millisecond)
	h.ex.Put(bgrFrame(2, 1280, 720))
	require.Eventually(t, func() bool {
		return len(h.bus.On(cfg.MQTT.Topics.Keypoints)) == 1
	}, 5*time.Second, 5*time.Millisecond)

	h.node.Stop()
	require.NoError(t, h.wait(t))

	sum := h.node.Summary()
	assert.Equal(t, uint64(1), sum.Frames)
	assert.Equal(t, uint64(1), sum.Skipped)
}

func TestShutdownCommand(t *testing.T) {
	cfg := testConfig()
	h := newHarness(t, cfg, syntheticEngine(t, cfg), nil)
	require.NoError(t, h.node.Configure(context.Background()))
	h.node.control.ShutdownDelay = time.Millisecond

	h.run(context.Background())
	waitState(t, h.node, StateRunning)

	require.NoError(t, h.bus.Publish(cfg.MQTT.Topics.Control, []byte(`{"command":"shutdown"}`)))
	require.NoError(t, h.wait(t))
	assert.Equal(t, StateTerminated, h.node.State())
	assert.Len(t, h.bus.On(cfg.MQTT.Topics.Status), 1)
}

func TestStatus(t *testing.T) {
	cfg := testConfig()
	h := newHarness(t, cfg, syntheticEngine(t, cfg), nil)
	require.NoError(t, h.node.Configure(context.Background()))

	status := h.node.Status()
	assert.Equal(t, "orion-pose", status["instance_id"])
	assert.Equal(t, "CONFIGURED", status["state"])
	assert.Equal(t, uint64(0), status["frames_processed"])
	assert.Contains(t, status, "exchange")
	assert.Contains(t, status, "publisher")
	assert.NotContains(t, status, "mqtt_connected")
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "UNINITIALIZED", StateUninitialized.String())
	assert.Equal(t, "CONFIGURED", StateConfigured.String())
	assert.Equal(t, "RUNNING", StateRunning.String())
	assert.Equal(t, "SHUTTING_DOWN", StateShuttingDown.String())
	assert.Equal(t, "TERMINATED", StateTerminated.String())
	assert.Equal(t, "UNKNOWN", State(99).String())
}

func TestNewNodeValidates(t *testing.T) {
	ex := exchange.New()
	bus := transport.NewMemory()
	eng := &stubEngine{}

	_, err := NewNode(nil, Options{Exchange: ex, Engine: eng, Bus: bus})
	assert.Error(t, err)
	_, err = NewNode(testConfig(), Options{Engine: eng, Bus: bus})
	assert.Error(t, err)
	_, err = NewNode(testConfig(), Options{Exchange: ex, Bus: bus})
	assert.Error(t, err)
	_, err = NewNode(testConfig(), Options{Exchange: ex, Engine: eng})
	assert.Error(t, err)
}
