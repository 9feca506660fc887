// Package core owns the pose node: lifecycle, the consumer loop, exit
// statistics, the health endpoints and the control plane wiring.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/care/orion-pose/internal/config"
	"github.com/care/orion-pose/internal/control"
	"github.com/care/orion-pose/internal/engine"
	"github.com/care/orion-pose/internal/exchange"
	"github.com/care/orion-pose/internal/pipeline"
	"github.com/care/orion-pose/internal/publisher"
	"github.com/care/orion-pose/internal/source"
	"github.com/care/orion-pose/internal/transport"
	"github.com/care/orion-pose/internal/types"
)

// Connectivity reports whether an external link is up
type Connectivity interface {
	IsConnected() bool
}

// Options contains the collaborators of a node
type Options struct {
	// Exchange is the slot the source feeds (required)
	Exchange *exchange.Exchange
	// Engine is the estimation engine, not yet initialized (required)
	Engine engine.Engine
	// Bus carries results and control traffic (required)
	Bus transport.PubSub
	// Source produces frames into Exchange (optional)
	Source source.Source
	// Link is probed for health reporting (optional, usually the MQTT client)
	Link Connectivity
	// Observer is called with every published result on the consumer
	// goroutine; it must not block (optional, e.g. preview)
	Observer func(types.AnalysisResult)
}

// Node is the pose pipeline controller
type Node struct {
	cfg  *config.Config
	opts Options

	pipeline  *pipeline.Pipeline
	publisher *publisher.Publisher
	control   *control.Handler
	recorder  *recorder

	state   atomic.Int32
	created time.Time

	mu            sync.Mutex
	cancel        context.CancelFunc
	stopRequested bool
	summary       Summary
}

// NewNode creates an UNINITIALIZED node
func NewNode(cfg *config.Config, opts Options) (*Node, error) {
	if cfg == nil {
		return nil, fmt.Errorf("node: config is required")
	}
	if opts.Exchange == nil {
		return nil, fmt.Errorf("node: exchange is required")
	}
	if opts.Engine == nil {
		return nil, fmt.Errorf("node: engine is required")
	}
	if opts.Bus == nil {
		return nil, fmt.Errorf("node: bus is required")
	}
	return &Node{
		cfg:      cfg,
		opts:     opts,
		recorder: newRecorder(),
		created:  time.Now(),
	}, nil
}

// State returns the current lifecycle state
func (n *Node) State() State {
	return State(n.state.Load())
}

func (n *Node) setState(s State) {
	prev := State(n.state.Swap(int32(s)))
	slog.Debug("node state changed", "from", prev.String(), "to", s.String())
}

// Configure validates the configuration, initializes the engine and builds
// the pipeline, publisher and control plane. Any failure is fatal and
// leaves the node UNINITIALIZED.
func (n *Node) Configure(ctx context.Context) error {
	if s := n.State(); s != StateUninitialized {
		return fmt.Errorf("node already configured (state %s)", s)
	}

	resolved, err := config.Resolve(n.cfg)
	if err != nil {
		return err
	}

	if err := n.opts.Engine.Initialize(ctx); err != nil {
		n.closeEngine()
		return fmt.Errorf("engine initialization failed: %w", err)
	}

	p, err := pipeline.New(pipeline.ConfigFrom(n.cfg, resolved), n.opts.Engine)
	if err != nil {
		n.closeEngine()
		return err
	}

	topics := n.cfg.MQTT.Topics
	pub, err := publisher.New(n.opts.Bus, publisher.Topics{
		Image:     topics.Image,
		Keypoints: topics.Keypoints,
	}, n.cfg.InstanceID)
	if err != nil {
		n.closeEngine()
		return err
	}

	n.pipeline = p
	n.publisher = pub
	if topics.Control != "" && topics.Status != "" {
		n.control = control.NewHandler(n.opts.Bus, control.Topics{
			Command: topics.Control,
			Status:  topics.Status,
		}, n.cfg.QoSFor("control"), control.Callbacks{
			OnGetStatus: n.Status,
			OnShutdown: func() error {
				n.Stop()
				return nil
			},
		})
	}

	n.setState(StateConfigured)
	slog.Info("pose node configured",
		"instance_id", n.cfg.InstanceID,
		"model", resolved.Model.String(),
		"net_resolution", fmt.Sprintf("%dx%d", resolved.NetSize.X, resolved.NetSize.Y),
		"output_resolution", fmt.Sprintf("%dx%d", resolved.OutputSize.X, resolved.OutputSize.Y),
		"scale_number", n.cfg.Pose.ScaleNumber,
	)
	return nil
}

// Run starts the source and the control plane and runs the consumer loop
// until ctx is cancelled, Stop is called or the engine fails. A nil return
// means a clean shutdown.
func (n *Node) Run(ctx context.Context) error {
	if s := n.State(); s != StateConfigured {
		return fmt.Errorf("node not configured (state %s)", s)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	n.mu.Lock()
	n.cancel = cancel
	if n.stopRequested {
		cancel()
	}
	n.mu.Unlock()

	if n.control != nil {
		if err := n.control.Start(ctx); err != nil {
			n.closeEngine()
			return fmt.Errorf("failed to start control plane: %w", err)
		}
	}
	if n.opts.Source != nil {
		if err := n.opts.Source.Start(ctx); err != nil {
			n.stopControl()
			n.closeEngine()
			return fmt.Errorf("failed to start source: %w", err)
		}
	}

	n.recorder.start(time.Now())
	n.setState(StateRunning)
	slog.Info("pose node running", "poll_interval", n.cfg.PollInterval)

	err := n.loop(ctx)
	summary := n.recorder.summary(time.Now())

	n.setState(StateShuttingDown)
	n.teardown()

	n.mu.Lock()
	n.summary = summary
	n.mu.Unlock()

	n.logSummary(summary, err)
	n.setState(StateTerminated)
	return err
}

// loop is the consumer: stop check, take, process, publish.
func (n *Node) loop(ctx context.Context) error {
	poll := n.cfg.PollInterval
	if poll <= 0 {
		poll = time.Millisecond
	}
	idle := time.NewTimer(poll)
	idle.Stop()
	defer idle.Stop()

	for {
		if ctx.Err() != nil {
			return nil
		}

		frame, ok := n.opts.Exchange.Take()
		if !ok {
			idle.Reset(poll)
			select {
			case <-ctx.Done():
				return nil
			case <-idle.C:
			}
			continue
		}

		if err := n.handle(frame); err != nil {
			return err
		}
	}
}

// handle runs one frame through the pipeline and publishes the result.
// Only engine failures are returned.
func (n *Node) handle(frame types.Frame) error {
	res, err := n.pipeline.Process(frame)
	if errors.Is(err, pipeline.ErrInvalidFrame) {
		n.recorder.skip()
		slog.Warn("skipping frame", "seq", frame.Seq, "trace_id", frame.TraceID, "error", err)
		return nil
	}
	if err != nil {
		return fmt.Errorf("analysis failed at seq=%d: %w", frame.Seq, err)
	}

	if err := n.publisher.Publish(res); err != nil {
		slog.Warn("result not published", "seq", res.Seq, "trace_id", res.TraceID, "error", err)
	}

	n.recorder.processed(res.Seq, res.Latency, time.Now())

	if n.opts.Observer != nil {
		n.opts.Observer(res)
	}

	slog.Debug("frame processed",
		"seq", res.Seq,
		"trace_id", res.TraceID,
		"people", res.Keypoints.People,
		"latency_ms", res.Latency.Milliseconds(),
	)
	return nil
}

// Stop requests a cooperative shutdown. The loop observes it at the next
// iteration; an analysis in progress completes first.
func (n *Node) Stop() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.stopRequested = true
	if n.cancel != nil {
		n.cancel()
	}
}

// teardown stops producers first, then the engine
func (n *Node) teardown() {
	if n.opts.Source != nil {
		if err := n.opts.Source.Stop(); err != nil {
			slog.Error("failed to stop source", "error", err)
		}
	}
	n.stopControl()
	n.closeEngine()
}

func (n *Node) stopControl() {
	if n.control == nil {
		return
	}
	if err := n.control.Stop(); err != nil {
		slog.Error("failed to stop control handler", "error", err)
	}
}

func (n *Node) closeEngine() {
	if err := n.opts.Engine.Close(); err != nil {
		slog.Error("failed to close engine", "error", err)
	}
}

func (n *Node) logSummary(s Summary, runErr error) {
	ex := n.opts.Exchange.Stats()
	attrs := []any{
		"duration_s", s.DurationS,
		"frames_processed", s.Frames,
		"frames_skipped", s.Skipped,
		"average_fps", s.FPS,
		"latency_mean_ms", s.LatencyMeanMS,
		"latency_std_ms", s.LatencyStdMS,
		"latency_p50_ms", s.LatencyP50MS,
		"latency_p95_ms", s.LatencyP95MS,
		"frames_dropped", ex.Drops,
		"drop_rate", ex.DropRate(),
	}
	if n.publisher != nil {
		ps := n.publisher.Stats()
		attrs = append(attrs, "published", ps.Published, "publish_errors", ps.EmitErrors)
	}

	if runErr != nil {
		slog.Error("pose node stopped on engine failure", append(attrs, "error", runErr)...)
		return
	}
	slog.Info(s.Message(), attrs...)
}

// Summary returns the exit statistics of the last run. It is only
// meaningful once the node is TERMINATED.
func (n *Node) Summary() Summary {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.summary
}

// Status is the payload of the get_status control command
func (n *Node) Status() map[string]any {
	sum := n.recorder.summary(time.Now())
	lastSeq, lastAt := n.recorder.last()
	ex := n.opts.Exchange.Stats()

	status := map[string]any{
		"instance_id":      n.cfg.InstanceID,
		"state":            n.State().String(),
		"uptime_s":         int64(time.Since(n.created).Seconds()),
		"frames_processed": sum.Frames,
		"frames_skipped":   sum.Skipped,
		"average_fps":      sum.FPS,
		"latency_mean_ms":  sum.LatencyMeanMS,
		"last_seq":         lastSeq,
		"exchange": map[string]any{
			"puts":      ex.Puts,
			"takes":     ex.Takes,
			"drops":     ex.Drops,
			"drop_rate": ex.DropRate(),
		},
	}
	if !lastAt.IsZero() {
		status["last_processed_at"] = lastAt.UTC().Format(time.RFC3339Nano)
	}
	if n.publisher != nil {
		status["publisher"] = n.publisher.Stats()
	}
	if n.opts.Source != nil {
		status["source"] = n.opts.Source.Stats()
	}
	if n.opts.Link != nil {
		status["mqtt_connected"] = n.opts.Link.IsConnected()
	}
	return status
}
