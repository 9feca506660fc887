// Package control implements the command topic of the node: status queries
// and remote shutdown.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/care/orion-pose/internal/transport"
)

// Command is one request received on the command topic
type Command struct {
	Command string         `json:"command"`
	Params  map[string]any `json:"params,omitempty"`
}

// Response is published on the status topic for every command
type Response struct {
	CommandAck string         `json:"command_ack"`
	Status     string         `json:"status"` // "success" or "error"
	Data       map[string]any `json:"data,omitempty"`
	Error      string         `json:"error,omitempty"`
	Timestamp  string         `json:"timestamp"`
}

// Topics names the command and response topics
type Topics struct {
	Command string
	Status  string
}

// Callbacks are the node operations reachable from the control plane.
// A nil callback answers its command with an error.
type Callbacks struct {
	OnGetStatus func() map[string]any
	OnShutdown  func() error
}

// Handler serves the control plane. Commands are queued by the transport
// callback and executed one at a time on the handler goroutine.
type Handler struct {
	bus       transport.PubSub
	topics    Topics
	qos       byte
	callbacks Callbacks
	queue     chan Command

	// ShutdownDelay is how long the shutdown ack gets to leave before
	// OnShutdown runs.
	ShutdownDelay time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewHandler creates a control handler; Start subscribes it
func NewHandler(bus transport.PubSub, topics Topics, qos byte, callbacks Callbacks) *Handler {
	return &Handler{
		bus:           bus,
		topics:        topics,
		qos:           qos,
		callbacks:     callbacks,
		queue:         make(chan Command, 10),
		ShutdownDelay: 500 * time.Millisecond,
	}
}

// Start subscribes to the command topic and begins executing commands
func (h *Handler) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started {
		return fmt.Errorf("control handler already started")
	}

	if err := h.bus.Subscribe(h.topics.Command, h.qos, h.enqueue); err != nil {
		return fmt.Errorf("subscribe %s: %w", h.topics.Command, err)
	}

	ctx, h.cancel = context.WithCancel(ctx)
	h.started = true
	h.wg.Add(1)
	go h.serve(ctx)

	slog.Info("control: listening", "topic", h.topics.Command, "status_topic", h.topics.Status, "qos", h.qos)
	return nil
}

// Stop unsubscribes and waits for the command in progress, if any
func (h *Handler) Stop() error {
	h.mu.Lock()
	if !h.started {
		h.mu.Unlock()
		return nil
	}
	h.started = false
	h.mu.Unlock()

	err := h.bus.Unsubscribe(h.topics.Command)
	h.cancel()
	h.wg.Wait()

	slog.Info("control: stopped")
	return err
}

// enqueue is the transport callback. It must not block the transport, so
// a full queue drops the command.
func (h *Handler) enqueue(_ string, payload []byte) {
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		slog.Warn("control: malformed command", "error", err)
		h.reply(Response{CommandAck: "unknown", Status: "error", Error: "invalid JSON"})
		return
	}

	select {
	case h.queue <- cmd:
		slog.Info("control: command queued", "command", cmd.Command)
	default:
		slog.Warn("control: queue full, command dropped", "command", cmd.Command)
	}
}

func (h *Handler) serve(ctx context.Context) {
	defer h.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-h.queue:
			h.execute(cmd)
		}
	}
}

func (h *Handler) execute(cmd Command) {
	switch cmd.Command {
	case "get_status":
		if h.callbacks.OnGetStatus == nil {
			h.reply(failure(cmd, "get_status is not supported"))
			return
		}
		h.reply(Response{CommandAck: cmd.Command, Status: "success", Data: h.callbacks.OnGetStatus()})

	case "shutdown":
		if h.callbacks.OnShutdown == nil {
			h.reply(failure(cmd, "shutdown is not supported"))
			return
		}
		slog.Warn("control: shutdown requested")
		// ack first: the transport may go away with the node
		h.reply(Response{
			CommandAck: cmd.Command,
			Status:     "success",
			Data:       map[string]any{"shutdown_initiated": true},
		})
		go func() {
			time.Sleep(h.ShutdownDelay)
			if err := h.callbacks.OnShutdown(); err != nil {
				slog.Error("control: shutdown failed", "error", err)
			}
		}()

	default:
		h.reply(failure(cmd, fmt.Sprintf("unknown command %q", cmd.Command)))
	}
}

func failure(cmd Command, msg string) Response {
	return Response{CommandAck: cmd.Command, Status: "error", Error: msg}
}

// reply stamps and publishes resp on the status topic
func (h *Handler) reply(resp Response) {
	resp.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)

	payload, err := json.Marshal(resp)
	if err != nil {
		slog.Error("control: encode response", "error", err)
		return
	}
	if err := h.bus.Publish(h.topics.Status, payload); err != nil {
		slog.Error("control: publish response", "topic", h.topics.Status, "error", err)
		return
	}
	slog.Debug("control: replied", "command", resp.CommandAck, "status", resp.Status)
}
