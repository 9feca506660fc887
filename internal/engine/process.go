package engine

import (
	"bufio"
	"context"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/care/orion-pose/internal/render"
	"github.com/care/orion-pose/internal/types"
)

// ProcessConfig configures an external worker engine
type ProcessConfig struct {
	Command string
	Args    []string
	Env     []string // appended to the current environment

	Model         types.PoseModel
	ModelFolder   string
	NumGPUStart   int
	NetResolution image.Point
	ScaleNumber   int
	ScaleGap      float64

	Renderer *render.Skeleton
}

// Process runs the network in a child process.
//
// The worker reads requests on stdin and answers on stdout using the
// length-prefixed msgpack protocol; stderr lines are forwarded to the log.
// ForwardPass blocks until the worker replies.
type Process struct {
	cfg ProcessConfig

	cmd        *exec.Cmd
	stdin      io.WriteCloser
	stdout     *bufio.Reader
	stdoutFile *os.File
	stderr     io.ReadCloser

	ready   atomic.Bool
	closing atomic.Bool
	exited  chan struct{}
	wg      sync.WaitGroup

	poses  []types.Pose
	passes uint64
}

// NewProcess creates a process engine; the worker starts in Initialize.
func NewProcess(cfg ProcessConfig) (*Process, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("process engine: command is required")
	}
	if cfg.Renderer == nil {
		return nil, fmt.Errorf("process engine: renderer is required")
	}
	return &Process{cfg: cfg, exited: make(chan struct{})}, nil
}

// Initialize spawns the worker and waits for it to load its model.
// A worker that reports an error or exits before "ready" fails initialization.
func (p *Process) Initialize(ctx context.Context) error {
	if err := p.spawn(); err != nil {
		return err
	}

	req := initRequest{
		Type:          msgInit,
		ModelFolder:   p.cfg.ModelFolder,
		ModelPose:     p.cfg.Model.String(),
		NumGPUStart:   p.cfg.NumGPUStart,
		NetResolution: [2]int{p.cfg.NetResolution.X, p.cfg.NetResolution.Y},
		ScaleNumber:   p.cfg.ScaleNumber,
		ScaleGap:      p.cfg.ScaleGap,
	}

	done := make(chan error, 1)
	go func() {
		if err := writeMessage(p.stdin, req); err != nil {
			done <- err
			return
		}
		var resp workerResponse
		if err := readMessage(p.stdout, &resp); err != nil {
			done <- err
			return
		}
		switch resp.Type {
		case msgReady:
			done <- nil
		case msgError:
			done <- fmt.Errorf("worker failed to initialize: %s", resp.Error)
		default:
			done <- fmt.Errorf("unexpected worker reply %q to init", resp.Type)
		}
	}()

	select {
	case err := <-done:
		if err != nil {
			p.Close()
			return fmt.Errorf("process engine initialization: %w", err)
		}
	case <-ctx.Done():
		p.Close()
		return fmt.Errorf("process engine initialization: %w", ctx.Err())
	}

	p.ready.Store(true)
	slog.Info("pose worker ready",
		"pid", p.cmd.Process.Pid,
		"model", p.cfg.Model,
		"net_resolution", fmt.Sprintf("%dx%d", p.cfg.NetResolution.X, p.cfg.NetResolution.Y),
		"scale_number", p.cfg.ScaleNumber,
	)
	return nil
}

// spawn starts the worker subprocess and its stderr/wait goroutines
func (p *Process) spawn() error {
	cmd := exec.Command(p.cfg.Command, p.cfg.Args...)
	if len(p.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), p.cfg.Env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	p.stdin = stdin

	// an explicit pipe keeps replies readable after the worker exits;
	// StdoutPipe would be closed by Wait
	stdout, stdoutW, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	cmd.Stdout = stdoutW
	p.stdoutFile = stdout
	p.stdout = bufio.NewReaderSize(stdout, 1<<16)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	p.stderr = stderr

	err = cmd.Start()
	stdoutW.Close()
	if err != nil {
		stdout.Close()
		return fmt.Errorf("failed to start pose worker: %w", err)
	}

	p.cmd = cmd
	slog.Info("pose worker spawned", "command", p.cfg.Command, "pid", cmd.Process.Pid)

	p.wg.Add(2)
	go p.logStderr()
	go p.waitProcess()
	return nil
}

func (p *Process) ForwardPass(input NetInput, original image.Point, scaleRatios []float64) error {
	if !p.ready.Load() {
		return ErrNotReady
	}
	if len(input.Tensors) != len(scaleRatios) {
		return fmt.Errorf("process engine: %d tensors but %d scale ratios", len(input.Tensors), len(scaleRatios))
	}

	req := forwardRequest{
		Type:        msgForward,
		Width:       original.X,
		Height:      original.Y,
		ScaleRatios: scaleRatios,
		Tensors:     make([]wireTensor, len(input.Tensors)),
	}
	for i, t := range input.Tensors {
		req.Tensors[i] = encodeTensor(t)
	}

	if err := writeMessage(p.stdin, req); err != nil {
		return fmt.Errorf("forward pass: %w", err)
	}

	var resp workerResponse
	if err := readMessage(p.stdout, &resp); err != nil {
		return fmt.Errorf("forward pass: %w", err)
	}

	switch resp.Type {
	case msgPeople:
		p.poses = resp.People
		p.passes++
		return nil
	case msgError:
		return fmt.Errorf("forward pass: worker error: %s", resp.Error)
	default:
		return fmt.Errorf("forward pass: unexpected worker reply %q", resp.Type)
	}
}

func (p *Process) Keypoints() []types.Pose {
	return p.poses
}

func (p *Process) Render(canvas *render.Canvas, kp types.KeypointSet) error {
	if !p.ready.Load() {
		return ErrNotReady
	}
	return p.cfg.Renderer.Render(canvas, kp)
}

// Close stops the worker. Closing stdin asks it to exit; it is killed if it
// has not exited within two seconds.
func (p *Process) Close() error {
	if p.cmd == nil || p.closing.Swap(true) {
		return nil
	}
	p.ready.Store(false)

	if p.stdin != nil {
		p.stdin.Close()
	}

	select {
	case <-p.exited:
	case <-time.After(2 * time.Second):
		slog.Warn("pose worker stop timeout, force killing process", "pid", p.cmd.Process.Pid)
		if err := p.cmd.Process.Kill(); err != nil {
			slog.Error("failed to kill pose worker", "error", err)
		}
	}

	p.wg.Wait()
	p.stdoutFile.Close()
	slog.Info("pose worker stopped", "forward_passes", p.passes)
	return nil
}

// logStderr maps worker log levels onto slog
func (p *Process) logStderr() {
	defer p.wg.Done()

	scanner := bufio.NewScanner(p.stderr)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.Contains(line, "[ERROR]"), strings.Contains(line, "[CRITICAL]"):
			slog.Error("pose worker error", "log", line)
		case strings.Contains(line, "[WARNING]"), strings.Contains(line, "[WARN]"):
			slog.Warn("pose worker warning", "log", line)
		default:
			slog.Debug("pose worker log", "log", line)
		}
	}
}

// waitProcess reaps the worker
func (p *Process) waitProcess() {
	defer p.wg.Done()
	defer close(p.exited)

	err := p.cmd.Wait()
	switch {
	case err == nil:
		slog.Info("pose worker exited cleanly", "pid", p.cmd.Process.Pid)
	case p.closing.Load():
		slog.Debug("pose worker exited (shutdown)", "pid", p.cmd.Process.Pid)
	default:
		slog.Error("pose worker exited unexpectedly", "pid", p.cmd.Process.Pid, "error", err)
	}
}
