// Package rtsp captures an H.264 RTSP stream with GStreamer and hands
// decoded bgr8 frames to a sink.
package rtsp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/care/orion-pose/internal/source"
	"github.com/care/orion-pose/internal/types"
)

// Config contains RTSP source settings
type Config struct {
	URL        string
	Width      int
	Height     int
	FPS        float64
	MaxRetries int // consecutive failed connections before giving up (default 5)
}

// Source is a GStreamer RTSP frame source with reconnection.
type Source struct {
	cfg  Config
	sink source.Sink

	seq          atomic.Uint64
	frames       atomic.Uint64
	decodeErrors atomic.Uint64
	reconnects   atomic.Uint32
	lastFrameAt  atomic.Int64
	playing      atomic.Bool

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// New creates an RTSP source
func New(cfg Config, sink source.Sink) (*Source, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("rtsp source: url is required")
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("rtsp source: invalid size %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.FPS <= 0 {
		return nil, fmt.Errorf("rtsp source: fps must be > 0")
	}
	if sink == nil {
		return nil, fmt.Errorf("rtsp source: sink is required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	return &Source{cfg: cfg, sink: sink}, nil
}

// Start runs the capture loop in the background
func (s *Source) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("rtsp source already running")
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.running = true

	slog.Info("camera source started",
		"kind", "rtsp",
		"url", s.cfg.URL,
		"resolution", fmt.Sprintf("%dx%d", s.cfg.Width, s.cfg.Height),
		"fps", s.cfg.FPS,
	)

	s.wg.Add(1)
	go s.run(ctx)
	return nil
}

// run keeps a pipeline playing, reconnecting with exponential backoff
func (s *Source) run(ctx context.Context) {
	defer s.wg.Done()

	retries := 0
	for {
		err := s.play(ctx)
		if ctx.Err() != nil {
			return
		}

		// a pipeline that reached PLAYING starts a fresh retry budget
		if s.playing.Load() {
			retries = 0
		}
		retries++
		s.reconnects.Add(1)
		if retries > s.cfg.MaxRetries {
			slog.Error("rtsp: max retries exceeded, giving up", "attempts", s.cfg.MaxRetries, "error", err)
			return
		}

		delay := backoff(retries, time.Second, 30*time.Second)
		slog.Warn("rtsp: retrying connection",
			"attempt", retries,
			"max_retries", s.cfg.MaxRetries,
			"delay", delay,
			"error", err,
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}
}

// play builds a pipeline, starts it and blocks until it fails or ctx ends
func (s *Source) play(ctx context.Context) error {
	s.playing.Store(false)

	c, err := buildCapture(pipelineConfig{
		URL:    s.cfg.URL,
		Width:  s.cfg.Width,
		Height: s.cfg.Height,
		FPS:    s.cfg.FPS,
	})
	if err != nil {
		return err
	}
	defer c.release()

	c.sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: s.onNewSample,
	})

	// rtspsrc exposes its pads once the session is negotiated
	c.src.Connect("pad-added", func(_ *gst.Element, pad *gst.Pad) {
		target := c.depay.GetStaticPad("sink")
		if target == nil {
			slog.Error("rtsp: depayloader has no sink pad")
			return
		}
		if ret := pad.Link(target); ret != gst.PadLinkOK {
			slog.Error("rtsp: pad link failed", "pad", pad.GetName(), "result", ret)
		}
	})

	if err := c.pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("pipeline to PLAYING: %w", err)
	}

	return s.monitor(ctx, c.pipeline)
}

// monitor watches the bus. It returns nil on cancellation and an error
// when the stream ends or fails, which triggers a reconnect.
func (s *Source) monitor(ctx context.Context, pipeline *gst.Pipeline) error {
	bus := pipeline.GetPipelineBus()
	for ctx.Err() == nil {
		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			return fmt.Errorf("stream ended")
		case gst.MessageError:
			gerr := msg.ParseError()
			slog.Error("rtsp: stream failed",
				"url", s.cfg.URL,
				"error", gerr.Error(),
				"debug", gerr.DebugString(),
				"frames", s.frames.Load(),
			)
			return fmt.Errorf("stream failed: %s", gerr.Error())
		case gst.MessageStateChanged:
			if msg.Source() != pipeline.GetName() {
				continue
			}
			if _, state := msg.ParseStateChanged(); state == gst.StatePlaying {
				s.playing.Store(true)
				slog.Info("rtsp: stream playing", "url", s.cfg.URL)
			}
		}
	}
	return nil
}

// onNewSample runs on the GStreamer streaming thread. The mapped buffer is
// recycled by GStreamer, so every frame gets its own copy.
func (s *Source) onNewSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		s.dropSample("no sample")
		return gst.FlowOK
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		s.dropSample("sample without buffer")
		return gst.FlowOK
	}

	mapped := buffer.Map(gst.MapRead)
	data, err := packRows(mapped.Bytes(), s.cfg.Width, s.cfg.Height)
	buffer.Unmap()
	if err != nil {
		s.dropSample(err.Error())
		return gst.FlowOK
	}

	now := time.Now()
	s.sink.Put(types.Frame{
		Seq:       s.seq.Add(1),
		Timestamp: now,
		Width:     s.cfg.Width,
		Height:    s.cfg.Height,
		Encoding:  types.EncodingBGR8,
		Data:      data,
		Source:    s.cfg.URL,
		TraceID:   uuid.NewString(),
	})
	s.frames.Add(1)
	s.lastFrameAt.Store(now.UnixNano())
	return gst.FlowOK
}

// packRows copies a BGR buffer into a tightly packed frame. Raw video rows
// are padded to 4 bytes unless the buffer is already packed.
func packRows(pixels []byte, width, height int) ([]byte, error) {
	row := width * 3
	stride := row
	if len(pixels) != row*height {
		stride = (row + 3) &^ 3
	}
	if want := stride*(height-1) + row; len(pixels) < want {
		return nil, fmt.Errorf("buffer is %d bytes, want %d", len(pixels), want)
	}
	if stride == row {
		return append([]byte(nil), pixels[:row*height]...), nil
	}

	out := make([]byte, row*height)
	for y := 0; y < height; y++ {
		copy(out[y*row:(y+1)*row], pixels[y*stride:])
	}
	return out, nil
}

func (s *Source) dropSample(reason string) {
	s.decodeErrors.Add(1)
	slog.Warn("rtsp: dropping sample", "reason", reason, "url", s.cfg.URL)
}

// Stop tears down the pipeline and waits for the capture loop to exit
func (s *Source) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	slog.Info("camera source stopped",
		"kind", "rtsp",
		"frames", s.frames.Load(),
		"reconnects", s.reconnects.Load(),
	)
	return nil
}

func (s *Source) Stats() source.Stats {
	var last time.Time
	if ns := s.lastFrameAt.Load(); ns != 0 {
		last = time.Unix(0, ns)
	}
	return source.Stats{
		Kind:         "rtsp",
		Frames:       s.frames.Load(),
		DecodeErrors: s.decodeErrors.Load(),
		LastFrameAt:  last,
		Connected:    s.playing.Load(),
	}
}

// backoff returns base * 2^(attempt-1), capped at limit
func backoff(attempt int, base, limit time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base * time.Duration(1<<uint(min(attempt-1, 30)))
	if delay > limit || delay <= 0 {
		return limit
	}
	return delay
}
