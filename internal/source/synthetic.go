package source

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/care/orion-pose/internal/types"
)

// Synthetic generates frames at a fixed rate for testing and dry runs.
// Each frame is a gradient with a vertical bar that moves with the sequence
// number, so consecutive frames differ.
type Synthetic struct {
	width  int
	height int
	fps    float64
	sink   Sink

	counters
	mu        sync.Mutex
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	isRunning bool
	startTime time.Time
}

// NewSynthetic creates a synthetic source
func NewSynthetic(width, height int, fps float64, sink Sink) (*Synthetic, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("synthetic source: invalid size %dx%d", width, height)
	}
	if fps <= 0 {
		return nil, fmt.Errorf("synthetic source: fps must be > 0")
	}
	if sink == nil {
		return nil, fmt.Errorf("synthetic source: sink is required")
	}
	return &Synthetic{width: width, height: height, fps: fps, sink: sink}, nil
}

// Start begins generating frames
func (s *Synthetic) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		return fmt.Errorf("synthetic source already running")
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.isRunning = true
	s.startTime = time.Now()

	slog.Info("camera source started",
		"kind", "synthetic",
		"width", s.width,
		"height", s.height,
		"fps", s.fps,
	)

	s.wg.Add(1)
	go s.generate(ctx)
	return nil
}

// Stop stops the generator and waits for it to exit
func (s *Synthetic) Stop() error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()

	slog.Info("camera source stopped",
		"kind", "synthetic",
		"frames", s.frames.Load(),
		"duration", time.Since(s.startTime),
	)
	return nil
}

func (s *Synthetic) Stats() Stats {
	s.mu.Lock()
	running := s.isRunning
	s.mu.Unlock()
	return s.stats("synthetic", running)
}

func (s *Synthetic) generate(ctx context.Context) {
	defer s.wg.Done()

	interval := time.Duration(float64(time.Second) / s.fps)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sink.Put(s.createFrame())
			s.delivered()
		}
	}
}

// createFrame allocates a fresh bgr8 buffer for every frame
func (s *Synthetic) createFrame() types.Frame {
	seq := s.nextSeq()
	data := make([]byte, s.width*s.height*3)

	bar := int(seq*8) % s.width
	for y := 0; y < s.height; y++ {
		g := byte(y * 255 / s.height)
		row := data[y*s.width*3:]
		for x := 0; x < s.width; x++ {
			p := row[x*3 : x*3+3]
			p[0] = byte(x * 255 / s.width)
			p[1] = g
			p[2] = 64
			if x >= bar && x < bar+8 {
				p[0], p[1], p[2] = 255, 255, 255
			}
		}
	}

	return types.Frame{
		Seq:       seq,
		Timestamp: time.Now(),
		Width:     s.width,
		Height:    s.height,
		Encoding:  types.EncodingBGR8,
		Data:      data,
		Source:    "synthetic",
		TraceID:   uuid.NewString(),
	}
}
