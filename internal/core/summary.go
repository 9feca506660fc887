package core

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
)

// latencyWindow is the number of recent per-frame latencies kept for the
// summary statistics.
const latencyWindow = 4096

// Summary describes one run of the consumer loop.
type Summary struct {
	Duration      time.Duration `json:"-"`
	DurationS     float64       `json:"duration_s"`
	Frames        uint64        `json:"frames_processed"`
	FPS           float64       `json:"average_fps"`
	LatencyMeanMS float64       `json:"latency_mean_ms"`
	LatencyStdMS  float64       `json:"latency_std_ms"`
	LatencyP50MS  float64       `json:"latency_p50_ms"`
	LatencyP95MS  float64       `json:"latency_p95_ms"`
	Skipped       uint64        `json:"frames_skipped"`
}

// Message renders the one-line exit report.
func (s Summary) Message() string {
	return fmt.Sprintf(
		"Real-time pose estimation demo successfully finished. Total time: %f seconds. %d frames processed. Average fps is %f.",
		s.DurationS, s.Frames, s.FPS,
	)
}

// recorder accumulates loop statistics. Written by the consumer loop,
// read by status and health handlers.
type recorder struct {
	mu        sync.Mutex
	begin     time.Time
	frames    uint64
	skipped   uint64
	latencies []float64 // ring buffer, milliseconds
	next      int
	lastSeq   uint64
	lastAt    time.Time
}

func newRecorder() *recorder {
	return &recorder{latencies: make([]float64, 0, latencyWindow)}
}

func (r *recorder) start(now time.Time) {
	r.mu.Lock()
	r.begin = now
	r.mu.Unlock()
}

func (r *recorder) processed(seq uint64, latency time.Duration, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.frames++
	r.lastSeq = seq
	r.lastAt = now

	ms := float64(latency) / float64(time.Millisecond)
	if len(r.latencies) < latencyWindow {
		r.latencies = append(r.latencies, ms)
		return
	}
	r.latencies[r.next] = ms
	r.next = (r.next + 1) % latencyWindow
}

func (r *recorder) skip() {
	r.mu.Lock()
	r.skipped++
	r.mu.Unlock()
}

// summary computes statistics as of now.
func (r *recorder) summary(now time.Time) Summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Summary{Frames: r.frames, Skipped: r.skipped}
	if !r.begin.IsZero() {
		s.Duration = now.Sub(r.begin)
		s.DurationS = s.Duration.Seconds()
	}
	if s.DurationS > 0 {
		s.FPS = float64(s.Frames) / s.DurationS
	}

	if len(r.latencies) == 0 {
		return s
	}
	s.LatencyMeanMS, s.LatencyStdMS = stat.MeanStdDev(r.latencies, nil)
	if len(r.latencies) == 1 {
		s.LatencyStdMS = 0
	}

	sorted := make([]float64, len(r.latencies))
	copy(sorted, r.latencies)
	sort.Float64s(sorted)
	s.LatencyP50MS = stat.Quantile(0.5, stat.Empirical, sorted, nil)
	s.LatencyP95MS = stat.Quantile(0.95, stat.Empirical, sorted, nil)
	return s
}

func (r *recorder) last() (uint64, time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastSeq, r.lastAt
}
