// Package source produces decoded frames from cameras and hands them to a
// Sink. Every source runs on its own goroutine and never waits for the
// consumer.
package source

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/care/orion-pose/internal/types"
)

// Sink receives frames. exchange.Exchange satisfies it.
type Sink interface {
	Put(frame types.Frame)
}

// Source is a running frame producer.
type Source interface {
	Start(ctx context.Context) error
	Stop() error
	Stats() Stats
}

// Stats contains source statistics
type Stats struct {
	Kind         string    `json:"kind"`
	Frames       uint64    `json:"frames"`
	DecodeErrors uint64    `json:"decode_errors"`
	LastFrameAt  time.Time `json:"last_frame_at"`
	Connected    bool      `json:"connected"`
}

// counters is embedded by sources to track frames and decode errors
type counters struct {
	seq          atomic.Uint64
	frames       atomic.Uint64
	decodeErrors atomic.Uint64
	lastFrameAt  atomic.Int64
}

// nextSeq returns the next monotonic sequence number, starting at 1
func (c *counters) nextSeq() uint64 {
	return c.seq.Add(1)
}

func (c *counters) delivered() {
	c.frames.Add(1)
	c.lastFrameAt.Store(time.Now().UnixNano())
}

func (c *counters) stats(kind string, connected bool) Stats {
	var last time.Time
	if ns := c.lastFrameAt.Load(); ns != 0 {
		last = time.Unix(0, ns)
	}
	return Stats{
		Kind:         kind,
		Frames:       c.frames.Load(),
		DecodeErrors: c.decodeErrors.Load(),
		LastFrameAt:  last,
		Connected:    connected,
	}
}
