package exchange

import "time"

// Stats is a snapshot of exchange operational state.
type Stats struct {
	// Puts counts frames handed in by sources.
	Puts uint64
	// Takes counts frames handed out to the consumer.
	Takes uint64
	// Drops counts frames overwritten before being taken.
	// Non-zero is expected whenever analysis is slower than the camera.
	Drops uint64
	// LastPutSeq is the sequence number of the newest frame put.
	LastPutSeq uint64
	// LastTakeSeq is the sequence number of the newest frame taken.
	LastTakeSeq uint64
	// LastPutAt is when the newest frame was put (zero if never).
	LastPutAt time.Time
}

// DropRate returns drops as a fraction of puts.
func (s Stats) DropRate() float64 {
	if s.Puts == 0 {
		return 0
	}
	return float64(s.Drops) / float64(s.Puts)
}

// Stats returns a snapshot. Values may be slightly stale relative to each
// other, which is acceptable for monitoring.
func (e *Exchange) Stats() Stats {
	var lastPutAt time.Time
	if ns := e.lastPutAt.Load(); ns != 0 {
		lastPutAt = time.Unix(0, ns)
	}
	return Stats{
		Puts:        e.puts.Load(),
		Takes:       e.takes.Load(),
		Drops:       e.drops.Load(),
		LastPutSeq:  e.lastPutSeq.Load(),
		LastTakeSeq: e.lastTakeSeq.Load(),
		LastPutAt:   lastPutAt,
	}
}
