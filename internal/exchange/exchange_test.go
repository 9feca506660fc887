package exchange_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/care/orion-pose/internal/exchange"
	"github.com/care/orion-pose/internal/types"
)

func frame(seq uint64) types.Frame {
	return types.Frame{
		Seq:      seq,
		Width:    2,
		Height:   1,
		Encoding: types.EncodingBGR8,
		Data:     []byte{1, 2, 3, 4, 5, 6},
	}
}

// TestTakeEmpty validates Take on a fresh exchange reports no frame.
func TestTakeEmpty(t *testing.T) {
	ex := exchange.New()

	_, ok := ex.Take()
	assert.False(t, ok)
	assert.False(t, ex.Pending())
}

// TestLatestWins validates overwrite semantics.
//
// Scenario:
//  1. Put frames 1, 2, 3 with no Take in between
//  2. Take once
//  3. Assert: frame 3 is returned, frames 1 and 2 are never observed
//  4. Assert: Drops = 2
func TestLatestWins(t *testing.T) {
	ex := exchange.New()

	ex.Put(frame(1))
	ex.Put(frame(2))
	ex.Put(frame(3))

	got, ok := ex.Take()
	require.True(t, ok)
	assert.Equal(t, uint64(3), got.Seq)

	_, ok = ex.Take()
	assert.False(t, ok, "frames 1 and 2 must not surface after 3 was taken")

	stats := ex.Stats()
	assert.Equal(t, uint64(3), stats.Puts)
	assert.Equal(t, uint64(1), stats.Takes)
	assert.Equal(t, uint64(2), stats.Drops)
	assert.Equal(t, uint64(3), stats.LastPutSeq)
	assert.Equal(t, uint64(3), stats.LastTakeSeq)
	assert.InDelta(t, 2.0/3.0, stats.DropRate(), 1e-9)
}

// TestNoDoubleConsumption validates Take clears the slot.
func TestNoDoubleConsumption(t *testing.T) {
	ex := exchange.New()
	ex.Put(frame(7))

	got, ok := ex.Take()
	require.True(t, ok)
	assert.Equal(t, uint64(7), got.Seq)

	_, ok = ex.Take()
	assert.False(t, ok)
	assert.Equal(t, uint64(0), ex.Stats().Drops)
}

// TestPutAfterTake validates a consumed slot accepts a new frame without
// counting a drop.
func TestPutAfterTake(t *testing.T) {
	ex := exchange.New()

	ex.Put(frame(1))
	_, _ = ex.Take()
	ex.Put(frame(2))

	got, ok := ex.Take()
	require.True(t, ok)
	assert.Equal(t, uint64(2), got.Seq)
	assert.Equal(t, uint64(0), ex.Stats().Drops)
}

// TestPutNonBlocking validates Put returns in bounded time regardless of
// slot state.
//
// Scenario:
//  1. Put 10000 frames with no consumer (slot always full)
//  2. Assert: total time well under 1s
func TestPutNonBlocking(t *testing.T) {
	ex := exchange.New()

	start := time.Now()
	for i := uint64(1); i <= 10000; i++ {
		ex.Put(frame(i))
	}
	elapsed := time.Since(start)

	assert.Less(t, elapsed, time.Second, "Put blocked: %v for 10000 frames", elapsed)
	assert.Equal(t, uint64(9999), ex.Stats().Drops)
}

// TestConcurrentProducerConsumer validates the consumer only ever sees
// increasing sequence numbers and never the same frame twice while a
// producer hammers Put from another goroutine.
func TestConcurrentProducerConsumer(t *testing.T) {
	ex := exchange.New()
	const total = 20000

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := uint64(1); i <= total; i++ {
			ex.Put(frame(i))
		}
	}()

	var last uint64
	seen := 0
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	for {
		if f, ok := ex.Take(); ok {
			require.Greater(t, f.Seq, last, "sequence went backwards or repeated")
			last = f.Seq
			seen++
			continue
		}
		select {
		case <-done:
			if f, ok := ex.Take(); ok {
				require.Greater(t, f.Seq, last)
				last = f.Seq
				seen++
			}
			stats := ex.Stats()
			assert.Equal(t, uint64(total), stats.Puts)
			assert.Equal(t, uint64(seen), stats.Takes)
			assert.Equal(t, stats.Puts, stats.Takes+stats.Drops)
			assert.Equal(t, uint64(total), last, "newest frame must survive")
			return
		default:
		}
	}
}

// TestTakeDoesNotAliasSlot validates the slot buffer reference is released
// on Take.
func TestTakeDoesNotAliasSlot(t *testing.T) {
	ex := exchange.New()
	ex.Put(frame(1))
	got, ok := ex.Take()
	require.True(t, ok)
	assert.True(t, got.Valid())
	assert.False(t, ex.Pending())
}
