// Package exchange provides the single-slot, latest-wins frame mailbox that
// sits between asynchronous frame sources and the synchronous analysis loop.
//
// Sources call Put from their own goroutines (MQTT callback, GStreamer
// appsink callback, ticker). The node loop calls Take. Neither call blocks:
// the critical section is a value swap under a mutex, never decode or
// analysis work.
//
// Policy: a new frame unconditionally replaces an unconsumed one. Frames
// that arrive faster than the consumer can analyze them are dropped and
// counted; only the newest survives. Take clears the slot, so two Takes
// without an intervening Put yield (frame, then empty).
package exchange
