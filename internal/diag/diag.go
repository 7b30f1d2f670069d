// Package diag is the indirection the mixer's realtime callback logs
// through. The callback must never call log.Printf directly — that can
// block on an OS write — so it writes into a fixed-size lock-free ring
// instead, and a single background goroutine drains the ring and forwards
// entries to the standard logger.
package diag

import (
	"log"
	"sync/atomic"
	"time"
)

const (
	ringSize = 256 // power of 2
	ringMask = ringSize - 1
)

// entry is one diagnostic line. component is a short tag like "mixer" or
// "decode"; msg is pre-formatted — the ring never formats on the hot path.
type entry struct {
	component string
	msg       string
	at        time.Time
	set       atomic.Bool
}

// Ring is a single-producer/single-consumer lock-free log ring. The
// producer (the realtime callback) calls Push; the consumer (Drain's
// goroutine) calls next in a loop. Overflow silently drops the oldest
// unread entry rather than blocking the producer.
type Ring struct {
	slots [ringSize]entry
	head  atomic.Uint64 // next slot to write
	tail  atomic.Uint64 // next slot to read
}

// New returns an empty diagnostic ring.
func New() *Ring {
	return &Ring{}
}

// Push records a diagnostic line without blocking or allocating beyond the
// string itself. Safe to call from the audio callback.
func (r *Ring) Push(component, msg string) {
	i := r.head.Add(1) - 1
	slot := &r.slots[i&ringMask]
	slot.set.Store(false)
	slot.component = component
	slot.msg = msg
	slot.at = time.Now()
	slot.set.Store(true)
}

// next returns the oldest unread entry, if any is available.
func (r *Ring) next() (entry, bool) {
	tail := r.tail.Load()
	head := r.head.Load()
	if tail >= head {
		return entry{}, false
	}
	if head-tail > ringSize {
		// The producer has lapped the reader: the oldest unread slots were
		// overwritten, so skip ahead to the oldest entry still held.
		tail = head - ringSize
	}
	slot := &r.slots[tail&ringMask]
	if !slot.set.Load() {
		return entry{}, false
	}
	e := *slot
	r.tail.Store(tail + 1)
	return e, true
}

// Drain starts a goroutine that forwards every entry pushed to r to the
// standard logger, bracketed with its component tag, until stop is closed.
// It polls at the given interval rather than blocking on a channel, since
// the ring has no wakeup signal of its own.
func (r *Ring) Drain(stop <-chan struct{}, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				r.flush()
				return
			case <-ticker.C:
				r.flush()
			}
		}
	}()
}

func (r *Ring) flush() {
	for {
		e, ok := r.next()
		if !ok {
			return
		}
		log.Printf("[%s] %s", e.component, e.msg)
	}
}
