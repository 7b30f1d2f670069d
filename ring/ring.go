// Package ring implements the per-cue PCM queue between one decoder worker
// and the output mixer: a bounded, credit-gated single-producer /
// single-consumer FIFO of decoded chunks.
//
// The producer (a decoder worker) calls Push; the consumer (the mixer
// callback) calls DrainInto and RequestCredit. Both sides share only the
// bookkeeping protected by the ring's mutex plus the atomic playhead
// counter — short, allocation-free critical sections, never a blocking
// wait, so the mixer's realtime callback never stalls on a decoder that is
// behind.
package ring

import (
	"sync"
	"sync/atomic"
	"time"
)

// Chunk is one batch of decoded, resampled PCM at the ring's fixed channel
// count. IsLoopRestart marks the first chunk of a new loop iteration; EOF
// marks the final chunk of a non-looping cue and is never set for a
// looping one.
type Chunk struct {
	PCM           []float32 // interleaved, len == Frames*channels
	Frames        int
	IsLoopRestart bool
	EOF           bool
}

// CreditSink receives BufferRequest notifications when a ring's consumer
// asks for more frames. The decoder coordinator implements this.
type CreditSink interface {
	RequestCredit(cueID string, frames int)
}

// Ring is the per-cue PCM queue described above.
type Ring struct {
	cueID    string
	channels int
	sink     CreditSink

	mu                 sync.Mutex
	chunks             []Chunk
	frames             int
	eof                bool
	finishedPending    bool
	requestPending     bool
	requestStartedAt   time.Time
	lastPCMTime        time.Time
	firstChunkReceived bool
	framesPushed       uint64
	framesDrained      uint64

	samplesConsumed atomic.Uint64
}

// New returns an empty ring for cueID. sink may be nil in tests that only
// exercise Push/DrainInto without credit requests.
func New(cueID string, channels int, sink CreditSink) *Ring {
	return &Ring{cueID: cueID, channels: channels, sink: sink}
}

// CueID returns the cue this ring belongs to.
func (r *Ring) CueID() string { return r.cueID }

// Push appends a decoded chunk. Called only by the owning decoder worker.
func (r *Ring) Push(c Chunk) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunks = append(r.chunks, c)
	r.frames += c.Frames
	r.framesPushed += uint64(c.Frames)
	r.lastPCMTime = time.Now()
	r.firstChunkReceived = true
	r.requestPending = false
	if c.EOF {
		r.eof = true
	}
}

// DrainInto copies up to dstFrames frames into dst (sized for
// dstFrames*channels samples), returning the number of frames actually
// filled. The caller must zero-pad the remainder itself. Called only by
// the mixer callback.
func (r *Ring) DrainInto(dstFrames int, dst []float32) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	remaining := dstFrames
	pos := 0
	for remaining > 0 && len(r.chunks) > 0 {
		head := &r.chunks[0]
		take := head.Frames
		if take > remaining {
			take = remaining
		}
		n := take * r.channels
		off := pos * r.channels
		copy(dst[off:off+n], head.PCM[:n])

		pos += take
		remaining -= take
		r.frames -= take
		r.framesDrained += uint64(take)

		if take == head.Frames {
			r.chunks = r.chunks[1:]
		} else {
			head.PCM = head.PCM[n:]
			head.Frames -= take
		}
	}

	r.samplesConsumed.Add(uint64(pos))
	if pos == 0 && r.eof && r.frames == 0 {
		r.finishedPending = true
	}
	return pos
}

// RequestCredit marks a request as outstanding and notifies the sink, if
// one is attached. A second call while a request is already pending is a
// no-op — the mixer calls this on every block spent below the low-water mark
// without checking RequestPending, and relies on this guard against
// duplicate sends.
func (r *Ring) RequestCredit(frames int) {
	r.mu.Lock()
	if r.requestPending {
		r.mu.Unlock()
		return
	}
	r.requestPending = true
	r.requestStartedAt = time.Now()
	r.mu.Unlock()

	if r.sink != nil {
		r.sink.RequestCredit(r.cueID, frames)
	}
}

// Frames returns the currently buffered frame count.
func (r *Ring) Frames() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

// EOF reports whether the producer has finished (non-looping cues only).
func (r *Ring) EOF() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.eof
}

// ForceEOF marks the ring EOF without a final chunk — used by the stuck-cue
// watchdog to force-terminate a ring whose producer will never arrive.
func (r *Ring) ForceEOF() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.eof = true
	r.finishedPending = true
}

// FinishedPending reports whether the consumer has observed the final
// sample of a non-looping cue.
func (r *Ring) FinishedPending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finishedPending
}

// RequestPending reports whether a credit request is currently outstanding.
func (r *Ring) RequestPending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.requestPending
}

// Stuck reports whether this ring matches the watchdog's stuck-cue
// condition: a request has been outstanding and no PCM has arrived for
// longer than timeout, and the ring has already received at least one
// chunk (a cue that has never received PCM is never considered stuck —
// it simply hasn't started yet).
func (r *Ring) Stuck(now time.Time, timeout time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.firstChunkReceived || !r.requestPending || r.frames != 0 {
		return false
	}
	return now.Sub(r.requestStartedAt) > timeout && now.Sub(r.lastPCMTime) > timeout
}

// SamplesConsumed returns the monotonic drained-frame counter. Safe to call
// from the realtime callback without taking the mutex — it is the one field
// read lock-free, per the playhead-accounting invariant.
func (r *Ring) SamplesConsumed() uint64 {
	return r.samplesConsumed.Load()
}

// Stats reports the cumulative push/drain counters used to verify credit
// conservation in tests: FramesPushed should never exceed granted credit,
// and FramesDrained+current Frames() should equal FramesPushed.
type Stats struct {
	FramesPushed  uint64
	FramesDrained uint64
}

func (r *Ring) StatsSnapshot() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{FramesPushed: r.framesPushed, FramesDrained: r.framesDrained}
}
