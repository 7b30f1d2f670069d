package engine

import "time"

// registry is the orchestrator's single-owner bookkeeping, touched only
// from the tick-loop goroutine — never from Submit or the EventSink
// callbacks, which only enqueue.
type registry struct {
	cues           map[string]*Cue
	removalReasons map[string]string
	fadeRequested  map[string]bool
	pendingStops   map[string]time.Time // cue_id -> refade deadline
	refadeAttempts map[string]int
}

func newRegistry() *registry {
	return &registry{
		cues:           make(map[string]*Cue),
		removalReasons: make(map[string]string),
		fadeRequested:  make(map[string]bool),
		pendingStops:   make(map[string]time.Time),
		refadeAttempts: make(map[string]int),
	}
}

func (r *registry) add(c *Cue) {
	r.cues[c.CueID] = c
}

// setIntent records the orchestrator's own belief about why a cue will end.
// Per the engine-intent-wins rule, this always overwrites any prior value —
// the cue is still live, so the newest engine-issued command is the
// authoritative one.
func (r *registry) setIntent(cueID, reason string) {
	r.removalReasons[cueID] = reason
}

// finalize builds the immutable closing snapshot for cueID and removes all
// of this cue's bookkeeping. mixerReason is used only if the orchestrator
// never recorded its own intent.
func (r *registry) finalize(cueID, mixerReason string, now time.Time) (Cue, bool) {
	c, ok := r.cues[cueID]
	if !ok {
		return Cue{}, false
	}
	reason := mixerReason
	if intent, ok := r.removalReasons[cueID]; ok && intent != "" {
		reason = intent
	}
	snapshot := *c
	snapshot.StoppedAt = now
	snapshot.RemovalReason = reason

	delete(r.cues, cueID)
	delete(r.removalReasons, cueID)
	delete(r.fadeRequested, cueID)
	delete(r.pendingStops, cueID)
	delete(r.refadeAttempts, cueID)
	return snapshot, true
}

// cueTime computes elapsed/remaining/total seconds for a cue given the
// ring's monotonic samples_consumed counter, honoring the orchestrator's
// trimmed-relative (default) or absolute-file time mode.
func cueTime(c *Cue, samplesConsumed uint64, sampleRate int, absoluteMode bool) (elapsed, remaining, total float64) {
	sr := float64(sampleRate)
	trimmedElapsed := float64(samplesConsumed) / sr

	var trimDuration float64
	if c.OutFrame != nil {
		trimDuration = float64(*c.OutFrame-c.InFrame) / sr
	} else {
		// Unbounded (plays to EOF): total is not knowable ahead of time, so
		// remaining tracks 0 and total grows with elapsed.
		trimDuration = trimmedElapsed
	}

	if absoluteMode {
		elapsed = float64(c.InFrame)/sr + trimmedElapsed
		total = float64(c.InFrame)/sr + trimDuration
	} else {
		elapsed = trimmedElapsed
		total = trimDuration
	}
	remaining = total - elapsed
	if remaining < 0 {
		remaining = 0
	}
	return elapsed, remaining, total
}
