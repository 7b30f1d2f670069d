package decode

import "cuecore/ring"

// DecodeStart asks the pool to begin decoding a cue into ring. The ring is
// already created by the caller (the orchestrator, which hands the same ring
// to the mixer in OutputStartCue) — the worker only ever pushes into it.
type DecodeStart struct {
	CueID            string
	FilePath         string
	InFrame          int64
	OutFrame         *int64 // nil means end-of-file
	LoopEnabled      bool
	TargetSampleRate int
	TargetChannels   int
	BlockFrames      int
	TargetChunkSize  int
	LookaheadWindow  int
	Ring             *ring.Ring
}

// BufferRequest grants additional credit to an already-running job.
type BufferRequest struct {
	CueID  string
	Frames int
}

// DecodeStop marks a job for teardown at its next safe point. If the job
// has not yet been assigned to a worker (still in the pending queue), it
// is cancelled outright.
type DecodeStop struct {
	CueID string
}

// UpdateCue carries a partial trim/loop update, applied at the job's next
// loop-boundary seek rather than immediately.
type UpdateCue struct {
	CueID       string
	InFrame     *int64
	OutFrame    *int64
	LoopEnabled *bool
}

// ErrorSink receives DecodeError notifications. The orchestrator implements
// this so the pool never needs to know about engine internals.
type ErrorSink interface {
	DecodeError(cueID, message string)
}

// jobDone is sent by a worker back to the coordinator when a job ends (EOF,
// stop, or error) so the coordinator can free the slot and promote the next
// pending DecodeStart.
type jobDone struct {
	cueID string
}
