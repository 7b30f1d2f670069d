package engine

import (
	"time"

	"cuecore/mixer"
)

// Cue is the orchestrator's record of one playback instance. An
// UpdateCueCommand rewrites GainDB, InFrame, OutFrame and LoopEnabled on the
// registry's Cue in place; no other field of a live Cue changes. StoppedAt and
// RemovalReason are set once, on the closing snapshot only.
type Cue struct {
	CueID    string
	FilePath string

	InFrame  int64
	OutFrame *int64 // nil means end-of-file

	GainDB     float64
	FadeInMs   int
	FadeOutMs  int
	LoopEnabled bool

	StartedAt time.Time
	StoppedAt time.Time

	// RemovalReason is one of: eof_natural, manual_stop, manual_fade,
	// auto_fade, fade_complete, decode_error:<msg>, timeout_stuck_decode,
	// forced_stuck_fade. Empty until the cue terminates.
	RemovalReason string
}

// Command is the marker interface for everything the host can send to the
// orchestrator's ingress.
type Command interface{ isCommand() }

// PlayCueCommand starts a new cue. AutoFadeOnNew, when true and Layered is
// false, fades every other currently active cue out.
type PlayCueCommand struct {
	CueID         string
	FilePath      string
	InFrame       int64
	OutFrame      *int64
	GainDB        float64
	FadeInMs      int
	FadeOutMs     int
	LoopEnabled   bool
	Layered       bool
	AutoFadeOnNew bool
}

// StopCueCommand stops a cue, fading over its configured FadeOutMs.
type StopCueCommand struct {
	CueID string
}

// FadeCueCommand installs a new envelope on an already-running cue.
type FadeCueCommand struct {
	CueID      string
	TargetDB   float64
	DurationMs int
	Curve      mixer.Curve
}

// UpdateCueCommand partially updates a live cue. Gain changes take effect
// immediately; trim changes are forwarded to the decoder and apply only at
// the next loop boundary.
type UpdateCueCommand struct {
	CueID       string
	InFrame     *int64
	OutFrame    *int64
	GainDB      *float64
	LoopEnabled *bool
}

// BatchCommandsCommand applies Commands sequentially within a single
// orchestrator tick — no other command interleaves the batch.
type BatchCommandsCommand struct {
	Commands []Command
}

func (PlayCueCommand) isCommand()        {}
func (StopCueCommand) isCommand()        {}
func (FadeCueCommand) isCommand()        {}
func (UpdateCueCommand) isCommand()      {}
func (BatchCommandsCommand) isCommand()  {}

// Event is the marker interface for everything the orchestrator emits.
type Event interface{ isEvent() }

// CueStartedEvent reports a cue's initial snapshot at play time.
type CueStartedEvent struct {
	Cue Cue
}

// CueFinishedEvent reports a cue's final snapshot, including its resolved
// RemovalReason.
type CueFinishedEvent struct {
	Cue    Cue
	Reason string
}

// CueTimeEvent reports one cue's trimmed or absolute playhead position,
// coalesced to at most 20 Hz per cue.
type CueTimeEvent struct {
	CueID           string
	ElapsedSeconds  float64
	RemainingSeconds float64
	TotalSeconds    float64
}

// CueLevelsEvent reports one cue's RMS/peak, coalesced to at most 20 Hz.
type CueLevelsEvent struct {
	CueID  string
	RMSDB  float64
	PeakDB float64
}

// MasterLevelsEvent reports the mixed output's RMS/peak.
type MasterLevelsEvent struct {
	RMSDB  float64
	PeakDB float64
}

// DecodeErrorEvent reports a decode failure for a cue. It always precedes
// that cue's CueFinishedEvent.
type DecodeErrorEvent struct {
	CueID   string
	Message string
}

func (CueStartedEvent) isEvent()    {}
func (CueFinishedEvent) isEvent()   {}
func (CueTimeEvent) isEvent()       {}
func (CueLevelsEvent) isEvent()     {}
func (MasterLevelsEvent) isEvent()  {}
func (DecodeErrorEvent) isEvent()   {}
