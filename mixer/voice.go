package mixer

import (
	"cuecore/internal/metering"
	"cuecore/ring"
)

type voiceState int

const (
	stateNone voiceState = iota
	stateDrainingFadeIn
	stateRunning
	stateDrainingFade
	stateDrainingFadeOut
	stateEnding
)

// voice is the mixer's per-cue render state: the consumer end of a ring,
// the active envelope (if any), the post-envelope mix gain, and pre-sized
// scratch so Render never allocates on the audio path.
type voice struct {
	cueID string
	ring  *ring.Ring

	state voiceState
	env   *envelope

	gainLinear  float64
	totalFrames int64 // out_frame - in_frame, or -1 if unbounded

	reason  string // mixer's best-effort finished reason, set once
	scratch []float32
}

func newVoice(cueID string, r *ring.Ring, blockFrames, channels int, gainDB float64, totalFrames int64) *voice {
	return &voice{
		cueID:       cueID,
		ring:        r,
		state:       stateNone,
		gainLinear:  metering.DBToLinear(gainDB),
		totalFrames: totalFrames,
		scratch:     make([]float32, blockFrames*channels),
	}
}
