package mixer

import "math"

// envelope is a linear-time gain ramp from start to target over totalFrames,
// in one of two curve shapes. Completing to a target of exactly 0 (linear)
// is the "-∞ dB" signal that tears the owning voice down.
type envelope struct {
	start, target float64
	totalFrames   int64
	elapsedFrames int64
	curve         Curve
}

func newEnvelope(start, target float64, durationMs, sampleRate int, curve Curve) *envelope {
	total := int64(durationMs) * int64(sampleRate) / 1000
	if total < 1 {
		total = 1
	}
	return &envelope{start: start, target: target, totalFrames: total, curve: curve}
}

// gainAt returns the envelope's linear gain at elapsed frames t (clamped to
// [0, totalFrames]).
func (e *envelope) gainAt(t int64) float64 {
	if t >= e.totalFrames {
		return e.target
	}
	if t <= 0 {
		return e.start
	}
	frac := float64(t) / float64(e.totalFrames)
	switch e.curve {
	case CurveEqualPower:
		theta := frac * math.Pi / 2
		return e.start*math.Cos(theta) + e.target*math.Sin(theta)
	default:
		return e.start + (e.target-e.start)*frac
	}
}

func (e *envelope) currentGain() float64 {
	return e.gainAt(e.elapsedFrames)
}

func (e *envelope) done() bool {
	return e.elapsedFrames >= e.totalFrames
}

// targetIsSilence reports whether this envelope's destination gain is
// exactly silence — the tear-down trigger.
func (e *envelope) targetIsSilence() bool {
	return e.target == 0
}
