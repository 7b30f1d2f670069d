// Package metering computes the RMS/peak level pair the mixer and
// orchestrator both need: the mixer to build CueLevelsEvent, the
// orchestrator only to coalesce it. Kept separate so the math has one home.
package metering

import "math"

// MinDB is the floor reported for silence — avoids -Inf reaching consumers.
const MinDB = -96.0

// RMSPeak returns the RMS and peak level of buf in dBFS, each floored at
// MinDB. buf holds interleaved samples; all channels are folded together.
func RMSPeak(buf []float32) (rmsDB, peakDB float64) {
	if len(buf) == 0 {
		return MinDB, MinDB
	}
	var sumSq float64
	var peak float32
	for _, s := range buf {
		sumSq += float64(s) * float64(s)
		a := s
		if a < 0 {
			a = -a
		}
		if a > peak {
			peak = a
		}
	}
	rms := math.Sqrt(sumSq / float64(len(buf)))
	return toDB(rms), toDB(float64(peak))
}

func toDB(linear float64) float64 {
	if linear <= 0 {
		return MinDB
	}
	db := 20 * math.Log10(linear)
	if db < MinDB {
		return MinDB
	}
	return db
}

// DBToLinear converts a dBFS value back to a linear amplitude multiplier.
// A value at or below MinDB is treated as exact silence (0.0), matching the
// "rounds to -∞ dB tears the cue down" rule envelopes rely on.
func DBToLinear(db float64) float64 {
	if db <= MinDB {
		return 0
	}
	return math.Pow(10, db/20)
}
