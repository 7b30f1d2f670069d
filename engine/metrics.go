package engine

import (
	"log"
	"time"
)

// RunHealthMetrics logs the engine's two health-termination counters every
// interval until stop is closed, resetting the delta each tick. These
// reasons (timeout_stuck_decode, forced_stuck_fade) should stay at zero in
// healthy operation, so a nonzero line is itself the signal worth logging —
// silence when nothing happened.
func RunHealthMetrics(stop <-chan struct{}, e *Engine, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastDecode, lastFade uint64
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			decode := e.stuckDecodeCount.Load()
			fade := e.stuckFadeCount.Load()
			dDecode := decode - lastDecode
			dFade := fade - lastFade
			lastDecode, lastFade = decode, fade
			if dDecode > 0 || dFade > 0 {
				log.Printf("[engine] health: timeout_stuck_decode=%d forced_stuck_fade=%d (last %s)",
					dDecode, dFade, interval)
			}
		}
	}
}
