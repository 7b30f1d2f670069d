package mixer

import (
	"time"

	"cuecore/decode"
	"cuecore/internal/config"
	"cuecore/internal/diag"
	"cuecore/internal/metering"
	"cuecore/internal/waterline"
)

// Mixer is the realtime pull callback target: Render is invoked by the
// host audio API once per block and must return within the block deadline
// regardless of cue count. All state mutation happens on the callback's own
// goroutine; commands arrive over a buffered channel the callback drains
// with try-recv, never a blocking read.
type Mixer struct {
	cfg        config.EngineConfig
	events     EventSink
	decodePool DecodeStopSink
	diag       *diag.Ring

	cmdCh chan Command

	voices  map[string]*voice
	gainVec []float32

	stuckTimeout time.Duration
}

// New constructs a Mixer. cmdQueueSize bounds the orchestrator-to-mixer
// inbox; a full inbox causes the orchestrator's send to be dropped rather
// than block.
func New(cfg config.EngineConfig, events EventSink, decodePool DecodeStopSink, d *diag.Ring, cmdQueueSize int) *Mixer {
	return &Mixer{
		cfg:          cfg,
		events:       events,
		decodePool:   decodePool,
		diag:         d,
		cmdCh:        make(chan Command, cmdQueueSize),
		voices:       make(map[string]*voice),
		gainVec:      make([]float32, cfg.BlockFrames),
		stuckTimeout: time.Duration(cfg.StuckTimeoutMS) * time.Millisecond,
	}
}

// Submit enqueues a command for application at the start of the next
// Render call. Non-blocking: a full inbox drops the command, matching the
// "no blocking send" rule for anything that can reach the audio path.
func (m *Mixer) Submit(cmd Command) bool {
	select {
	case m.cmdCh <- cmd:
		return true
	default:
		return false
	}
}

// ActiveCueIDs returns the cue IDs with a live voice — used by tests and by
// the orchestrator's bookkeeping, never by Render itself.
func (m *Mixer) ActiveCueIDs() []string {
	ids := make([]string, 0, len(m.voices))
	for id := range m.voices {
		ids = append(ids, id)
	}
	return ids
}

// Render fills out (block_frames*channels interleaved f32) with the mixed
// signal for this block. It never blocks, never allocates beyond what New
// pre-sized, and never logs synchronously.
func (m *Mixer) Render(out []float32) {
	// Finalize whatever the previous callback marked "ending" before
	// touching this callback's commands — matches the state diagram's
	// one-callback-later emission.
	m.finalizeEnding()
	m.drainCommands()

	for i := range out {
		out[i] = 0
	}

	activeEnvelopes := 0
	for _, v := range m.voices {
		if v.env != nil {
			activeEnvelopes++
		}
	}

	frames := len(out) / m.cfg.Channels
	for _, v := range m.voices {
		if v.state == stateEnding {
			continue
		}
		m.renderVoice(v, frames, out, activeEnvelopes)
	}

	m.runWatchdog(time.Now())

	rmsDB, peakDB := metering.RMSPeak(out)
	m.events.MasterLevels(rmsDB, peakDB)
}

func (m *Mixer) drainCommands() {
	for {
		select {
		case cmd := <-m.cmdCh:
			m.apply(cmd)
		default:
			return
		}
	}
}

func (m *Mixer) apply(cmd Command) {
	switch c := cmd.(type) {
	case OutputStartCue:
		m.applyStartCue(c)
	case OutputStopCue:
		m.applyStopCue(c)
	case OutputFadeTo:
		m.applyFadeTo(c)
	case UpdateCueGain:
		if v, ok := m.voices[c.CueID]; ok {
			v.gainLinear = metering.DBToLinear(c.GainDB)
		}
	}
}

func (m *Mixer) applyStartCue(c OutputStartCue) {
	// A cue_id is only ever reused by the orchestrator after the prior
	// voice's CueFinishedEvent — any stale entry here is from a voice this
	// callback has not yet finalized, so it is simply replaced.
	v := newVoice(c.CueID, c.Ring, m.cfg.BlockFrames, m.cfg.Channels, c.GainDB, c.TotalFrames)
	if c.FadeInMs > 0 {
		v.state = stateDrainingFadeIn
		v.env = newEnvelope(0, 1, c.FadeInMs, m.cfg.SampleRate, c.FadeInCurve)
	} else {
		v.state = stateRunning
	}
	m.voices[c.CueID] = v
	v.ring.RequestCredit(waterline.CreditRequest(m.cfg.BlockFrames, len(m.voices), m.cfg.WaterlineParams()))
}

func (m *Mixer) applyStopCue(c OutputStopCue) {
	v, ok := m.voices[c.CueID]
	if !ok || v.state == stateEnding {
		return
	}
	v.state = stateDrainingFadeOut
	if c.FadeOutMs <= 0 {
		v.env = nil
		v.state = stateEnding
		v.reason = "fade_complete"
	} else {
		v.env = newEnvelope(m.currentGain(v), 0, c.FadeOutMs, m.cfg.SampleRate, c.Curve)
	}
}

func (m *Mixer) applyFadeTo(c OutputFadeTo) {
	v, ok := m.voices[c.CueID]
	if !ok || v.state == stateEnding {
		return
	}
	v.state = stateDrainingFade
	v.env = newEnvelope(m.currentGain(v), metering.DBToLinear(c.TargetDB), c.DurationMs, m.cfg.SampleRate, c.Curve)
}

// currentGain returns v's instantaneous envelope gain (1.0 if none is
// active), used as the start point for a newly installed envelope.
func (m *Mixer) currentGain(v *voice) float64 {
	if v.env == nil {
		return 1
	}
	return v.env.currentGain()
}

func (m *Mixer) finalizeEnding() {
	for id, v := range m.voices {
		if v.state == stateEnding {
			m.events.CueFinished(id, v.reason)
			if m.decodePool != nil {
				m.decodePool.Stop(decode.DecodeStop{CueID: id})
			}
			delete(m.voices, id)
		}
	}
}

func (m *Mixer) renderVoice(v *voice, frames int, out []float32, activeEnvelopes int) {
	scratch := v.scratch[:frames*m.cfg.Channels]
	for i := range scratch {
		scratch[i] = 0
	}
	filled := v.ring.DrainInto(frames, scratch)

	m.applyEnvelope(v, scratch, frames, activeEnvelopes)

	for i, s := range scratch {
		out[i] += s * float32(v.gainLinear)
	}

	if v.state == stateDrainingFadeIn && v.env != nil && v.env.done() {
		v.env = nil
		v.state = stateRunning
	} else if (v.state == stateDrainingFade || v.state == stateDrainingFadeOut) && v.env != nil && v.env.done() {
		if v.env.targetIsSilence() {
			v.state = stateEnding
			if v.reason == "" {
				v.reason = "fade_complete"
			}
		} else {
			// A fade_cue to an audible level completed — the voice keeps
			// playing, so it belongs back in stateRunning rather than
			// staying labeled as draining a fade that already finished.
			v.env = nil
			v.state = stateRunning
		}
	}

	if filled == 0 && v.ring.EOF() && v.ring.Frames() == 0 && v.state != stateEnding {
		v.state = stateEnding
		if v.reason == "" {
			v.reason = "eof_natural"
		}
	}

	if activeEnvelopes <= m.cfg.TelemetrySkipThreshold {
		rmsDB, peakDB := metering.RMSPeak(scratch[:filled*m.cfg.Channels])
		m.events.CueLevels(v.cueID, rmsDB, peakDB)
		m.events.CuePosition(v.cueID, v.ring.SamplesConsumed(), v.totalFrames)
	}

	lowWater := waterline.LowWater(m.cfg.BlockFrames, len(m.voices), m.cfg.WaterlineParams())
	if v.ring.Frames() < lowWater {
		v.ring.RequestCredit(waterline.CreditRequest(m.cfg.BlockFrames, len(m.voices), m.cfg.WaterlineParams()))
	}
}

// applyEnvelope writes the per-cue envelope gain into scratch. Above
// activeEnvelopes > 2, the gain curve is generated into a reusable vector
// once and applied with a single multiply pass; below that threshold a
// per-sample stepped multiply is cheap enough on its own and skips the
// extra vector-fill pass.
func (m *Mixer) applyEnvelope(v *voice, scratch []float32, frames int, activeEnvelopes int) {
	channels := m.cfg.Channels
	if v.env == nil {
		return
	}
	if activeEnvelopes > 2 {
		m.fillGainVector(v.env, frames)
		for f := 0; f < frames; f++ {
			g := m.gainVec[f]
			off := f * channels
			for c := 0; c < channels; c++ {
				scratch[off+c] *= g
			}
		}
	} else {
		for f := 0; f < frames; f++ {
			g := float32(v.env.gainAt(v.env.elapsedFrames + int64(f)))
			off := f * channels
			for c := 0; c < channels; c++ {
				scratch[off+c] *= g
			}
		}
	}
	v.env.elapsedFrames += int64(frames)
}

func (m *Mixer) fillGainVector(e *envelope, frames int) {
	for f := 0; f < frames; f++ {
		m.gainVec[f] = float32(e.gainAt(e.elapsedFrames + int64(f)))
	}
}

// runWatchdog force-terminates any voice whose ring has an outstanding
// credit request and no incoming PCM for longer than stuckTimeout, never
// touching a ring that has not yet received its first chunk.
func (m *Mixer) runWatchdog(now time.Time) {
	for id, v := range m.voices {
		if v.state == stateEnding {
			continue
		}
		if v.ring.Stuck(now, m.stuckTimeout) {
			v.ring.ForceEOF()
			v.state = stateEnding
			v.reason = "timeout_stuck_decode"
			if m.diag != nil {
				m.diag.Push("mixer", "stuck decode watchdog fired for cue "+id)
			}
		}
	}
}
