// Package engine is the orchestrator: the single-owner command ingress,
// cue registry, fade/retry state machine, and event egress that sits above
// the decoder pool and output mixer. It is the one package a host embeds
// directly — Submit, Events, and Render are its entire external surface.
package engine

import (
	"sort"
	"sync/atomic"
	"time"

	"cuecore/decode"
	"cuecore/internal/config"
	"cuecore/internal/diag"
	"cuecore/internal/metering"
	"cuecore/internal/waterline"
	"cuecore/mixer"
	"cuecore/ring"
)

// staggeredFade is a fade command held back so a burst of auto-fades
// doesn't saturate the mixer's inbox in one tick. dispatchAt is a tick
// count, not a wall-clock time — STAGGER_DELAY (1 ms) is finer than this
// loop's own ~5 ms period, so each stagger unit is treated as one tick of
// the orchestrator's loop rather than literally one millisecond.
type staggeredFade struct {
	dispatchAt int64
	cueID      string
	targetDB   float64
	durationMs int
	curve      mixer.Curve
}

// Engine wires the decoder pool, output mixer, and diagnostic ring
// together and runs the non-realtime orchestrator loop described in the
// component design: a ~5 ms tick that drains commands and mixer
// observations, runs the refade watchdog, and coalesces telemetry.
type Engine struct {
	cfg  config.EngineConfig
	pool *decode.Coordinator
	mix  *mixer.Mixer
	diag *diag.Ring

	reg *registry

	cmdCh       chan Command
	eventCh     chan Event
	mixerEvents chan any

	staggerQueue []staggeredFade

	pendingLevels map[string]CueLevelsEvent
	pendingTimes  map[string]CueTimeEvent
	pendingMaster *MasterLevelsEvent

	stuckDecodeCount atomic.Uint64
	stuckFadeCount   atomic.Uint64

	tickCount int64

	stopCh chan struct{}
	done   chan struct{}
}

// New constructs an Engine from cfg, wires the decoder pool and mixer, and
// starts the tick loop and health-metrics ticker. The caller owns the
// returned Engine for the engine's entire lifetime and must call Close
// when done with it.
func New(cfg config.EngineConfig) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:           cfg,
		reg:           newRegistry(),
		cmdCh:         make(chan Command, 256),
		eventCh:       make(chan Event, 256),
		mixerEvents:   make(chan any, 512),
		pendingLevels: make(map[string]CueLevelsEvent),
		pendingTimes:  make(map[string]CueTimeEvent),
		stopCh:        make(chan struct{}),
		done:          make(chan struct{}),
		diag:          diag.New(),
	}
	e.pool = decode.NewCoordinator(cfg, e)
	e.mix = mixer.New(cfg, e, e.pool, e.diag, 256)
	e.diag.Drain(e.stopCh, 250*time.Millisecond)

	go e.tickLoop()
	go RunHealthMetrics(e.stopCh, e, 30*time.Second)

	return e, nil
}

// Submit enqueues a command for the next tick. Non-blocking: a full inbox
// drops the command rather than stalling the caller.
func (e *Engine) Submit(cmd Command) bool {
	select {
	case e.cmdCh <- cmd:
		return true
	default:
		return false
	}
}

// Events returns the channel the host drains for CueStarted, CueFinished,
// telemetry, and error events.
func (e *Engine) Events() <-chan Event { return e.eventCh }

// Render delegates to the mixer's realtime pull callback — the one call on
// this type meant to be invoked from the host audio thread.
func (e *Engine) Render(out []float32) { e.mix.Render(out) }

// Close stops the tick loop and health-metrics ticker and tears down the
// decoder pool.
func (e *Engine) Close() {
	close(e.stopCh)
	<-e.done
	e.pool.Shutdown()
}

func (e *Engine) emit(ev Event) {
	select {
	case e.eventCh <- ev:
	default:
	}
}

// --- mixer.EventSink -------------------------------------------------

func (e *Engine) CueFinished(cueID, reason string) {
	select {
	case e.mixerEvents <- cueFinishedMsg{cueID, reason}:
	default:
	}
}

func (e *Engine) CueLevels(cueID string, rmsDB, peakDB float64) {
	select {
	case e.mixerEvents <- cueLevelsMsg{cueID, rmsDB, peakDB}:
	default:
	}
}

func (e *Engine) CuePosition(cueID string, samplesConsumed uint64, totalFrames int64) {
	select {
	case e.mixerEvents <- cuePositionMsg{cueID, samplesConsumed, totalFrames}:
	default:
	}
}

func (e *Engine) MasterLevels(rmsDB, peakDB float64) {
	select {
	case e.mixerEvents <- masterLevelsMsg{rmsDB, peakDB}:
	default:
	}
}

// --- decode.ErrorSink --------------------------------------------------

func (e *Engine) DecodeError(cueID, message string) {
	select {
	case e.mixerEvents <- decodeErrorMsg{cueID, message}:
	default:
	}
}

type cueFinishedMsg struct{ cueID, reason string }
type cueLevelsMsg struct {
	cueID         string
	rmsDB, peakDB float64
}
type cuePositionMsg struct {
	cueID           string
	samplesConsumed uint64
	totalFrames     int64
}
type masterLevelsMsg struct{ rmsDB, peakDB float64 }
type decodeErrorMsg struct{ cueID, message string }

func (e *Engine) tickLoop() {
	defer close(e.done)
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	refadeInterval := time.Duration(e.cfg.RefadeCheckIntervalMS) * time.Millisecond
	telemetryInterval := time.Second / time.Duration(e.cfg.TelemetryHz)
	lastRefadeCheck := time.Now()
	lastTelemetryFlush := time.Now()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.tickCount++
			e.drainCommands()
			e.drainMixerEvents()
			e.dispatchStaggered(e.tickCount)

			now := time.Now()
			if now.Sub(lastRefadeCheck) >= refadeInterval {
				lastRefadeCheck = now
				e.checkRefadeWatchdog(now)
			}
			if now.Sub(lastTelemetryFlush) >= telemetryInterval {
				lastTelemetryFlush = now
				e.flushTelemetry()
			}
		}
	}
}

func (e *Engine) drainCommands() {
	for {
		select {
		case cmd := <-e.cmdCh:
			e.applyCommand(cmd)
		default:
			return
		}
	}
}

func (e *Engine) applyCommand(cmd Command) {
	switch c := cmd.(type) {
	case PlayCueCommand:
		e.handlePlayCue(c)
	case StopCueCommand:
		e.handleStopCue(c)
	case FadeCueCommand:
		e.handleFadeCue(c)
	case UpdateCueCommand:
		e.handleUpdateCue(c)
	case BatchCommandsCommand:
		// Applied sequentially within this tick — no other command (from
		// the inbox) interleaves, since drainCommands only yields to the
		// rest of the loop after the whole batch is applied.
		for _, inner := range c.Commands {
			e.applyCommand(inner)
		}
	}
}

func (e *Engine) drainMixerEvents() {
	for {
		select {
		case msg := <-e.mixerEvents:
			e.applyMixerEvent(msg)
		default:
			return
		}
	}
}

func (e *Engine) applyMixerEvent(msg any) {
	switch m := msg.(type) {
	case cueFinishedMsg:
		e.handleCueFinished(m.cueID, m.reason)
	case cueLevelsMsg:
		e.pendingLevels[m.cueID] = CueLevelsEvent{CueID: m.cueID, RMSDB: m.rmsDB, PeakDB: m.peakDB}
	case cuePositionMsg:
		e.handleCuePosition(m)
	case masterLevelsMsg:
		ev := MasterLevelsEvent{RMSDB: m.rmsDB, PeakDB: m.peakDB}
		e.pendingMaster = &ev
	case decodeErrorMsg:
		e.handleDecodeError(m.cueID, m.message)
	}
}

func totalFramesFor(outFrame *int64, inFrame int64) int64 {
	if outFrame == nil {
		return -1
	}
	return *outFrame - inFrame
}

func (e *Engine) handlePlayCue(c PlayCueCommand) {
	cue := &Cue{
		CueID:       c.CueID,
		FilePath:    c.FilePath,
		InFrame:     c.InFrame,
		OutFrame:    c.OutFrame,
		GainDB:      c.GainDB,
		FadeInMs:    c.FadeInMs,
		FadeOutMs:   c.FadeOutMs,
		LoopEnabled: c.LoopEnabled,
		StartedAt:   time.Now(),
	}
	e.reg.add(cue)

	r := ring.New(c.CueID, e.cfg.Channels, e.pool)
	e.pool.Submit(decode.DecodeStart{
		CueID:            c.CueID,
		FilePath:         c.FilePath,
		InFrame:          c.InFrame,
		OutFrame:         c.OutFrame,
		LoopEnabled:      c.LoopEnabled,
		TargetSampleRate: e.cfg.SampleRate,
		TargetChannels:   e.cfg.Channels,
		BlockFrames:      e.cfg.BlockFrames,
		TargetChunkSize:  e.cfg.TargetChunkFrames,
		LookaheadWindow:  e.cfg.LookaheadFrames,
		Ring:             r,
	})
	e.mix.Submit(mixer.OutputStartCue{
		CueID:       c.CueID,
		Ring:        r,
		GainDB:      c.GainDB,
		FadeInMs:    c.FadeInMs,
		FadeInCurve: mixer.CurveLinear,
		TotalFrames: totalFramesFor(c.OutFrame, c.InFrame),
	})
	e.emit(CueStartedEvent{Cue: *cue})

	if c.AutoFadeOnNew && !c.Layered {
		e.autoFadeOthers(c.CueID)
	}
}

// autoFadeOthers fades every other currently active cue to silence,
// including cues already fading — a duplicate fade command is accepted and
// simply replaces the prior envelope, matching the corrected behavior noted
// in the orchestrator's design notes.
func (e *Engine) autoFadeOthers(exceptCueID string) {
	var targets []string
	for id := range e.reg.cues {
		if id == exceptCueID {
			continue
		}
		targets = append(targets, id)
	}
	sort.Strings(targets)

	total := len(targets)
	now := time.Now()
	for i, id := range targets {
		target := e.reg.cues[id]
		e.reg.setIntent(id, "auto_fade")
		e.reg.fadeRequested[id] = true
		e.reg.pendingStops[id] = now.Add(time.Duration(target.FadeOutMs)*time.Millisecond + time.Duration(e.cfg.RefadeGraceMS)*time.Millisecond)

		delay := waterline.StaggerDelay(i, total, e.cfg.WaterlineParams())
		if delay == 0 {
			e.mix.Submit(mixer.OutputFadeTo{CueID: id, TargetDB: metering.MinDB, DurationMs: target.FadeOutMs, Curve: mixer.CurveLinear})
			continue
		}
		e.staggerQueue = append(e.staggerQueue, staggeredFade{
			dispatchAt: e.tickCount + int64(delay),
			cueID:      id,
			targetDB:   metering.MinDB,
			durationMs: target.FadeOutMs,
			curve:      mixer.CurveLinear,
		})
	}
}

func (e *Engine) dispatchStaggered(tickCount int64) {
	if len(e.staggerQueue) == 0 {
		return
	}
	remaining := e.staggerQueue[:0]
	for _, sf := range e.staggerQueue {
		if tickCount >= sf.dispatchAt {
			e.mix.Submit(mixer.OutputFadeTo{CueID: sf.cueID, TargetDB: sf.targetDB, DurationMs: sf.durationMs, Curve: sf.curve})
		} else {
			remaining = append(remaining, sf)
		}
	}
	e.staggerQueue = remaining
}

func (e *Engine) handleStopCue(c StopCueCommand) {
	cue, ok := e.reg.cues[c.CueID]
	if !ok {
		return
	}
	e.reg.setIntent(c.CueID, "manual_stop")
	e.reg.fadeRequested[c.CueID] = true
	e.reg.pendingStops[c.CueID] = time.Now().Add(time.Duration(cue.FadeOutMs)*time.Millisecond + time.Duration(e.cfg.RefadeGraceMS)*time.Millisecond)
	e.mix.Submit(mixer.OutputStopCue{CueID: c.CueID, FadeOutMs: cue.FadeOutMs, Curve: mixer.CurveLinear})
}

func (e *Engine) handleFadeCue(c FadeCueCommand) {
	if _, ok := e.reg.cues[c.CueID]; !ok {
		return
	}
	if _, already := e.reg.removalReasons[c.CueID]; !already {
		e.reg.setIntent(c.CueID, "manual_fade")
	}
	e.reg.fadeRequested[c.CueID] = true
	if c.TargetDB <= metering.MinDB {
		e.reg.pendingStops[c.CueID] = time.Now().Add(time.Duration(c.DurationMs)*time.Millisecond + time.Duration(e.cfg.RefadeGraceMS)*time.Millisecond)
	}
	e.mix.Submit(mixer.OutputFadeTo{CueID: c.CueID, TargetDB: c.TargetDB, DurationMs: c.DurationMs, Curve: c.Curve})
}

func (e *Engine) handleUpdateCue(c UpdateCueCommand) {
	cue, ok := e.reg.cues[c.CueID]
	if !ok {
		return
	}
	if c.GainDB != nil {
		cue.GainDB = *c.GainDB
		e.mix.Submit(mixer.UpdateCueGain{CueID: c.CueID, GainDB: *c.GainDB})
	}
	if c.InFrame == nil && c.OutFrame == nil && c.LoopEnabled == nil {
		return
	}
	if c.InFrame != nil {
		cue.InFrame = *c.InFrame
	}
	if c.OutFrame != nil {
		cue.OutFrame = c.OutFrame
	}
	if c.LoopEnabled != nil {
		cue.LoopEnabled = *c.LoopEnabled
	}
	e.pool.Update(decode.UpdateCue{
		CueID:       c.CueID,
		InFrame:     c.InFrame,
		OutFrame:    c.OutFrame,
		LoopEnabled: c.LoopEnabled,
	})
}

func (e *Engine) handleCueFinished(cueID, mixerReason string) {
	snapshot, ok := e.reg.finalize(cueID, mixerReason, time.Now())
	if !ok {
		return
	}
	delete(e.pendingLevels, cueID)
	delete(e.pendingTimes, cueID)
	if snapshot.RemovalReason == "timeout_stuck_decode" {
		e.stuckDecodeCount.Add(1)
	}
	e.emit(CueFinishedEvent{Cue: snapshot, Reason: snapshot.RemovalReason})
}

func (e *Engine) handleCuePosition(m cuePositionMsg) {
	cue, ok := e.reg.cues[m.cueID]
	if !ok {
		return
	}
	elapsed, remaining, total := cueTime(cue, m.samplesConsumed, e.cfg.SampleRate, e.cfg.AbsoluteTimeMode)
	e.pendingTimes[m.cueID] = CueTimeEvent{
		CueID:            m.cueID,
		ElapsedSeconds:   elapsed,
		RemainingSeconds: remaining,
		TotalSeconds:     total,
	}
}

func (e *Engine) handleDecodeError(cueID, message string) {
	e.reg.setIntent(cueID, "decode_error:"+message)
	e.emit(DecodeErrorEvent{CueID: cueID, Message: message})
}

// checkRefadeWatchdog force-removes any cue whose fade has overrun its
// REFADE_GRACE deadline REFADE_MAX_ATTEMPTS times. It must never fire
// during healthy operation — only a stuck mixer or starved decoder lets a
// fade run past its deadline at all.
func (e *Engine) checkRefadeWatchdog(now time.Time) {
	for id, deadline := range e.reg.pendingStops {
		if now.Before(deadline) {
			continue
		}
		cue, ok := e.reg.cues[id]
		if !ok {
			delete(e.reg.pendingStops, id)
			continue
		}
		e.reg.refadeAttempts[id]++
		if e.reg.refadeAttempts[id] >= e.cfg.RefadeMaxAttempts {
			e.stuckFadeCount.Add(1)
			e.reg.setIntent(id, "forced_stuck_fade")
			e.mix.Submit(mixer.OutputStopCue{CueID: id, FadeOutMs: 0, Curve: mixer.CurveLinear})
			delete(e.reg.pendingStops, id)
			if e.diag != nil {
				e.diag.Push("engine", "refade watchdog force-removed cue "+id)
			}
			continue
		}
		e.mix.Submit(mixer.OutputFadeTo{CueID: id, TargetDB: metering.MinDB, DurationMs: cue.FadeOutMs, Curve: mixer.CurveLinear})
		e.reg.pendingStops[id] = now.Add(time.Duration(cue.FadeOutMs)*time.Millisecond + time.Duration(e.cfg.RefadeGraceMS)*time.Millisecond)
	}
}

func (e *Engine) flushTelemetry() {
	for _, ev := range e.pendingLevels {
		e.emit(ev)
	}
	for k := range e.pendingLevels {
		delete(e.pendingLevels, k)
	}
	for _, ev := range e.pendingTimes {
		e.emit(ev)
	}
	for k := range e.pendingTimes {
		delete(e.pendingTimes, k)
	}
	if e.pendingMaster != nil {
		e.emit(*e.pendingMaster)
		e.pendingMaster = nil
	}
}
