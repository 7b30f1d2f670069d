package mixer

import (
	"testing"
	"time"

	"cuecore/decode"
	"cuecore/internal/config"
	"cuecore/ring"
)

type fakeEvents struct {
	finished []struct{ cueID, reason string }
	levels   []struct {
		cueID          string
		rmsDB, peakDB  float64
	}
	positions []struct {
		cueID           string
		samplesConsumed uint64
		totalFrames     int64
	}
	master int
}

func (f *fakeEvents) CueFinished(cueID, reason string) {
	f.finished = append(f.finished, struct{ cueID, reason string }{cueID, reason})
}
func (f *fakeEvents) CueLevels(cueID string, rmsDB, peakDB float64) {
	f.levels = append(f.levels, struct {
		cueID         string
		rmsDB, peakDB float64
	}{cueID, rmsDB, peakDB})
}
func (f *fakeEvents) CuePosition(cueID string, samplesConsumed uint64, totalFrames int64) {
	f.positions = append(f.positions, struct {
		cueID           string
		samplesConsumed uint64
		totalFrames     int64
	}{cueID, samplesConsumed, totalFrames})
}
func (f *fakeEvents) MasterLevels(rmsDB, peakDB float64) { f.master++ }

type fakeDecodeStopSink struct {
	stops []string
}

func (f *fakeDecodeStopSink) Stop(cmd decode.DecodeStop) {
	f.stops = append(f.stops, cmd.CueID)
}

func testMixer(t *testing.T) (*Mixer, *fakeEvents, *fakeDecodeStopSink) {
	t.Helper()
	cfg := config.Default()
	cfg.BlockFrames = 64
	cfg.Channels = 2
	events := &fakeEvents{}
	stops := &fakeDecodeStopSink{}
	m := New(cfg, events, stops, nil, 32)
	return m, events, stops
}

func pushSilence(r *ring.Ring, frames, channels int) {
	r.Push(ring.Chunk{PCM: make([]float32, frames*channels), Frames: frames})
}

func TestStartCueWithoutFadeInStartsRunning(t *testing.T) {
	m, _, _ := testMixer(t)
	r := ring.New("a", 2, nil)
	pushSilence(r, 1000, 2)
	m.Submit(OutputStartCue{CueID: "a", Ring: r, TotalFrames: -1})

	out := make([]float32, m.cfg.BlockFrames*m.cfg.Channels)
	m.Render(out)

	v, ok := m.voices["a"]
	if !ok {
		t.Fatal("expected voice a to exist")
	}
	if v.state != stateRunning {
		t.Fatalf("state = %v, want stateRunning", v.state)
	}
}

func TestStartCueWithFadeInRampsToRunning(t *testing.T) {
	m, _, _ := testMixer(t)
	r := ring.New("a", 2, nil)
	pushSilence(r, 100000, 2)
	m.Submit(OutputStartCue{CueID: "a", Ring: r, FadeInMs: 50, TotalFrames: -1})

	out := make([]float32, m.cfg.BlockFrames*m.cfg.Channels)
	m.Render(out)
	if m.voices["a"].state != stateDrainingFadeIn {
		t.Fatalf("expected stateDrainingFadeIn on first render")
	}

	for i := 0; i < 100 && m.voices["a"].state != stateRunning; i++ {
		m.Render(out)
	}
	if m.voices["a"].state != stateRunning {
		t.Fatal("expected fade-in to complete into stateRunning")
	}
}

func TestNonLoopingEOFEmitsFinishedOnce(t *testing.T) {
	m, events, _ := testMixer(t)
	r := ring.New("a", 2, nil)
	pushSilence(r, 10, 2) // fewer frames than one block
	r.Push(ring.Chunk{EOF: true})
	m.Submit(OutputStartCue{CueID: "a", Ring: r, TotalFrames: -1})

	out := make([]float32, m.cfg.BlockFrames*m.cfg.Channels)
	for i := 0; i < 3; i++ {
		m.Render(out)
	}

	if len(events.finished) != 1 {
		t.Fatalf("got %d CueFinished events, want exactly 1", len(events.finished))
	}
	if events.finished[0].reason != "eof_natural" {
		t.Fatalf("reason = %q, want eof_natural", events.finished[0].reason)
	}
	if _, ok := m.voices["a"]; ok {
		t.Fatal("expected voice removed after finished")
	}
}

func TestStopCueWithZeroFadeOutEndsImmediatelyAndForwardsDecodeStop(t *testing.T) {
	m, events, stops := testMixer(t)
	r := ring.New("a", 2, nil)
	pushSilence(r, 100000, 2)
	m.Submit(OutputStartCue{CueID: "a", Ring: r, TotalFrames: -1})
	out := make([]float32, m.cfg.BlockFrames*m.cfg.Channels)
	m.Render(out)

	m.Submit(OutputStopCue{CueID: "a", FadeOutMs: 0})
	m.Render(out) // applies the stop command
	m.Render(out) // finalizes the now-ending voice

	if len(events.finished) != 1 || events.finished[0].reason != "fade_complete" {
		t.Fatalf("finished events = %+v, want one fade_complete", events.finished)
	}
	if len(stops.stops) != 1 || stops.stops[0] != "a" {
		t.Fatalf("decode stops = %v, want [a]", stops.stops)
	}
}

func TestStopCueWithFadeOutDrainsBeforeEnding(t *testing.T) {
	m, events, _ := testMixer(t)
	r := ring.New("a", 2, nil)
	pushSilence(r, 1000000, 2)
	m.Submit(OutputStartCue{CueID: "a", Ring: r, TotalFrames: -1})
	out := make([]float32, m.cfg.BlockFrames*m.cfg.Channels)
	m.Render(out)

	m.Submit(OutputStopCue{CueID: "a", FadeOutMs: 5})
	m.Render(out)
	if len(events.finished) != 0 {
		t.Fatal("cue must not finish before its fade-out envelope completes")
	}

	for i := 0; i < 50 && len(events.finished) == 0; i++ {
		m.Render(out)
	}
	if len(events.finished) != 1 {
		t.Fatalf("expected exactly one finished event eventually, got %d", len(events.finished))
	}
}

func TestFadeToReplacesEnvelopeAndUsesCurrentGainAsStart(t *testing.T) {
	m, _, _ := testMixer(t)
	r := ring.New("a", 2, nil)
	pushSilence(r, 1000000, 2)
	m.Submit(OutputStartCue{CueID: "a", Ring: r, TotalFrames: -1})
	out := make([]float32, m.cfg.BlockFrames*m.cfg.Channels)
	m.Render(out)

	m.Submit(OutputFadeTo{CueID: "a", TargetDB: -6, DurationMs: 100})
	m.Render(out)
	v := m.voices["a"]
	if v.state != stateDrainingFade {
		t.Fatalf("state = %v, want stateDrainingFade", v.state)
	}
	if v.env.start != 1 {
		t.Fatalf("envelope start = %v, want 1 (full gain before the fade)", v.env.start)
	}
}

func TestFadeToAudibleLevelReturnsToRunningOnceComplete(t *testing.T) {
	m, _, _ := testMixer(t)
	r := ring.New("a", 2, nil)
	pushSilence(r, 1000000, 2)
	m.Submit(OutputStartCue{CueID: "a", Ring: r, TotalFrames: -1})
	out := make([]float32, m.cfg.BlockFrames*m.cfg.Channels)
	m.Render(out)

	m.Submit(OutputFadeTo{CueID: "a", TargetDB: -6, DurationMs: 1})
	for i := 0; i < 100; i++ {
		pushSilence(r, 1000000, 2)
		m.Render(out)
	}

	v := m.voices["a"]
	if v == nil {
		t.Fatal("expected voice a to still be active (fading to an audible level must not end the cue)")
	}
	if v.state != stateRunning {
		t.Fatalf("state = %v, want stateRunning once a non-silence fade completes", v.state)
	}
	if v.env != nil {
		t.Fatal("expected the completed envelope cleared")
	}
}

func TestLoopingRingNeverTriggersFinished(t *testing.T) {
	m, events, _ := testMixer(t)
	r := ring.New("a", 2, nil)
	pushSilence(r, 10, 2)
	r.Push(ring.Chunk{IsLoopRestart: true, PCM: make([]float32, 20*2), Frames: 20})
	m.Submit(OutputStartCue{CueID: "a", Ring: r, TotalFrames: -1})

	out := make([]float32, m.cfg.BlockFrames*m.cfg.Channels)
	for i := 0; i < 5; i++ {
		m.Render(out)
	}

	if len(events.finished) != 0 {
		t.Fatal("a looping ring (never EOF) must not finish on its own")
	}
}

func TestTelemetrySkippedAboveThreshold(t *testing.T) {
	m, events, _ := testMixer(t)
	m.cfg.TelemetrySkipThreshold = 1
	out := make([]float32, m.cfg.BlockFrames*m.cfg.Channels)

	for i := 0; i < 3; i++ {
		id := string(rune('a' + i))
		r := ring.New(id, 2, nil)
		pushSilence(r, 1000000, 2)
		m.Submit(OutputStartCue{CueID: id, Ring: r, FadeInMs: 10000, TotalFrames: -1})
	}
	m.Render(out)

	if len(events.levels) != 0 {
		t.Fatalf("expected telemetry skipped with 3 active envelopes above threshold 1, got %d events", len(events.levels))
	}
}

func TestWatchdogForceTerminatesStuckRing(t *testing.T) {
	m, events, _ := testMixer(t)
	m.stuckTimeout = time.Millisecond
	r := ring.New("a", 2, nil)
	pushSilence(r, 5, 2) // one small chunk so firstChunkReceived is true, then starves
	m.Submit(OutputStartCue{CueID: "a", Ring: r, TotalFrames: -1})

	out := make([]float32, m.cfg.BlockFrames*m.cfg.Channels)
	m.Render(out) // issues the first credit request, sets requestPending

	time.Sleep(5 * time.Millisecond)
	m.Render(out) // watchdog should now fire
	m.Render(out) // finalize

	if len(events.finished) != 1 || events.finished[0].reason != "timeout_stuck_decode" {
		t.Fatalf("finished = %+v, want one timeout_stuck_decode", events.finished)
	}
}

func TestWatchdogIgnoresRingWithNoChunkYet(t *testing.T) {
	m, events, _ := testMixer(t)
	m.stuckTimeout = 0 // would fire immediately if the guard were missing
	r := ring.New("a", 2, nil)
	m.Submit(OutputStartCue{CueID: "a", Ring: r, TotalFrames: -1})

	out := make([]float32, m.cfg.BlockFrames*m.cfg.Channels)
	m.Render(out)

	if len(events.finished) != 0 {
		t.Fatal("a ring that never received its first chunk must never be marked stuck")
	}
}
