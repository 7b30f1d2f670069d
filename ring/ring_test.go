package ring

import (
	"testing"
	"time"
)

func mono(frames int, fill float32) Chunk {
	pcm := make([]float32, frames)
	for i := range pcm {
		pcm[i] = fill
	}
	return Chunk{PCM: pcm, Frames: frames}
}

func TestPushAndDrainExact(t *testing.T) {
	r := New("cue-1", 1, nil)
	r.Push(mono(4, 1.0))

	dst := make([]float32, 4)
	n := r.DrainInto(4, dst)
	if n != 4 {
		t.Fatalf("expected 4 frames filled, got %d", n)
	}
	for _, s := range dst {
		if s != 1.0 {
			t.Errorf("expected sample 1.0, got %v", s)
		}
	}
	if r.Frames() != 0 {
		t.Errorf("expected ring empty after drain, got %d frames", r.Frames())
	}
}

func TestDrainPartialChunk(t *testing.T) {
	r := New("cue-1", 1, nil)
	r.Push(mono(10, 2.0))

	dst := make([]float32, 4)
	n := r.DrainInto(4, dst)
	if n != 4 {
		t.Fatalf("expected 4 frames filled, got %d", n)
	}
	if r.Frames() != 6 {
		t.Errorf("expected 6 frames remaining, got %d", r.Frames())
	}

	dst2 := make([]float32, 6)
	n2 := r.DrainInto(6, dst2)
	if n2 != 6 {
		t.Fatalf("expected 6 frames filled, got %d", n2)
	}
	if r.Frames() != 0 {
		t.Errorf("expected ring empty, got %d", r.Frames())
	}
}

func TestDrainAcrossMultipleChunks(t *testing.T) {
	r := New("cue-1", 2, nil)
	r.Push(Chunk{PCM: []float32{1, 1, 2, 2}, Frames: 2})
	r.Push(Chunk{PCM: []float32{3, 3, 4, 4}, Frames: 2})

	dst := make([]float32, 8) // 4 frames * 2 channels
	n := r.DrainInto(4, dst)
	if n != 4 {
		t.Fatalf("expected 4 frames, got %d", n)
	}
	want := []float32{1, 1, 2, 2, 3, 3, 4, 4}
	for i := range want {
		if dst[i] != want[i] {
			t.Errorf("sample %d: want %v got %v", i, want[i], dst[i])
		}
	}
}

func TestDrainUnderfillReturnsWhatIsAvailable(t *testing.T) {
	r := New("cue-1", 1, nil)
	r.Push(mono(2, 5.0))

	dst := make([]float32, 10)
	n := r.DrainInto(10, dst)
	if n != 2 {
		t.Fatalf("expected 2 frames filled, got %d", n)
	}
}

func TestEOFDrainToEmptySetsFinishedPending(t *testing.T) {
	r := New("cue-1", 1, nil)
	r.Push(Chunk{PCM: []float32{1}, Frames: 1, EOF: true})

	dst := make([]float32, 1)
	r.DrainInto(1, dst)
	if r.FinishedPending() {
		t.Error("should not be finished pending while a (now-empty) chunk remains unseen as zero-fill")
	}

	// Next callback sees zero frames buffered and eof set.
	n := r.DrainInto(1, dst)
	if n != 0 {
		t.Fatalf("expected 0 frames on empty eof ring, got %d", n)
	}
	if !r.FinishedPending() {
		t.Error("expected finished pending once drained to empty with eof set")
	}
}

func TestLoopingRingNeverSetsEOF(t *testing.T) {
	r := New("cue-1", 1, nil)
	r.Push(Chunk{PCM: []float32{1, 2, 3}, Frames: 3, IsLoopRestart: true})
	if r.EOF() {
		t.Error("looping chunk must never set ring EOF")
	}
}

type fakeSink struct {
	cueID string
	frames int
	calls  int
}

func (f *fakeSink) RequestCredit(cueID string, frames int) {
	f.cueID = cueID
	f.frames = frames
	f.calls++
}

func TestRequestCreditNotifiesSinkOnce(t *testing.T) {
	sink := &fakeSink{}
	r := New("cue-7", 1, sink)

	r.RequestCredit(2048)
	r.RequestCredit(2048) // pending already — should not double-send
	if sink.calls != 1 {
		t.Errorf("expected exactly 1 RequestCredit call, got %d", sink.calls)
	}
	if sink.cueID != "cue-7" || sink.frames != 2048 {
		t.Errorf("unexpected sink args: %+v", sink)
	}
	if !r.RequestPending() {
		t.Error("expected request pending after RequestCredit")
	}

	r.Push(mono(1, 0))
	if r.RequestPending() {
		t.Error("expected request pending cleared by Push")
	}
}

func TestStuckIgnoresRingWithoutFirstChunk(t *testing.T) {
	r := New("cue-1", 1, &fakeSink{})
	r.RequestCredit(2048)
	if r.Stuck(time.Now().Add(time.Hour), time.Second) {
		t.Error("a ring that never received its first chunk must never be reported stuck")
	}
}

func TestStuckDetectsNoProgress(t *testing.T) {
	r := New("cue-1", 1, &fakeSink{})
	r.Push(mono(1, 0))
	dst := make([]float32, 1)
	r.DrainInto(1, dst) // empties the ring
	r.RequestCredit(2048)

	if r.Stuck(time.Now(), time.Second) {
		t.Error("should not be stuck immediately after requesting credit")
	}
	future := time.Now().Add(2 * time.Second)
	if !r.Stuck(future, time.Second) {
		t.Error("expected stuck after timeout with no new PCM")
	}
}

func TestStatsSnapshotTracksConservation(t *testing.T) {
	r := New("cue-1", 1, nil)
	r.Push(mono(10, 1))
	dst := make([]float32, 4)
	r.DrainInto(4, dst)

	stats := r.StatsSnapshot()
	if stats.FramesPushed != 10 {
		t.Errorf("expected 10 frames pushed, got %d", stats.FramesPushed)
	}
	if stats.FramesDrained != 4 {
		t.Errorf("expected 4 frames drained, got %d", stats.FramesDrained)
	}
	if stats.FramesDrained+uint64(r.Frames()) != stats.FramesPushed {
		t.Error("drained + buffered must equal pushed")
	}
}
