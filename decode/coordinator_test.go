package decode

import (
	"testing"
	"time"

	"cuecore/internal/config"
	"cuecore/ring"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func testCoordinator(t *testing.T, maxConcurrent, poolWorkers int) (*Coordinator, *fakeErrorSink) {
	t.Helper()
	cfg := config.Default()
	cfg.MaxConcurrentDecodings = maxConcurrent
	cfg.PoolWorkers = poolWorkers
	sink := &fakeErrorSink{}
	c := NewCoordinator(cfg, sink)
	t.Cleanup(c.Shutdown)
	return c, sink
}

// These tests exercise routing and bookkeeping only, via DecodeStart
// commands pointed at nonexistent files: openSource fails immediately, so
// newJob reports a DecodeError without ever touching a worker — enough to
// verify the pending-queue/promotion arithmetic without real audio.

func TestCoordinatorStartsWithinCapImmediately(t *testing.T) {
	c, sink := testCoordinator(t, 2, 2)

	c.Submit(DecodeStart{CueID: "a", FilePath: "missing.wav"})
	waitFor(t, func() bool { return len(sink.errs) == 1 })

	if c.ActiveCount() != 0 {
		t.Fatalf("ActiveCount = %d, want 0 after immediate failure", c.ActiveCount())
	}
}

func TestCoordinatorSettlesAtCapWhenOpensFail(t *testing.T) {
	c, _ := testCoordinator(t, 1, 1)

	r := ring.New("slow", 2, nil)
	c.Submit(DecodeStart{CueID: "slow", FilePath: "t.opus", Ring: r, TargetSampleRate: 48000, TargetChannels: 2, TargetChunkSize: 256})
	// Neither file exists, so each open fails inside assign before the cue
	// is recorded as active; the first start therefore never occupies the
	// single slot, and the second is assigned directly rather than queued.
	c.Submit(DecodeStart{CueID: "queued", FilePath: "missing.wav"})

	waitFor(t, func() bool { return c.ActiveCount() == 0 && c.PendingCount() == 0 })
}

func TestCoordinatorCancelsPendingStop(t *testing.T) {
	cfg := config.Default()
	cfg.MaxConcurrentDecodings = 0 // nothing can ever start — everything queues
	cfg.PoolWorkers = 1
	sink := &fakeErrorSink{}
	c := NewCoordinator(cfg, sink)
	t.Cleanup(c.Shutdown)

	c.Submit(DecodeStart{CueID: "a", FilePath: "x.wav"})
	waitFor(t, func() bool { return c.PendingCount() == 1 })

	c.Stop(DecodeStop{CueID: "a"})
	waitFor(t, func() bool { return c.PendingCount() == 0 })
}

func TestCoordinatorRequestCreditIsNonBlocking(t *testing.T) {
	c, _ := testCoordinator(t, 2, 2)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			c.RequestCredit("nonexistent", 512)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RequestCredit blocked")
	}
}
