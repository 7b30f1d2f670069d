// Package decode implements the bounded decoder worker pool: a coordinator
// routing commands to a fixed set of workers, each of which demuxes,
// decodes, resamples, and pushes PCM into its jobs' rings under
// credit-based flow control.
package decode

import (
	"cuecore/internal/config"
	"cuecore/ring"
)

// Coordinator owns the worker pool, the pending-job FIFO, and the
// cue-to-worker routing table. It runs on its own dedicated goroutine and
// is the only place that mutates the active/pending bookkeeping.
type Coordinator struct {
	inbox  chan any
	doneCh chan jobDone
	stopCh chan struct{}

	workers       []*worker
	workerLoad    []int
	maxConcurrent int
	errSink       ErrorSink

	active  map[string]int // cueID -> worker index
	pending []DecodeStart
}

// NewCoordinator starts cfg.PoolWorkers worker goroutines plus the
// coordinator's own routing goroutine.
func NewCoordinator(cfg config.EngineConfig, errSink ErrorSink) *Coordinator {
	c := &Coordinator{
		inbox:         make(chan any, 256),
		doneCh:        make(chan jobDone, 64),
		stopCh:        make(chan struct{}),
		maxConcurrent: cfg.MaxConcurrentDecodings,
		errSink:       errSink,
		active:        make(map[string]int),
	}
	for i := 0; i < cfg.PoolWorkers; i++ {
		w := newWorker(i, c.doneCh, errSink)
		c.workers = append(c.workers, w)
		c.workerLoad = append(c.workerLoad, 0)
		go w.run()
	}
	go c.run()
	return c
}

// Submit enqueues a DecodeStart.
func (c *Coordinator) Submit(cmd DecodeStart) {
	c.inbox <- cmd
}

// Stop enqueues a DecodeStop.
func (c *Coordinator) Stop(cmd DecodeStop) {
	c.inbox <- cmd
}

// Update enqueues an UpdateCue.
func (c *Coordinator) Update(cmd UpdateCue) {
	c.inbox <- cmd
}

// RequestCredit implements ring.CreditSink. Called from the mixer's
// realtime callback, so it must never block — a full inbox just drops the
// request; the mixer will ask again on a later callback once frames drop
// further below the low-water mark.
func (c *Coordinator) RequestCredit(cueID string, frames int) {
	select {
	case c.inbox <- BufferRequest{CueID: cueID, Frames: frames}:
	default:
	}
}

// Shutdown stops the coordinator and every worker, closing all open
// source decoders.
func (c *Coordinator) Shutdown() {
	close(c.stopCh)
}

func (c *Coordinator) run() {
	for {
		select {
		case msg := <-c.inbox:
			c.handle(msg)
		case d := <-c.doneCh:
			c.handleDone(d)
		case <-c.stopCh:
			for _, w := range c.workers {
				w.stop()
			}
			return
		}
	}
}

func (c *Coordinator) handle(msg any) {
	switch m := msg.(type) {
	case DecodeStart:
		c.startOrQueue(m)
	case BufferRequest:
		if idx, ok := c.active[m.CueID]; ok {
			c.workers[idx].inbox <- m
		}
	case DecodeStop:
		if idx, ok := c.active[m.CueID]; ok {
			c.workers[idx].inbox <- m
			return
		}
		for i, p := range c.pending {
			if p.CueID == m.CueID {
				c.pending = append(c.pending[:i], c.pending[i+1:]...)
				return
			}
		}
	case UpdateCue:
		if idx, ok := c.active[m.CueID]; ok {
			c.workers[idx].inbox <- updateJob{cueID: m.CueID, u: m}
			return
		}
		for i := range c.pending {
			if c.pending[i].CueID != m.CueID {
				continue
			}
			if m.InFrame != nil {
				c.pending[i].InFrame = *m.InFrame
			}
			if m.OutFrame != nil {
				c.pending[i].OutFrame = m.OutFrame
			}
			if m.LoopEnabled != nil {
				c.pending[i].LoopEnabled = *m.LoopEnabled
			}
		}
	}
}

func (c *Coordinator) startOrQueue(cmd DecodeStart) {
	if len(c.active) >= c.maxConcurrent {
		c.pending = append(c.pending, cmd)
		return
	}
	c.assign(cmd, c.leastLoadedWorker())
}

func (c *Coordinator) assign(cmd DecodeStart, idx int) {
	j, err := newJob(cmd)
	if err != nil {
		c.errSink.DecodeError(cmd.CueID, err.Error())
		// No job ever existed to push a terminal chunk, so the mixer would
		// otherwise wait out the full stuck-decode watchdog on a ring that
		// never received a single chunk. Push EOF directly so the cue
		// resolves on the mixer's next callback instead.
		if cmd.Ring != nil {
			cmd.Ring.Push(ring.Chunk{EOF: true})
		}
		return
	}
	c.active[cmd.CueID] = idx
	c.workerLoad[idx]++
	c.workers[idx].inbox <- assignJob{j: j}
}

func (c *Coordinator) leastLoadedWorker() int {
	best := 0
	for i, load := range c.workerLoad {
		if load < c.workerLoad[best] {
			best = i
		}
	}
	return best
}

func (c *Coordinator) handleDone(d jobDone) {
	idx, ok := c.active[d.cueID]
	if !ok {
		return
	}
	delete(c.active, d.cueID)
	c.workerLoad[idx]--

	if len(c.pending) > 0 {
		next := c.pending[0]
		c.pending = c.pending[1:]
		c.assign(next, idx)
	}
}

// ActiveCount reports how many jobs are currently decoding — used by tests
// and by health metrics, not by the realtime path.
func (c *Coordinator) ActiveCount() int {
	return len(c.active)
}

// PendingCount reports how many DecodeStart commands are queued behind the
// MAX_CONCURRENT_DECODINGS cap.
func (c *Coordinator) PendingCount() int {
	return len(c.pending)
}
