package decode

import (
	"sort"
	"time"

	"cuecore/ring"
)

// assignJob hands a newly constructed job to its worker.
type assignJob struct {
	j *job
}

// updateJob carries an UpdateCue already routed to the worker owning cueID.
type updateJob struct {
	cueID string
	u     UpdateCue
}

// worker runs POOL_WORKERS-many of these; each owns zero or more jobs and
// on every step picks the job with the lowest positive credit (starving
// jobs first), matching the per-worker main loop in the component design.
type worker struct {
	id      int
	inbox   chan any
	doneCh  chan<- jobDone
	errSink ErrorSink
	stopCh  chan struct{}

	jobs map[string]*job
}

func newWorker(id int, doneCh chan<- jobDone, errSink ErrorSink) *worker {
	return &worker{
		id:      id,
		inbox:   make(chan any, 32),
		doneCh:  doneCh,
		errSink: errSink,
		stopCh:  make(chan struct{}),
		jobs:    make(map[string]*job),
	}
}

func (w *worker) stop() { close(w.stopCh) }

func (w *worker) run() {
	for {
		w.drainInbox()
		w.finishStoppedJobs()

		next := w.pickJob()
		if next == nil {
			select {
			case <-w.stopCh:
				w.closeAll()
				return
			case msg := <-w.inbox:
				w.handle(msg)
			case <-time.After(5 * time.Millisecond):
			}
			continue
		}

		select {
		case <-w.stopCh:
			w.closeAll()
			return
		default:
		}

		w.stepOnce(next)
	}
}

func (w *worker) closeAll() {
	for _, j := range w.jobs {
		j.close()
	}
}

func (w *worker) drainInbox() {
	for {
		select {
		case msg := <-w.inbox:
			w.handle(msg)
		default:
			return
		}
	}
}

func (w *worker) handle(msg any) {
	switch m := msg.(type) {
	case assignJob:
		w.jobs[m.j.cueID] = m.j
	case BufferRequest:
		if j, ok := w.jobs[m.CueID]; ok {
			j.creditFrames += int64(m.Frames)
		}
	case DecodeStop:
		if j, ok := w.jobs[m.CueID]; ok {
			j.pendingStop = true
		}
	case updateJob:
		if j, ok := w.jobs[m.cueID]; ok {
			j.applyUpdate(m.u)
		}
	}
}

func (w *worker) finishStoppedJobs() {
	for id, j := range w.jobs {
		if j.pendingStop {
			j.close()
			delete(w.jobs, id)
			w.notifyDone(id)
		}
	}
}

// pickJob selects the job with positive credit and the lowest credit
// among those — the starving-job-priority rule.
func (w *worker) pickJob() *job {
	var candidates []*job
	for _, j := range w.jobs {
		if j.creditFrames > 0 {
			candidates = append(candidates, j)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, k int) bool {
		return candidates[i].creditFrames < candidates[k].creditFrames
	})
	return candidates[0]
}

func (w *worker) notifyDone(cueID string) {
	select {
	case w.doneCh <- jobDone{cueID: cueID}:
	default:
	}
}

// stepOnce decodes up to one TARGET_CHUNK_SIZE chunk (bounded by available
// credit) for j, handling post-seek discard, the out_frame/EOF boundary,
// and loop restart, then pushes the chunk to j's ring.
func (w *worker) stepOnce(j *job) {
	j.maybeProactiveSeek()

	want := j.targetChunkSize
	if int64(want) > j.creditFrames {
		want = int(j.creditFrames)
	}
	if want <= 0 {
		return
	}

	var pcm []float32
	filled := 0
	isLoopRestart := false
	terminate := false
	chunkEOF := false

	for filled < want {
		if j.discardFrames > 0 {
			discardWant := want - filled
			if int64(discardWant) > j.discardFrames {
				discardWant = int(j.discardFrames)
			}
			_, n, eof, err := j.src.ReadFrames(discardWant)
			if err != nil {
				w.fail(j, err)
				return
			}
			j.discardFrames -= int64(n)
			if n == 0 && eof {
				break
			}
			continue
		}

		remaining := j.remaining()
		readWant := want - filled
		if remaining == 0 {
			looped, err := w.crossBoundary(j)
			if err != nil {
				w.fail(j, err)
				return
			}
			if !looped {
				terminate = true
				chunkEOF = true
				break
			}
			isLoopRestart = true
			continue
		}
		if remaining > 0 && int64(readWant) > remaining {
			readWant = int(remaining)
		}

		data, n, eof, err := j.src.ReadFrames(readWant)
		if err != nil {
			w.fail(j, err)
			return
		}
		if n > 0 {
			pcm = append(pcm, data[:n*j.targetChannels]...)
			filled += n
			j.decodedFrames += int64(n)
		}

		if eof {
			looped, err := w.crossBoundary(j)
			if err != nil {
				w.fail(j, err)
				return
			}
			if !looped {
				terminate = true
				chunkEOF = true
				break
			}
			isLoopRestart = true
			continue
		}
		if n == 0 {
			// Demuxer produced nothing but is not yet EOF — avoid a busy
			// spin within this step; the next tick will retry.
			break
		}
	}

	if filled == 0 && !terminate {
		return
	}

	j.ring.Push(ring.Chunk{PCM: pcm, Frames: filled, IsLoopRestart: isLoopRestart, EOF: chunkEOF})
	j.creditFrames -= int64(filled)

	if terminate {
		j.close()
		delete(w.jobs, j.cueID)
		w.notifyDone(j.cueID)
	}
}

// crossBoundary handles either trigger for an iteration end (out_frame
// reached or demuxer EOF): a non-looping job reports not-looped so the
// caller terminates it; a looping job seeks back to in_frame and reports
// looped so the caller marks the next chunk is_loop_restart.
func (w *worker) crossBoundary(j *job) (looped bool, err error) {
	if !j.loopEnabled {
		return false, nil
	}
	if err := j.loopRestart(); err != nil {
		return false, err
	}
	return true, nil
}

// fail reports a mid-decode error and pushes a terminal EOF chunk so the
// mixer notices the ring has gone quiet on this callback rather than
// waiting out the full stuck-decode watchdog window.
func (w *worker) fail(j *job, err error) {
	w.errSink.DecodeError(j.cueID, err.Error())
	j.ring.Push(ring.Chunk{EOF: true})
	j.close()
	delete(w.jobs, j.cueID)
	w.notifyDone(j.cueID)
}
