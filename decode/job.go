package decode

import "cuecore/ring"

// job is a worker-owned decode context for one cue. Every field here is
// touched only by the worker goroutine that owns it — commands addressed
// to a running job arrive through the worker's inbox and are applied
// synchronously between decode steps, so no locking is needed internally.
type job struct {
	cueID       string
	filePath    string
	inFrame     int64
	outFrame    *int64
	loopEnabled bool

	targetSampleRate int
	targetChannels   int
	blockFrames      int
	targetChunkSize  int
	lookaheadWindow  int

	src  sourceDecoder
	ring *ring.Ring

	decodedFrames int64 // since last in_frame / loop restart
	discardFrames int64 // post-seek resampler settle tolerance remaining
	loopCount     int

	creditFrames int64
	pendingStop  bool
	pendingUpdate *UpdateCue

	proactiveSeekDone    bool // pre-seek for the next iteration already issued
	pendingSrc           sourceDecoder
	pendingDiscardFrames int64
}

func newJob(cmd DecodeStart) (*job, error) {
	src, err := openSource(cmd.FilePath, cmd.TargetSampleRate, cmd.TargetChannels)
	if err != nil {
		return nil, err
	}
	j := &job{
		cueID:            cmd.CueID,
		filePath:         cmd.FilePath,
		inFrame:          cmd.InFrame,
		outFrame:         cmd.OutFrame,
		loopEnabled:      cmd.LoopEnabled,
		targetSampleRate: cmd.TargetSampleRate,
		targetChannels:   cmd.TargetChannels,
		blockFrames:      cmd.BlockFrames,
		targetChunkSize:  cmd.TargetChunkSize,
		lookaheadWindow:  cmd.LookaheadWindow,
		src:              src,
		ring:             cmd.Ring,
	}
	if cmd.InFrame > 0 {
		if err := src.SeekFrame(cmd.InFrame); err != nil {
			src.Close()
			return nil, err
		}
		j.discardFrames = int64(j.targetSampleRate) / 100 // 10ms settle
	}
	return j, nil
}

// remaining returns the frames left before out_frame, or -1 if unbounded
// (out_frame is nil).
func (j *job) remaining() int64 {
	if j.outFrame == nil {
		return -1
	}
	return *j.outFrame - (j.inFrame + j.decodedFrames)
}

func (j *job) applyUpdate(u UpdateCue) {
	j.pendingUpdate = &u
}

func (j *job) consumeUpdate() {
	if j.pendingUpdate == nil {
		return
	}
	u := j.pendingUpdate
	if u.InFrame != nil && *u.InFrame != j.inFrame {
		j.inFrame = *u.InFrame
		// Any decoder already pre-seeked for the next loop iteration was
		// seeked to the old in_frame — it's no longer valid.
		j.discardPendingSeek()
	}
	if u.OutFrame != nil {
		j.outFrame = u.OutFrame
	}
	if u.LoopEnabled != nil {
		j.loopEnabled = *u.LoopEnabled
	}
	j.pendingUpdate = nil
}

// maybeProactiveSeek opens and seeks a second decoder instance for the next
// loop iteration once remaining() drops to lookaheadWindow or below, so
// crossBoundary can swap decoders instantly instead of seeking and settling
// the resampler synchronously at the boundary — the gap a reactive seek
// would otherwise leave in the ring right as the mixer needs the next
// chunk. Non-looping jobs never do this. A failed attempt is silently
// retried on the next step.
func (j *job) maybeProactiveSeek() {
	if !j.loopEnabled || j.proactiveSeekDone || j.pendingSrc != nil {
		return
	}
	remaining := j.remaining()
	if remaining < 0 || remaining > int64(j.lookaheadWindow) {
		return
	}
	src, err := openSource(j.filePath, j.targetSampleRate, j.targetChannels)
	if err != nil {
		return
	}
	discardFrames := int64(0)
	if j.inFrame > 0 {
		if err := src.SeekFrame(j.inFrame); err != nil {
			src.Close()
			return
		}
		discardFrames = int64(j.targetSampleRate) / 100
	}
	j.pendingSrc = src
	j.pendingDiscardFrames = discardFrames
	j.proactiveSeekDone = true
}

func (j *job) discardPendingSeek() {
	if j.pendingSrc != nil {
		j.pendingSrc.Close()
		j.pendingSrc = nil
	}
	j.proactiveSeekDone = false
}

// loopRestart advances to the next iteration. If a proactive pre-seek
// already prepared a decoder for in_frame, it's swapped in directly;
// otherwise in_frame is seeked synchronously here, same as before the
// lookahead window was implemented. Any buffered UpdateCue takes effect
// here, never mid-iteration.
func (j *job) loopRestart() error {
	j.consumeUpdate()
	if j.pendingSrc != nil {
		j.src.Close()
		j.src = j.pendingSrc
		j.discardFrames = j.pendingDiscardFrames
		j.pendingSrc = nil
		j.pendingDiscardFrames = 0
	} else {
		if err := j.src.SeekFrame(j.inFrame); err != nil {
			return err
		}
		if j.inFrame > 0 {
			j.discardFrames = int64(j.targetSampleRate) / 100
		} else {
			j.discardFrames = 0
		}
	}
	j.decodedFrames = 0
	j.loopCount++
	j.proactiveSeekDone = false
	return nil
}

func (j *job) close() {
	j.src.Close()
	if j.pendingSrc != nil {
		j.pendingSrc.Close()
	}
}
