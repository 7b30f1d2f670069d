package decode

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/zaf/resample"
)

// chunkResampler wraps zaf/resample's streaming writer interface behind a
// simple buffer-in/buffer-out call, so the rest of the decoder can work in
// []float32 frames without worrying about the underlying byte pump.
type chunkResampler struct {
	channels int
	out      bytes.Buffer
	r        *resample.Resampler
}

// newChunkResampler returns nil, nil when inRate == outRate — callers
// should skip resampling entirely in that case rather than pay for an
// identity pass, per the "checked once per DecodeJob at open" rule.
func newChunkResampler(inRate, outRate, channels int) (*chunkResampler, error) {
	if inRate == outRate {
		return nil, nil
	}
	cr := &chunkResampler{channels: channels}
	r, err := resample.New(&cr.out, float64(inRate), float64(outRate), channels, resample.F32, resample.HighQ)
	if err != nil {
		return nil, err
	}
	cr.r = r
	return cr, nil
}

// process resamples pcm (frames*channels interleaved float32 samples) and
// returns the resampled interleaved float32 output.
func (cr *chunkResampler) process(pcm []float32, frames int) ([]float32, error) {
	cr.out.Reset()

	in := make([]byte, frames*cr.channels*4)
	for i, s := range pcm[:frames*cr.channels] {
		binary.LittleEndian.PutUint32(in[i*4:], math.Float32bits(s))
	}
	if _, err := cr.r.Write(in); err != nil {
		return nil, err
	}

	raw := cr.out.Bytes()
	outFrames := len(raw) / 4 / cr.channels
	out := make([]float32, outFrames*cr.channels)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return out, nil
}

func (cr *chunkResampler) Close() error {
	if cr.r == nil {
		return nil
	}
	return cr.r.Close()
}
