package decode

import (
	"fmt"
	"io"
	"math"
	"os"

	"github.com/youpy/go-wav"
)

// wavSource decodes PCM and IEEE-float WAV files. go-wav parses the RIFF
// header and fmt chunk; sample data is then read directly off the file
// handle so SeekFrame can reposition without re-parsing the container.
type wavSource struct {
	file           *os.File
	sourceChannels int
	sourceRate     int
	bitsPerSample  int
	isFloat        bool
	frameBytes     int
	dataOffset     int64

	targetChannels int
	resampler      *chunkResampler
}

func newWAVSource(path string, targetRate, targetChannels int) (sourceDecoder, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	r := wav.NewReader(f)
	format, err := r.Format()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("decode: wav format: %w", err)
	}

	dataOffset, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		f.Close()
		return nil, err
	}

	resampler, err := newChunkResampler(int(format.SampleRate), targetRate, targetChannels)
	if err != nil {
		f.Close()
		return nil, err
	}

	return &wavSource{
		file:           f,
		sourceChannels: int(format.NumChannels),
		sourceRate:     int(format.SampleRate),
		bitsPerSample:  int(format.BitsPerSample),
		isFloat:        format.AudioFormat == 3,
		frameBytes:     int(format.NumChannels) * int(format.BitsPerSample) / 8,
		dataOffset:     dataOffset,
		targetChannels: targetChannels,
		resampler:      resampler,
	}, nil
}

func (w *wavSource) ReadFrames(maxFrames int) ([]float32, int, bool, error) {
	raw := make([]byte, maxFrames*w.frameBytes)
	n, err := io.ReadFull(w.file, raw)
	eof := false
	if err != nil {
		if err != io.ErrUnexpectedEOF && err != io.EOF {
			return nil, 0, false, fmt.Errorf("decode: wav read: %w", err)
		}
		eof = true
	}
	frames := n / w.frameBytes
	raw = raw[:frames*w.frameBytes]

	src := decodePCM(raw, w.sourceChannels, w.bitsPerSample, w.isFloat)
	pcm := remapChannels(src, frames, w.sourceChannels, w.targetChannels)

	if w.resampler != nil && frames > 0 {
		resampled, rerr := w.resampler.process(pcm, frames)
		if rerr != nil {
			return nil, 0, false, rerr
		}
		return resampled, len(resampled) / w.targetChannels, eof, nil
	}
	return pcm, frames, eof, nil
}

func (w *wavSource) SeekFrame(targetFrame int64) error {
	off := w.dataOffset + targetFrame*int64(w.frameBytes)
	_, err := w.file.Seek(off, io.SeekStart)
	return err
}

func (w *wavSource) Close() error {
	if w.resampler != nil {
		w.resampler.Close()
	}
	return w.file.Close()
}

// decodePCM converts raw interleaved sample bytes to float32 in [-1, 1].
func decodePCM(raw []byte, channels, bitsPerSample int, isFloat bool) []float32 {
	switch {
	case isFloat && bitsPerSample == 32:
		out := make([]float32, len(raw)/4)
		for i := range out {
			bits := uint32(raw[i*4]) | uint32(raw[i*4+1])<<8 | uint32(raw[i*4+2])<<16 | uint32(raw[i*4+3])<<24
			out[i] = math.Float32frombits(bits)
		}
		return out
	case bitsPerSample == 16:
		out := make([]float32, len(raw)/2)
		for i := range out {
			v := int16(uint16(raw[i*2]) | uint16(raw[i*2+1])<<8)
			out[i] = float32(v) / 32768.0
		}
		return out
	case bitsPerSample == 24:
		out := make([]float32, len(raw)/3)
		for i := range out {
			b0, b1, b2 := raw[i*3], raw[i*3+1], raw[i*3+2]
			v := int32(b0) | int32(b1)<<8 | int32(b2)<<16
			if v&0x800000 != 0 {
				v |= -1 << 24
			}
			out[i] = float32(v) / 8388608.0
		}
		return out
	case bitsPerSample == 32:
		out := make([]float32, len(raw)/4)
		for i := range out {
			bits := uint32(raw[i*4]) | uint32(raw[i*4+1])<<8 | uint32(raw[i*4+2])<<16 | uint32(raw[i*4+3])<<24
			out[i] = float32(int32(bits)) / 2147483648.0
		}
		return out
	default:
		return nil
	}
}

// remapChannels up/down-mixes interleaved PCM from srcChannels to
// dstChannels: mono sources are duplicated to every output channel; wider
// sources are averaged down to mono; matching channel counts pass through.
func remapChannels(src []float32, frames, srcChannels, dstChannels int) []float32 {
	if srcChannels == dstChannels {
		return src
	}
	out := make([]float32, frames*dstChannels)
	for f := 0; f < frames; f++ {
		if srcChannels == 1 {
			v := src[f]
			for c := 0; c < dstChannels; c++ {
				out[f*dstChannels+c] = v
			}
			continue
		}
		if dstChannels == 1 {
			var sum float32
			for c := 0; c < srcChannels; c++ {
				sum += src[f*srcChannels+c]
			}
			out[f] = sum / float32(srcChannels)
			continue
		}
		for c := 0; c < dstChannels; c++ {
			srcC := c
			if srcC >= srcChannels {
				srcC = srcChannels - 1
			}
			out[f*dstChannels+c] = src[f*srcChannels+srcC]
		}
	}
	return out
}
