package decode

import (
	"fmt"
	"io"
	"os"

	"github.com/jfreymuth/oggvorbis"
)

// vorbisSource decodes Ogg/Vorbis files via jfreymuth/oggvorbis, which
// already hands back interleaved float32 PCM at the stream's native rate.
type vorbisSource struct {
	file   *os.File
	reader *oggvorbis.Reader

	sourceChannels int
	targetChannels int
	resampler      *chunkResampler
}

func newVorbisSource(path string, targetRate, targetChannels int) (sourceDecoder, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r, err := oggvorbis.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("decode: vorbis open: %w", err)
	}

	resampler, err := newChunkResampler(r.SampleRate(), targetRate, targetChannels)
	if err != nil {
		f.Close()
		return nil, err
	}

	return &vorbisSource{
		file:           f,
		reader:         r,
		sourceChannels: r.Channels(),
		targetChannels: targetChannels,
		resampler:      resampler,
	}, nil
}

func (v *vorbisSource) ReadFrames(maxFrames int) ([]float32, int, bool, error) {
	buf := make([]float32, maxFrames*v.sourceChannels)
	n, err := v.reader.Read(buf)
	eof := false
	if err != nil {
		if err != io.EOF {
			return nil, 0, false, fmt.Errorf("decode: vorbis read: %w", err)
		}
		eof = true
	}
	frames := n / v.sourceChannels
	pcm := remapChannels(buf[:frames*v.sourceChannels], frames, v.sourceChannels, v.targetChannels)

	if v.resampler != nil && frames > 0 {
		resampled, rerr := v.resampler.process(pcm, frames)
		if rerr != nil {
			return nil, 0, false, rerr
		}
		return resampled, len(resampled) / v.targetChannels, eof, nil
	}
	return pcm, frames, eof, nil
}

func (v *vorbisSource) SeekFrame(targetFrame int64) error {
	return v.reader.SetPosition(targetFrame)
}

func (v *vorbisSource) Close() error {
	if v.resampler != nil {
		v.resampler.Close()
	}
	return v.file.Close()
}
