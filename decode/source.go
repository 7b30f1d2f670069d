package decode

import (
	"fmt"
	"path/filepath"
	"strings"
)

// sourceDecoder demuxes and decodes one audio file into interleaved f32 PCM
// at a fixed target sample rate and channel count, resampling internally
// when the source format does not already match. Implementations are not
// safe for concurrent use — each belongs to exactly one decoder worker.
type sourceDecoder interface {
	// ReadFrames decodes up to maxFrames target-rate frames. It may return
	// fewer frames than requested without eof being true (a short demux
	// read); eof is set once the underlying container is exhausted and no
	// more frames will ever be produced.
	ReadFrames(maxFrames int) (pcm []float32, frames int, eof bool, err error)

	// SeekFrame repositions the decoder to the given target-rate frame
	// index, used both for the initial in_frame seek and for loop restarts.
	SeekFrame(targetFrame int64) error

	Close() error
}

// openSource dispatches to a concrete decoder by file extension.
func openSource(filePath string, targetRate, targetChannels int) (sourceDecoder, error) {
	switch ext := strings.ToLower(filepath.Ext(filePath)); ext {
	case ".wav":
		return newWAVSource(filePath, targetRate, targetChannels)
	case ".ogg":
		return newVorbisSource(filePath, targetRate, targetChannels)
	case ".opus":
		return newOpusSource(filePath, targetRate, targetChannels)
	default:
		return nil, fmt.Errorf("decode: unsupported file extension %q", ext)
	}
}
