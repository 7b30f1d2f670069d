package decode

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/hraban/opus.v2"
)

// opusNativeRates are the sample rates libopus can decode to directly,
// without this core needing its own resample pass.
var opusNativeRates = map[int]bool{8000: true, 12000: true, 16000: true, 24000: true, 48000: true}

// opusSource decodes Opus-in-Ogg files: demuxed with the internal
// oggPageReader, decoded with hraban/opus.v2. Seeking re-demuxes from the
// start of the file and discards packets up to the target — Ogg/Opus has
// no cheap random-access index, and loop points in practice land near the
// start of a cue's source file.
type opusSource struct {
	path   string
	file   *os.File
	demux  *oggPageReader
	decode *opus.Decoder

	decodeChannels int
	decodeRate     int
	framesDecoded  int64 // at decodeRate, since last seek — used to honor SeekFrame by re-skip

	targetChannels int
	targetRate     int
	resampler      *chunkResampler
}

func newOpusSource(path string, targetRate, targetChannels int) (sourceDecoder, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	demux := newOggPageReader(f)
	channels, err := readOpusHeadChannels(demux)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("decode: opus head: %w", err)
	}
	if err := skipOpusTags(demux); err != nil {
		f.Close()
		return nil, err
	}

	decodeRate := targetRate
	if !opusNativeRates[decodeRate] {
		decodeRate = 48000
	}
	dec, err := opus.NewDecoder(decodeRate, channels)
	if err != nil {
		f.Close()
		return nil, err
	}

	resampler, err := newChunkResampler(decodeRate, targetRate, targetChannels)
	if err != nil {
		f.Close()
		return nil, err
	}

	return &opusSource{
		path:           path,
		file:           f,
		demux:          demux,
		decode:         dec,
		decodeChannels: channels,
		decodeRate:     decodeRate,
		targetChannels: targetChannels,
		targetRate:     targetRate,
		resampler:      resampler,
	}, nil
}

// readOpusHeadChannels reads the mandatory first packet (OpusHead) and
// returns its channel count (byte 9 of the packet payload).
func readOpusHeadChannels(demux *oggPageReader) (int, error) {
	head, err := demux.NextPacket()
	if err != nil {
		return 0, err
	}
	if len(head) < 19 || string(head[0:8]) != "OpusHead" {
		return 0, errors.New("decode: missing OpusHead packet")
	}
	return int(head[9]), nil
}

func skipOpusTags(demux *oggPageReader) error {
	tags, err := demux.NextPacket()
	if err != nil {
		return err
	}
	if len(tags) < 8 || string(tags[0:8]) != "OpusTags" {
		return errors.New("decode: missing OpusTags packet")
	}
	return nil
}

func (o *opusSource) ReadFrames(maxFrames int) ([]float32, int, bool, error) {
	wantDecodeFrames := maxFrames
	if o.resampler != nil {
		wantDecodeFrames = maxFrames*o.decodeRate/o.targetRate + 1
	}

	var out []float32
	decoded := 0
	eof := false
	pcmBuf := make([]float32, 5760*o.decodeChannels) // 120ms @ 48kHz max Opus frame

	for decoded < wantDecodeFrames {
		packet, err := o.demux.NextPacket()
		if err != nil {
			if err == io.EOF {
				eof = true
				break
			}
			return nil, 0, false, fmt.Errorf("decode: opus demux: %w", err)
		}
		n, err := o.decode.DecodeFloat32(packet, pcmBuf)
		if err != nil {
			return nil, 0, false, fmt.Errorf("decode: opus decode: %w", err)
		}
		out = append(out, pcmBuf[:n*o.decodeChannels]...)
		decoded += n
		o.framesDecoded += int64(n)
	}

	pcm := remapChannels(out, decoded, o.decodeChannels, o.targetChannels)
	if o.resampler != nil && decoded > 0 {
		resampled, rerr := o.resampler.process(pcm, decoded)
		if rerr != nil {
			return nil, 0, false, rerr
		}
		return resampled, len(resampled) / o.targetChannels, eof, nil
	}
	return pcm, decoded, eof, nil
}

// SeekFrame re-opens the file and demuxes from the start, discarding
// decoded frames until targetFrame (in decode-rate frames) is reached.
func (o *opusSource) SeekFrame(targetFrame int64) error {
	if err := o.file.Close(); err != nil {
		return err
	}
	f, err := os.Open(o.path)
	if err != nil {
		return err
	}
	demux := newOggPageReader(f)
	if _, err := readOpusHeadChannels(demux); err != nil {
		f.Close()
		return err
	}
	if err := skipOpusTags(demux); err != nil {
		f.Close()
		return err
	}
	dec, err := opus.NewDecoder(o.decodeRate, o.decodeChannels)
	if err != nil {
		f.Close()
		return err
	}

	o.file = f
	o.demux = demux
	o.decode = dec
	o.framesDecoded = 0

	targetDecodeFrame := targetFrame
	if o.resampler != nil {
		targetDecodeFrame = targetFrame * int64(o.decodeRate) / int64(o.targetRate)
	}
	for o.framesDecoded < targetDecodeFrame {
		if _, _, eof, err := o.ReadFrames(int(targetDecodeFrame - o.framesDecoded)); err != nil {
			return err
		} else if eof {
			break
		}
	}
	return nil
}

func (o *opusSource) Close() error {
	if o.resampler != nil {
		o.resampler.Close()
	}
	return o.file.Close()
}
