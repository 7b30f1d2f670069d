package decode

import (
	"errors"
	"fmt"
	"io"
)

// oggPageReader is a minimal Ogg bitstream demuxer: just enough to pull
// whole packets out of a single logical stream (one bitstream serial
// number) for Opus decode. It does not verify CRCs or handle chained /
// multiplexed streams — Opus files produced by standard encoders are a
// single stream per file, which is the only case this core needs to play.
type oggPageReader struct {
	r       io.Reader
	pending [][]byte // fully assembled packets not yet returned
	partial []byte   // bytes of a packet still waiting on a continuation page
	eof     bool
}

func newOggPageReader(r io.Reader) *oggPageReader {
	return &oggPageReader{r: r}
}

// NextPacket returns the next whole Opus packet, or io.EOF once the stream
// is exhausted.
func (o *oggPageReader) NextPacket() ([]byte, error) {
	for len(o.pending) == 0 {
		if o.eof {
			return nil, io.EOF
		}
		if err := o.readPage(); err != nil {
			return nil, err
		}
	}
	p := o.pending[0]
	o.pending = o.pending[1:]
	return p, nil
}

func (o *oggPageReader) readPage() error {
	var header [27]byte
	if _, err := io.ReadFull(o.r, header[:]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			o.eof = true
			return nil
		}
		return fmt.Errorf("decode: ogg page header: %w", err)
	}
	if string(header[0:4]) != "OggS" {
		return errors.New("decode: invalid ogg capture pattern")
	}
	headerType := header[5]
	continued := headerType&0x01 != 0
	segCount := int(header[26])

	segTable := make([]byte, segCount)
	if _, err := io.ReadFull(o.r, segTable); err != nil {
		return fmt.Errorf("decode: ogg segment table: %w", err)
	}

	var cur []byte
	if continued {
		cur = o.partial
		o.partial = nil
	}

	var packets [][]byte
	for _, lacing := range segTable {
		seg := make([]byte, lacing)
		if lacing > 0 {
			if _, err := io.ReadFull(o.r, seg); err != nil {
				return fmt.Errorf("decode: ogg segment: %w", err)
			}
		}
		cur = append(cur, seg...)
		if lacing < 255 {
			packets = append(packets, cur)
			cur = nil
		}
	}
	// An unterminated final segment (lacing==255 with no follow-up) means
	// the packet continues on the next page — carry it forward in cur.
	if cur != nil {
		o.partial = cur
	}
	if len(packets) > 0 {
		o.pending = append(o.pending, packets...)
	}
	if headerType&0x04 != 0 {
		o.eof = true
	}
	return nil
}
