package wav

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/go-audio/riff"
)

// pcmSubFormatTail is the fixed part of the KSDATAFORMAT_SUBTYPE GUIDs that
// follows the 32-bit format code in a WAVE_FORMAT_EXTENSIBLE fmt chunk.
var pcmSubFormatTail = []byte{
	0x00, 0x00, 0x10, 0x00, 0x80, 0x00, 0x00, 0xAA, 0x00, 0x38, 0x9B, 0x71,
}

// layout is what the chunk scan learns about a WAVE stream before the
// sample decoder runs.
type layout struct {
	formatTag uint16

	// subFormat is the format code from the extensible GUID, or formatTag
	// for plain fmt chunks.
	subFormat uint32

	// dataStart is the offset of the first sample byte.
	dataStart int64

	// dataSize is the data chunk size as declared in its header, before
	// word-alignment padding.
	dataSize int64

	// available is the number of bytes actually present after dataStart.
	available int64
}

// scanChunks walks the RIFF chunk list of r, reads the fmt chunk in full and
// locates the data chunk. It leaves r positioned at the start of the stream.
func scanChunks(r io.ReadSeeker) (layout, error) {
	var l layout
	p := riff.New(r)
	if err := p.ParseHeaders(); err != nil {
		return l, unsupported("malformed RIFF header", err)
	}
	if p.Format != riff.WavFormatID {
		return l, unsupported(fmt.Sprintf("container format %q is not WAVE", p.Format[:]), nil)
	}

	var sawFmt bool
	for {
		id, size, err := p.IDnSize()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				if !sawFmt {
					return l, unsupported("missing fmt chunk", nil)
				}
				return l, unsupported("missing data chunk", nil)
			}
			return l, unsupported("reading chunk header", err)
		}

		switch id {
		case riff.FmtID:
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return l, unsupported("truncated fmt chunk", err)
			}
			if err := l.readFmt(body); err != nil {
				return l, err
			}
			sawFmt = true
			if size%2 == 1 {
				if _, err := r.Seek(1, io.SeekCurrent); err != nil {
					return l, unsupported("seeking past fmt padding", err)
				}
			}

		case riff.DataFormatID:
			if !sawFmt {
				return l, unsupported("data chunk before fmt chunk", nil)
			}
			start, err := r.Seek(0, io.SeekCurrent)
			if err != nil {
				return l, fmt.Errorf("wav: locate data chunk: %w", err)
			}
			end, err := r.Seek(0, io.SeekEnd)
			if err != nil {
				return l, fmt.Errorf("wav: locate data chunk: %w", err)
			}
			l.dataStart, l.dataSize, l.available = start, int64(size), end-start
			if _, err := r.Seek(0, io.SeekStart); err != nil {
				return l, fmt.Errorf("wav: rewind: %w", err)
			}
			return l, nil

		default:
			skip := int64(size) + int64(size%2)
			if _, err := r.Seek(skip, io.SeekCurrent); err != nil {
				return l, unsupported(fmt.Sprintf("skipping %q chunk", id[:]), err)
			}
		}
	}
}

// readFmt extracts the format tag and, for extensible files, the sub-format
// code from a fmt chunk body.
func (l *layout) readFmt(body []byte) error {
	if len(body) < 16 {
		return unsupported(fmt.Sprintf("fmt chunk of %d bytes", len(body)), nil)
	}
	l.formatTag = binary.LittleEndian.Uint16(body[0:2])
	l.subFormat = uint32(l.formatTag)
	if l.formatTag != formatExtensible {
		return nil
	}
	// cbSize(2) validBits(2) channelMask(4) subFormat GUID(16)
	if len(body) < 40 {
		return unsupported("extensible fmt chunk without sub-format", nil)
	}
	guid := body[24:40]
	if !bytes.Equal(guid[4:], pcmSubFormatTail) {
		return unsupported("extensible sub-format GUID is not a standard audio sub-type", nil)
	}
	l.subFormat = binary.LittleEndian.Uint32(guid[0:4])
	return nil
}

// truncated reports whether fewer bytes follow the data chunk header than
// it declares. A missing word-alignment pad byte is tolerated.
func (l layout) truncated() bool {
	return l.available < l.dataSize
}
