package packet

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
)

// MaxFrameSize is the largest frame a FrameReader accepts when no explicit
// limit is configured.
const MaxFrameSize = 16 * 1024 * 1024

// ErrFrameTooLarge is returned when a peer announces or sends a frame larger
// than the configured limit.
var ErrFrameTooLarge = errors.New("frame too large")

// Framing selects how messages are delimited on a byte stream.
type Framing int

const (
	// Newline frames carry one message per line terminated by '\n'. A
	// trailing '\r' is stripped so telnet-style peers work too.
	Newline Framing = iota
	// LengthPrefixed frames carry a 4-byte little-endian length followed by
	// that many bytes of payload.
	LengthPrefixed
)

// String returns the config name of the framing.
func (f Framing) String() string {
	switch f {
	case Newline:
		return "newline"
	case LengthPrefixed:
		return "length"
	default:
		return "unknown"
	}
}

// ParseFraming maps a config name to a Framing.
//
// Parameters:
//   - name: "newline" or "length" (case-insensitive); "" selects Newline
//
// Returns:
//   - The framing, or an error for unknown names
func ParseFraming(name string) (Framing, error) {
	switch strings.ToLower(name) {
	case "", "newline":
		return Newline, nil
	case "length":
		return LengthPrefixed, nil
	default:
		return Newline, fmt.Errorf("unknown framing %q", name)
	}
}

// AppendFrame returns data wrapped in the given framing.
func AppendFrame(f Framing, data []byte) []byte {
	switch f {
	case LengthPrefixed:
		out := make([]byte, 4, 4+len(data))
		binary.LittleEndian.PutUint32(out, uint32(len(data)))
		return append(out, data...)
	default:
		out := make([]byte, 0, len(data)+1)
		out = append(out, data...)
		return append(out, '\n')
	}
}

// FrameReader splits a byte stream into frames.
type FrameReader struct {
	r       *bufio.Reader
	framing Framing
	max     int
}

// NewFrameReader wraps r.
//
// Parameters:
//   - r: The underlying stream
//   - f: Framing used by the peer
//   - max: Maximum frame size in bytes; <= 0 selects MaxFrameSize
//
// Returns:
//   - A FrameReader reading from r
func NewFrameReader(r io.Reader, f Framing, max int) *FrameReader {
	if max <= 0 {
		max = MaxFrameSize
	}

	return &FrameReader{r: bufio.NewReader(r), framing: f, max: max}
}

// Next returns the next non-empty frame. The returned slice is owned by the
// caller.
//
// Returns:
//   - The frame payload without framing bytes
//   - io.EOF when the stream ends cleanly, ErrFrameTooLarge, or a read error
func (fr *FrameReader) Next() ([]byte, error) {
	if fr.framing == LengthPrefixed {
		return fr.nextPrefixed()
	}

	return fr.nextLine()
}

func (fr *FrameReader) nextPrefixed() ([]byte, error) {
	for {
		var header [4]byte
		if _, err := io.ReadFull(fr.r, header[:]); err != nil {
			return nil, err
		}

		size := binary.LittleEndian.Uint32(header[:])
		if size == 0 {
			continue
		}

		if uint64(size) > uint64(fr.max) {
			return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
		}

		frame := make([]byte, size)
		if _, err := io.ReadFull(fr.r, frame); err != nil {
			return nil, err
		}

		return frame, nil
	}
}

func (fr *FrameReader) nextLine() ([]byte, error) {
	var line []byte
	for {
		chunk, err := fr.r.ReadSlice('\n')
		line = append(line, chunk...)
		if len(line) > fr.max+1 {
			return nil, fmt.Errorf("%w: line exceeds %d bytes", ErrFrameTooLarge, fr.max)
		}

		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}

		if err != nil {
			// A final unterminated line still counts as a frame.
			if errors.Is(err, io.EOF) && len(bytes.TrimSpace(line)) > 0 {
				return bytes.TrimRight(line, "\r\n"), nil
			}

			return nil, err
		}

		line = bytes.TrimRight(line, "\r\n")
		if len(bytes.TrimSpace(line)) == 0 {
			line = line[:0]
			continue
		}

		return line, nil
	}
}
