package ipc

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
)

// maxLine bounds a single message on the wire. The agent's serializer keeps
// payloads small, but a hard cap protects both ends either way.
const maxLine = 1 << 20

// ErrBadFrame marks one unusable line: oversized or not a parseable
// envelope. It is recoverable; the next call on the Reader picks up at
// the following line.
var ErrBadFrame = errors.New("ipc: bad frame")

// Writer serializes envelopes onto a stream. Safe for concurrent use.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriter(w io.Writer) *Writer { return &Writer{w: w} }

// Send marshals and writes one message atomically with respect to other
// Sends. A message above the frame limit is refused before any bytes
// reach the stream; the peer drops oversized lines, so sending one
// would only waste the bandwidth.
func (w *Writer) Send(t Type, payload any) error {
	b, err := Marshal(t, payload)
	if err != nil {
		return err
	}
	if len(b) > maxLine {
		return fmt.Errorf("ipc: %s message of %d bytes exceeds the frame limit", t, len(b))
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err = w.w.Write(b)
	return err
}

// Reader consumes newline-framed envelopes from a stream.
// Not safe for concurrent use; drive it from a single goroutine.
type Reader struct {
	br *bufio.Reader
}

func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReaderSize(r, 64*1024)}
}

// Next returns the next envelope, io.EOF when the stream ends, or an
// error wrapping ErrBadFrame for a line that had to be dropped. Only
// bad frames are recoverable; anything else ends the stream.
func (r *Reader) Next() (Envelope, error) {
	for {
		line, err := r.readLine()
		if err != nil {
			return Envelope{}, err
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		env, err := Parse(line)
		if err != nil {
			return Envelope{}, fmt.Errorf("%w: %v", ErrBadFrame, err)
		}
		return env, nil
	}
}

// readLine collects one newline-terminated line. A line that outgrows
// maxLine is consumed to its end so the reader stays aligned on line
// boundaries, then reported as a bad frame.
func (r *Reader) readLine() ([]byte, error) {
	var buf []byte
	for {
		chunk, err := r.br.ReadSlice('\n')
		buf = append(buf, chunk...)
		switch {
		case err == nil:
			return buf, nil
		case errors.Is(err, bufio.ErrBufferFull):
			if len(buf) > maxLine {
				n, derr := r.discardLine()
				if derr != nil && !errors.Is(derr, io.EOF) {
					return nil, derr
				}
				return nil, fmt.Errorf("%w: line of %d bytes exceeds the frame limit", ErrBadFrame, len(buf)+n)
			}
		case errors.Is(err, io.EOF):
			if len(buf) > 0 {
				return buf, nil
			}
			return nil, io.EOF
		default:
			return nil, err
		}
	}
}

// discardLine eats the remainder of an oversized line.
func (r *Reader) discardLine() (int, error) {
	n := 0
	for {
		chunk, err := r.br.ReadSlice('\n')
		n += len(chunk)
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return n, err
	}
}
