package serial

import (
	"bytes"
	"errors"
	"io"
)

// MaxLineLength caps a single protocol frame. Longer runs without a newline
// are discarded.
const MaxLineLength = 4096

// ErrLineTooLong is returned when MaxLineLength bytes arrive without a newline.
// It is not fatal; the next call starts a fresh line.
var ErrLineTooLong = errors.New("line exceeds maximum length")

// LineReader splits a timed-out serial stream into newline-terminated lines.
// bufio.Reader treats repeated empty reads as an error, but a serial port
// with a read timeout returns 0, nil every time it is idle.
type LineReader struct {
	r     io.Reader
	buf   []byte
	chunk []byte
}

// NewLineReader creates a line reader over r
func NewLineReader(r io.Reader) *LineReader {
	return &LineReader{
		r:     r,
		chunk: make([]byte, 256),
	}
}

// ReadLine returns the next complete line including its newline. It returns
// nil, nil when the underlying read timed out before a full line arrived;
// partial data is kept for the next call.
func (lr *LineReader) ReadLine() ([]byte, error) {
	for {
		if i := bytes.IndexByte(lr.buf, '\n'); i >= 0 {
			line := make([]byte, i+1)
			copy(line, lr.buf[:i+1])
			lr.buf = lr.buf[i+1:]
			return line, nil
		}

		if len(lr.buf) > MaxLineLength {
			lr.buf = lr.buf[:0]
			return nil, ErrLineTooLong
		}

		n, err := lr.r.Read(lr.chunk)
		if n > 0 {
			lr.buf = append(lr.buf, lr.chunk[:n]...)
		}
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, nil
		}
	}
}

// Buffered returns the number of bytes held for an incomplete line
func (lr *LineReader) Buffered() int {
	return len(lr.buf)
}
