package sse

import (
	"errors"
	"io"
	"iter"
)

const readSize = 4096

// Reader pulls frames from an io.Reader, typically an HTTP response body.
type Reader struct {
	r       io.Reader
	parser  *Parser
	pending []Frame
	buf     []byte
	err     error
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: r, parser: NewParser(), buf: make([]byte, readSize)}
}

// Next returns the next content frame. It returns io.EOF at the sentinel or
// at the natural end of the body, and *RemoteError on an error frame.
// Bytes left without a closing delimiter at EOF are discarded.
func (r *Reader) Next() (Frame, error) {
	for {
		if len(r.pending) > 0 {
			f := r.pending[0]
			r.pending = r.pending[1:]
			return f, nil
		}
		if r.err != nil {
			return Frame{}, r.err
		}
		if r.parser.Done() {
			r.err = io.EOF
			if perr := r.parser.Err(); perr != nil {
				r.err = perr
			}
			continue
		}
		n, err := r.r.Read(r.buf)
		if n > 0 {
			r.pending = r.parser.Feed(r.buf[:n])
		}
		// pending frames are delivered before the read error surfaces
		if err != nil && !r.parser.Done() {
			r.err = err
		}
	}
}

// Frames exposes the stream as a lazy sequence. Iteration stops after the
// first non-nil error; natural completion yields no error at all.
func (r *Reader) Frames() iter.Seq2[Frame, error] {
	return func(yield func(Frame, error) bool) {
		for {
			f, err := r.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(Frame{}, err)
				return
			}
			if !yield(f, nil) {
				return
			}
		}
	}
}
