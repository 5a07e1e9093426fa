// Package sse reads and writes server-sent event frames. The parser is
// push-based and tolerates arbitrary chunk boundaries.
package sse

import (
	"bytes"
	"strings"
)

const (
	// DefaultEvent is the event type of a frame without an event field.
	DefaultEvent = "message"
	// ErrorEvent marks a frame that terminates the stream with a failure.
	ErrorEvent = "error"
	// Sentinel, as a frame's data, ends the stream successfully.
	Sentinel = "[DONE]"
)

// Frame is one dispatched event.
type Frame struct {
	Event string
	Data  string
}

// RemoteError is reported when the server sends an error frame.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return "sse: remote error"
	}
	return "sse: remote error: " + e.Message
}

var delimiter = []byte("\n\n")

// Parser accumulates bytes and splits them into frames on blank lines.
// It is not safe for concurrent use; one reader goroutine owns it.
type Parser struct {
	buf  []byte
	done bool
	err  error
}

func NewParser() *Parser {
	return &Parser{}
}

// Feed appends chunk and returns every complete content frame. Incomplete
// trailing bytes stay buffered for the next call. Once a sentinel or an
// error frame is seen the parser is done and further input is ignored.
func (p *Parser) Feed(chunk []byte) []Frame {
	if p.done {
		return nil
	}
	p.buf = append(p.buf, chunk...)
	if bytes.Contains(p.buf, []byte("\r\n")) {
		p.buf = bytes.ReplaceAll(p.buf, []byte("\r\n"), []byte("\n"))
	}

	var frames []Frame
	for {
		idx := bytes.Index(p.buf, delimiter)
		if idx < 0 {
			break
		}
		raw := string(p.buf[:idx])
		p.buf = p.buf[idx+len(delimiter):]

		frame, ok := parseFrame(raw)
		if !ok {
			continue
		}
		if frame.Event == ErrorEvent {
			p.finish(&RemoteError{Message: frame.Data})
			break
		}
		if frame.Data == Sentinel {
			p.finish(nil)
			break
		}
		frames = append(frames, frame)
	}
	return frames
}

func (p *Parser) finish(err error) {
	p.done = true
	p.err = err
	p.buf = nil
}

// Done reports whether a terminating frame was seen.
func (p *Parser) Done() bool {
	return p.done
}

// Err returns the *RemoteError of a terminating error frame, if any.
func (p *Parser) Err() error {
	return p.err
}

// Buffered returns the number of bytes waiting for a delimiter.
func (p *Parser) Buffered() int {
	return len(p.buf)
}

// parseFrame reads event and data fields. A frame with neither is skipped.
func parseFrame(raw string) (Frame, bool) {
	frame := Frame{Event: DefaultEvent}
	var data []string
	sawEvent := false
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			if value != "" {
				frame.Event = value
				sawEvent = true
			}
		case "data":
			data = append(data, value)
		}
	}
	if len(data) == 0 && !sawEvent {
		return Frame{}, false
	}
	frame.Data = strings.Join(data, "\n")
	return frame, true
}
