package sse

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

// Writer emits frames to an HTTP response, flushing after each one.
type Writer struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
}

// NewWriter wraps w. When w is an http.ResponseWriter the SSE headers are
// set; call it before the first write.
func NewWriter(w io.Writer) *Writer {
	sw := &Writer{w: w}
	if rw, ok := w.(http.ResponseWriter); ok {
		h := rw.Header()
		h.Set("Content-Type", "text/event-stream; charset=utf-8")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
	}
	if f, ok := w.(http.Flusher); ok {
		sw.flusher = f
	}
	return sw
}

// WriteData writes a default-event frame. Multi-line data is split across
// data lines so it round-trips through a Parser.
func (w *Writer) WriteData(data string) error {
	return w.WriteFrame(Frame{Data: data})
}

// WriteError writes an error frame with msg as data.
func (w *Writer) WriteError(msg string) error {
	return w.WriteFrame(Frame{Event: ErrorEvent, Data: msg})
}

// WriteDone writes the end-of-stream sentinel.
func (w *Writer) WriteDone() error {
	return w.WriteData(Sentinel)
}

func (w *Writer) WriteFrame(f Frame) error {
	var b strings.Builder
	if f.Event != "" && f.Event != DefaultEvent {
		fmt.Fprintf(&b, "event: %s\n", f.Event)
	}
	data := strings.ReplaceAll(f.Data, "\r\n", "\n")
	for _, line := range strings.Split(data, "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := io.WriteString(w.w, b.String()); err != nil {
		return fmt.Errorf("sse write: %w", err)
	}
	w.Flush()
	return nil
}

// Flush pushes buffered bytes to the client; a no-op when unsupported.
func (w *Writer) Flush() {
	if w.flusher != nil {
		w.flusher.Flush()
	}
}
