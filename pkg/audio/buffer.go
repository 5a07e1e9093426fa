package audio

import "sync"

// Buffer accumulates captured PCM bytes between chunk emissions. Writes are
// ignored while the buffer is disarmed so nothing piles up between utterances.
type Buffer struct {
	mu    sync.Mutex
	data  []byte
	armed bool
	total int64
}

func NewBuffer() *Buffer {
	return &Buffer{}
}

// Arm discards stale data and starts accepting writes.
func (b *Buffer) Arm() {
	b.mu.Lock()
	b.data = b.data[:0]
	b.armed = true
	b.mu.Unlock()
}

// Disarm stops accepting writes. Buffered bytes stay until drained.
func (b *Buffer) Disarm() {
	b.mu.Lock()
	b.armed = false
	b.mu.Unlock()
}

func (b *Buffer) Armed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.armed
}

// Write appends p when armed. It always reports len(p) so it can sit behind
// an io.Writer tee without failing the capture loop.
func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	if b.armed {
		b.data = append(b.data, p...)
		b.total += int64(len(p))
	}
	b.mu.Unlock()
	return len(p), nil
}

// Drain returns and clears the buffered bytes; nil when empty.
func (b *Buffer) Drain() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.data) == 0 {
		return nil
	}
	out := make([]byte, len(b.data))
	copy(out, b.data)
	b.data = b.data[:0]
	return out
}

// Reset drops buffered bytes without changing the armed state.
func (b *Buffer) Reset() {
	b.mu.Lock()
	b.data = b.data[:0]
	b.mu.Unlock()
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// Total is the number of bytes accepted since creation.
func (b *Buffer) Total() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total
}
