package chunk

import (
	"sync"
	"testing"
	"time"

	"github.com/harunnryd/voxlink/pkg/audio"
)

type captureSink struct {
	mu     sync.Mutex
	chunks [][]byte
	got    chan struct{}
}

func newCaptureSink() *captureSink {
	return &captureSink{got: make(chan struct{}, 16)}
}

func (c *captureSink) Sink(b []byte) {
	c.mu.Lock()
	c.chunks = append(c.chunks, b)
	c.mu.Unlock()
	c.got <- struct{}{}
}

func (c *captureSink) Chunks() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.chunks...)
}

func newManualScheduler(buf *audio.Buffer, sink Sink) (*Scheduler, chan time.Time) {
	ticks := make(chan time.Time)
	s := NewScheduler(Config{Interval: time.Hour}, buf, sink, nil, WithTicker(func(time.Duration) (<-chan time.Time, func()) {
		return ticks, func() {}
	}))
	return s, ticks
}

func TestSchedulerEmitsPerTickAndSkipsEmpty(t *testing.T) {
	buf := audio.NewBuffer()
	buf.Arm()
	sink := newCaptureSink()
	s, ticks := newManualScheduler(buf, sink.Sink)
	s.Start()
	defer s.Stop()

	_, _ = buf.Write([]byte{1, 2})
	ticks <- time.Now()
	<-sink.got

	// empty buffer: nothing emitted
	ticks <- time.Now()
	_, _ = buf.Write([]byte{3})
	ticks <- time.Now()
	<-sink.got

	chunks := sink.Chunks()
	if len(chunks) != 2 || string(chunks[0]) != "\x01\x02" || string(chunks[1]) != "\x03" {
		t.Fatalf("unexpected chunks: %v", chunks)
	}
}

func TestSchedulerStopFlushesSynchronously(t *testing.T) {
	buf := audio.NewBuffer()
	buf.Arm()
	sink := newCaptureSink()
	s, _ := newManualScheduler(buf, sink.Sink)
	s.Start()

	_, _ = buf.Write([]byte{9, 9, 9})
	s.Stop()

	chunks := sink.Chunks()
	if len(chunks) != 1 || len(chunks[0]) != 3 {
		t.Fatalf("expected the trailing audio in a final chunk, got %v", chunks)
	}
	if s.Running() {
		t.Fatalf("expected scheduler stopped")
	}
	s.Stop()
	if s.Emitted() != 1 {
		t.Fatalf("expected second Stop to be a no-op")
	}
}

func TestSchedulerDefaultInterval(t *testing.T) {
	s := NewScheduler(Config{}, audio.NewBuffer(), nil, nil)
	if s.interval != DefaultInterval {
		t.Fatalf("expected default interval, got %v", s.interval)
	}
}
