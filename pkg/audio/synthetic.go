package audio

import (
	"context"
	"encoding/binary"
	"math"
	"sync"
)

// SyntheticSource plays back a scripted loudness sequence, one level per
// Window call. A NaN level reports ErrSignalUnavailable for that call. Once
// the script runs out the source goes silent.
type SyntheticSource struct {
	mu         sync.Mutex
	levels     []float64
	pos        int
	windowSize int
	sampleRate int
	sink       *Buffer
	closed     bool
}

func NewSyntheticSource(levels []float64, sink *Buffer) *SyntheticSource {
	return &SyntheticSource{
		levels:     append([]float64(nil), levels...),
		windowSize: 256,
		sampleRate: DefaultSampleRate,
		sink:       sink,
	}
}

// Window builds a square wave whose RMS loudness equals the scripted level
// and mirrors it into the capture buffer.
func (s *SyntheticSource) Window() ([]int16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSignalUnavailable
	}
	level := 0.0
	if s.pos < len(s.levels) {
		level = s.levels[s.pos]
		s.pos++
	}
	if math.IsNaN(level) {
		return nil, ErrSignalUnavailable
	}
	amp := math.Min(level/100*32768, 32767)
	out := make([]int16, s.windowSize)
	for i := range out {
		if i%2 == 0 {
			out[i] = int16(amp)
		} else {
			out[i] = -int16(amp)
		}
	}
	if s.sink != nil {
		raw := make([]byte, len(out)*2)
		for i, v := range out {
			binary.LittleEndian.PutUint16(raw[i*2:], uint16(v))
		}
		_, _ = s.sink.Write(raw)
	}
	return out, nil
}

func (s *SyntheticSource) SampleRate() int {
	return s.sampleRate
}

func (s *SyntheticSource) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *SyntheticSource) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// SyntheticOpener hands out a fresh SyntheticSource per Open so a recorder
// can be restarted.
type SyntheticOpener struct {
	Levels []float64

	mu   sync.Mutex
	last *SyntheticSource
}

func (o *SyntheticOpener) Open(_ context.Context, capture *Buffer) (Source, error) {
	src := NewSyntheticSource(o.Levels, capture)
	o.mu.Lock()
	o.last = src
	o.mu.Unlock()
	return src, nil
}

// Last returns the most recently opened source.
func (o *SyntheticOpener) Last() *SyntheticSource {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.last
}
