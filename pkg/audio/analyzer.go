package audio

import (
	"fmt"
	"math"
	"time"
)

// LoudnessSample is one analyser reading, scaled to 0..100.
type LoudnessSample struct {
	Value float64
	At    time.Time
}

// Analyzer converts a source window into a loudness reading. It holds no
// state besides the source, so a failed Sample can simply be retried on
// the next poll tick.
type Analyzer struct {
	src Source
}

func NewAnalyzer(src Source) *Analyzer {
	return &Analyzer{src: src}
}

// Sample reads the current window and returns its RMS loudness.
func (a *Analyzer) Sample(now time.Time) (LoudnessSample, error) {
	if a == nil || a.src == nil {
		return LoudnessSample{At: now}, ErrSignalUnavailable
	}
	window, err := a.src.Window()
	if err != nil {
		return LoudnessSample{At: now}, fmt.Errorf("analyze: %w", err)
	}
	if len(window) == 0 {
		return LoudnessSample{At: now}, ErrSignalUnavailable
	}
	return LoudnessSample{Value: Loudness(window), At: now}, nil
}

// Loudness is the root mean square of samples normalised to [-1, 1],
// multiplied by 100 so thresholds stay in a readable range.
func Loudness(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s) / 32768.0
		sum += v * v
	}
	return math.Sqrt(sum/float64(len(samples))) * 100
}
