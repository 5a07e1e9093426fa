package vad

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/harunnryd/voxlink/pkg/audio"
	"github.com/harunnryd/voxlink/pkg/metrics"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func tickAt(n int) time.Time {
	return epoch.Add(time.Duration(n) * 100 * time.Millisecond)
}

func TestDetectorWorkedScenario(t *testing.T) {
	det := NewDetector(Config{VolumeThreshold: 1.5, SilenceTimeout: 1500 * time.Millisecond, PollInterval: 100 * time.Millisecond})
	levels := []float64{0, 0, 2, 2, 2, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}
	for len(levels) < 30 {
		levels = append(levels, 0)
	}

	var starts, stops []int
	for i, v := range levels {
		tick := i + 1
		switch det.Observe(audio.LoudnessSample{Value: v, At: tickAt(tick)}) {
		case StartRecording:
			starts = append(starts, tick)
		case StopRecording:
			stops = append(stops, tick)
		}
	}
	if len(starts) != 1 || starts[0] != 3 {
		t.Fatalf("expected start at tick 3, got %v", starts)
	}
	if len(stops) != 1 || stops[0] != 21 {
		t.Fatalf("expected stop at tick 21, got %v", stops)
	}
}

func TestDetectorGracePeriodKeepsUtterance(t *testing.T) {
	det := NewDetector(DefaultConfig())
	// loud, a 1s dip, loud again: one utterance.
	levels := []float64{3, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 4}
	var decisions []Decision
	for i, v := range levels {
		if d := det.Observe(audio.LoudnessSample{Value: v, At: tickAt(i + 1)}); d != None {
			decisions = append(decisions, d)
		}
	}
	if len(decisions) != 1 || decisions[0] != StartRecording {
		t.Fatalf("expected a single start, got %v", decisions)
	}
	if !det.Recording() {
		t.Fatalf("expected detector to still be recording")
	}
	if !det.LastVoiceAt().Equal(tickAt(12)) {
		t.Fatalf("expected lastVoiceAt refreshed by the second burst")
	}
}

func TestDetectorHysteresisStopsExactlyOnce(t *testing.T) {
	cfg := Config{VolumeThreshold: 10, SilenceTimeout: 300 * time.Millisecond, PollInterval: 100 * time.Millisecond}
	det := NewDetector(cfg)
	det.Observe(audio.LoudnessSample{Value: 20, At: tickAt(0)})

	var stopTick = -1
	for tick := 1; tick <= 10; tick++ {
		// threshold itself counts as silence
		d := det.Observe(audio.LoudnessSample{Value: 10, At: tickAt(tick)})
		if d == StopRecording {
			if stopTick != -1 {
				t.Fatalf("stop emitted twice")
			}
			stopTick = tick
		}
	}
	if stopTick != 4 {
		t.Fatalf("expected stop on the first tick past the timeout, got %d", stopTick)
	}
	if det.State() != StateIdle {
		t.Fatalf("expected IDLE after stop, got %s", det.State())
	}
}

func TestDetectorFaultHoldsState(t *testing.T) {
	det := NewDetector(DefaultConfig())
	det.Observe(audio.LoudnessSample{Value: 5, At: tickAt(1)})
	if d := det.Fault(errors.New("device gone"), tickAt(2)); d != None {
		t.Fatalf("expected fault to yield no decision")
	}
	if !det.Recording() || det.State() != StateAboveThreshold {
		t.Fatalf("expected state held across fault, got %s", det.State())
	}
	if det.Faults() != 1 {
		t.Fatalf("expected one fault recorded")
	}
}

type scriptedSampler struct {
	levels []float64
	fail   map[int]bool
	n      int
}

func (s *scriptedSampler) Sample(now time.Time) (audio.LoudnessSample, error) {
	i := s.n
	s.n++
	if s.fail[i] {
		return audio.LoudnessSample{At: now}, audio.ErrSignalUnavailable
	}
	v := 0.0
	if i < len(s.levels) {
		v = s.levels[i]
	}
	return audio.LoudnessSample{Value: v, At: now}, nil
}

func TestRunDeliversDecisionsInTickOrder(t *testing.T) {
	ticks := make(chan time.Time)
	mem := metrics.NewMemoryObserver()
	det := NewDetector(Config{VolumeThreshold: 1, SilenceTimeout: 200 * time.Millisecond, PollInterval: 100 * time.Millisecond},
		WithTicks(ticks), WithObserver(mem))
	sampler := &scriptedSampler{levels: []float64{0, 5, 5}, fail: map[int]bool{3: true}}

	var mu sync.Mutex
	var got []Decision
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		det.Run(ctx, sampler, func(d Decision, _ audio.LoudnessSample) {
			mu.Lock()
			got = append(got, d)
			mu.Unlock()
		})
	}()
	for i := 1; i <= 8; i++ {
		ticks <- tickAt(i)
	}
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 || got[0] != StartRecording || got[1] != StopRecording {
		t.Fatalf("unexpected decisions: %v", got)
	}
	if det.Faults() != 1 {
		t.Fatalf("expected the failed sample to be absorbed, got %d faults", det.Faults())
	}
	if mem.Count(metrics.EventVADDecision) != 2 {
		t.Fatalf("expected two decision metrics")
	}
}

func TestDetectorZeroThresholdIsHonoured(t *testing.T) {
	det := NewDetector(Config{VolumeThreshold: 0, SilenceTimeout: 200 * time.Millisecond})
	if got := det.Config().VolumeThreshold; got != 0 {
		t.Fatalf("expected zero threshold kept, got %v", got)
	}
	if d := det.Observe(audio.LoudnessSample{Value: 0, At: tickAt(1)}); d != None {
		t.Fatalf("silence must not start recording at threshold 0, got %v", d)
	}
	if d := det.Observe(audio.LoudnessSample{Value: 0.01, At: tickAt(2)}); d != StartRecording {
		t.Fatalf("expected any sound to start recording, got %v", d)
	}
	if got := NewDetector(Config{VolumeThreshold: -1}).Config().VolumeThreshold; got != 1.5 {
		t.Fatalf("expected negative threshold to fall back to 1.5, got %v", got)
	}
}
