// Package mock provides deterministic providers for local runs and tests.
package mock

import (
	"context"
	"sync"
)

type STTConfig struct {
	Transcript string `mapstructure:"transcript"`
	// MinBytes is the smallest utterance that yields a transcript.
	MinBytes int   `mapstructure:"min_bytes"`
	Err      error `mapstructure:"-"`
}

// Transcriber returns a configured transcript for every utterance.
type Transcriber struct {
	cfg STTConfig

	mu    sync.Mutex
	calls []int
}

func NewSTT(cfg STTConfig) *Transcriber {
	if cfg.Transcript == "" {
		cfg.Transcript = "mock transcript"
	}
	return &Transcriber{cfg: cfg}
}

func (s *Transcriber) Name() string { return "mock_stt" }

func (s *Transcriber) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error) {
	s.mu.Lock()
	s.calls = append(s.calls, len(pcm))
	s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.cfg.Err != nil {
		return "", s.cfg.Err
	}
	if len(pcm) == 0 || len(pcm) < s.cfg.MinBytes {
		return "", nil
	}
	return s.cfg.Transcript, nil
}

// Calls reports the utterance sizes seen so far.
func (s *Transcriber) Calls() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.calls...)
}
