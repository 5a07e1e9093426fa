package mock

import (
	"context"
	"errors"
	"testing"
)

func TestTranscriberThresholdAndErrors(t *testing.T) {
	s := NewSTT(STTConfig{Transcript: "hello", MinBytes: 4})
	if got, _ := s.Transcribe(context.Background(), []byte{1, 2}, 16000); got != "" {
		t.Fatalf("expected empty transcript below min bytes, got %q", got)
	}
	if got, _ := s.Transcribe(context.Background(), make([]byte, 8), 16000); got != "hello" {
		t.Fatalf("expected transcript, got %q", got)
	}
	if calls := s.Calls(); len(calls) != 2 || calls[1] != 8 {
		t.Fatalf("unexpected calls %v", calls)
	}

	boom := errors.New("boom")
	failing := NewSTT(STTConfig{Err: boom})
	if _, err := failing.Transcribe(context.Background(), make([]byte, 8), 16000); !errors.Is(err, boom) {
		t.Fatalf("expected configured error, got %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := failing.Transcribe(ctx, make([]byte, 8), 16000); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}
