package deepgram

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/harunnryd/voxlink/pkg/errorsx"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
)

func message(text string, final bool) *msginterfaces.MessageResponse {
	mr := &msginterfaces.MessageResponse{IsFinal: final}
	mr.Channel.Alternatives = append(mr.Channel.Alternatives, msginterfaces.Alternative{Transcript: text})
	return mr
}

func TestCallbackJoinsFinalSegments(t *testing.T) {
	cb := newCallback(slog.Default())
	_ = cb.Message(message("hello", false))
	_ = cb.Message(message("hello there", true))
	_ = cb.Message(message("  how are you ", true))
	_ = cb.UtteranceEnd(&msginterfaces.UtteranceEndResponse{})

	text, err := cb.wait(context.Background(), time.Minute)
	if err != nil {
		t.Fatalf("wait error: %v", err)
	}
	if text != "hello there how are you" {
		t.Fatalf("unexpected transcript %q", text)
	}
}

func TestCallbackSettlesWithoutUtteranceEnd(t *testing.T) {
	cb := newCallback(slog.Default())
	_ = cb.Message(message("ok", true))
	text, err := cb.wait(context.Background(), 20*time.Millisecond)
	if err != nil || text != "ok" {
		t.Fatalf("expected settled transcript, got %q %v", text, err)
	}
}

func TestCallbackErrorWithoutTranscript(t *testing.T) {
	cb := newCallback(slog.Default())
	_ = cb.Error(&msginterfaces.ErrorResponse{ErrCode: "AUTH", ErrMsg: "invalid credentials"})
	_, err := cb.wait(context.Background(), time.Minute)
	if !errorsx.HasReason(err, errorsx.ReasonTranscribeSend) {
		t.Fatalf("expected transcribe_send, got %v", err)
	}
}

func TestTranscribeEmptyAudio(t *testing.T) {
	text, err := New(Config{}).Transcribe(context.Background(), nil, 16000)
	if err != nil || text != "" {
		t.Fatalf("expected empty transcript without connecting, got %q %v", text, err)
	}
}
