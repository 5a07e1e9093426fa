package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/harunnryd/voxlink/pkg/errorsx"
	"github.com/harunnryd/voxlink/pkg/resilience"
	"github.com/harunnryd/voxlink/pkg/responder"
)

func TestResponderStreamsDeltas(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" || r.Header.Get("Authorization") != "Bearer sk-test" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "text/event-stream")
		for _, tok := range []string{"Hel", "lo", " there"} {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", tok)
		}
		fmt.Fprint(w, "data: {\"choices\":[]}\n\ndata: [DONE]\n\n")
	}))
	defer srv.Close()

	r := NewResponder(Config{APIKey: "sk-test", BaseURL: srv.URL + "/", SystemPrompt: "be brief"})
	ch, err := r.Stream(context.Background(), "hi")
	if err != nil {
		t.Fatalf("stream error: %v", err)
	}
	if text := responder.Collect(ch); text != "Hello there" {
		t.Fatalf("unexpected text %q", text)
	}
	if got["stream"] != true {
		t.Fatalf("expected stream request, got %v", got)
	}
	msgs, _ := got["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("expected system and user messages, got %v", msgs)
	}
}

func TestResponderRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewResponder(Config{BaseURL: srv.URL}).Stream(context.Background(), "hi")
	if !resilience.IsRateLimit(err) || !errorsx.HasReason(err, errorsx.ReasonResponderRateLimit) {
		t.Fatalf("expected rate limit error, got %v", err)
	}
}

func TestResponderHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewResponder(Config{BaseURL: srv.URL}).Stream(context.Background(), "hi")
	if !errorsx.HasReason(err, errorsx.ReasonResponderGenerate) {
		t.Fatalf("expected responder_generate, got %v", err)
	}
}
