package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/harunnryd/voxlink/pkg/errorsx"
	"github.com/harunnryd/voxlink/pkg/metrics"
	"github.com/harunnryd/voxlink/pkg/redact"
	"github.com/harunnryd/voxlink/pkg/sse"
)

const maxPromptBody = 64 << 10

type chatRequest struct {
	Prompt string `json:"prompt"`
}

// handleChatStream answers GET ?prompt= and POST {"prompt"} with the same
// event stream: one data frame per fragment, an error frame on failure and
// the [DONE] sentinel on completion.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	if s.draining.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	var prompt string
	switch r.Method {
	case http.MethodGet:
		prompt = r.URL.Query().Get("prompt")
	case http.MethodPost:
		var req chatRequest
		err := json.NewDecoder(io.LimitReader(r.Body, maxPromptBody)).Decode(&req)
		if err != nil && !errors.Is(err, io.EOF) {
			http.Error(w, "invalid JSON body", http.StatusBadRequest)
			return
		}
		prompt = req.Prompt
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	id := uuid.NewString()
	ctx := r.Context()
	sw := sse.NewWriter(w)
	w.WriteHeader(http.StatusOK)
	sw.Flush()

	s.logger.Info("chat_stream_started",
		slog.String("stream_id", id),
		slog.String("method", r.Method),
		slog.String("prompt", redact.Text(prompt)))

	if s.responder == nil {
		_ = sw.WriteError("no responder configured")
		return
	}
	tokens, err := s.responder.Stream(ctx, prompt)
	if err != nil {
		s.logger.Warn("chat_stream_failed",
			slog.String("stream_id", id),
			slog.String("reason_code", string(errorsx.Reason(err))),
			slog.String("error", redact.Secret(err.Error())))
		_ = sw.WriteError(err.Error())
		return
	}
	count := 0
	for tok := range tokens {
		if err := sw.WriteData(tok); err != nil {
			s.logger.Info("chat_stream_client_gone", slog.String("stream_id", id), slog.Int("fragments", count))
			return
		}
		count++
	}
	if ctx.Err() != nil {
		s.logger.Info("chat_stream_cancelled", slog.String("stream_id", id), slog.Int("fragments", count))
		return
	}
	_ = sw.WriteDone()
	metrics.Record(s.obs, metrics.EventGatewayResponse, float64(count), map[string]string{"kind": "chat"})
	s.logger.Info("chat_stream_completed", slog.String("stream_id", id), slog.Int("fragments", count))
}
