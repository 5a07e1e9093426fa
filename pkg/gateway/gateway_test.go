package gateway

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harunnryd/voxlink/pkg/metrics"
	"github.com/harunnryd/voxlink/pkg/protocol"
	"github.com/harunnryd/voxlink/pkg/providers/mock"
	"github.com/harunnryd/voxlink/pkg/responder"
	"github.com/harunnryd/voxlink/pkg/sse"
	"github.com/prometheus/client_golang/prometheus"
)

type staticResponder struct {
	tokens []string
	err    error
}

func (r staticResponder) Name() string { return "static" }

func (r staticResponder) Stream(ctx context.Context, prompt string) (<-chan string, error) {
	if r.err != nil {
		return nil, r.err
	}
	out := make(chan string, len(r.tokens))
	for _, tok := range r.tokens {
		out <- tok
	}
	close(out)
	return out, nil
}

func readFrames(t *testing.T, body io.Reader) ([]sse.Frame, error) {
	t.Helper()
	var frames []sse.Frame
	reader := sse.NewReader(body)
	for {
		f, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return frames, nil
		}
		if err != nil {
			return frames, err
		}
		frames = append(frames, f)
	}
}

func TestChatStreamGETAndPOSTFraming(t *testing.T) {
	s := New(Config{}, staticResponder{tokens: []string{"Hello", " ", "line one\nline two"}})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	get, err := http.Get(srv.URL + "/chat/stream?prompt=hi")
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	defer get.Body.Close()
	if !strings.HasPrefix(get.Header.Get("Content-Type"), "text/event-stream") || get.Header.Get("Cache-Control") != "no-cache" {
		t.Fatalf("unexpected headers %v", get.Header)
	}
	raw, _ := io.ReadAll(get.Body)
	want := "data: Hello\n\ndata:  \n\ndata: line one\ndata: line two\n\ndata: [DONE]\n\n"
	if string(raw) != want {
		t.Fatalf("unexpected body %q", raw)
	}

	post, err := http.Post(srv.URL+"/chat/stream", "application/json", strings.NewReader(`{"prompt":"hi"}`))
	if err != nil {
		t.Fatalf("post error: %v", err)
	}
	defer post.Body.Close()
	frames, err := readFrames(t, post.Body)
	if err != nil {
		t.Fatalf("read error: %v", err)
	}
	if len(frames) != 3 || frames[2].Data != "line one\nline two" {
		t.Fatalf("unexpected frames %+v", frames)
	}
}

func TestChatStreamResponderError(t *testing.T) {
	s := New(Config{}, staticResponder{err: errors.New("upstream down")})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/chat/stream?prompt=x")
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	defer resp.Body.Close()
	_, err = readFrames(t, resp.Body)
	var remote *sse.RemoteError
	if !errors.As(err, &remote) || remote.Message != "upstream down" {
		t.Fatalf("expected error frame, got %v", err)
	}
}

func TestChatStreamRejectsBadRequests(t *testing.T) {
	s := New(Config{}, staticResponder{})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, _ := http.Post(srv.URL+"/chat/stream", "application/json", strings.NewReader("{"))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	resp.Body.Close()
	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/chat/stream", nil)
	resp, _ = http.DefaultClient.Do(req)
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendControl(t *testing.T, conn *websocket.Conn, event string) {
	t.Helper()
	raw, _ := protocol.Encode(event, nil)
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		t.Fatalf("write error: %v", err)
	}
}

func nextEnvelope(t *testing.T, conn *websocket.Conn) protocol.Envelope {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read error: %v", err)
	}
	env, err := protocol.Decode(raw)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	return env
}

func TestWebsocketFixedReplyPerChunk(t *testing.T) {
	mem := metrics.NewMemoryObserver()
	s := New(Config{}, nil, WithObserver(mem))
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()
	conn := dialWS(t, srv)

	sendControl(t, conn, protocol.EventStartRecording)
	if env := nextEnvelope(t, conn); env.Event != protocol.EventRecordingStarted {
		t.Fatalf("expected recording-started, got %s", env.Event)
	}
	_ = conn.WriteMessage(websocket.BinaryMessage, make([]byte, 320))
	env := nextEnvelope(t, conn)
	var resp protocol.ResponseEvent
	if env.Event != protocol.EventAudioResponse || env.DecodeData(&resp) != nil {
		t.Fatalf("expected audio-response, got %s", env.Event)
	}
	if resp.Text != DefaultReply || resp.Type != protocol.ResponseTypeText || resp.Duration != 0 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if _, err := time.Parse(time.RFC3339, resp.Timestamp); err != nil {
		t.Fatalf("timestamp not RFC3339: %q", resp.Timestamp)
	}
	sendControl(t, conn, protocol.EventStopRecording)
	var ack protocol.Ack
	env = nextEnvelope(t, conn)
	if env.Event != protocol.EventRecordingStopped || env.DecodeData(&ack) != nil || !ack.Success {
		t.Fatalf("expected successful recording-stopped, got %s", env.Event)
	}
	if mem.Count(metrics.EventGatewayAudio) != 1 {
		t.Fatalf("expected audio bytes metric")
	}
}

func TestWebsocketTranscribesUtterance(t *testing.T) {
	stt := mock.NewSTT(mock.STTConfig{Transcript: "turn on the lights"})
	echo := responder.NewMock(responder.MockConfig{Reply: "you said: %s", Interval: time.Millisecond})
	s := New(Config{}, echo, WithTranscriber(stt))
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()
	conn := dialWS(t, srv)

	sendControl(t, conn, protocol.EventStartRecording)
	nextEnvelope(t, conn)
	_ = conn.WriteMessage(websocket.BinaryMessage, bytes.Repeat([]byte{1}, 100))
	_ = conn.WriteMessage(websocket.BinaryMessage, bytes.Repeat([]byte{2}, 60))
	sendControl(t, conn, protocol.EventStopRecording)
	if env := nextEnvelope(t, conn); env.Event != protocol.EventRecordingStopped {
		t.Fatalf("expected recording-stopped, got %s", env.Event)
	}
	env := nextEnvelope(t, conn)
	var resp protocol.ResponseEvent
	if env.Event != protocol.EventAudioResponse || env.DecodeData(&resp) != nil {
		t.Fatalf("expected audio-response, got %s", env.Event)
	}
	want := "you said: turn on the lights"
	if resp.Text != want || resp.HoldFor() != protocol.EstimateDuration(want) {
		t.Fatalf("unexpected response %+v", resp)
	}
	if calls := stt.Calls(); len(calls) != 1 || calls[0] != 160 {
		t.Fatalf("expected one 160-byte utterance, got %v", calls)
	}
}

func TestWebsocketUnknownEvent(t *testing.T) {
	s := New(Config{}, nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()
	conn := dialWS(t, srv)

	sendControl(t, conn, "dance")
	env := nextEnvelope(t, conn)
	var e protocol.ErrorEvent
	if env.Event != protocol.EventServerError || env.DecodeData(&e) != nil || !strings.Contains(e.Message, "dance") {
		t.Fatalf("expected error event, got %s", env.Event)
	}
}

func TestCheckOrigin(t *testing.T) {
	s := New(Config{AllowedOrigins: []string{"https://app.example.com", "localhost:3000"}}, nil)
	cases := map[string]bool{
		"":                         true,
		"https://app.example.com/": true,
		"http://localhost:3000":    true,
		"https://evil.example.com": false,
	}
	for origin, want := range cases {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		if got := s.checkOrigin(r); got != want {
			t.Fatalf("origin %q: expected %v, got %v", origin, want, got)
		}
	}
}

func TestHealthMetricsAndDrain(t *testing.T) {
	reg := prometheus.NewRegistry()
	obs := metrics.NewPrometheusObserver(reg)
	s := New(Config{}, nil, WithObserver(obs), WithGatherer(reg))
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, _ := http.Get(srv.URL + "/health")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected healthy, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	conn := dialWS(t, srv)
	_ = conn.WriteMessage(websocket.BinaryMessage, make([]byte, 64))
	nextEnvelope(t, conn)

	resp, _ = http.Get(srv.URL + "/metrics")
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "voxlink_gateway_audio_bytes_total 64") {
		t.Fatalf("expected gateway bytes in metrics output")
	}

	if err := s.Drain(); err != nil {
		t.Fatalf("drain error: %v", err)
	}
	if s.Clients() != 0 {
		t.Fatalf("expected clients closed")
	}
	resp, _ = http.Get(srv.URL + "/health")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected draining health, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}
