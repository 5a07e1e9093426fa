package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/harunnryd/voxlink/pkg/errorsx"
	"github.com/harunnryd/voxlink/pkg/metrics"
	"github.com/harunnryd/voxlink/pkg/protocol"
	"github.com/harunnryd/voxlink/pkg/redact"
	"github.com/harunnryd/voxlink/pkg/responder"
)

const (
	writeWait   = 10 * time.Second
	maxReadSize = 1 << 20
)

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	if s.draining.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := newClient(conn)
	s.attach(c)
	defer s.detach(c)
	go c.writeLoop()

	s.logger.Info("client_connected", slog.String("client_id", c.id), slog.String("remote", r.RemoteAddr))
	conn.SetReadLimit(maxReadSize)
	for {
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			break
		}
		switch mt {
		case websocket.BinaryMessage:
			s.handleAudio(c, msg)
		case websocket.TextMessage:
			s.handleControl(c, msg)
		}
	}
	s.logger.Info("client_disconnected", slog.String("client_id", c.id), slog.Int("audio_bytes", c.total()))
}

func (s *Server) handleAudio(c *client, chunk []byte) {
	metrics.Record(s.obs, metrics.EventGatewayAudio, float64(len(chunk)), nil)
	s.logger.Debug("audio_received", slog.String("client_id", c.id), slog.Int("size_bytes", len(chunk)))
	if s.transcriber == nil {
		s.respond(c, s.cfg.ReplyText, 0)
		return
	}
	if !c.appendAudio(chunk, s.cfg.MaxUtteranceBytes) {
		s.logger.Warn("utterance_truncated", slog.String("client_id", c.id), slog.Int("max_bytes", s.cfg.MaxUtteranceBytes))
	}
}

func (s *Server) handleControl(c *client, raw []byte) {
	env, err := protocol.Decode(raw)
	if err != nil {
		s.sendError(c, "invalid message")
		return
	}
	switch env.Event {
	case protocol.EventStartRecording:
		c.beginUtterance()
		s.logger.Info("recording_started", slog.String("client_id", c.id))
		s.send(c, protocol.EventRecordingStarted, protocol.Ack{Success: true})
	case protocol.EventStopRecording:
		pcm := c.takeUtterance()
		s.logger.Info("recording_stopped", slog.String("client_id", c.id), slog.Int("size_bytes", len(pcm)))
		s.send(c, protocol.EventRecordingStopped, protocol.Ack{Success: true})
		if s.transcriber != nil {
			s.wg.Add(1)
			go s.reply(c, pcm)
		}
	default:
		s.sendError(c, "unknown event: "+env.Event)
	}
}

// reply transcribes one utterance and answers with the responder's full
// reply, or the transcript itself when there is no responder.
func (s *Server) reply(c *client, pcm []byte) {
	defer s.wg.Done()
	if len(pcm) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(c.ctx, s.cfg.ReplyTimeout)
	defer cancel()

	text, err := s.transcriber.Transcribe(ctx, pcm, s.cfg.SampleRate)
	if err != nil {
		s.logger.Warn("transcribe_failed",
			slog.String("client_id", c.id),
			slog.String("reason_code", string(errorsx.Reason(err))),
			slog.String("error", redact.Secret(err.Error())))
		s.sendError(c, "transcription failed")
		return
	}
	if text == "" {
		s.logger.Info("transcript_empty", slog.String("client_id", c.id))
		return
	}
	s.logger.Info("transcript_ready", slog.String("client_id", c.id), slog.String("transcript", redact.Text(text)))

	answer := text
	if s.responder != nil {
		tokens, err := s.responder.Stream(ctx, text)
		if err != nil {
			s.logger.Warn("responder_failed",
				slog.String("client_id", c.id),
				slog.String("error", redact.Secret(err.Error())))
			s.sendError(c, err.Error())
			return
		}
		answer = responder.Collect(tokens)
		if ctx.Err() != nil {
			return
		}
	}
	s.respond(c, answer, protocol.EstimateDuration(answer))
}

func (s *Server) respond(c *client, text string, duration time.Duration) {
	s.send(c, protocol.EventAudioResponse, protocol.NewResponse(text, time.Now(), duration))
	metrics.Record(s.obs, metrics.EventGatewayResponse, 1, map[string]string{"kind": "audio"})
}

func (s *Server) sendError(c *client, msg string) {
	s.send(c, protocol.EventServerError, protocol.ErrorEvent{Message: msg})
}

func (s *Server) send(c *client, event string, payload any) {
	raw, err := protocol.Encode(event, payload)
	if err != nil {
		s.logger.Error("encode_failed", slog.String("event", event), slog.String("error", err.Error()))
		return
	}
	if !c.enqueue(raw) {
		s.logger.Warn("client_queue_full", slog.String("client_id", c.id), slog.String("event", event))
	}
}

func (s *Server) attach(c *client) {
	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()
}

func (s *Server) detach(c *client) {
	s.mu.Lock()
	delete(s.clients, c.id)
	s.mu.Unlock()
	c.close()
}

type client struct {
	id     string
	conn   *websocket.Conn
	sendCh chan []byte
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once

	mu       sync.Mutex
	audio    []byte
	received int
}

func newClient(conn *websocket.Conn) *client {
	ctx, cancel := context.WithCancel(context.Background())
	return &client{
		id:     uuid.NewString(),
		conn:   conn,
		sendCh: make(chan []byte, 256),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (c *client) enqueue(msg []byte) bool {
	select {
	case <-c.ctx.Done():
		return false
	case c.sendCh <- msg:
		return true
	default:
		return false
	}
}

// writeLoop is the only writer of data frames on the connection.
func (c *client) writeLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case msg := <-c.sendCh:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.close()
				return
			}
		}
	}
}

func (c *client) close() {
	c.once.Do(func() {
		c.cancel()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(time.Second))
		_ = c.conn.Close()
	})
}

func (c *client) beginUtterance() {
	c.mu.Lock()
	c.audio = c.audio[:0]
	c.mu.Unlock()
}

// appendAudio reports false when the chunk did not fit under max.
func (c *client) appendAudio(chunk []byte, max int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.received += len(chunk)
	room := max - len(c.audio)
	if room <= 0 {
		return false
	}
	if len(chunk) > room {
		c.audio = append(c.audio, chunk[:room]...)
		return false
	}
	c.audio = append(c.audio, chunk...)
	return true
}

func (c *client) takeUtterance() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.audio
	c.audio = nil
	return out
}

func (c *client) total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.received
}
