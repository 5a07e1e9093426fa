// Package gateway is the server side of voxlink: a chat endpoint that
// streams replies as server-sent events and a websocket endpoint that
// receives recorded audio and answers with audio-response events.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harunnryd/voxlink/pkg/logging"
	"github.com/harunnryd/voxlink/pkg/metrics"
	"github.com/harunnryd/voxlink/pkg/responder"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Option func(*Server)

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = logging.NewComponentLogger(l, "gateway") }
}

func WithObserver(obs metrics.Observer) Option {
	return func(s *Server) { s.obs = obs }
}

func WithTranscriber(t Transcriber) Option {
	return func(s *Server) { s.transcriber = t }
}

// WithGatherer exposes g on the metrics path.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

type Server struct {
	cfg         Config
	responder   responder.Responder
	transcriber Transcriber
	logger      *slog.Logger
	obs         metrics.Observer
	gatherer    prometheus.Gatherer
	upgrader    websocket.Upgrader
	server      *http.Server

	mu      sync.Mutex
	clients map[string]*client
	wg      sync.WaitGroup

	draining atomic.Bool
}

func New(cfg Config, r responder.Responder, opts ...Option) *Server {
	cfg = cfg.withDefaults()
	s := &Server{
		cfg:       cfg,
		responder: r,
		logger:    logging.NewComponentLogger(nil, "gateway"),
		clients:   make(map[string]*client),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
	s.upgrader.CheckOrigin = s.checkOrigin
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *Server) Name() string { return "gateway" }

func (s *Server) ReadyFields() map[string]any {
	fields := map[string]any{
		"addr":      s.cfg.ServerAddr,
		"chat_path": s.cfg.ChatPath,
		"ws_path":   s.cfg.WebsocketPath,
		"responder": "none",
	}
	if s.responder != nil {
		fields["responder"] = s.responder.Name()
	}
	if s.transcriber != nil {
		fields["transcriber"] = s.transcriber.Name()
	}
	return fields
}

// Handler returns the routes without starting a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.ChatPath, s.handleChatStream)
	mux.Handle(s.cfg.WebsocketPath, http.HandlerFunc(s.handleWebsocket))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if s.draining.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	if s.gatherer != nil {
		mux.Handle(s.cfg.MetricsPath, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

func (s *Server) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.server = &http.Server{
		Addr:              s.cfg.ServerAddr,
		ReadHeaderTimeout: 5 * time.Second,
		Handler:           s.Handler(),
	}
	go func() {
		<-ctx.Done()
		_ = s.server.Close()
	}()
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("gateway_server_error", slog.String("error", err.Error()))
		}
	}()
	s.logger.Info("gateway_started", slog.String("addr", s.cfg.ServerAddr))
	return nil
}

// Drain stops accepting work, closes client sockets and waits for
// in-flight replies.
func (s *Server) Drain() error {
	s.draining.Store(true)
	var err error
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = s.server.Shutdown(ctx)
		cancel()
	}
	s.mu.Lock()
	clients := s.clients
	s.clients = make(map[string]*client)
	s.mu.Unlock()
	for _, c := range clients {
		c.close()
	}
	s.wg.Wait()
	s.logger.Info("gateway_drained")
	return err
}

// Clients reports the number of connected sockets.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if s.cfg.AllowAnyOrigin {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	origin = strings.TrimRight(origin, "/")
	originHost := strings.TrimPrefix(origin, "https://")
	originHost = strings.TrimPrefix(originHost, "http://")
	for _, allowed := range s.cfg.AllowedOrigins {
		a := strings.TrimSpace(allowed)
		if a == "" {
			continue
		}
		a = strings.TrimRight(a, "/")
		if strings.HasPrefix(a, "http://") || strings.HasPrefix(a, "https://") {
			if strings.EqualFold(a, origin) {
				return true
			}
			continue
		}
		if strings.EqualFold(a, originHost) {
			return true
		}
	}
	return false
}
