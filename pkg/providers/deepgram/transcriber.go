package deepgram

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/voxlink/pkg/errorsx"
	"github.com/harunnryd/voxlink/pkg/logging"
	"github.com/harunnryd/voxlink/pkg/redact"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
)

type Config struct {
	APIKey         string        `mapstructure:"api_key"`
	Model          string        `mapstructure:"model"`
	Language       string        `mapstructure:"language"`
	Encoding       string        `mapstructure:"encoding"`
	UtteranceEndMS int           `mapstructure:"utterance_end_ms"`
	SettleTimeout  time.Duration `mapstructure:"settle_timeout"`
}

// Transcriber sends one utterance of PCM16 audio over a live Deepgram
// connection and returns the joined final transcript.
type Transcriber struct {
	cfg    Config
	logger *slog.Logger
}

func New(cfg Config) *Transcriber {
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	if cfg.Encoding == "" {
		cfg.Encoding = "linear16"
	}
	if cfg.SettleTimeout <= 0 {
		cfg.SettleTimeout = 2 * time.Second
	}
	return &Transcriber{
		cfg:    cfg,
		logger: logging.NewComponentLogger(slog.Default(), "deepgram_stt"),
	}
}

func (t *Transcriber) Name() string { return "deepgram" }

func (t *Transcriber) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error) {
	if len(pcm) == 0 {
		return "", nil
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	clientOptions := &interfaces.ClientOptions{EnableKeepAlive: true}
	transcriptOptions := &interfaces.LiveTranscriptionOptions{
		Model:       t.cfg.Model,
		Language:    t.cfg.Language,
		Encoding:    t.cfg.Encoding,
		SampleRate:  sampleRate,
		Channels:    1,
		SmartFormat: true,
		VadEvents:   true,
	}
	if t.cfg.UtteranceEndMS > 0 {
		transcriptOptions.UtteranceEndMs = fmt.Sprintf("%d", t.cfg.UtteranceEndMS)
		transcriptOptions.InterimResults = true
	}

	cb := newCallback(t.logger)
	dgClient, err := client.NewWSUsingCallback(ctx, t.cfg.APIKey, clientOptions, transcriptOptions, cb)
	if err != nil {
		t.logger.Error("deepgram_client_create_error", slog.String("error", redact.Secret(err.Error())))
		return "", errorsx.Wrap(err, errorsx.ReasonTranscribeConnect)
	}
	if connected := dgClient.Connect(); !connected {
		t.logger.Error("deepgram_connect_failed")
		return "", errorsx.New(errorsx.ReasonTranscribeConnect, "deepgram connection failed")
	}
	defer dgClient.Stop()

	t.logger.Info("deepgram_connected",
		slog.String("model", t.cfg.Model),
		slog.Int("sample_rate", sampleRate),
		slog.Int("size_bytes", len(pcm)))

	if err := dgClient.Stream(bytes.NewReader(pcm)); err != nil && ctx.Err() == nil {
		t.logger.Error("deepgram_stream_error", slog.String("error", err.Error()))
		return "", errorsx.Wrap(err, errorsx.ReasonTranscribeSend)
	}

	text, err := cb.wait(ctx, t.cfg.SettleTimeout)
	if err != nil {
		return "", err
	}
	t.logger.Info("transcript_received", slog.String("transcript", redact.Text(text)))
	return text, nil
}

// callback accumulates final transcripts until the utterance settles.
type callback struct {
	logger *slog.Logger

	mu       sync.Mutex
	finals   []string
	activity chan struct{}
	ended    chan struct{}
	endOnce  sync.Once
	errMsg   string
}

func newCallback(logger *slog.Logger) *callback {
	return &callback{
		logger:   logger,
		activity: make(chan struct{}, 1),
		ended:    make(chan struct{}),
	}
}

func (c *callback) touch() {
	select {
	case c.activity <- struct{}{}:
	default:
	}
}

func (c *callback) end() {
	c.endOnce.Do(func() { close(c.ended) })
}

// wait returns once the utterance ended or no message arrived for settle.
func (c *callback) wait(ctx context.Context, settle time.Duration) (string, error) {
	timer := time.NewTimer(settle)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-c.ended:
			return c.result()
		case <-c.activity:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(settle)
		case <-timer.C:
			return c.result()
		}
	}
}

func (c *callback) result() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.errMsg != "" && len(c.finals) == 0 {
		return "", errorsx.New(errorsx.ReasonTranscribeSend, "deepgram: "+c.errMsg)
	}
	return strings.Join(c.finals, " "), nil
}

func (c *callback) Open(or *msginterfaces.OpenResponse) error {
	c.logger.Info("deepgram_connection_opened")
	return nil
}

func (c *callback) Message(mr *msginterfaces.MessageResponse) error {
	c.touch()
	if len(mr.Channel.Alternatives) == 0 {
		return nil
	}
	transcript := strings.TrimSpace(mr.Channel.Alternatives[0].Transcript)
	if transcript == "" || !mr.IsFinal {
		return nil
	}
	c.mu.Lock()
	c.finals = append(c.finals, transcript)
	c.mu.Unlock()
	c.logger.Debug("transcript_segment", slog.Bool("speech_final", mr.SpeechFinal))
	return nil
}

func (c *callback) Metadata(md *msginterfaces.MetadataResponse) error {
	c.logger.Info("deepgram_metadata_received", slog.String("request_id", md.RequestID))
	return nil
}

func (c *callback) SpeechStarted(ssr *msginterfaces.SpeechStartedResponse) error {
	c.touch()
	return nil
}

func (c *callback) UtteranceEnd(ur *msginterfaces.UtteranceEndResponse) error {
	c.logger.Info("utterance_end_event")
	c.end()
	return nil
}

func (c *callback) Close(cr *msginterfaces.CloseResponse) error {
	c.logger.Info("deepgram_connection_closed")
	c.end()
	return nil
}

func (c *callback) Error(er *msginterfaces.ErrorResponse) error {
	c.logger.Error("deepgram_error",
		slog.String("error_code", er.ErrCode),
		slog.String("error_message", er.ErrMsg))
	c.mu.Lock()
	c.errMsg = er.ErrMsg
	c.mu.Unlock()
	c.end()
	return nil
}

func (c *callback) UnhandledEvent(byData []byte) error {
	c.logger.Debug("deepgram_unhandled_event", slog.Int("size_bytes", len(byData)))
	return nil
}

var _ msginterfaces.LiveMessageCallback = (*callback)(nil)
