package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/harunnryd/voxlink/pkg/errorsx"
	"github.com/harunnryd/voxlink/pkg/logging"
	"github.com/harunnryd/voxlink/pkg/resilience"
	"github.com/harunnryd/voxlink/pkg/sse"
)

const defaultBaseURL = "https://api.openai.com/v1"

type Config struct {
	APIKey       string        `mapstructure:"api_key"`
	Model        string        `mapstructure:"model"`
	BaseURL      string        `mapstructure:"base_url"`
	SystemPrompt string        `mapstructure:"system_prompt"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// Responder streams chat completions.
type Responder struct {
	APIKey       string
	Model        string
	BaseURL      string
	SystemPrompt string
	Client       *http.Client
	Logger       *slog.Logger
}

func NewResponder(cfg Config) *Responder {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Responder{
		APIKey:       cfg.APIKey,
		Model:        cfg.Model,
		BaseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		SystemPrompt: cfg.SystemPrompt,
		Client:       &http.Client{Timeout: cfg.Timeout},
		Logger:       logging.NewComponentLogger(nil, "openai"),
	}
}

func (a *Responder) Name() string { return "openai" }

func (a *Responder) Stream(ctx context.Context, prompt string) (<-chan string, error) {
	body, err := a.buildRequest(prompt)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+"/chat/completions", body)
	if err != nil {
		return nil, err
	}
	a.applyHeaders(req)
	resp, err := a.client().Do(req)
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonResponderGenerate)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, errorsx.Wrap(resilience.RateLimitError{Provider: "openai", Message: string(body)}, errorsx.ReasonResponderRateLimit)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, errorsx.Errorf(errorsx.ReasonResponderGenerate, "openai: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	out := make(chan string, 128)
	go func() {
		defer resp.Body.Close()
		defer close(out)
		for frame, err := range sse.NewReader(resp.Body).Frames() {
			if err != nil {
				if ctx.Err() == nil {
					a.logger().Warn("openai_stream_error", slog.String("error", err.Error()))
				}
				return
			}
			text := deltaContent(frame.Data)
			if text == "" {
				continue
			}
			select {
			case <-ctx.Done():
				return
			case out <- text:
			}
		}
	}()
	return out, nil
}

type chunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

func deltaContent(data string) string {
	var c chunk
	if err := json.Unmarshal([]byte(data), &c); err != nil || len(c.Choices) == 0 {
		return ""
	}
	return c.Choices[0].Delta.Content
}

func (a *Responder) buildRequest(prompt string) (*bytes.Buffer, error) {
	messages := make([]map[string]string, 0, 2)
	if a.SystemPrompt != "" {
		messages = append(messages, map[string]string{"role": "system", "content": a.SystemPrompt})
	}
	messages = append(messages, map[string]string{"role": "user", "content": prompt})
	req := map[string]any{
		"model":    a.Model,
		"stream":   true,
		"messages": messages,
	}
	b, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	return bytes.NewBuffer(b), nil
}

func (a *Responder) applyHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+a.APIKey)
}

func (a *Responder) client() *http.Client {
	if a.Client != nil {
		return a.Client
	}
	return http.DefaultClient
}

func (a *Responder) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}
