package voxlink

import (
	"fmt"
	"strings"

	"github.com/harunnryd/voxlink/pkg/configutil"
	"github.com/harunnryd/voxlink/pkg/gateway"
	"github.com/harunnryd/voxlink/pkg/providers/deepgram"
	"github.com/harunnryd/voxlink/pkg/providers/mock"
	"github.com/harunnryd/voxlink/pkg/providers/openai"
	"github.com/harunnryd/voxlink/pkg/responder"
)

type ResponderFactory func(cfg VendorConfig) (responder.Responder, error)
type TranscriberFactory func(cfg VendorConfig) (gateway.Transcriber, error)

type ProviderRegistry struct {
	responders   map[string]ResponderFactory
	transcribers map[string]TranscriberFactory
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		responders:   make(map[string]ResponderFactory),
		transcribers: make(map[string]TranscriberFactory),
	}
}

// DefaultProviders registers the built-in responders (mock, openai) and
// transcribers (mock, deepgram).
func DefaultProviders() *ProviderRegistry {
	r := NewProviderRegistry()
	r.RegisterResponder("mock", buildMockResponder)
	r.RegisterResponder("openai", buildOpenAIResponder)
	r.RegisterTranscriber("mock", buildMockTranscriber)
	r.RegisterTranscriber("deepgram", buildDeepgramTranscriber)
	return r
}

func (r *ProviderRegistry) RegisterResponder(name string, factory ResponderFactory) {
	r.responders[strings.ToLower(strings.TrimSpace(name))] = factory
}

func (r *ProviderRegistry) RegisterTranscriber(name string, factory TranscriberFactory) {
	r.transcribers[strings.ToLower(strings.TrimSpace(name))] = factory
}

func (r *ProviderRegistry) BuildResponder(cfg VendorConfig) (responder.Responder, error) {
	fn := r.responders[strings.ToLower(strings.TrimSpace(cfg.Provider))]
	if fn == nil {
		return nil, fmt.Errorf("responder provider not registered: %s", cfg.Provider)
	}
	return fn(cfg)
}

// BuildTranscriber returns nil without error when no provider is configured.
func (r *ProviderRegistry) BuildTranscriber(cfg VendorConfig) (gateway.Transcriber, error) {
	if strings.TrimSpace(cfg.Provider) == "" {
		return nil, nil
	}
	fn := r.transcribers[strings.ToLower(strings.TrimSpace(cfg.Provider))]
	if fn == nil {
		return nil, fmt.Errorf("transcriber provider not registered: %s", cfg.Provider)
	}
	return fn(cfg)
}

func buildMockResponder(cfg VendorConfig) (responder.Responder, error) {
	if err := configutil.ValidateSettings(cfg.Settings, configutil.Schema{Fields: []configutil.Field{
		{Name: "reply", Kind: configutil.KindString},
		{Name: "interval", Kind: configutil.KindDuration},
	}}); err != nil {
		return nil, fmt.Errorf("responder.settings: %w", err)
	}
	var mc responder.MockConfig
	if err := configutil.DecodeSettings(cfg.Settings, &mc); err != nil {
		return nil, err
	}
	return responder.NewMock(mc), nil
}

func buildOpenAIResponder(cfg VendorConfig) (responder.Responder, error) {
	schema := configutil.Schema{Fields: []configutil.Field{
		{Name: "api_key", Kind: configutil.KindString},
		{Name: "model", Kind: configutil.KindString},
		{Name: "base_url", Kind: configutil.KindString},
		{Name: "system_prompt", Kind: configutil.KindString},
		{Name: "timeout", Kind: configutil.KindDuration},
	}}
	if err := configutil.ValidateSettings(cfg.Settings, schema); err != nil {
		return nil, fmt.Errorf("responder.settings: %w", err)
	}
	var oc openai.Config
	if err := configutil.DecodeSettings(cfg.Settings, &oc); err != nil {
		return nil, err
	}
	oc.APIKey = configutil.FirstNonEmpty(oc.APIKey, "OPENAI_API_KEY")
	if err := configutil.RequireString(oc.APIKey, "responder.settings.api_key"); err != nil {
		return nil, err
	}
	return openai.NewResponder(oc), nil
}

func buildMockTranscriber(cfg VendorConfig) (gateway.Transcriber, error) {
	if err := configutil.ValidateSettings(cfg.Settings, configutil.Schema{Fields: []configutil.Field{
		{Name: "transcript", Kind: configutil.KindString},
		{Name: "min_bytes", Kind: configutil.KindInt},
	}}); err != nil {
		return nil, fmt.Errorf("transcriber.settings: %w", err)
	}
	var mc mock.STTConfig
	if err := configutil.DecodeSettings(cfg.Settings, &mc); err != nil {
		return nil, err
	}
	return mock.NewSTT(mc), nil
}

func buildDeepgramTranscriber(cfg VendorConfig) (gateway.Transcriber, error) {
	schema := configutil.Schema{Fields: []configutil.Field{
		{Name: "api_key", Kind: configutil.KindString},
		{Name: "model", Kind: configutil.KindString},
		{Name: "language", Kind: configutil.KindString},
		{Name: "encoding", Kind: configutil.KindString},
		{Name: "utterance_end_ms", Kind: configutil.KindInt},
		{Name: "settle_timeout", Kind: configutil.KindDuration},
	}}
	if err := configutil.ValidateSettings(cfg.Settings, schema); err != nil {
		return nil, fmt.Errorf("transcriber.settings: %w", err)
	}
	var dc deepgram.Config
	if err := configutil.DecodeSettings(cfg.Settings, &dc); err != nil {
		return nil, err
	}
	dc.APIKey = configutil.FirstNonEmpty(dc.APIKey, "DEEPGRAM_API_KEY")
	if err := configutil.RequireString(dc.APIKey, "transcriber.settings.api_key"); err != nil {
		return nil, err
	}
	return deepgram.New(dc), nil
}
