// Package voxlink loads configuration and wires the client and server
// components from it.
package voxlink

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/harunnryd/voxlink/pkg/audio"
	"github.com/harunnryd/voxlink/pkg/channel"
	"github.com/harunnryd/voxlink/pkg/chunk"
	"github.com/harunnryd/voxlink/pkg/gateway"
	"github.com/harunnryd/voxlink/pkg/recording"
	"github.com/harunnryd/voxlink/pkg/stream"
	"github.com/harunnryd/voxlink/pkg/vad"
	"github.com/spf13/viper"
)

type Config struct {
	Audio       AudioConfig    `mapstructure:"audio"`
	VAD         vad.Config     `mapstructure:"vad"`
	Chunk       chunk.Config   `mapstructure:"chunk"`
	Channel     channel.Config `mapstructure:"channel"`
	Stream      stream.Config  `mapstructure:"stream"`
	Server      gateway.Config `mapstructure:"server"`
	Responder   VendorConfig   `mapstructure:"responder"`
	Transcriber VendorConfig   `mapstructure:"transcriber"`
	Environment string         `mapstructure:"environment"`
	LogLevel    string         `mapstructure:"log_level"`
	LogFormat   string         `mapstructure:"log_format"`
	Privacy     PrivacyConfig  `mapstructure:"privacy"`
	Metrics     MetricsConfig  `mapstructure:"metrics"`
}

// AudioConfig describes the microphone input. Input is a file path or "-"
// for stdin.
type AudioConfig struct {
	Input      string `mapstructure:"input"`
	SampleRate int    `mapstructure:"sample_rate"`
	WindowSize int    `mapstructure:"window_size"`
	ReadSize   int    `mapstructure:"read_size"`
}

func (a AudioConfig) PCM() audio.PCMConfig {
	return audio.PCMConfig{SampleRate: a.SampleRate, WindowSize: a.WindowSize, ReadSize: a.ReadSize}
}

type VendorConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type PrivacyConfig struct {
	RedactPII bool `mapstructure:"redact_pii"`
}

type MetricsConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	Async      bool `mapstructure:"async"`
	BufferSize int  `mapstructure:"buffer_size"`
}

// Recording returns the recording controller section.
func (c Config) Recording() recording.Config {
	return recording.Config{VAD: c.VAD, Chunk: c.Chunk}
}

func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}

	expandEnvStrings(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("audio.input", "-")
	v.SetDefault("audio.sample_rate", audio.DefaultSampleRate)
	v.SetDefault("audio.window_size", audio.DefaultWindowSize)
	v.SetDefault("vad.volume_threshold", 1.5)
	v.SetDefault("vad.silence_timeout", "1500ms")
	v.SetDefault("vad.poll_interval", "100ms")
	v.SetDefault("chunk.interval", "500ms")
	v.SetDefault("channel.url", "ws://localhost:3001/ws")
	v.SetDefault("channel.base_delay", "1s")
	v.SetDefault("channel.max_delay", "10s")
	v.SetDefault("channel.max_attempts", 5)
	v.SetDefault("channel.ping_interval", "30s")
	v.SetDefault("channel.handshake_timeout", "10s")
	v.SetDefault("channel.write_timeout", "10s")
	v.SetDefault("channel.send_buffer", 64)
	v.SetDefault("stream.url", "http://localhost:3001/chat/stream")
	v.SetDefault("stream.method", "POST")
	v.SetDefault("stream.breaker_threshold", 3)
	v.SetDefault("stream.breaker_cooldown", "30s")
	v.SetDefault("server.server_addr", ":3001")
	v.SetDefault("server.chat_path", "/chat/stream")
	v.SetDefault("server.ws_path", "/ws")
	v.SetDefault("server.metrics_path", "/metrics")
	v.SetDefault("server.sample_rate", audio.DefaultSampleRate)
	v.SetDefault("server.reply_timeout", "30s")
	v.SetDefault("responder.provider", "mock")
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("privacy.redact_pii", true)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.async", true)
	v.SetDefault("metrics.buffer_size", 1024)
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Responder.Provider) == "" {
		return fmt.Errorf("responder.provider is required")
	}
	if c.VAD.VolumeThreshold < 0 || c.VAD.VolumeThreshold > 100 {
		return fmt.Errorf("vad.volume_threshold must be within 0..100")
	}
	if c.VAD.PollInterval <= 0 {
		return fmt.Errorf("vad.poll_interval must be positive")
	}
	if c.VAD.SilenceTimeout < 0 {
		return fmt.Errorf("vad.silence_timeout must not be negative")
	}
	if c.Chunk.Interval <= 0 {
		return fmt.Errorf("chunk.interval must be positive")
	}
	if c.Channel.MaxAttempts < 0 {
		return fmt.Errorf("channel.max_attempts must not be negative")
	}
	if c.Channel.BaseDelay > 0 && c.Channel.MaxDelay > 0 && c.Channel.MaxDelay < c.Channel.BaseDelay {
		return fmt.Errorf("channel.max_delay must be at least channel.base_delay")
	}
	switch strings.ToUpper(strings.TrimSpace(c.Stream.Method)) {
	case "", "GET", "POST":
	default:
		return fmt.Errorf("stream.method must be GET or POST")
	}
	return nil
}

func expandEnvStrings(cfg *Config) {
	expandValue(reflect.ValueOf(cfg))
	cfg.Responder.Settings = expandSettings(cfg.Responder.Settings)
	cfg.Transcriber.Settings = expandSettings(cfg.Transcriber.Settings)
}

func expandSettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		for k, v := range val {
			val[k] = expandAny(v)
		}
		return val
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			ks, ok := k.(string)
			if !ok {
				continue
			}
			out[ks] = expandAny(v)
		}
		return out
	default:
		return v
	}
}

func expandValue(v reflect.Value) {
	if !v.IsValid() {
		return
	}
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return
		}
		expandValue(v.Elem())
		return
	}
	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			expandValue(v.Field(i))
		}
	case reflect.String:
		if v.CanSet() {
			v.SetString(os.ExpandEnv(v.String()))
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			expandValue(v.Index(i))
		}
	}
}
