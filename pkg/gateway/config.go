package gateway

import (
	"context"
	"time"
)

// DefaultReply is sent for every audio chunk when no transcriber is set.
const DefaultReply = "Got your voice, this is a test reply."

type Config struct {
	ServerAddr        string        `mapstructure:"server_addr"`
	ChatPath          string        `mapstructure:"chat_path"`
	WebsocketPath     string        `mapstructure:"ws_path"`
	MetricsPath       string        `mapstructure:"metrics_path"`
	AllowAnyOrigin    bool          `mapstructure:"allow_any_origin"`
	AllowedOrigins    []string      `mapstructure:"allowed_origins"`
	SampleRate        int           `mapstructure:"sample_rate"`
	MaxUtteranceBytes int           `mapstructure:"max_utterance_bytes"`
	ReplyText         string        `mapstructure:"reply_text"`
	ReplyTimeout      time.Duration `mapstructure:"reply_timeout"`
}

func (c Config) withDefaults() Config {
	if c.ServerAddr == "" {
		c.ServerAddr = ":3001"
	}
	if c.ChatPath == "" {
		c.ChatPath = "/chat/stream"
	}
	if c.WebsocketPath == "" {
		c.WebsocketPath = "/ws"
	}
	if c.MetricsPath == "" {
		c.MetricsPath = "/metrics"
	}
	if !c.AllowAnyOrigin && len(c.AllowedOrigins) == 0 {
		c.AllowAnyOrigin = true
	}
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.MaxUtteranceBytes <= 0 {
		c.MaxUtteranceBytes = 10 << 20
	}
	if c.ReplyText == "" {
		c.ReplyText = DefaultReply
	}
	if c.ReplyTimeout <= 0 {
		c.ReplyTimeout = 30 * time.Second
	}
	return c
}

// Transcriber turns one utterance of PCM16 audio into text.
type Transcriber interface {
	Name() string
	Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error)
}
