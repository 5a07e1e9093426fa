// Package protocol defines the socket messages shared by the channel client
// and the audio gateway. Audio travels as binary frames with no envelope;
// everything else is a JSON text frame {"event": ..., "data": ...}.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Control events sent by the client.
const (
	EventStartRecording = "start-recording"
	EventStopRecording  = "stop-recording"
)

// Server events.
const (
	EventRecordingStarted = "recording-started"
	EventRecordingStopped = "recording-stopped"
	EventAudioResponse    = "audio-response"
	EventServerError      = "server-error"
)

// ResponseTypeText is the only response type produced today.
const ResponseTypeText = "text-response"

// Envelope is the JSON text frame.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Ack is the payload of recording-started / recording-stopped.
type Ack struct {
	Success bool `json:"success"`
}

// ResponseEvent is the payload of audio-response. Duration, in milliseconds,
// tells the client how long to wait before listening again.
type ResponseEvent struct {
	Type      string `json:"type"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
	Duration  int64  `json:"duration,omitempty"`
}

// ErrorEvent is the payload of a server error event.
type ErrorEvent struct {
	Message string `json:"message"`
}

// NewResponse builds a text response stamped with at in RFC3339.
func NewResponse(text string, at time.Time, duration time.Duration) ResponseEvent {
	return ResponseEvent{
		Type:      ResponseTypeText,
		Text:      text,
		Timestamp: at.UTC().Format(time.RFC3339),
		Duration:  duration.Milliseconds(),
	}
}

// HoldFor returns the playback duration carried by the event, zero when absent.
func (r ResponseEvent) HoldFor() time.Duration {
	if r.Duration <= 0 {
		return 0
	}
	return time.Duration(r.Duration) * time.Millisecond
}

// Encode marshals an event and its payload. A nil payload omits data.
func Encode(event string, payload any) ([]byte, error) {
	env := Envelope{Event: event}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", event, err)
		}
		env.Data = raw
	}
	return json.Marshal(env)
}

// Decode parses a text frame.
func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("decode envelope: missing event")
	}
	return env, nil
}

// DecodeData unmarshals the envelope payload into out.
func (e Envelope) DecodeData(out any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s: empty data", e.Event)
	}
	if err := json.Unmarshal(e.Data, out); err != nil {
		return fmt.Errorf("%s: %w", e.Event, err)
	}
	return nil
}

// EstimateDuration approximates speaking time for text: 60ms per
// character, at least one second.
func EstimateDuration(text string) time.Duration {
	d := time.Duration(len([]rune(text))) * 60 * time.Millisecond
	if d < time.Second {
		return time.Second
	}
	return d
}
