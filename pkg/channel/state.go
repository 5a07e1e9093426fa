package channel

import (
	"encoding/json"
	"errors"
	"time"
)

// State of the connection.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Status is a point-in-time snapshot of the channel.
type Status struct {
	State     State
	Attempt   int
	LastError error
}

// Lifecycle events. Server events are delivered under their own names.
const (
	EventConnected    = "connected"
	EventDisconnected = "disconnected"
	EventReconnecting = "reconnecting"
	EventError        = "error"
)

var (
	// ErrNotConnected is returned when a message is dropped because the
	// channel is not connected.
	ErrNotConnected = errors.New("channel: not connected")
	// ErrClosed is returned after Disconnect.
	ErrClosed = errors.New("channel: closed")
	// ErrQueueFull is returned when the outbound queue has no room.
	ErrQueueFull = errors.New("channel: send queue full")
)

// Event is delivered to handlers registered with On.
type Event struct {
	Name string
	// Data is the raw payload of a server event.
	Data json.RawMessage
	// Err is set on error and disconnected events.
	Err error
	// Attempt and Delay describe a scheduled reconnect.
	Attempt int
	Delay   time.Duration
	// Terminal is true when the channel gave up reconnecting.
	Terminal bool
}

// Handler observes channel events. Handlers run on the channel's goroutines
// and must not block.
type Handler func(Event)
