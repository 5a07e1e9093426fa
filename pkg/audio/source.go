// Package audio captures microphone PCM and turns it into loudness readings
// for voice activity detection.
package audio

import (
	"context"
	"errors"
)

// ErrSignalUnavailable is returned when a source has no analysable signal,
// e.g. before the first samples arrive or after the device went away.
var ErrSignalUnavailable = errors.New("audio: signal unavailable")

const (
	DefaultSampleRate = 16000
	DefaultWindowSize = 2048
)

// Source exposes the most recent time-domain window of a live signal.
// Captured PCM is written to the Buffer handed to the Opener.
type Source interface {
	// Window returns a snapshot of the latest analysis window.
	Window() ([]int16, error)
	// SampleRate returns the capture rate in Hz.
	SampleRate() int
	// Close releases the device. Safe to call more than once.
	Close() error
}

// Opener acquires a Source. The caller owns the returned Source and must
// close it on every exit path.
type Opener interface {
	Open(ctx context.Context, capture *Buffer) (Source, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(ctx context.Context, capture *Buffer) (Source, error)

func (f OpenerFunc) Open(ctx context.Context, capture *Buffer) (Source, error) {
	return f(ctx, capture)
}
