package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
)

// ErrCancelled is the cancellation cause of a session stopped by its caller.
var ErrCancelled = errors.New("stream: cancelled")

// Status of a stream session.
type Status int

const (
	StatusActive Status = iota
	StatusCompleted
	StatusErrored
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusCompleted:
		return "completed"
	case StatusErrored:
		return "errored"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// HTTPError is a non-2xx response to the stream request.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("stream: http status %d", e.StatusCode)
	}
	return fmt.Sprintf("stream: http status %d: %s", e.StatusCode, e.Body)
}

// Handlers receive the session's progress. At most one of OnComplete and
// OnError fires, and neither fires once the session was cancelled.
type Handlers struct {
	OnFragment func(text string)
	OnComplete func()
	OnError    func(err error)
}

// Result is the terminal outcome of a session.
type Result struct {
	Status Status
	Text   string
	Err    error
}

// Session is one in-flight streamed reply.
type Session struct {
	ID string

	ctx      context.Context
	cancel   context.CancelCauseFunc
	handlers Handlers
	done     chan struct{}

	mu     sync.Mutex
	status Status
	text   strings.Builder
	err    error

	// deliverMu spans the status check and the handler call, so Cancel
	// can wait out a delivery that has passed the check.
	deliverMu sync.Mutex
	inHandler atomic.Bool
}

func newSession(ctx context.Context, id string, h Handlers) *Session {
	ctx, cancel := context.WithCancelCause(ctx)
	return &Session{
		ID:       id,
		ctx:      ctx,
		cancel:   cancel,
		handlers: h,
		done:     make(chan struct{}),
	}
}

// Cancel aborts the in-flight read. No callback starts after Cancel
// returns. A handler already running is not waited for, so handlers may
// cancel their own session.
func (s *Session) Cancel() {
	s.mu.Lock()
	if s.status != StatusActive {
		s.mu.Unlock()
		return
	}
	s.status = StatusCancelled
	s.mu.Unlock()
	s.cancel(ErrCancelled)
	if s.inHandler.Load() {
		return
	}
	s.deliverMu.Lock()
	s.deliverMu.Unlock()
}

func (s *Session) invoke(fn func()) {
	s.inHandler.Store(true)
	defer s.inHandler.Store(false)
	fn()
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Text is everything received so far.
func (s *Session) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text.String()
}

func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the session ends or ctx is done. In the latter case the
// result carries the session's current status and ctx's error.
func (s *Session) Wait(ctx context.Context) Result {
	select {
	case <-s.done:
	case <-ctx.Done():
		s.mu.Lock()
		defer s.mu.Unlock()
		return Result{Status: s.status, Text: s.text.String(), Err: ctx.Err()}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return Result{Status: s.status, Text: s.text.String(), Err: s.err}
}

// cancelled reports whether the caller, rather than the transport, ended
// the read.
func (s *Session) cancelled() bool {
	cause := context.Cause(s.ctx)
	return errors.Is(cause, ErrCancelled) || errors.Is(cause, context.Canceled)
}

func (s *Session) fragment(text string) bool {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	s.mu.Lock()
	if s.status != StatusActive {
		s.mu.Unlock()
		return false
	}
	s.text.WriteString(text)
	s.mu.Unlock()
	if h := s.handlers.OnFragment; h != nil {
		s.invoke(func() { h(text) })
	}
	return true
}

// finish records the terminal status and fires the matching callback once.
func (s *Session) finish(status Status, err error) Status {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	s.mu.Lock()
	if s.status != StatusActive {
		final := s.status
		s.mu.Unlock()
		return final
	}
	s.status = status
	s.err = err
	s.mu.Unlock()

	switch status {
	case StatusCompleted:
		if h := s.handlers.OnComplete; h != nil {
			s.invoke(h)
		}
	case StatusErrored:
		if h := s.handlers.OnError; h != nil {
			s.invoke(func() { h(err) })
		}
	}
	return status
}
