package stream

import (
	"context"
	"sync"
)

// Starter is satisfied by *Client.
type Starter interface {
	Start(ctx context.Context, prompt string, h Handlers) (*Session, error)
}

// Manager keeps at most one active session per conversation turn. Starting
// a new session cancels the previous one first.
type Manager struct {
	starter Starter

	mu     sync.Mutex
	active *Session
}

func NewManager(starter Starter) *Manager {
	return &Manager{starter: starter}
}

func (m *Manager) Start(ctx context.Context, prompt string, h Handlers) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev := m.active; prev != nil {
		prev.Cancel()
		m.active = nil
	}
	s, err := m.starter.Start(ctx, prompt, h)
	if err != nil {
		return nil, err
	}
	m.active = s
	return s, nil
}

// Active returns the running session, or nil.
func (m *Manager) Active() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return nil
	}
	select {
	case <-m.active.Done():
		m.active = nil
	default:
	}
	return m.active
}

// Cancel stops the active session, if any.
func (m *Manager) Cancel() {
	m.mu.Lock()
	s := m.active
	m.active = nil
	m.mu.Unlock()
	if s != nil {
		s.Cancel()
	}
}
