package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/snowchat/snowchat/internal/observability"
)

// OpenFunc opens a new session with the given id.
type OpenFunc func(ctx context.Context, id string) (*Session, error)

// Manager tracks the sessions of the HTTP surface and closes the idle ones.
type Manager struct {
	Open         OpenFunc
	IdleTimeout  time.Duration
	PollInterval time.Duration
	Logger       *slog.Logger
	Clock        func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(open OpenFunc, idleTimeout time.Duration, logger *slog.Logger) *Manager {
	return &Manager{Open: open, IdleTimeout: idleTimeout, Logger: logger}
}

func (m *Manager) ensureDefaults() {
	if m.Clock == nil {
		m.Clock = time.Now
	}
	if m.Logger == nil {
		m.Logger = slog.Default()
	}
	if m.PollInterval <= 0 {
		m.PollInterval = m.IdleTimeout / 2
		if m.PollInterval < time.Second {
			m.PollInterval = time.Second
		}
	}
	if m.sessions == nil {
		m.sessions = map[string]*Session{}
	}
}

func (m *Manager) Create(ctx context.Context) (*Session, error) {
	if m.Open == nil {
		return nil, fmt.Errorf("session opener is required")
	}
	id := uuid.NewString()
	session, err := m.Open(ctx, id)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.ensureDefaults()
	m.sessions[session.ID()] = session
	count := len(m.sessions)
	m.mu.Unlock()

	observability.SetActiveSessions(count)
	m.Logger.InfoContext(ctx, "session opened", "session_id", session.ID())
	return session, nil
}

func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return session, nil
}

func (m *Manager) Close(id string) error {
	m.mu.Lock()
	session, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	count := len(m.sessions)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	observability.SetActiveSessions(count)
	return session.Close()
}

// IDs lists open session ids in sorted order.
func (m *Manager) IDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// CloseIdle closes sessions unused for longer than IdleTimeout and returns
// how many were closed. A zero IdleTimeout disables reaping.
func (m *Manager) CloseIdle(ctx context.Context) int {
	m.mu.Lock()
	m.ensureDefaults()
	if m.IdleTimeout <= 0 {
		m.mu.Unlock()
		return 0
	}
	cutoff := m.Clock().Add(-m.IdleTimeout)
	idle := make([]*Session, 0)
	for id, session := range m.sessions {
		if session.LastUsed().Before(cutoff) {
			idle = append(idle, session)
			delete(m.sessions, id)
		}
	}
	count := len(m.sessions)
	m.mu.Unlock()

	for _, session := range idle {
		if err := session.Close(); err != nil {
			m.Logger.WarnContext(ctx, "close idle session failed", "session_id", session.ID(), "error", observability.Mask(err.Error()))
			continue
		}
		m.Logger.InfoContext(ctx, "idle session closed", "session_id", session.ID())
	}
	if len(idle) > 0 {
		observability.SetActiveSessions(count)
	}
	return len(idle)
}

// CloseAll closes every session and reports the joined close errors.
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = map[string]*Session{}
	m.mu.Unlock()

	var errs []error
	for _, session := range sessions {
		if err := session.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close session %s: %w", session.ID(), err))
		}
	}
	observability.SetActiveSessions(0)
	return errors.Join(errs...)
}

// Run reaps idle sessions until ctx is done, then closes the rest.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	m.ensureDefaults()
	interval := m.PollInterval
	m.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return m.CloseAll()
		case <-ticker.C:
			m.CloseIdle(ctx)
		}
	}
}
