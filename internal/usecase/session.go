// Package usecase contains application business logic.
package usecase

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/kioskd/internal/domain"
)

// DefaultHistoryLimit is used when SessionHistory is called with limit <= 0.
const DefaultHistoryLimit = 10

// SessionManager is the session state machine: Idle <-> Active(timed|indefinite).
// It exclusively owns the "is enforcement active" truth. Expiry is not
// self-scheduled; the monitor polls IsExpired and calls StopSession.
type SessionManager struct {
	store  domain.SessionStore
	logger *zap.Logger
	now    func() time.Time

	mu      sync.Mutex // serializes transitions
	current atomic.Pointer[domain.Session]

	listenersMu sync.RWMutex
	listeners   []func(domain.SessionState)
}

// NewSessionManager creates a session manager in the Idle state.
func NewSessionManager(store domain.SessionStore, logger *zap.Logger) *SessionManager {
	return NewSessionManagerWithClock(store, logger, time.Now)
}

// NewSessionManagerWithClock creates a session manager with a custom clock (for testing).
func NewSessionManagerWithClock(store domain.SessionStore, logger *zap.Logger, now func() time.Time) *SessionManager {
	return &SessionManager{
		store:  store,
		logger: logger,
		now:    now,
	}
}

// Subscribe registers fn to receive every published state change.
// Listeners run synchronously on the transitioning goroutine and must not block.
func (m *SessionManager) Subscribe(fn func(domain.SessionState)) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// StartSession starts a timed session. durationMinutes == 0 starts an indefinite one.
func (m *SessionManager) StartSession(ctx context.Context, durationMinutes int) (*domain.Session, error) {
	if durationMinutes < 0 {
		return nil, fmt.Errorf("%w: %d minutes", domain.ErrInvalidDuration, durationMinutes)
	}
	if durationMinutes == 0 {
		return m.StartIndefiniteSession(ctx)
	}
	return m.start(ctx, domain.NewTimedSession(m.now(), durationMinutes))
}

// StartIndefiniteSession starts a session with no end.
func (m *SessionManager) StartIndefiniteSession(ctx context.Context) (*domain.Session, error) {
	return m.start(ctx, domain.NewIndefiniteSession(m.now()))
}

func (m *SessionManager) start(ctx context.Context, s domain.Session) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Single-active invariant: every prior session is force-deactivated first.
	if err := m.store.DeactivateAllSessions(ctx); err != nil {
		m.logger.Warn("failed to deactivate prior sessions", zap.Error(err))
		return nil, fmt.Errorf("%w: deactivate prior sessions: %v", domain.ErrPersistence, err)
	}

	id, err := m.store.SaveSession(ctx, s)
	if err != nil {
		m.logger.Warn("failed to save session", zap.Error(err))
		// The prior session is already inactive on disk; mirror that in memory.
		if m.current.Load() != nil {
			m.publish(nil)
		}
		return nil, fmt.Errorf("%w: save session: %v", domain.ErrPersistence, err)
	}
	s.ID = id

	m.publish(&s)
	m.logger.Info("session started",
		zap.Int64("session_id", s.ID),
		zap.Bool("indefinite", s.Indefinite),
		zap.Int("duration_minutes", s.DurationMinutes))

	out := s
	return &out, nil
}

// StopSession deactivates the current session. Idempotent: a no-op when idle.
// In-memory state is cleared even if the store write fails; the error is returned.
func (m *SessionManager) StopSession(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.current.Load()
	if s == nil {
		return nil
	}

	err := m.store.DeactivateSession(ctx, s.ID)
	m.publish(nil)

	if err != nil {
		m.logger.Warn("failed to persist session stop",
			zap.Int64("session_id", s.ID),
			zap.Error(err))
		return fmt.Errorf("%w: deactivate session %d: %v", domain.ErrPersistence, s.ID, err)
	}

	m.logger.Info("session stopped", zap.Int64("session_id", s.ID))
	return nil
}

// LoadActiveSession recovers persisted state. An already-expired session is
// deactivated immediately and the machine stays Idle. Publishes only when the
// in-memory state actually changes, so it is safe to call on every store change.
func (m *SessionManager) LoadActiveSession(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.store.LoadActiveSession(ctx)
	if err != nil {
		m.logger.Warn("failed to load active session, keeping in-memory state", zap.Error(err))
		return fmt.Errorf("%w: load active session: %v", domain.ErrPersistence, err)
	}

	if s != nil && s.IsExpired(m.now()) {
		m.logger.Info("recovered session already expired, deactivating",
			zap.Int64("session_id", s.ID))
		if err := m.store.DeactivateSession(ctx, s.ID); err != nil {
			m.logger.Warn("failed to deactivate expired session",
				zap.Int64("session_id", s.ID),
				zap.Error(err))
		}
		s = nil
	}

	cur := m.current.Load()
	switch {
	case s == nil && cur == nil:
		return nil
	case s != nil && cur != nil && s.ID == cur.ID:
		return nil
	}

	m.publish(s)
	if s != nil {
		m.logger.Info("session loaded", zap.Int64("session_id", s.ID))
	} else {
		m.logger.Info("session no longer active")
	}
	return nil
}

// publish swaps the in-memory state and notifies listeners. Caller holds m.mu.
func (m *SessionManager) publish(s *domain.Session) {
	m.current.Store(s)

	state := domain.SessionState{Active: s != nil}
	if s != nil {
		cp := *s
		state.Session = &cp
	}

	m.listenersMu.RLock()
	listeners := append([]func(domain.SessionState){}, m.listeners...)
	m.listenersMu.RUnlock()

	for _, fn := range listeners {
		fn(state)
	}
}

// Current returns a copy of the active session, or nil when idle.
func (m *SessionManager) Current() *domain.Session {
	s := m.current.Load()
	if s == nil {
		return nil
	}
	cp := *s
	return &cp
}

// IsActive reports whether a session is active.
func (m *SessionManager) IsActive() bool {
	return m.current.Load() != nil
}

// IsExpired reports whether the active session is timed and past its end.
// Idle machines have nothing to expire.
func (m *SessionManager) IsExpired() bool {
	s := m.current.Load()
	return s != nil && s.IsExpired(m.now())
}

// RemainingMillis returns the countdown, domain.NoLimit for indefinite sessions, 0 when idle.
func (m *SessionManager) RemainingMillis() int64 {
	s := m.current.Load()
	if s == nil {
		return 0
	}
	return s.RemainingMillis(m.now())
}

// ElapsedMillis returns now-start, 0 when idle.
func (m *SessionManager) ElapsedMillis() int64 {
	s := m.current.Load()
	if s == nil {
		return 0
	}
	return s.ElapsedMillis(m.now())
}

// ProgressPercentage returns 0-100; always 0 for indefinite sessions or when idle.
func (m *SessionManager) ProgressPercentage() int {
	s := m.current.Load()
	if s == nil {
		return 0
	}
	return s.ProgressPercentage(m.now())
}

// SessionHistory returns recent sessions, newest first.
func (m *SessionManager) SessionHistory(ctx context.Context, limit int) ([]domain.Session, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	sessions, err := m.store.SessionHistory(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: session history: %v", domain.ErrPersistence, err)
	}
	return sessions, nil
}
