package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/eliteGoblin/kioskd/internal/domain"
)

// mockSessionStore implements domain.SessionStore for testing
type mockSessionStore struct {
	mu            sync.Mutex
	sessions      []domain.Session
	nextID        int64
	saveErr       error
	deactivateErr error
	loadErr       error
}

func (m *mockSessionStore) SaveSession(ctx context.Context, s domain.Session) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return 0, m.saveErr
	}
	m.nextID++
	s.ID = m.nextID
	m.sessions = append(m.sessions, s)
	return s.ID, nil
}

func (m *mockSessionStore) DeactivateSession(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deactivateErr != nil {
		return m.deactivateErr
	}
	for i := range m.sessions {
		if m.sessions[i].ID == id {
			m.sessions[i].Active = false
		}
	}
	return nil
}

func (m *mockSessionStore) DeactivateAllSessions(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deactivateErr != nil {
		return m.deactivateErr
	}
	for i := range m.sessions {
		m.sessions[i].Active = false
	}
	return nil
}

func (m *mockSessionStore) LoadActiveSession(ctx context.Context) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	for i := len(m.sessions) - 1; i >= 0; i-- {
		if m.sessions[i].Active {
			s := m.sessions[i]
			return &s, nil
		}
	}
	return nil, nil
}

func (m *mockSessionStore) SessionHistory(ctx context.Context, limit int) ([]domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Session
	for i := len(m.sessions) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.sessions[i])
	}
	return out, nil
}

func (m *mockSessionStore) activeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sessions {
		if s.Active {
			n++
		}
	}
	return n
}

// mockSettingsStore implements domain.SettingsStore for testing
type mockSettingsStore struct {
	mu       sync.Mutex
	settings *domain.KioskSettings
	loadErr  error
	saveErr  error
	saves    int
}

func (m *mockSettingsStore) LoadSettings(ctx context.Context) (*domain.KioskSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	if m.settings == nil {
		return nil, nil
	}
	s := *m.settings
	return &s, nil
}

func (m *mockSettingsStore) SaveSettings(ctx context.Context, s domain.KioskSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	m.settings = &s
	return nil
}

// mockEventStore implements domain.BlockEventStore for testing
type mockEventStore struct {
	mu        sync.Mutex
	events    []domain.BlockEvent
	appendErr error
}

func (m *mockEventStore) AppendBlockEvent(ctx context.Context, e domain.BlockEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return m.appendErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.events = append(m.events, e)
	return nil
}

func (m *mockEventStore) RecentBlockEvents(ctx context.Context, limit int) ([]domain.BlockEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.BlockEvent(nil), m.events...), nil
}

func (m *mockEventStore) BlockCount(ctx context.Context, pkg string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.events {
		if e.PackageName == pkg {
			n++
		}
	}
	return n, nil
}

func (m *mockEventStore) PruneBlockEventsBefore(ctx context.Context, ts time.Time) (int64, error) {
	return 0, nil
}

func (m *mockEventStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

var errMockAction = errors.New("mock action failed")

// mockLabeler implements domain.AppLabeler from a fixed map.
type mockLabeler map[string]string

func (m mockLabeler) AppLabel(ctx context.Context, pkg string) (string, error) {
	if label, ok := m[pkg]; ok {
		return label, nil
	}
	return "", domain.ErrNotFound
}

// mockActions implements domain.DeviceActions for testing, recording call order.
// Like a real command, a call fails once its context is canceled.
type mockActions struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
	panic map[string]bool
	after map[string]func() // runs after the named call is recorded
}

func (m *mockActions) record(ctx context.Context, name string) error {
	m.mu.Lock()
	m.calls = append(m.calls, name)
	hook := m.after[name]
	var err error
	if m.fail != nil {
		err = m.fail[name]
	}
	m.mu.Unlock()

	if m.panic[name] {
		panic(name + " exploded")
	}
	if err == nil {
		err = ctx.Err()
	}
	if hook != nil {
		hook()
	}
	return err
}

func (m *mockActions) LockDevice(ctx context.Context) error  { return m.record(ctx, "lock") }
func (m *mockActions) PinLockTask(ctx context.Context) error { return m.record(ctx, "locktask") }
func (m *mockActions) BringToFront(ctx context.Context) error {
	return m.record(ctx, "front")
}
func (m *mockActions) ShowOverlay(ctx context.Context, pkg string) error {
	return m.record(ctx, "overlay")
}
func (m *mockActions) HideOverlay(ctx context.Context) error { return m.record(ctx, "hide") }
func (m *mockActions) KillApp(ctx context.Context, pkg string) error {
	return m.record(ctx, "kill")
}
func (m *mockActions) Vibrate(ctx context.Context, d time.Duration) error {
	return m.record(ctx, "vibrate")
}

func (m *mockActions) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

var _ domain.SessionStore = (*mockSessionStore)(nil)
var _ domain.SettingsStore = (*mockSettingsStore)(nil)
var _ domain.BlockEventStore = (*mockEventStore)(nil)
var _ domain.DeviceActions = (*mockActions)(nil)
var _ domain.AppLabeler = mockLabeler(nil)
