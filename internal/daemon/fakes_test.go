package daemon

import (
	"context"
	"sync"
	"time"

	"github.com/eliteGoblin/kioskd/internal/domain"
	"github.com/eliteGoblin/kioskd/internal/usecase"
)

// fakeSessions implements SessionController for testing
type fakeSessions struct {
	mu      sync.Mutex
	active  bool
	expired bool
	stops   int
	onStop  func()
}

func (f *fakeSessions) IsActive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

func (f *fakeSessions) IsExpired() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active && f.expired
}

func (f *fakeSessions) Current() *domain.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.active {
		return nil
	}
	return &domain.Session{ID: 1, Active: true}
}

func (f *fakeSessions) StopSession(ctx context.Context) error {
	f.mu.Lock()
	f.active = false
	f.stops++
	onStop := f.onStop
	f.mu.Unlock()
	if onStop != nil {
		onStop()
	}
	return nil
}

func (f *fakeSessions) setExpired(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expired = v
}

func (f *fakeSessions) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}

// fakeBlocker blocks everything not in allowed.
type fakeBlocker struct {
	allowed map[string]bool
}

func (f *fakeBlocker) ShouldBlock(pkg string) bool { return !f.allowed[pkg] }
func (f *fakeBlocker) SelfPackage() string         { return "kioskd" }

// fakeProbe returns a settable foreground package.
type fakeProbe struct {
	mu    sync.Mutex
	pkg   string
	err   error
	calls int
}

func (f *fakeProbe) ForegroundApp(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.pkg, f.err
}

func (f *fakeProbe) set(pkg string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pkg = pkg
	f.err = err
}

func (f *fakeProbe) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeCaps struct{ caps domain.Capabilities }

func (f fakeCaps) Capabilities() domain.Capabilities { return f.caps }

// fakeDispatcher records dispatched packages.
type fakeDispatcher struct {
	mu   sync.Mutex
	pkgs []string
	reqs []usecase.DispatchRequest
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, req usecase.DispatchRequest) usecase.DispatchReport {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pkgs = append(f.pkgs, req.PackageName)
	f.reqs = append(f.reqs, req)
	return usecase.DispatchReport{}
}

func (f *fakeDispatcher) dispatched() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.pkgs...)
}

type fakeSettings struct {
	mu sync.Mutex
	s  domain.KioskSettings
}

func newFakeSettings(interval time.Duration) *fakeSettings {
	s := domain.DefaultSettings()
	s.MonitoringInterval = interval
	return &fakeSettings{s: s}
}

func (f *fakeSettings) Current() domain.KioskSettings {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.s
}

func (f *fakeSettings) Load(ctx context.Context) (domain.KioskSettings, error) {
	return f.Current(), nil
}

// countingRefresher implements CacheRefresher and SessionLoader for testing
type countingRefresher struct {
	mu    sync.Mutex
	count int
}

func (c *countingRefresher) Refresh(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count++
	return nil
}

func (c *countingRefresher) LoadActiveSession(ctx context.Context) error {
	return c.Refresh(ctx)
}

func (c *countingRefresher) n() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// memSessionStore is an in-memory domain.SessionStore
type memSessionStore struct {
	mu       sync.Mutex
	sessions []domain.Session
}

func (m *memSessionStore) SaveSession(ctx context.Context, s domain.Session) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.ID = int64(len(m.sessions) + 1)
	m.sessions = append(m.sessions, s)
	return s.ID, nil
}

func (m *memSessionStore) DeactivateSession(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.sessions {
		if m.sessions[i].ID == id {
			m.sessions[i].Active = false
		}
	}
	return nil
}

func (m *memSessionStore) DeactivateAllSessions(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.sessions {
		m.sessions[i].Active = false
	}
	return nil
}

func (m *memSessionStore) LoadActiveSession(ctx context.Context) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.Active {
			cp := s
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memSessionStore) SessionHistory(ctx context.Context, limit int) ([]domain.Session, error) {
	return nil, nil
}

var _ SessionController = (*fakeSessions)(nil)
var _ Blocker = (*fakeBlocker)(nil)
var _ domain.ForegroundProbe = (*fakeProbe)(nil)
var _ Dispatcher = (*fakeDispatcher)(nil)
var _ domain.SessionStore = (*memSessionStore)(nil)
