// Package daemon implements the foreground monitor and the long-running engine.
package daemon

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/kioskd/internal/domain"
	"github.com/eliteGoblin/kioskd/internal/policy"
	"github.com/eliteGoblin/kioskd/internal/usecase"
)

// SessionController is the part of the session state machine the monitor needs.
type SessionController interface {
	IsActive() bool
	IsExpired() bool
	Current() *domain.Session
	StopSession(ctx context.Context) error
}

// Blocker decides whether a package must be blocked.
type Blocker interface {
	ShouldBlock(pkg string) bool
	SelfPackage() string
}

// Dispatcher executes enforcement against one package.
type Dispatcher interface {
	Dispatch(ctx context.Context, req usecase.DispatchRequest) usecase.DispatchReport
}

// SettingsSource supplies the in-memory settings.
type SettingsSource interface {
	Current() domain.KioskSettings
}

// MonitorConfig holds monitor configuration.
type MonitorConfig struct {
	// EventCooldown suppresses a second dispatch for the same package when
	// the poll loop and the window-event path both see it.
	EventCooldown time.Duration

	// SystemPackages are extra host packages exempt from blocking.
	SystemPackages []string
}

// DefaultMonitorConfig returns default monitor configuration.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		EventCooldown: 200 * time.Millisecond,
	}
}

// arbiter remembers the last package handed to the dispatcher.
type arbiter struct {
	mu  sync.Mutex
	pkg string
	at  time.Time
}

// claim returns true if pkg may be dispatched at now, and records it.
func (a *arbiter) claim(pkg string, now time.Time, cooldown time.Duration) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if pkg == a.pkg && now.Sub(a.at) < cooldown {
		return false
	}
	a.pkg = pkg
	a.at = now
	return true
}

// Monitor polls the foreground app while a session is active and feeds
// disallowed packages to the dispatcher. Window events enter through
// HandleWindowEvent and share the same cooldown arbiter.
type Monitor struct {
	config     MonitorConfig
	sessions   SessionController
	blocker    Blocker
	probe      domain.ForegroundProbe
	caps       domain.CapabilityProbe
	dispatcher Dispatcher
	settings   SettingsSource
	logger     *zap.Logger
	now        func() time.Time

	last arbiter

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewMonitor creates a stopped monitor.
func NewMonitor(
	config MonitorConfig,
	sessions SessionController,
	blocker Blocker,
	probe domain.ForegroundProbe,
	caps domain.CapabilityProbe,
	dispatcher Dispatcher,
	settings SettingsSource,
	logger *zap.Logger,
) *Monitor {
	return &Monitor{
		config:     config,
		sessions:   sessions,
		blocker:    blocker,
		probe:      probe,
		caps:       caps,
		dispatcher: dispatcher,
		settings:   settings,
		logger:     logger,
		now:        time.Now,
	}
}

// Start launches the poll loop. A no-op if it is already running.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done
	go m.run(runCtx, done)
}

// Stop cancels the poll loop without waiting for it; use Wait for that.
// It is called from session listeners, including from inside the loop
// when a session expires, so it must never block on the loop.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
}

// Running reports whether a poll loop is active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancel != nil
}

// Wait blocks until the most recently started loop has exited.
func (m *Monitor) Wait() {
	m.mu.Lock()
	done := m.done
	m.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (m *Monitor) run(ctx context.Context, done chan struct{}) {
	defer func() {
		m.mu.Lock()
		if m.done == done && m.cancel != nil {
			m.cancel()
			m.cancel = nil
		}
		m.mu.Unlock()
		close(done)
	}()

	interval := m.interval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.logger.Info("monitor started", zap.Duration("interval", interval))

	if !m.tick(ctx) {
		return
	}

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("monitor stopped")
			return

		case <-ticker.C:
			if !m.tick(ctx) {
				return
			}
			if next := m.interval(); next != interval {
				m.logger.Info("monitor interval changed",
					zap.Duration("from", interval),
					zap.Duration("to", next))
				interval = next
				ticker.Reset(interval)
			}
		}
	}
}

// tick runs one poll. Returns false when the loop must halt.
func (m *Monitor) tick(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	if !m.sessions.IsActive() {
		m.logger.Debug("no active session, monitor halting")
		return false
	}
	if m.sessions.IsExpired() {
		m.logger.Info("session expired, stopping")
		if err := m.sessions.StopSession(ctx); err != nil {
			m.logger.Warn("failed to persist session expiry", zap.Error(err))
		}
		return false
	}

	pkg, err := m.probe.ForegroundApp(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNoForeground) {
			m.logger.Debug("no foreground app", zap.Error(err))
		} else {
			m.logger.Warn("foreground probe failed", zap.Error(err))
		}
		return true
	}

	m.evaluate(ctx, pkg, "poll")
	return true
}

// HandleWindowEvent evaluates a focus change reported by a window event source.
// Events are ignored while idle; expiry is left to the poll loop.
func (m *Monitor) HandleWindowEvent(ctx context.Context, pkg string) {
	if !m.sessions.IsActive() || m.sessions.IsExpired() {
		return
	}
	m.evaluate(ctx, pkg, "event")
}

func (m *Monitor) evaluate(ctx context.Context, pkg, source string) {
	if pkg == "" {
		return
	}
	if policy.IsSystemPackage(pkg, m.blocker.SelfPackage(), m.config.SystemPackages...) {
		return
	}
	if !m.blocker.ShouldBlock(pkg) {
		return
	}
	if !m.last.claim(pkg, m.now(), m.config.EventCooldown) {
		m.logger.Debug("duplicate detection suppressed",
			zap.String("package", pkg),
			zap.String("source", source))
		return
	}

	m.logger.Info("disallowed app in foreground",
		zap.String("package", pkg),
		zap.String("source", source))

	m.dispatcher.Dispatch(ctx, usecase.DispatchRequest{
		PackageName:  pkg,
		Settings:     m.settings.Current(),
		Session:      m.sessions.Current(),
		Capabilities: m.caps.Capabilities(),
	})
}

func (m *Monitor) interval() time.Duration {
	iv := m.settings.Current().MonitoringInterval
	if iv < domain.MinMonitoringInterval {
		return domain.DefaultMonitoringInterval
	}
	return iv
}
