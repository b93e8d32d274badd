package daemon

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/kioskd/internal/domain"
)

// SettingsLoader reloads settings from the store.
type SettingsLoader interface {
	Load(ctx context.Context) (domain.KioskSettings, error)
}

// CacheRefresher reloads the whitelist snapshot.
type CacheRefresher interface {
	Refresh(ctx context.Context) error
}

// SessionLoader reconciles in-memory session state with the store.
type SessionLoader interface {
	LoadActiveSession(ctx context.Context) error
}

// SyncerConfig holds syncer configuration.
type SyncerConfig struct {
	Interval time.Duration // periodic reload, in case a change notification was missed
}

// DefaultSyncerConfig returns default syncer configuration.
func DefaultSyncerConfig() SyncerConfig {
	return SyncerConfig{
		Interval: 30 * time.Second,
	}
}

// Syncer keeps the daemon's in-memory state in step with the store, which
// the CLI writes from a separate process. It reloads on every change
// notification and on a fixed interval.
type Syncer struct {
	config   SyncerConfig
	settings SettingsLoader
	cache    CacheRefresher
	sessions SessionLoader
	changes  <-chan struct{}
	logger   *zap.Logger
}

// NewSyncer creates a syncer. changes may be nil.
func NewSyncer(
	config SyncerConfig,
	settings SettingsLoader,
	cache CacheRefresher,
	sessions SessionLoader,
	changes <-chan struct{},
	logger *zap.Logger,
) *Syncer {
	return &Syncer{
		config:   config,
		settings: settings,
		cache:    cache,
		sessions: sessions,
		changes:  changes,
		logger:   logger,
	}
}

// Run syncs immediately, then on every change and tick.
// This blocks until context is canceled.
func (s *Syncer) Run(ctx context.Context) error {
	s.Sync(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("syncer stopping")
			return ctx.Err()

		case <-s.changes:
			s.logger.Debug("store changed, reloading")
			s.Sync(ctx)

		case <-ticker.C:
			s.Sync(ctx)
		}
	}
}

// Sync reloads settings, then the whitelist (which depends on the dialer
// setting), then the session. Failures keep the previous in-memory state.
func (s *Syncer) Sync(ctx context.Context) {
	if _, err := s.settings.Load(ctx); err != nil {
		s.logger.Warn("settings reload failed", zap.Error(err))
	}
	if err := s.cache.Refresh(ctx); err != nil {
		s.logger.Warn("whitelist reload failed", zap.Error(err))
	}
	if err := s.sessions.LoadActiveSession(ctx); err != nil {
		s.logger.Warn("session reload failed", zap.Error(err))
	}
}
