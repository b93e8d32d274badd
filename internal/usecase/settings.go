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

// SettingsService keeps the last-known settings in memory. Readers never hit the store.
type SettingsService struct {
	store   domain.SettingsStore
	logger  *zap.Logger
	mu      sync.Mutex // serializes Load/Update
	current atomic.Pointer[domain.KioskSettings]
}

// NewSettingsService creates a service holding DefaultSettings until Load succeeds.
func NewSettingsService(store domain.SettingsStore, logger *zap.Logger) *SettingsService {
	s := &SettingsService{store: store, logger: logger}
	defaults := domain.DefaultSettings()
	s.current.Store(&defaults)
	return s
}

// Load reads the settings row, materializing and persisting defaults when absent.
// On a read failure the previous in-memory settings are kept.
func (s *SettingsService) Load(ctx context.Context) (domain.KioskSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := s.store.LoadSettings(ctx)
	if err != nil {
		s.logger.Warn("failed to load settings, keeping previous", zap.Error(err))
		return *s.current.Load(), fmt.Errorf("%w: load settings: %v", domain.ErrPersistence, err)
	}

	if stored == nil {
		defaults := domain.DefaultSettings()
		defaults.LastModified = time.Now()
		if err := s.store.SaveSettings(ctx, defaults); err != nil {
			s.logger.Warn("failed to materialize default settings", zap.Error(err))
		} else {
			s.logger.Info("default settings materialized")
		}
		s.current.Store(&defaults)
		return defaults, nil
	}

	if err := ValidateSettings(*stored); err != nil {
		s.logger.Warn("stored settings invalid, keeping previous", zap.Error(err))
		return *s.current.Load(), err
	}

	s.current.Store(stored)
	return *stored, nil
}

// Current returns the in-memory settings.
func (s *SettingsService) Current() domain.KioskSettings {
	return *s.current.Load()
}

// AutoWhitelistDialer reports the current auto-whitelist-dialer flag.
func (s *SettingsService) AutoWhitelistDialer() bool {
	return s.current.Load().AutoWhitelistDialer
}

// Update applies fn to a copy of the current settings, validates, persists and swaps.
func (s *SettingsService) Update(ctx context.Context, fn func(*domain.KioskSettings)) (domain.KioskSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := *s.current.Load()
	fn(&next)
	next.LastModified = time.Now()

	if err := ValidateSettings(next); err != nil {
		return *s.current.Load(), err
	}
	if err := s.store.SaveSettings(ctx, next); err != nil {
		return *s.current.Load(), fmt.Errorf("%w: save settings: %v", domain.ErrPersistence, err)
	}

	s.current.Store(&next)
	s.logger.Info("settings updated",
		zap.String("mode", string(next.BlockingMode)),
		zap.Duration("interval", next.MonitoringInterval))
	return next, nil
}

// ValidateSettings checks ranges and enum values.
func ValidateSettings(s domain.KioskSettings) error {
	if !s.BlockingMode.Valid() {
		return fmt.Errorf("%w: unknown blocking mode %q", domain.ErrInvalidSettings, s.BlockingMode)
	}
	if s.MonitoringInterval < domain.MinMonitoringInterval {
		return fmt.Errorf("%w: monitoring interval %s below %s",
			domain.ErrInvalidSettings, s.MonitoringInterval, domain.MinMonitoringInterval)
	}
	if s.ScreenOffRedirectDelay < 0 {
		return fmt.Errorf("%w: negative redirect delay", domain.ErrInvalidSettings)
	}
	return nil
}
