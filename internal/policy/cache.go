package policy

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/kioskd/internal/domain"
)

// CacheConfig holds the rule sets layered over the stored whitelist.
type CacheConfig struct {
	SelfPackage       string
	AlwaysAllow       []string // extra packages allowed in addition to SystemPackages
	EmergencyPackages []string // extra dialers in addition to EmergencyPackages

	// DialerAutoWhitelist reports the current auto-whitelist-dialer setting.
	// Nil means off.
	DialerAutoWhitelist func() bool
}

// snapshot is immutable once published.
type snapshot struct {
	allowed  map[string]struct{}
	loadedAt time.Time
}

// Cache answers "is this package allowed right now" without touching the
// store on the hot path. Refresh swaps an immutable snapshot behind an
// atomic pointer, so lookups never lock and never observe a partial set.
type Cache struct {
	store       domain.WhitelistStore
	config      CacheConfig
	alwaysAllow map[string]struct{}
	emergency   map[string]struct{}
	current     atomic.Pointer[snapshot]
	logger      *zap.Logger
}

// NewCache creates a cache with an empty snapshot. Call Refresh before use.
func NewCache(store domain.WhitelistStore, config CacheConfig, logger *zap.Logger) *Cache {
	if config.SelfPackage == "" {
		config.SelfPackage = DefaultSelfPackage
	}
	c := &Cache{
		store:       store,
		config:      config,
		alwaysAllow: toSet(SystemPackages, config.AlwaysAllow, []string{config.SelfPackage}),
		emergency:   toSet(EmergencyPackages, config.EmergencyPackages),
		logger:      logger,
	}
	c.current.Store(&snapshot{allowed: map[string]struct{}{}})
	return c
}

// Refresh loads a fresh snapshot and publishes it atomically.
// On failure the previous snapshot stays in place: a stale allow is
// preferred over a stale deny that could block the launcher.
func (c *Cache) Refresh(ctx context.Context) error {
	entries, err := c.store.LoadWhitelistSnapshot(ctx)
	if err != nil {
		c.logger.Warn("whitelist refresh failed, keeping previous snapshot",
			zap.Int("cached", c.Count()),
			zap.Error(err))
		return fmt.Errorf("%w: load whitelist: %v", domain.ErrPersistence, err)
	}

	allowed := make(map[string]struct{}, len(entries)+len(DialerPackages))
	for _, e := range entries {
		if e.Enabled {
			allowed[e.PackageName] = struct{}{}
		}
	}
	if c.config.DialerAutoWhitelist != nil && c.config.DialerAutoWhitelist() {
		for _, p := range DialerPackages {
			allowed[p] = struct{}{}
		}
	}

	c.current.Store(&snapshot{allowed: allowed, loadedAt: time.Now()})
	c.logger.Debug("whitelist refreshed", zap.Int("allowed", len(allowed)))
	return nil
}

// IsAllowed is true for always-allowed packages and enabled whitelist entries.
func (c *Cache) IsAllowed(pkg string) bool {
	if _, ok := c.alwaysAllow[pkg]; ok {
		return true
	}
	if IsSystemPackage(pkg, c.config.SelfPackage) {
		return true
	}
	_, ok := c.current.Load().allowed[pkg]
	return ok
}

// IsEmergencyExempt is true for dialer/phone identifiers. It ignores the
// whitelist and cannot be disabled.
func (c *Cache) IsEmergencyExempt(pkg string) bool {
	if _, ok := c.emergency[pkg]; ok {
		return true
	}
	return matchesEmergencyKeyword(pkg)
}

// ShouldBlock is !IsEmergencyExempt && !IsAllowed.
func (c *Cache) ShouldBlock(pkg string) bool {
	return !c.IsEmergencyExempt(pkg) && !c.IsAllowed(pkg)
}

// Count returns the number of packages in the current snapshot.
func (c *Cache) Count() int {
	return len(c.current.Load().allowed)
}

// LoadedAt returns when the current snapshot was published (zero if never).
func (c *Cache) LoadedAt() time.Time {
	return c.current.Load().loadedAt
}

// SelfPackage returns the kiosk's own identifier.
func (c *Cache) SelfPackage() string {
	return c.config.SelfPackage
}
