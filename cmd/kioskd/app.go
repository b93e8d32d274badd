package main

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/kioskd/internal/config"
	"github.com/eliteGoblin/kioskd/internal/daemon"
	"github.com/eliteGoblin/kioskd/internal/domain"
	"github.com/eliteGoblin/kioskd/internal/infra"
	"github.com/eliteGoblin/kioskd/internal/policy"
	"github.com/eliteGoblin/kioskd/internal/usecase"
)

// app holds the services shared by the CLI commands and the daemon.
type app struct {
	cfg      *config.Config
	paths    *infra.ExecModeConfig
	store    *infra.EncryptedStore
	sessions *usecase.SessionManager
	settings *usecase.SettingsService
	cache    *policy.Cache
	logger   *zap.Logger
}

// resolveConfigPath returns --config, or the exec-mode default location.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return infra.DetectExecMode().ConfigPath
}

// dataPaths applies the configured data_dir over the exec-mode default.
func dataPaths(cfg *config.Config) *infra.ExecModeConfig {
	paths := infra.DetectExecMode()
	if cfg.DataDir != "" {
		paths.DataDir = cfg.DataDir
	}
	return paths
}

// loadApp loads config and opens the store for a one-shot CLI command.
func loadApp() (*app, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, err
	}
	return openApp(cfg, dataPaths(cfg), cliLogger())
}

func openApp(cfg *config.Config, paths *infra.ExecModeConfig, logger *zap.Logger) (*app, error) {
	if err := os.MkdirAll(paths.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	var provider domain.KeyProvider = infra.NewFileKeyProvider(paths.KeyPath())
	if env := infra.NewEnvKeyProvider(); env != nil {
		provider = env
	}
	key, err := infra.EnsureKey(provider)
	if err != nil {
		return nil, fmt.Errorf("failed to get encryption key: %w", err)
	}

	store, err := infra.NewEncryptedStore(paths.DBPath(), key)
	if err != nil {
		return nil, err
	}

	settings := usecase.NewSettingsService(store, logger)
	a := &app{
		cfg:      cfg,
		paths:    paths,
		store:    store,
		sessions: usecase.NewSessionManager(store, logger),
		settings: settings,
		cache: policy.NewCache(store, policy.CacheConfig{
			SelfPackage:         cfg.SelfPackage,
			AlwaysAllow:         cfg.Policy.AlwaysAllow,
			EmergencyPackages:   cfg.Policy.EmergencyPackages,
			DialerAutoWhitelist: settings.AutoWhitelistDialer,
		}, logger),
		logger: logger,
	}
	return a, nil
}

// Close releases the store.
func (a *app) Close() error {
	return a.store.Close()
}

func (a *app) desktopConfig() infra.DesktopConfig {
	d := a.cfg.Device
	return infra.DesktopConfig{
		LockCommand:     d.LockCommand,
		LauncherCommand: d.LauncherCommand,
		OverlayCommand:  d.OverlayCommand,
		LockTaskCommand: d.LockTaskCommand,
		HapticCommand:   d.FeedbackCommand,
		CommandTimeout:  d.CommandTimeout.Duration,
	}
}

func (a *app) capabilityProbe() domain.CapabilityProbe {
	c := a.cfg.Capabilities
	overrides := infra.CapabilityOverrides{
		Overlay:     c.Overlay,
		DeviceAdmin: c.DeviceAdmin,
		DeviceOwner: c.DeviceOwner,
		LockTask:    c.LockTask,
	}
	if !c.Detect {
		return infra.NewFixedCapabilities(overrides)
	}
	return infra.NewCommandCapabilities(a.desktopConfig(), overrides)
}

func (a *app) instanceRegistry() *infra.FileInstanceRegistry {
	return infra.NewFileInstanceRegistry(a.paths.InstancePath(), infra.NewProcessManager())
}

// buildEngine wires the daemon. The returned cleanup hides any overlay left up.
func (a *app) buildEngine(version string) (*daemon.Engine, func()) {
	pm := infra.NewProcessManager()
	actions := infra.NewDesktopActions(a.desktopConfig(), pm, a.logger)
	probe := infra.NewX11Probe(pm)

	dispatcher := usecase.NewDispatcher(actions, a.store, usecase.DispatcherConfig{
		OverlayHold:    a.cfg.Monitor.OverlayHold.Duration,
		HapticDuration: 100 * time.Millisecond,
	}, a.logger).WithLabeler(infra.NewDesktopEntryLabeler())

	monitor := daemon.NewMonitor(
		daemon.MonitorConfig{
			EventCooldown:  a.cfg.Monitor.Cooldown.Duration,
			SystemPackages: a.cfg.Policy.AlwaysAllow,
		},
		a.sessions,
		a.cache,
		probe,
		a.capabilityProbe(),
		dispatcher,
		a.settings,
		a.logger,
	)

	deps := daemon.EngineDeps{
		Sessions:   a.sessions,
		Settings:   a.settings,
		Cache:      a.cache,
		Monitor:    monitor,
		Sync:       daemon.SyncerConfig{Interval: a.cfg.Monitor.SyncInterval.Duration},
		Watcher:    infra.NewStoreWatcher(a.paths.DBPath(), a.logger),
		Dispatcher: dispatcher,
		Instance:   a.instanceRegistry(),
		AppVersion: version,
		Mode:       string(a.paths.Mode),
	}
	if a.cfg.Monitor.Events {
		deps.Events = infra.NewXpropEventSource(probe, a.logger)
	}

	cleanup := func() {
		if err := actions.Close(); err != nil {
			a.logger.Warn("failed to close device actions", zap.Error(err))
		}
	}
	return daemon.NewEngine(deps, a.logger), cleanup
}
