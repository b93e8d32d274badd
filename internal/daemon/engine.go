package daemon

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/kioskd/internal/domain"
)

// SessionSource publishes session state changes and reloads them from the store.
type SessionSource interface {
	SessionLoader
	Subscribe(fn func(domain.SessionState))
}

// ChangeWatcher calls notify whenever the backing store is modified.
type ChangeWatcher interface {
	Run(ctx context.Context, notify func()) error
}

// Waiter is implemented by components with in-flight background work.
type Waiter interface {
	Wait()
}

// EngineDeps are the collaborators the engine wires together.
type EngineDeps struct {
	Sessions   SessionSource
	Settings   SettingsLoader
	Cache      CacheRefresher
	Monitor    *Monitor
	Sync       SyncerConfig
	Events     domain.WindowEventSource // optional
	Watcher    ChangeWatcher            // optional
	Dispatcher Waiter                   // optional
	Instance   domain.InstanceRegistry  // optional
	AppVersion string
	Mode       string
}

// Engine is the long-running enforcement process. It starts the monitor
// whenever a session becomes active and stops it when the session ends.
type Engine struct {
	deps   EngineDeps
	logger *zap.Logger
}

// NewEngine creates an engine.
func NewEngine(deps EngineDeps, logger *zap.Logger) *Engine {
	return &Engine{deps: deps, logger: logger}
}

// Run blocks until ctx is canceled.
func (e *Engine) Run(ctx context.Context) error {
	if e.deps.Instance != nil {
		inst := domain.Instance{
			PID:        os.Getpid(),
			StartedAt:  time.Now(),
			AppVersion: e.deps.AppVersion,
			Mode:       e.deps.Mode,
		}
		if err := e.deps.Instance.Acquire(inst); err != nil {
			e.logger.Error("failed to acquire instance lock", zap.Error(err))
			return err
		}
		defer func() {
			if err := e.deps.Instance.Release(); err != nil {
				e.logger.Warn("failed to release instance lock", zap.Error(err))
			}
		}()
	}

	e.logger.Info("engine started", zap.Int("pid", os.Getpid()))

	monitor := e.deps.Monitor
	e.deps.Sessions.Subscribe(func(state domain.SessionState) {
		if state.Active {
			monitor.Start(ctx)
		} else {
			monitor.Stop()
		}
	})

	var wg sync.WaitGroup
	changes := make(chan struct{}, 1)

	if e.deps.Watcher != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := e.deps.Watcher.Run(ctx, func() {
				select {
				case changes <- struct{}{}:
				default:
				}
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				e.logger.Warn("store watcher stopped, relying on periodic sync", zap.Error(err))
			}
		}()
	}

	if e.deps.Events != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := e.deps.Events.Watch(ctx, func(pkg string) {
				monitor.HandleWindowEvent(ctx, pkg)
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				e.logger.Warn("window event source stopped, polling only", zap.Error(err))
			}
		}()
	}

	syncer := NewSyncer(e.deps.Sync, e.deps.Settings, e.deps.Cache, e.deps.Sessions, changes, e.logger)
	err := syncer.Run(ctx)

	monitor.Stop()
	monitor.Wait()
	wg.Wait()
	if e.deps.Dispatcher != nil {
		e.deps.Dispatcher.Wait()
	}

	e.logger.Info("engine stopped")
	return err
}
