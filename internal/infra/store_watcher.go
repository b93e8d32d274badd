package infra

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce coalesces bursts of writes from one transaction.
const DefaultDebounce = 100 * time.Millisecond

// StoreWatcher reports modifications of the encrypted database made by
// other processes (the CLI writing whitelist entries, sessions, settings).
type StoreWatcher struct {
	dbPath   string
	debounce time.Duration
	logger   *zap.Logger
}

// NewStoreWatcher watches the database at dbPath.
func NewStoreWatcher(dbPath string, logger *zap.Logger) *StoreWatcher {
	return &StoreWatcher{dbPath: dbPath, debounce: DefaultDebounce, logger: logger}
}

// WithDebounce overrides the debounce window.
func (w *StoreWatcher) WithDebounce(d time.Duration) *StoreWatcher {
	w.debounce = d
	return w
}

// Run calls notify after each burst of database writes until ctx is canceled.
// The directory is watched rather than the file so journal files and
// recreated databases are seen.
func (w *StoreWatcher) Run(ctx context.Context, notify func()) error {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fsWatcher.Close()

	dir := filepath.Dir(w.dbPath)
	if err := fsWatcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	w.logger.Debug("store watcher started", zap.String("dir", dir))

	timer := time.NewTimer(w.debounce)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()

		case event, ok := <-fsWatcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			if !w.isStoreFile(event.Name) {
				continue
			}
			timer.Reset(w.debounce)

		case <-timer.C:
			notify()

		case err, ok := <-fsWatcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("store watcher error", zap.Error(err))
		}
	}
}

// isStoreFile matches the database and its -wal/-journal/-shm siblings.
func (w *StoreWatcher) isStoreFile(path string) bool {
	base := filepath.Base(w.dbPath)
	name := filepath.Base(path)
	return name == base || strings.HasPrefix(name, base+"-")
}
