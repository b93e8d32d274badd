package infra

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/eliteGoblin/kioskd/internal/domain"
)

// FileInstanceRegistry implements domain.InstanceRegistry with a JSON
// instance file guarded by an flock held for the daemon's lifetime.
type FileInstanceRegistry struct {
	path           string
	lockPath       string
	processManager domain.ProcessManager

	mu   sync.Mutex
	lock *os.File
}

// NewFileInstanceRegistry creates a registry whose instance file is path.
func NewFileInstanceRegistry(path string, pm domain.ProcessManager) *FileInstanceRegistry {
	return &FileInstanceRegistry{
		path:           path,
		lockPath:       path + ".lock",
		processManager: pm,
	}
}

// Path returns the instance file path.
func (r *FileInstanceRegistry) Path() string {
	return r.path
}

// Acquire takes the instance lock and records inst.
func (r *FileInstanceRegistry) Acquire(inst domain.Instance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lock != nil {
		return fmt.Errorf("%w: lock already held by this process", domain.ErrAlreadyRunning)
	}

	if err := os.MkdirAll(filepath.Dir(r.path), 0700); err != nil {
		return fmt.Errorf("failed to create instance directory: %w", err)
	}
	f, err := os.OpenFile(r.lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("failed to open lock file: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			if other, _ := r.read(); other != nil {
				return fmt.Errorf("%w: pid %d", domain.ErrAlreadyRunning, other.PID)
			}
			return domain.ErrAlreadyRunning
		}
		return fmt.Errorf("failed to acquire lock: %w", err)
	}

	if err := r.atomicWrite(inst); err != nil {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
		return err
	}
	r.lock = f
	return nil
}

// Release removes the instance file and drops the lock.
func (r *FileInstanceRegistry) Release() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lock == nil {
		return nil
	}

	err := os.Remove(r.path)
	if errors.Is(err, os.ErrNotExist) {
		err = nil
	}
	_ = unix.Flock(int(r.lock.Fd()), unix.LOCK_UN)
	r.lock.Close()
	r.lock = nil
	return err
}

// Get returns the recorded instance, or nil if none.
func (r *FileInstanceRegistry) Get() (*domain.Instance, error) {
	return r.read()
}

// IsAlive reports whether a daemon currently holds the lock and its pid runs.
// A stale instance file left by a crash reports false.
func (r *FileInstanceRegistry) IsAlive() (bool, error) {
	inst, err := r.read()
	if err != nil || inst == nil {
		return false, err
	}
	if !r.lockHeld() {
		return false, nil
	}
	return r.processManager.IsRunning(inst.PID), nil
}

// lockHeld probes the lock without taking it.
func (r *FileInstanceRegistry) lockHeld() bool {
	r.mu.Lock()
	own := r.lock != nil
	r.mu.Unlock()
	if own {
		return true
	}

	f, err := os.Open(r.lockPath)
	if err != nil {
		return false
	}
	defer f.Close()
	if err := unix.Flock(int(f.Fd()), unix.LOCK_SH|unix.LOCK_NB); err != nil {
		return errors.Is(err, unix.EWOULDBLOCK)
	}
	_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
	return false
}

func (r *FileInstanceRegistry) read() (*domain.Instance, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var inst domain.Instance
	if err := json.Unmarshal(data, &inst); err != nil {
		return nil, err
	}
	return &inst, nil
}

// atomicWrite writes the instance file atomically (write + rename).
func (r *FileInstanceRegistry) atomicWrite(inst domain.Instance) error {
	data, err := json.Marshal(inst)
	if err != nil {
		return err
	}

	tmpPath := fmt.Sprintf("%s.%d.tmp", r.path, os.Getpid())
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, r.path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// Ensure FileInstanceRegistry implements domain.InstanceRegistry.
var _ domain.InstanceRegistry = (*FileInstanceRegistry)(nil)
