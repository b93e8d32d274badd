package domain

import (
	"context"
	"time"
)

// SessionStore persists sessions.
type SessionStore interface {
	// SaveSession inserts a session and returns its assigned ID.
	SaveSession(ctx context.Context, s Session) (int64, error)

	// DeactivateSession marks one session inactive.
	DeactivateSession(ctx context.Context, id int64) error

	// DeactivateAllSessions marks every session inactive.
	DeactivateAllSessions(ctx context.Context) error

	// LoadActiveSession returns the active session, or nil if there is none.
	LoadActiveSession(ctx context.Context) (*Session, error)

	// SessionHistory returns the most recent sessions, newest first.
	SessionHistory(ctx context.Context, limit int) ([]Session, error)
}

// WhitelistStore persists whitelist entries.
type WhitelistStore interface {
	// LoadWhitelistSnapshot returns every entry, enabled or not.
	LoadWhitelistSnapshot(ctx context.Context) ([]WhitelistEntry, error)

	// UpsertWhitelistEntry adds or replaces an entry keyed by package name.
	UpsertWhitelistEntry(ctx context.Context, e WhitelistEntry) error

	// RemoveWhitelistEntry deletes an entry. Returns ErrNotFound if absent.
	RemoveWhitelistEntry(ctx context.Context, packageName string) error

	// SetWhitelistEnabled toggles an entry. Returns ErrNotFound if absent.
	SetWhitelistEnabled(ctx context.Context, packageName string, enabled bool) error
}

// SettingsStore persists the single settings row.
type SettingsStore interface {
	// LoadSettings returns the stored settings, or nil if none were saved yet.
	LoadSettings(ctx context.Context) (*KioskSettings, error)

	SaveSettings(ctx context.Context, s KioskSettings) error
}

// BlockEventStore is the append-only audit log.
type BlockEventStore interface {
	AppendBlockEvent(ctx context.Context, e BlockEvent) error

	// RecentBlockEvents returns the newest events first.
	RecentBlockEvents(ctx context.Context, limit int) ([]BlockEvent, error)

	// BlockCount returns how many times a package was blocked.
	BlockCount(ctx context.Context, packageName string) (int, error)

	// PruneBlockEventsBefore deletes events older than ts (CLI retention only).
	PruneBlockEventsBefore(ctx context.Context, ts time.Time) (int64, error)
}

// Store is the full persistence collaborator.
type Store interface {
	SessionStore
	WhitelistStore
	SettingsStore
	BlockEventStore

	// Close releases resources (e.g., database connection).
	Close() error
}

// ForegroundProbe reports the app currently owning focus.
type ForegroundProbe interface {
	// ForegroundApp returns the focused package, or an error wrapping ErrNoForeground.
	ForegroundApp(ctx context.Context) (string, error)
}

// WindowEventSource delivers focus-change notifications asynchronously.
type WindowEventSource interface {
	// Watch calls fn for every focus change until ctx is canceled.
	Watch(ctx context.Context, fn func(packageName string)) error
}

// AppLabeler resolves a package identifier to its human-readable name.
type AppLabeler interface {
	// AppLabel returns the label for pkg, or an error if none is known.
	AppLabel(ctx context.Context, pkg string) (string, error)
}

// CapabilityProbe supplies the current capability snapshot.
type CapabilityProbe interface {
	Capabilities() Capabilities
}

// DeviceActions are the host's enforcement primitives.
// Each call returns an error instead of panicking; ErrCapabilityUnavailable
// means the primitive cannot run on this host.
type DeviceActions interface {
	// LockDevice turns the display off / locks the session immediately.
	LockDevice(ctx context.Context) error

	// PinLockTask re-asserts the pinned kiosk task (device-owner lock task).
	PinLockTask(ctx context.Context) error

	// BringToFront foregrounds the kiosk surface, clearing the blocked app's task stack.
	BringToFront(ctx context.Context) error

	// ShowOverlay masks the screen instantly. Every successful call must be
	// paired with one HideOverlay; the mask stays up until the last pair ends.
	ShowOverlay(ctx context.Context, packageName string) error

	// HideOverlay releases one ShowOverlay.
	HideOverlay(ctx context.Context) error

	// KillApp terminates the app's processes/tasks.
	KillApp(ctx context.Context, packageName string) error

	// Vibrate issues a short haptic pulse.
	Vibrate(ctx context.Context, d time.Duration) error
}

// ProcessManager handles OS process operations.
// Implementation: uses gopsutil for cross-platform support.
type ProcessManager interface {
	// FindByName returns PIDs whose process name equals name (case-insensitive).
	FindByName(name string) ([]int, error)

	// NameOf returns the process name for a PID.
	NameOf(pid int) (string, error)

	// Kill terminates a process by PID (SIGKILL).
	Kill(pid int) error

	// IsRunning checks if a PID exists and is running.
	IsRunning(pid int) bool

	// GetCurrentPID returns the current process PID.
	GetCurrentPID() int
}

// InstanceRegistry records the single running daemon.
type InstanceRegistry interface {
	// Acquire takes the instance lock and records inst. Fails if another daemon holds it.
	Acquire(inst Instance) error

	// Release drops the lock and removes the record.
	Release() error

	// Get returns the recorded instance, or nil if none.
	Get() (*Instance, error)

	// IsAlive reports whether the recorded instance's process is running.
	IsAlive() (bool, error)
}

// KeyProvider abstracts the source of encryption keys.
type KeyProvider interface {
	// GetKey returns the encryption key bytes.
	GetKey() ([]byte, error)

	// StoreKey persists a new encryption key.
	StoreKey(key []byte) error

	// KeyExists checks if a key has been generated.
	KeyExists() bool
}

// ServiceManager installs the daemon as a supervised system service.
type ServiceManager interface {
	// Install writes the unit for execPath and enables it.
	Install(execPath string) error

	// Uninstall disables and removes the unit.
	Uninstall() error

	// IsInstalled checks if the unit file exists.
	IsInstalled() bool

	// NeedsUpdate reports whether the installed unit differs from what execPath would produce.
	NeedsUpdate(execPath string) bool

	// UnitPath returns the unit file path.
	UnitPath() string
}
