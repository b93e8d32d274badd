// Package domain contains core business entities and interfaces.
// This is the innermost layer - no external dependencies.
package domain

import (
	"strings"
	"time"
)

// NoLimit is returned by RemainingMillis for indefinite sessions.
const NoLimit int64 = -1

// Session is one enforcement period.
type Session struct {
	ID              int64
	StartTime       time.Time
	DurationMinutes int       // 0 means indefinite
	EndTime         time.Time // zero for indefinite sessions
	Active          bool
	Indefinite      bool
	CreatedAt       time.Time
}

// NewTimedSession builds an active session ending durationMinutes after now.
func NewTimedSession(now time.Time, durationMinutes int) Session {
	return Session{
		StartTime:       now,
		DurationMinutes: durationMinutes,
		EndTime:         now.Add(time.Duration(durationMinutes) * time.Minute),
		Active:          true,
		CreatedAt:       now,
	}
}

// NewIndefiniteSession builds an active session with no end.
func NewIndefiniteSession(now time.Time) Session {
	return Session{
		StartTime:  now,
		Active:     true,
		Indefinite: true,
		CreatedAt:  now,
	}
}

// IsExpired is true iff the session is timed and now >= end.
func (s Session) IsExpired(now time.Time) bool {
	if s.Indefinite {
		return false
	}
	return !now.Before(s.EndTime)
}

// RemainingMillis returns max(0, end-now), or NoLimit for indefinite sessions.
func (s Session) RemainingMillis(now time.Time) int64 {
	if s.Indefinite {
		return NoLimit
	}
	remaining := s.EndTime.Sub(now).Milliseconds()
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ElapsedMillis returns now-start.
func (s Session) ElapsedMillis(now time.Time) int64 {
	return now.Sub(s.StartTime).Milliseconds()
}

// ProgressPercentage returns 0-100 for timed sessions and always 0 for indefinite ones.
func (s Session) ProgressPercentage(now time.Time) int {
	if s.Indefinite {
		return 0
	}
	total := s.EndTime.Sub(s.StartTime)
	if total <= 0 {
		return 100
	}
	pct := int(float64(now.Sub(s.StartTime)) / float64(total) * 100)
	switch {
	case pct < 0:
		return 0
	case pct > 100:
		return 100
	}
	return pct
}

// SessionState is the published state of the session state machine.
type SessionState struct {
	Active  bool
	Session *Session // nil when idle
}

// WhitelistEntry is one allowed application identifier.
type WhitelistEntry struct {
	PackageName string
	DisplayName string
	Enabled     bool
	AddedAt     time.Time
}

// BlockingMode decides what happens when a disallowed app is detected.
type BlockingMode string

const (
	// ModeRedirect brings the kiosk surface back to the foreground.
	ModeRedirect BlockingMode = "REDIRECT"
	// ModeScreenOff locks the device.
	ModeScreenOff BlockingMode = "SCREEN_OFF"
	// ModeBoth locks the device, then redirects after a delay.
	ModeBoth BlockingMode = "BOTH"
)

// ParseBlockingMode parses a mode name case-insensitively.
func ParseBlockingMode(s string) (BlockingMode, bool) {
	m := BlockingMode(strings.ToUpper(strings.TrimSpace(s)))
	return m, m.Valid()
}

// Valid reports whether m is a known mode.
func (m BlockingMode) Valid() bool {
	switch m {
	case ModeRedirect, ModeScreenOff, ModeBoth:
		return true
	}
	return false
}

// LocksScreen reports whether the mode asks for a device lock.
func (m BlockingMode) LocksScreen() bool {
	return m == ModeScreenOff || m == ModeBoth
}

// Redirects reports whether the mode asks for a redirect.
func (m BlockingMode) Redirects() bool {
	return m == ModeRedirect || m == ModeBoth
}

// KioskSettings is the single mutable configuration row.
type KioskSettings struct {
	BlockingMode           BlockingMode
	ScreenOffEnabled       bool
	AutoWhitelistDialer    bool
	MonitoringInterval     time.Duration
	VibrateOnBlock         bool
	ShowOverlay            bool
	ScreenOffRedirectDelay time.Duration
	LastModified           time.Time
}

const (
	DefaultMonitoringInterval     = 50 * time.Millisecond
	MinMonitoringInterval         = 10 * time.Millisecond
	DefaultScreenOffRedirectDelay = 500 * time.Millisecond
)

// DefaultSettings returns the settings materialized when none are stored.
func DefaultSettings() KioskSettings {
	return KioskSettings{
		BlockingMode:           ModeBoth,
		ScreenOffEnabled:       true,
		AutoWhitelistDialer:    true,
		MonitoringInterval:     DefaultMonitoringInterval,
		VibrateOnBlock:         true,
		ShowOverlay:            true,
		ScreenOffRedirectDelay: DefaultScreenOffRedirectDelay,
	}
}

// BlockEvent is the immutable audit record of one dispatch.
type BlockEvent struct {
	ID          string
	PackageName string
	DisplayName string
	SessionID   int64 // 0 when no session was active
	Timestamp   time.Time
	ActionTaken BlockingMode
}

// Capabilities is a snapshot of what the host currently allows the engine to do.
type Capabilities struct {
	HasOverlay        bool
	HasDeviceAdmin    bool
	IsDeviceOwner     bool
	LockTaskSupported bool
}

// EnforcementTier names a rung of the capability ladder.
type EnforcementTier string

const (
	TierDeviceOwner EnforcementTier = "device-owner"
	TierDeviceAdmin EnforcementTier = "device-admin"
	TierOverlay     EnforcementTier = "overlay"
	TierRedirect    EnforcementTier = "redirect"
)

// Tier returns the strongest enforcement tier the capabilities support.
func (c Capabilities) Tier() EnforcementTier {
	switch {
	case c.IsDeviceOwner && c.LockTaskSupported:
		return TierDeviceOwner
	case c.HasDeviceAdmin:
		return TierDeviceAdmin
	case c.HasOverlay:
		return TierOverlay
	}
	return TierRedirect
}

// ActionKind tags one enforcement action in a dispatch.
type ActionKind string

const (
	ActionOverlay    ActionKind = "overlay"
	ActionScreenLock ActionKind = "screen-lock"
	ActionLockTask   ActionKind = "lock-task"
	ActionKill       ActionKind = "kill"
	ActionRedirect   ActionKind = "redirect"
	ActionHaptic     ActionKind = "haptic"
)

// Instance describes the running daemon, persisted for the status command.
type Instance struct {
	PID        int       `json:"pid"`
	StartedAt  time.Time `json:"started_at"`
	AppVersion string    `json:"app_version,omitempty"`
	Mode       string    `json:"mode,omitempty"` // "user" or "system"
}
