package domain

import "errors"

var (
	// ErrCapabilityUnavailable means a permission is not granted or the host lacks the API.
	// Expected and non-fatal: the dispatcher escalates to the next weaker method.
	ErrCapabilityUnavailable = errors.New("capability unavailable")

	// ErrNoForeground means the foreground lookup returned nothing this tick.
	ErrNoForeground = errors.New("no foreground app")

	// ErrPersistence wraps every storage read/write failure surfaced by usecases.
	ErrPersistence = errors.New("persistence failure")

	// ErrActionFailed means an enforcement action ran but did not take effect.
	ErrActionFailed = errors.New("action failed")

	ErrInvalidDuration = errors.New("invalid session duration")
	ErrInvalidSettings = errors.New("invalid settings")
	ErrNotFound        = errors.New("not found")

	// ErrAlreadyRunning means another daemon holds the instance lock.
	ErrAlreadyRunning = errors.New("daemon already running")
)
