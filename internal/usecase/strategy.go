package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/eliteGoblin/kioskd/internal/domain"
)

// errNotApplicable marks a strategy that the configured mode does not ask for.
// Unlike ErrCapabilityUnavailable it is not recorded as an attempt.
var errNotApplicable = errors.New("not applicable")

// BlockStrategy is one rung of the enforcement ladder.
// Strategies are evaluated in ladder order against the per-dispatch state.
type BlockStrategy interface {
	// Kind identifies the action in reports and logs.
	Kind() domain.ActionKind

	// Check returns nil if the strategy should run, errNotApplicable if the mode
	// does not ask for it, or an error wrapping domain.ErrCapabilityUnavailable.
	Check(d *dispatch) error

	// Execute performs the action.
	Execute(ctx context.Context, actions domain.DeviceActions, d *dispatch) error
}

// DefaultLadder returns the escalation order: mask the screen instantly,
// lock the device, re-pin the kiosk task, kill the app, then redirect.
// Redirect runs last so it can observe whether the lock took effect.
func DefaultLadder() []BlockStrategy {
	return []BlockStrategy{
		overlayStrategy{},
		screenLockStrategy{},
		lockTaskStrategy{},
		killStrategy{},
		redirectStrategy{},
	}
}

// overlayStrategy shows a full-screen mask at the instant of detection.
type overlayStrategy struct{}

func (overlayStrategy) Kind() domain.ActionKind { return domain.ActionOverlay }

func (overlayStrategy) Check(d *dispatch) error {
	if !d.req.Settings.ShowOverlay {
		return errNotApplicable
	}
	if !d.req.Capabilities.HasOverlay {
		return fmt.Errorf("%w: overlay permission", domain.ErrCapabilityUnavailable)
	}
	return nil
}

func (overlayStrategy) Execute(ctx context.Context, actions domain.DeviceActions, d *dispatch) error {
	if err := actions.ShowOverlay(ctx, d.req.PackageName); err != nil {
		return err
	}
	d.overlayShown = true
	return nil
}

// screenLockStrategy locks the device (display off). Needs device admin.
type screenLockStrategy struct{}

func (screenLockStrategy) Kind() domain.ActionKind { return domain.ActionScreenLock }

func (screenLockStrategy) Check(d *dispatch) error {
	if !d.req.Settings.BlockingMode.LocksScreen() || !d.req.Settings.ScreenOffEnabled {
		return errNotApplicable
	}
	if !d.req.Capabilities.HasDeviceAdmin {
		return fmt.Errorf("%w: device admin", domain.ErrCapabilityUnavailable)
	}
	return nil
}

func (screenLockStrategy) Execute(ctx context.Context, actions domain.DeviceActions, d *dispatch) error {
	if err := actions.LockDevice(ctx); err != nil {
		return err
	}
	d.locked = true
	return nil
}

// lockTaskStrategy re-asserts the pinned kiosk task when the host is device owner.
type lockTaskStrategy struct{}

func (lockTaskStrategy) Kind() domain.ActionKind { return domain.ActionLockTask }

func (lockTaskStrategy) Check(d *dispatch) error {
	c := d.req.Capabilities
	if !c.IsDeviceOwner || !c.LockTaskSupported {
		return errNotApplicable
	}
	return nil
}

func (lockTaskStrategy) Execute(ctx context.Context, actions domain.DeviceActions, d *dispatch) error {
	return actions.PinLockTask(ctx)
}

// killStrategy terminates the blocked app's processes. Always attempted;
// the host reports ErrCapabilityUnavailable when it cannot kill.
type killStrategy struct{}

func (killStrategy) Kind() domain.ActionKind { return domain.ActionKill }

func (killStrategy) Check(d *dispatch) error { return nil }

func (killStrategy) Execute(ctx context.Context, actions domain.DeviceActions, d *dispatch) error {
	return actions.KillApp(ctx, d.req.PackageName)
}

// redirectStrategy foregrounds the kiosk surface. It runs for REDIRECT/BOTH,
// and as the fallback whenever a requested lock did not happen. In BOTH mode
// after a successful lock it is deferred by the redirect delay.
type redirectStrategy struct{}

func (redirectStrategy) Kind() domain.ActionKind { return domain.ActionRedirect }

func (redirectStrategy) Check(d *dispatch) error {
	mode := d.req.Settings.BlockingMode
	if mode.Redirects() || !d.locked {
		return nil
	}
	return errNotApplicable
}

func (redirectStrategy) Execute(ctx context.Context, actions domain.DeviceActions, d *dispatch) error {
	delay := d.req.Settings.ScreenOffRedirectDelay
	if d.req.Settings.BlockingMode == domain.ModeBoth && d.locked && delay > 0 {
		d.schedule(delay, domain.ActionRedirect, actions.BringToFront)
		d.overlayHandled = true
		return nil
	}

	err := actions.BringToFront(ctx)
	d.overlayHandled = true
	d.hideOverlayNow(ctx)
	return err
}
