package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eliteGoblin/kioskd/internal/domain"
)

var allCaps = domain.Capabilities{HasOverlay: true, HasDeviceAdmin: true}

func newTestDispatcher(actions *mockActions, events *mockEventStore) *Dispatcher {
	return NewDispatcher(actions, events, DispatcherConfig{
		OverlayHold:    10 * time.Millisecond,
		HapticDuration: time.Millisecond,
	}, zap.NewNop())
}

func settingsFor(mode domain.BlockingMode) domain.KioskSettings {
	s := domain.DefaultSettings()
	s.BlockingMode = mode
	s.ScreenOffRedirectDelay = 20 * time.Millisecond
	return s
}

func TestDispatcher_DefaultLadderOrder(t *testing.T) {
	d := newTestDispatcher(&mockActions{}, &mockEventStore{})
	assert.Equal(t, []domain.ActionKind{
		domain.ActionOverlay,
		domain.ActionScreenLock,
		domain.ActionLockTask,
		domain.ActionKill,
		domain.ActionRedirect,
	}, d.Ladder())
}

func TestDispatcher_RedirectMode(t *testing.T) {
	actions := &mockActions{}
	events := &mockEventStore{}
	d := newTestDispatcher(actions, events)

	report := d.Dispatch(context.Background(), DispatchRequest{
		PackageName:  "com.game.x",
		Settings:     settingsFor(domain.ModeRedirect),
		Capabilities: allCaps,
	})
	d.Wait()

	assert.Equal(t, []string{"overlay", "kill", "front", "hide", "vibrate"}, actions.Calls())
	assert.False(t, report.Attempted(domain.ActionScreenLock), "REDIRECT mode never locks")
	assert.True(t, report.Succeeded(domain.ActionRedirect))
	assert.Equal(t, 1, events.count())
	assert.Equal(t, domain.ModeRedirect, report.Event.ActionTaken)
}

func TestDispatcher_ScreenOffMode(t *testing.T) {
	actions := &mockActions{}
	events := &mockEventStore{}
	d := newTestDispatcher(actions, events)

	report := d.Dispatch(context.Background(), DispatchRequest{
		PackageName:  "com.game.x",
		Settings:     settingsFor(domain.ModeScreenOff),
		Capabilities: allCaps,
	})
	d.Wait()

	assert.Equal(t, []string{"overlay", "lock", "kill", "vibrate", "hide"}, actions.Calls(),
		"overlay is hidden after the hold since no redirect runs")
	assert.True(t, report.Succeeded(domain.ActionScreenLock))
	assert.False(t, report.Attempted(domain.ActionRedirect))
	assert.Equal(t, 1, events.count())
}

func TestDispatcher_ScreenOffFallsBackToRedirectWithoutAdmin(t *testing.T) {
	actions := &mockActions{}
	events := &mockEventStore{}
	d := newTestDispatcher(actions, events)

	report := d.Dispatch(context.Background(), DispatchRequest{
		PackageName:  "com.game.x",
		Settings:     settingsFor(domain.ModeScreenOff),
		Capabilities: domain.Capabilities{HasOverlay: true},
	})
	d.Wait()

	assert.NotContains(t, actions.Calls(), "lock")
	assert.Contains(t, actions.Calls(), "front")
	assert.False(t, report.Attempted(domain.ActionScreenLock))

	var lockErr error
	for _, a := range report.Attempts {
		if a.Kind == domain.ActionScreenLock {
			lockErr = a.Err
		}
	}
	assert.ErrorIs(t, lockErr, domain.ErrCapabilityUnavailable)
	assert.Equal(t, 1, events.count())
}

func TestDispatcher_ScreenOffFallsBackWhenLockFails(t *testing.T) {
	actions := &mockActions{fail: map[string]error{"lock": errMockAction}}
	events := &mockEventStore{}
	d := newTestDispatcher(actions, events)

	report := d.Dispatch(context.Background(), DispatchRequest{
		PackageName:  "com.game.x",
		Settings:     settingsFor(domain.ModeScreenOff),
		Capabilities: allCaps,
	})
	d.Wait()

	assert.True(t, report.Attempted(domain.ActionScreenLock))
	assert.False(t, report.Succeeded(domain.ActionScreenLock))
	assert.True(t, report.Succeeded(domain.ActionRedirect))
	assert.Equal(t, 1, events.count())
}

func TestDispatcher_ScreenOffDisabledSetting(t *testing.T) {
	actions := &mockActions{}
	d := newTestDispatcher(actions, &mockEventStore{})

	s := settingsFor(domain.ModeScreenOff)
	s.ScreenOffEnabled = false
	d.Dispatch(context.Background(), DispatchRequest{
		PackageName:  "com.game.x",
		Settings:     s,
		Capabilities: allCaps,
	})
	d.Wait()

	assert.NotContains(t, actions.Calls(), "lock")
	assert.Contains(t, actions.Calls(), "front")
}

func TestDispatcher_BothModeDefersRedirect(t *testing.T) {
	actions := &mockActions{}
	events := &mockEventStore{}
	d := newTestDispatcher(actions, events)

	report := d.Dispatch(context.Background(), DispatchRequest{
		PackageName:  "com.game.x",
		Settings:     settingsFor(domain.ModeBoth),
		Capabilities: allCaps,
	})

	assert.NotContains(t, actions.Calls(), "front", "redirect waits for the delay")
	assert.Equal(t, 1, events.count())

	var deferred bool
	for _, a := range report.Attempts {
		if a.Kind == domain.ActionRedirect {
			deferred = a.Deferred
		}
	}
	assert.True(t, deferred)

	d.Wait()
	assert.Equal(t, []string{"overlay", "lock", "kill", "vibrate", "front", "hide"}, actions.Calls())
}

func TestDispatcher_BothModeDeferredRedirectSurvivesCancel(t *testing.T) {
	actions := &mockActions{}
	d := newTestDispatcher(actions, &mockEventStore{})

	ctx, cancel := context.WithCancel(context.Background())
	d.Dispatch(ctx, DispatchRequest{
		PackageName:  "com.game.x",
		Settings:     settingsFor(domain.ModeBoth),
		Capabilities: allCaps,
	})
	cancel()
	d.Wait()

	assert.Contains(t, actions.Calls(), "front")
}

func TestDispatcher_BothModeZeroDelayRedirectsImmediately(t *testing.T) {
	actions := &mockActions{}
	d := newTestDispatcher(actions, &mockEventStore{})

	s := settingsFor(domain.ModeBoth)
	s.ScreenOffRedirectDelay = 0
	d.Dispatch(context.Background(), DispatchRequest{
		PackageName:  "com.game.x",
		Settings:     s,
		Capabilities: allCaps,
	})

	assert.Equal(t, []string{"overlay", "lock", "kill", "front", "hide", "vibrate"}, actions.Calls())
	d.Wait()
}

func TestDispatcher_BothModeWithoutAdminRedirectsNow(t *testing.T) {
	actions := &mockActions{}
	d := newTestDispatcher(actions, &mockEventStore{})

	d.Dispatch(context.Background(), DispatchRequest{
		PackageName:  "com.game.x",
		Settings:     settingsFor(domain.ModeBoth),
		Capabilities: domain.Capabilities{},
	})

	assert.Equal(t, []string{"kill", "front", "vibrate"}, actions.Calls())
	d.Wait()
}

func TestDispatcher_DeviceOwnerPinsLockTask(t *testing.T) {
	actions := &mockActions{}
	d := newTestDispatcher(actions, &mockEventStore{})

	report := d.Dispatch(context.Background(), DispatchRequest{
		PackageName: "com.game.x",
		Settings:    settingsFor(domain.ModeRedirect),
		Capabilities: domain.Capabilities{
			HasOverlay:        true,
			IsDeviceOwner:     true,
			LockTaskSupported: true,
		},
	})
	d.Wait()

	assert.True(t, report.Succeeded(domain.ActionLockTask))
	assert.Contains(t, actions.Calls(), "locktask")
}

func TestDispatcher_AllActionsFailStillRecordsOneEvent(t *testing.T) {
	actions := &mockActions{fail: map[string]error{
		"overlay": errMockAction,
		"lock":    errMockAction,
		"kill":    errMockAction,
		"front":   errMockAction,
		"vibrate": errMockAction,
	}}
	events := &mockEventStore{}
	d := newTestDispatcher(actions, events)

	report := d.Dispatch(context.Background(), DispatchRequest{
		PackageName:  "com.game.x",
		Settings:     settingsFor(domain.ModeBoth),
		Capabilities: allCaps,
	})
	d.Wait()

	assert.Equal(t, 1, events.count())
	assert.NoError(t, report.LogErr)
	assert.NotContains(t, actions.Calls(), "hide", "overlay never showed")
}

func TestDispatcher_PanickingActionIsIsolated(t *testing.T) {
	actions := &mockActions{panic: map[string]bool{"kill": true}}
	events := &mockEventStore{}
	d := newTestDispatcher(actions, events)

	var report DispatchReport
	require.NotPanics(t, func() {
		report = d.Dispatch(context.Background(), DispatchRequest{
			PackageName:  "com.game.x",
			Settings:     settingsFor(domain.ModeRedirect),
			Capabilities: allCaps,
		})
	})
	d.Wait()

	for _, a := range report.Attempts {
		if a.Kind == domain.ActionKill {
			assert.ErrorIs(t, a.Err, domain.ErrActionFailed)
		}
	}
	assert.True(t, report.Succeeded(domain.ActionRedirect), "later steps still run")
	assert.Equal(t, 1, events.count())
}

func TestDispatcher_HapticFailureSwallowed(t *testing.T) {
	actions := &mockActions{fail: map[string]error{"vibrate": errors.New("no motor")}}
	events := &mockEventStore{}
	d := newTestDispatcher(actions, events)

	report := d.Dispatch(context.Background(), DispatchRequest{
		PackageName:  "com.game.x",
		Settings:     settingsFor(domain.ModeRedirect),
		Capabilities: allCaps,
	})
	d.Wait()

	assert.False(t, report.Succeeded(domain.ActionHaptic))
	assert.Equal(t, 1, events.count())
}

func TestDispatcher_NoVibrateWhenDisabled(t *testing.T) {
	actions := &mockActions{}
	d := newTestDispatcher(actions, &mockEventStore{})

	s := settingsFor(domain.ModeRedirect)
	s.VibrateOnBlock = false
	d.Dispatch(context.Background(), DispatchRequest{
		PackageName:  "com.game.x",
		Settings:     s,
		Capabilities: allCaps,
	})
	d.Wait()

	assert.NotContains(t, actions.Calls(), "vibrate")
}

func TestDispatcher_NoOverlayWhenDisabled(t *testing.T) {
	actions := &mockActions{}
	d := newTestDispatcher(actions, &mockEventStore{})

	s := settingsFor(domain.ModeRedirect)
	s.ShowOverlay = false
	report := d.Dispatch(context.Background(), DispatchRequest{
		PackageName:  "com.game.x",
		Settings:     s,
		Capabilities: allCaps,
	})
	d.Wait()

	assert.NotContains(t, actions.Calls(), "overlay")
	assert.NotContains(t, actions.Calls(), "hide")
	assert.False(t, report.Attempted(domain.ActionOverlay))
}

func TestDispatcher_EventFields(t *testing.T) {
	events := &mockEventStore{}
	d := newTestDispatcher(&mockActions{}, events)

	session := &domain.Session{ID: 7}
	first := d.Dispatch(context.Background(), DispatchRequest{
		PackageName:  "com.game.x",
		Settings:     settingsFor(domain.ModeRedirect),
		Session:      session,
		Capabilities: allCaps,
	})
	second := d.Dispatch(context.Background(), DispatchRequest{
		PackageName:  "com.game.y",
		Settings:     settingsFor(domain.ModeRedirect),
		Capabilities: allCaps,
	})
	d.Wait()

	assert.Equal(t, int64(7), first.Event.SessionID)
	assert.Equal(t, int64(0), second.Event.SessionID, "no session means id 0")
	assert.Equal(t, "com.game.x", first.Event.PackageName)
	assert.Equal(t, "com.game.x", first.Event.DisplayName)
	assert.NotEmpty(t, first.Event.ID)
	assert.NotEqual(t, first.Event.ID, second.Event.ID)
	assert.False(t, first.Event.Timestamp.IsZero())
	assert.Equal(t, 2, events.count())
}

func TestDispatcher_EventAppendFailureReported(t *testing.T) {
	events := &mockEventStore{appendErr: errors.New("disk full")}
	d := newTestDispatcher(&mockActions{}, events)

	report := d.Dispatch(context.Background(), DispatchRequest{
		PackageName:  "com.game.x",
		Settings:     settingsFor(domain.ModeRedirect),
		Capabilities: allCaps,
	})
	d.Wait()

	assert.ErrorIs(t, report.LogErr, domain.ErrPersistence)
}

func TestDispatcher_CallerCancelMidLadderStillRecordsOneEvent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The session ends while the device is locking.
	actions := &mockActions{after: map[string]func(){"lock": cancel}}
	events := &mockEventStore{}
	d := newTestDispatcher(actions, events)

	report := d.Dispatch(ctx, DispatchRequest{
		PackageName:  "firefox",
		Settings:     settingsFor(domain.ModeScreenOff),
		Session:      &domain.Session{ID: 3},
		Capabilities: domain.Capabilities{HasDeviceAdmin: true},
	})
	d.Wait()

	require.Error(t, ctx.Err())
	assert.NoError(t, report.LogErr)
	n, err := events.BlockCount(context.Background(), "firefox")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, int64(3), report.Event.SessionID)
	assert.True(t, report.Succeeded(domain.ActionScreenLock))
	assert.True(t, report.Succeeded(domain.ActionKill), "steps after the cancel still run")
	assert.True(t, report.Succeeded(domain.ActionHaptic))
}

func TestDispatcher_CanceledContextStillEnforces(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	actions := &mockActions{fail: map[string]error{"lock": errMockAction}}
	events := &mockEventStore{}
	d := newTestDispatcher(actions, events)

	report := d.Dispatch(ctx, DispatchRequest{
		PackageName:  "com.game.x",
		Settings:     settingsFor(domain.ModeScreenOff),
		Capabilities: allCaps,
	})
	d.Wait()

	assert.True(t, report.Succeeded(domain.ActionRedirect), "failed lock falls back to redirect")
	assert.NoError(t, report.LogErr)
	assert.Equal(t, 1, events.count())
}

func TestDispatcher_DisplayNameFromLabeler(t *testing.T) {
	events := &mockEventStore{}
	d := newTestDispatcher(&mockActions{}, events).
		WithLabeler(mockLabeler{"firefox": "Firefox Web Browser"})

	known := d.Dispatch(context.Background(), DispatchRequest{
		PackageName:  "firefox",
		Settings:     settingsFor(domain.ModeRedirect),
		Capabilities: allCaps,
	})
	unknown := d.Dispatch(context.Background(), DispatchRequest{
		PackageName:  "com.game.x",
		Settings:     settingsFor(domain.ModeRedirect),
		Capabilities: allCaps,
	})
	d.Wait()

	assert.Equal(t, "Firefox Web Browser", known.Event.DisplayName)
	assert.Equal(t, "com.game.x", unknown.Event.DisplayName, "falls back to the package name")
	assert.Equal(t, 2, events.count())
}
