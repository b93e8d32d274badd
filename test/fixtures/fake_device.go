// Package fixtures provides test helpers for integration tests.
package fixtures

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/eliteGoblin/kioskd/internal/domain"
)

// FakeDevice simulates a kiosk host: a settable foreground app, a fixed
// capability set, and recorded enforcement actions. Bringing the kiosk to
// the front switches the foreground back to the launcher.
type FakeDevice struct {
	mu       sync.Mutex
	launcher string
	fg       string
	caps     domain.Capabilities
	calls    []string
	probes   int
	fail     map[domain.ActionKind]error
}

// NewFakeDevice creates a device showing launcher in the foreground.
func NewFakeDevice(launcher string, caps domain.Capabilities) *FakeDevice {
	return &FakeDevice{
		launcher: launcher,
		fg:       launcher,
		caps:     caps,
		fail:     make(map[domain.ActionKind]error),
	}
}

// Open brings pkg to the foreground, as if the user launched it.
func (d *FakeDevice) Open(pkg string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fg = pkg
}

// Foreground returns the current foreground package.
func (d *FakeDevice) Foreground() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fg
}

// Fail makes the given action return err.
func (d *FakeDevice) Fail(kind domain.ActionKind, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail[kind] = err
}

// Calls returns the recorded actions in order.
func (d *FakeDevice) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

// Probes returns how many foreground lookups were made.
func (d *FakeDevice) Probes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.probes
}

// ForegroundApp implements domain.ForegroundProbe.
func (d *FakeDevice) ForegroundApp(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.probes++
	if d.fg == "" {
		return "", domain.ErrNoForeground
	}
	return d.fg, nil
}

// Capabilities implements domain.CapabilityProbe.
func (d *FakeDevice) Capabilities() domain.Capabilities {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.caps
}

func (d *FakeDevice) record(kind domain.ActionKind, detail string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if detail != "" {
		d.calls = append(d.calls, fmt.Sprintf("%s:%s", kind, detail))
	} else {
		d.calls = append(d.calls, string(kind))
	}
	return d.fail[kind]
}

func (d *FakeDevice) LockDevice(ctx context.Context) error {
	return d.record(domain.ActionScreenLock, "")
}

func (d *FakeDevice) PinLockTask(ctx context.Context) error {
	return d.record(domain.ActionLockTask, "")
}

func (d *FakeDevice) BringToFront(ctx context.Context) error {
	if err := d.record(domain.ActionRedirect, ""); err != nil {
		return err
	}
	d.mu.Lock()
	d.fg = d.launcher
	d.mu.Unlock()
	return nil
}

func (d *FakeDevice) ShowOverlay(ctx context.Context, pkg string) error {
	return d.record(domain.ActionOverlay, pkg)
}

func (d *FakeDevice) HideOverlay(ctx context.Context) error {
	return d.record("hide-overlay", "")
}

func (d *FakeDevice) KillApp(ctx context.Context, pkg string) error {
	return d.record(domain.ActionKill, pkg)
}

func (d *FakeDevice) Vibrate(ctx context.Context, dur time.Duration) error {
	return d.record(domain.ActionHaptic, "")
}

var _ domain.ForegroundProbe = (*FakeDevice)(nil)
var _ domain.CapabilityProbe = (*FakeDevice)(nil)
var _ domain.DeviceActions = (*FakeDevice)(nil)
