package infra

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/eliteGoblin/kioskd/internal/domain"
)

// X11Probe reports the process name owning the active X11 window via xdotool.
type X11Probe struct {
	runner  CommandRunner
	pm      domain.ProcessManager
	timeout time.Duration
}

// NewX11Probe creates a foreground probe backed by xdotool.
func NewX11Probe(pm domain.ProcessManager) *X11Probe {
	return NewX11ProbeWithRunner(&RealCommandRunner{}, pm)
}

// NewX11ProbeWithRunner creates a probe with an injectable runner (for testing).
func NewX11ProbeWithRunner(runner CommandRunner, pm domain.ProcessManager) *X11Probe {
	return &X11Probe{runner: runner, pm: pm, timeout: time.Second}
}

// ForegroundApp returns the name of the process owning the focused window.
func (p *X11Probe) ForegroundApp(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	out, err := p.runner.Output(ctx, "xdotool", "getactivewindow", "getwindowpid")
	if err != nil {
		// xdotool exits non-zero when nothing has focus (e.g. screen locked).
		return "", fmt.Errorf("%w: active window: %v", domain.ErrNoForeground, err)
	}
	return p.nameOf(strings.TrimSpace(string(out)))
}

// WindowOwner resolves a window id (e.g. 0x3a00007) to its process name.
func (p *X11Probe) WindowOwner(ctx context.Context, windowID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	id, err := strconv.ParseUint(windowID, 0, 64)
	if err != nil {
		return "", fmt.Errorf("%w: bad window id %q", domain.ErrNoForeground, windowID)
	}
	out, err := p.runner.Output(ctx, "xdotool", "getwindowpid", strconv.FormatUint(id, 10))
	if err != nil {
		return "", fmt.Errorf("%w: window %s: %v", domain.ErrNoForeground, windowID, err)
	}
	return p.nameOf(strings.TrimSpace(string(out)))
}

func (p *X11Probe) nameOf(pidText string) (string, error) {
	pid, err := strconv.Atoi(pidText)
	if err != nil || pid <= 0 {
		return "", fmt.Errorf("%w: no pid for active window", domain.ErrNoForeground)
	}
	name, err := p.pm.NameOf(pid)
	if err != nil {
		return "", fmt.Errorf("%w: pid %d: %v", domain.ErrNoForeground, pid, err)
	}
	return name, nil
}

// Ensure X11Probe implements domain.ForegroundProbe.
var _ domain.ForegroundProbe = (*X11Probe)(nil)
