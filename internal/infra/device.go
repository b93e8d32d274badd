package infra

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/kioskd/internal/domain"
)

// CommandRunner abstracts command execution for testing
type CommandRunner interface {
	// Run executes a command and waits for it to complete
	Run(ctx context.Context, name string, args ...string) error
	// Output executes a command and returns its stdout
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
	// Start launches a long-running command without waiting
	Start(name string, args ...string) (Process, error)
	// LookPath resolves a binary on PATH
	LookPath(name string) (string, error)
}

// Process is a started command.
type Process interface {
	Stop() error
}

// RealCommandRunner executes real system commands
type RealCommandRunner struct{}

func (r *RealCommandRunner) Run(ctx context.Context, name string, args ...string) error {
	return exec.CommandContext(ctx, name, args...).Run()
}

func (r *RealCommandRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

func (r *RealCommandRunner) Start(name string, args ...string) (Process, error) {
	cmd := exec.Command(name, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	p := &execProcess{cmd: cmd, done: make(chan struct{})}
	go func() {
		_ = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

func (r *RealCommandRunner) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

type execProcess struct {
	cmd  *exec.Cmd
	done chan struct{}
}

// Stop kills the process group and reaps it.
func (p *execProcess) Stop() error {
	select {
	case <-p.done:
		return nil
	default:
	}
	if err := syscall.Kill(-p.cmd.Process.Pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return err
	}
	<-p.done
	return nil
}

// PackagePlaceholder in a configured command is replaced by the blocked package.
const PackagePlaceholder = "{package}"

// DesktopConfig holds the host commands behind each enforcement primitive.
// An empty command means the primitive is unavailable on this host.
type DesktopConfig struct {
	LockCommand     []string // locks the session, e.g. loginctl lock-session
	LauncherCommand []string // raises the kiosk surface
	OverlayCommand  []string // long-running full-screen mask, killed on hide
	LockTaskCommand []string // re-pins the kiosk window
	HapticCommand   []string // short feedback pulse (sound or rumble)
	CommandTimeout  time.Duration
}

// DefaultDesktopConfig returns defaults for an X11 session managed by logind.
func DefaultDesktopConfig() DesktopConfig {
	return DesktopConfig{
		LockCommand:    []string{"loginctl", "lock-session"},
		CommandTimeout: 2 * time.Second,
	}
}

// DesktopActions implements domain.DeviceActions on a Linux desktop.
type DesktopActions struct {
	config DesktopConfig
	runner CommandRunner
	pm     domain.ProcessManager
	logger *zap.Logger

	mu          sync.Mutex
	overlay     Process
	overlayRefs int // outstanding ShowOverlay calls
}

// NewDesktopActions creates desktop actions backed by real commands.
func NewDesktopActions(config DesktopConfig, pm domain.ProcessManager, logger *zap.Logger) *DesktopActions {
	return NewDesktopActionsWithRunner(config, &RealCommandRunner{}, pm, logger)
}

// NewDesktopActionsWithRunner creates desktop actions with an injectable runner (for testing).
func NewDesktopActionsWithRunner(config DesktopConfig, runner CommandRunner, pm domain.ProcessManager, logger *zap.Logger) *DesktopActions {
	if config.CommandTimeout <= 0 {
		config.CommandTimeout = DefaultDesktopConfig().CommandTimeout
	}
	return &DesktopActions{config: config, runner: runner, pm: pm, logger: logger}
}

// LockDevice locks the session.
func (a *DesktopActions) LockDevice(ctx context.Context) error {
	return a.run(ctx, "lock", a.config.LockCommand, "")
}

// PinLockTask re-pins the kiosk window.
func (a *DesktopActions) PinLockTask(ctx context.Context) error {
	return a.run(ctx, "lock task", a.config.LockTaskCommand, "")
}

// BringToFront raises the kiosk surface.
func (a *DesktopActions) BringToFront(ctx context.Context) error {
	return a.run(ctx, "launcher", a.config.LauncherCommand, "")
}

// ShowOverlay starts the overlay process, or takes another reference on
// the one already up.
func (a *DesktopActions) ShowOverlay(ctx context.Context, pkg string) error {
	if len(a.config.OverlayCommand) == 0 {
		return fmt.Errorf("%w: no overlay command", domain.ErrCapabilityUnavailable)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.overlay != nil {
		a.overlayRefs++
		return nil
	}

	args := expand(a.config.OverlayCommand, pkg)
	p, err := a.runner.Start(args[0], args[1:]...)
	if err != nil {
		return fmt.Errorf("%w: overlay: %v", domain.ErrActionFailed, err)
	}
	a.overlay = p
	a.overlayRefs = 1
	return nil
}

// HideOverlay drops one reference and stops the overlay process with the last.
func (a *DesktopActions) HideOverlay(ctx context.Context) error {
	a.mu.Lock()
	if a.overlayRefs > 1 {
		a.overlayRefs--
		a.mu.Unlock()
		return nil
	}
	p := a.detachOverlay()
	a.mu.Unlock()
	return stopOverlay(p)
}

// detachOverlay clears the overlay state. Callers hold a.mu.
func (a *DesktopActions) detachOverlay() Process {
	p := a.overlay
	a.overlay = nil
	a.overlayRefs = 0
	return p
}

func stopOverlay(p Process) error {
	if p == nil {
		return nil
	}
	if err := p.Stop(); err != nil {
		return fmt.Errorf("%w: hide overlay: %v", domain.ErrActionFailed, err)
	}
	return nil
}

// KillApp kills every process named pkg, never the current process.
func (a *DesktopActions) KillApp(ctx context.Context, pkg string) error {
	pids, err := a.pm.FindByName(pkg)
	if err != nil {
		return fmt.Errorf("%w: find %s: %v", domain.ErrActionFailed, pkg, err)
	}

	self := a.pm.GetCurrentPID()
	var errs []error
	for _, pid := range pids {
		if pid == self {
			continue
		}
		if err := a.pm.Kill(pid); err != nil {
			errs = append(errs, fmt.Errorf("kill %d: %w", pid, err))
			continue
		}
		a.logger.Debug("killed process", zap.String("package", pkg), zap.Int("pid", pid))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", domain.ErrActionFailed, errors.Join(errs...))
	}
	return nil
}

// Vibrate runs the haptic command; the duration is advisory.
func (a *DesktopActions) Vibrate(ctx context.Context, d time.Duration) error {
	return a.run(ctx, "haptic", a.config.HapticCommand, "")
}

func (a *DesktopActions) run(ctx context.Context, what string, command []string, pkg string) error {
	if len(command) == 0 {
		return fmt.Errorf("%w: no %s command", domain.ErrCapabilityUnavailable, what)
	}
	ctx, cancel := context.WithTimeout(ctx, a.config.CommandTimeout)
	defer cancel()

	args := expand(command, pkg)
	if err := a.runner.Run(ctx, args[0], args[1:]...); err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrActionFailed, what, err)
	}
	return nil
}

// Close stops a lingering overlay.
func (a *DesktopActions) Close() error {
	a.mu.Lock()
	p := a.detachOverlay()
	a.mu.Unlock()
	return stopOverlay(p)
}

func expand(command []string, pkg string) []string {
	out := make([]string, len(command))
	for i, arg := range command {
		out[i] = strings.ReplaceAll(arg, PackagePlaceholder, pkg)
	}
	return out
}

// IsRoot reports whether the process runs with euid 0.
func IsRoot() bool {
	return os.Geteuid() == 0
}

// Ensure DesktopActions implements domain.DeviceActions.
var _ domain.DeviceActions = (*DesktopActions)(nil)
