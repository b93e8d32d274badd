package infra

import (
	"github.com/eliteGoblin/kioskd/internal/domain"
)

// CapabilityOverrides force individual capabilities on or off. Nil keeps detection.
type CapabilityOverrides struct {
	Overlay     *bool
	DeviceAdmin *bool
	DeviceOwner *bool
	LockTask    *bool
}

// CommandCapabilities derives capabilities from which configured commands
// resolve on PATH. It is re-evaluated on every call so installing a tool
// takes effect without a restart.
type CommandCapabilities struct {
	config    DesktopConfig
	overrides CapabilityOverrides
	runner    CommandRunner
	isRoot    func() bool
}

// NewCommandCapabilities creates a capability probe for config.
func NewCommandCapabilities(config DesktopConfig, overrides CapabilityOverrides) *CommandCapabilities {
	return NewCommandCapabilitiesWithRunner(config, overrides, &RealCommandRunner{}, IsRoot)
}

// NewCommandCapabilitiesWithRunner creates a probe with injectable deps (for testing).
func NewCommandCapabilitiesWithRunner(config DesktopConfig, overrides CapabilityOverrides, runner CommandRunner, isRoot func() bool) *CommandCapabilities {
	return &CommandCapabilities{config: config, overrides: overrides, runner: runner, isRoot: isRoot}
}

// Capabilities returns the current snapshot.
func (c *CommandCapabilities) Capabilities() domain.Capabilities {
	lockTask := c.available(c.config.LockTaskCommand)
	caps := domain.Capabilities{
		HasOverlay:        c.available(c.config.OverlayCommand),
		HasDeviceAdmin:    c.available(c.config.LockCommand),
		LockTaskSupported: lockTask,
		IsDeviceOwner:     lockTask && c.isRoot(),
	}

	apply(&caps.HasOverlay, c.overrides.Overlay)
	apply(&caps.HasDeviceAdmin, c.overrides.DeviceAdmin)
	apply(&caps.IsDeviceOwner, c.overrides.DeviceOwner)
	apply(&caps.LockTaskSupported, c.overrides.LockTask)
	return caps
}

func (c *CommandCapabilities) available(command []string) bool {
	if len(command) == 0 {
		return false
	}
	_, err := c.runner.LookPath(command[0])
	return err == nil
}

func apply(dst *bool, override *bool) {
	if override != nil {
		*dst = *override
	}
}

// FixedCapabilities reports a constant snapshot. Used when detection is off.
type FixedCapabilities domain.Capabilities

// NewFixedCapabilities builds a snapshot from overrides. Unset flags are false.
func NewFixedCapabilities(overrides CapabilityOverrides) FixedCapabilities {
	var caps domain.Capabilities
	apply(&caps.HasOverlay, overrides.Overlay)
	apply(&caps.HasDeviceAdmin, overrides.DeviceAdmin)
	apply(&caps.IsDeviceOwner, overrides.DeviceOwner)
	apply(&caps.LockTaskSupported, overrides.LockTask)
	return FixedCapabilities(caps)
}

// Capabilities returns the fixed snapshot.
func (f FixedCapabilities) Capabilities() domain.Capabilities {
	return domain.Capabilities(f)
}

// Ensure both probes implement domain.CapabilityProbe.
var _ domain.CapabilityProbe = (*CommandCapabilities)(nil)
var _ domain.CapabilityProbe = FixedCapabilities{}
