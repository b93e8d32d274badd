// Package config handles configuration loading and validation for kioskd.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that decodes from strings such as "200ms".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// UnmarshalYAML decodes a duration scalar.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.UnmarshalText([]byte(node.Value))
}

// MarshalYAML encodes the duration as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config is the daemon configuration file.
type Config struct {
	// DataDir holds the encrypted store, key, log and instance file.
	// Empty means the exec-mode default.
	DataDir     string `toml:"data_dir" yaml:"data_dir"`
	SelfPackage string `toml:"self_package" yaml:"self_package"`

	Logging      LoggingConfig      `toml:"logging" yaml:"logging"`
	Monitor      MonitorConfig      `toml:"monitor" yaml:"monitor"`
	Policy       PolicyConfig       `toml:"policy" yaml:"policy"`
	Capabilities CapabilitiesConfig `toml:"capabilities" yaml:"capabilities"`
	Device       DeviceConfig       `toml:"device" yaml:"device"`
}

// LoggingConfig configures the daemon's zap logger.
type LoggingConfig struct {
	Level     string `toml:"level" yaml:"level"`
	Path      string `toml:"path" yaml:"path"`
	ErrorPath string `toml:"error_path" yaml:"error_path"`
}

// MonitorConfig holds engine timing.
type MonitorConfig struct {
	Cooldown     Duration `toml:"cooldown" yaml:"cooldown"`
	SyncInterval Duration `toml:"sync_interval" yaml:"sync_interval"`
	OverlayHold  Duration `toml:"overlay_hold" yaml:"overlay_hold"`
	// Events enables the window-event producer alongside polling.
	Events bool `toml:"events" yaml:"events"`
}

// PolicyConfig extends the built-in rule sets.
type PolicyConfig struct {
	AlwaysAllow       []string `toml:"always_allow" yaml:"always_allow"`
	EmergencyPackages []string `toml:"emergency_packages" yaml:"emergency_packages"`
}

// CapabilitiesConfig forces detected capabilities on or off.
type CapabilitiesConfig struct {
	Detect      bool  `toml:"detect" yaml:"detect"`
	Overlay     *bool `toml:"overlay" yaml:"overlay"`
	DeviceAdmin *bool `toml:"device_admin" yaml:"device_admin"`
	DeviceOwner *bool `toml:"device_owner" yaml:"device_owner"`
	LockTask    *bool `toml:"lock_task" yaml:"lock_task"`
}

// DeviceConfig holds the host commands used by the desktop adapters.
// "{package}" in a command is replaced by the blocked package.
type DeviceConfig struct {
	LockCommand     []string `toml:"lock_command" yaml:"lock_command"`
	LauncherCommand []string `toml:"launcher_command" yaml:"launcher_command"`
	OverlayCommand  []string `toml:"overlay_command" yaml:"overlay_command"`
	LockTaskCommand []string `toml:"lock_task_command" yaml:"lock_task_command"`
	FeedbackCommand []string `toml:"feedback_command" yaml:"feedback_command"`
	CommandTimeout  Duration `toml:"command_timeout" yaml:"command_timeout"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		SelfPackage: "kioskd",
		Logging: LoggingConfig{
			Level: "info",
		},
		Monitor: MonitorConfig{
			Cooldown:     Duration{200 * time.Millisecond},
			SyncInterval: Duration{30 * time.Second},
			OverlayHold:  Duration{500 * time.Millisecond},
			Events:       true,
		},
		Capabilities: CapabilitiesConfig{
			Detect: true,
		},
		Device: DeviceConfig{
			LockCommand:    []string{"loginctl", "lock-session"},
			CommandTimeout: Duration{2 * time.Second},
		},
	}
}

// Load reads path, applies KIOSKD_* environment overrides and validates.
// An empty path or a missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := decode(path, data, cfg); err != nil {
				return nil, err
			}
		case os.IsNotExist(err):
		default:
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := cfg.ApplyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return cfg, nil
}

// decode parses data based on the file extension.
func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("decode YAML: %w", err)
		}
	default:
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return fmt.Errorf("decode TOML: %w", err)
		}
	}
	return nil
}

// ApplyEnvOverrides applies KIOSKD_* environment variables.
func (c *Config) ApplyEnvOverrides() error {
	if v := os.Getenv("KIOSKD_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("KIOSKD_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("KIOSKD_LOG_PATH"); v != "" {
		c.Logging.Path = v
	}
	if v := os.Getenv("KIOSKD_COOLDOWN"); v != "" {
		if err := c.Monitor.Cooldown.UnmarshalText([]byte(v)); err != nil {
			return fmt.Errorf("KIOSKD_COOLDOWN: %w", err)
		}
	}
	if v := os.Getenv("KIOSKD_SYNC_INTERVAL"); v != "" {
		if err := c.Monitor.SyncInterval.UnmarshalText([]byte(v)); err != nil {
			return fmt.Errorf("KIOSKD_SYNC_INTERVAL: %w", err)
		}
	}
	if v := os.Getenv("KIOSKD_EVENTS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("KIOSKD_EVENTS: %w", err)
		}
		c.Monitor.Events = b
	}
	return nil
}

var validLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "error": true,
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.SelfPackage == "" {
		errs = append(errs, errors.New("self_package is required"))
	}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Errorf("logging.level %q must be one of debug, info, warn, error", c.Logging.Level))
	}
	if c.Monitor.Cooldown.Duration < 0 {
		errs = append(errs, errors.New("monitor.cooldown must not be negative"))
	}
	if c.Monitor.SyncInterval.Duration < time.Second {
		errs = append(errs, errors.New("monitor.sync_interval must be at least 1s"))
	}
	if c.Monitor.OverlayHold.Duration < 0 {
		errs = append(errs, errors.New("monitor.overlay_hold must not be negative"))
	}
	if c.Device.CommandTimeout.Duration <= 0 {
		errs = append(errs, errors.New("device.command_timeout must be positive"))
	}
	if c.DataDir != "" && !filepath.IsAbs(c.DataDir) {
		errs = append(errs, fmt.Errorf("data_dir %q must be absolute", c.DataDir))
	}

	return errors.Join(errs...)
}
