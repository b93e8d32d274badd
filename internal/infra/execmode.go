// Package infra implements infrastructure concerns.
package infra

import (
	"os"
	"os/user"
	"path/filepath"
)

// ExecMode represents the execution mode of the application.
type ExecMode string

const (
	// ExecModeUser runs as the desktop user (no sudo required)
	ExecModeUser ExecMode = "user"
	// ExecModeSystem runs as root
	ExecModeSystem ExecMode = "system"
)

// ExecModeConfig holds paths based on execution mode.
type ExecModeConfig struct {
	Mode       ExecMode
	DataDir    string // Where the encrypted store, key, log and instance file live
	ConfigPath string // Default config file location
	IsRoot     bool   // Whether running as root
}

// Data dir layout.
const (
	DBFileName       = "kioskd.db"
	KeyFileName      = ".key"
	LogFileName      = "kioskd.log"
	InstanceFileName = "instance.json"
)

// DetectExecMode determines the execution mode based on effective UID.
func DetectExecMode() *ExecModeConfig {
	if os.Geteuid() == 0 {
		return &ExecModeConfig{
			Mode:       ExecModeSystem,
			DataDir:    "/var/lib/kioskd",
			ConfigPath: "/etc/kioskd/config.toml",
			IsRoot:     true,
		}
	}
	return userModeConfig(GetRealUserHome())
}

// GetUserModeConfig returns user mode config regardless of current euid.
// Under sudo the invoking user's home directory is used.
func GetUserModeConfig() *ExecModeConfig {
	c := userModeConfig(GetRealUserHome())
	c.IsRoot = os.Geteuid() == 0
	return c
}

func userModeConfig(home string) *ExecModeConfig {
	return &ExecModeConfig{
		Mode:       ExecModeUser,
		DataDir:    filepath.Join(home, ".kioskd"),
		ConfigPath: filepath.Join(home, ".kioskd", "config.toml"),
	}
}

// DBPath returns the encrypted database path.
func (c *ExecModeConfig) DBPath() string { return filepath.Join(c.DataDir, DBFileName) }

// KeyPath returns the database key path.
func (c *ExecModeConfig) KeyPath() string { return filepath.Join(c.DataDir, KeyFileName) }

// LogPath returns the daemon log path.
func (c *ExecModeConfig) LogPath() string { return filepath.Join(c.DataDir, LogFileName) }

// InstancePath returns the instance file path.
func (c *ExecModeConfig) InstancePath() string { return filepath.Join(c.DataDir, InstanceFileName) }

// String returns a human-readable description of the mode.
func (m ExecMode) String() string {
	switch m {
	case ExecModeSystem:
		return "system (root)"
	case ExecModeUser:
		return "user (non-root)"
	default:
		return "unknown"
	}
}

// GetRealUserHome returns the real user's home directory, even when running under sudo.
// Under sudo, os.UserHomeDir() returns root's home, so SUDO_USER is consulted first.
func GetRealUserHome() string {
	if sudoUser := os.Getenv("SUDO_USER"); sudoUser != "" {
		if u, err := user.Lookup(sudoUser); err == nil {
			return u.HomeDir
		}
	}
	home, _ := os.UserHomeDir()
	return home
}
