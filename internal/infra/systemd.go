package infra

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"text/template"
	"time"

	"github.com/eliteGoblin/kioskd/internal/domain"
)

// ServiceName is the systemd unit name.
const ServiceName = "kioskd.service"

// Unit template shared by both modes. User units bind to the graphical
// session so DISPLAY is available to the desktop adapters.
const unitTemplate = `[Unit]
Description=kioskd kiosk enforcement daemon
{{- if .User }}
PartOf=graphical-session.target
After=graphical-session.target
{{- else }}
After=multi-user.target
{{- end }}

[Service]
Type=simple
ExecStart={{.ExecutablePath}} daemon{{if .ConfigPath}} --config {{.ConfigPath}}{{end}}
Restart=on-failure
RestartSec=10
StandardOutput=append:{{.LogPath}}
StandardError=append:{{.LogPath}}

[Install]
WantedBy={{if .User}}graphical-session.target{{else}}multi-user.target{{end}}
`

type unitConfig struct {
	User           bool
	ExecutablePath string
	ConfigPath     string
	LogPath        string
}

// SystemdManager implements domain.ServiceManager for both exec modes.
type SystemdManager struct {
	mode       ExecMode
	unitDir    string
	unitPath   string
	configPath string
	logPath    string
	runner     CommandRunner
}

// NewSystemdManager creates a service manager based on execution mode.
// configPath may be empty to use the daemon's default config lookup.
func NewSystemdManager(config *ExecModeConfig, configPath string) *SystemdManager {
	return NewSystemdManagerWithRunner(config, configPath, unitDirFor(config.Mode), &RealCommandRunner{})
}

// NewSystemdManagerWithRunner creates a manager with an explicit unit dir and runner (for testing).
func NewSystemdManagerWithRunner(config *ExecModeConfig, configPath, unitDir string, runner CommandRunner) *SystemdManager {
	return &SystemdManager{
		mode:       config.Mode,
		unitDir:    unitDir,
		unitPath:   filepath.Join(unitDir, ServiceName),
		configPath: configPath,
		logPath:    config.LogPath(),
		runner:     runner,
	}
}

func unitDirFor(mode ExecMode) string {
	if mode == ExecModeSystem {
		return "/etc/systemd/system"
	}
	return filepath.Join(GetRealUserHome(), ".config", "systemd", "user")
}

// generateUnit creates unit content for the given exec path.
func (m *SystemdManager) generateUnit(execPath string) ([]byte, error) {
	tmpl, err := template.New("unit").Parse(unitTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse unit template: %w", err)
	}

	var buf bytes.Buffer
	err = tmpl.Execute(&buf, unitConfig{
		User:           m.mode == ExecModeUser,
		ExecutablePath: execPath,
		ConfigPath:     m.configPath,
		LogPath:        m.logPath,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to execute unit template: %w", err)
	}
	return buf.Bytes(), nil
}

// Install writes the unit, reloads systemd and enables the service.
func (m *SystemdManager) Install(execPath string) error {
	if err := os.MkdirAll(m.unitDir, 0755); err != nil {
		return err
	}

	content, err := m.generateUnit(execPath)
	if err != nil {
		return err
	}
	if err := os.WriteFile(m.unitPath, content, 0644); err != nil {
		return err
	}

	if err := m.systemctl("daemon-reload"); err != nil {
		return err
	}
	return m.systemctl("enable", "--now", ServiceName)
}

// Uninstall disables the service and removes the unit.
func (m *SystemdManager) Uninstall() error {
	// Ignore errors if the unit was never enabled.
	_ = m.systemctl("disable", "--now", ServiceName)

	if err := os.Remove(m.unitPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return m.systemctl("daemon-reload")
}

// IsInstalled checks if the unit file exists.
func (m *SystemdManager) IsInstalled() bool {
	_, err := os.Stat(m.unitPath)
	return err == nil
}

// NeedsUpdate checks if the unit exists but has different content than expected.
func (m *SystemdManager) NeedsUpdate(execPath string) bool {
	if !m.IsInstalled() {
		return false // Doesn't exist, needs install not update
	}

	current, err := os.ReadFile(m.unitPath)
	if err != nil {
		return true
	}
	expected, err := m.generateUnit(execPath)
	if err != nil {
		return true
	}
	return !bytes.Equal(current, expected)
}

// UnitPath returns the unit file path.
func (m *SystemdManager) UnitPath() string {
	return m.unitPath
}

func (m *SystemdManager) systemctl(args ...string) error {
	if m.mode == ExecModeUser {
		args = append([]string{"--user"}, args...)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := m.runner.Run(ctx, "systemctl", args...); err != nil {
		return fmt.Errorf("systemctl %v: %w", args, err)
	}
	return nil
}

// Ensure SystemdManager implements domain.ServiceManager.
var _ domain.ServiceManager = (*SystemdManager)(nil)
