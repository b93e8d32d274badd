package daemon

import (
	"os"
	"os/exec"
	"syscall"
)

// StartDaemon spawns a detached engine process from the current executable.
func StartDaemon(configPath string) error {
	executable, err := os.Executable()
	if err != nil {
		return err
	}
	return StartDaemonWithPath(executable, configPath)
}

// StartDaemonWithPath spawns binaryPath as a detached engine process.
// Hidden "daemon" command: kioskd daemon --config /path/config.toml
func StartDaemonWithPath(binaryPath, configPath string) error {
	cmd := exec.Command(binaryPath, DaemonArgs(configPath)...)

	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true, // Create new session (detach from terminal)
	}

	// No stdin/stdout/stderr - fully detached
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return err
	}
	// The child outlives us; release its process handle.
	return cmd.Process.Release()
}

// DaemonArgs returns the argument list for the hidden daemon command.
func DaemonArgs(configPath string) []string {
	args := []string{"daemon"}
	if configPath != "" {
		args = append(args, "--config", configPath)
	}
	return args
}
