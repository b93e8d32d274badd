package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/eliteGoblin/kioskd/internal/daemon"
	"github.com/eliteGoblin/kioskd/internal/domain"
)

var (
	startMinutes    int
	startIndefinite bool
	startNoDaemon   bool
	stopDaemon      bool
)

func addSessionCommands(root *cobra.Command) {
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start a kiosk session (launches the daemon if needed)",
		Long: `Starts a timed (--minutes) or indefinite (--indefinite) session.
Any previous session is ended first. The daemon picks the session up
from the store; it is spawned in the background if it is not running.`,
		RunE: runStart,
	}
	startCmd.Flags().IntVarP(&startMinutes, "minutes", "m", 0, "Session length in minutes")
	startCmd.Flags().BoolVar(&startIndefinite, "indefinite", false, "Run until stopped")
	startCmd.Flags().BoolVar(&startNoDaemon, "no-daemon", false, "Only record the session, do not spawn the daemon")

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "End the active session",
		RunE:  runStop,
	}
	stopCmd.Flags().BoolVar(&stopDaemon, "daemon", false, "Also terminate the daemon")

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show session, daemon and enforcement status",
		RunE:  runStatus,
	}

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List recent sessions",
		RunE:  runHistory,
	}
	historyCmd.Flags().IntVar(&historyLimit, "limit", 10, "Number of sessions to show")

	root.AddCommand(startCmd, stopCmd, statusCmd, historyCmd)
}

var historyLimit int

func runStart(cmd *cobra.Command, args []string) error {
	if startIndefinite == (startMinutes != 0) {
		return errors.New("specify exactly one of --minutes or --indefinite")
	}

	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	var sess *domain.Session
	if startIndefinite {
		sess, err = a.sessions.StartIndefiniteSession(ctx)
	} else {
		sess, err = a.sessions.StartSession(ctx, startMinutes)
	}
	if err != nil {
		return err
	}

	fmt.Println("\n=== kioskd Session Started ===")
	fmt.Printf("Session: #%d\n", sess.ID)
	if sess.Indefinite {
		fmt.Println("Duration: indefinite")
	} else {
		fmt.Printf("Duration: %d min (ends %s)\n", sess.DurationMinutes, sess.EndTime.Format(time.Kitchen))
	}

	if startNoDaemon {
		fmt.Println("Daemon: not started (--no-daemon)")
		return nil
	}

	alive, _ := a.instanceRegistry().IsAlive()
	if alive {
		fmt.Println("Daemon: running")
		return nil
	}
	if err := daemon.StartDaemon(configPath); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	// Wait a moment for the daemon to register
	time.Sleep(500 * time.Millisecond)
	if alive, _ := a.instanceRegistry().IsAlive(); alive {
		fmt.Println("Daemon: started")
	} else {
		fmt.Printf("Daemon: spawned, not yet registered (see %s)\n", a.paths.LogPath())
	}
	return nil
}

func runStop(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	if err := a.sessions.LoadActiveSession(ctx); err != nil {
		return err
	}
	if !a.sessions.IsActive() {
		fmt.Println("No active session.")
	} else {
		id := a.sessions.Current().ID
		if err := a.sessions.StopSession(ctx); err != nil {
			return err
		}
		fmt.Printf("Session #%d stopped.\n", id)
	}

	if !stopDaemon {
		return nil
	}
	inst, err := a.instanceRegistry().Get()
	if err != nil {
		return err
	}
	if inst == nil {
		fmt.Println("Daemon: not running")
		return nil
	}
	if err := unix.Kill(inst.PID, unix.SIGTERM); err != nil {
		return fmt.Errorf("failed to signal daemon %d: %w", inst.PID, err)
	}
	fmt.Printf("Daemon %d: terminating\n", inst.PID)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	fmt.Println("\n=== kioskd Status ===")

	if err := a.sessions.LoadActiveSession(ctx); err != nil {
		fmt.Printf("Session: unknown (%v)\n", err)
	} else if s := a.sessions.Current(); s == nil {
		fmt.Println("Session: IDLE")
	} else {
		fmt.Printf("Session: ACTIVE (#%d, started %s)\n", s.ID, s.StartTime.Format(time.DateTime))
		if s.Indefinite {
			fmt.Println("Remaining: indefinite")
		} else {
			remaining := time.Duration(a.sessions.RemainingMillis()) * time.Millisecond
			fmt.Printf("Remaining: %s (%d%%)\n", remaining.Round(time.Second), a.sessions.ProgressPercentage())
		}
	}

	reg := a.instanceRegistry()
	inst, _ := reg.Get()
	if alive, _ := reg.IsAlive(); alive && inst != nil {
		fmt.Printf("Daemon: RUNNING (pid %d, up %s, %s mode)\n",
			inst.PID, time.Since(inst.StartedAt).Round(time.Second), inst.Mode)
	} else {
		fmt.Println("Daemon: NOT RUNNING")
	}

	settings, err := a.settings.Load(ctx)
	if err != nil {
		return err
	}
	caps := a.capabilityProbe().Capabilities()
	fmt.Printf("\nBlocking mode: %s\n", settings.BlockingMode)
	fmt.Printf("Enforcement tier: %s\n", caps.Tier())
	fmt.Printf("  overlay=%t device-admin=%t device-owner=%t lock-task=%t\n",
		caps.HasOverlay, caps.HasDeviceAdmin, caps.IsDeviceOwner, caps.LockTaskSupported)

	if err := a.cache.Refresh(ctx); err == nil {
		fmt.Printf("Allowed packages: %d\n", a.cache.Count())
	}

	fmt.Println("=====================")
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	sessions, err := a.sessions.SessionHistory(context.Background(), historyLimit)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions recorded.")
		return nil
	}
	for _, s := range sessions {
		length := "indefinite"
		if !s.Indefinite {
			length = fmt.Sprintf("%d min", s.DurationMinutes)
		}
		state := ""
		if s.Active {
			state = " (active)"
		}
		fmt.Printf("#%-5d %s  %s%s\n", s.ID, s.StartTime.Format(time.DateTime), length, state)
	}
	return nil
}
