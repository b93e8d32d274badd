package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/eliteGoblin/kioskd/internal/domain"
	"github.com/eliteGoblin/kioskd/internal/infra"
)

var (
	whitelistName string
	settingsYAML  bool
	logLimit      int
	logPrune      time.Duration
	logCount      string
)

func addWhitelistCommands(root *cobra.Command) {
	whitelistCmd := &cobra.Command{
		Use:   "whitelist",
		Short: "Manage allowed applications",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List whitelist entries",
		RunE:  runWhitelistList,
	}
	addCmd := &cobra.Command{
		Use:   "add <package>",
		Short: "Allow a package",
		Args:  cobra.ExactArgs(1),
		RunE:  runWhitelistAdd,
	}
	addCmd.Flags().StringVar(&whitelistName, "name", "", "Display name (defaults to the package)")

	removeCmd := &cobra.Command{
		Use:   "remove <package>",
		Short: "Remove a package",
		Args:  cobra.ExactArgs(1),
		RunE: withStore(func(ctx context.Context, a *app, args []string) error {
			return a.store.RemoveWhitelistEntry(ctx, args[0])
		}),
	}
	enableCmd := &cobra.Command{
		Use:   "enable <package>",
		Short: "Re-enable a disabled entry",
		Args:  cobra.ExactArgs(1),
		RunE: withStore(func(ctx context.Context, a *app, args []string) error {
			return a.store.SetWhitelistEnabled(ctx, args[0], true)
		}),
	}
	disableCmd := &cobra.Command{
		Use:   "disable <package>",
		Short: "Keep an entry but stop allowing it",
		Args:  cobra.ExactArgs(1),
		RunE: withStore(func(ctx context.Context, a *app, args []string) error {
			return a.store.SetWhitelistEnabled(ctx, args[0], false)
		}),
	}

	whitelistCmd.AddCommand(listCmd, addCmd, removeCmd, enableCmd, disableCmd)
	root.AddCommand(whitelistCmd)
}

// withStore opens the app for a single store mutation and reports not-found nicely.
func withStore(fn func(ctx context.Context, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := fn(context.Background(), a, args); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return fmt.Errorf("%s is not whitelisted", args[0])
			}
			return err
		}
		fmt.Println("OK")
		return nil
	}
}

func runWhitelistList(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	entries, err := a.store.LoadWhitelistSnapshot(context.Background())
	if err != nil {
		return err
	}

	fmt.Println("\n=== Whitelist ===")
	if len(entries) == 0 {
		fmt.Println("(empty: only built-in system packages are allowed)")
	}
	for _, e := range entries {
		state := "enabled"
		if !e.Enabled {
			state = "disabled"
		}
		fmt.Printf("  %-40s %-24s %s\n", e.PackageName, e.DisplayName, state)
	}
	fmt.Println("=================")
	return nil
}

func runWhitelistAdd(cmd *cobra.Command, args []string) error {
	name := whitelistName
	if name == "" {
		name = args[0]
	}
	return withStore(func(ctx context.Context, a *app, args []string) error {
		return a.store.UpsertWhitelistEntry(ctx, domain.WhitelistEntry{
			PackageName: args[0],
			DisplayName: name,
			Enabled:     true,
			AddedAt:     time.Now(),
		})
	})(cmd, args)
}

func addSettingsCommands(root *cobra.Command) {
	settingsCmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change enforcement settings",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print current settings",
		RunE:  runSettingsShow,
	}
	showCmd.Flags().BoolVar(&settingsYAML, "yaml", false, "Output as YAML")

	setCmd := &cobra.Command{
		Use:   "set",
		Short: "Change settings (only the flags given are changed)",
		RunE:  runSettingsSet,
	}
	setCmd.Flags().String("mode", "", "Blocking mode: REDIRECT, SCREEN_OFF or BOTH")
	setCmd.Flags().Duration("interval", 0, "Monitoring interval (min 10ms)")
	setCmd.Flags().Duration("redirect-delay", 0, "Delay between screen lock and redirect in BOTH mode")
	setCmd.Flags().Bool("screen-off", true, "Allow locking the screen")
	setCmd.Flags().Bool("auto-dialer", true, "Whitelist known dialers automatically")
	setCmd.Flags().Bool("vibrate", true, "Give feedback on block")
	setCmd.Flags().Bool("overlay", true, "Show the blocking overlay")

	settingsCmd.AddCommand(showCmd, setCmd)
	root.AddCommand(settingsCmd)
}

// settingsView is the printable form of domain.KioskSettings.
type settingsView struct {
	BlockingMode           string `yaml:"blocking_mode"`
	ScreenOffEnabled       bool   `yaml:"screen_off_enabled"`
	AutoWhitelistDialer    bool   `yaml:"auto_whitelist_dialer"`
	MonitoringInterval     string `yaml:"monitoring_interval"`
	VibrateOnBlock         bool   `yaml:"vibrate_on_block"`
	ShowOverlay            bool   `yaml:"show_overlay"`
	ScreenOffRedirectDelay string `yaml:"screen_off_redirect_delay"`
	LastModified           string `yaml:"last_modified,omitempty"`
}

func newSettingsView(s domain.KioskSettings) settingsView {
	v := settingsView{
		BlockingMode:           string(s.BlockingMode),
		ScreenOffEnabled:       s.ScreenOffEnabled,
		AutoWhitelistDialer:    s.AutoWhitelistDialer,
		MonitoringInterval:     s.MonitoringInterval.String(),
		VibrateOnBlock:         s.VibrateOnBlock,
		ShowOverlay:            s.ShowOverlay,
		ScreenOffRedirectDelay: s.ScreenOffRedirectDelay.String(),
	}
	if !s.LastModified.IsZero() {
		v.LastModified = s.LastModified.Format(time.RFC3339)
	}
	return v
}

func printSettings(s domain.KioskSettings) error {
	v := newSettingsView(s)
	if settingsYAML {
		return yaml.NewEncoder(os.Stdout).Encode(v)
	}
	fmt.Printf("Blocking mode:          %s\n", v.BlockingMode)
	fmt.Printf("Screen off enabled:     %t\n", v.ScreenOffEnabled)
	fmt.Printf("Auto-whitelist dialer:  %t\n", v.AutoWhitelistDialer)
	fmt.Printf("Monitoring interval:    %s\n", v.MonitoringInterval)
	fmt.Printf("Vibrate on block:       %t\n", v.VibrateOnBlock)
	fmt.Printf("Show overlay:           %t\n", v.ShowOverlay)
	fmt.Printf("Redirect delay:         %s\n", v.ScreenOffRedirectDelay)
	return nil
}

func runSettingsShow(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	s, err := a.settings.Load(context.Background())
	if err != nil {
		return err
	}
	return printSettings(s)
}

func runSettingsSet(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()

	var mode domain.BlockingMode
	if flags.Changed("mode") {
		raw, _ := flags.GetString("mode")
		m, ok := domain.ParseBlockingMode(raw)
		if !ok {
			return fmt.Errorf("unknown mode %q (want REDIRECT, SCREEN_OFF or BOTH)", raw)
		}
		mode = m
	}

	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	if _, err := a.settings.Load(ctx); err != nil {
		return err
	}
	next, err := a.settings.Update(ctx, func(s *domain.KioskSettings) {
		if mode != "" {
			s.BlockingMode = mode
		}
		if flags.Changed("interval") {
			s.MonitoringInterval, _ = flags.GetDuration("interval")
		}
		if flags.Changed("redirect-delay") {
			s.ScreenOffRedirectDelay, _ = flags.GetDuration("redirect-delay")
		}
		if flags.Changed("screen-off") {
			s.ScreenOffEnabled, _ = flags.GetBool("screen-off")
		}
		if flags.Changed("auto-dialer") {
			s.AutoWhitelistDialer, _ = flags.GetBool("auto-dialer")
		}
		if flags.Changed("vibrate") {
			s.VibrateOnBlock, _ = flags.GetBool("vibrate")
		}
		if flags.Changed("overlay") {
			s.ShowOverlay, _ = flags.GetBool("overlay")
		}
	})
	if err != nil {
		return err
	}
	return printSettings(next)
}

func addLogCommands(root *cobra.Command) {
	logCmd := &cobra.Command{
		Use:   "log",
		Short: "Show recent block events",
		RunE:  runLog,
	}
	logCmd.Flags().IntVar(&logLimit, "limit", 50, "Number of events to show")
	logCmd.Flags().DurationVar(&logPrune, "prune-older-than", 0, "Delete events older than this age (e.g. 720h)")
	logCmd.Flags().StringVar(&logCount, "count", "", "Print how often a package was blocked")
	root.AddCommand(logCmd)
}

func runLog(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	if logPrune > 0 {
		n, err := a.store.PruneBlockEventsBefore(ctx, time.Now().Add(-logPrune))
		if err != nil {
			return err
		}
		fmt.Printf("Pruned %d events.\n", n)
		return nil
	}
	if logCount != "" {
		n, err := a.store.BlockCount(ctx, logCount)
		if err != nil {
			return err
		}
		fmt.Printf("%s blocked %d times\n", logCount, n)
		return nil
	}

	events, err := a.store.RecentBlockEvents(ctx, logLimit)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Println("No block events.")
		return nil
	}
	for _, e := range events {
		session := "-"
		if e.SessionID != 0 {
			session = fmt.Sprintf("#%d", e.SessionID)
		}
		fmt.Printf("%s  %-10s %-6s %s\n", e.Timestamp.Format(time.DateTime), e.ActionTaken, session, e.PackageName)
	}
	return nil
}

func addServiceCommands(root *cobra.Command) {
	serviceCmd := &cobra.Command{
		Use:   "service",
		Short: "Manage the systemd unit that keeps the daemon running",
	}
	serviceCmd.AddCommand(
		&cobra.Command{
			Use:   "install",
			Short: "Install and enable the systemd unit",
			RunE:  runServiceInstall,
		},
		&cobra.Command{
			Use:   "uninstall",
			Short: "Disable and remove the systemd unit",
			RunE: func(cmd *cobra.Command, args []string) error {
				m := infra.NewSystemdManager(infra.DetectExecMode(), configPath)
				if err := m.Uninstall(); err != nil {
					return err
				}
				fmt.Printf("Removed %s\n", m.UnitPath())
				return nil
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show whether the unit is installed and current",
			RunE:  runServiceStatus,
		},
	)
	root.AddCommand(serviceCmd)
}

func runServiceInstall(cmd *cobra.Command, args []string) error {
	execMode := infra.DetectExecMode()
	fmt.Printf("Execution mode: %s\n", execMode.Mode)

	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	m := infra.NewSystemdManager(execMode, configPath)
	if m.IsInstalled() && !m.NeedsUpdate(execPath) {
		fmt.Printf("Unit already installed: %s\n", m.UnitPath())
		return nil
	}
	if err := m.Install(execPath); err != nil {
		return err
	}
	fmt.Printf("Installed %s\n", m.UnitPath())
	return nil
}

func runServiceStatus(cmd *cobra.Command, args []string) error {
	execPath, err := os.Executable()
	if err != nil {
		return err
	}
	m := infra.NewSystemdManager(infra.DetectExecMode(), configPath)
	switch {
	case !m.IsInstalled():
		fmt.Println("Unit: not installed")
	case m.NeedsUpdate(execPath):
		fmt.Printf("Unit: installed, outdated (%s)\n", m.UnitPath())
	default:
		fmt.Printf("Unit: installed (%s)\n", m.UnitPath())
	}
	return nil
}
