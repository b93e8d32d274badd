// Package main is the CLI entry point for kioskd.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/eliteGoblin/kioskd/internal/config"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "kioskd",
	Short: "Kiosk enforcement daemon - keeps the device on whitelisted apps",
	Long: `kioskd watches the foreground application during a kiosk session and
blocks anything that is not whitelisted, using the strongest enforcement the
host allows: overlay, screen lock, lock-task pinning, killing the app, and
redirecting back to the kiosk launcher.

Emergency dialers are never blocked.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Prints version, commit, and build time. Use --json for machine-readable output.`,
	Run:   runVersion,
}

// Hidden daemon command - used for self-exec when spawning the engine
var daemonCmd = &cobra.Command{
	Use:    "daemon",
	Hidden: true,
	RunE:   runDaemon,
}

var (
	configPath string
	verbose    bool
	jsonOutput bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (TOML or YAML)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log to stderr")
	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(daemonCmd)
	addSessionCommands(rootCmd)
	addWhitelistCommands(rootCmd)
	addSettingsCommands(rootCmd)
	addLogCommands(rootCmd)
	addServiceCommands(rootCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return err
	}
	paths := dataPaths(cfg)

	logger := createLogger(cfg, paths.LogPath())
	defer func() { _ = logger.Sync() }()

	a, err := openApp(cfg, paths, logger)
	if err != nil {
		logger.Error("failed to open store", zap.Error(err))
		return err
	}
	defer a.Close()

	engine, cleanup := a.buildEngine(Version)
	defer cleanup()

	// Set up graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("received shutdown signal")
		cancel()
	}()

	return engine.Run(ctx)
}

func createLogger(cfg *config.Config, defaultPath string) *zap.Logger {
	zc := zap.NewProductionConfig()

	path := cfg.Logging.Path
	if path == "" {
		path = defaultPath
	}
	errPath := cfg.Logging.ErrorPath
	if errPath == "" {
		errPath = path
	}
	zc.OutputPaths = []string{path}
	zc.ErrorOutputPaths = []string{errPath}
	zc.EncoderConfig.TimeKey = "time"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if level, err := zapcore.ParseLevel(cfg.Logging.Level); err == nil {
		zc.Level = zap.NewAtomicLevelAt(level)
	}

	logger, err := zc.Build()
	if err != nil {
		// Fallback to stderr if file logging fails
		logger, _ = zap.NewProduction()
	}
	return logger
}

// cliLogger is silent unless --verbose.
func cliLogger() *zap.Logger {
	if !verbose {
		return zap.NewNop()
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		out, _ := json.Marshal(map[string]string{
			"version":    Version,
			"commit":     Commit,
			"build_time": BuildTime,
		})
		fmt.Println(string(out))
		return
	}
	fmt.Printf("kioskd %s (commit: %s, built: %s)\n", Version, Commit, BuildTime)
}
