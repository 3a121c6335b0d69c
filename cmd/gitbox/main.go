package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/schaermu/gitbox/internal/config"
	"github.com/schaermu/gitbox/internal/daemon"
	"github.com/schaermu/gitbox/internal/git"
	"github.com/schaermu/gitbox/internal/status"
	gitbox "github.com/schaermu/gitbox/internal/sync"
	"github.com/schaermu/gitbox/internal/systemduser"
	"github.com/schaermu/gitbox/internal/watch"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile   string
	logLevel  string
	logFormat string
	logFile   string

	// Install command flags
	noEnable bool
)

func main() {
	err := rootCmd.Execute()
	if err != nil && !errors.Is(err, gitbox.ErrStopped) {
		fmt.Fprintf(os.Stderr, "gitbox: %v\n", err)
	}
	os.Exit(exitCode(err))
}

// exitCode maps the result of a command onto the process exit status.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, gitbox.ErrStopped):
		return systemduser.StoppedExitStatus
	default:
		return 1
	}
}

var rootCmd = &cobra.Command{
	Use:   "gitbox",
	Short: "Mirror a local directory into a remote git repository",
	Long: `gitbox watches a local directory and records every change as a commit
that is pushed to a remote git repository right away.

It runs as a long-lived service, usually as a systemd user unit installed
with "gitbox install".`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Watch the configured directory and sync every change",
	Long: `Run clones the configured repository into the watched directory on first
start, then commits and pushes each change after a short debounce window.

SIGHUP reloads the configuration. SIGINT and SIGTERM stop the service with
exit status 3.`,
	RunE: runRun,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the last recorded sync status",
	RunE:  runStatus,
}

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Install gitbox as a systemd user service",
	RunE:  runInstall,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		_, _ = fmt.Fprintf(out, "gitbox %s\n", version)
		_, _ = fmt.Fprintf(out, "  commit: %s\n", commit)
		_, _ = fmt.Fprintf(out, "  built:  %s\n", date)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/gitbox/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "write logs to this file with size-based rotation")

	installCmd.Flags().BoolVar(&noEnable, "no-enable", false, "only write the unit file")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(versionCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	logger := setupLogger()
	path := configPath()
	logger.Info("loading configuration", "path", path)

	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("%w: %w", gitbox.ErrConfigUnreadable, err)
	}
	logger.Debug("configuration loaded",
		"repo", cfg.RepoURL,
		"branch", cfg.Branch,
		"localwatch", cfg.LocalWatch,
		"backend", cfg.BackendName(),
		"debounce", cfg.DebounceWindow())

	engine := gitbox.NewEngine(
		config.NewFileStore(path),
		git.New,
		func(window time.Duration) gitbox.Watcher { return watch.New(window, logger) },
		gitbox.NewJournal(),
		logger,
	)

	serverDone := make(chan error, 1)
	if cfg.Serve.ListenAddr != "" || status.Activated() {
		srv := status.NewServer(cfg.Serve.ListenAddr, engine.Journal(), logger)
		go func() { serverDone <- srv.Start(ctx) }()
	} else {
		close(serverDone)
	}

	err = engine.Serve(ctx, daemon.Signals(ctx))
	cancel()
	if serr := <-serverDone; serr != nil {
		logger.Error("status server failed", "error", serr)
	}

	switch {
	case errors.Is(err, gitbox.ErrStopped):
		logger.Info("stopped")
	case err != nil && !errors.Is(err, context.Canceled):
		logger.Error("sync failed", "error", err)
	}
	return err
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	snap, err := gitbox.LoadSnapshot(cfg.StatePath())
	if errors.Is(err, os.ErrNotExist) {
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "no status recorded yet at %s\n", cfg.StatePath())
		return nil
	}
	if err != nil {
		return err
	}
	return printSnapshot(cmd.OutOrStdout(), snap)
}

func printSnapshot(w io.Writer, snap *gitbox.Snapshot) error {
	if logFormat == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}

	_, _ = fmt.Fprintf(w, "events:   %d (%d skipped)\n", snap.Events, snap.Skipped)
	_, _ = fmt.Fprintf(w, "fetches:  %d (%d failed)\n", snap.Fetches, snap.FetchFailures)
	_, _ = fmt.Fprintf(w, "commits:  %d (%d failed)\n", snap.Commits, snap.CommitFailures)
	_, _ = fmt.Fprintf(w, "pushes:   %d\n", snap.Pushes)
	if snap.LastCommit != "" {
		_, _ = fmt.Fprintf(w, "last commit: %s %s\n", snap.LastCommit, snap.LastMessage)
	}
	if !snap.LastPushAt.IsZero() {
		_, _ = fmt.Fprintf(w, "last push:   %s\n", snap.LastPushAt.Format(time.RFC3339))
	}
	for _, e := range []struct{ label, msg string }{
		{"fetch", snap.LastFetchError},
		{"commit", snap.LastCommitError},
		{"push", snap.LastPushError},
	} {
		if e.msg != "" {
			_, _ = fmt.Fprintf(w, "last %s error: %s\n", e.label, e.msg)
		}
	}
	return nil
}

func runInstall(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	logger := setupLogger()

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to locate executable: %w", err)
	}
	cfgPath, err := filepath.Abs(configPath())
	if err != nil {
		return err
	}
	if _, err := config.Load(cfgPath); err != nil {
		return fmt.Errorf("refusing to install with an invalid config: %w", err)
	}

	unit := systemduser.Unit{Executable: exe, ConfigPath: cfgPath}
	if logLevel != "info" {
		unit.LogLevel = logLevel
	}
	return install(ctx, systemduser.NewClient(), unit, systemduser.UnitPath(), logger)
}

func install(ctx context.Context, sd systemduser.Systemd, unit systemduser.Unit, path string, logger *slog.Logger) error {
	if err := systemduser.Install(unit, path); err != nil {
		return err
	}
	logger.Info("unit installed", "path", path)

	if noEnable {
		return nil
	}
	if ok, err := sd.IsAvailable(ctx); !ok {
		logger.Warn("systemctl --user not available, enable the unit manually", "error", err)
		return nil
	}
	if err := sd.DaemonReload(ctx); err != nil {
		return err
	}
	if err := sd.EnableNow(ctx, systemduser.UnitName); err != nil {
		return err
	}
	logger.Info("unit enabled", "unit", systemduser.UnitName)
	return nil
}

func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.DefaultPath()
}

func setupLogger() *slog.Logger {
	// Parse log level
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var out io.Writer = os.Stdout
	if logFile != "" {
		out = &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		}
	}

	// Create handler based on format
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if logFormat == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	return slog.New(handler)
}
