package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"dirdiff/internal/config"
	"dirdiff/internal/engine"
	"dirdiff/internal/metrics"
	"dirdiff/internal/report"
)

var (
	// Set at build time
	version = "dev"
	commit  = "none"
)

const (
	exitFatal       = 1
	exitInterrupted = 130
)

var errInterrupted = errors.New("interrupted")

type options struct {
	configPath         string
	jobs               int
	checkMtime         bool
	followSymlinks     bool
	followRootSymlinks bool
	exclude            []string
	compareMode        string
	blockSize          int
	format             string
	progress           bool
	metricsFile        string
	logLevel           string
	logFormat          string
}

func main() {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		if errors.Is(err, errInterrupted) {
			os.Exit(exitInterrupted)
		}
		os.Exit(exitFatal)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "dirdiff [flags] <dir1> <dir2>",
		Short: "Report the differences between two directory trees",
		Long: `dirdiff walks two directory trees and prints, for every relative path, whether
it exists in only one of them or exists in both with different content.

File contents are never diffed: only presence, type, size and content equality
are reported. Paths present in both trees are compared in parallel.

Output is one tab separated line per path:

  [Files differ]                  content or type differs
  [Present in first dir. only]    path missing from dir2
  [Present in second dir. only]   path missing from dir1
  [Differ by mtime only]          same content, different mtime (--check-mtime)
  [Error]                         path could not be compared`,
		Args:         cobra.ExactArgs(2),
		Version:      fmt.Sprintf("%s (commit %s)", version, commit),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiff(cmd, opts, args[0], args[1])
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.configPath, "config", "c", "dirdiff.yaml", "config file path")
	flags.IntVarP(&opts.jobs, "jobs", "j", 0, "number of parallel comparisons (0 for one per CPU)")
	flags.BoolVar(&opts.checkMtime, "check-mtime", false, "report files with equal content but different mtime")
	flags.BoolVarP(&opts.followSymlinks, "follow-symlink", "L", false, "follow symlinks found inside the trees")
	flags.BoolVarP(&opts.followRootSymlinks, "follow-root-symlinks", "H", false, "follow symlinks given as dir1 or dir2")
	flags.StringSliceVar(&opts.exclude, "exclude", nil, "glob of paths to ignore (repeatable, 'name/' matches a directory anywhere)")
	flags.StringVar(&opts.compareMode, "compare-mode", string(config.CompareBytes), "content comparison: bytes or xxhash")
	flags.IntVar(&opts.blockSize, "block-size", config.DefaultBlockSize, "read block size in bytes")
	flags.StringVar(&opts.format, "format", string(report.FormatText), "output format: text or json")
	flags.BoolVar(&opts.progress, "progress", false, "show comparison progress on stderr when it is a terminal")
	flags.StringVar(&opts.metricsFile, "metrics-file", "", "write run metrics in Prometheus text format to this file")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	flags.StringVar(&opts.logFormat, "log-format", "text", "log format (text, json)")

	return cmd
}

func runDiff(cmd *cobra.Command, opts *options, dir1, dir2 string) error {
	logger := setupLogger(cmd.ErrOrStderr(), opts.logLevel, opts.logFormat)

	cfg, err := loadConfig(cmd, opts, logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	run, err := cfg.Resolve()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	writer, err := report.New(report.Format(opts.format), cmd.OutOrStdout())
	if err != nil {
		return err
	}

	engineOpts := []engine.Option{engine.WithLogger(logger)}
	var m *metrics.Run
	if opts.metricsFile != "" {
		m = metrics.New()
		engineOpts = append(engineOpts, engine.WithMetrics(m))
	}
	if opts.progress {
		engineOpts = append(engineOpts, engine.WithProgress(cmd.ErrOrStderr()))
	}

	logger.Info("comparing directories", "first", dir1, "second", dir2, "workers", run.Workers)

	result, err := engine.New(run, engineOpts...).Diff(cmd.Context(), dir1, dir2)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return errInterrupted
		}
		return err
	}
	defer result.Close()

	counts, err := report.WriteAll(writer, result.Records())
	if err != nil {
		return err
	}

	logger.Info("comparison finished", "records", counts.Total())

	if m != nil {
		if err := m.WriteFile(opts.metricsFile); err != nil {
			return err
		}
	}

	if err := result.Err(); err != nil {
		if errors.Is(err, context.Canceled) {
			return errInterrupted
		}
		return err
	}

	return nil
}

// loadConfig reads the config file and applies the flags that were set
// explicitly on top of it.
func loadConfig(cmd *cobra.Command, opts *options, logger *slog.Logger) (*config.Config, error) {
	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("jobs") {
		cfg.Jobs = opts.jobs
	}
	if flags.Changed("check-mtime") {
		cfg.CheckMtime = opts.checkMtime
	}
	if flags.Changed("follow-symlink") {
		cfg.FollowSymlinks = opts.followSymlinks
	}
	if flags.Changed("follow-root-symlinks") {
		cfg.FollowRootSymlinks = opts.followRootSymlinks
	}
	if flags.Changed("exclude") {
		cfg.Exclude = append(cfg.Exclude, opts.exclude...)
	}
	if flags.Changed("compare-mode") {
		cfg.CompareMode = config.CompareMode(opts.compareMode)
	}
	if flags.Changed("block-size") {
		cfg.BlockSize = opts.blockSize
	}

	logger.Debug("configuration loaded",
		"path", opts.configPath,
		"jobs", cfg.Jobs,
		"check_mtime", cfg.CheckMtime,
		"follow_symlinks", cfg.FollowSymlinks,
		"follow_root_symlinks", cfg.FollowRootSymlinks,
		"exclude", cfg.Exclude,
		"compare_mode", cfg.CompareMode)

	return cfg, nil
}

func setupLogger(w io.Writer, logLevel, logFormat string) *slog.Logger {
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
		level = slog.LevelWarn
	}

	var handler slog.Handler
	handlerOpts := &slog.HandlerOptions{Level: level}

	if logFormat == "json" {
		handler = slog.NewJSONHandler(w, handlerOpts)
	} else {
		handler = slog.NewTextHandler(w, handlerOpts)
	}

	return slog.New(handler)
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
	}()

	return ctx, cancel
}
