// Package commands provides the cobra commands shared by the specmerge
// binaries.
package commands

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/c360studio/specmerge/config"
)

// ErrReported is returned by commands that already wrote their diagnostic to
// standard error. Callers exit non-zero without printing it again.
var ErrReported = errors.New("failure already reported")

// Options holds the flags shared by every command.
type Options struct {
	ConfigPath  string
	RepoPath    string
	LogLevel    string
	MetricsFile string
}

// AddFlags registers the shared flags as persistent flags of cmd.
func (o *Options) AddFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.StringVar(&o.ConfigPath, "config", "", "Config file path (YAML)")
	flags.StringVar(&o.RepoPath, "repo", "", "Repository root (default: git root of the working directory)")
	flags.StringVar(&o.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flags.StringVar(&o.MetricsFile, "metrics-file", "", "Write Prometheus metrics to this file after the command")
}

// NewLogger builds the text logger used by all commands.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// Load resolves configuration and builds the logger for cmd. Flags
// override file configuration.
func (o *Options) Load(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	stderr := cmd.ErrOrStderr()

	bootLevel := slog.LevelWarn
	if o.LogLevel != "" {
		level, err := config.ParseLevel(o.LogLevel)
		if err != nil {
			return nil, nil, err
		}
		bootLevel = level
	}

	loader := config.NewLoader(NewLogger(stderr, bootLevel))
	if o.RepoPath != "" {
		absRepo, err := filepath.Abs(o.RepoPath)
		if err != nil {
			return nil, nil, fmt.Errorf("resolve repo path: %w", err)
		}
		info, err := os.Stat(absRepo)
		if err != nil {
			return nil, nil, fmt.Errorf("stat repo path: %w", err)
		}
		if !info.IsDir() {
			return nil, nil, fmt.Errorf("not a directory: %s", absRepo)
		}
		loader.WithWorkDir(absRepo)
	}

	cfg, err := loader.Load(o.ConfigPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	if o.RepoPath != "" {
		cfg.Repo.Path, _ = filepath.Abs(o.RepoPath)
	}
	if o.LogLevel != "" {
		cfg.Log.Level = o.LogLevel
	}
	if o.MetricsFile != "" {
		cfg.Metrics.Textfile = o.MetricsFile
	}

	level, err := config.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, nil, err
	}
	return cfg, NewLogger(stderr, level), nil
}

// Start loads configuration and starts an App for cmd. The caller must
// call Shutdown on the returned App.
func (o *Options) Start(cmd *cobra.Command) (*App, error) {
	cfg, logger, err := o.Load(cmd)
	if err != nil {
		return nil, err
	}

	app := NewApp(cfg, logger)
	if err := app.Start(cmd.Context()); err != nil {
		app.Shutdown()
		return nil, err
	}
	return app, nil
}
