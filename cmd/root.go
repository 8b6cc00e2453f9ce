// Package cmd implements the mbxc command line.
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mbox-to-mbxc/archive"
	"github.com/dhcgn/mbox-to-mbxc/config"
	"github.com/dhcgn/mbox-to-mbxc/state"
)

var (
	cfg           config.Config
	logger        = slog.Default()
	loggerCleanup = func() error { return nil }
)

var rootCmd = &cobra.Command{
	Use:           "mbxc",
	Short:         "Convert mbox exports into searchable MBXC archives",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.LoadConfig(cmd)
		if err != nil {
			return err
		}

		l, cleanup, err := setupLogger(cfg, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		logger, loggerCleanup = l, cleanup
		slog.SetDefault(logger)
		logger.Debug("configuration loaded", "settings", cfg.SettingsPath, "archive", cfg.ArchivePath)
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return loggerCleanup()
	},
}

func init() {
	if err := config.RegisterFlags(rootCmd); err != nil {
		panic(fmt.Sprintf("register CLI flags: %v", err))
	}
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// setupLogger builds the text logger. Logs go to w so that command output
// on stdout stays machine readable.
func setupLogger(cfg config.Config, w io.Writer) (*slog.Logger, func() error, error) {
	level := new(slog.LevelVar)
	level.Set(slog.LevelInfo)

	switch cfg.LogLevel {
	case "debug":
		level.Set(slog.LevelDebug)
	case "info":
		level.Set(slog.LevelInfo)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	}

	opts := &slog.HandlerOptions{Level: level}
	cleanup := func() error { return nil }

	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			return nil, cleanup, err
		}

		logFilePath := filepath.Join(cfg.LogDir, fmt.Sprintf("mbxc-%s.log", time.Now().Format("20060102T150405")))
		file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, cleanup, err
		}

		handler := slog.NewTextHandler(io.MultiWriter(w, file), opts)
		cleanup = func() error {
			return file.Close()
		}
		return slog.New(handler), cleanup, nil
	}

	handler := slog.NewTextHandler(w, opts)
	return slog.New(handler), cleanup, nil
}

// withArchive loads the configured archive into a snapshot store and runs
// fn against it.
func withArchive(fn func(*archive.Reader) error) error {
	store := state.NewStore(logger)
	defer store.Close()

	if err := store.Reload(cfg.Settings); err != nil {
		return err
	}
	return store.View(fn)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
