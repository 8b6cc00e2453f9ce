package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const (
	EnvSettings = "MBXC_SETTINGS"
	EnvArchive  = "MBXC_ARCHIVE"
)

// Config captures the global command-line options.
type Config struct {
	SettingsPath string
	ArchivePath  string
	LogLevel     string
	LogDir       string

	// Settings as loaded from the settings file, with ZipPath already
	// overridden by --archive or MBXC_ARCHIVE.
	Settings Settings
}

// RegisterFlags attaches the global flags to the provided command. They are
// persistent so every subcommand sees them.
func RegisterFlags(cmd *cobra.Command) error {
	flags := cmd.PersistentFlags()
	flags.String("settings", "", "Path to settings.yaml (falls back to "+EnvSettings+" and the usual search locations)")
	flags.String("archive", "", "Path to the .mbxc archive (falls back to "+EnvArchive+" and zip_path from the settings)")
	flags.String("log-level", "info", "Logging level: debug, info, warn, error")
	flags.String("log-dir", "", "Directory for log files; empty logs to stdout only")
	return nil
}

// LoadConfig converts the parsed Cobra flags into a Config struct with validation.
func LoadConfig(cmd *cobra.Command) (Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return Config{}, err
	}

	flags := cmd.Flags()

	settingsPath, err := flags.GetString("settings")
	if err != nil {
		return Config{}, err
	}
	archivePath, err := flags.GetString("archive")
	if err != nil {
		return Config{}, err
	}
	logLevel, err := flags.GetString("log-level")
	if err != nil {
		return Config{}, err
	}
	logDir, err := flags.GetString("log-dir")
	if err != nil {
		return Config{}, err
	}

	if settingsPath == "" {
		settingsPath = os.Getenv(EnvSettings)
	}
	if archivePath == "" {
		archivePath = os.Getenv(EnvArchive)
	}

	settings, err := LoadSettings(settingsPath)
	if err != nil {
		return Config{}, err
	}
	if archivePath == "" {
		archivePath = settings.ZipPath
	}
	settings.ZipPath = filepath.Clean(archivePath)

	logLevel = strings.ToLower(logLevel)
	if logLevel == "warning" {
		logLevel = "warn"
	}

	cfg := Config{
		SettingsPath: settings.Path,
		ArchivePath:  settings.ZipPath,
		LogLevel:     logLevel,
		LogDir:       logDir,
		Settings:     settings,
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func validateConfig(cfg Config) error {
	if cfg.ArchivePath == "" || cfg.ArchivePath == "." {
		return fmt.Errorf("archive path is empty")
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid --log-level: %s", cfg.LogLevel)
	}

	return nil
}

// loadDotEnv fills unset environment variables from path. A missing file
// is not an error.
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("load %s: %w", path, err)
}
