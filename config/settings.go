package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const DefaultZipPath = "data/md_data.mbxc"

// DefaultSpecialLabels are hidden from search unless asked for by name.
var DefaultSpecialLabels = []string{"Spam", "Papierkorb", "Gelöscht", "Gesendet"}

// settingsCandidates are tried in order when no settings path is given.
var settingsCandidates = []string{
	"settings.yaml",
	filepath.Join("..", "settings.yaml"),
	filepath.Join("data", "settings.yaml"),
}

// Settings is the archive viewer configuration.
type Settings struct {
	ZipPath string `yaml:"zip_path"`
	// FilterLabels are removed from every label list shown to users.
	FilterLabels  []string `yaml:"filter_labels"`
	SpecialLabels []string `yaml:"special_labels"`

	// Path is the file the settings were read from, empty for defaults.
	Path string `yaml:"-"`
}

func DefaultSettings() Settings {
	return Settings{
		ZipPath:       DefaultZipPath,
		FilterLabels:  []string{},
		SpecialLabels: append([]string(nil), DefaultSpecialLabels...),
	}
}

// LoadSettings reads the settings file at path. With an empty path the
// usual locations are searched and defaults are returned when none exists.
func LoadSettings(path string) (Settings, error) {
	if path != "" {
		return readSettings(path)
	}
	for _, candidate := range settingsCandidates {
		info, err := os.Stat(candidate)
		if err != nil || info.IsDir() {
			continue
		}
		return readSettings(candidate)
	}
	return DefaultSettings(), nil
}

func readSettings(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Settings{}, fmt.Errorf("settings file %s not found: %w", path, err)
		}
		return Settings{}, fmt.Errorf("read settings: %w", err)
	}
	s, err := ParseSettings(data, filepath.Dir(path))
	if err != nil {
		return Settings{}, fmt.Errorf("settings %s: %w", path, err)
	}
	s.Path = path
	return s, nil
}

// ParseSettings decodes YAML settings. Keys that are absent keep their
// defaults; a relative zip_path is resolved against dir.
func ParseSettings(data []byte, dir string) (Settings, error) {
	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Settings{}, fmt.Errorf("parse yaml: %w", err)
	}

	defaults := DefaultSettings()
	if s.ZipPath == "" {
		s.ZipPath = defaults.ZipPath
	} else if !filepath.IsAbs(s.ZipPath) && dir != "" {
		s.ZipPath = filepath.Join(dir, s.ZipPath)
	}
	if s.FilterLabels == nil {
		s.FilterLabels = defaults.FilterLabels
	}
	if s.SpecialLabels == nil {
		s.SpecialLabels = defaults.SpecialLabels
	}
	return s, nil
}
