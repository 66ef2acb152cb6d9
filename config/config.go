// Package config handles zed.toml interpreter configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents a zed.toml interpreter configuration.
type Config struct {
	Screen   Screen   `toml:"screen"`
	Files    Files    `toml:"files"`
	Autosave Autosave `toml:"autosave"`
	Log      Log      `toml:"log"`

	// Dir is the directory containing the zed.toml file (set at load time).
	Dir string `toml:"-"`
}

// Screen configures the dimensions and styling reported to stories.
type Screen struct {
	Width  int  `toml:"width"`
	Height int  `toml:"height"`
	Color  bool `toml:"color"`
}

// Files configures where save files and transcripts go.
type Files struct {
	SaveDir       string `toml:"save-dir"`
	TranscriptDir string `toml:"transcript-dir"`
}

// Autosave configures the between-turns session snapshots.
type Autosave struct {
	Enabled bool   `toml:"enabled"`
	Dir     string `toml:"dir"`
}

// Log configures interpreter logging.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	Path      string `toml:"path"`
}

// Default returns the configuration used when no zed.toml exists.
func Default() *Config {
	return &Config{
		Screen:   Screen{Width: 80, Height: 24, Color: true},
		Files:    Files{SaveDir: "saves", TranscriptDir: "transcripts"},
		Autosave: Autosave{Enabled: true, Dir: ".zed"},
	}
}

// Load parses a zed.toml file from the given directory.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, "zed.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	c := Default()
	if err := toml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	c.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	return c, nil
}

// FindAndLoad walks up from startDir to find a zed.toml file, then
// loads and returns the configuration. Returns the defaults if no file
// is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, "zed.toml")
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			c := Default()
			c.Dir = startDir
			return c, nil
		}
		dir = parent
	}
}

// SaveDirPath returns the absolute path of the save directory.
func (c *Config) SaveDirPath() string {
	return filepath.Join(c.Dir, c.Files.SaveDir)
}

// TranscriptDirPath returns the absolute path of the transcript
// directory.
func (c *Config) TranscriptDirPath() string {
	return filepath.Join(c.Dir, c.Files.TranscriptDir)
}

// AutosaveDirPath returns the absolute path of the autosave directory.
func (c *Config) AutosaveDirPath() string {
	return filepath.Join(c.Dir, c.Autosave.Dir)
}
