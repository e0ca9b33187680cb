// Package config loads the YAML configuration file for the parlo-stt CLI.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all user-tunable settings. Flags override file values.
type Config struct {
	Backend string       `yaml:"backend"`
	Model   ModelConfig  `yaml:"model"`
	Local   LocalConfig  `yaml:"local"`
	Remote  RemoteConfig `yaml:"remote"`
	// LogLevel is "debug" or "info".
	LogLevel string `yaml:"log_level"`
}

// ModelConfig selects the speech model artifact.
type ModelConfig struct {
	// Size is a registry size (tiny, base, small, medium, large-v3) or a
	// path to a ggml model file.
	Size string `yaml:"size"`
	// Dir is where named models are stored; platform default when empty.
	Dir string `yaml:"dir"`
	// AutoDownload fetches missing named models on demand.
	AutoDownload bool `yaml:"auto_download"`
}

// LocalConfig tunes the in-process worker pool.
type LocalConfig struct {
	Device         string   `yaml:"device"`
	Workers        int      `yaml:"workers"`
	DefaultTimeout Duration `yaml:"default_timeout"`
	Warmup         bool     `yaml:"warmup"`
}

// RemoteConfig points at a delegate transcription service.
type RemoteConfig struct {
	BaseURL string   `yaml:"base_url"`
	Timeout Duration `yaml:"timeout"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Backend: "local",
		Model: ModelConfig{
			Size:         "small",
			AutoDownload: true,
		},
		Local: LocalConfig{
			Device:         "auto",
			Workers:        4,
			DefaultTimeout: Duration(300 * time.Second),
			Warmup:         true,
		},
		Remote: RemoteConfig{
			Timeout: Duration(300 * time.Second),
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields keep their
// defaults; tilde in model dir is expanded to the user's home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.Model.Dir = expandTilde(cfg.Model.Dir)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadOrDefault behaves like Load but treats a missing file as defaults.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil && errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Validate rejects values the backends would fail on later anyway, so the
// user sees the problem at startup.
func (c *Config) Validate() error {
	if c.Local.Workers < 0 {
		return fmt.Errorf("local.workers must not be negative, got %d", c.Local.Workers)
	}
	if c.Local.DefaultTimeout < 0 {
		return fmt.Errorf("local.default_timeout must not be negative, got %s", c.Local.DefaultTimeout.Std())
	}
	if strings.EqualFold(c.Backend, "remote") && strings.TrimSpace(c.Remote.BaseURL) == "" {
		return errors.New("remote backend requires remote.base_url")
	}
	return nil
}

func expandTilde(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}
