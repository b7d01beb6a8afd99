// Package config loads logrelay's TOML configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config holds the relay settings after defaults have been applied.
type Config struct {
	Listen       string
	PathsFile    string
	LogExtension string
	PollInterval time.Duration
	DequeueWait  time.Duration
	WriteTimeout time.Duration
	Notify       bool
	LogLevel     string
	LogFormat    string
	LogFile      string
}

const (
	DefaultConfigPath = "~/.config/logrelay/config.toml"
	defaultPathsFile  = "~/.config/logrelay/config_log.json"
	defaultListen     = "127.0.0.1:50006"
	defaultExtension  = ".txt"
	defaultPollMS     = 250
	defaultWaitMS     = 1000
	defaultWriteMS    = 5000
)

type fileConfig struct {
	Listen         string `toml:"listen"`
	PathsFile      string `toml:"paths_file"`
	LogExtension   string `toml:"log_extension"`
	PollIntervalMS int    `toml:"poll_interval_ms"`
	DequeueWaitMS  int    `toml:"dequeue_wait_ms"`
	WriteTimeoutMS int    `toml:"write_timeout_ms"`
	Notify         *bool  `toml:"notify"`
	LogLevel       string `toml:"log_level"`
	LogFormat      string `toml:"log_format"`
	LogFile        string `toml:"log_file"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		Listen:       defaultListen,
		PathsFile:    mustExpand(defaultPathsFile),
		LogExtension: defaultExtension,
		PollInterval: defaultPollMS * time.Millisecond,
		DequeueWait:  defaultWaitMS * time.Millisecond,
		WriteTimeout: defaultWriteMS * time.Millisecond,
		Notify:       true,
		LogLevel:     "info",
		LogFormat:    "console",
	}
}

// Load parses the config at path (DefaultConfigPath when empty). A missing
// file yields Default.
func Load(path string) (Config, error) {
	if strings.TrimSpace(path) == "" {
		path = DefaultConfigPath
	}
	resolved, err := expandPath(path)
	if err != nil {
		return Config{}, err
	}

	cfg := Default()
	data, err := os.ReadFile(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var raw fileConfig
	if err := toml.Unmarshal(data, &raw); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	if v := strings.TrimSpace(raw.Listen); v != "" {
		cfg.Listen = v
	}
	if v := strings.TrimSpace(raw.PathsFile); v != "" {
		cfg.PathsFile = mustExpand(v)
	}
	if v := strings.TrimSpace(raw.LogExtension); v != "" {
		if !strings.HasPrefix(v, ".") {
			v = "." + v
		}
		cfg.LogExtension = v
	}
	if raw.PollIntervalMS > 0 {
		cfg.PollInterval = time.Duration(raw.PollIntervalMS) * time.Millisecond
	}
	if raw.DequeueWaitMS > 0 {
		cfg.DequeueWait = time.Duration(raw.DequeueWaitMS) * time.Millisecond
	}
	if raw.WriteTimeoutMS > 0 {
		cfg.WriteTimeout = time.Duration(raw.WriteTimeoutMS) * time.Millisecond
	}
	if raw.Notify != nil {
		cfg.Notify = *raw.Notify
	}
	if v := strings.TrimSpace(raw.LogLevel); v != "" {
		cfg.LogLevel = v
	}
	if v := strings.TrimSpace(raw.LogFormat); v != "" {
		cfg.LogFormat = v
	}
	if v := strings.TrimSpace(raw.LogFile); v != "" {
		cfg.LogFile = mustExpand(v)
	}
	return cfg, nil
}

func mustExpand(path string) string {
	expanded, err := expandPath(path)
	if err != nil {
		return path
	}
	return expanded
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("path is empty")
	}
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}
