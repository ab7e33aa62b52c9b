// SPDX-License-Identifier: MIT

// Package config resolves the effective configuration from defaults, a
// YAML file, and the VPO_* environment. CLI flags overlay on top in
// cmd/vpo. Precedence: flags > env > file > defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the effective runtime configuration.
type Config struct {
	DataDir      string `yaml:"data_dir"`
	DatabasePath string `yaml:"database_path"` // default <data_dir>/library.db
	TempDir      string `yaml:"temp_dir"`      // empty: temps sit next to the target

	LibraryRoots []string `yaml:"library_roots"`
	Extensions   []string `yaml:"extensions"` // default mkv/mp4/avi/mov/ts/m2ts/webm

	FFmpegPath      string `yaml:"ffmpeg_path"`
	FFprobePath     string `yaml:"ffprobe_path"`
	MKVMergePath    string `yaml:"mkvmerge_path"`
	MKVPropeditPath string `yaml:"mkvpropedit_path"`

	Workers           int           `yaml:"workers"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	StaleThreshold    time.Duration `yaml:"stale_threshold"`
	DBTimeout         time.Duration `yaml:"db_timeout"`

	// Subprocess deadline: base + size×per-GB. Zero base disables it.
	DeadlineBase  time.Duration `yaml:"deadline_base"`
	DeadlinePerGB time.Duration `yaml:"deadline_per_gb"`

	ListenAddr string `yaml:"listen_addr"`
	AuthToken  string `yaml:"-"` // env-only, never written to disk

	LogLevel           string `yaml:"log_level"`
	LogCompressionDays int    `yaml:"log_compression_days"`
	LogDeletionDays    int    `yaml:"log_deletion_days"`

	PluginDirs []string `yaml:"plugin_dirs"`
}

// Default returns the built-in defaults.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		DataDir:            filepath.Join(home, ".vpo"),
		Extensions:         []string{".mkv", ".mp4", ".avi", ".mov", ".ts", ".m2ts", ".webm"},
		Workers:            2,
		PollInterval:       5 * time.Second,
		HeartbeatInterval:  30 * time.Second,
		StaleThreshold:     5 * time.Minute,
		DBTimeout:          5 * time.Second,
		DeadlineBase:       30 * time.Minute,
		DeadlinePerGB:      10 * time.Minute,
		ListenAddr:         ":8799",
		LogLevel:           "info",
		LogCompressionDays: 7,
		LogDeletionDays:    30,
	}
}

// Load resolves the configuration: defaults, then the YAML file (the
// explicit path, $VPO_CONFIG_PATH, or <data_dir>/config.yaml if
// present), then the environment overlay.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("VPO_CONFIG_PATH")
	}
	if path == "" {
		if dd := os.Getenv("VPO_DATA_DIR"); dd != "" {
			candidate := filepath.Join(dd, "config.yaml")
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
			}
		}
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if cfg.DatabasePath == "" {
		cfg.DatabasePath = filepath.Join(cfg.DataDir, "library.db")
	}
	return cfg, nil
}

// applyEnv overlays the VPO_* environment variables.
func (c *Config) applyEnv() {
	setStr := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setStr(&c.DataDir, "VPO_DATA_DIR")
	setStr(&c.DatabasePath, "VPO_DATABASE_PATH")
	setStr(&c.TempDir, "VPO_TEMP_DIR")
	setStr(&c.FFmpegPath, "VPO_FFMPEG_PATH")
	setStr(&c.FFprobePath, "VPO_FFPROBE_PATH")
	setStr(&c.MKVMergePath, "VPO_MKVMERGE_PATH")
	setStr(&c.MKVPropeditPath, "VPO_MKVPROPEDIT_PATH")
	setStr(&c.AuthToken, "VPO_AUTH_TOKEN")
	setStr(&c.LogLevel, "VPO_LOG_LEVEL")
	setStr(&c.ListenAddr, "VPO_LISTEN_ADDR")

	if v := os.Getenv("VPO_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Workers = n
		}
	}
	if v := os.Getenv("VPO_LIBRARY_ROOTS"); v != "" {
		c.LibraryRoots = splitList(v)
	}

	if v := os.Getenv("VPO_DB_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.DBTimeout = d
		} else if secs, err := strconv.Atoi(v); err == nil {
			c.DBTimeout = time.Duration(secs) * time.Second
		}
	}
	if v := os.Getenv("VPO_LOG_COMPRESSION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.LogCompressionDays = n
		}
	}
	if v := os.Getenv("VPO_LOG_DELETION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.LogDeletionDays = n
		}
	}
	if v := os.Getenv("VPO_PLUGIN_DIRS"); v != "" {
		c.PluginDirs = splitList(v)
	}
}

// Data-dir layout.

func (c *Config) LogsDir() string     { return filepath.Join(c.DataDir, "logs") }
func (c *Config) PoliciesDir() string { return filepath.Join(c.DataDir, "policies") }
func (c *Config) PluginsDir() string  { return filepath.Join(c.DataDir, "plugins") }
func (c *Config) ProfilesDir() string { return filepath.Join(c.DataDir, "profiles") }

// EnsureLayout creates the data directory tree. `vpo init` calls this
// before opening the store.
func (c *Config) EnsureLayout() error {
	for _, dir := range []string{
		c.DataDir, c.LogsDir(), c.PoliciesDir(), c.PluginsDir(), c.ProfilesDir(),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// Validate rejects configurations the daemon cannot run with.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must be set")
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be >= 1")
	}
	if c.StaleThreshold <= c.HeartbeatInterval {
		return fmt.Errorf("stale_threshold (%s) must exceed heartbeat_interval (%s)",
			c.StaleThreshold, c.HeartbeatInterval)
	}
	return nil
}

// MatchesExtension reports whether path has a scannable extension.
func (c *Config) MatchesExtension(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range c.Extensions {
		if ext == strings.ToLower(e) {
			return true
		}
	}
	return false
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, string(os.PathListSeparator)) {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
