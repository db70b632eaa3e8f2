// Package config provides configuration loading and management for specmerge.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full specmerge configuration as read from YAML.
type Config struct {
	Repo    RepoConfig    `yaml:"repo"`
	Layout  LayoutConfig  `yaml:"layout"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
	NATS    NATSConfig    `yaml:"nats"`
	Watch   WatchConfig   `yaml:"watch"`
}

// RepoConfig locates the repository.
type RepoConfig struct {
	// Path is the repository root; empty means the working directory
	Path string `yaml:"path"`
}

// LayoutConfig names the directories holding changes and canonical specs,
// relative to the repository root.
type LayoutConfig struct {
	ChangesDir string `yaml:"changes_dir"`
	SpecsDir   string `yaml:"specs_dir"`
}

// LogConfig configures logging
type LogConfig struct {
	// Level is one of debug, info, warn, error
	Level string `yaml:"level"`
}

// MetricsConfig configures metrics export
type MetricsConfig struct {
	// Textfile is written in Prometheus text format after each command (empty = disabled)
	Textfile string `yaml:"textfile"`
}

// NATSConfig configures merge event publishing
type NATSConfig struct {
	// URL is the NATS server URL (empty = no events)
	URL string `yaml:"url"`
	// Embedded runs an in-process server instead of dialing URL
	Embedded bool `yaml:"embedded"`
	// StoreDir is the JetStream storage directory of the embedded server,
	// relative to the repository root
	StoreDir string `yaml:"store_dir"`
	// Subject is the subject prefix; events go to <subject>.<change>
	Subject string `yaml:"subject"`
	// HistoryBucket is the JetStream KV bucket for run records (empty = disabled)
	HistoryBucket string `yaml:"history_bucket"`
	// Timeout bounds connect and publish
	Timeout time.Duration `yaml:"timeout"`
}

// Enabled reports whether a NATS connection is configured.
func (n NATSConfig) Enabled() bool {
	return n.URL != "" || n.Embedded
}

// WatchConfig configures watch mode
type WatchConfig struct {
	// Debounce is how long a file must be quiet before it is revalidated
	Debounce time.Duration `yaml:"debounce"`
}

// DefaultConfig returns the configuration used when no file sets a key.
func DefaultConfig() *Config {
	return &Config{
		Repo: RepoConfig{
			Path: "",
		},
		Layout: LayoutConfig{
			ChangesDir: "changes",
			SpecsDir:   "specs",
		},
		Log: LogConfig{
			Level: "warn",
		},
		NATS: NATSConfig{
			Subject:  "specmerge.merged",
			StoreDir: ".specmerge/jetstream",
			Timeout:  5 * time.Second,
		},
		Watch: WatchConfig{
			Debounce: 500 * time.Millisecond,
		},
	}
}

// Validate reports the first invalid key.
func (c *Config) Validate() error {
	if err := validateLayoutDir("layout.changes_dir", c.Layout.ChangesDir); err != nil {
		return err
	}
	if err := validateLayoutDir("layout.specs_dir", c.Layout.SpecsDir); err != nil {
		return err
	}
	if path.Clean(c.Layout.ChangesDir) == path.Clean(c.Layout.SpecsDir) {
		return fmt.Errorf("layout.changes_dir and layout.specs_dir must differ")
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if c.NATS.URL != "" && c.NATS.Embedded {
		return fmt.Errorf("nats.url and nats.embedded are mutually exclusive")
	}
	if c.NATS.Enabled() {
		if c.NATS.Subject == "" {
			return fmt.Errorf("nats.subject is required when NATS is enabled")
		}
		if strings.ContainsAny(c.NATS.Subject, "*> \t") {
			return fmt.Errorf("nats.subject must not contain wildcards or whitespace")
		}
	}
	if c.NATS.Timeout < 0 {
		return fmt.Errorf("nats.timeout must not be negative")
	}
	if c.Watch.Debounce < 0 {
		return fmt.Errorf("watch.debounce must not be negative")
	}
	return nil
}

func validateLayoutDir(key, dir string) error {
	if dir == "" {
		return fmt.Errorf("%s is required", key)
	}
	if filepath.IsAbs(dir) || strings.HasPrefix(dir, "/") {
		return fmt.Errorf("%s must be relative to the repository root", key)
	}
	if strings.Contains(dir, "..") {
		return fmt.Errorf("%s must not contain '..'", key)
	}
	return nil
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("log.level must be one of debug, info, warn, error (got %q)", level)
	}
}

// LoadFromFile decodes path into an empty Config after expanding environment
// references.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	config := &Config{}
	if err := yaml.Unmarshal([]byte(ExpandEnvWithDefaults(string(data))), config); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}

	return config, nil
}

// ExpandEnvWithDefaults expands $VAR, ${VAR} and ${VAR:-default}
// references. Unset variables without a default expand to "".
func ExpandEnvWithDefaults(s string) string {
	return os.Expand(s, func(key string) string {
		name, def, hasDefault := strings.Cut(key, ":-")
		if v, ok := os.LookupEnv(name); ok && v != "" {
			return v
		}
		if hasDefault {
			return def
		}
		return ""
	})
}

// SaveToFile writes the configuration as YAML, creating parent directories.
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// Merge overlays the non-zero values of other onto c.
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// Repo
	if other.Repo.Path != "" {
		c.Repo.Path = other.Repo.Path
	}

	// Layout
	if other.Layout.ChangesDir != "" {
		c.Layout.ChangesDir = other.Layout.ChangesDir
	}
	if other.Layout.SpecsDir != "" {
		c.Layout.SpecsDir = other.Layout.SpecsDir
	}

	// Log
	if other.Log.Level != "" {
		c.Log.Level = other.Log.Level
	}

	// Metrics
	if other.Metrics.Textfile != "" {
		c.Metrics.Textfile = other.Metrics.Textfile
	}

	// NATS
	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
	}
	if other.NATS.Embedded {
		c.NATS.Embedded = true
	}
	if other.NATS.StoreDir != "" {
		c.NATS.StoreDir = other.NATS.StoreDir
	}
	if other.NATS.Subject != "" {
		c.NATS.Subject = other.NATS.Subject
	}
	if other.NATS.HistoryBucket != "" {
		c.NATS.HistoryBucket = other.NATS.HistoryBucket
	}
	if other.NATS.Timeout != 0 {
		c.NATS.Timeout = other.NATS.Timeout
	}

	// Watch
	if other.Watch.Debounce != 0 {
		c.Watch.Debounce = other.Watch.Debounce
	}
}
