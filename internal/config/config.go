// Package config loads the profile-sync configuration file and applies
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rcliao/profile-sync/internal/pinning"
	"github.com/rcliao/profile-sync/internal/queue"
	"github.com/rcliao/profile-sync/internal/snapshot"
)

// Environment variables read by Load.
const (
	EnvConfig   = "PROFILE_SYNC_CONFIG"
	EnvDB       = "PROFILE_SYNC_DB"
	EnvLogLevel = "PROFILE_SYNC_LOG_LEVEL"
	EnvSealKey  = "PROFILE_SYNC_SEAL_KEY"
)

// Config is the whole configuration file.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Log      LogConfig      `yaml:"log"`
	Queue    queue.Config   `yaml:"queue"`
	Pinning  PinningConfig  `yaml:"pinning"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Sync     SyncConfig     `yaml:"sync"`

	// Path is the file the configuration was read from, empty when only
	// defaults apply.
	Path string `yaml:"-"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

type PinningConfig struct {
	Quorum   pinning.QuorumConfig    `yaml:"quorum"`
	Backends []pinning.BackendConfig `yaml:"backends"`
}

type MetricsConfig struct {
	// Addr is the listen address of `profile-sync run`; empty disables the
	// HTTP endpoint.
	Addr string `yaml:"addr"`
}

type SyncConfig struct {
	// SealKey is a hex encoded 32-byte key; empty stores and pins plain
	// JSON snapshots.
	SealKey        string        `yaml:"seal_key"`
	ShortTermLimit int           `yaml:"short_term_limit"`
	PollInterval   time.Duration `yaml:"poll_interval"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Database: DatabaseConfig{Path: filepath.Join(home, ".profile-sync", "sync.db")},
		Log:      LogConfig{Level: "info"},
		Queue:    queue.DefaultConfig(),
		Pinning:  PinningConfig{Quorum: pinning.DefaultQuorumConfig()},
		Metrics:  MetricsConfig{Addr: "127.0.0.1:9464"},
		Sync:     SyncConfig{PollInterval: time.Minute},
	}
}

// DefaultPath is ~/.profile-sync/config.yaml.
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".profile-sync", "config.yaml")
}

// Load reads the configuration from path, or from $PROFILE_SYNC_CONFIG, or
// from DefaultPath. A missing file is only an error when the path was given
// explicitly. Environment overrides are applied last.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		if env := os.Getenv(EnvConfig); env != "" {
			path, explicit = env, true
		} else {
			path = DefaultPath()
		}
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
		cfg.Path = path
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database.path is required")
	}
	if _, err := snapshot.ParseKey(c.Sync.SealKey); err != nil {
		return fmt.Errorf("sync.seal_key: %w", err)
	}
	if c.Pinning.Quorum.RequiredSuccessCount < 0 {
		return errors.New("pinning.quorum.required_success_count must not be negative")
	}
	seen := make(map[string]bool, len(c.Pinning.Backends))
	for _, b := range c.Pinning.Backends {
		if b.Name == "" {
			return errors.New("pinning.backends: every backend needs a name")
		}
		if seen[b.Name] {
			return fmt.Errorf("pinning.backends: duplicate name %q", b.Name)
		}
		seen[b.Name] = true
	}
	return nil
}

// SealKey returns the decoded seal key, nil when sealing is off.
func (c *Config) SealKey() []byte {
	key, _ := snapshot.ParseKey(c.Sync.SealKey)
	return key
}
