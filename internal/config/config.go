// Package config loads strainline settings from a YAML file, an optional
// .env file and STRAINLINE_* environment variables, in that order of
// increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/roach88/strainline/internal/match"
	"github.com/roach88/strainline/internal/notify"
	"github.com/roach88/strainline/internal/session"
	"github.com/roach88/strainline/internal/store"
)

// Environment overrides.
const (
	EnvDBPath    = "STRAINLINE_DB_PATH"
	EnvAliasFile = "STRAINLINE_ALIAS_FILE"
	EnvRedisAddr = "STRAINLINE_REDIS_ADDR"
	EnvLogLevel  = "STRAINLINE_LOG_LEVEL"
)

// MatchConfig tunes the matching path.
type MatchConfig struct {
	MinScore          float64       `yaml:"min_score"`
	Parallelism       int           `yaml:"parallelism"`
	MaxTermCandidates int           `yaml:"max_term_candidates"`
	Weights           match.Weights `yaml:"weights"`
}

// StoreConfig configures the lineage store.
type StoreConfig struct {
	WriteTimeout time.Duration `yaml:"write_timeout"`
	Reconcile    bool          `yaml:"reconcile"`
}

// NotifyConfig configures change notification.
type NotifyConfig struct {
	HandlerTimeout time.Duration `yaml:"handler_timeout"`
	QueueSize      int           `yaml:"queue_size"`
}

// SessionConfig bounds the session registry.
type SessionConfig struct {
	MaxSessions   int           `yaml:"max_sessions"`
	QueueSize     int           `yaml:"queue_size"`
	IdleTTL       time.Duration `yaml:"idle_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// PoolConfig sizes the shared worker pool.
type PoolConfig struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`
}

// RedisConfig enables the cross-process change relay. An empty Addr
// disables it.
type RedisConfig struct {
	Addr    string `yaml:"addr"`
	Channel string `yaml:"channel"`
}

// Config is the root configuration.
type Config struct {
	DBPath    string        `yaml:"db_path"`
	AliasFile string        `yaml:"alias_file"`
	LogLevel  string        `yaml:"log_level"`
	Match     MatchConfig   `yaml:"match"`
	Store     StoreConfig   `yaml:"store"`
	Notify    NotifyConfig  `yaml:"notify"`
	Sessions  SessionConfig `yaml:"sessions"`
	Pool      PoolConfig    `yaml:"pool"`
	Redis     RedisConfig   `yaml:"redis"`
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := &Config{Match: MatchConfig{MinScore: match.DefaultMinScore}}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills every zero field with its default. match.min_score is
// the exception: it is seeded by Default, and an explicit zero is left for
// Validate to reject.
func (c *Config) ApplyDefaults() {
	if c.DBPath == "" {
		c.DBPath = "strainline.db"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Match.Parallelism == 0 {
		c.Match.Parallelism = match.DefaultParallelism
	}
	if c.Match.MaxTermCandidates == 0 {
		c.Match.MaxTermCandidates = match.DefaultMaxTermCandidates
	}
	if c.Match.Weights == (match.Weights{}) {
		c.Match.Weights = match.DefaultWeights
	}
	if c.Store.WriteTimeout == 0 {
		c.Store.WriteTimeout = store.DefaultWriteTimeout
	}
	if c.Notify.HandlerTimeout == 0 {
		c.Notify.HandlerTimeout = notify.DefaultHandlerTimeout
	}
	if c.Notify.QueueSize == 0 {
		c.Notify.QueueSize = notify.DefaultQueueSize
	}
	if c.Sessions.MaxSessions == 0 {
		c.Sessions.MaxSessions = session.DefaultMaxSessions
	}
	if c.Sessions.QueueSize == 0 {
		c.Sessions.QueueSize = session.DefaultQueueSize
	}
	if c.Sessions.IdleTTL == 0 {
		c.Sessions.IdleTTL = session.DefaultIdleTTL
	}
	if c.Sessions.SweepInterval == 0 {
		c.Sessions.SweepInterval = session.DefaultSweepInterval
	}
	if c.Pool.Workers == 0 {
		c.Pool.Workers = 4
	}
	if c.Pool.QueueSize == 0 {
		c.Pool.QueueSize = 256
	}
	if c.Redis.Channel == "" {
		c.Redis.Channel = notify.DefaultRelayChannel
	}
}

// Validate rejects values no component can run with.
func (c *Config) Validate() error {
	if c.Match.MinScore <= 0 || c.Match.MinScore >= 1 {
		return fmt.Errorf("match.min_score must be in (0,1), got %v", c.Match.MinScore)
	}
	w := c.Match.Weights
	if w.Name < 0 || w.Vendor < 0 || w.Type < 0 || w.Weight < 0 {
		return fmt.Errorf("match.weights must not be negative")
	}
	if c.Match.Parallelism < 0 || c.Pool.Workers < 0 || c.Pool.QueueSize < 0 {
		return fmt.Errorf("parallelism and pool sizes must not be negative")
	}
	if c.Notify.QueueSize < 0 {
		return fmt.Errorf("notify.queue_size must not be negative")
	}
	if c.Store.WriteTimeout < 0 || c.Notify.HandlerTimeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	if c.Sessions.MaxSessions < 0 || c.Sessions.QueueSize < 0 {
		return fmt.Errorf("session limits must not be negative")
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn or error, got %q", c.LogLevel)
	}
	return nil
}

// Load reads a config from path on top of Default. If the file does not
// exist, defaults are used. Environment overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	cfg.ApplyDefaults()
	cfg.ApplyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadDotEnv loads the given .env files (default ".env") into the process
// environment. Missing files are ignored; variables already set win.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overrides fields from STRAINLINE_* variables.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv(EnvDBPath); v != "" {
		c.DBPath = v
	}
	if v := getenv(EnvAliasFile); v != "" {
		c.AliasFile = v
	}
	if v := getenv(EnvRedisAddr); v != "" {
		c.Redis.Addr = v
	}
	if v := getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
}

// Save writes cfg to path as YAML.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
