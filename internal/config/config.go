package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const (
	EnvPrefix     = "TCGSYNC_"
	ConfigPathEnv = "TCGSYNC_CONFIG"

	// MaxBatchSize bounds a write batch and the id lists read alongside it.
	MaxBatchSize = 50
)

var DefaultConfigPaths = []string{
	"tcgsync.yaml",
	"tcgsync.yml",
}

type Config struct {
	Store    StoreConfig    `koanf:"store"`
	Upstream UpstreamConfig `koanf:"upstream"`
	Sync     SyncConfig     `koanf:"sync"`
	Queue    QueueConfig    `koanf:"queue"`
	Auth     AuthConfig     `koanf:"auth"`
	Server   ServerConfig   `koanf:"server"`
	Log      LogConfig      `koanf:"log"`
}

type StoreConfig struct {
	Kind string `koanf:"kind"`
	DSN  string `koanf:"dsn"`
}

type UpstreamConfig struct {
	BaseURL          string        `koanf:"base_url"`
	Timeout          time.Duration `koanf:"timeout"`
	RetryAttempts    int           `koanf:"retry_attempts"`
	RetryBaseDelay   time.Duration `koanf:"retry_base_delay"`
	RateInterval     time.Duration `koanf:"rate_interval"`
	RateBurst        int           `koanf:"rate_burst"`
	BreakerThreshold int           `koanf:"breaker_threshold"`
	BreakerCooldown  time.Duration `koanf:"breaker_cooldown"`
}

type SyncConfig struct {
	BatchSize    int  `koanf:"batch_size"`
	RecordPrices bool `koanf:"record_prices"`
	Workers      int  `koanf:"workers"`

	// StaleAfter is the age at which tcgsync-api closes running runs on
	// startup. Zero disables the check.
	StaleAfter time.Duration `koanf:"stale_after"`
}

type QueueConfig struct {
	Kind         string        `koanf:"kind"`
	PollInterval time.Duration `koanf:"poll_interval"`
	RedisAddr    string        `koanf:"redis_addr"`
	RedisKey     string        `koanf:"redis_key"`
}

type AuthConfig struct {
	AdminKey     string `koanf:"admin_key"`
	AdminKeyHash string `koanf:"admin_key_hash"`
	JWTSecret    string `koanf:"jwt_secret"`
}

type ServerConfig struct {
	BindAddr             string        `koanf:"bind_addr"`
	TriggerRatePerMinute int           `koanf:"trigger_rate_per_minute"`
	ShutdownTimeout      time.Duration `koanf:"shutdown_timeout"`
}

type LogConfig struct {
	Level      string `koanf:"level"`
	File       string `koanf:"file"`
	MaxSizeMB  int    `koanf:"max_size_mb"`
	MaxBackups int    `koanf:"max_backups"`
	MaxAgeDays int    `koanf:"max_age_days"`
}

func Defaults() *Config {
	return &Config{
		Store: StoreConfig{
			Kind: "sqlite",
			DSN:  "./tcgsync.sqlite",
		},
		Upstream: UpstreamConfig{
			BaseURL:          "https://api.tcgdex.net/v2/en",
			Timeout:          30 * time.Second,
			RetryAttempts:    3,
			RetryBaseDelay:   time.Second,
			RateInterval:     100 * time.Millisecond,
			RateBurst:        1,
			BreakerThreshold: 20,
			BreakerCooldown:  30 * time.Second,
		},
		Sync: SyncConfig{
			BatchSize:    50,
			RecordPrices: true,
			Workers:      1,
			StaleAfter:   6 * time.Hour,
		},
		Queue: QueueConfig{
			Kind:         "sql",
			PollInterval: time.Second,
			RedisAddr:    "localhost:6379",
			RedisKey:     "tcgsync:jobs",
		},
		Server: ServerConfig{
			BindAddr:             ":8080",
			TriggerRatePerMinute: 10,
			ShutdownTimeout:      15 * time.Second,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
	}
}

// Load layers struct defaults, the optional YAML file and TCGSYNC_* variables,
// in increasing priority.
func Load() (*Config, error) {
	return LoadFile(findConfigFile())
}

func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Defaults(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// envKey maps TCGSYNC_UPSTREAM_RETRY_ATTEMPTS to upstream.retry_attempts.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	if s == "config" {
		return ""
	}
	return strings.Replace(s, "_", ".", 1)
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnv); p != "" {
		return p
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Store.Kind {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("store.kind must be sqlite or postgres, got %q", c.Store.Kind))
	}
	if c.Upstream.BaseURL == "" {
		errs = append(errs, errors.New("upstream.base_url is required"))
	}
	if c.Upstream.RetryAttempts < 1 {
		errs = append(errs, errors.New("upstream.retry_attempts must be at least 1"))
	}
	if c.Upstream.RetryBaseDelay < 0 {
		errs = append(errs, errors.New("upstream.retry_base_delay must not be negative"))
	}
	if c.Upstream.RateInterval < 0 {
		errs = append(errs, errors.New("upstream.rate_interval must not be negative"))
	}
	if c.Upstream.RateBurst < 1 {
		errs = append(errs, errors.New("upstream.rate_burst must be at least 1"))
	}
	if c.Upstream.BreakerThreshold < 0 {
		errs = append(errs, errors.New("upstream.breaker_threshold must not be negative"))
	}
	if c.Sync.BatchSize < 1 || c.Sync.BatchSize > MaxBatchSize {
		errs = append(errs, fmt.Errorf("sync.batch_size must be between 1 and %d, got %d", MaxBatchSize, c.Sync.BatchSize))
	}
	if c.Sync.StaleAfter < 0 {
		errs = append(errs, errors.New("sync.stale_after must not be negative"))
	}
	if c.Sync.Workers < 1 {
		errs = append(errs, errors.New("sync.workers must be at least 1"))
	}
	switch c.Queue.Kind {
	case "sql":
	case "redis":
		if c.Queue.RedisAddr == "" {
			errs = append(errs, errors.New("queue.redis_addr is required for the redis queue"))
		}
	default:
		errs = append(errs, fmt.Errorf("queue.kind must be sql or redis, got %q", c.Queue.Kind))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	return errors.Join(errs...)
}

// AuthConfigured reports whether any admin credential is set. Without one the
// trigger endpoint rejects every request.
func (c *Config) AuthConfigured() bool {
	return c.Auth.AdminKey != "" || c.Auth.AdminKeyHash != "" || c.Auth.JWTSecret != ""
}
