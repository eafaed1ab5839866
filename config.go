package iam

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ============================================================================
// CONFIGURATION
// ============================================================================

// Config is the file-loadable settings surface for a resolver deployment.
type Config struct {
	Cache    CacheConfig    `json:"cache" yaml:"cache"`
	External ExternalConfig `json:"external" yaml:"external"`
	Redis    RedisConfig    `json:"redis" yaml:"redis"`
	Database DatabaseConfig `json:"database" yaml:"database"`
	Token    TokenConfig    `json:"token" yaml:"token"`
}

type CacheConfig struct {
	TTLSeconds int   `json:"ttl_seconds" yaml:"ttl_seconds"`
	MaxEntries int64 `json:"max_entries" yaml:"max_entries"`
}

type ExternalConfig struct {
	BaseURL   string `json:"base_url" yaml:"base_url"`
	TimeoutMS int    `json:"timeout_ms" yaml:"timeout_ms"`
}

type RedisConfig struct {
	Addr     string `json:"addr" yaml:"addr"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
	Channel  string `json:"channel" yaml:"channel"`
}

type DatabaseConfig struct {
	Driver string `json:"driver" yaml:"driver"`
	DSN    string `json:"dsn" yaml:"dsn"`
}

type TokenConfig struct {
	Issuer         string `json:"issuer" yaml:"issuer"`
	TTLSeconds     int    `json:"ttl_seconds" yaml:"ttl_seconds"`
	PrivateKeyPath string `json:"private_key_path" yaml:"private_key_path"`
}

// DefaultConfig returns the settings a bare deployment starts from.
func DefaultConfig() *Config {
	return &Config{
		Cache:    CacheConfig{TTLSeconds: 30, MaxEntries: 100_000},
		External: ExternalConfig{TimeoutMS: 2000},
		Token:    TokenConfig{Issuer: "iam", TTLSeconds: 900},
	}
}

// LoadConfig reads YAML (.yaml/.yml) or JSON config from path, layered over
// the defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := DefaultConfig()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse yaml config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse json config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format: %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the resolver cannot run with.
func (c *Config) Validate() error {
	if c.Cache.TTLSeconds <= 0 {
		return fmt.Errorf("cache ttl must be positive")
	}
	if c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("cache max entries must be positive")
	}
	if c.External.TimeoutMS <= 0 {
		return fmt.Errorf("external timeout must be positive")
	}
	if c.Token.TTLSeconds <= 0 {
		return fmt.Errorf("token ttl must be positive")
	}
	return nil
}

// CacheTTL returns the configured decision staleness bound.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

// ExternalTimeout returns the external engine round-trip bound.
func (c *Config) ExternalTimeout() time.Duration {
	return time.Duration(c.External.TimeoutMS) * time.Millisecond
}

// ResolverOptions expands the config into construction options. The caller
// supplies stores and any redis-backed pieces separately.
func (c *Config) ResolverOptions() ([]ResolverOption, error) {
	opts := []ResolverOption{WithCacheTTL(c.CacheTTL())}
	if c.External.BaseURL != "" {
		opts = append(opts, WithExternalPolicyClient(
			NewExternalPolicyClient(c.External.BaseURL, c.ExternalTimeout())))
	}
	if c.Cache.MaxEntries > 0 {
		cache, err := NewRistrettoDecisionCache(c.Cache.MaxEntries)
		if err != nil {
			return nil, fmt.Errorf("build decision cache: %w", err)
		}
		opts = append(opts, WithDecisionCache(cache))
	}
	return opts, nil
}
