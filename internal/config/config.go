package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"time"
)

// Config is the top-level configuration structure.
type Config struct {
	Server   ServerConfig   `json:"server"`
	Database DatabaseConfig `json:"database"`
	Memory   MemoryConfig   `json:"memory"`
	Janitor  JanitorConfig  `json:"janitor"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
	Redis    RedisConfig    `json:"redis"`
}

type PostgresConfig struct {
	DSN string `json:"dsn"`
}

type RedisConfig struct {
	URL string `json:"url"`
}

// MemoryConfig tunes the caches and cleanup thresholds.
type MemoryConfig struct {
	EntryCacheSize   int     `json:"entry_cache_size"`
	PatternCacheSize int     `json:"pattern_cache_size"`
	MinSuccessRate   float64 `json:"min_success_rate"`
	MinUsageCount    int     `json:"min_usage_count"`
}

// JanitorConfig tunes the periodic cleanup sweep.
type JanitorConfig struct {
	IntervalSeconds int `json:"interval_seconds"`
	LeaseSeconds    int `json:"lease_seconds"`
}

// Interval returns the sweep interval, defaulting to one minute.
func (j JanitorConfig) Interval() time.Duration {
	if j.IntervalSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(j.IntervalSeconds) * time.Second
}

// Lease returns the sweep lease TTL, defaulting to the interval.
func (j JanitorConfig) Lease(interval time.Duration) time.Duration {
	if j.LeaseSeconds <= 0 {
		return interval
	}
	return time.Duration(j.LeaseSeconds) * time.Second
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file and substitutes environment variable references.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	// Substitute ${VAR} and ${VAR:default} with environment values.
	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		name := parts[1]
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return defaultVal
	})

	var cfg Config
	if err := json.Unmarshal([]byte(resolved), &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}
