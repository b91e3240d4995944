// Package config loads the YAML configuration consumed by the CLI and
// converts it into the engine's runtime options. Environment variables
// override the file; the file overrides built-in defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chemharvest/chemharvest/pkg/engine"
	"github.com/chemharvest/chemharvest/pkg/throttle"
)

// Environment variables recognized by Load.
const (
	EnvConfigPath = "CHEMHARVEST_CONFIG"
	EnvLogLevel   = "CHEMHARVEST_LOG_LEVEL"
	EnvRedisAddr  = "CHEMHARVEST_REDIS_ADDR"
	EnvMaxWorkers = "CHEMHARVEST_MAX_WORKERS"
)

// Config holds all settings required across the application.
type Config struct {
	Logging LoggingConfig `yaml:"logging"`
	Engine  EngineConfig  `yaml:"engine"`
	Cache   CacheConfig   `yaml:"cache"`
	Export  ExportConfig  `yaml:"export"`
}

// LoggingConfig mirrors pkg/logging options.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// EngineConfig holds the recognized retrieval options.
type EngineConfig struct {
	MaxWorkers       int  `yaml:"maxWorkers"`
	MaxBatchSize     int  `yaml:"maxBatchSize"`
	AutoResume       bool `yaml:"autoResume"`
	WaitMinutes      int  `yaml:"waitMinutes"`
	MaxRetries       int  `yaml:"maxRetries"`
	AbortOnRateLimit bool `yaml:"abortOnRateLimit"`
}

// CacheConfig describes the optional Redis document cache.
type CacheConfig struct {
	// Addr enables the cache when non-empty, e.g. "localhost:6379".
	Addr string `yaml:"addr"`

	// TTLMinutes bounds how long fetched documents are reused.
	TTLMinutes int `yaml:"ttlMinutes"`
}

// ExportConfig describes where results go.
type ExportConfig struct {
	CSVPath    string `yaml:"csvPath"`
	SQLitePath string `yaml:"sqlitePath"`
}

// Default returns the built-in configuration: 4 workers, per-identifier
// jobs, no auto-resume, 10 minute backoff, cache disabled.
func Default() Config {
	return Config{
		Logging: LoggingConfig{Level: "info"},
		Engine: EngineConfig{
			MaxWorkers:   4,
			MaxBatchSize: 1,
			WaitMinutes:  10,
			MaxRetries:   3,
		},
		Cache:  CacheConfig{TTLMinutes: 60},
		Export: ExportConfig{CSVPath: "results.csv"},
	}
}

// Load reads the YAML file at path (or $CHEMHARVEST_CONFIG when path is
// empty) over the defaults and applies environment overrides. A missing
// path simply yields the defaults; an unreadable or unparsable file is an
// error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv(EnvRedisAddr); v != "" {
		c.Cache.Addr = v
	}
	if v := os.Getenv(EnvMaxWorkers); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Engine.MaxWorkers = n
		}
	}
}

// EngineConfig converts the file representation into the engine's validated
// runtime form.
func (c Config) EngineConfig() engine.Config {
	return engine.Config{
		MaxWorkers:   c.Engine.MaxWorkers,
		MaxBatchSize: c.Engine.MaxBatchSize,
		Throttle: throttle.Policy{
			AutoResume: c.Engine.AutoResume,
			Wait:       time.Duration(c.Engine.WaitMinutes) * time.Minute,
			MaxRetries: c.Engine.MaxRetries,
		},
		AbortOnRateLimit: c.Engine.AbortOnRateLimit,
	}
}

// CacheTTL returns the configured document cache TTL.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLMinutes) * time.Minute
}
