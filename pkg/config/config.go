// Package config loads and validates engine configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Search, Scroll, Cache, Aggregation, Logging, Metrics).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level engine configuration.
type Config struct {
	Search      SearchConfig      `yaml:"search"`
	Scroll      ScrollConfig      `yaml:"scroll"`
	Cache       CacheConfig       `yaml:"cache"`
	Aggregation AggregationConfig `yaml:"aggregation"`
	Logging     LoggingConfig     `yaml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// SearchConfig controls query execution limits.
type SearchConfig struct {
	DefaultPageSize int `yaml:"defaultPageSize"`
	MaxPageSize     int `yaml:"maxPageSize"`
	MaxBoolClauses  int `yaml:"maxBoolClauses"`
	MaxRegexpLength int `yaml:"maxRegexpLength"`
}

// ScrollConfig controls scroll-context lifetime and capacity.
type ScrollConfig struct {
	DefaultTTL  time.Duration `yaml:"defaultTTL"`
	MaxTTL      time.Duration `yaml:"maxTTL"`
	MaxContexts int           `yaml:"maxContexts"`
}

// CacheConfig controls the in-memory query-result cache.
type CacheConfig struct {
	Enabled    bool          `yaml:"enabled"`
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"maxEntries"`
}

// AggregationConfig bounds aggregation output.
type AggregationConfig struct {
	MaxBuckets int `yaml:"maxBuckets"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with sensible defaults for any
// missing values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// defaultConfig returns a Config with defaults suitable for local development.
func defaultConfig() *Config {
	return &Config{
		Search: SearchConfig{
			DefaultPageSize: 10,
			MaxPageSize:     1000,
			MaxBoolClauses:  1024,
			MaxRegexpLength: 1000,
		},
		Scroll: ScrollConfig{
			DefaultTTL:  time.Minute,
			MaxTTL:      30 * time.Minute,
			MaxContexts: 500,
		},
		Cache: CacheConfig{
			Enabled:    true,
			TTL:        60 * time.Second,
			MaxEntries: 10000,
		},
		Aggregation: AggregationConfig{
			MaxBuckets: 10000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads ESIA_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ESIA_SEARCH_DEFAULT_PAGE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Search.DefaultPageSize = n
		}
	}
	if v := os.Getenv("ESIA_SEARCH_MAX_PAGE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Search.MaxPageSize = n
		}
	}
	if v := os.Getenv("ESIA_SEARCH_MAX_BOOL_CLAUSES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Search.MaxBoolClauses = n
		}
	}
	if v := os.Getenv("ESIA_SCROLL_DEFAULT_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Scroll.DefaultTTL = d
		}
	}
	if v := os.Getenv("ESIA_SCROLL_MAX_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Scroll.MaxTTL = d
		}
	}
	if v := os.Getenv("ESIA_SCROLL_MAX_CONTEXTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Scroll.MaxContexts = n
		}
	}
	if v := os.Getenv("ESIA_CACHE_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Cache.Enabled = b
		}
	}
	if v := os.Getenv("ESIA_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.TTL = d
		}
	}
	if v := os.Getenv("ESIA_AGGREGATION_MAX_BUCKETS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Aggregation.MaxBuckets = n
		}
	}
	if v := os.Getenv("ESIA_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("ESIA_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("ESIA_METRICS_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Metrics.Port = n
		}
	}
}
