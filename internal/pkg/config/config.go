// Package config loads the router's configuration from a YAML file and
// POLY_-prefixed environment variables.
package config

import (
	"errors"
	"io/fs"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/tjfontaine/polyglot-media-router/internal/core/domain"
)

// DefaultPath is read when Load is given an empty path. A missing default
// file is not an error.
const DefaultPath = "config.yaml"

type Config struct {
	Server       ServerConfig       `koanf:"server"`
	Classifier   ClassifierConfig   `koanf:"classifier"`
	Breaker      BreakerConfig      `koanf:"breaker"`
	Limits       LimitsConfig       `koanf:"limits"`
	Cache        CacheConfig        `koanf:"cache"`
	Storage      StorageConfig      `koanf:"storage"`
	Analytics    AnalyticsConfig    `koanf:"analytics"`
	Routing      RoutingConfig      `koanf:"routing"`
	Telemetry    TelemetryConfig    `koanf:"telemetry"`
	Housekeeping HousekeepingConfig `koanf:"housekeeping"`
}

type ServerConfig struct {
	Port           int           `koanf:"port"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
}

// ClassifierConfig selects and tunes the classification dependency.
type ClassifierConfig struct {
	Backend     string        `koanf:"backend"` // openai, gemini, none
	APIKey      string        `koanf:"api_key"`
	BaseURL     string        `koanf:"base_url"`
	Model       string        `koanf:"model"`
	Temperature float32       `koanf:"temperature"`
	MaxTokens   int           `koanf:"max_tokens"`
	Timeout     time.Duration `koanf:"timeout"`
	// Pricing feeds the cost limiter, in currency units per 1000 tokens.
	InputPer1K           float64 `koanf:"input_per_1k"`
	OutputPer1K          float64 `koanf:"output_per_1k"`
	ExpectedOutputTokens int     `koanf:"expected_output_tokens"`
}

type BreakerConfig struct {
	FailureThreshold int           `koanf:"failure_threshold"`
	SuccessThreshold int           `koanf:"success_threshold"`
	OpenTimeout      time.Duration `koanf:"open_timeout"`
}

// LimitsConfig holds per-user limits. Zero disables a limit.
type LimitsConfig struct {
	RequestsPerMinute int     `koanf:"requests_per_minute"`
	RequestsPerHour   int     `koanf:"requests_per_hour"`
	CostPerHour       float64 `koanf:"cost_per_hour"`
}

type CacheConfig struct {
	Type  string        `koanf:"type"` // memory, redis, none
	TTL   time.Duration `koanf:"ttl"`
	Size  int           `koanf:"size"`
	Redis RedisConfig   `koanf:"redis"`
}

type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
	Prefix   string `koanf:"prefix"`
}

type StorageConfig struct {
	Type   string       `koanf:"type"` // sqlite, postgres, memory, none
	SQLite SQLiteConfig `koanf:"sqlite"`
	// Database is the generic database configuration for multi-dialect support
	Database DatabaseConfig `koanf:"database"`
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

// DatabaseConfig is the generic database configuration supporting multiple dialects.
type DatabaseConfig struct {
	Driver string `koanf:"driver"` // sqlite, postgres
	DSN    string `koanf:"dsn"`
}

// AnalyticsConfig controls where classification events go.
type AnalyticsConfig struct {
	Persist    bool `koanf:"persist"`
	Metrics    bool `koanf:"metrics"`
	BufferSize int  `koanf:"buffer_size"`
}

// RoutingConfig overrides the built-in decision matrix. Route keys are
// workflow type names, matched case-insensitively.
type RoutingConfig struct {
	Routes               map[string]RouteConfig `koanf:"routes"`
	Composition          RouteConfig            `koanf:"composition"`
	CompositionThreshold int                    `koanf:"composition_threshold"`
}

type RouteConfig struct {
	Provider string `koanf:"provider"`
	Model    string `koanf:"model"`
	Kind     string `koanf:"kind"`
}

type TelemetryConfig struct {
	Tracing     bool   `koanf:"tracing"`
	ServiceName string `koanf:"service_name"`
}

// HousekeepingConfig schedules background maintenance with cron specs.
type HousekeepingConfig struct {
	SweepSchedule  string        `koanf:"sweep_schedule"`
	LimiterIdle    time.Duration `koanf:"limiter_idle"`
	PruneSchedule  string        `koanf:"prune_schedule"`
	EventRetention time.Duration `koanf:"event_retention"`
}

var defaults = map[string]any{
	"server.port":                       8080,
	"server.request_timeout":            "60s",
	"classifier.backend":                "none",
	"classifier.timeout":                "30s",
	"classifier.max_tokens":             512,
	"classifier.expected_output_tokens": 150,
	"breaker.failure_threshold":         5,
	"breaker.success_threshold":         2,
	"breaker.open_timeout":              "30s",
	"limits.requests_per_minute":        30,
	"limits.requests_per_hour":          500,
	"cache.type":                        "memory",
	"cache.ttl":                         "1h",
	"cache.size":                        10000,
	"cache.redis.prefix":                "pmr:",
	"storage.type":                      "sqlite",
	"storage.sqlite.path":               "router.db",
	"analytics.persist":                 true,
	"analytics.metrics":                 true,
	"analytics.buffer_size":             1024,
	"telemetry.service_name":            "polyglot-media-router",
	"housekeeping.sweep_schedule":       "@every 5m",
	"housekeeping.limiter_idle":         "2h",
	"housekeeping.prune_schedule":       "@hourly",
	"housekeeping.event_retention":      "720h",
	"routing.composition_threshold":     2,
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads path (or DefaultPath when empty), applies POLY_ environment
// overrides and defaults, and validates the result.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	optional := path == ""
	if optional {
		path = DefaultPath
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if !optional || !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	// POLY_CACHE__REDIS__ADDR -> cache.redis.addr
	if err := k.Load(env.Provider("POLY_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "POLY_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	for key, v := range defaults {
		if !k.Exists(key) {
			k.Set(key, v)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	cfg.Classifier.APIKey = substituteEnvVars(cfg.Classifier.APIKey)
	cfg.Cache.Redis.Password = substituteEnvVars(cfg.Cache.Redis.Password)
	cfg.Storage.Database.DSN = substituteEnvVars(cfg.Storage.Database.DSN)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs domain.ConfigErrors
	add := func(field, reason string) {
		errs = append(errs, &domain.ConfigError{Field: field, Reason: reason})
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		add("server.port", "must be between 1 and 65535")
	}

	switch c.Classifier.Backend {
	case "none":
	case "openai", "gemini":
		if c.Classifier.APIKey == "" {
			add("classifier.api_key", "required for backend "+c.Classifier.Backend)
		}
	default:
		add("classifier.backend", "must be one of openai, gemini, none")
	}
	if c.Classifier.Timeout <= 0 {
		add("classifier.timeout", "must be positive")
	}

	if c.Breaker.FailureThreshold <= 0 {
		add("breaker.failure_threshold", "must be positive")
	}
	if c.Breaker.SuccessThreshold <= 0 {
		add("breaker.success_threshold", "must be positive")
	}
	if c.Breaker.OpenTimeout <= 0 {
		add("breaker.open_timeout", "must be positive")
	}

	if c.Limits.RequestsPerMinute < 0 || c.Limits.RequestsPerHour < 0 || c.Limits.CostPerHour < 0 {
		add("limits", "must not be negative")
	}

	switch c.Cache.Type {
	case "none":
	case "memory":
		if c.Cache.Size <= 0 {
			add("cache.size", "must be positive")
		}
	case "redis":
		if c.Cache.Redis.Addr == "" {
			add("cache.redis.addr", "required for redis cache")
		}
	default:
		add("cache.type", "must be one of memory, redis, none")
	}
	if c.Cache.Type != "none" && c.Cache.TTL <= 0 {
		add("cache.ttl", "must be positive")
	}

	switch c.Storage.Type {
	case "none", "memory":
	case "sqlite":
		if c.Storage.SQLite.Path == "" && c.Storage.Database.DSN == "" {
			add("storage.sqlite.path", "required for sqlite storage")
		}
	case "postgres":
		if c.Storage.Database.DSN == "" {
			add("storage.database.dsn", "required for postgres storage")
		}
	default:
		add("storage.type", "must be one of sqlite, postgres, memory, none")
	}

	if c.Routing.CompositionThreshold < 2 {
		add("routing.composition_threshold", "must be at least 2")
	}
	for name, route := range c.Routing.Routes {
		if !domain.ParseWorkflowType(name).IsValid() {
			add("routing.routes."+name, "unknown workflow type")
		}
		if route.Kind != "" && !domain.ProviderKind(route.Kind).Valid() {
			add("routing.routes."+name+".kind", "unknown provider kind "+route.Kind)
		}
	}

	return errs.ErrOrNil()
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
