package runtime

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tjfontaine/polyglot-media-router/internal/adapters/config/file"
	"github.com/tjfontaine/polyglot-media-router/internal/adapters/policy/basic"
	"github.com/tjfontaine/polyglot-media-router/internal/core/ports"
	"github.com/tjfontaine/polyglot-media-router/internal/pkg/config"
	"github.com/tjfontaine/polyglot-media-router/internal/storage/sqldb"
)

// Option is a functional option for configuring a Service.
type Option func(*Service) error

// WithFileConfig uses file-based configuration with hot-reload (default).
// The path should point to a config.yaml file that will be watched for changes.
func WithFileConfig(path string) Option {
	return func(s *Service) error {
		provider, err := file.NewProvider(path, file.WithLogger(s.logger))
		if err != nil {
			return fmt.Errorf("create file config provider: %w", err)
		}
		s.config = provider
		return nil
	}
}

// WithConfig uses a fixed, already loaded configuration. Nothing is watched.
func WithConfig(cfg *config.Config) Option {
	return func(s *Service) error {
		if cfg == nil {
			return fmt.Errorf("config cannot be nil")
		}
		s.config = staticConfig{cfg: cfg}
		return nil
	}
}

// WithConfigProvider sets a custom config provider.
// For advanced use cases where you need full control over config loading.
func WithConfigProvider(provider ports.ConfigProvider) Option {
	return func(s *Service) error {
		s.config = provider
		return nil
	}
}

// WithSQLite uses SQLite storage (default for single-instance deployments).
func WithSQLite(path string) Option {
	return func(s *Service) error {
		store, err := sqldb.NewSQLite(path)
		if err != nil {
			return fmt.Errorf("create sqlite storage: %w", err)
		}
		s.storage = store
		return nil
	}
}

// WithPostgres uses PostgreSQL storage through the pgx driver.
// Recommended for multi-instance deployments.
func WithPostgres(dsn string) Option {
	return func(s *Service) error {
		store, err := sqldb.New(sqldb.Config{Driver: "postgres", DSN: dsn})
		if err != nil {
			return fmt.Errorf("create postgres storage: %w", err)
		}
		s.storage = store
		return nil
	}
}

// WithStorageProvider sets a custom storage provider.
func WithStorageProvider(provider ports.StorageProvider) Option {
	return func(s *Service) error {
		s.storage = provider
		return nil
	}
}

// WithReferenceStore resolves @mentions against store instead of the
// storage provider.
func WithReferenceStore(store ports.ReferenceStore) Option {
	return func(s *Service) error {
		s.references = store
		return nil
	}
}

// WithCacheBackend sets a custom cache backend.
func WithCacheBackend(backend ports.CacheBackend) Option {
	return func(s *Service) error {
		s.cacheBackend = backend
		return nil
	}
}

// WithClassifier sets the classification dependency, overriding the
// configured backend.
func WithClassifier(c ports.Classifier) Option {
	return func(s *Service) error {
		s.classifier = c
		return nil
	}
}

// WithAnalyticsSink sets a custom analytics sink. It replaces the
// configured persist and metrics sinks.
func WithAnalyticsSink(sink ports.AnalyticsSink) Option {
	return func(s *Service) error {
		s.sink = sink
		return nil
	}
}

// WithBasicPolicy uses the basic quality policy (no rate limiting).
func WithBasicPolicy() Option {
	return func(s *Service) error {
		s.policy = basic.NewPolicy()
		return nil
	}
}

// WithQualityPolicy sets a custom quality policy.
func WithQualityPolicy(policy ports.QualityPolicy) Option {
	return func(s *Service) error {
		s.policy = policy
		return nil
	}
}

// WithMetricsRegistry registers metrics on reg and serves it on /metrics.
func WithMetricsRegistry(reg *prometheus.Registry) Option {
	return func(s *Service) error {
		s.registerer = reg
		s.gatherer = reg
		return nil
	}
}

// WithPort overrides the configured HTTP port. Port 0 picks a free port.
func WithPort(port int) Option {
	return func(s *Service) error {
		s.port = &port
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) error {
		s.logger = logger
		return nil
	}
}

// staticConfig serves a fixed configuration.
type staticConfig struct {
	cfg *config.Config
}

func (c staticConfig) Load(context.Context) (*config.Config, error) {
	return c.cfg, nil
}

func (c staticConfig) Watch(context.Context, func(*config.Config)) error {
	return nil
}

func (c staticConfig) Close() error {
	return nil
}
