// Package mediarouter provides the public API for embedding the media router.
// This is the stable API for external consumers.
package mediarouter

import (
	"github.com/tjfontaine/polyglot-media-router/internal/core/domain"
	"github.com/tjfontaine/polyglot-media-router/internal/core/ports"
	"github.com/tjfontaine/polyglot-media-router/internal/pkg/config"
	"github.com/tjfontaine/polyglot-media-router/internal/runtime"
)

// Service classifies prompts and routes them to generation providers.
// See internal/runtime.Service for full documentation.
type Service = runtime.Service

// Option is a functional option for configuring a Service.
type Option = runtime.Option

// Config is the full service configuration.
type Config = config.Config

// Request and result types.
type (
	Request              = domain.Request
	RequestContext       = domain.RequestContext
	SignalVector         = domain.SignalVector
	WorkflowType         = domain.WorkflowType
	ClassificationResult = domain.ClassificationResult
	RoutingDecision      = domain.RoutingDecision
	ReferenceAsset       = domain.ReferenceAsset
)

// Extension points.
type (
	Classifier      = ports.Classifier
	Completion      = ports.Completion
	ReferenceStore  = ports.ReferenceStore
	StorageProvider = ports.StorageProvider
	CacheBackend    = ports.CacheBackend
	AnalyticsSink   = ports.AnalyticsSink
	QualityPolicy   = ports.QualityPolicy
)

// MissingRequiredAssetError is returned when the routed workflow needs an
// asset the request did not supply.
type MissingRequiredAssetError = domain.MissingRequiredAssetError

// New creates a new Service with the given options.
// Example:
//
//	svc, err := mediarouter.New(ctx,
//	    mediarouter.WithFileConfig("config.yaml"),
//	    mediarouter.WithSQLite("./data/router.db"),
//	)
var New = runtime.New

// LoadConfig reads a config file (config.yaml when path is empty) with
// POLY_ environment overrides.
var LoadConfig = config.Load

// Configuration options
var (
	// Config sources
	WithFileConfig     = runtime.WithFileConfig
	WithConfig         = runtime.WithConfig
	WithConfigProvider = runtime.WithConfigProvider

	// Storage
	WithSQLite          = runtime.WithSQLite
	WithPostgres        = runtime.WithPostgres
	WithStorageProvider = runtime.WithStorageProvider
	WithReferenceStore  = runtime.WithReferenceStore

	// Classification
	WithClassifier   = runtime.WithClassifier
	WithCacheBackend = runtime.WithCacheBackend

	// Policy
	WithBasicPolicy   = runtime.WithBasicPolicy
	WithQualityPolicy = runtime.WithQualityPolicy

	// Observability
	WithAnalyticsSink   = runtime.WithAnalyticsSink
	WithMetricsRegistry = runtime.WithMetricsRegistry
	WithLogger          = runtime.WithLogger

	// Serving
	WithPort = runtime.WithPort
)
