package router

import (
	"fmt"
	"sort"

	"github.com/tjfontaine/polyglot-media-router/internal/core/domain"
	"github.com/tjfontaine/polyglot-media-router/internal/pkg/config"
)

// ConfigFromSettings overlays routing settings on DefaultConfig. Each route
// override replaces only the fields it sets, so changing a model does not
// require restating the provider and kind.
func ConfigFromSettings(settings config.RoutingConfig) (Config, error) {
	cfg := DefaultConfig()

	// Sorted for stable error messages.
	names := make([]string, 0, len(settings.Routes))
	for name := range settings.Routes {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		verdict := domain.ParseWorkflowType(name)
		if !verdict.IsValid() {
			return Config{}, fmt.Errorf("unknown workflow type in routing: %s", name)
		}
		cfg.Routes[verdict.Workflow] = overlay(cfg.Routes[verdict.Workflow], settings.Routes[name])
	}

	cfg.Composition = overlay(cfg.Composition, settings.Composition)
	if settings.CompositionThreshold != 0 {
		cfg.CompositionThreshold = settings.CompositionThreshold
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func overlay(base domain.Route, rc config.RouteConfig) domain.Route {
	if rc.Provider != "" {
		base.ProviderID = rc.Provider
	}
	if rc.Model != "" {
		base.ModelID = rc.Model
	}
	if rc.Kind != "" {
		base.Kind = domain.ProviderKind(rc.Kind)
	}
	return base
}
