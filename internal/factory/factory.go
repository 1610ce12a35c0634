// Package factory implements the Factories layer (spec 4.2): turning a
// declarative configuration tree into a running component, via the
// Plugin Registry (C1). Each factory applies the ${NAME}/${NAME:-default}
// substitution grammar (internal/config) before handing the config to
// the descriptor's build function, matching the teacher's layered
// config-then-build pattern in cli/consumer.go's NewConsumer.
package factory

import (
	"fmt"

	"github.com/flowgraphd/flowgraphd/internal/config"
	"github.com/flowgraphd/flowgraphd/internal/coreerr"
	"github.com/flowgraphd/flowgraphd/internal/logging"
	"github.com/flowgraphd/flowgraphd/internal/pluginregistry"
)

var log = logging.For("factory")

// Spec is the declarative description of one component to instantiate.
type Spec struct {
	ID     string
	Kind   string
	Config map[string]any
}

// Factory builds components of one category from the registry.
type Factory struct {
	registry *pluginregistry.Registry
	category pluginregistry.Category
	lookup   config.Lookup
}

// New returns a Factory for one plugin category. lookup resolves
// environment variable references in config trees; pass config.OSLookup
// in production and a fake in tests.
func New(registry *pluginregistry.Registry, category pluginregistry.Category, lookup config.Lookup) *Factory {
	if lookup == nil {
		lookup = config.OSLookup
	}
	return &Factory{registry: registry, category: category, lookup: lookup}
}

// SourceFactory, BootstrapFactory, and ReactionFactory are the three
// concrete factories named in spec 4.2.
func SourceFactory(registry *pluginregistry.Registry, lookup config.Lookup) *Factory {
	return New(registry, pluginregistry.CategorySource, lookup)
}

func BootstrapFactory(registry *pluginregistry.Registry, lookup config.Lookup) *Factory {
	return New(registry, pluginregistry.CategoryBootstrapProvider, lookup)
}

func ReactionFactory(registry *pluginregistry.Registry, lookup config.Lookup) *Factory {
	return New(registry, pluginregistry.CategoryReaction, lookup)
}

// Build resolves spec.Kind in the registry, substitutes environment
// variable references throughout spec.Config, and invokes the
// descriptor's build function. Errors are coreerr.Unknown (kind not
// registered) or a *coreerr.ConfigError (substitution failure or a
// rejection from the descriptor itself).
func (f *Factory) Build(spec Spec) (any, error) {
	descriptor, err := f.registry.Lookup(f.category, spec.Kind)
	if err != nil {
		return nil, err
	}

	substituted := cloneConfig(spec.Config)
	if err := config.SubstituteTree(substituted, f.lookup); err != nil {
		return nil, coreerr.NewConfigError(spec.ID, err.Error())
	}

	log.WithField("id", spec.ID).WithField("kind", spec.Kind).WithField("category", f.category.String()).
		WithField("config", config.RedactedSummary(substituted)).Debug("building component")

	component, err := descriptor.Build(spec.ID, substituted)
	if err != nil {
		return nil, fmt.Errorf("factory: build %s %q (kind %q): %w", f.category, spec.ID, spec.Kind, err)
	}
	return component, nil
}

func cloneConfig(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneConfig(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return val
	}
}
