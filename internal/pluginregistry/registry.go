// Package pluginregistry implements the Plugin Registry (spec 4.1): three
// kind-keyed maps of descriptors, one each for sources, bootstrap
// providers, and reactions. It is modelled on the teacher's
// transport.Manager — a mutex-guarded map keyed by a type tag, with
// registration happening once at startup and lookups on every
// component-create call thereafter.
package pluginregistry

import (
	"fmt"
	"sync"

	"github.com/flowgraphd/flowgraphd/internal/coreerr"
)

// Descriptor describes one plugin kind: its build function and an
// optional schema accessor for external (non-core) collaborators.
type Descriptor struct {
	Kind  string
	Build BuildFunc

	// DescribeConfigSchema is used only by external collaborators for
	// schema export (spec 4.1); the core never calls it. A nil value is
	// valid and simply means no schema is published.
	DescribeConfigSchema func() any
}

// BuildFunc constructs a typed component instance from an id and a
// substituted configuration tree. It returns a *coreerr.ConfigError (or
// any error wrapping coreerr.Config) on a rejected configuration.
type BuildFunc func(id string, config map[string]any) (any, error)

// Category names one of the three registries a Descriptor lives in.
type Category int

const (
	CategorySource Category = iota
	CategoryBootstrapProvider
	CategoryReaction
)

func (c Category) String() string {
	switch c {
	case CategorySource:
		return "source"
	case CategoryBootstrapProvider:
		return "bootstrap provider"
	case CategoryReaction:
		return "reaction"
	default:
		return "unknown category"
	}
}

// Registry holds the three kind-keyed descriptor maps. It is safe for
// concurrent lookup; registration is expected only during instance
// start-up, before configuration processing begins (spec 4.1), but the
// maps are still mutex-guarded since nothing in the core enforces the
// ordering at compile time.
type Registry struct {
	mu sync.RWMutex

	sources    map[string]Descriptor
	bootstraps map[string]Descriptor
	reactions  map[string]Descriptor
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		sources:    make(map[string]Descriptor),
		bootstraps: make(map[string]Descriptor),
		reactions:  make(map[string]Descriptor),
	}
}

func (r *Registry) mapFor(cat Category) map[string]Descriptor {
	switch cat {
	case CategorySource:
		return r.sources
	case CategoryBootstrapProvider:
		return r.bootstraps
	case CategoryReaction:
		return r.reactions
	default:
		return nil
	}
}

// Register binds a descriptor under its Kind within cat. It returns an
// error wrapping coreerr.Duplicate if the kind is already bound.
func (r *Registry) Register(cat Category, d Descriptor) error {
	if d.Kind == "" {
		return fmt.Errorf("pluginregistry: %w: empty kind", coreerr.Config)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	m := r.mapFor(cat)
	if _, exists := m[d.Kind]; exists {
		return fmt.Errorf("pluginregistry: %s kind %q: %w", cat, d.Kind, coreerr.Duplicate)
	}
	m[d.Kind] = d
	return nil
}

// Lookup returns the descriptor bound to kind within cat, or an error
// wrapping coreerr.Unknown if nothing is bound.
func (r *Registry) Lookup(cat Category, kind string) (Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m := r.mapFor(cat)
	d, ok := m[kind]
	if !ok {
		return Descriptor{}, fmt.Errorf("pluginregistry: %s kind %q: %w", cat, kind, coreerr.Unknown)
	}
	return d, nil
}

// Kinds lists every registered kind within cat, for diagnostics and
// schema export.
func (r *Registry) Kinds(cat Category) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m := r.mapFor(cat)
	kinds := make([]string, 0, len(m))
	for k := range m {
		kinds = append(kinds, k)
	}
	return kinds
}
