// Package noop is the bootstrap provider plugin kind for queries that
// decline a snapshot (spec section 6: bootstrap is filter-scoped and
// finite; an empty snapshot is a legal one). internal/instance already
// falls back to an unregistered no-op provider when a subscription
// names none, but registering this kind lets a configuration name it
// explicitly and makes the choice visible rather than implicit.
package noop

import (
	"context"

	"github.com/flowgraphd/flowgraphd/internal/component"
	"github.com/flowgraphd/flowgraphd/internal/model"
	"github.com/flowgraphd/flowgraphd/internal/pluginregistry"
)

const Kind = "noop"

type Provider struct{}

var _ component.BootstrapProvider = Provider{}

func (Provider) Bootstrap(_ context.Context, _ model.SubscriptionFilter) (<-chan model.Element, <-chan error) {
	elements := make(chan model.Element)
	errs := make(chan error)
	close(elements)
	close(errs)
	return elements, errs
}

func Build(string, map[string]any) (any, error) { return Provider{}, nil }

// Register binds this plugin's Kind in registry.
func Register(registry *pluginregistry.Registry) error {
	return registry.Register(pluginregistry.CategoryBootstrapProvider, pluginregistry.Descriptor{Kind: Kind, Build: Build})
}
