// Package logreaction is the simplest reaction plugin: it writes every
// delivered payload to the instance logger, grounded on
// internal/logging's logrus wiring. Named logreaction (not log) to
// avoid shadowing the standard library package in importers.
package logreaction

import (
	"context"

	"github.com/flowgraphd/flowgraphd/internal/component"
	"github.com/flowgraphd/flowgraphd/internal/lifecycle"
	"github.com/flowgraphd/flowgraphd/internal/logging"
	"github.com/flowgraphd/flowgraphd/internal/pluginregistry"
)

const Kind = "log"

var log = logging.For("reaction/log")

type Reaction struct {
	id      string
	level   string
	machine *lifecycle.Machine
}

var _ component.Reaction = (*Reaction)(nil)

func New(id, level string) *Reaction {
	if level == "" {
		level = "info"
	}
	return &Reaction{id: id, level: level, machine: lifecycle.New()}
}

func Build(id string, config map[string]any) (any, error) {
	level, _ := config["level"].(string)
	return New(id, level), nil
}

// Register binds this plugin's Kind in registry.
func Register(registry *pluginregistry.Registry) error {
	return registry.Register(pluginregistry.CategoryReaction, pluginregistry.Descriptor{Kind: Kind, Build: Build})
}

func (r *Reaction) Start(context.Context) error {
	r.machine.Begin(lifecycle.Starting)
	r.machine.Finish(lifecycle.Running, "", false)
	return nil
}

func (r *Reaction) Stop(context.Context) error {
	r.machine.Begin(lifecycle.Stopping)
	r.machine.Finish(lifecycle.Stopped, "", false)
	return nil
}

func (r *Reaction) Status() lifecycle.Status { return r.machine.Status() }

func (r *Reaction) Deliver(_ context.Context, payload component.Payload) error {
	entry := log.WithField("reaction", r.id).WithField("query", payload.QueryID).WithField("body", string(payload.Body))
	switch r.level {
	case "warn":
		entry.Warn("delivery")
	case "error":
		entry.Error("delivery")
	default:
		entry.Info("delivery")
	}
	return nil
}
