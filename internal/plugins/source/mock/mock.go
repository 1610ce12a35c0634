// Package mock is a reference source plugin that synthesizes Insert/
// Update/Delete changes for a small rotating set of nodes on a fixed
// interval. It exists to exercise and test the pipeline end to end
// without a live external system, and as a template for real source
// plugins (redisstream, amqpchange).
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/flowgraphd/flowgraphd/internal/component"
	"github.com/flowgraphd/flowgraphd/internal/lifecycle"
	"github.com/flowgraphd/flowgraphd/internal/model"
	"github.com/flowgraphd/flowgraphd/internal/pluginregistry"
)

// Kind is the registry kind string for this plugin.
const Kind = "mock"

// Config configures the mock source.
type Config struct {
	Label          string
	Interval       time.Duration
	ElementCount   int
	NodeLabels     []string
	RelationLabels []string
}

// Source is a component.Source that cycles its ElementCount nodes
// through Insert, a few Updates, and Delete, then starts again.
type Source struct {
	id      string
	cfg     Config
	machine *lifecycle.Machine

	mu     sync.Mutex
	cancel context.CancelFunc
}

var _ component.Source = (*Source)(nil)

// New builds a mock Source.
func New(id string, cfg Config) *Source {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.ElementCount <= 0 {
		cfg.ElementCount = 3
	}
	if cfg.Label == "" {
		cfg.Label = "Thing"
	}
	return &Source{id: id, cfg: cfg, machine: lifecycle.New()}
}

// Build adapts New into a pluginregistry.BuildFunc.
func Build(id string, config map[string]any) (any, error) {
	cfg := Config{
		Label: stringOr(config["label"], "Thing"),
	}
	if ms, ok := config["intervalMs"].(float64); ok {
		cfg.Interval = time.Duration(ms) * time.Millisecond
	}
	if n, ok := config["elementCount"].(float64); ok {
		cfg.ElementCount = int(n)
	}
	cfg.NodeLabels = []string{cfg.Label}
	return New(id, cfg), nil
}

func stringOr(v any, dflt string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return dflt
}

// Register binds this plugin's Kind in registry.
func Register(registry *pluginregistry.Registry) error {
	return registry.Register(pluginregistry.CategorySource, pluginregistry.Descriptor{Kind: Kind, Build: Build})
}

func (s *Source) Start(ctx context.Context, sink component.Sink) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	s.machine.Begin(lifecycle.Starting)
	s.machine.Finish(lifecycle.Running, "", false)
	go s.run(runCtx, sink)
	return nil
}

func (s *Source) run(ctx context.Context, sink component.Sink) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	defer sink.Close()

	refs := make([]model.Ref, s.cfg.ElementCount)
	for i := range refs {
		refs[i] = model.Ref{SourceID: s.id, ElementID: fmt.Sprintf("%s-%d", s.cfg.Label, i)}
	}

	tick := 0
	phase := make([]int, len(refs))
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			i := tick % len(refs)
			ref := refs[i]
			op := model.OpUpdate
			switch phase[i] {
			case 0:
				op = model.OpInsert
			case 3:
				op = model.OpDelete
			}
			phase[i] = (phase[i] + 1) % 4
			elem := model.NewNode(ref, s.cfg.NodeLabels, map[string]any{"tick": tick, "updatedAt": now})
			change := model.SourceChange{Op: op, Timestamp: now, Element: elem}
			if op == model.OpDelete {
				change.DeleteLabels = elem.Labels
			}
			if err := sink.Send(ctx, change); err != nil {
				return
			}
			tick++
		}
	}
}

func (s *Source) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.machine.Begin(lifecycle.Stopping)
	s.machine.Finish(lifecycle.Stopped, "", false)
	return nil
}

func (s *Source) Status() lifecycle.Status { return s.machine.Status() }

func (s *Source) DescribeSchema() (component.SourceSchema, bool) {
	return component.SourceSchema{NodeLabels: s.cfg.NodeLabels, RelationLabels: s.cfg.RelationLabels}, true
}
