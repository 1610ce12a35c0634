// Package boltsnapshot is a bootstrap provider plugin that reads a
// pre-materialized element snapshot out of a bbolt bucket, adapting the
// teacher's db/bolt.DB wrapper (ForEachJSON) from its original
// JSON-document-store role into this package's snapshot-read role
// rather than rewriting a second bbolt open/iterate helper.
package boltsnapshot

import (
	"context"
	"fmt"

	boltdb "github.com/flowgraphd/flowgraphd/db/bolt"
	"github.com/flowgraphd/flowgraphd/internal/blockingio"
	"github.com/flowgraphd/flowgraphd/internal/component"
	"github.com/flowgraphd/flowgraphd/internal/model"
	"github.com/flowgraphd/flowgraphd/internal/pluginregistry"
)

const Kind = "boltsnapshot"

// record is the JSON document layout stored per element, independent of
// the core's in-memory model.Element.
type record struct {
	Kind       string         `json:"kind"` // "node" or "relation"
	ElementID  string         `json:"elementId"`
	Labels     []string       `json:"labels"`
	Label      string         `json:"label"`
	From       string         `json:"from,omitempty"`
	To         string         `json:"to,omitempty"`
	Properties map[string]any `json:"properties"`
}

// Provider reads every record in Bucket on each Bootstrap call,
// filtering by the caller's SubscriptionFilter.
type Provider struct {
	db       *boltdb.DB
	sourceID string
	bucket   string
}

var _ component.BootstrapProvider = (*Provider)(nil)

// New builds a Provider over an already-open bbolt database.
func New(db *boltdb.DB, sourceID, bucket string) *Provider {
	return &Provider{db: db, sourceID: sourceID, bucket: bucket}
}

// Build opens (or creates) the bbolt file named by config["path"] and
// reads from config["bucket"] (default "snapshot").
func Build(id string, config map[string]any) (any, error) {
	path, _ := config["path"].(string)
	if path == "" {
		return nil, fmt.Errorf("boltsnapshot: config.path is required")
	}
	bucket, _ := config["bucket"].(string)
	if bucket == "" {
		bucket = "snapshot"
	}
	db, err := boltdb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("boltsnapshot: %w", err)
	}
	if err := db.CreateBucket(bucket); err != nil {
		return nil, fmt.Errorf("boltsnapshot: %w", err)
	}
	return New(db, id, bucket), nil
}

// Register binds this plugin's Kind in registry.
func Register(registry *pluginregistry.Registry) error {
	return registry.Register(pluginregistry.CategoryBootstrapProvider, pluginregistry.Descriptor{Kind: Kind, Build: Build})
}

func (p *Provider) Bootstrap(ctx context.Context, filter model.SubscriptionFilter) (<-chan model.Element, <-chan error) {
	elements := make(chan model.Element)
	errs := make(chan error, 1)

	go func() {
		defer close(elements)
		defer close(errs)

		err := blockingio.Default().Submit(ctx, func(ctx context.Context) error {
			return p.db.ForEachJSON(p.bucket, func(_ string, value interface{}) error {
				rec, ok := value.(*record)
				if !ok {
					return fmt.Errorf("boltsnapshot: unexpected value type")
				}
				elem := toElement(p.sourceID, *rec)
				if !filter.Accepts(elem) {
					return nil
				}
				select {
				case elements <- elem:
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			}, func() interface{} { return &record{} })
		})
		if err != nil && ctx.Err() == nil {
			errs <- err
		}
	}()

	return elements, errs
}

func toElement(sourceID string, rec record) model.Element {
	ref := model.Ref{SourceID: sourceID, ElementID: rec.ElementID}
	if rec.Kind == "relation" {
		from := model.Ref{SourceID: sourceID, ElementID: rec.From}
		to := model.Ref{SourceID: sourceID, ElementID: rec.To}
		return model.NewRelation(ref, rec.Label, rec.Labels, from, to, rec.Properties)
	}
	return model.NewNode(ref, rec.Labels, rec.Properties)
}
