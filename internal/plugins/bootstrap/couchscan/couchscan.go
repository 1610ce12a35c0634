// Package couchscan is a bootstrap provider plugin that reads a
// snapshot from a CouchDB database via the teacher's
// storage.CouchDBClient (AllDocs), adapted from its general-purpose
// document-store role into a typed element-snapshot reader.
package couchscan

import (
	"context"
	"fmt"

	"github.com/flowgraphd/flowgraphd/internal/blockingio"
	"github.com/flowgraphd/flowgraphd/internal/component"
	"github.com/flowgraphd/flowgraphd/internal/model"
	"github.com/flowgraphd/flowgraphd/internal/pluginregistry"
	"github.com/flowgraphd/flowgraphd/storage"
)

const Kind = "couchscan"

// Provider scans every document in a CouchDB database on each Bootstrap
// call, interpreting each as one element per the document layout below.
type Provider struct {
	client   *storage.CouchDBClient
	sourceID string
}

var _ component.BootstrapProvider = (*Provider)(nil)

// New builds a Provider over an already-connected client.
func New(client *storage.CouchDBClient, sourceID string) *Provider {
	return &Provider{client: client, sourceID: sourceID}
}

// Build connects to CouchDB per config (url, database, username,
// password), following storage.DefaultDatabaseConfig's field names.
func Build(id string, config map[string]any) (any, error) {
	cfg := storage.DefaultDatabaseConfig()
	if v, ok := config["url"].(string); ok && v != "" {
		cfg.URL = v
	}
	if v, ok := config["database"].(string); ok && v != "" {
		cfg.Database = v
	}
	if v, ok := config["username"].(string); ok {
		cfg.Username = v
	}
	if v, ok := config["password"].(string); ok {
		cfg.Password = v
	}
	if cfg.Database == "" {
		return nil, fmt.Errorf("couchscan: config.database is required")
	}

	client, err := storage.NewCouchDBClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("couchscan: %w", err)
	}
	return New(client, id), nil
}

// Register binds this plugin's Kind in registry.
func Register(registry *pluginregistry.Registry) error {
	return registry.Register(pluginregistry.CategoryBootstrapProvider, pluginregistry.Descriptor{Kind: Kind, Build: Build})
}

// document is the expected CouchDB document shape; fields beyond these
// are ignored.
type document struct {
	Kind       string         `json:"kind"`
	ElementID  string         `json:"elementId"`
	Labels     []string       `json:"labels"`
	Label      string         `json:"label"`
	From       string         `json:"from,omitempty"`
	To         string         `json:"to,omitempty"`
	Properties map[string]any `json:"properties"`
}

func (p *Provider) Bootstrap(ctx context.Context, filter model.SubscriptionFilter) (<-chan model.Element, <-chan error) {
	elements := make(chan model.Element)
	errs := make(chan error, 1)

	go func() {
		defer close(elements)
		defer close(errs)

		err := blockingio.Default().Submit(ctx, func(ctx context.Context) error {
			docs, err := p.client.AllDocs(ctx)
			if err != nil {
				return fmt.Errorf("couchscan: %w", err)
			}

			for _, raw := range docs {
				doc, ok := asDocument(raw)
				if !ok {
					continue
				}
				elem := toElement(p.sourceID, doc)
				if !filter.Accepts(elem) {
					continue
				}
				select {
				case elements <- elem:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			return nil
		})
		if err != nil && ctx.Err() == nil {
			errs <- err
		}
	}()

	return elements, errs
}

// asDocument converts kivik's generic ScanDoc output (a
// map[string]interface{}) into a document, tolerating non-element
// documents (CouchDB design docs, unrelated data) by skipping them.
func asDocument(raw interface{}) (document, bool) {
	m, ok := raw.(map[string]interface{})
	if !ok {
		return document{}, false
	}
	elementID, _ := m["elementId"].(string)
	if elementID == "" {
		return document{}, false
	}
	doc := document{
		Kind:      stringOf(m["kind"]),
		ElementID: elementID,
		Label:     stringOf(m["label"]),
		From:      stringOf(m["from"]),
		To:        stringOf(m["to"]),
	}
	if labels, ok := m["labels"].([]interface{}); ok {
		for _, l := range labels {
			if s, ok := l.(string); ok {
				doc.Labels = append(doc.Labels, s)
			}
		}
	}
	if props, ok := m["properties"].(map[string]interface{}); ok {
		doc.Properties = props
	}
	return doc, true
}

func stringOf(v interface{}) string {
	s, _ := v.(string)
	return s
}

func toElement(sourceID string, doc document) model.Element {
	ref := model.Ref{SourceID: sourceID, ElementID: doc.ElementID}
	if doc.Kind == "relation" {
		from := model.Ref{SourceID: sourceID, ElementID: doc.From}
		to := model.Ref{SourceID: sourceID, ElementID: doc.To}
		return model.NewRelation(ref, doc.Label, doc.Labels, from, to, doc.Properties)
	}
	return model.NewNode(ref, doc.Labels, doc.Properties)
}
