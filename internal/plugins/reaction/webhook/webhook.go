// Package webhook is a reaction plugin that POSTs each delivered payload
// to an HTTP endpoint, grounded on cli/consumer.go's http.Client-with-
// timeout-then-Do(req) pattern (its CouchDB document PUT/POST calls).
// Retry is handled by internal/reaction's RetryPolicy, one layer up;
// this plugin only reports transport failure.
package webhook

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/flowgraphd/flowgraphd/internal/component"
	"github.com/flowgraphd/flowgraphd/internal/coreerr"
	"github.com/flowgraphd/flowgraphd/internal/lifecycle"
	"github.com/flowgraphd/flowgraphd/internal/pluginregistry"
)

const Kind = "webhook"

// Config configures the webhook reaction.
type Config struct {
	URL     string
	Method  string
	Headers map[string]string
	Timeout time.Duration
}

type Reaction struct {
	id      string
	cfg     Config
	client  *http.Client
	machine *lifecycle.Machine
}

var _ component.Reaction = (*Reaction)(nil)

func New(id string, cfg Config) *Reaction {
	if cfg.Method == "" {
		cfg.Method = http.MethodPost
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Reaction{
		id:      id,
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		machine: lifecycle.New(),
	}
}

func Build(id string, config map[string]any) (any, error) {
	url, _ := config["url"].(string)
	if url == "" {
		return nil, fmt.Errorf("webhook: config.url is required")
	}
	cfg := Config{URL: url}
	if method, ok := config["method"].(string); ok {
		cfg.Method = method
	}
	if headers, ok := config["headers"].(map[string]any); ok {
		cfg.Headers = make(map[string]string, len(headers))
		for k, v := range headers {
			if s, ok := v.(string); ok {
				cfg.Headers[k] = s
			}
		}
	}
	return New(id, cfg), nil
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

func (r *Reaction) Deliver(ctx context.Context, payload component.Payload) error {
	req, err := http.NewRequestWithContext(ctx, r.cfg.Method, r.cfg.URL, bytes.NewReader(payload.Body))
	if err != nil {
		return fmt.Errorf("%w: build request: %v", coreerr.Transport, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Query-Id", payload.QueryID)
	for k, v := range r.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", coreerr.Transport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("%w: unexpected status %d", coreerr.Transport, resp.StatusCode)
	}
	return nil
}
