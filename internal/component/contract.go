// Package component defines the plugin contracts (spec section 6): the
// typed interfaces a source, bootstrap provider, and reaction must
// satisfy to be driven by the core. These are the "dynamic-dispatch
// components" spec section 9 describes: a small, closed set of
// capability interfaces rather than open-ended dynamic loading.
package component

import (
	"context"

	"github.com/flowgraphd/flowgraphd/internal/lifecycle"
	"github.com/flowgraphd/flowgraphd/internal/model"
)

// Sink is the bounded write side of a source's change stream, owned by
// the dispatcher (spec section 9: "the producer end of each channel is
// moved into exactly one task" — here, the source's own task).
type Sink interface {
	// Send enqueues a change, blocking only until ctx is done.
	Send(ctx context.Context, change model.SourceChange) error
	// Close signals that no further changes will be produced.
	Close()
}

// SourceSchema optionally describes a source's observable node/relation
// labels and properties, for agent/IDE collaborators (spec section 6).
type SourceSchema struct {
	NodeLabels     []string
	RelationLabels []string
}

// Source is the source plugin contract (spec section 6).
type Source interface {
	// Start begins producing changes into sink. It returns only on a
	// fatal startup error; a running source keeps its own goroutine
	// alive until Stop is called.
	Start(ctx context.Context, sink Sink) error
	Stop(ctx context.Context) error
	Status() lifecycle.Status
	// DescribeSchema returns false if the source publishes no schema.
	DescribeSchema() (SourceSchema, bool)
}

// BootstrapProvider is the bootstrap provider contract (spec section 6):
// a finite, cancellable element snapshot honouring filter. elements
// closes on completion; err carries at most one value, sent before
// elements closes if the snapshot failed partway through.
type BootstrapProvider interface {
	Bootstrap(ctx context.Context, filter model.SubscriptionFilter) (elements <-chan model.Element, err <-chan error)
}

// Payload is one delivery unit handed to a reaction's transport: the
// already-templated body for one or more deltas, batched per the
// reaction's adaptive batching policy (spec section 4.7). Plugins only
// see Payload, never raw ResultDelta — templating and batching are core
// (internal/reaction) responsibilities, leaving the plugin free to be a
// thin transport as spec section 6 intends ("reactions own their
// outbound transport").
type Payload struct {
	QueryID string
	Body    []byte
	Deltas  []model.ResultDelta
}

// Reaction is the reaction plugin contract (spec section 6): a thin
// transport. Start/Stop manage any persistent connection the transport
// needs (e.g. a websocket dial); Deliver sends one already-templated,
// already-batched Payload and reports transport failure so
// internal/reaction can apply the retry policy from spec 4.7. This
// narrows spec section 6's literal "start(resultSource:
// BoundedSource<ResultDelta>)" wording to a per-call Deliver so the core
// — not each plugin — owns templating, batching, and retry.
type Reaction interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Status() lifecycle.Status
	Deliver(ctx context.Context, payload Payload) error
}
