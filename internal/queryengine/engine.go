// Package queryengine defines the Query Runtime Adapter's contract over
// an external query engine (spec 4.6). The core depends only on Adapter;
// internal/queryengine/simple ships one concrete engine sufficient to
// exercise and test the pipeline end to end.
package queryengine

import (
	"context"

	"github.com/flowgraphd/flowgraphd/internal/model"
)

// Adapter wraps one running continuous query's engine state: its input
// change stream, its output delta stream, and its result snapshot.
type Adapter interface {
	// Feed hands one change to the engine. It must not block beyond a
	// bounded duration; if the engine's internal queue is saturated it
	// returns context.DeadlineExceeded so the caller (the dispatcher,
	// via the query's input channel consumer) can propagate backpressure
	// rather than drop silently.
	Feed(ctx context.Context, change model.SourceChange) error

	// Drain stops accepting further changes, flushes in-flight work, and
	// closes the channel returned by Output.
	Drain()

	// Output emits ResultDelta values as the materialised result set
	// changes. Sequence numbers are strictly increasing starting at 1
	// for the first post-bootstrap delta (spec 4.6); deltas fed during
	// bootstrap (timestamped at the bootstrap epoch) must not appear
	// here.
	Output() <-chan model.ResultDelta

	// Snapshot returns the current result set, for external read APIs
	// and for reactions configured with "snapshot on attach".
	Snapshot() []model.Row
}

// Factory builds an Adapter for one query. It must reject unsupported
// clauses (ORDER BY, LIMIT, TOP) at creation time per spec 4.6, returning
// a *coreerr.ConfigError naming the offending clause.
type Factory func(queryID string, queryText string, outputCapacity int) (Adapter, error)

// bootstrapEpochKey is the context key WithBootstrapEpoch sets to mark
// changes fed by the Bootstrap Orchestrator as strictly earlier than
// every live change on the same subscription (spec 4.5). Adapters must
// not emit a ResultDelta for a change fed under this mark; the key tags a
// change as bootstrap-sourced independent of its embedded Timestamp field.
type bootstrapEpochKey struct{}

// WithBootstrapEpoch marks ctx so Feed calls within it are known to
// originate from the bootstrap orchestrator rather than live streaming.
func WithBootstrapEpoch(ctx context.Context) context.Context {
	return context.WithValue(ctx, bootstrapEpochKey{}, true)
}

// IsBootstrapEpoch reports whether ctx was marked by WithBootstrapEpoch.
func IsBootstrapEpoch(ctx context.Context) bool {
	v, _ := ctx.Value(bootstrapEpochKey{}).(bool)
	return v
}
