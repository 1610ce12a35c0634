// Package bootstrap implements the Bootstrap Orchestrator (C5, spec
// 4.5): for each (query, source) subscription it opens the subscription
// in paused mode, feeds the bootstrap provider's snapshot to the query
// as synthetic Insert changes at the bootstrap epoch, then reconciles
// and drains whatever live changes buffered during the snapshot read.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/flowgraphd/flowgraphd/internal/component"
	"github.com/flowgraphd/flowgraphd/internal/coreerr"
	"github.com/flowgraphd/flowgraphd/internal/dispatch"
	"github.com/flowgraphd/flowgraphd/internal/logging"
	"github.com/flowgraphd/flowgraphd/internal/model"
	"github.com/flowgraphd/flowgraphd/internal/queryengine"
)

var log = logging.For("bootstrap")

// DefaultBufferSize is bootstrapBufferSize from spec 4.5.
const DefaultBufferSize = 10000

// bootstrapEpoch is strictly earlier than every live change on a
// subscription (spec 4.5); it only needs to compare less than whatever
// Timestamp live sources stamp their changes with; since sources supply
// their own Timestamp, starting at the Unix epoch in UTC satisfies that
// in every realistic deployment.
var bootstrapEpoch = time.Unix(0, 0).UTC()

// Request describes one (query, source) subscription to bootstrap.
type Request struct {
	Subscription model.Subscription
	Provider     component.BootstrapProvider
	// BufferSize overrides DefaultBufferSize; <= 0 uses the default.
	BufferSize int
}

// Orchestrator drives bootstrap requests against a Dispatcher.
type Orchestrator struct {
	dispatcher *dispatch.Dispatcher
}

// New builds an Orchestrator over dispatcher.
func New(dispatcher *dispatch.Dispatcher) *Orchestrator {
	return &Orchestrator{dispatcher: dispatcher}
}

// BootstrapQuery runs every request for a query and enforces atomicity
// (spec 4.5): if any subscription's bootstrap fails, every handle —
// including ones that already succeeded — is released and the first
// error is returned.
func (o *Orchestrator) BootstrapQuery(ctx context.Context, adapter queryengine.Adapter, requests []Request) ([]*dispatch.SubscriptionHandle, error) {
	handles := make([]*dispatch.SubscriptionHandle, 0, len(requests))
	for _, req := range requests {
		handle, err := o.run(ctx, adapter, req)
		if err != nil {
			for _, h := range handles {
				releaseHandle(o.dispatcher, h)
			}
			return nil, fmt.Errorf("bootstrap: source %q: %w", req.Subscription.SourceID, err)
		}
		handles = append(handles, handle)
	}
	return handles, nil
}

func releaseHandle(d *dispatch.Dispatcher, h *dispatch.SubscriptionHandle) {
	d.Unsubscribe(h.SourceID(), h.SubscriptionID())
}

// run executes the bootstrap protocol for one (query, source) pair
// (spec 4.5 steps 1-5). On success it returns the now-live subscription
// handle for the caller (Query Runtime Adapter) to keep draining.
func (o *Orchestrator) run(ctx context.Context, adapter queryengine.Adapter, req Request) (*dispatch.SubscriptionHandle, error) {
	bufferSize := req.BufferSize
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}

	sub := req.Subscription
	sub.QueueCapacity = bufferSize

	// Step 1: open the subscription in paused mode. Nothing distinct is
	// needed to "pause" delivery — the orchestrator simply doesn't call
	// Dequeue until the snapshot is fully fed, so live changes
	// accumulate in the priority queue up to bufferSize.
	handle, err := o.dispatcher.Subscribe(sub)
	if err != nil {
		return nil, err
	}

	logger := log.WithField("query", sub.QueryID).WithField("source", sub.SourceID)

	// Step 2/3: feed the bootstrap snapshot as synthetic Inserts at the
	// bootstrap epoch.
	delivered := make(map[model.Ref]struct{})
	snapshotCtx := queryengine.WithBootstrapEpoch(ctx)
	elements, errs := req.Provider.Bootstrap(ctx, sub.Filter())

readLoop:
	for {
		select {
		case elem, ok := <-elements:
			if !ok {
				break readLoop
			}
			change := model.SourceChange{Op: model.OpInsert, Timestamp: bootstrapEpoch, Element: elem}
			if err := adapter.Feed(snapshotCtx, change); err != nil {
				handle.Close()
				o.dispatcher.Unsubscribe(sub.SourceID, sub.ID)
				return nil, fmt.Errorf("%w: feed snapshot element %v: %v", coreerr.Bootstrap, elem.Ref, err)
			}
			delivered[elem.Ref] = struct{}{}

		case snapErr, ok := <-errs:
			if ok && snapErr != nil {
				handle.Close()
				o.dispatcher.Unsubscribe(sub.SourceID, sub.ID)
				return nil, fmt.Errorf("%w: snapshot read: %v", coreerr.Bootstrap, snapErr)
			}

		case <-ctx.Done():
			// Step: cancellation during bootstrap cancels the snapshot
			// read immediately and releases buffered changes.
			handle.Close()
			o.dispatcher.Unsubscribe(sub.SourceID, sub.ID)
			return nil, ctx.Err()
		}
	}

	// Overflow check: any drop recorded while paused means a buffered
	// live change was lost, which step 1's overflow rule treats as
	// bootstrap failure.
	if stats := handle.Stats(); stats.DropCount > 0 {
		handle.Close()
		o.dispatcher.Unsubscribe(sub.SourceID, sub.ID)
		return nil, fmt.Errorf("%w: pre-bootstrap buffer overflow", coreerr.Bootstrap)
	}

	// Step 4: drain buffered live changes, reconciling against the
	// snapshot: a buffered Insert for a reference the snapshot already
	// delivered is promoted to Update so the query never sees a
	// duplicate Insert for the same reference.
	buffered := handle.DrainAll()
	for _, change := range buffered {
		if _, known := delivered[change.RefOf()]; known && change.Op == model.OpInsert {
			change.Op = model.OpUpdate
		}
		if err := adapter.Feed(ctx, change); err != nil {
			handle.Close()
			o.dispatcher.Unsubscribe(sub.SourceID, sub.ID)
			return nil, fmt.Errorf("%w: feed reconciled change: %v", coreerr.Bootstrap, err)
		}
	}

	// Step 5: the subscription is now live.
	logger.WithField("snapshotCount", len(delivered)).WithField("reconciledCount", len(buffered)).
		Info("bootstrap complete, subscription is live")
	return handle, nil
}
