// Package simple is the reference Query Runtime Adapter (spec 4.6):
// a minimal in-process engine sufficient to exercise and test the
// dispatch/bootstrap/reaction pipeline end to end. It supports exactly
// one query shape (see parse.go) — real pattern matching and aggregation
// remain an external collaborator per spec section 1.
package simple

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/flowgraphd/flowgraphd/internal/model"
	"github.com/flowgraphd/flowgraphd/internal/queryengine"
)

// New is a queryengine.Factory building the reference engine.
func New(queryID string, queryText string, outputCapacity int) (queryengine.Adapter, error) {
	parsed, err := parseQuery(queryText)
	if err != nil {
		return nil, err
	}
	return &Engine{
		queryID: queryID,
		query:   parsed,
		rows:    make(map[model.Ref]model.Row),
		output:  make(chan model.ResultDelta, outputCapacity),
	}, nil
}

// Engine is the concrete Adapter. A single mutex guards the result-row
// index; Feed calls are serialized by the query runtime (one per-query
// feed lock shared by all of the query's subscriptions), but the lock
// keeps Snapshot safe to call concurrently from read APIs.
type Engine struct {
	queryID string
	query   parsedQuery

	mu       sync.Mutex
	rows     map[model.Ref]model.Row
	sequence uint64
	draining bool

	output chan model.ResultDelta
}

func (e *Engine) Feed(ctx context.Context, change model.SourceChange) error {
	e.mu.Lock()
	if e.draining {
		e.mu.Unlock()
		return fmt.Errorf("queryengine: query %s is draining", e.queryID)
	}

	// Bootstrap-epoch synthetic inserts never emit a ResultDelta and
	// never advance the sequence counter (spec 4.6): the first
	// post-bootstrap delta must carry sequence 1.
	isBootstrap := queryengine.IsBootstrapEpoch(ctx)
	delta, ok := e.applyLocked(change, isBootstrap)
	e.mu.Unlock()
	if !ok || isBootstrap {
		return nil
	}

	select {
	case e.output <- delta:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// applyLocked updates the row index for change and returns the resulting
// delta, if any. Must be called with e.mu held.
func (e *Engine) applyLocked(change model.SourceChange, isBootstrap bool) (model.ResultDelta, bool) {
	elem := change.Element
	if elem.Kind != model.KindNode {
		return model.ResultDelta{}, false
	}
	if _, labelled := elem.Labels[e.query.label]; !labelled && change.Op != model.OpDelete {
		return model.ResultDelta{}, false
	}

	ref := elem.Ref
	before, existed := e.rows[ref]

	switch change.Op {
	case model.OpDelete:
		if !existed {
			return model.ResultDelta{}, false
		}
		delete(e.rows, ref)
		return e.emitLocked(model.DeltaDeleted, before, nil, nil, isBootstrap)

	case model.OpInsert, model.OpUpdate:
		row := e.projectLocked(elem)
		e.rows[ref] = row
		if !existed {
			return e.emitLocked(model.DeltaAdded, nil, nil, row, isBootstrap)
		}
		return e.emitLocked(model.DeltaUpdated, nil, before, row, isBootstrap)
	}
	return model.ResultDelta{}, false
}

func (e *Engine) projectLocked(elem model.Element) model.Row {
	row := make(model.Row, len(e.query.projections))
	for _, p := range e.query.projections {
		row[p.alias] = elem.Properties[p.property]
	}
	return row
}

func (e *Engine) emitLocked(op model.DeltaOp, added model.Row, before model.Row, after model.Row, isBootstrap bool) (model.ResultDelta, bool) {
	d := model.ResultDelta{QueryID: e.queryID, Op: op, Timestamp: time.Now()}
	if !isBootstrap {
		e.sequence++
		d.Sequence = e.sequence
	}
	switch op {
	case model.DeltaAdded:
		d.Row = after
	case model.DeltaDeleted:
		d.Row = added
	default:
		d.Before = before
		d.After = after
	}
	return d, true
}

func (e *Engine) Drain() {
	e.mu.Lock()
	if e.draining {
		e.mu.Unlock()
		return
	}
	e.draining = true
	e.mu.Unlock()
	close(e.output)
}

func (e *Engine) Output() <-chan model.ResultDelta {
	return e.output
}

func (e *Engine) Snapshot() []model.Row {
	e.mu.Lock()
	defer e.mu.Unlock()
	rows := make([]model.Row, 0, len(e.rows))
	for _, r := range e.rows {
		rows = append(rows, r)
	}
	return rows
}
