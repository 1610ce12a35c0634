// Package reaction implements Reaction Delivery (C7, spec 4.7): for
// each query a reaction subscribes to, it drains that query's result
// deltas through a bounded consumer loop, applies an optional per-query
// template and adaptive batching, and hands the resulting payload to the
// reaction plugin's transport, retrying transport failures per
// RetryPolicy.
package reaction

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flowgraphd/flowgraphd/internal/component"
	"github.com/flowgraphd/flowgraphd/internal/lifecycle"
	"github.com/flowgraphd/flowgraphd/internal/logging"
	"github.com/flowgraphd/flowgraphd/internal/model"
)

var log = logging.For("reaction")

// ControlEvent names the optional lifecycle notifications a reaction can
// receive (spec 4.7).
type ControlEvent string

const (
	ControlStarted           ControlEvent = "control_started"
	ControlStopped           ControlEvent = "control_stopped"
	ControlBootstrapComplete ControlEvent = "bootstrap_completed"
)

// QuerySource is one query a reaction subscribes to.
type QuerySource struct {
	QueryID string
	Output  <-chan model.ResultDelta
	// Snapshot, if non-nil, is consulted on attach when Config.SnapshotOnAttach
	// is set (Open Question 1, resolved per reaction — see DESIGN.md).
	Snapshot func() []model.Row
}

// Config describes one reaction's wiring.
type Config struct {
	ID      string
	Plugin  component.Reaction
	Queries []QuerySource

	// Templates is keyed by queryID; a query with no entry uses
	// defaultPayload.
	Templates map[string]Template
	Batch     BatchPolicy
	Retry     RetryPolicy

	// SnapshotOnAttach resolves Open Question 1 for this reaction:
	// true delivers the query's current snapshot as synthetic Added
	// deltas before any live delta. It comes from the reaction's own
	// spec and is false unless configured, for every reaction kind.
	SnapshotOnAttach  bool
	EmitControlEvents bool
}

// Runtime drives one reaction's delivery loops.
type Runtime struct {
	cfg     Config
	machine *lifecycle.Machine

	dropCount  uint64
	errorCount uint64

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New builds a Runtime in the Stopped state.
func New(cfg Config) *Runtime {
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	if cfg.Batch.MaxSize == 0 {
		cfg.Batch = DefaultBatchPolicy()
	}
	return &Runtime{cfg: cfg, machine: lifecycle.New()}
}

func (r *Runtime) Status() lifecycle.Status { return r.machine.Status() }

// Start starts the reaction plugin and one consumer goroutine per
// subscribed query.
func (r *Runtime) Start(ctx context.Context) error {
	if err := r.machine.Begin(lifecycle.Starting); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := r.cfg.Plugin.Start(runCtx); err != nil {
		cancel()
		r.machine.Finish(lifecycle.Failed, err.Error(), true)
		return fmt.Errorf("reaction %s: start transport: %w", r.cfg.ID, err)
	}
	r.cancel = cancel
	r.machine.Finish(lifecycle.Running, "", false)

	if r.cfg.EmitControlEvents {
		r.emitControl(runCtx, ControlStarted)
	}

	for _, q := range r.cfg.Queries {
		r.wg.Add(1)
		go r.consumeQuery(runCtx, q)
	}
	return nil
}

// Stop cancels every consumer loop and stops the transport, waiting up
// to the caller's context deadline.
func (r *Runtime) Stop(ctx context.Context) error {
	if err := r.machine.Begin(lifecycle.Stopping); err != nil {
		return err
	}
	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		r.machine.Finish(lifecycle.Failed, "stop timed out", true)
		return ctx.Err()
	}

	if r.cfg.EmitControlEvents {
		r.emitControl(ctx, ControlStopped)
	}
	err := r.cfg.Plugin.Stop(ctx)
	if err != nil {
		r.machine.Finish(lifecycle.Failed, err.Error(), true)
		return err
	}
	r.machine.Finish(lifecycle.Stopped, "", false)
	return nil
}

func (r *Runtime) emitControl(ctx context.Context, event ControlEvent) {
	payload := component.Payload{Body: []byte(event)}
	if err := r.cfg.Plugin.Deliver(ctx, payload); err != nil {
		log.WithField("reaction", r.cfg.ID).WithError(err).Warn("control event delivery failed")
	}
}

func (r *Runtime) consumeQuery(ctx context.Context, q QuerySource) {
	defer r.wg.Done()
	logger := log.WithField("reaction", r.cfg.ID).WithField("query", q.QueryID)

	if r.cfg.SnapshotOnAttach && q.Snapshot != nil {
		for _, row := range q.Snapshot() {
			r.deliverBatch(ctx, q.QueryID, []model.ResultDelta{{QueryID: q.QueryID, Op: model.DeltaAdded, Row: row}})
		}
	}

	batcher := newBatcher(r.cfg.Batch)
	for {
		batch, ok := batcher.collect(ctx, q.Output)
		if !ok {
			logger.Info("query output ended, reaction consumer exiting")
			return
		}
		start := time.Now()
		r.deliverBatch(ctx, q.QueryID, batch)
		batcher.recordLatency(time.Since(start))
	}
}

func (r *Runtime) deliverBatch(ctx context.Context, queryID string, batch []model.ResultDelta) {
	payload := r.buildPayload(queryID, batch)
	err := r.cfg.Retry.Do(ctx, func() error {
		return r.cfg.Plugin.Deliver(ctx, payload)
	})
	if err == nil {
		return
	}

	atomic.AddUint64(&r.errorCount, 1)
	if r.cfg.Retry.OnExhaustion == ExhaustionFail {
		r.machine.Finish(lifecycle.Failed, fmt.Sprintf("delivery to query %s exhausted retries: %v", queryID, err), true)
		return
	}
	atomic.AddUint64(&r.dropCount, 1)
	log.WithField("reaction", r.cfg.ID).WithField("query", queryID).WithError(err).
		Warn("delivery exhausted retries, dropping batch")
}

func (r *Runtime) buildPayload(queryID string, batch []model.ResultDelta) component.Payload {
	tmpl, hasTemplate := r.cfg.Templates[queryID]

	var body []byte
	for i, d := range batch {
		var rendered []byte
		if hasTemplate {
			if out, err := tmpl.render(d); err == nil {
				rendered = out
			} else {
				rendered = defaultPayload(d)
			}
		} else {
			rendered = defaultPayload(d)
		}
		if i > 0 {
			body = append(body, '\n')
		}
		body = append(body, rendered...)
	}
	return component.Payload{QueryID: queryID, Body: body, Deltas: batch}
}

// DropCount and ErrorCount expose the counters named in spec 7 via the
// management surface.
func (r *Runtime) DropCount() uint64  { return atomic.LoadUint64(&r.dropCount) }
func (r *Runtime) ErrorCount() uint64 { return atomic.LoadUint64(&r.errorCount) }
