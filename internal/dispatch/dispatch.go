// Package dispatch implements the Subscription Dispatcher (spec 4.4):
// for each active source, a fanout task reads SourceChange values from a
// bounded dispatch buffer and forwards them, through each subscription's
// middleware pipeline and label filter, into that subscription's bounded
// priority queue. This is grounded on the teacher's worker.Pool
// (dequeue/process/distribute loop) generalised from one queue to a
// one-to-many fanout, and on transport.Manager for the source-keyed
// registration pattern.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/flowgraphd/flowgraphd/internal/component"
	"github.com/flowgraphd/flowgraphd/internal/coreerr"
	"github.com/flowgraphd/flowgraphd/internal/logging"
	"github.com/flowgraphd/flowgraphd/internal/model"
)

var log = logging.For("dispatch")

// Config holds the tunables named throughout spec 4.4/4.5.
type Config struct {
	DefaultDispatchBufferCapacity int
	DefaultPriorityQueueCapacity  int
	DispatchBufferBlockTimeout    time.Duration
}

// DefaultConfig returns sane defaults; callers override per spec's
// "overridable per source"/"overridable per query" language.
func DefaultConfig() Config {
	return Config{
		DefaultDispatchBufferCapacity: 256,
		DefaultPriorityQueueCapacity:  256,
		DispatchBufferBlockTimeout:    50 * time.Millisecond,
	}
}

// Dispatcher owns every active source's fanout task and every
// subscription's priority queue.
type Dispatcher struct {
	cfg Config

	mu      sync.RWMutex
	sources map[string]*sourceState
}

// New builds a Dispatcher.
func New(cfg Config) *Dispatcher {
	return &Dispatcher{cfg: cfg, sources: make(map[string]*sourceState)}
}

type subscriptionEntry struct {
	sub   model.Subscription
	queue *subscriptionQueue
}

type sourceState struct {
	id           string
	buffer       chan model.SourceChange
	transform    func(model.SourceChange) model.SourceChange
	blockTimeout time.Duration
	onExit       func(sourceID string)

	mu     sync.RWMutex
	subs   map[string]*subscriptionEntry
	exited bool
}

// dispatchSink is the component.Sink handed to a source plugin's Start
// method; it is the producer end of the source's dispatch buffer.
type dispatchSink struct {
	state *sourceState
}

func (s *dispatchSink) Send(ctx context.Context, change model.SourceChange) error {
	select {
	case s.state.buffer <- change:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *dispatchSink) Close() {
	s.state.mu.Lock()
	already := s.state.exited
	s.state.exited = true
	s.state.mu.Unlock()
	if !already {
		close(s.state.buffer)
	}
}

// RegisterSource creates the dispatch buffer and fanout task for a
// source and returns the Sink its plugin writes into. bufferCapacity<=0
// uses the dispatcher default. onExit is invoked exactly once, after the
// fanout task observes the buffer close, so the caller (C9 instance
// runtime) can cascade the source's subscribing queries into Failed
// (spec 4.4, 4.9).
func (d *Dispatcher) RegisterSource(sourceID string, bufferCapacity int, transform func(model.SourceChange) model.SourceChange, onExit func(sourceID string)) (component.Sink, error) {
	if bufferCapacity <= 0 {
		bufferCapacity = d.cfg.DefaultDispatchBufferCapacity
	}

	d.mu.Lock()
	if _, exists := d.sources[sourceID]; exists {
		d.mu.Unlock()
		return nil, fmt.Errorf("dispatch: source %q: %w", sourceID, coreerr.Duplicate)
	}
	state := &sourceState{
		id:           sourceID,
		buffer:       make(chan model.SourceChange, bufferCapacity),
		transform:    transform,
		blockTimeout: d.cfg.DispatchBufferBlockTimeout,
		onExit:       onExit,
		subs:         make(map[string]*subscriptionEntry),
	}
	d.sources[sourceID] = state
	d.mu.Unlock()

	go d.fanoutLoop(state)
	return &dispatchSink{state: state}, nil
}

// RemoveSource drops bookkeeping for a source after it has fully
// stopped. It does not close the buffer — the source's own Sink.Close
// (or dispatchSink.Close) owns that.
func (d *Dispatcher) RemoveSource(sourceID string) {
	d.mu.Lock()
	delete(d.sources, sourceID)
	d.mu.Unlock()
}

// Subscribe registers sub against its source and returns a handle the
// bootstrap orchestrator / query runtime adapter drains. A negative
// capacity rejects the configuration with a ConfigError; zero means "not
// set" and uses the dispatcher default, so no queue ever has capacity 0.
func (d *Dispatcher) Subscribe(sub model.Subscription) (*SubscriptionHandle, error) {
	d.mu.RLock()
	state, ok := d.sources[sub.SourceID]
	d.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("dispatch: subscribe: source %q not registered: %w", sub.SourceID, coreerr.Unknown)
	}

	capacity := sub.QueueCapacity
	if capacity < 0 {
		return nil, coreerr.NewConfigError("queueCapacity", "must be >= 1")
	}
	if capacity == 0 {
		capacity = d.cfg.DefaultPriorityQueueCapacity
	}

	queue := newSubscriptionQueue(capacity)
	entry := &subscriptionEntry{sub: sub, queue: queue}

	state.mu.Lock()
	if state.exited {
		state.mu.Unlock()
		queue.Close()
		return nil, fmt.Errorf("dispatch: subscribe: source %q has exited", sub.SourceID)
	}
	state.subs[sub.ID] = entry
	state.mu.Unlock()

	return &SubscriptionHandle{sourceID: sub.SourceID, subscriptionID: sub.ID, queue: queue}, nil
}

// Unsubscribe removes and closes a subscription's queue, e.g. on query
// delete.
func (d *Dispatcher) Unsubscribe(sourceID, subscriptionID string) {
	d.mu.RLock()
	state, ok := d.sources[sourceID]
	d.mu.RUnlock()
	if !ok {
		return
	}
	state.mu.Lock()
	entry, ok := state.subs[subscriptionID]
	delete(state.subs, subscriptionID)
	state.mu.Unlock()
	if ok {
		entry.queue.Close()
	}
}

func (d *Dispatcher) fanoutLoop(state *sourceState) {
	logger := log.WithField("source", state.id)
	for change := range state.buffer {
		if state.transform != nil {
			change = state.transform(change)
		}

		state.mu.RLock()
		entries := make([]*subscriptionEntry, 0, len(state.subs))
		for _, e := range state.subs {
			entries = append(entries, e)
		}
		state.mu.RUnlock()

		for _, entry := range entries {
			d.fanoutOne(logger, entry, change)
		}
	}

	state.mu.Lock()
	state.exited = true
	entries := make([]*subscriptionEntry, 0, len(state.subs))
	for _, e := range state.subs {
		entries = append(entries, e)
	}
	state.mu.Unlock()

	for _, entry := range entries {
		entry.queue.Close()
	}
	logger.Info("source exited, subscription queues closed")
	if state.onExit != nil {
		state.onExit(state.id)
	}
}

// fanoutOne applies entry's label filter and middleware pipeline to
// change and enqueues every resulting change (spec 4.4). A Delete is
// never filtered out, even if its carried label set no longer matches
// the subscription's whitelist — deletions must reach the query once an
// insert may already have been delivered.
func (d *Dispatcher) fanoutOne(logger *logrus.Entry, entry *subscriptionEntry, change model.SourceChange) {
	if change.Op != model.OpDelete && !entry.sub.Accepts(change.Element) {
		return
	}

	changes := []model.SourceChange{change}
	for _, mw := range entry.sub.Pipeline {
		var next []model.SourceChange
		for _, c := range changes {
			results, err := mw.Transform(c)
			if err != nil {
				entry.queue.incError()
				logger.WithField("subscription", entry.sub.ID).WithField("middleware", mw.Name).
					WithError(err).Warn("middleware transform failed, dropping change")
				continue
			}
			next = append(next, results...)
		}
		changes = next
	}

	for _, c := range changes {
		dropped, closed := entry.queue.Enqueue(c, entry.blockTimeout(d.cfg.DispatchBufferBlockTimeout))
		if closed {
			return
		}
		if dropped {
			logger.WithField("subscription", entry.sub.ID).Warn("subscription lagging, dropped oldest queued change")
		}
	}
}

// blockTimeout lets a subscription override the dispatcher-wide backoff
// window; subscriptions carry no such field today, so this always
// returns the dispatcher default, but keeps the override point named in
// spec 4.4 ("dispatchBufferBlockMs") in one place.
func (e *subscriptionEntry) blockTimeout(dflt time.Duration) time.Duration {
	return dflt
}

// SubscriptionHandle is the consumer-facing view of one subscription's
// priority queue, used by the Bootstrap Orchestrator (C5) and the Query
// Runtime Adapter (C6).
type SubscriptionHandle struct {
	sourceID       string
	subscriptionID string
	queue          *subscriptionQueue
}

func (h *SubscriptionHandle) Dequeue(ctx context.Context) (model.SourceChange, bool) {
	return h.queue.Dequeue(ctx)
}

func (h *SubscriptionHandle) Stats() Stats {
	return h.queue.Stats()
}

// DrainAll flushes every change currently queued without blocking, for
// the Bootstrap Orchestrator's reconciliation step.
func (h *SubscriptionHandle) DrainAll() []model.SourceChange {
	return h.queue.DrainAll()
}

// Close releases the subscription's queue, e.g. when bootstrap fails and
// the orchestrator must release a sibling subscription that already
// succeeded (spec 4.5 atomicity).
func (h *SubscriptionHandle) Close() {
	h.queue.Close()
}

func (h *SubscriptionHandle) SourceID() string       { return h.sourceID }
func (h *SubscriptionHandle) SubscriptionID() string { return h.subscriptionID }
