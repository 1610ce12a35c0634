// Package instance implements the Instance Runtime (C9, spec 4.9): one
// isolated namespace owning a plugin registry, every running
// source/query/reaction, and a state store. It is the top-level
// collaborator the management surface (internal/managementhttp) and
// cmd/flowgraphd drive; everything below it (C1-C8) is wired together
// here exactly the way spec 5's "component map guarded by a single fair
// mutex, touched rarely" describes.
package instance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/flowgraphd/flowgraphd/internal/bootstrap"
	"github.com/flowgraphd/flowgraphd/internal/component"
	"github.com/flowgraphd/flowgraphd/internal/config"
	"github.com/flowgraphd/flowgraphd/internal/coreerr"
	"github.com/flowgraphd/flowgraphd/internal/dispatch"
	"github.com/flowgraphd/flowgraphd/internal/factory"
	"github.com/flowgraphd/flowgraphd/internal/join"
	"github.com/flowgraphd/flowgraphd/internal/lifecycle"
	"github.com/flowgraphd/flowgraphd/internal/logging"
	"github.com/flowgraphd/flowgraphd/internal/model"
	"github.com/flowgraphd/flowgraphd/internal/pluginregistry"
	"github.com/flowgraphd/flowgraphd/internal/queryengine"
	"github.com/flowgraphd/flowgraphd/internal/reaction"
	"github.com/flowgraphd/flowgraphd/internal/statestore"
)

var log = logging.For("instance")

// StopTimeout is stopTimeoutMs from spec 5: the window a component gets
// to honour cancellation before Stop reports Failed("stop timed out").
const StopTimeout = 10 * time.Second

// SubscriptionSpec describes one (query, source) edge a query declares
// at creation time.
type SubscriptionSpec struct {
	SourceID            string
	NodeLabels          []string
	RelationLabels      []string
	Pipeline            []model.NamedMiddleware
	QueueCapacity       int
	EnableBootstrap     bool
	BootstrapProviderID string // empty uses a no-op snapshot
	BootstrapBufferSize int
}

// QuerySpec is the declarative description of one continuous query.
type QuerySpec struct {
	ID             string
	Text           string
	OutputCapacity int
	Subscriptions  []SubscriptionSpec
	Joins          []model.JoinSpec
}

// ReactionSpec is the declarative description of one reaction.
type ReactionSpec struct {
	ID                string
	QueryIDs          []string
	Templates         map[string]reaction.Template
	Batch             reaction.BatchPolicy
	Retry             reaction.RetryPolicy
	SnapshotOnAttach  bool
	EmitControlEvents bool
}

// Config bundles what an Instance needs beyond its id.
type Config struct {
	ID            string
	Registry      *pluginregistry.Registry
	Dispatch      dispatch.Config
	EngineFactory queryengine.Factory
	Store         statestore.Store
	Lookup        config.Lookup
}

// Instance owns one isolated namespace: its own dispatcher, bootstrap
// orchestrator, and component map (spec 4.9 / section 5's "no
// cross-instance subscriptions").
type Instance struct {
	id            string
	registry      *pluginregistry.Registry
	dispatcher    *dispatch.Dispatcher
	bootstrapOrch *bootstrap.Orchestrator
	engineFactory queryengine.Factory
	store         statestore.Store
	lookup        config.Lookup

	sourceFactory    *factory.Factory
	bootstrapFactory *factory.Factory
	reactionFactory  *factory.Factory

	// mu is the single fair mutex from spec section 5 guarding the
	// component map; lifecycle operations themselves run unlocked once
	// they have their own component's handle.
	mu            sync.Mutex
	sources       map[string]*sourceComponent
	queries       map[string]*queryComponent
	reactions     map[string]*reactionComponent
	bootstrapByID map[string]component.BootstrapProvider
}

type sourceComponent struct {
	id         string
	plugin     component.Source
	machine    *lifecycle.Machine
	cancel     context.CancelFunc
	sink       component.Sink
	dependents map[string]struct{} // query IDs subscribed to this source
}

type queryComponent struct {
	id      string
	spec    QuerySpec
	adapter queryengine.Adapter
	machine *lifecycle.Machine
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	handles []*dispatch.SubscriptionHandle
	feedMu  sync.Mutex // serializes join processing and Feed across the query's subscriptions
}

type reactionComponent struct {
	id      string
	runtime *reaction.Runtime
}

// New builds an empty Instance; sources/queries/reactions are added via
// Create* below.
func New(cfg Config) *Instance {
	dispatcher := dispatch.New(cfg.Dispatch)
	return &Instance{
		id:               cfg.ID,
		registry:         cfg.Registry,
		dispatcher:       dispatcher,
		bootstrapOrch:    bootstrap.New(dispatcher),
		engineFactory:    cfg.EngineFactory,
		store:            cfg.Store,
		lookup:           cfg.Lookup,
		sourceFactory:    factory.SourceFactory(cfg.Registry, cfg.Lookup),
		bootstrapFactory: factory.BootstrapFactory(cfg.Registry, cfg.Lookup),
		reactionFactory:  factory.ReactionFactory(cfg.Registry, cfg.Lookup),
		sources:          make(map[string]*sourceComponent),
		queries:          make(map[string]*queryComponent),
		reactions:        make(map[string]*reactionComponent),
		bootstrapByID:    make(map[string]component.BootstrapProvider),
	}
}

func (in *Instance) ID() string { return in.id }

func (in *Instance) persistStatus(kind, id string, status lifecycle.Status) {
	if in.store == nil {
		return
	}
	key := statestore.Key(in.id, kind, id)
	value := []byte(fmt.Sprintf("%s|%s|%v", status.State, status.LastError, status.Retryable))
	if err := in.store.Put(context.Background(), key, value); err != nil {
		log.WithField("key", key).WithError(err).Warn("failed to persist component status")
	}
}

// --- Sources ---------------------------------------------------------

// CreateSource builds (but does not start) a source component from spec.
func (in *Instance) CreateSource(spec factory.Spec) error {
	built, err := in.sourceFactory.Build(spec)
	if err != nil {
		return err
	}
	plugin, ok := built.(component.Source)
	if !ok {
		return coreerr.NewConfigError(spec.ID, "kind does not implement the source contract")
	}

	in.mu.Lock()
	defer in.mu.Unlock()
	if _, exists := in.sources[spec.ID]; exists {
		return fmt.Errorf("instance: source %q: %w", spec.ID, coreerr.Duplicate)
	}
	sc := &sourceComponent{id: spec.ID, plugin: plugin, machine: lifecycle.New(), dependents: make(map[string]struct{})}
	sc.machine.OnChange(func(s lifecycle.Status) { in.persistStatus("source", spec.ID, s) })
	in.sources[spec.ID] = sc
	return nil
}

// CreateBootstrapProvider builds a standalone bootstrap provider plugin
// (spec 4.9's bootstrap provider may be distinct from its source) and
// registers it under providerID for later reference by SubscriptionSpec.
func (in *Instance) CreateBootstrapProvider(providerID string, spec factory.Spec) error {
	built, err := in.bootstrapFactory.Build(spec)
	if err != nil {
		return err
	}
	provider, ok := built.(component.BootstrapProvider)
	if !ok {
		return coreerr.NewConfigError(spec.ID, "kind does not implement the bootstrap provider contract")
	}

	in.mu.Lock()
	defer in.mu.Unlock()
	if _, exists := in.bootstrapByID[providerID]; exists {
		return fmt.Errorf("instance: bootstrap provider %q: %w", providerID, coreerr.Duplicate)
	}
	in.bootstrapByID[providerID] = provider
	return nil
}

func (in *Instance) getSource(id string) (*sourceComponent, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	sc, ok := in.sources[id]
	if !ok {
		return nil, fmt.Errorf("instance: source %q: %w", id, coreerr.Unknown)
	}
	return sc, nil
}

// GetSourceStatus returns a source's lifecycle status.
func (in *Instance) GetSourceStatus(id string) (lifecycle.Status, error) {
	sc, err := in.getSource(id)
	if err != nil {
		return lifecycle.Status{}, err
	}
	return sc.machine.Status(), nil
}

// ListSources returns every source id in the instance.
func (in *Instance) ListSources() []string {
	in.mu.Lock()
	defer in.mu.Unlock()
	ids := make([]string, 0, len(in.sources))
	for id := range in.sources {
		ids = append(ids, id)
	}
	return ids
}

// StartSource transitions a source from Stopped/Failed into Running,
// registering it with the dispatcher and calling its plugin's Start.
func (in *Instance) StartSource(id string) error {
	sc, err := in.getSource(id)
	if err != nil {
		return err
	}
	if err := sc.machine.Begin(lifecycle.Starting); err != nil {
		return err
	}

	sink, err := in.dispatcher.RegisterSource(id, 0, nil, in.onSourceExit)
	if err != nil {
		sc.machine.Finish(lifecycle.Failed, err.Error(), true)
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := sc.plugin.Start(ctx, sink); err != nil {
		cancel()
		in.dispatcher.RemoveSource(id)
		sc.machine.Finish(lifecycle.Failed, err.Error(), true)
		return fmt.Errorf("instance: start source %q: %w", id, err)
	}

	sc.cancel = cancel
	sc.sink = sink
	sc.machine.Finish(lifecycle.Running, "", false)
	return nil
}

// StopSource stops a source's plugin and tears down its dispatch state.
// Any query subscribed to it learns of the exit via onSourceExit, which
// the dispatcher invokes once the source's buffer drains and closes
// (spec 4.4/7: "source exit propagates to every subscribing query as
// stream end" — deliberate or not).
func (in *Instance) StopSource(id string) error {
	sc, err := in.getSource(id)
	if err != nil {
		return err
	}
	if err := sc.machine.Begin(lifecycle.Stopping); err != nil {
		return err
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), StopTimeout)
	defer cancel()
	stopErr := sc.plugin.Stop(stopCtx)
	if sc.cancel != nil {
		sc.cancel()
	}
	if sc.sink != nil {
		sc.sink.Close()
	}
	in.dispatcher.RemoveSource(id)

	if stopCtx.Err() != nil {
		sc.machine.Finish(lifecycle.Failed, "stop timed out", true)
		return stopCtx.Err()
	}
	if stopErr != nil {
		sc.machine.Finish(lifecycle.Failed, stopErr.Error(), true)
		return stopErr
	}
	sc.machine.Finish(lifecycle.Stopped, "", false)
	return nil
}

// DeleteSource removes a source from the instance, best-effort stopping
// it first. Per spec 7, deletion cascades: every subscribing query
// enters Failed("source {id} deleted") but is not auto-deleted.
func (in *Instance) DeleteSource(id string) error {
	sc, err := in.getSource(id)
	if err != nil {
		return err
	}
	if sc.machine.Status().State == lifecycle.Running {
		_ = in.StopSource(id)
	}

	in.mu.Lock()
	dependents := make([]string, 0, len(sc.dependents))
	for qid := range sc.dependents {
		dependents = append(dependents, qid)
	}
	delete(in.sources, id)
	in.mu.Unlock()

	for _, qid := range dependents {
		in.failQuery(qid, fmt.Sprintf("source %s deleted", id))
	}
	return nil
}

// onSourceExit is the dispatcher's onExit callback: every query
// subscribed to this source transitions to Failed("source {id} exited"),
// whether the exit was planned (StopSource) or not (spec 4.4/7).
func (in *Instance) onSourceExit(sourceID string) {
	in.mu.Lock()
	sc, ok := in.sources[sourceID]
	var dependents []string
	if ok {
		for qid := range sc.dependents {
			dependents = append(dependents, qid)
		}
	}
	in.mu.Unlock()

	for _, qid := range dependents {
		in.failQuery(qid, fmt.Sprintf("source %s exited", sourceID))
	}
}

func (in *Instance) addDependent(sourceID, queryID string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if sc, ok := in.sources[sourceID]; ok {
		sc.dependents[queryID] = struct{}{}
	}
}

func (in *Instance) removeDependent(sourceID, queryID string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if sc, ok := in.sources[sourceID]; ok {
		delete(sc.dependents, queryID)
	}
}

// --- Queries -----------------------------------------------------------

// CreateQuery builds a query's engine adapter (rejecting unsupported
// clauses at this point per spec 4.6) but does not start consuming
// changes yet.
func (in *Instance) CreateQuery(spec QuerySpec) error {
	adapter, err := in.engineFactory(spec.ID, spec.Text, spec.OutputCapacity)
	if err != nil {
		return err
	}

	in.mu.Lock()
	defer in.mu.Unlock()
	if _, exists := in.queries[spec.ID]; exists {
		return fmt.Errorf("instance: query %q: %w", spec.ID, coreerr.Duplicate)
	}
	qc := &queryComponent{id: spec.ID, spec: spec, adapter: adapter, machine: lifecycle.New()}
	qc.machine.OnChange(func(s lifecycle.Status) { in.persistStatus("query", spec.ID, s) })
	in.queries[spec.ID] = qc
	return nil
}

func (in *Instance) getQuery(id string) (*queryComponent, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	qc, ok := in.queries[id]
	if !ok {
		return nil, fmt.Errorf("instance: query %q: %w", id, coreerr.Unknown)
	}
	return qc, nil
}

// GetQueryStatus returns a query's lifecycle status.
func (in *Instance) GetQueryStatus(id string) (lifecycle.Status, error) {
	qc, err := in.getQuery(id)
	if err != nil {
		return lifecycle.Status{}, err
	}
	return qc.machine.Status(), nil
}

// ListQueries returns every query id in the instance.
func (in *Instance) ListQueries() []string {
	in.mu.Lock()
	defer in.mu.Unlock()
	ids := make([]string, 0, len(in.queries))
	for id := range in.queries {
		ids = append(ids, id)
	}
	return ids
}

// GetQueryResults returns the query's current snapshot (spec 4.9
// getQueryResults).
func (in *Instance) GetQueryResults(id string) ([]model.Row, error) {
	qc, err := in.getQuery(id)
	if err != nil {
		return nil, err
	}
	return qc.adapter.Snapshot(), nil
}

// QueryOutput exposes the query's live delta stream, for the reaction runtime
// and the management surface's delta subscription endpoint.
func (in *Instance) QueryOutput(id string) (<-chan model.ResultDelta, error) {
	qc, err := in.getQuery(id)
	if err != nil {
		return nil, err
	}
	return qc.adapter.Output(), nil
}

// StartQuery subscribes the query to every declared source (bootstrapping
// each per spec 4.5, using a no-op provider when the subscription does
// not enable bootstrap, so both paths share one code path), wires any
// declared synthetic joins, and spawns the consumer goroutines that feed
// the query's adapter.
func (in *Instance) StartQuery(id string) error {
	qc, err := in.getQuery(id)
	if err != nil {
		return err
	}
	if err := qc.machine.Begin(lifecycle.Starting); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())

	joinEngines := make([]*join.Engine, 0, len(qc.spec.Joins))
	for _, js := range qc.spec.Joins {
		joinEngines = append(joinEngines, join.New(js))
	}

	requests := make([]bootstrap.Request, 0, len(qc.spec.Subscriptions))
	for i, subSpec := range qc.spec.Subscriptions {
		sub := model.Subscription{
			ID:              fmt.Sprintf("%s:%d:%s", qc.id, i, subSpec.SourceID),
			SourceID:        subSpec.SourceID,
			QueryID:         qc.id,
			NodeLabels:      labelSet(subSpec.NodeLabels),
			RelationLabels:  labelSet(subSpec.RelationLabels),
			Pipeline:        subSpec.Pipeline,
			QueueCapacity:   subSpec.QueueCapacity,
			EnableBootstrap: subSpec.EnableBootstrap,
		}

		provider := in.resolveBootstrapProvider(subSpec)
		requests = append(requests, bootstrap.Request{Subscription: sub, Provider: provider, BufferSize: subSpec.BootstrapBufferSize})
	}

	handles, err := in.bootstrapOrch.BootstrapQuery(ctx, qc.adapter, requests)
	if err != nil {
		cancel()
		qc.machine.Finish(lifecycle.Failed, err.Error(), true)
		return err
	}

	qc.cancel = cancel
	qc.handles = handles
	for _, req := range requests {
		in.addDependent(req.Subscription.SourceID, qc.id)
	}
	qc.machine.Finish(lifecycle.Running, "", false)

	for _, h := range handles {
		qc.wg.Add(1)
		go in.consumeSubscription(ctx, qc, h, joinEngines)
	}
	return nil
}

// resolveBootstrapProvider returns the configured provider for a
// subscription that enables bootstrap, or a no-op provider that yields an
// empty snapshot. Every subscription goes through the orchestrator whether
// or not the spec enables bootstrap, since an empty snapshot is an equally
// valid bootstrap outcome and this keeps StartQuery to one code path.
func (in *Instance) resolveBootstrapProvider(spec SubscriptionSpec) component.BootstrapProvider {
	if spec.EnableBootstrap && spec.BootstrapProviderID != "" {
		in.mu.Lock()
		provider, ok := in.bootstrapByID[spec.BootstrapProviderID]
		in.mu.Unlock()
		if ok {
			return provider
		}
		log.WithField("provider", spec.BootstrapProviderID).Warn("bootstrap provider not found, using no-op snapshot")
	}
	return noopProvider{}
}

type noopProvider struct{}

func (noopProvider) Bootstrap(ctx context.Context, _ model.SubscriptionFilter) (<-chan model.Element, <-chan error) {
	elements := make(chan model.Element)
	errs := make(chan error)
	close(elements)
	close(errs)
	return elements, errs
}

func labelSet(labels []string) map[string]struct{} {
	if len(labels) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		set[l] = struct{}{}
	}
	return set
}

// consumeSubscription drains one subscription's queue, threading every
// node change through the query's declared joins (Open Question 3: a
// join's virtual relations are appended in the same tick, immediately
// after the node change) before feeding the result to the adapter.
func (in *Instance) consumeSubscription(ctx context.Context, qc *queryComponent, handle *dispatch.SubscriptionHandle, joinEngines []*join.Engine) {
	defer qc.wg.Done()
	logger := log.WithField("query", qc.id).WithField("source", handle.SourceID())

	for {
		change, ok := handle.Dequeue(ctx)
		if !ok {
			logger.Info("subscription ended")
			return
		}

		qc.feedMu.Lock()
		changes := []model.SourceChange{change}
		for _, je := range joinEngines {
			var next []model.SourceChange
			for _, c := range changes {
				next = append(next, je.Process(c)...)
			}
			changes = next
		}

		for _, c := range changes {
			if err := qc.adapter.Feed(ctx, c); err != nil {
				if ctx.Err() != nil {
					qc.feedMu.Unlock()
					return
				}
				logger.WithError(err).Warn("adapter feed failed, dropping change")
			}
		}
		qc.feedMu.Unlock()
	}
}

// failQuery forces a query into Failed via Machine.Fail, the way an
// asynchronous source-exit/delete notification must (it has no paired
// Begin call of its own). It is a no-op while a start or stop of the
// query is in flight or once the query is in a terminal state.
func (in *Instance) failQuery(id, reason string) {
	qc, err := in.getQuery(id)
	if err != nil {
		return
	}
	qc.machine.Fail(reason, false)
}

// StopQuery cancels the query's consumer goroutines, releases its
// subscription handles, and drains its adapter.
func (in *Instance) StopQuery(id string) error {
	qc, err := in.getQuery(id)
	if err != nil {
		return err
	}
	if err := qc.machine.Begin(lifecycle.Stopping); err != nil {
		return err
	}

	if qc.cancel != nil {
		qc.cancel()
	}
	for _, h := range qc.handles {
		in.removeDependent(h.SourceID(), id)
		in.dispatcher.Unsubscribe(h.SourceID(), h.SubscriptionID())
	}

	done := make(chan struct{})
	go func() { qc.wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(StopTimeout):
		qc.machine.Finish(lifecycle.Failed, "stop timed out", true)
		return fmt.Errorf("instance: stop query %q: %w", id, context.DeadlineExceeded)
	}

	qc.adapter.Drain()
	qc.machine.Finish(lifecycle.Stopped, "", false)
	return nil
}

// DeleteQuery removes a query, best-effort stopping it first. Resolves
// Open Question 2 (spec section 9): deletion does not cascade to any
// reaction subscribed to this query — a reaction may subscribe to
// several queries, and spec 7's cascading-delete language is scoped to
// "subscribing queries", not to reactions. A reaction's own consumer
// goroutine for this query simply sees its Output channel close (via
// Drain, above) and exits that one subscription; the reaction and its
// other query subscriptions are unaffected. See DESIGN.md.
func (in *Instance) DeleteQuery(id string) error {
	qc, err := in.getQuery(id)
	if err != nil {
		return err
	}
	if qc.machine.Status().State == lifecycle.Running {
		_ = in.StopQuery(id)
	}
	in.mu.Lock()
	delete(in.queries, id)
	in.mu.Unlock()
	return nil
}

// --- Reactions -----------------------------------------------------------

// CreateReaction builds a reaction's transport plugin and wires it to
// every query it subscribes to.
func (in *Instance) CreateReaction(spec factory.Spec, rspec ReactionSpec) error {
	built, err := in.reactionFactory.Build(spec)
	if err != nil {
		return err
	}
	plugin, ok := built.(component.Reaction)
	if !ok {
		return coreerr.NewConfigError(spec.ID, "kind does not implement the reaction contract")
	}

	queries := make([]reaction.QuerySource, 0, len(rspec.QueryIDs))
	for _, qid := range rspec.QueryIDs {
		qc, err := in.getQuery(qid)
		if err != nil {
			return fmt.Errorf("instance: reaction %q: query %q: %w", rspec.ID, qid, err)
		}
		queries = append(queries, reaction.QuerySource{
			QueryID:  qid,
			Output:   qc.adapter.Output(),
			Snapshot: qc.adapter.Snapshot,
		})
	}

	runtime := reaction.New(reaction.Config{
		ID:                rspec.ID,
		Plugin:            plugin,
		Queries:           queries,
		Templates:         rspec.Templates,
		Batch:             rspec.Batch,
		Retry:             rspec.Retry,
		SnapshotOnAttach:  rspec.SnapshotOnAttach,
		EmitControlEvents: rspec.EmitControlEvents,
	})

	in.mu.Lock()
	defer in.mu.Unlock()
	if _, exists := in.reactions[rspec.ID]; exists {
		return fmt.Errorf("instance: reaction %q: %w", rspec.ID, coreerr.Duplicate)
	}
	in.reactions[rspec.ID] = &reactionComponent{id: rspec.ID, runtime: runtime}
	return nil
}

func (in *Instance) getReaction(id string) (*reactionComponent, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	rc, ok := in.reactions[id]
	if !ok {
		return nil, fmt.Errorf("instance: reaction %q: %w", id, coreerr.Unknown)
	}
	return rc, nil
}

// GetReactionStatus returns a reaction's lifecycle status.
func (in *Instance) GetReactionStatus(id string) (lifecycle.Status, error) {
	rc, err := in.getReaction(id)
	if err != nil {
		return lifecycle.Status{}, err
	}
	return rc.runtime.Status(), nil
}

// ListReactions returns every reaction id in the instance.
func (in *Instance) ListReactions() []string {
	in.mu.Lock()
	defer in.mu.Unlock()
	ids := make([]string, 0, len(in.reactions))
	for id := range in.reactions {
		ids = append(ids, id)
	}
	return ids
}

func (in *Instance) StartReaction(id string) error {
	rc, err := in.getReaction(id)
	if err != nil {
		return err
	}
	return rc.runtime.Start(context.Background())
}

func (in *Instance) StopReaction(id string) error {
	rc, err := in.getReaction(id)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), StopTimeout)
	defer cancel()
	return rc.runtime.Stop(ctx)
}

func (in *Instance) DeleteReaction(id string) error {
	rc, err := in.getReaction(id)
	if err != nil {
		return err
	}
	if rc.runtime.Status().State == lifecycle.Running {
		_ = in.StopReaction(id)
	}
	in.mu.Lock()
	delete(in.reactions, id)
	in.mu.Unlock()
	return nil
}

// --- Health --------------------------------------------------------------

// Health is the instance-wide health probe (spec 4.9).
type Health struct {
	InstanceID     string
	SourceStates   map[string]lifecycle.State
	QueryStates    map[string]lifecycle.State
	ReactionStates map[string]lifecycle.State
	Healthy        bool
}

// Probe reports a snapshot of every component's lifecycle state. The
// instance is Healthy iff no component is in Failed or TerminalError.
func (in *Instance) Probe() Health {
	in.mu.Lock()
	defer in.mu.Unlock()

	h := Health{
		InstanceID:     in.id,
		SourceStates:   make(map[string]lifecycle.State, len(in.sources)),
		QueryStates:    make(map[string]lifecycle.State, len(in.queries)),
		ReactionStates: make(map[string]lifecycle.State, len(in.reactions)),
		Healthy:        true,
	}
	for id, sc := range in.sources {
		s := sc.machine.Status().State
		h.SourceStates[id] = s
		if s == lifecycle.Failed || s == lifecycle.TerminalErr {
			h.Healthy = false
		}
	}
	for id, qc := range in.queries {
		s := qc.machine.Status().State
		h.QueryStates[id] = s
		if s == lifecycle.Failed || s == lifecycle.TerminalErr {
			h.Healthy = false
		}
	}
	for id, rc := range in.reactions {
		s := rc.runtime.Status().State
		h.ReactionStates[id] = s
		if s == lifecycle.Failed || s == lifecycle.TerminalErr {
			h.Healthy = false
		}
	}
	return h
}

// Close stops every running component and releases the state store.
// Used on instance shutdown, not by any spec operation directly.
func (in *Instance) Close(ctx context.Context) error {
	for _, id := range in.ListReactions() {
		_ = in.StopReaction(id)
	}
	for _, id := range in.ListQueries() {
		_ = in.StopQuery(id)
	}
	for _, id := range in.ListSources() {
		_ = in.StopSource(id)
	}
	if in.store != nil {
		return in.store.Close()
	}
	return nil
}
