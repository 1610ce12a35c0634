package model

// MiddlewareTransform maps one SourceChange to zero, one, or many outgoing
// changes. A transform that returns an error drops the change for this
// subscription only (spec 4.4: "per-change, logged, counted, non-fatal").
type MiddlewareTransform func(SourceChange) ([]SourceChange, error)

// NamedMiddleware pairs a transform with the name it was registered under,
// so errors and metrics can identify which stage in the pipeline failed.
type NamedMiddleware struct {
	Name      string
	Transform MiddlewareTransform
}

// Subscription binds one sourceId to one queryId, with optional label
// whitelists and an ordered middleware pipeline (spec section 3).
type Subscription struct {
	ID             string
	SourceID       string
	QueryID        string
	NodeLabels     map[string]struct{}
	RelationLabels map[string]struct{}
	Pipeline       []NamedMiddleware

	// QueueCapacity overrides defaultPriorityQueueCapacity for this
	// subscription; zero means "use the instance default".
	QueueCapacity int

	// EnableBootstrap gates whether this subscription is bootstrapped
	// before live changes are delivered (spec section 4.5).
	EnableBootstrap bool
}

// Accepts reports whether the subscription's label whitelist accepts the
// element. Empty whitelists accept everything (spec invariant, section 8).
func (s Subscription) Accepts(e Element) bool {
	switch e.Kind {
	case KindNode:
		if len(s.NodeLabels) == 0 {
			return true
		}
		return e.HasAnyLabel(s.NodeLabels)
	case KindRelation:
		if len(s.RelationLabels) == 0 {
			return true
		}
		return e.HasAnyLabel(s.RelationLabels)
	default:
		return false
	}
}

// labelFilterFor returns the whitelist relevant to the element's kind.
func (s Subscription) labelFilterFor(e Element) map[string]struct{} {
	if e.Kind == KindRelation {
		return s.RelationLabels
	}
	return s.NodeLabels
}

// SubscriptionFilter is the label whitelist a bootstrap provider honours
// when producing a snapshot (spec section 6: "bootstrap(filter) ->
// AsyncIterator<Element>"), detached from the rest of Subscription so
// bootstrap providers don't need the full record.
type SubscriptionFilter struct {
	NodeLabels     map[string]struct{}
	RelationLabels map[string]struct{}
}

// Filter extracts the SubscriptionFilter portion of a Subscription.
func (s Subscription) Filter() SubscriptionFilter {
	return SubscriptionFilter{NodeLabels: s.NodeLabels, RelationLabels: s.RelationLabels}
}

// Accepts applies a SubscriptionFilter the same way Subscription.Accepts
// does, for callers (bootstrap providers) that only have the filter.
func (f SubscriptionFilter) Accepts(e Element) bool {
	switch e.Kind {
	case KindNode:
		if len(f.NodeLabels) == 0 {
			return true
		}
		return e.HasAnyLabel(f.NodeLabels)
	case KindRelation:
		if len(f.RelationLabels) == 0 {
			return true
		}
		return e.HasAnyLabel(f.RelationLabels)
	default:
		return false
	}
}
