// Package model defines the data types shared by every layer of the change
// pipeline: element references, elements, source changes, subscriptions,
// and result deltas (spec section 3).
package model

import "time"

// Ref uniquely identifies an element in the live graph. elementId is opaque
// to the core; it is whatever the producing source uses internally.
type Ref struct {
	SourceID  string
	ElementID string
}

// ElementKind distinguishes the two element variants.
type ElementKind int

const (
	// KindNode identifies a Node element.
	KindNode ElementKind = iota
	// KindRelation identifies a Relation element.
	KindRelation
)

// Element is a tagged variant: a Node or a Relation. Kind selects which
// fields are meaningful; From/To/Label are only set for relations.
type Element struct {
	Kind   ElementKind
	Ref    Ref
	Labels map[string]struct{}

	// Label is the relation type; empty for nodes.
	Label string
	// From/To are only populated for relations.
	From Ref
	To   Ref

	Properties map[string]any
}

// NewNode builds a Node element with the given labels and properties.
func NewNode(ref Ref, labels []string, props map[string]any) Element {
	return Element{
		Kind:       KindNode,
		Ref:        ref,
		Labels:     labelSet(labels),
		Properties: props,
	}
}

// NewRelation builds a Relation element.
func NewRelation(ref Ref, label string, labels []string, from, to Ref, props map[string]any) Element {
	return Element{
		Kind:       KindRelation,
		Ref:        ref,
		Label:      label,
		Labels:     labelSet(labels),
		From:       from,
		To:         to,
		Properties: props,
	}
}

func labelSet(labels []string) map[string]struct{} {
	set := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		set[l] = struct{}{}
	}
	return set
}

// HasAnyLabel reports whether the element carries at least one of the given
// labels. An empty filter is handled by the caller (spec: empty ⇒ accept all).
func (e Element) HasAnyLabel(filter map[string]struct{}) bool {
	for l := range filter {
		if _, ok := e.Labels[l]; ok {
			return true
		}
	}
	return false
}

// ChangeOp is the SourceChange variant tag.
type ChangeOp int

const (
	OpInsert ChangeOp = iota
	OpUpdate
	OpDelete
)

// SourceChange carries an effective timestamp and one of Insert/Update/Delete
// for a single element (spec section 3).
type SourceChange struct {
	Op        ChangeOp
	Timestamp time.Time
	Element   Element

	// DeleteLabels carries the element's last-known label set for a
	// Delete change, since Element.Labels may be stale/empty by then.
	DeleteLabels map[string]struct{}
}

// RefOf returns the element reference this change concerns.
func (c SourceChange) RefOf() Ref {
	return c.Element.Ref
}
