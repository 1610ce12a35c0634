package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewNodeAndRelation(t *testing.T) {
	ref := Ref{SourceID: "src1", ElementID: "n1"}
	node := NewNode(ref, []string{"Person", "Employee"}, map[string]any{"name": "ada"})

	assert.Equal(t, KindNode, node.Kind)
	assert.Equal(t, ref, node.Ref)
	assert.Len(t, node.Labels, 2)
	_, hasPerson := node.Labels["Person"]
	assert.True(t, hasPerson)

	from := Ref{SourceID: "src1", ElementID: "n1"}
	to := Ref{SourceID: "src1", ElementID: "n2"}
	rel := NewRelation(Ref{SourceID: "src1", ElementID: "r1"}, "WORKS_WITH", []string{"Edge"}, from, to, nil)

	assert.Equal(t, KindRelation, rel.Kind)
	assert.Equal(t, "WORKS_WITH", rel.Label)
	assert.Equal(t, from, rel.From)
	assert.Equal(t, to, rel.To)
}

func TestHasAnyLabel(t *testing.T) {
	node := NewNode(Ref{}, []string{"Person"}, nil)

	tests := []struct {
		name   string
		filter map[string]struct{}
		want   bool
	}{
		{"matches", map[string]struct{}{"Person": {}}, true},
		{"no match", map[string]struct{}{"Company": {}}, false},
		{"empty filter", map[string]struct{}{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, node.HasAnyLabel(tt.filter))
		})
	}
}

func TestSubscriptionAccepts(t *testing.T) {
	sub := Subscription{
		NodeLabels: map[string]struct{}{"Person": {}},
	}

	matching := NewNode(Ref{}, []string{"Person"}, nil)
	assert.True(t, sub.Accepts(matching))

	nonMatching := NewNode(Ref{}, []string{"Company"}, nil)
	assert.False(t, sub.Accepts(nonMatching))

	emptyWhitelist := Subscription{}
	assert.True(t, emptyWhitelist.Accepts(matching))
	assert.True(t, emptyWhitelist.Accepts(nonMatching))
}

func TestSubscriptionAcceptsRelations(t *testing.T) {
	sub := Subscription{
		RelationLabels: map[string]struct{}{"WORKS_WITH": {}},
	}

	matching := NewRelation(Ref{}, "WORKS_WITH", []string{"WORKS_WITH"}, Ref{}, Ref{}, nil)
	assert.True(t, sub.Accepts(matching))

	nonMatching := NewRelation(Ref{}, "MANAGES", []string{"MANAGES"}, Ref{}, Ref{}, nil)
	assert.False(t, sub.Accepts(nonMatching))
}

func TestSubscriptionFilterMatchesAccepts(t *testing.T) {
	sub := Subscription{NodeLabels: map[string]struct{}{"Person": {}}}
	filter := sub.Filter()

	node := NewNode(Ref{}, []string{"Person"}, nil)
	assert.Equal(t, sub.Accepts(node), filter.Accepts(node))
}
