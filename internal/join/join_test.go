package join

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowgraphd/flowgraphd/internal/model"
)

func personNode(id string, employer any) model.SourceChange {
	props := map[string]any{}
	if employer != nil {
		props["employer"] = employer
	}
	return model.SourceChange{
		Op:      model.OpInsert,
		Element: model.NewNode(model.Ref{SourceID: "s1", ElementID: id}, []string{"Person"}, props),
	}
}

func companyNode(id string, name any) model.SourceChange {
	return model.SourceChange{
		Op:      model.OpInsert,
		Element: model.NewNode(model.Ref{SourceID: "s1", ElementID: id}, []string{"Company"}, map[string]any{"name": name}),
	}
}

func testSpec() JoinSpec {
	return JoinSpec{
		JoinLabel: "WORKS_AT",
		Keys: []JoinKey{
			{ElementLabel: "Person", Property: "employer"},
			{ElementLabel: "Company", Property: "name"},
		},
	}
}

func TestProcessReturnsChangeAtIndexZero(t *testing.T) {
	e := New(testSpec())
	in := personNode("p1", "acme")
	out := e.Process(in)
	require.NotEmpty(t, out)
	assert.Equal(t, in, out[0])
}

func TestProcessEmitsVirtualInsertOnMatch(t *testing.T) {
	e := New(testSpec())
	require.Len(t, e.Process(companyNode("c1", "acme")), 1)

	out := e.Process(personNode("p1", "acme"))
	require.Len(t, out, 2)

	virtual := out[1]
	assert.Equal(t, model.OpInsert, virtual.Op)
	assert.Equal(t, model.KindRelation, virtual.Element.Kind)
	assert.Equal(t, "WORKS_AT", virtual.Element.Label)
	assert.Equal(t, "p1", virtual.Element.From.ElementID)
	assert.Equal(t, "c1", virtual.Element.To.ElementID)
}

func TestProcessNoMatchEmitsNothingExtra(t *testing.T) {
	e := New(testSpec())
	out := e.Process(personNode("p1", "acme"))
	assert.Len(t, out, 1)
}

func TestProcessDeleteEmitsVirtualDelete(t *testing.T) {
	e := New(testSpec())
	e.Process(companyNode("c1", "acme"))
	e.Process(personNode("p1", "acme"))

	del := model.SourceChange{Op: model.OpDelete, Element: model.NewNode(model.Ref{SourceID: "s1", ElementID: "p1"}, []string{"Person"}, nil)}
	out := e.Process(del)
	require.Len(t, out, 2)
	assert.Equal(t, model.OpDelete, out[1].Op)
}

func TestProcessUpdateChangingKeyDecomposesToDeleteThenInsert(t *testing.T) {
	e := New(testSpec())
	e.Process(companyNode("acme-co", "acme"))
	e.Process(companyNode("other-co", "other"))
	e.Process(personNode("p1", "acme"))

	update := model.SourceChange{
		Op:      model.OpUpdate,
		Element: model.NewNode(model.Ref{SourceID: "s1", ElementID: "p1"}, []string{"Person"}, map[string]any{"employer": "other"}),
	}
	out := e.Process(update)
	require.Len(t, out, 3)
	assert.Equal(t, model.OpDelete, out[1].Op)
	assert.Equal(t, "acme-co", out[1].Element.To.ElementID)
	assert.Equal(t, model.OpInsert, out[2].Op)
	assert.Equal(t, "other-co", out[2].Element.To.ElementID)
}

func TestProcessUpdateSameValueIsNoOp(t *testing.T) {
	e := New(testSpec())
	e.Process(companyNode("c1", "acme"))
	e.Process(personNode("p1", "acme"))

	update := model.SourceChange{
		Op:      model.OpUpdate,
		Element: model.NewNode(model.Ref{SourceID: "s1", ElementID: "p1"}, []string{"Person"}, map[string]any{"employer": "acme"}),
	}
	out := e.Process(update)
	assert.Len(t, out, 1)
}

func TestProcessNonParticipatingLabelPassesThrough(t *testing.T) {
	e := New(testSpec())
	other := model.SourceChange{
		Op:      model.OpInsert,
		Element: model.NewNode(model.Ref{SourceID: "s1", ElementID: "x1"}, []string{"Other"}, nil),
	}
	out := e.Process(other)
	assert.Len(t, out, 1)
}

func TestProcessMissingKeyPropertyRemovesFromIndex(t *testing.T) {
	e := New(testSpec())
	e.Process(companyNode("c1", "acme"))
	e.Process(personNode("p1", "acme"))

	noProp := model.SourceChange{
		Op:      model.OpUpdate,
		Element: model.NewNode(model.Ref{SourceID: "s1", ElementID: "p1"}, []string{"Person"}, map[string]any{}),
	}
	out := e.Process(noProp)
	require.Len(t, out, 2)
	assert.Equal(t, model.OpDelete, out[1].Op)
}
