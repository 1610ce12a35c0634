package reaction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowgraphd/flowgraphd/internal/model"
)

func TestTemplateRendersRowFields(t *testing.T) {
	tmpl := Template(`{"name":"${row.name}","op":"${op}","query":"${queryId}"}`)
	delta := model.ResultDelta{QueryID: "q1", Op: model.DeltaAdded, Row: model.Row{"name": "ada"}}

	out, err := tmpl.render(delta)
	require.NoError(t, err)
	assert.Equal(t, `{"name":"ada","op":"added","query":"q1"}`, string(out))
}

func TestTemplateRendersBeforeAfterAndSequence(t *testing.T) {
	tmpl := Template("${before.name} -> ${after.name} (#${sequence})")
	delta := model.ResultDelta{
		Sequence: 7,
		Before:   model.Row{"name": "ada"},
		After:    model.Row{"name": "grace"},
	}

	out, err := tmpl.render(delta)
	require.NoError(t, err)
	assert.Equal(t, "ada -> grace (#7)", string(out))
}

func TestTemplateEmptyReturnsNil(t *testing.T) {
	tmpl := Template("")
	out, err := tmpl.render(model.ResultDelta{})
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestTemplateUnknownScopeErrors(t *testing.T) {
	tmpl := Template("${bogus.field}")
	_, err := tmpl.render(model.ResultDelta{})
	assert.Error(t, err)
}

func TestTemplateUnknownRowColumnErrors(t *testing.T) {
	tmpl := Template("${row.missing}")
	_, err := tmpl.render(model.ResultDelta{Row: model.Row{"name": "ada"}})
	assert.Error(t, err)
}

func TestDefaultPayloadFormat(t *testing.T) {
	out := defaultPayload(model.ResultDelta{QueryID: "q1", Sequence: 3, Op: model.DeltaDeleted})
	assert.Equal(t, "queryId=q1 sequence=3 op=deleted", string(out))
}
