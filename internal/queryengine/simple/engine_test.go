package simple

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowgraphd/flowgraphd/internal/coreerr"
	"github.com/flowgraphd/flowgraphd/internal/model"
	"github.com/flowgraphd/flowgraphd/internal/queryengine"
)

func insert(id string, label string, props map[string]any) model.SourceChange {
	return model.SourceChange{Op: model.OpInsert, Element: model.NewNode(model.Ref{SourceID: "s1", ElementID: id}, []string{label}, props)}
}

func TestNewRejectsUnsupportedClause(t *testing.T) {
	_, err := New("q1", "MATCH (p:Person) RETURN p.name AS name ORDER BY name", 8)
	assert.ErrorIs(t, err, coreerr.Config)
}

func TestNewRejectsUnsupportedShape(t *testing.T) {
	_, err := New("q1", "not a query", 8)
	assert.ErrorIs(t, err, coreerr.Config)
}

func TestNewRejectsUnknownProjectionVariable(t *testing.T) {
	_, err := New("q1", "MATCH (p:Person) RETURN x.name AS name", 8)
	assert.ErrorIs(t, err, coreerr.Config)
}

func TestFeedInsertEmitsAddedDeltaWithSequenceOne(t *testing.T) {
	adapter, err := New("q1", "MATCH (p:Person) RETURN p.name AS name", 8)
	require.NoError(t, err)

	require.NoError(t, adapter.Feed(context.Background(), insert("p1", "Person", map[string]any{"name": "ada"})))

	delta := <-adapter.Output()
	assert.Equal(t, model.DeltaAdded, delta.Op)
	assert.Equal(t, uint64(1), delta.Sequence)
	assert.Equal(t, "ada", delta.Row["name"])
}

func TestFeedIgnoresNonMatchingLabel(t *testing.T) {
	adapter, err := New("q1", "MATCH (p:Person) RETURN p.name AS name", 8)
	require.NoError(t, err)

	require.NoError(t, adapter.Feed(context.Background(), insert("c1", "Company", map[string]any{"name": "acme"})))

	select {
	case d := <-adapter.Output():
		t.Fatalf("unexpected delta: %+v", d)
	default:
	}
}

func TestFeedUpdateEmitsUpdatedDeltaWithBeforeAfter(t *testing.T) {
	adapter, err := New("q1", "MATCH (p:Person) RETURN p.name AS name", 8)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, adapter.Feed(ctx, insert("p1", "Person", map[string]any{"name": "ada"})))
	<-adapter.Output()

	update := model.SourceChange{Op: model.OpUpdate, Element: model.NewNode(model.Ref{SourceID: "s1", ElementID: "p1"}, []string{"Person"}, map[string]any{"name": "grace"})}
	require.NoError(t, adapter.Feed(ctx, update))

	delta := <-adapter.Output()
	assert.Equal(t, model.DeltaUpdated, delta.Op)
	assert.Equal(t, uint64(2), delta.Sequence)
	assert.Equal(t, "ada", delta.Before["name"])
	assert.Equal(t, "grace", delta.After["name"])
}

func TestFeedDeleteEmitsDeletedDelta(t *testing.T) {
	adapter, err := New("q1", "MATCH (p:Person) RETURN p.name AS name", 8)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, adapter.Feed(ctx, insert("p1", "Person", map[string]any{"name": "ada"})))
	<-adapter.Output()

	del := model.SourceChange{Op: model.OpDelete, Element: model.NewNode(model.Ref{SourceID: "s1", ElementID: "p1"}, []string{"Person"}, nil)}
	require.NoError(t, adapter.Feed(ctx, del))

	delta := <-adapter.Output()
	assert.Equal(t, model.DeltaDeleted, delta.Op)
	assert.Equal(t, "ada", delta.Row["name"])
}

func TestFeedDeleteUnknownRefIsNoOp(t *testing.T) {
	adapter, err := New("q1", "MATCH (p:Person) RETURN p.name AS name", 8)
	require.NoError(t, err)

	del := model.SourceChange{Op: model.OpDelete, Element: model.NewNode(model.Ref{SourceID: "s1", ElementID: "missing"}, []string{"Person"}, nil)}
	require.NoError(t, adapter.Feed(context.Background(), del))

	select {
	case d := <-adapter.Output():
		t.Fatalf("unexpected delta: %+v", d)
	default:
	}
}

func TestBootstrapEpochChangesDoNotEmitOrAdvanceSequence(t *testing.T) {
	adapter, err := New("q1", "MATCH (p:Person) RETURN p.name AS name", 8)
	require.NoError(t, err)

	ctx := queryengine.WithBootstrapEpoch(context.Background())
	require.NoError(t, adapter.Feed(ctx, insert("p1", "Person", map[string]any{"name": "ada"})))

	select {
	case d := <-adapter.Output():
		t.Fatalf("unexpected delta during bootstrap: %+v", d)
	default:
	}

	snapshot := adapter.Snapshot()
	require.Len(t, snapshot, 1)
	assert.Equal(t, "ada", snapshot[0]["name"])

	require.NoError(t, adapter.Feed(context.Background(), insert("p2", "Person", map[string]any{"name": "grace"})))
	delta := <-adapter.Output()
	assert.Equal(t, uint64(1), delta.Sequence)
}

func TestSnapshotReflectsCurrentRows(t *testing.T) {
	adapter, err := New("q1", "MATCH (p:Person) RETURN p.name AS name", 8)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, adapter.Feed(ctx, insert("p1", "Person", map[string]any{"name": "ada"})))
	<-adapter.Output()
	require.NoError(t, adapter.Feed(ctx, insert("p2", "Person", map[string]any{"name": "grace"})))
	<-adapter.Output()

	assert.Len(t, adapter.Snapshot(), 2)
}

func TestDrainClosesOutputAndRejectsFeed(t *testing.T) {
	adapter, err := New("q1", "MATCH (p:Person) RETURN p.name AS name", 8)
	require.NoError(t, err)

	adapter.Drain()
	_, open := <-adapter.Output()
	assert.False(t, open)

	err = adapter.Feed(context.Background(), insert("p1", "Person", nil))
	assert.Error(t, err)
}

func TestDrainIsIdempotent(t *testing.T) {
	adapter, err := New("q1", "MATCH (p:Person) RETURN p.name AS name", 8)
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		adapter.Drain()
		adapter.Drain()
	})
}
