package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowgraphd/flowgraphd/internal/coreerr"
	"github.com/flowgraphd/flowgraphd/internal/model"
)

func testConfig() Config {
	return Config{
		DefaultDispatchBufferCapacity: 16,
		DefaultPriorityQueueCapacity:  16,
		DispatchBufferBlockTimeout:    10 * time.Millisecond,
	}
}

func insertChange(sourceID, elementID string, labels ...string) model.SourceChange {
	return model.SourceChange{
		Op:      model.OpInsert,
		Element: model.NewNode(model.Ref{SourceID: sourceID, ElementID: elementID}, labels, nil),
	}
}

func updateChange(sourceID, elementID string, rev int) model.SourceChange {
	return model.SourceChange{
		Op:      model.OpUpdate,
		Element: model.NewNode(model.Ref{SourceID: sourceID, ElementID: elementID}, nil, map[string]any{"rev": rev}),
	}
}

func TestRegisterSourceDuplicate(t *testing.T) {
	d := New(testConfig())
	_, err := d.RegisterSource("src1", 0, nil, nil)
	require.NoError(t, err)

	_, err = d.RegisterSource("src1", 0, nil, nil)
	assert.ErrorIs(t, err, coreerr.Duplicate)
}

func TestSubscribeUnknownSource(t *testing.T) {
	d := New(testConfig())
	_, err := d.Subscribe(model.Subscription{ID: "q1", SourceID: "missing"})
	assert.ErrorIs(t, err, coreerr.Unknown)
}

func TestSubscribeNegativeCapacity(t *testing.T) {
	d := New(testConfig())
	_, err := d.RegisterSource("src1", 0, nil, nil)
	require.NoError(t, err)

	_, err = d.Subscribe(model.Subscription{ID: "q1", SourceID: "src1", QueueCapacity: -1})
	assert.ErrorIs(t, err, coreerr.Config)
}

func TestFanoutDeliversMatchingChange(t *testing.T) {
	d := New(testConfig())
	sink, err := d.RegisterSource("src1", 0, nil, nil)
	require.NoError(t, err)

	handle, err := d.Subscribe(model.Subscription{
		ID:         "q1",
		SourceID:   "src1",
		NodeLabels: map[string]struct{}{"Person": {}},
	})
	require.NoError(t, err)

	require.NoError(t, sink.Send(context.Background(), insertChange("src1", "n1", "Person")))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, ok := handle.Dequeue(ctx)
	require.True(t, ok)
	assert.Equal(t, "n1", got.Element.Ref.ElementID)
}

func TestFanoutFiltersNonMatchingLabel(t *testing.T) {
	d := New(testConfig())
	sink, err := d.RegisterSource("src1", 0, nil, nil)
	require.NoError(t, err)

	handle, err := d.Subscribe(model.Subscription{
		ID:         "q1",
		SourceID:   "src1",
		NodeLabels: map[string]struct{}{"Person": {}},
	})
	require.NoError(t, err)

	require.NoError(t, sink.Send(context.Background(), insertChange("src1", "n1", "Company")))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, ok := handle.Dequeue(ctx)
	assert.False(t, ok)
}

func TestFanoutDeliversDeleteRegardlessOfLabel(t *testing.T) {
	d := New(testConfig())
	sink, err := d.RegisterSource("src1", 0, nil, nil)
	require.NoError(t, err)

	handle, err := d.Subscribe(model.Subscription{
		ID:         "q1",
		SourceID:   "src1",
		NodeLabels: map[string]struct{}{"Person": {}},
	})
	require.NoError(t, err)

	del := model.SourceChange{Op: model.OpDelete, Element: model.NewNode(model.Ref{SourceID: "src1", ElementID: "n1"}, nil, nil)}
	require.NoError(t, sink.Send(context.Background(), del))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, ok := handle.Dequeue(ctx)
	require.True(t, ok)
	assert.Equal(t, model.OpDelete, got.Op)
}

func TestSourceExitClosesSubscriptionQueues(t *testing.T) {
	d := New(testConfig())
	sink, err := d.RegisterSource("src1", 0, nil, nil)
	require.NoError(t, err)

	handle, err := d.Subscribe(model.Subscription{ID: "q1", SourceID: "src1"})
	require.NoError(t, err)

	sink.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, ok := handle.Dequeue(ctx)
	assert.False(t, ok)
}

func TestOnExitCallbackInvokedOnce(t *testing.T) {
	d := New(testConfig())
	calls := make(chan string, 4)
	sink, err := d.RegisterSource("src1", 0, nil, func(sourceID string) { calls <- sourceID })
	require.NoError(t, err)

	sink.Close()

	select {
	case id := <-calls:
		assert.Equal(t, "src1", id)
	case <-time.After(time.Second):
		t.Fatal("onExit never called")
	}
}

// TestQueueCoalescesUpdatesOnEveryEnqueue verifies the spec-critical
// invariant: three Updates for the same reference arriving faster than a
// capacity-2 queue can drain collapse to one entry, with no drops
// recorded, because coalescing is checked on every enqueue rather than
// only once the queue is full.
func TestQueueCoalescesUpdatesOnEveryEnqueue(t *testing.T) {
	q := newSubscriptionQueue(2)

	dropped, closed := q.Enqueue(updateChange("src1", "n1", 1), time.Millisecond)
	require.False(t, closed)
	assert.False(t, dropped)

	dropped, closed = q.Enqueue(updateChange("src1", "n1", 2), time.Millisecond)
	require.False(t, closed)
	assert.False(t, dropped)

	dropped, closed = q.Enqueue(updateChange("src1", "n1", 3), time.Millisecond)
	require.False(t, closed)
	assert.False(t, dropped)

	stats := q.Stats()
	assert.Equal(t, 1, stats.Depth)
	assert.Equal(t, uint64(0), stats.DropCount)
	assert.False(t, stats.Lagging)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, ok := q.Dequeue(ctx)
	require.True(t, ok)
	assert.Equal(t, 3, got.Element.Properties["rev"])
}

func TestQueueDropsOldestWhenFullAndNotCoalescable(t *testing.T) {
	q := newSubscriptionQueue(1)

	dropped, closed := q.Enqueue(insertChange("src1", "n1"), time.Millisecond)
	require.False(t, closed)
	assert.False(t, dropped)

	dropped, closed = q.Enqueue(insertChange("src1", "n2"), 5*time.Millisecond)
	require.False(t, closed)
	assert.True(t, dropped)

	stats := q.Stats()
	assert.True(t, stats.Lagging)
	assert.Equal(t, uint64(1), stats.DropCount)
	assert.Equal(t, 1, stats.Depth)
}

func TestQueueDrainAll(t *testing.T) {
	q := newSubscriptionQueue(4)
	_, _ = q.Enqueue(insertChange("src1", "n1"), time.Millisecond)
	_, _ = q.Enqueue(insertChange("src1", "n2"), time.Millisecond)

	drained := q.DrainAll()
	assert.Len(t, drained, 2)
	assert.Equal(t, 0, q.Stats().Depth)
}

func TestUnsubscribeClosesQueue(t *testing.T) {
	d := New(testConfig())
	_, err := d.RegisterSource("src1", 0, nil, nil)
	require.NoError(t, err)

	handle, err := d.Subscribe(model.Subscription{ID: "q1", SourceID: "src1"})
	require.NoError(t, err)

	d.Unsubscribe("src1", "q1")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, ok := handle.Dequeue(ctx)
	assert.False(t, ok)
}

func TestMiddlewarePipelineFansOut(t *testing.T) {
	d := New(testConfig())
	sink, err := d.RegisterSource("src1", 0, nil, nil)
	require.NoError(t, err)

	pipeline := []model.NamedMiddleware{
		{
			Name: "duplicate",
			Transform: func(c model.SourceChange) ([]model.SourceChange, error) {
				return []model.SourceChange{c, c}, nil
			},
		},
	}
	handle, err := d.Subscribe(model.Subscription{ID: "q1", SourceID: "src1", Pipeline: pipeline})
	require.NoError(t, err)

	require.NoError(t, sink.Send(context.Background(), insertChange("src1", "n1")))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, ok := handle.Dequeue(ctx)
	require.True(t, ok)
	_, ok = handle.Dequeue(ctx)
	require.True(t, ok)
}
