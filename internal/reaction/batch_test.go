package reaction

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowgraphd/flowgraphd/internal/model"
)

func TestBatcherCollectsUpToMaxSize(t *testing.T) {
	b := newBatcher(BatchPolicy{MinSize: 2, MaxSize: 2, TimeoutMs: 1000, WindowSize: 10})
	in := make(chan model.ResultDelta, 4)
	in <- model.ResultDelta{Sequence: 1}
	in <- model.ResultDelta{Sequence: 2}

	batch, ok := b.collect(context.Background(), in)
	require.True(t, ok)
	assert.Len(t, batch, 2)
}

func TestBatcherCollectsOnTimeoutWithPartialBatch(t *testing.T) {
	b := newBatcher(BatchPolicy{MinSize: 1, MaxSize: 5, TimeoutMs: 20, WindowSize: 10})
	in := make(chan model.ResultDelta, 1)
	in <- model.ResultDelta{Sequence: 1}

	batch, ok := b.collect(context.Background(), in)
	require.True(t, ok)
	assert.Len(t, batch, 1)
}

func TestBatcherChannelCloseWithEmptyBatchReturnsFalse(t *testing.T) {
	b := newBatcher(DefaultBatchPolicy())
	in := make(chan model.ResultDelta)
	close(in)

	_, ok := b.collect(context.Background(), in)
	assert.False(t, ok)
}

func TestBatcherContextDoneReturnsPartialBatch(t *testing.T) {
	b := newBatcher(BatchPolicy{MinSize: 5, MaxSize: 5, TimeoutMs: 1000, WindowSize: 10})
	in := make(chan model.ResultDelta, 1)
	in <- model.ResultDelta{Sequence: 1}

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)
	batch, ok := b.collect(ctx, in)
	assert.True(t, ok)
	assert.Len(t, batch, 1)
}

func TestBatcherRecordLatencyGrowsSizeWhenFast(t *testing.T) {
	b := newBatcher(BatchPolicy{MinSize: 1, MaxSize: 4, TimeoutMs: 50, WindowSize: 10})
	for i := 0; i < 3; i++ {
		b.recordLatency(10 * time.Millisecond)
	}
	assert.Greater(t, b.currentSize, 1)
}

func TestBatcherRecordLatencyShrinksSizeWhenSlow(t *testing.T) {
	b := newBatcher(BatchPolicy{MinSize: 1, MaxSize: 4, TimeoutMs: 50, WindowSize: 10})
	b.currentSize = 4
	for i := 0; i < 3; i++ {
		b.recordLatency(500 * time.Millisecond)
	}
	assert.Less(t, b.currentSize, 4)
}

func TestBatcherRecordLatencyWindowIsBounded(t *testing.T) {
	b := newBatcher(BatchPolicy{MinSize: 1, MaxSize: 4, TimeoutMs: 50, WindowSize: 3})
	for i := 0; i < 10; i++ {
		b.recordLatency(time.Duration(i) * time.Millisecond)
	}
	assert.Len(t, b.latencies, 3)
}
