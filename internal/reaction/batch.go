package reaction

import (
	"context"
	"time"

	"github.com/flowgraphd/flowgraphd/internal/model"
)

// BatchPolicy is the adaptive batching configuration from spec 4.7.
type BatchPolicy struct {
	MinSize    int
	MaxSize    int
	TimeoutMs  int
	WindowSize int
}

// DefaultBatchPolicy disables batching: one delta per payload, the
// common case for a reaction with no adaptiveMaxBatchSize configured.
func DefaultBatchPolicy() BatchPolicy {
	return BatchPolicy{MinSize: 1, MaxSize: 1, TimeoutMs: 50, WindowSize: 10}
}

// batcher accumulates deltas up to MaxSize or TimeoutMs, whichever comes
// first (spec 4.7), and adjusts its current target size within
// [MinSize, MaxSize] based on recent delivery latency over a sliding
// window of WindowSize samples.
type batcher struct {
	policy      BatchPolicy
	currentSize int
	latencies   []time.Duration
}

func newBatcher(policy BatchPolicy) *batcher {
	size := policy.MinSize
	if size <= 0 {
		size = 1
	}
	return &batcher{policy: policy, currentSize: size}
}

// collect blocks until currentSize deltas are available, the timeout
// elapses with at least one delta collected, the input channel closes,
// or ctx is done. ok=false means the query's output ended and no more
// batches will come.
func (b *batcher) collect(ctx context.Context, in <-chan model.ResultDelta) ([]model.ResultDelta, bool) {
	timeout := time.Duration(b.policy.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 50 * time.Millisecond
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	batch := make([]model.ResultDelta, 0, b.currentSize)
	for {
		select {
		case d, ok := <-in:
			if !ok {
				if len(batch) > 0 {
					return batch, true
				}
				return nil, false
			}
			batch = append(batch, d)
			if len(batch) >= b.currentSize {
				return batch, true
			}
		case <-timer.C:
			if len(batch) > 0 {
				return batch, true
			}
			timer.Reset(timeout)
		case <-ctx.Done():
			if len(batch) > 0 {
				return batch, true
			}
			return nil, false
		}
	}
}

// recordLatency feeds one batch's delivery latency into the sliding
// window and nudges currentSize toward MaxSize when delivery is fast,
// toward MinSize when it is slow.
func (b *batcher) recordLatency(d time.Duration) {
	window := b.policy.WindowSize
	if window <= 0 {
		window = 10
	}
	b.latencies = append(b.latencies, d)
	if len(b.latencies) > window {
		b.latencies = b.latencies[len(b.latencies)-window:]
	}

	min := b.policy.MinSize
	if min <= 0 {
		min = 1
	}
	max := b.policy.MaxSize
	if max < min {
		max = min
	}

	avg := averageDuration(b.latencies)
	switch {
	case avg > 200*time.Millisecond && b.currentSize > min:
		b.currentSize--
	case avg < 50*time.Millisecond && b.currentSize < max:
		b.currentSize++
	}
}

func averageDuration(ds []time.Duration) time.Duration {
	if len(ds) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range ds {
		sum += d
	}
	return sum / time.Duration(len(ds))
}
