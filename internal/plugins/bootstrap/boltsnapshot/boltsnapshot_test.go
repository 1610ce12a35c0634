package boltsnapshot

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	boltdb "github.com/flowgraphd/flowgraphd/db/bolt"
	"github.com/flowgraphd/flowgraphd/internal/model"
)

func newTestDB(t *testing.T, bucket string) *boltdb.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "snapshot.db")
	db, err := boltdb.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.CreateBucket(bucket))
	return db
}

func putRecord(t *testing.T, db *boltdb.DB, bucket, key string, rec record) {
	t.Helper()
	require.NoError(t, db.PutJSON(bucket, key, rec))
}

func drain(t *testing.T, elements <-chan model.Element, errs <-chan error) ([]model.Element, error) {
	t.Helper()
	var out []model.Element
	for elements != nil || errs != nil {
		select {
		case e, ok := <-elements:
			if !ok {
				elements = nil
				continue
			}
			out = append(out, e)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				return out, err
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out draining bootstrap channels")
		}
	}
	return out, nil
}

func TestBootstrapEmitsNodesAndRelations(t *testing.T) {
	db := newTestDB(t, "snapshot")
	putRecord(t, db, "snapshot", "n1", record{Kind: "node", ElementID: "n1", Labels: []string{"Person"}, Properties: map[string]any{"name": "ada"}})
	putRecord(t, db, "snapshot", "r1", record{Kind: "relation", ElementID: "r1", Label: "KNOWS", From: "n1", To: "n2"})

	p := New(db, "src1", "snapshot")
	elements, errs := p.Bootstrap(context.Background(), model.SubscriptionFilter{})

	got, err := drain(t, elements, errs)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestBootstrapFiltersByLabel(t *testing.T) {
	db := newTestDB(t, "snapshot")
	putRecord(t, db, "snapshot", "n1", record{Kind: "node", ElementID: "n1", Labels: []string{"Person"}})
	putRecord(t, db, "snapshot", "n2", record{Kind: "node", ElementID: "n2", Labels: []string{"Company"}})

	p := New(db, "src1", "snapshot")
	filter := model.SubscriptionFilter{NodeLabels: map[string]struct{}{"Person": {}}}
	elements, errs := p.Bootstrap(context.Background(), filter)

	got, err := drain(t, elements, errs)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "n1", got[0].Ref.ElementID)
}

func TestBootstrapContextCancellationStopsEarly(t *testing.T) {
	db := newTestDB(t, "snapshot")
	for i := 0; i < 50; i++ {
		putRecord(t, db, "snapshot", string(rune('a'+i)), record{Kind: "node", ElementID: string(rune('a' + i)), Labels: []string{"Thing"}})
	}

	p := New(db, "src1", "snapshot")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	elements, errs := p.Bootstrap(ctx, model.SubscriptionFilter{})

	for elements != nil || errs != nil {
		select {
		case _, ok := <-elements:
			if !ok {
				elements = nil
			}
		case _, ok := <-errs:
			if !ok {
				errs = nil
			}
		case <-time.After(2 * time.Second):
			t.Fatal("bootstrap did not terminate after context cancellation")
		}
	}
}

func TestBootstrapEmptyBucketYieldsNoElements(t *testing.T) {
	db := newTestDB(t, "snapshot")
	p := New(db, "src1", "snapshot")

	elements, errs := p.Bootstrap(context.Background(), model.SubscriptionFilter{})
	got, err := drain(t, elements, errs)
	require.NoError(t, err)
	assert.Empty(t, got)
}
