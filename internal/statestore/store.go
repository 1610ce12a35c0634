// Package statestore defines the pluggable key-value abstraction for
// persisted lifecycle state and engine-defined query index snapshots
// (spec section 6): "supports in-memory and file-backed variants", keyed
// namespaced <instanceId>/<componentKind>/<componentId>.
package statestore

import "context"

// Store is the persisted state abstraction. Keys are caller-namespaced;
// the store itself is a flat map.
type Store interface {
	Put(ctx context.Context, key string, value []byte) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, key string) error
	// List returns every key with the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// Key builds the namespaced key layout from spec section 6.
func Key(instanceID, componentKind, componentID string) string {
	return instanceID + "/" + componentKind + "/" + componentID
}
