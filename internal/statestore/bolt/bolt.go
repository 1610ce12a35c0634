// Package bolt is the file-backed statestore.Store backend, grounded
// directly on the teacher's db/bolt.DB wrapper (Open/CreateBucket/
// PutJSON-style helpers over go.etcd.io/bbolt), generalised from JSON
// values to the raw []byte values statestore.Store deals in.
package bolt

import (
	"context"
	"fmt"
	"strings"
	"time"

	bbolt "go.etcd.io/bbolt"

	"github.com/flowgraphd/flowgraphd/internal/statestore"
)

const bucketName = "flowgraphd_state"

type Store struct {
	db *bbolt.DB
}

var _ statestore.Store = (*Store)(nil)

// Open opens or creates a bbolt file at path.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("statestore/bolt: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("statestore/bolt: create bucket: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Put(_ context.Context, key string, value []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Put([]byte(key), value)
	})
}

func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(bucketName)).Get([]byte(key))
		if data != nil {
			value = make([]byte, len(data))
			copy(value, data)
		}
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("statestore/bolt: get %s: %w", key, err)
	}
	return value, value != nil, nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Delete([]byte(key))
	})
}

func (s *Store) List(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).ForEach(func(k, _ []byte) error {
			if strings.HasPrefix(string(k), prefix) {
				keys = append(keys, string(k))
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("statestore/bolt: list %s: %w", prefix, err)
	}
	return keys, nil
}

func (s *Store) Close() error { return s.db.Close() }
