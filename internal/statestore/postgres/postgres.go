// Package postgres is an optional durable statestore.Store backend
// using gorm.io/gorm + gorm.io/driver/postgres, exercising the teacher's
// gorm dependency as a third, clearly optional variant alongside the
// required in-memory and file-backed ones (spec section 6 / SPEC_FULL
// 6.3).
package postgres

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/flowgraphd/flowgraphd/internal/statestore"
)

// entry is the single-table row layout: one namespaced key, one opaque
// value blob.
type entry struct {
	Key   string `gorm:"primaryKey;column:key"`
	Value []byte `gorm:"column:value"`
}

func (entry) TableName() string { return "flowgraphd_state" }

type Store struct {
	db *gorm.DB
}

var _ statestore.Store = (*Store)(nil)

// Open connects to dsn and migrates the state table.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("statestore/postgres: connect: %w", err)
	}
	if err := db.AutoMigrate(&entry{}); err != nil {
		return nil, fmt.Errorf("statestore/postgres: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	row := entry{Key: key, Value: value}
	return s.db.WithContext(ctx).Save(&row).Error
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var row entry
	err := s.db.WithContext(ctx).First(&row, "key = ?", key).Error
	if err == gorm.ErrRecordNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("statestore/postgres: get %s: %w", key, err)
	}
	return row.Value, true, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Delete(&entry{}, "key = ?", key).Error
}

func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	var rows []entry
	escaped := strings.ReplaceAll(strings.ReplaceAll(prefix, "\\", "\\\\"), "%", "\\%")
	if err := s.db.WithContext(ctx).Select("key").Where("key LIKE ?", escaped+"%").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("statestore/postgres: list %s: %w", prefix, err)
	}
	keys := make([]string, len(rows))
	for i, r := range rows {
		keys[i] = r.Key
	}
	return keys, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
