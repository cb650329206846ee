// Package memstore is an in-process implementation of the store contract.
// It backs unit tests and single-node deployments without Redis.
package memstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tilegrid-io/tilegrid/internal/core/model"
	"github.com/tilegrid-io/tilegrid/internal/store"
)

type partition struct {
	schema    store.Schema
	indexed   bool
	createdAt time.Time
	rows      map[string]store.Row
}

// Store keeps partitions in memory. Safe for concurrent use.
type Store struct {
	mu    sync.RWMutex
	parts map[string]*partition
}

func New() *Store {
	return &Store{parts: make(map[string]*partition)}
}

func (s *Store) CreatePartition(ctx context.Context, name string, schema store.Schema) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.parts[name]; ok {
		return nil
	}
	s.parts[name] = &partition{
		schema:    schema,
		createdAt: time.Now().UTC(),
		rows:      make(map[string]store.Row),
	}
	return nil
}

func (s *Store) CreateSpatialIndex(ctx context.Context, name, column string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.parts[name]
	if !ok {
		return fmt.Errorf("create index on %q: %w", name, store.ErrNoPartition)
	}
	p.indexed = true
	return nil
}

func (s *Store) WriteRow(ctx context.Context, name string, row store.Row) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.parts[name]
	if !ok {
		return fmt.Errorf("write to %q: %w", name, store.ErrNoPartition)
	}
	p.rows[row.ID] = row
	return nil
}

func (s *Store) ScanIntersecting(ctx context.Context, name string, window model.BBox) ([]model.RowRef, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.parts[name]
	if !ok {
		return nil, fmt.Errorf("scan %q: %w", name, store.ErrNoPartition)
	}
	var out []model.RowRef
	for _, row := range p.rows {
		if row.BBox != nil && row.BBox.Intersects(window) {
			out = append(out, model.RowRef{ID: row.ID, Partition: name})
		}
	}
	return out, nil
}

func (s *Store) ListPartitions(ctx context.Context) ([]store.PartitionMeta, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.PartitionMeta, 0, len(s.parts))
	for name, p := range s.parts {
		out = append(out, store.PartitionMeta{
			PhysicalName: name,
			Indexed:      p.indexed,
			CreatedAt:    p.createdAt,
		})
	}
	return out, nil
}

// RowCount reports the number of rows in a partition; zero if absent.
func (s *Store) RowCount(name string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.parts[name]; ok {
		return len(p.rows)
	}
	return 0
}
