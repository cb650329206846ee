// Package catalog owns the tile key to physical partition mapping and the
// partition lifecycle: create-if-absent, index, publish. A record becomes
// visible to readers only after its spatial index is confirmed built, so
// lookups never observe an unindexed partition.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tilegrid-io/tilegrid/internal/core/model"
	"github.com/tilegrid-io/tilegrid/internal/core/observability"
	"github.com/tilegrid-io/tilegrid/internal/grid"
	"github.com/tilegrid-io/tilegrid/internal/store"
)

const (
	// DefaultTileKey names the catch-all partition for rows that cannot
	// be assigned a tile. It is created at startup and never pruned.
	DefaultTileKey = "default"

	physicalPrefix = "geo_part_"
)

// PhysicalName renders the storage-side identifier for a tile key.
func PhysicalName(tileKey string) string { return physicalPrefix + tileKey }

// Record describes one physical partition. Create-once: PhysicalName and
// TileKey never change after creation, only Indexed transitions false→true.
type Record struct {
	TileKey      string    `json:"tile_key"`
	PhysicalName string    `json:"physical_name"`
	CreatedAt    time.Time `json:"created_at"`
	Indexed      bool      `json:"indexed"`
}

type createOp struct {
	done chan struct{}
	rec  Record
	err  error
}

// Catalog is safe for concurrent use. EnsurePartition calls for the same
// tile key serialize on a per-key in-flight operation; different keys
// create their partitions in parallel.
type Catalog struct {
	logger *slog.Logger
	store  store.Store
	schema store.Schema

	mu       sync.RWMutex
	records  map[string]Record
	inflight map[string]*createOp
	def      Record
}

// New creates the catalog and guarantees the default partition exists and
// is indexed before returning.
func New(ctx context.Context, st store.Store, schema store.Schema, logger *slog.Logger) (*Catalog, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if schema.GeometryColumn == "" {
		schema.GeometryColumn = "geom"
	}
	c := &Catalog{
		logger:   logger,
		store:    st,
		schema:   schema,
		records:  make(map[string]Record),
		inflight: make(map[string]*createOp),
	}
	def, err := c.createPhysical(ctx, DefaultTileKey)
	if err != nil {
		return nil, fmt.Errorf("default partition: %w", err)
	}
	c.def = def
	return c, nil
}

// Default returns the catch-all partition record.
func (c *Catalog) Default() Record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.def
}

// Get returns the published record for a tile key, if any.
func (c *Catalog) Get(tileKey string) (Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.records[tileKey]
	return rec, ok
}

// EnsurePartition returns the existing record for the tile key or creates
// the physical partition, builds its spatial index, and publishes the
// record, all as one unit of work. Concurrent callers with the same key
// converge on a single creation.
func (c *Catalog) EnsurePartition(ctx context.Context, tileKey string) (Record, error) {
	c.mu.RLock()
	if rec, ok := c.records[tileKey]; ok {
		c.mu.RUnlock()
		return rec, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	if rec, ok := c.records[tileKey]; ok {
		c.mu.Unlock()
		return rec, nil
	}
	if op, ok := c.inflight[tileKey]; ok {
		c.mu.Unlock()
		return c.await(ctx, op)
	}
	op := &createOp{done: make(chan struct{})}
	c.inflight[tileKey] = op
	c.mu.Unlock()

	rec, err := c.createPhysical(ctx, tileKey)

	c.mu.Lock()
	delete(c.inflight, tileKey)
	if err == nil {
		c.records[tileKey] = rec
	}
	c.mu.Unlock()

	op.rec, op.err = rec, err
	close(op.done)
	return rec, err
}

func (c *Catalog) await(ctx context.Context, op *createOp) (Record, error) {
	select {
	case <-op.done:
		return op.rec, op.err
	case <-ctx.Done():
		return Record{}, ctx.Err()
	}
}

// createPhysical runs the external create + index sequence. The record is
// only considered indexed once both steps succeed.
func (c *Catalog) createPhysical(ctx context.Context, tileKey string) (Record, error) {
	name := PhysicalName(tileKey)
	if err := c.store.CreatePartition(ctx, name, c.schema); err != nil {
		observability.IncPartitionCreateFailed()
		return Record{}, fmt.Errorf("%w: create %q: %v", model.ErrPartitionCreateFailed, name, err)
	}
	if err := c.store.CreateSpatialIndex(ctx, name, c.schema.GeometryColumn); err != nil {
		observability.IncPartitionCreateFailed()
		return Record{}, fmt.Errorf("%w: index %q: %v", model.ErrPartitionCreateFailed, name, err)
	}
	observability.IncPartitionCreated()
	c.logger.Info("partition ready", "tile_key", tileKey, "physical", name)
	return Record{
		TileKey:      tileKey,
		PhysicalName: name,
		CreatedAt:    time.Now().UTC(),
		Indexed:      true,
	}, nil
}

// LookupPartitions returns the published records for the given tiles.
// Read-only: it never triggers creation, and by construction every
// published record is indexed. Tiles without a partition are skipped.
func (c *Catalog) LookupPartitions(coords []grid.Coord) []Record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Record, 0, len(coords))
	for _, coord := range coords {
		if rec, ok := c.records[coord.Key()]; ok {
			out = append(out, rec)
		}
	}
	return out
}

// ListAll enumerates every published partition plus the default, sorted by
// tile key for stable administrative output.
func (c *Catalog) ListAll() []Record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Record, 0, len(c.records)+1)
	out = append(out, c.def)
	for _, rec := range c.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TileKey < out[j].TileKey })
	return out
}

// Hydrate rebuilds catalog state from an already-populated store. Only
// indexed partitions whose names parse back to a tile key become visible;
// anything else is logged and skipped.
func (c *Catalog) Hydrate(ctx context.Context, lister store.Lister) error {
	metas, err := lister.ListPartitions(ctx)
	if err != nil {
		return fmt.Errorf("list partitions: %w", err)
	}
	loaded := 0
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range metas {
		tileKey := strings.TrimPrefix(m.PhysicalName, physicalPrefix)
		if tileKey == DefaultTileKey {
			continue
		}
		if _, err := grid.ParseKey(tileKey); err != nil {
			c.logger.Warn("skipping foreign partition", "physical", m.PhysicalName)
			continue
		}
		if !m.Indexed {
			c.logger.Warn("skipping unindexed partition", "physical", m.PhysicalName)
			continue
		}
		c.records[tileKey] = Record{
			TileKey:      tileKey,
			PhysicalName: m.PhysicalName,
			CreatedAt:    m.CreatedAt,
			Indexed:      true,
		}
		loaded++
	}
	c.logger.Info("catalog hydrated", "partitions", loaded)
	return nil
}
