// Package ingest assigns incoming geometries to their tile of record and
// writes them through the partition catalog to the backing store.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tilegrid-io/tilegrid/internal/catalog"
	"github.com/tilegrid-io/tilegrid/internal/core/model"
	"github.com/tilegrid-io/tilegrid/internal/core/observability"
	"github.com/tilegrid-io/tilegrid/internal/grid"
	"github.com/tilegrid-io/tilegrid/internal/store"
)

type Coordinator struct {
	logger  *slog.Logger
	grid    *grid.Grid
	catalog *catalog.Catalog
	store   store.Store
}

func New(g *grid.Grid, cat *catalog.Catalog, st store.Store, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{logger: logger, grid: g, catalog: cat, store: st}
}

// Ingest writes one geometry to the partition of its bounding box's min
// corner. A geometry without a finite bounding box is recovered into the
// default partition, not rejected. Reference system disagreement and
// partition creation failures propagate; the row is not committed then.
func (c *Coordinator) Ingest(ctx context.Context, g model.Geometry) (model.CommitResult, error) {
	if g.ID == "" {
		observability.IncIngest("failed")
		return model.CommitResult{}, errors.New("geometry id is required")
	}

	if g.BBox != nil {
		if err := c.grid.CheckSRID(g.BBox.SRID); err != nil {
			observability.IncIngest("failed")
			return model.CommitResult{}, err
		}
	}

	if g.BBox == nil || !g.BBox.Valid() {
		return c.ingestFallback(ctx, g)
	}

	coord, err := c.grid.CoordForBBox(*g.BBox)
	if err != nil {
		// finite boxes can still exceed the tile coordinate range
		return c.ingestFallback(ctx, g)
	}

	rec, err := c.catalog.EnsurePartition(ctx, coord.Key())
	if err != nil {
		observability.IncIngest("failed")
		return model.CommitResult{}, err
	}

	if err := c.store.WriteRow(ctx, rec.PhysicalName, store.Row{ID: g.ID, BBox: g.BBox, Payload: g.Payload}); err != nil {
		observability.IncIngest("failed")
		return model.CommitResult{}, fmt.Errorf("write row %q to %q: %w", g.ID, rec.PhysicalName, err)
	}

	observability.IncIngest("assigned")
	return model.CommitResult{
		RowID:     g.ID,
		Partition: rec.PhysicalName,
		TileKey:   rec.TileKey,
	}, nil
}

func (c *Coordinator) ingestFallback(ctx context.Context, g model.Geometry) (model.CommitResult, error) {
	def := c.catalog.Default()

	// Rows without a computable bounding box are stored geometry-less so
	// intersection scans cannot spuriously match them.
	var bb *model.BBox
	if g.BBox != nil && g.BBox.Valid() {
		bb = g.BBox
	}
	if err := c.store.WriteRow(ctx, def.PhysicalName, store.Row{ID: g.ID, BBox: bb, Payload: g.Payload}); err != nil {
		observability.IncIngest("failed")
		return model.CommitResult{}, fmt.Errorf("write row %q to default partition: %w", g.ID, err)
	}

	observability.IncIngest("fallback")
	c.logger.Debug("geometry routed to default partition", "row_id", g.ID)
	return model.CommitResult{
		RowID:     g.ID,
		Partition: def.PhysicalName,
		TileKey:   def.TileKey,
		Fallback:  true,
	}, nil
}

// IngestBatch commits rows one at a time with the same per-row atomicity
// as Ingest. Validation failures are recovered per row; a partition
// creation or write failure stops the batch and returns the results of the
// rows committed before it, so nothing is left visible in a partition
// whose creation failed.
func (c *Coordinator) IngestBatch(ctx context.Context, geoms []model.Geometry) ([]model.CommitResult, error) {
	out := make([]model.CommitResult, 0, len(geoms))
	for i, g := range geoms {
		res, err := c.Ingest(ctx, g)
		if err != nil {
			return out, fmt.Errorf("batch row %d (%q): %w", i, g.ID, err)
		}
		out = append(out, res)
	}
	return out, nil
}
