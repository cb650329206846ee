// Package engine wires grid, catalog, router, ingest, and planner into the
// administrative surface the server and tools consume.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tilegrid-io/tilegrid/internal/catalog"
	"github.com/tilegrid-io/tilegrid/internal/core/model"
	"github.com/tilegrid-io/tilegrid/internal/grid"
	"github.com/tilegrid-io/tilegrid/internal/ingest"
	"github.com/tilegrid-io/tilegrid/internal/planner"
	"github.com/tilegrid-io/tilegrid/internal/router"
	"github.com/tilegrid-io/tilegrid/internal/store"
)

// Config carries the engine's tuning. Edge and SRID are mandatory; the
// grid rejects missing values rather than assuming defaults.
type Config struct {
	Edge           float64
	SRID           string
	GeometryColumn string
	MaxQueryTiles  int64
	QueryWorkers   int
	ScanTimeout    time.Duration
	// QueryPad widens query windows toward the min corner so features
	// spanning in from lower tiles stay routable. Set it to the
	// dataset's maximum feature extent; zero routes the bare window.
	QueryPad float64
	// Hydrate rebuilds the catalog from the store's existing partitions
	// at startup (requires a store that can enumerate them).
	Hydrate bool
}

type Engine struct {
	grid     *grid.Grid
	catalog  *catalog.Catalog
	router   *router.Router
	ingestor *ingest.Coordinator
	planner  *planner.Planner
}

func New(ctx context.Context, cfg Config, st store.Store, logger *slog.Logger) (*Engine, error) {
	g, err := grid.New(cfg.Edge, cfg.SRID)
	if err != nil {
		return nil, fmt.Errorf("grid: %w", err)
	}

	cat, err := catalog.New(ctx, st, store.Schema{GeometryColumn: cfg.GeometryColumn}, logger)
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	if cfg.Hydrate {
		lister, ok := st.(store.Lister)
		if !ok {
			return nil, fmt.Errorf("store %T cannot enumerate partitions for hydration", st)
		}
		if err := cat.Hydrate(ctx, lister); err != nil {
			return nil, fmt.Errorf("hydrate catalog: %w", err)
		}
	}

	rt := router.New(g, cat, cfg.MaxQueryTiles)
	return &Engine{
		grid:     g,
		catalog:  cat,
		router:   rt,
		ingestor: ingest.New(g, cat, st, logger),
		planner:  planner.New(rt, st, cfg.QueryWorkers, cfg.QueryPad, cfg.ScanTimeout, logger),
	}, nil
}

func (e *Engine) Grid() *grid.Grid { return e.grid }

// Ingest writes one geometry to its partition of record.
func (e *Engine) Ingest(ctx context.Context, g model.Geometry) (model.CommitResult, error) {
	return e.ingestor.Ingest(ctx, g)
}

// IngestBatch writes geometries with per-row atomicity.
func (e *Engine) IngestBatch(ctx context.Context, gs []model.Geometry) ([]model.CommitResult, error) {
	return e.ingestor.IngestBatch(ctx, gs)
}

// Plan runs a spatial intersection query against all candidate partitions.
func (e *Engine) Plan(ctx context.Context, window model.BBox) ([]model.RowRef, error) {
	return e.planner.Plan(ctx, window)
}

// Route exposes candidate-set computation for inspection and admin tools.
func (e *Engine) Route(window model.BBox, opts router.Options) (router.Candidates, error) {
	return e.router.Route(window, opts)
}

// EnsurePartition pre-creates the partition for a tile key.
func (e *Engine) EnsurePartition(ctx context.Context, tileKey string) (catalog.Record, error) {
	if _, err := grid.ParseKey(tileKey); err != nil {
		return catalog.Record{}, err
	}
	return e.catalog.EnsurePartition(ctx, tileKey)
}

// ListAll enumerates every known partition, default included.
func (e *Engine) ListAll() []catalog.Record {
	return e.catalog.ListAll()
}

// Ready probes the store through the normal query path with a degenerate
// window, so readiness reflects the partitions actually being scannable.
func (e *Engine) Ready(ctx context.Context) error {
	_, err := e.planner.Plan(ctx, model.BBox{SRID: e.grid.SRID()})
	return err
}
