// Package router resolves a query window to the minimal set of partitions
// that can contain matching rows. Tiles that never received data have no
// partition and are safe to skip; the default partition is always a
// candidate unless the caller can prove completeness without it.
package router

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/tilegrid-io/tilegrid/internal/catalog"
	"github.com/tilegrid-io/tilegrid/internal/core/model"
	"github.com/tilegrid-io/tilegrid/internal/core/observability"
	"github.com/tilegrid-io/tilegrid/internal/grid"
)

// DefaultMaxTiles bounds candidate enumeration per query window.
const DefaultMaxTiles = 10000

const coordCacheSize = 2048

// Options tunes a single Route call.
type Options struct {
	// ExcludeDefault drops the default partition from the candidate set.
	// Only for callers that know the default partition cannot hold a
	// match (e.g. admin tooling over a store with no fallback rows).
	ExcludeDefault bool

	// Pad expands the window's min corner before tile enumeration. A
	// geometry lives in the tile of its bbox min corner, so a feature
	// spanning into the window from a lower tile is only routable when
	// the pad covers the dataset's maximum feature extent. Zero keeps
	// the candidate set exactly the window's overlap set.
	Pad float64
}

// Candidates is the routing result: the tiles the window overlaps and the
// existing indexed partitions among them (plus the default, unless
// excluded).
type Candidates struct {
	Coords     []grid.Coord
	Partitions []catalog.Record
}

type Router struct {
	grid     *grid.Grid
	catalog  *catalog.Catalog
	maxTiles int64

	// coords memoizes pure window→tiles math; grid config is immutable
	// so entries never go stale.
	coords *lru.Cache[uint64, []grid.Coord]
}

func New(g *grid.Grid, cat *catalog.Catalog, maxTiles int64) *Router {
	if maxTiles <= 0 {
		maxTiles = DefaultMaxTiles
	}
	cache, _ := lru.New[uint64, []grid.Coord](coordCacheSize)
	return &Router{grid: g, catalog: cat, maxTiles: maxTiles, coords: cache}
}

// Route computes the candidate partition set for a query window. The tile
// count is checked arithmetically before any enumeration, so an oversized
// window fails fast without touching a single partition.
func (r *Router) Route(window model.BBox, opts Options) (Candidates, error) {
	if err := r.grid.CheckSRID(window.SRID); err != nil {
		return Candidates{}, err
	}
	if opts.Pad > 0 {
		window.X1 -= opts.Pad
		window.Y1 -= opts.Pad
	}
	span, err := r.grid.SpanForBBox(window)
	if err != nil {
		return Candidates{}, err
	}
	if n := span.Count(); n > r.maxTiles {
		return Candidates{}, fmt.Errorf("%w: window spans %d tiles, limit %d", model.ErrQueryTooBroad, n, r.maxTiles)
	}

	coords, err := r.coordsForWindow(window)
	if err != nil {
		return Candidates{}, err
	}
	observability.ObserveRouteTiles(len(coords))

	parts := r.catalog.LookupPartitions(coords)
	if !opts.ExcludeDefault {
		parts = append(parts, r.catalog.Default())
	}
	return Candidates{Coords: coords, Partitions: parts}, nil
}

func (r *Router) coordsForWindow(window model.BBox) ([]grid.Coord, error) {
	key := windowKey(window)
	if cached, ok := r.coords.Get(key); ok {
		return cached, nil
	}
	coords, err := r.grid.CoordsForBBox(window)
	if err != nil {
		return nil, err
	}
	r.coords.Add(key, coords)
	return coords, nil
}

// windowKey hashes the exact float bits of the window. The printed form
// rounds to six decimals, which would collide windows on opposite sides of
// a tile boundary and serve one window's tile set for the other.
func windowKey(b model.BBox) uint64 {
	var buf [32]byte
	binary.LittleEndian.PutUint64(buf[0:8], math.Float64bits(b.X1))
	binary.LittleEndian.PutUint64(buf[8:16], math.Float64bits(b.Y1))
	binary.LittleEndian.PutUint64(buf[16:24], math.Float64bits(b.X2))
	binary.LittleEndian.PutUint64(buf[24:32], math.Float64bits(b.Y2))
	d := xxhash.New()
	_, _ = d.Write(buf[:])
	_, _ = d.WriteString(b.SRID)
	return d.Sum64()
}
