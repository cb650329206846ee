// Package grid implements the tile grid math: mapping points and bounding
// boxes onto fixed-size square tiles via floor division.
package grid

import (
	"errors"
	"fmt"
	"math"

	"github.com/tilegrid-io/tilegrid/internal/core/model"
)

// Coord identifies one square tile of edge length Grid.Edge. Tile (tx, ty)
// covers the half-open square [tx*T, (tx+1)*T) x [ty*T, (ty+1)*T).
type Coord struct {
	TX, TY int64
}

func (c Coord) String() string { return c.Key() }

// Grid holds the tile geometry configuration. Immutable after New.
type Grid struct {
	edge float64
	srid string
}

// New validates the grid configuration. Edge length and reference system
// carry no defaults; both must be supplied explicitly.
func New(edge float64, srid string) (*Grid, error) {
	if math.IsNaN(edge) || math.IsInf(edge, 0) || edge <= 0 {
		return nil, fmt.Errorf("grid edge length must be a positive finite number, got %v", edge)
	}
	if srid == "" {
		return nil, errors.New("grid reference system is required")
	}
	return &Grid{edge: edge, srid: srid}, nil
}

func (g *Grid) Edge() float64 { return g.edge }
func (g *Grid) SRID() string  { return g.srid }

// CheckSRID verifies a geometry's reference system against the grid's.
func (g *Grid) CheckSRID(srid string) error {
	if srid != "" && srid != g.srid {
		return fmt.Errorf("%w: geometry is %q, grid is %q", model.ErrReferenceSystemMismatch, srid, g.srid)
	}
	return nil
}

// CoordForPoint maps a single point to its tile. NaN or infinite input is
// rejected, as are finite points whose tile coordinate exceeds the exactly
// representable integer range.
func (g *Grid) CoordForPoint(x, y float64) (Coord, error) {
	if math.IsNaN(x) || math.IsInf(x, 0) || math.IsNaN(y) || math.IsInf(y, 0) {
		return Coord{}, fmt.Errorf("%w: non-finite point (%v, %v)", model.ErrInvalidGeometry, x, y)
	}
	tx, err := floorDiv(x, g.edge)
	if err != nil {
		return Coord{}, err
	}
	ty, err := floorDiv(y, g.edge)
	if err != nil {
		return Coord{}, err
	}
	return Coord{TX: tx, TY: ty}, nil
}

// CoordForBBox returns the tile of record for a bounding box: the tile of
// its min corner. A geometry is stored in exactly this one tile, however
// many tiles its extent overlaps.
func (g *Grid) CoordForBBox(b model.BBox) (Coord, error) {
	if !b.Valid() {
		return Coord{}, fmt.Errorf("%w: bbox %s", model.ErrInvalidGeometry, b)
	}
	return g.CoordForPoint(b.X1, b.Y1)
}

// Span is the inclusive tile coordinate range a bounding box overlaps.
type Span struct {
	TXMin, TXMax int64
	TYMin, TYMax int64
}

// Count returns the number of tiles in the span without enumerating them,
// saturating at MaxInt64 so oversized spans always trip limit checks.
func (s Span) Count() int64 {
	dx := s.TXMax - s.TXMin + 1
	dy := s.TYMax - s.TYMin + 1
	if dx > math.MaxInt64/dy {
		return math.MaxInt64
	}
	return dx * dy
}

// SpanForBBox computes the tile range overlapped by a bounding box. The
// upper edges are half-open: a max edge that lies exactly on a tile
// boundary belongs to the lower tile, so boundary-aligned windows do not
// pick up a spurious extra row or column. A degenerate box (a point)
// resolves to a single tile.
func (g *Grid) SpanForBBox(b model.BBox) (Span, error) {
	if !b.Valid() {
		return Span{}, fmt.Errorf("%w: bbox %s", model.ErrInvalidGeometry, b)
	}
	lo, err := g.CoordForPoint(b.X1, b.Y1)
	if err != nil {
		return Span{}, err
	}
	hi, err := g.CoordForPoint(b.X2, b.Y2)
	if err != nil {
		return Span{}, err
	}
	s := Span{TXMin: lo.TX, TYMin: lo.TY, TXMax: hi.TX, TYMax: hi.TY}
	if s.TXMax > s.TXMin && b.X2 == float64(s.TXMax)*g.edge {
		s.TXMax--
	}
	if s.TYMax > s.TYMin && b.Y2 == float64(s.TYMax)*g.edge {
		s.TYMax--
	}
	return s, nil
}

// CoordsForBBox enumerates every tile the bounding box overlaps, row by
// row from the min corner. Query routing uses the full set; ingest uses
// only CoordForBBox. The asymmetry is deliberate: one partition of record,
// findable from any window the geometry spans.
func (g *Grid) CoordsForBBox(b model.BBox) ([]Coord, error) {
	s, err := g.SpanForBBox(b)
	if err != nil {
		return nil, err
	}
	out := make([]Coord, 0, s.Count())
	for ty := s.TYMin; ty <= s.TYMax; ty++ {
		for tx := s.TXMin; tx <= s.TXMax; tx++ {
			out = append(out, Coord{TX: tx, TY: ty})
		}
	}
	return out, nil
}

// tileCoordMax bounds tile coordinates to the range float64 represents
// exactly. Converting a larger quotient to int64 is undefined, so anything
// beyond it is rejected rather than wrapped.
const tileCoordMax = int64(1) << 53

func floorDiv(v, edge float64) (int64, error) {
	q := math.Floor(v / edge)
	if q > float64(tileCoordMax) || q < -float64(tileCoordMax) {
		return 0, fmt.Errorf("%w: coordinate %v out of tile range at edge %v", model.ErrInvalidGeometry, v, edge)
	}
	return int64(q), nil
}
