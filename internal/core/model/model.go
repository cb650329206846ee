// Package model defines core domain types shared across the engine.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// Error taxonomy for ingest and query paths. Callers match with errors.Is.
var (
	// ErrInvalidGeometry marks a geometry whose bounding box is missing or
	// non-finite. Ingest recovers by routing the row to the default
	// partition; grid math surfaces it to the caller.
	ErrInvalidGeometry = errors.New("invalid geometry")

	// ErrPartitionCreateFailed marks a failed physical partition creation
	// or index build. The affected row must not be considered committed.
	ErrPartitionCreateFailed = errors.New("partition create failed")

	// ErrQueryTooBroad marks a query window whose candidate tile count
	// exceeds the configured safety limit. No partition is touched.
	ErrQueryTooBroad = errors.New("query too broad")

	// ErrReferenceSystemMismatch marks a geometry whose reference system
	// disagrees with the configured grid. Fatal, not per-row recoverable.
	ErrReferenceSystemMismatch = errors.New("reference system mismatch")
)

// BBox is an axis-aligned bounding box. (X1,Y1) is the min corner,
// (X2,Y2) the max corner.
type BBox struct {
	X1   float64 `json:"x1"`
	Y1   float64 `json:"y1"`
	X2   float64 `json:"x2"`
	Y2   float64 `json:"y2"`
	SRID string  `json:"srid,omitempty"`
}

func (b BBox) String() string {
	return fmt.Sprintf("%.6f,%.6f,%.6f,%.6f,%s", b.X1, b.Y1, b.X2, b.Y2, b.SRID)
}

// Finite reports whether all four corners are finite floats.
func (b BBox) Finite() bool {
	for _, v := range []float64{b.X1, b.Y1, b.X2, b.Y2} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Valid reports whether the box is finite and non-inverted. Degenerate
// boxes (points and lines) are valid.
func (b BBox) Valid() bool {
	return b.Finite() && b.X2 >= b.X1 && b.Y2 >= b.Y1
}

// Intersects reports whether two boxes share any point, boundaries
// included. SRIDs are not compared here; that is the ingest path's job.
func (b BBox) Intersects(o BBox) bool {
	return b.X1 <= o.X2 && o.X1 <= b.X2 && b.Y1 <= o.Y2 && o.Y1 <= b.Y2
}

// Geometry is an ingestable record. The engine only interprets the
// bounding box and SRID; Payload is opaque and passed through to the store.
type Geometry struct {
	ID      string          `json:"id"`
	BBox    *BBox           `json:"bbox,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// RowRef identifies a stored row and the partition it lives in.
type RowRef struct {
	ID        string `json:"id"`
	Partition string `json:"partition"`
}

// CommitResult reports where an ingested row landed.
type CommitResult struct {
	RowID     string `json:"row_id"`
	Partition string `json:"partition"`
	TileKey   string `json:"tile_key"`
	// Fallback is true when the row was routed to the default partition
	// because its geometry could not be assigned a tile.
	Fallback bool `json:"fallback"`
}
