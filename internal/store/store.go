// Package store defines the contract the engine requires from its backing
// spatial store: partition creation, index builds, row writes, and exact
// intersection scans within a partition. The engine never indexes
// geometries itself; it only decides which partitions to touch.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/tilegrid-io/tilegrid/internal/core/model"
)

// ErrNoPartition is returned by WriteRow and ScanIntersecting when the
// named partition was never created.
var ErrNoPartition = errors.New("no such partition")

// Schema describes the shape of a partition at creation time.
type Schema struct {
	GeometryColumn string `json:"geometry_column"`
}

// Row is one stored record. The full bounding box travels with the row so
// intersection scans stay exact even though the row lives only in its
// min-corner tile's partition. A nil BBox means the row has no computable
// geometry (default-partition fallback) and can never match a scan.
type Row struct {
	ID      string          `json:"id"`
	BBox    *model.BBox     `json:"bbox,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Store is the external storage collaborator.
type Store interface {
	// CreatePartition creates the physical partition. Idempotent if the
	// partition already exists.
	CreatePartition(ctx context.Context, physicalName string, schema Schema) error

	// CreateSpatialIndex builds the spatial index on the partition.
	CreateSpatialIndex(ctx context.Context, physicalName, column string) error

	// WriteRow inserts one row into the partition.
	WriteRow(ctx context.Context, physicalName string, row Row) error

	// ScanIntersecting returns refs of all rows in the partition whose
	// geometry intersects the window. The scan is exact, not a bbox
	// approximation of the predicate.
	ScanIntersecting(ctx context.Context, physicalName string, window model.BBox) ([]model.RowRef, error)
}

// PartitionMeta describes an existing partition for catalog hydration.
type PartitionMeta struct {
	PhysicalName string
	Indexed      bool
	CreatedAt    time.Time
}

// Lister is implemented by stores that can enumerate their partitions, so
// a catalog can be rebuilt from an already-populated store at startup.
type Lister interface {
	ListPartitions(ctx context.Context) ([]PartitionMeta, error)
}
