package redisstore

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/tilegrid-io/tilegrid/internal/core/model"
	"github.com/tilegrid-io/tilegrid/internal/store"
)

func newClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := New(context.Background(), mr.Addr())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestNew_RequiresAddr(t *testing.T) {
	if _, err := New(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty address")
	}
}

func TestCreatePartition_IdempotentKeepsMeta(t *testing.T) {
	c, mr := newClient(t)
	ctx := context.Background()

	if err := c.CreatePartition(ctx, "geo_part_0_0", store.Schema{GeometryColumn: "geom"}); err != nil {
		t.Fatalf("CreatePartition: %v", err)
	}
	createdAt := mr.HGet(metaKey("geo_part_0_0"), "created_at")
	if createdAt == "" {
		t.Fatal("created_at not set")
	}

	// Second create is a no-op and keeps the original timestamp.
	if err := c.CreatePartition(ctx, "geo_part_0_0", store.Schema{GeometryColumn: "geom"}); err != nil {
		t.Fatalf("CreatePartition: %v", err)
	}
	if got := mr.HGet(metaKey("geo_part_0_0"), "created_at"); got != createdAt {
		t.Fatalf("created_at changed on recreate: %q -> %q", createdAt, got)
	}
}

func TestCreateSpatialIndex(t *testing.T) {
	c, mr := newClient(t)
	ctx := context.Background()

	if err := c.CreateSpatialIndex(ctx, "geo_part_0_0", "geom"); !errors.Is(err, store.ErrNoPartition) {
		t.Fatalf("err = %v, want ErrNoPartition", err)
	}

	if err := c.CreatePartition(ctx, "geo_part_0_0", store.Schema{GeometryColumn: "geom"}); err != nil {
		t.Fatalf("CreatePartition: %v", err)
	}
	if err := c.CreateSpatialIndex(ctx, "geo_part_0_0", "geom"); err != nil {
		t.Fatalf("CreateSpatialIndex: %v", err)
	}
	if got := mr.HGet(metaKey("geo_part_0_0"), "indexed"); got != "1" {
		t.Fatalf("indexed = %q, want 1", got)
	}
}

func TestWriteAndScan(t *testing.T) {
	c, _ := newClient(t)
	ctx := context.Background()

	if err := c.WriteRow(ctx, "geo_part_0_0", store.Row{ID: "x"}); !errors.Is(err, store.ErrNoPartition) {
		t.Fatalf("write err = %v, want ErrNoPartition", err)
	}
	if _, err := c.ScanIntersecting(ctx, "geo_part_0_0", model.BBox{}); !errors.Is(err, store.ErrNoPartition) {
		t.Fatalf("scan err = %v, want ErrNoPartition", err)
	}

	if err := c.CreatePartition(ctx, "geo_part_0_0", store.Schema{GeometryColumn: "geom"}); err != nil {
		t.Fatalf("CreatePartition: %v", err)
	}
	rows := []store.Row{
		{ID: "hit", BBox: &model.BBox{X1: 10, Y1: 10, X2: 20, Y2: 20}},
		{ID: "miss", BBox: &model.BBox{X1: 500, Y1: 500, X2: 600, Y2: 600}},
		{ID: "no-geom"},
	}
	for _, r := range rows {
		if err := c.WriteRow(ctx, "geo_part_0_0", r); err != nil {
			t.Fatalf("WriteRow(%s): %v", r.ID, err)
		}
	}

	refs, err := c.ScanIntersecting(ctx, "geo_part_0_0", model.BBox{X1: 0, Y1: 0, X2: 100, Y2: 100})
	if err != nil {
		t.Fatalf("ScanIntersecting: %v", err)
	}
	if len(refs) != 1 || refs[0].ID != "hit" || refs[0].Partition != "geo_part_0_0" {
		t.Fatalf("refs = %+v, want exactly [hit]", refs)
	}
}

func TestWriteRow_UpsertsByID(t *testing.T) {
	c, _ := newClient(t)
	ctx := context.Background()

	if err := c.CreatePartition(ctx, "geo_part_1_1", store.Schema{}); err != nil {
		t.Fatalf("CreatePartition: %v", err)
	}
	if err := c.WriteRow(ctx, "geo_part_1_1", store.Row{ID: "a", BBox: &model.BBox{X1: 0, Y1: 0, X2: 1, Y2: 1}}); err != nil {
		t.Fatalf("WriteRow: %v", err)
	}
	if err := c.WriteRow(ctx, "geo_part_1_1", store.Row{ID: "a", BBox: &model.BBox{X1: 50, Y1: 50, X2: 60, Y2: 60}}); err != nil {
		t.Fatalf("WriteRow: %v", err)
	}

	refs, err := c.ScanIntersecting(ctx, "geo_part_1_1", model.BBox{X1: 0, Y1: 0, X2: 10, Y2: 10})
	if err != nil {
		t.Fatalf("ScanIntersecting: %v", err)
	}
	if len(refs) != 0 {
		t.Fatalf("old geometry still matches after upsert: %+v", refs)
	}
	refs, err = c.ScanIntersecting(ctx, "geo_part_1_1", model.BBox{X1: 55, Y1: 55, X2: 56, Y2: 56})
	if err != nil {
		t.Fatalf("ScanIntersecting: %v", err)
	}
	if len(refs) != 1 {
		t.Fatalf("refs = %+v, want the upserted row", refs)
	}
}

func TestListPartitions(t *testing.T) {
	c, mr := newClient(t)
	ctx := context.Background()

	for _, name := range []string{"geo_part_0_0", "geo_part_1_2"} {
		if err := c.CreatePartition(ctx, name, store.Schema{GeometryColumn: "geom"}); err != nil {
			t.Fatalf("CreatePartition(%s): %v", name, err)
		}
	}
	if err := c.CreateSpatialIndex(ctx, "geo_part_0_0", "geom"); err != nil {
		t.Fatalf("CreateSpatialIndex: %v", err)
	}
	// An unrelated key must not be mistaken for a partition.
	mr.Set("some:other:key", "1")

	metas, err := c.ListPartitions(ctx)
	if err != nil {
		t.Fatalf("ListPartitions: %v", err)
	}
	if len(metas) != 2 {
		t.Fatalf("metas = %+v, want 2 entries", metas)
	}
	byName := make(map[string]store.PartitionMeta, len(metas))
	for _, m := range metas {
		byName[m.PhysicalName] = m
	}
	if !byName["geo_part_0_0"].Indexed {
		t.Fatal("geo_part_0_0 should be indexed")
	}
	if byName["geo_part_1_2"].Indexed {
		t.Fatal("geo_part_1_2 should not be indexed")
	}
	if byName["geo_part_0_0"].CreatedAt.IsZero() {
		t.Fatal("created_at not parsed")
	}
}
