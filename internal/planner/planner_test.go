package planner

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/tilegrid-io/tilegrid/internal/catalog"
	"github.com/tilegrid-io/tilegrid/internal/core/model"
	"github.com/tilegrid-io/tilegrid/internal/grid"
	"github.com/tilegrid-io/tilegrid/internal/ingest"
	"github.com/tilegrid-io/tilegrid/internal/router"
	"github.com/tilegrid-io/tilegrid/internal/store"
	"github.com/tilegrid-io/tilegrid/internal/store/memstore"
)

const testSRID = "EPSG:3006"

type scanControlStore struct {
	*memstore.Store
	failScan  map[string]error
	scanDelay time.Duration
}

func newScanControlStore() *scanControlStore {
	return &scanControlStore{Store: memstore.New(), failScan: make(map[string]error)}
}

func (s *scanControlStore) ScanIntersecting(ctx context.Context, name string, w model.BBox) ([]model.RowRef, error) {
	if err := s.failScan[name]; err != nil {
		return nil, err
	}
	if s.scanDelay > 0 {
		select {
		case <-time.After(s.scanDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.Store.ScanIntersecting(ctx, name, w)
}

type fixture struct {
	planner *Planner
	coord   *ingest.Coordinator
	store   *scanControlStore
}

func setup(t *testing.T, workers int, pad float64, timeout time.Duration) *fixture {
	t.Helper()
	g, err := grid.New(50000, testSRID)
	if err != nil {
		t.Fatalf("grid.New: %v", err)
	}
	scs := newScanControlStore()
	cat, err := catalog.New(context.Background(), scs, store.Schema{GeometryColumn: "geom"}, slog.Default())
	if err != nil {
		t.Fatalf("catalog.New: %v", err)
	}
	r := router.New(g, cat, 10000)
	return &fixture{
		planner: New(r, scs, workers, pad, timeout, slog.Default()),
		coord:   ingest.New(g, cat, scs, slog.Default()),
		store:   scs,
	}
}

func (f *fixture) mustIngest(t *testing.T, id string, x1, y1, x2, y2 float64) {
	t.Helper()
	_, err := f.coord.Ingest(context.Background(), model.Geometry{
		ID:   id,
		BBox: &model.BBox{X1: x1, Y1: y1, X2: x2, Y2: y2, SRID: testSRID},
	})
	if err != nil {
		t.Fatalf("ingest %q: %v", id, err)
	}
}

func window(x1, y1, x2, y2 float64) model.BBox {
	return model.BBox{X1: x1, Y1: y1, X2: x2, Y2: y2, SRID: testSRID}
}

// A geometry straddling a tile boundary is stored once, in its min-corner
// tile, yet any window overlapping its extent must find it.
func TestPlan_StraddlingGeometryFoundFromBothSides(t *testing.T) {
	f := setup(t, 4, 0, 0)
	f.mustIngest(t, "A", 49990, 112030, 50010, 112050)

	refs, err := f.planner.Plan(context.Background(), window(49995, 112035, 50005, 112045))
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(refs) != 1 || refs[0].ID != "A" {
		t.Fatalf("refs = %+v, want exactly [A]", refs)
	}
	if refs[0].Partition != catalog.PhysicalName("0_2") {
		t.Fatalf("A found in %q, want its tile of record", refs[0].Partition)
	}

	// Window entirely on the low side of the boundary.
	refs, err = f.planner.Plan(context.Background(), window(49991, 112031, 49999, 112049))
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(refs) != 1 || refs[0].ID != "A" {
		t.Fatalf("refs = %+v, want exactly [A]", refs)
	}
}

func TestPlan_ExactIntersectionNotTileMembership(t *testing.T) {
	f := setup(t, 4, 0, 0)
	// Both in tile 0_0, only one inside the window.
	f.mustIngest(t, "near", 100, 100, 200, 200)
	f.mustIngest(t, "far", 40000, 40000, 41000, 41000)

	refs, err := f.planner.Plan(context.Background(), window(50, 50, 300, 300))
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(refs) != 1 || refs[0].ID != "near" {
		t.Fatalf("refs = %+v, want exactly [near]", refs)
	}
}

func TestPlan_FallbackRowsAreReachable(t *testing.T) {
	f := setup(t, 4, 0, 0)
	f.mustIngest(t, "A", 100, 100, 200, 200)

	// A geometry ingested with a bbox into the default partition would be
	// found there; a geometry without one is never a spatial match.
	if _, err := f.coord.Ingest(context.Background(), model.Geometry{ID: "no-geom"}); err != nil {
		t.Fatalf("ingest fallback: %v", err)
	}

	refs, err := f.planner.Plan(context.Background(), window(50, 50, 300, 300))
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(refs) != 1 || refs[0].ID != "A" {
		t.Fatalf("refs = %+v, want exactly [A]", refs)
	}
}

func TestPlan_MergesAcrossPartitionsSorted(t *testing.T) {
	f := setup(t, 2, 0, 0)
	f.mustIngest(t, "c", 10, 10, 20, 20)           // 0_0
	f.mustIngest(t, "a", 50010, 10, 50020, 20)     // 1_0
	f.mustIngest(t, "b", 100010, 10, 100020, 20)   // 2_0

	refs, err := f.planner.Plan(context.Background(), window(0, 0, 140000, 40000))
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(refs) != 3 {
		t.Fatalf("refs = %+v, want 3 rows", refs)
	}
	for i, want := range []string{"a", "b", "c"} {
		if refs[i].ID != want {
			t.Fatalf("refs[%d] = %q, want %q (sorted by id)", i, refs[i].ID, want)
		}
	}
}

func TestPlan_ScanErrorFailsWholeQuery(t *testing.T) {
	f := setup(t, 4, 0, 0)
	f.mustIngest(t, "ok", 10, 10, 20, 20)          // 0_0
	f.mustIngest(t, "doomed", 50010, 10, 50020, 20) // 1_0

	f.store.failScan[catalog.PhysicalName("1_0")] = errors.New("partition offline")

	refs, err := f.planner.Plan(context.Background(), window(0, 0, 90000, 40000))
	if err == nil {
		t.Fatalf("expected scan error, got refs %+v", refs)
	}
	if refs != nil {
		t.Fatalf("partial results leaked: %+v", refs)
	}
}

func TestPlan_TooBroadWindowFailsBeforeScanning(t *testing.T) {
	f := setup(t, 4, 0, 0)
	f.mustIngest(t, "A", 10, 10, 20, 20)

	_, err := f.planner.Plan(context.Background(), window(0, 0, 150*50000, 100*50000))
	if !errors.Is(err, model.ErrQueryTooBroad) {
		t.Fatalf("err = %v, want ErrQueryTooBroad", err)
	}
}

func TestPlan_TimeoutDiscardsPartialResults(t *testing.T) {
	f := setup(t, 1, 0, 5*time.Millisecond)
	f.mustIngest(t, "a", 10, 10, 20, 20)
	f.mustIngest(t, "b", 50010, 10, 50020, 20)
	f.store.scanDelay = 50 * time.Millisecond

	refs, err := f.planner.Plan(context.Background(), window(0, 0, 90000, 40000))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
	if refs != nil {
		t.Fatalf("partial results leaked: %+v", refs)
	}
}

func TestPlan_PadFindsWideFeatureFromNeighborWindow(t *testing.T) {
	f := setup(t, 4, 20000, 0)
	// Stored in 0_0; extends into 1_0.
	f.mustIngest(t, "wide", 40000, 10, 60000, 20)

	// Window wholly inside tile 1_0. Without the pad the candidate set
	// would miss tile 0_0 and the feature with it.
	refs, err := f.planner.Plan(context.Background(), window(55000, 5, 58000, 25))
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(refs) != 1 || refs[0].ID != "wide" {
		t.Fatalf("refs = %+v, want exactly [wide]", refs)
	}
}

func TestPlan_EmptyResult(t *testing.T) {
	f := setup(t, 4, 0, 0)

	refs, err := f.planner.Plan(context.Background(), window(10, 10, 20, 20))
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(refs) != 0 {
		t.Fatalf("refs = %+v, want none", refs)
	}
}
