package catalog

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/tilegrid-io/tilegrid/internal/core/model"
	"github.com/tilegrid-io/tilegrid/internal/grid"
	"github.com/tilegrid-io/tilegrid/internal/store"
)

// fakeStore counts physical operations and can fail on demand.
type fakeStore struct {
	mu          sync.Mutex
	creates     map[string]int
	indexes     map[string]int
	failCreate  map[string]error
	failIndex   map[string]error
	createDelay time.Duration
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		creates:    make(map[string]int),
		indexes:    make(map[string]int),
		failCreate: make(map[string]error),
		failIndex:  make(map[string]error),
	}
}

func (f *fakeStore) CreatePartition(_ context.Context, name string, _ store.Schema) error {
	if f.createDelay > 0 {
		time.Sleep(f.createDelay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failCreate[name]; err != nil {
		return err
	}
	f.creates[name]++
	return nil
}

func (f *fakeStore) CreateSpatialIndex(_ context.Context, name, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failIndex[name]; err != nil {
		return err
	}
	f.indexes[name]++
	return nil
}

func (f *fakeStore) WriteRow(context.Context, string, store.Row) error { return nil }

func (f *fakeStore) ScanIntersecting(context.Context, string, model.BBox) ([]model.RowRef, error) {
	return nil, nil
}

func (f *fakeStore) createCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creates[name]
}

func newCatalog(t *testing.T, fs *fakeStore) *Catalog {
	t.Helper()
	c, err := New(context.Background(), fs, store.Schema{GeometryColumn: "geom"}, slog.Default())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestNew_CreatesDefaultPartition(t *testing.T) {
	fs := newFakeStore()
	c := newCatalog(t, fs)

	def := c.Default()
	if def.TileKey != DefaultTileKey || !def.Indexed {
		t.Fatalf("default record = %+v", def)
	}
	if fs.createCount(def.PhysicalName) != 1 {
		t.Fatalf("default partition created %d times", fs.createCount(def.PhysicalName))
	}
}

func TestNew_FailsWhenDefaultCannotBeCreated(t *testing.T) {
	fs := newFakeStore()
	fs.failCreate[PhysicalName(DefaultTileKey)] = errors.New("disk full")
	if _, err := New(context.Background(), fs, store.Schema{}, slog.Default()); err == nil {
		t.Fatal("expected error")
	}
}

func TestEnsurePartition_Idempotent(t *testing.T) {
	fs := newFakeStore()
	c := newCatalog(t, fs)

	first, err := c.EnsurePartition(context.Background(), "0_2")
	if err != nil {
		t.Fatalf("EnsurePartition: %v", err)
	}
	if !first.Indexed || first.PhysicalName != PhysicalName("0_2") {
		t.Fatalf("record = %+v", first)
	}

	second, err := c.EnsurePartition(context.Background(), "0_2")
	if err != nil {
		t.Fatalf("EnsurePartition: %v", err)
	}
	if second != first {
		t.Fatalf("records differ: %+v vs %+v", second, first)
	}
	if n := fs.createCount(PhysicalName("0_2")); n != 1 {
		t.Fatalf("partition created %d times, want 1", n)
	}
}

func TestEnsurePartition_ConcurrentSameKeyCreatesOnce(t *testing.T) {
	fs := newFakeStore()
	fs.createDelay = 2 * time.Millisecond
	c := newCatalog(t, fs)

	const goroutines = 32
	var wg sync.WaitGroup
	wg.Add(goroutines)
	errs := make(chan error, goroutines)
	for range goroutines {
		go func() {
			defer wg.Done()
			if _, err := c.EnsurePartition(context.Background(), "7_n3"); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("EnsurePartition: %v", err)
	}

	if n := fs.createCount(PhysicalName("7_n3")); n != 1 {
		t.Fatalf("partition created %d times, want 1", n)
	}
	if len(c.ListAll()) != 2 { // default + 7_n3
		t.Fatalf("catalog has %d records, want 2", len(c.ListAll()))
	}
}

func TestEnsurePartition_CreateFailureNotPublished(t *testing.T) {
	fs := newFakeStore()
	c := newCatalog(t, fs)

	fs.failIndex[PhysicalName("3_3")] = errors.New("index build refused")
	_, err := c.EnsurePartition(context.Background(), "3_3")
	if !errors.Is(err, model.ErrPartitionCreateFailed) {
		t.Fatalf("err = %v, want ErrPartitionCreateFailed", err)
	}
	if _, ok := c.Get("3_3"); ok {
		t.Fatal("failed partition must not be published")
	}

	// A later attempt succeeds once the store recovers.
	delete(fs.failIndex, PhysicalName("3_3"))
	rec, err := c.EnsurePartition(context.Background(), "3_3")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if !rec.Indexed {
		t.Fatalf("record = %+v", rec)
	}
}

func TestLookupPartitions_OnlyExistingTiles(t *testing.T) {
	fs := newFakeStore()
	c := newCatalog(t, fs)

	if _, err := c.EnsurePartition(context.Background(), "0_2"); err != nil {
		t.Fatalf("EnsurePartition: %v", err)
	}

	coords := []grid.Coord{{TX: 0, TY: 2}, {TX: 1, TY: 2}}
	recs := c.LookupPartitions(coords)
	if len(recs) != 1 || recs[0].TileKey != "0_2" {
		t.Fatalf("lookup = %+v, want only 0_2", recs)
	}
	for _, r := range recs {
		if !r.Indexed {
			t.Fatalf("lookup returned unindexed record %+v", r)
		}
	}
}

func TestListAll_SortedWithDefault(t *testing.T) {
	fs := newFakeStore()
	c := newCatalog(t, fs)

	for _, k := range []string{"1_0", "0_0", "n1_5"} {
		if _, err := c.EnsurePartition(context.Background(), k); err != nil {
			t.Fatalf("EnsurePartition(%s): %v", k, err)
		}
	}
	all := c.ListAll()
	if len(all) != 4 {
		t.Fatalf("ListAll returned %d records, want 4", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i-1].TileKey > all[i].TileKey {
			t.Fatalf("ListAll not sorted: %q before %q", all[i-1].TileKey, all[i].TileKey)
		}
	}
}

type fakeLister struct {
	metas []store.PartitionMeta
}

func (l *fakeLister) ListPartitions(context.Context) ([]store.PartitionMeta, error) {
	return l.metas, nil
}

func TestHydrate_SkipsUnindexedAndForeign(t *testing.T) {
	fs := newFakeStore()
	c := newCatalog(t, fs)

	lister := &fakeLister{metas: []store.PartitionMeta{
		{PhysicalName: PhysicalName("4_4"), Indexed: true, CreatedAt: time.Now()},
		{PhysicalName: PhysicalName("5_5"), Indexed: false},
		{PhysicalName: PhysicalName(DefaultTileKey), Indexed: true},
		{PhysicalName: "unrelated_table", Indexed: true},
	}}
	if err := c.Hydrate(context.Background(), lister); err != nil {
		t.Fatalf("Hydrate: %v", err)
	}

	if _, ok := c.Get("4_4"); !ok {
		t.Fatal("indexed partition 4_4 not hydrated")
	}
	if _, ok := c.Get("5_5"); ok {
		t.Fatal("unindexed partition 5_5 must stay invisible")
	}
	if len(c.ListAll()) != 2 {
		t.Fatalf("catalog has %d records, want 2", len(c.ListAll()))
	}
}
