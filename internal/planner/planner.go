// Package planner executes spatial queries: route to candidate partitions,
// run one exact intersection scan per partition, merge. Tile membership is
// a pruning filter only; the store's scan applies the real predicate.
package planner

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/tilegrid-io/tilegrid/internal/catalog"
	"github.com/tilegrid-io/tilegrid/internal/core/model"
	"github.com/tilegrid-io/tilegrid/internal/core/observability"
	"github.com/tilegrid-io/tilegrid/internal/router"
	"github.com/tilegrid-io/tilegrid/internal/store"
)

const defaultWorkers = 8

type Planner struct {
	logger  *slog.Logger
	router  *router.Router
	store   store.Store
	workers int

	// pad widens each query window's min corner so features spanning in
	// from lower tiles stay routable; see router.Options.Pad.
	pad float64

	// scanTimeout bounds the whole fan-out. Partial results under
	// timeout are discarded: either every candidate scan completes or
	// the query fails as a whole.
	scanTimeout time.Duration
}

func New(r *router.Router, st store.Store, workers int, pad float64, scanTimeout time.Duration, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &Planner{logger: logger, router: r, store: st, workers: workers, pad: pad, scanTimeout: scanTimeout}
}

type scanResult struct {
	refs []model.RowRef
	err  error
}

// Plan returns every stored row whose geometry intersects the window,
// de-duplicated by row id. Routing errors (including ErrQueryTooBroad) and
// scan errors surface whole; the planner never returns a silently
// incomplete result set.
func (p *Planner) Plan(ctx context.Context, window model.BBox) ([]model.RowRef, error) {
	start := time.Now()

	cands, err := p.router.Route(window, router.Options{Pad: p.pad})
	if err != nil {
		return nil, err
	}

	if p.scanTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.scanTimeout)
		defer cancel()
	}

	refs, err := p.scanAll(ctx, cands.Partitions, window)
	if err != nil {
		return nil, err
	}

	p.logger.Debug("query planned",
		"tiles", len(cands.Coords),
		"partitions", len(cands.Partitions),
		"rows", len(refs),
		"dur", time.Since(start).String())
	return refs, nil
}

func (p *Planner) scanAll(ctx context.Context, parts []catalog.Record, window model.BBox) ([]model.RowRef, error) {
	if len(parts) == 0 {
		return nil, nil
	}

	jobs := make(chan catalog.Record, len(parts))
	results := make(chan scanResult, len(parts))

	workerN := p.workers
	if workerN > len(parts) {
		workerN = len(parts)
	}

	var wg sync.WaitGroup
	wg.Add(workerN)
	for range workerN {
		go func() {
			defer wg.Done()
			for rec := range jobs {
				select {
				case <-ctx.Done():
					results <- scanResult{err: ctx.Err()}
					continue
				default:
				}
				scanStart := time.Now()
				refs, err := p.store.ScanIntersecting(ctx, rec.PhysicalName, window)
				observability.ObserveScan(err, time.Since(scanStart).Seconds())
				if err != nil {
					err = fmt.Errorf("scan %q: %w", rec.PhysicalName, err)
				}
				results <- scanResult{refs: refs, err: err}
			}
		}()
	}

	for _, rec := range parts {
		jobs <- rec
	}
	close(jobs)
	wg.Wait()
	close(results)

	// Rows live in exactly one partition by construction; dedupe guards
	// against catalog inconsistency rather than an expected case.
	seen := make(map[string]struct{})
	var merged []model.RowRef
	var firstErr error
	for res := range results {
		if res.err != nil {
			if firstErr == nil {
				firstErr = res.err
			}
			continue
		}
		for _, ref := range res.refs {
			if _, ok := seen[ref.ID]; ok {
				continue
			}
			seen[ref.ID] = struct{}{}
			merged = append(merged, ref)
		}
	}
	if firstErr != nil {
		return nil, firstErr
	}

	sort.Slice(merged, func(i, j int) bool { return merged[i].ID < merged[j].ID })
	return merged, nil
}
