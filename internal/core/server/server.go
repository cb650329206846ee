// Package server exposes the engine over HTTP: ingest, query, routing
// inspection, and partition administration.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tilegrid-io/tilegrid/internal/core/config"
	imw "github.com/tilegrid-io/tilegrid/internal/core/middleware"
	"github.com/tilegrid-io/tilegrid/internal/engine"
	"github.com/tilegrid-io/tilegrid/internal/health"
)

func newRouter(logger *slog.Logger, eng *engine.Engine) chi.Router {
	h := &handlers{logger: logger, eng: eng}

	r := chi.NewRouter()
	r.Use(imw.Recover())
	r.Use(imw.Logging(logger))

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(map[string]health.Check{"store": eng.Ready}))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.With(imw.Metrics("/ingest")).Post("/ingest", h.ingest)
	r.With(imw.Metrics("/query")).Get("/query", h.query)
	r.With(imw.Metrics("/route")).Get("/route", h.route)
	r.With(imw.Metrics("/partitions")).Get("/partitions", h.listPartitions)
	r.With(imw.Metrics("/partitions")).Post("/partitions/{tileKey}", h.ensurePartition)
	return r
}

func Run(ctx context.Context, cfg config.Config, logger *slog.Logger, eng *engine.Engine) error {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newRouter(logger, eng),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
