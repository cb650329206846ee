package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/tilegrid-io/tilegrid/internal/core/config"
	"github.com/tilegrid-io/tilegrid/internal/core/observability"
	"github.com/tilegrid-io/tilegrid/internal/core/server"
	"github.com/tilegrid-io/tilegrid/internal/engine"
	"github.com/tilegrid-io/tilegrid/internal/ingest/kafkaconsumer"
	"github.com/tilegrid-io/tilegrid/internal/logger"
	"github.com/tilegrid-io/tilegrid/internal/store"
	"github.com/tilegrid-io/tilegrid/internal/store/memstore"
	"github.com/tilegrid-io/tilegrid/internal/store/redisstore"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.FromEnv()

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   strings.ToLower(os.Getenv("LOG_CONSOLE")) == "true",
		Component: "tilegridd",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	if err := cfg.Validate(); err != nil {
		appLog.Error("invalid configuration", "err", err)
		return 1
	}

	observability.ExposeBuildInfo(Version)
	appLog.Info("starting tilegridd",
		"addr", cfg.Addr,
		"version", Version,
		"grid_edge", cfg.GridEdge,
		"grid_srid", cfg.GridSRID)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var st store.Store
	if cfg.RedisAddr != "" {
		rc, err := redisstore.New(ctx, cfg.RedisAddr)
		if err != nil {
			appLog.Error("redis store init failed", "err", err)
			return 1
		}
		defer func() { _ = rc.Close() }()
		st = rc
	} else {
		appLog.Warn("REDIS_ADDR unset, using in-memory store")
		st = memstore.New()
	}

	eng, err := engine.New(ctx, engine.Config{
		Edge:           cfg.GridEdge,
		SRID:           cfg.GridSRID,
		GeometryColumn: cfg.GeometryColumn,
		MaxQueryTiles:  cfg.MaxQueryTiles,
		QueryWorkers:   cfg.QueryWorkers,
		QueryPad:       cfg.QueryPad,
		ScanTimeout:    cfg.ScanTimeout,
		Hydrate:        cfg.HydrateCatalog,
	}, st, appLog)
	if err != nil {
		appLog.Error("engine init failed", "err", err)
		return 1
	}

	if cfg.Kafka.Enabled {
		consumer := kafkaconsumer.New(kafkaconsumer.Config{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
			GroupID: cfg.Kafka.GroupID,
		}, appLog, eng)
		go func() {
			if err := consumer.Start(ctx); err != nil {
				appLog.Error("kafka ingest consumer stopped", "err", err)
				stop()
			}
		}()
	}

	if err := server.Run(ctx, cfg, appLog, eng); err != nil {
		appLog.Error("server error", "err", err)
		return 1
	}
	return 0
}
