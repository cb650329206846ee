// Package config loads engine configuration from the environment.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

type KafkaCfg struct {
	Enabled bool
	Brokers []string
	Topic   string
	GroupID string
}

type Config struct {
	Addr     string
	LogLevel string

	// GridEdge and GridSRID have no defaults on purpose: the tile grid
	// must be configured explicitly and match the stored geometries.
	GridEdge float64
	GridSRID string

	GeometryColumn string
	MaxQueryTiles  int64
	QueryWorkers   int
	QueryPad       float64
	ScanTimeout    time.Duration

	RedisAddr      string
	HydrateCatalog bool

	Kafka KafkaCfg
}

func FromEnv() Config {
	return Config{
		Addr:     getenv("ADDR", ":8091"),
		LogLevel: getenv("LOG_LEVEL", "info"),

		GridEdge: getfloat("GRID_EDGE", 0),
		GridSRID: os.Getenv("GRID_SRID"),

		GeometryColumn: getenv("GEOMETRY_COLUMN", "geom"),
		MaxQueryTiles:  int64(getint("MAX_QUERY_TILES", 10000)),
		QueryWorkers:   getint("QUERY_WORKERS", 8),
		QueryPad:       getfloat("QUERY_PAD", 0),
		ScanTimeout:    getduration("SCAN_TIMEOUT", 0),

		RedisAddr:      os.Getenv("REDIS_ADDR"),
		HydrateCatalog: getbool("HYDRATE_CATALOG", false),

		Kafka: KafkaCfg{
			Enabled: getbool("KAFKA_ENABLED", false),
			Brokers: splitCSV(getenv("KAFKA_BROKERS", "localhost:9092")),
			Topic:   getenv("KAFKA_TOPIC", "geometry-ingest"),
			GroupID: getenv("KAFKA_GROUP_ID", "tilegrid-ingest"),
		},
	}
}

// Validate rejects configurations the engine refuses to guess at.
func (c Config) Validate() error {
	if c.GridEdge <= 0 {
		return errors.New("GRID_EDGE must be set to a positive tile edge length")
	}
	if strings.TrimSpace(c.GridSRID) == "" {
		return errors.New("GRID_SRID must be set to the grid's reference system")
	}
	if c.MaxQueryTiles <= 0 {
		return errors.New("MAX_QUERY_TILES must be positive")
	}
	return nil
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
