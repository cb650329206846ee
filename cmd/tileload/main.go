// tileload generates ingest and query load against a running tilegridd,
// either over HTTP or by producing ingest events to Kafka.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/IBM/sarama"
)

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getint(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

type bbox struct {
	X1   float64 `json:"x1"`
	Y1   float64 `json:"y1"`
	X2   float64 `json:"x2"`
	Y2   float64 `json:"y2"`
	SRID string  `json:"srid,omitempty"`
}

type geometry struct {
	ID      string          `json:"id"`
	BBox    *bbox           `json:"bbox,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type ingestEvent struct {
	RowID   string `json:"row_id"`
	Version uint64 `json:"version"`
	BBox    *bbox  `json:"bbox,omitempty"`
}

func randomBox(rng *rand.Rand, extent, maxSize float64, srid string) *bbox {
	x := (rng.Float64()*2 - 1) * extent
	y := (rng.Float64()*2 - 1) * extent
	w := rng.Float64() * maxSize
	h := rng.Float64() * maxSize
	return &bbox{X1: x, Y1: y, X2: x + w, Y2: y + h, SRID: srid}
}

func ingestHTTP(target, srid string, rows int, extent, maxSize float64) error {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	client := &http.Client{Timeout: 10 * time.Second}

	start := time.Now()
	for i := range rows {
		g := geometry{
			ID:   fmt.Sprintf("load-%d-%d", start.UnixNano(), i),
			BBox: randomBox(rng, extent, maxSize, srid),
		}
		body, _ := json.Marshal(g)
		resp, err := client.Post(strings.TrimRight(target, "/")+"/ingest", "application/json", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("ingest %d: %w", i, err)
		}
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			_ = resp.Body.Close()
			return fmt.Errorf("ingest %d: status %d: %s", i, resp.StatusCode, string(b))
		}
		_ = resp.Body.Close()
	}
	fmt.Printf("ingested %d rows in %s\n", rows, time.Since(start))
	return nil
}

func queryHTTP(target, srid string, queries int, extent, maxSize float64) error {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + 1))
	client := &http.Client{Timeout: 30 * time.Second}

	var total time.Duration
	for i := range queries {
		b := randomBox(rng, extent, maxSize, srid)
		u := fmt.Sprintf("%s/query?bbox=%g,%g,%g,%g,%s",
			strings.TrimRight(target, "/"), b.X1, b.Y1, b.X2, b.Y2, srid)
		start := time.Now()
		resp, err := client.Get(u)
		if err != nil {
			return fmt.Errorf("query %d: %w", i, err)
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		total += time.Since(start)
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("query %d: status %d", i, resp.StatusCode)
		}
	}
	fmt.Printf("%d queries, avg %s\n", queries, total/time.Duration(queries))
	return nil
}

func produceKafka(brokers []string, topic, srid string, rows int, extent, maxSize float64) error {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	prod, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return fmt.Errorf("kafka producer: %w", err)
	}
	defer func() { _ = prod.Close() }()

	rng := rand.New(rand.NewSource(time.Now().UnixNano() + 2))
	start := time.Now()
	for i := range rows {
		ev := ingestEvent{
			RowID:   fmt.Sprintf("kload-%d-%d", start.UnixNano(), i),
			Version: 1,
			BBox:    randomBox(rng, extent, maxSize, srid),
		}
		body, _ := json.Marshal(ev)
		_, _, err := prod.SendMessage(&sarama.ProducerMessage{
			Topic: topic,
			Key:   sarama.StringEncoder(ev.RowID),
			Value: sarama.ByteEncoder(body),
		})
		if err != nil {
			return fmt.Errorf("send %d: %w", i, err)
		}
	}
	fmt.Printf("produced %d ingest events in %s\n", rows, time.Since(start))
	return nil
}

func main() {
	target := getenv("TARGET", "http://localhost:8091")
	srid := getenv("GRID_SRID", "EPSG:3006")
	rows := getint("ROWS", 1000)
	queries := getint("QUERIES", 100)
	extent := float64(getint("EXTENT", 500000))
	maxSize := float64(getint("MAX_SIZE", 20000))

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		topic := getenv("KAFKA_TOPIC", "geometry-ingest")
		if err := produceKafka(strings.Split(brokers, ","), topic, srid, rows, extent, maxSize); err != nil {
			fmt.Fprintln(os.Stderr, "kafka load failed:", err)
			os.Exit(1)
		}
		return
	}

	if err := ingestHTTP(target, srid, rows, extent, maxSize); err != nil {
		fmt.Fprintln(os.Stderr, "ingest load failed:", err)
		os.Exit(1)
	}
	if err := queryHTTP(target, srid, queries, extent, maxSize); err != nil {
		fmt.Fprintln(os.Stderr, "query load failed:", err)
		os.Exit(1)
	}
}
