package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tilegrid-io/tilegrid/internal/core/model"
	"github.com/tilegrid-io/tilegrid/internal/core/observability"
	"github.com/tilegrid-io/tilegrid/internal/store"
)

const (
	metaSuffix = ":meta"
	rowsSuffix = ":rows"
	keyPrefix  = "part:"
)

func metaKey(name string) string { return keyPrefix + name + metaSuffix }
func rowsKey(name string) string { return keyPrefix + name + rowsSuffix }

func (c *Client) CreatePartition(ctx context.Context, name string, schema store.Schema) error {
	start := time.Now()
	// HSETNX on created_at makes concurrent creates converge on one owner.
	created, err := c.rdb.HSetNX(ctx, metaKey(name), "created_at", time.Now().UTC().Format(time.RFC3339Nano)).Result()
	observability.ObserveStoreOp("create_partition", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis create partition %q: %w", name, err)
	}
	if !created {
		return nil // already exists
	}
	if err := c.rdb.HSet(ctx, metaKey(name), "geometry_column", schema.GeometryColumn, "indexed", "0").Err(); err != nil {
		return fmt.Errorf("redis init partition meta %q: %w", name, err)
	}
	return nil
}

func (c *Client) CreateSpatialIndex(ctx context.Context, name, column string) error {
	start := time.Now()
	exists, err := c.rdb.Exists(ctx, metaKey(name)).Result()
	if err == nil && exists == 0 {
		err = fmt.Errorf("index %q on %q: %w", column, name, store.ErrNoPartition)
	}
	if err == nil {
		err = c.rdb.HSet(ctx, metaKey(name), "indexed", "1", "index_column", column).Err()
	}
	observability.ObserveStoreOp("create_index", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis create index on %q: %w", name, err)
	}
	return nil
}

func (c *Client) WriteRow(ctx context.Context, name string, row store.Row) error {
	start := time.Now()
	err := c.writeRow(ctx, name, row)
	observability.ObserveStoreOp("write_row", err, time.Since(start).Seconds())
	return err
}

func (c *Client) writeRow(ctx context.Context, name string, row store.Row) error {
	exists, err := c.rdb.Exists(ctx, metaKey(name)).Result()
	if err != nil {
		return fmt.Errorf("redis write to %q: %w", name, err)
	}
	if exists == 0 {
		return fmt.Errorf("write to %q: %w", name, store.ErrNoPartition)
	}
	payload, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("encode row %q: %w", row.ID, err)
	}
	if err := c.rdb.HSet(ctx, rowsKey(name), row.ID, payload).Err(); err != nil {
		return fmt.Errorf("redis write to %q: %w", name, err)
	}
	return nil
}

func (c *Client) ScanIntersecting(ctx context.Context, name string, window model.BBox) ([]model.RowRef, error) {
	start := time.Now()
	refs, err := c.scanIntersecting(ctx, name, window)
	observability.ObserveStoreOp("scan", err, time.Since(start).Seconds())
	return refs, err
}

func (c *Client) scanIntersecting(ctx context.Context, name string, window model.BBox) ([]model.RowRef, error) {
	exists, err := c.rdb.Exists(ctx, metaKey(name)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis scan %q: %w", name, err)
	}
	if exists == 0 {
		return nil, fmt.Errorf("scan %q: %w", name, store.ErrNoPartition)
	}

	raw, err := c.rdb.HGetAll(ctx, rowsKey(name)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis scan %q: %w", name, err)
	}
	var out []model.RowRef
	for id, v := range raw {
		var row store.Row
		if err := json.Unmarshal([]byte(v), &row); err != nil {
			return nil, fmt.Errorf("decode row %q in %q: %w", id, name, err)
		}
		if row.BBox != nil && row.BBox.Intersects(window) {
			out = append(out, model.RowRef{ID: row.ID, Partition: name})
		}
	}
	return out, nil
}

func (c *Client) ListPartitions(ctx context.Context) ([]store.PartitionMeta, error) {
	start := time.Now()
	metas, err := c.listPartitions(ctx)
	observability.ObserveStoreOp("list_partitions", err, time.Since(start).Seconds())
	return metas, err
}

func (c *Client) listPartitions(ctx context.Context) ([]store.PartitionMeta, error) {
	var out []store.PartitionMeta
	iter := c.rdb.Scan(ctx, 0, keyPrefix+"*"+metaSuffix, 256).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		name := strings.TrimSuffix(strings.TrimPrefix(key, keyPrefix), metaSuffix)
		meta, err := c.rdb.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("redis read meta %q: %w", key, err)
		}
		m := store.PartitionMeta{
			PhysicalName: name,
			Indexed:      meta["indexed"] == "1",
		}
		if ts := meta["created_at"]; ts != "" {
			if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
				m.CreatedAt = t
			}
		}
		out = append(out, m)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan partitions: %w", err)
	}
	return out, nil
}

var (
	_ store.Store  = (*Client)(nil)
	_ store.Lister = (*Client)(nil)
)
