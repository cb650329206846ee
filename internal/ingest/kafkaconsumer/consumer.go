// Package kafkaconsumer feeds geometry ingest events from Kafka into the
// ingest coordinator.
package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"github.com/tilegrid-io/tilegrid/internal/core/model"
	obs "github.com/tilegrid-io/tilegrid/internal/core/observability"
)

// Ingestor is the slice of the ingest coordinator the consumer needs.
type Ingestor interface {
	Ingest(ctx context.Context, g model.Geometry) (model.CommitResult, error)
}

// BBox is the wire form of a bounding box in ingest events.
type BBox struct {
	X1   float64 `json:"x1"`
	Y1   float64 `json:"y1"`
	X2   float64 `json:"x2"`
	Y2   float64 `json:"y2"`
	SRID string  `json:"srid,omitempty"`
}

// Event is one geometry ingest message. Version increases per row; stale
// or replayed versions are dropped.
type Event struct {
	RowID   string          `json:"row_id"`
	Version uint64          `json:"version"`
	BBox    *BBox           `json:"bbox,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type Consumer struct {
	cfg      Config
	logger   *slog.Logger
	ingestor Ingestor
	dedupe   *versionDedupe
}

func New(cfg Config, logger *slog.Logger, ing Ingestor) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &Consumer{
		cfg:      cfg,
		logger:   logger,
		ingestor: ing,
		dedupe:   newVersionDedupe(cfg.DedupeSize),
	}
}

// Start consumes ingest events until the context is canceled.
func (c *Consumer) Start(ctx context.Context) error {
	if c.ingestor == nil {
		return errors.New("kafkaconsumer: missing ingestor")
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.Consumer.Group.Session.Timeout = c.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = c.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = c.cfg.RebalanceTimeout
	if c.cfg.InitialOffsetOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Offsets.AutoCommit.Enable = true

	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}
	defer func() { _ = group.Close() }()

	handler := &groupHandler{process: c.ProcessOne}

	c.logger.Info("kafka ingest consumer starting",
		"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "group", c.cfg.GroupID)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("kafka ingest consumer shutting down")
			return nil
		default:
			if err := group.Consume(ctx, []string{c.cfg.Topic}, handler); err != nil {
				c.logger.Error("consumer error", "err", err)
				time.Sleep(2 * time.Second)
			}
		}
	}
}

// ProcessOne handles a single ingest event. Decode and validation problems
// are logged and skipped; store-side failures are returned so the message
// is redelivered.
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var ev Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		obs.IncKafkaConsumerError("decode")
		c.logger.Error("undecodable ingest event",
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "err", err)
		return nil
	}
	if ev.RowID == "" {
		obs.IncKafkaConsumerError("missing_row_id")
		c.logger.Error("ingest event without row_id",
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset)
		return nil
	}
	if !c.dedupe.shouldApply(ev.RowID, ev.Version) {
		c.logger.Debug("stale ingest event dropped", "row_id", ev.RowID, "version", ev.Version)
		return nil
	}

	g := model.Geometry{ID: ev.RowID, Payload: ev.Payload}
	if ev.BBox != nil {
		g.BBox = &model.BBox{X1: ev.BBox.X1, Y1: ev.BBox.Y1, X2: ev.BBox.X2, Y2: ev.BBox.Y2, SRID: ev.BBox.SRID}
	}

	res, err := c.ingestor.Ingest(ctx, g)
	switch {
	case err == nil:
		c.dedupe.markApplied(ev.RowID, ev.Version)
		c.logger.Debug("event ingested",
			"row_id", res.RowID, "partition", res.Partition, "fallback", res.Fallback)
		return nil
	case errors.Is(err, model.ErrReferenceSystemMismatch):
		// configuration problem, not a transient store error; skipping
		// would silently drop rows, so surface it and stop the claim.
		obs.IncKafkaConsumerError("srid_mismatch")
		return fmt.Errorf("ingest event %q: %w", ev.RowID, err)
	default:
		obs.IncKafkaConsumerError("ingest")
		return fmt.Errorf("ingest event %q: %w", ev.RowID, err)
	}
}
