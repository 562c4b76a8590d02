package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

// OutboxStore is the relay's view of the outbox table.
type OutboxStore interface {
	ClaimUnpublished(ctx context.Context, limit int) ([]OutboxEntry, error)
	MarkPublished(ctx context.Context, ids []string, at time.Time) error
}

// Producer is the subset of *kgo.Client the relay needs.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type RelayMetrics interface {
	AddOutboxRelayed(n int)
}

// Relay ships outbox rows to Kafka. Rows are claimed and stamped in one
// transaction, so a failed produce leaves them for the next tick.
type Relay struct {
	store    OutboxStore
	tx       TxRunner
	producer Producer
	topic    string
	batch    int
	interval time.Duration
	logger   *slog.Logger
	metrics  RelayMetrics
}

type RelayOption func(*Relay)

func WithRelayLogger(logger *slog.Logger) RelayOption {
	return func(r *Relay) { r.logger = logger }
}

func WithRelayMetrics(m RelayMetrics) RelayOption {
	return func(r *Relay) { r.metrics = m }
}

func WithBatchSize(n int) RelayOption {
	return func(r *Relay) {
		if n > 0 {
			r.batch = n
		}
	}
}

func WithInterval(d time.Duration) RelayOption {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

func NewRelay(store OutboxStore, tx TxRunner, producer Producer, topic string, opts ...RelayOption) *Relay {
	r := &Relay{
		store:    store,
		tx:       tx,
		producer: producer,
		topic:    topic,
		batch:    100,
		interval: 2 * time.Second,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run relays on every tick until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.RelayOnce(ctx); err != nil && ctx.Err() == nil {
				r.logger.WarnContext(ctx, "outbox relay failed", "error", err)
			}
		}
	}
}

// RelayOnce publishes one batch and returns how many rows were shipped.
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	var shipped int
	err := r.tx.RunInTx(ctx, func(ctx context.Context) error {
		entries, err := r.store.ClaimUnpublished(ctx, r.batch)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}
		records := make([]*kgo.Record, 0, len(entries))
		ids := make([]string, 0, len(entries))
		for _, e := range entries {
			records = append(records, &kgo.Record{
				Topic: r.topic,
				Key:   []byte(e.AggregateID),
				Value: e.Payload,
				Headers: []kgo.RecordHeader{
					{Key: "event_type", Value: []byte(e.EventType)},
					{Key: "outbox_id", Value: []byte(e.ID)},
				},
			})
			ids = append(ids, e.ID)
		}
		if err := r.producer.ProduceSync(ctx, records...).FirstErr(); err != nil {
			return fmt.Errorf("produce audit records: %w", err)
		}
		if err := r.store.MarkPublished(ctx, ids, time.Now().UTC()); err != nil {
			return err
		}
		shipped = len(entries)
		return nil
	})
	if err != nil {
		return 0, err
	}
	if shipped > 0 && r.metrics != nil {
		r.metrics.AddOutboxRelayed(shipped)
	}
	return shipped, nil
}
