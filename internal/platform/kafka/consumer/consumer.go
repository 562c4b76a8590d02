package consumer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

// Message is one consumed record, detached from the client types.
type Message struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Timestamp time.Time
}

// Handler processes a message. Errors are treated as transient and retried;
// handlers return nil for messages that can never succeed.
type Handler interface {
	Handle(ctx context.Context, msg *Message) error
}

// Client is the subset of *kgo.Client the consumer uses.
type Client interface {
	PollFetches(ctx context.Context) kgo.Fetches
	CommitRecords(ctx context.Context, rs ...*kgo.Record) error
}

// Consumer polls records and hands them to a Handler one at a time.
type Consumer struct {
	client      Client
	handler     Handler
	logger      *slog.Logger
	backoff     time.Duration
	maxAttempts int
}

type Option func(*Consumer)

// WithRetry sets how often a failing message is attempted and the base delay
// between attempts.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(c *Consumer) {
		if attempts > 0 {
			c.maxAttempts = attempts
		}
		c.backoff = backoff
	}
}

func New(client Client, handler Handler, logger *slog.Logger, opts ...Option) *Consumer {
	c := &Consumer{
		client:      client,
		handler:     handler,
		logger:      logger,
		backoff:     500 * time.Millisecond,
		maxAttempts: 3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run consumes until ctx is cancelled or the client is closed. Records of a
// partition are processed in order. A record whose handler keeps failing is
// logged and committed after maxAttempts so it cannot wedge the partition.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return nil
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			if errors.Is(err, context.Canceled) {
				return
			}
			c.logger.WarnContext(ctx, "kafka fetch error",
				"topic", topic,
				"partition", partition,
				"error", err,
			)
		})
		fetches.EachRecord(func(record *kgo.Record) {
			c.process(ctx, record)
		})
	}
}

func (c *Consumer) process(ctx context.Context, record *kgo.Record) {
	msg := toMessage(record)
	var err error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err = c.handler.Handle(ctx, msg); err == nil {
			break
		}
		c.logger.WarnContext(ctx, "message handling failed",
			"topic", msg.Topic,
			"partition", msg.Partition,
			"offset", msg.Offset,
			"attempt", attempt,
			"error", err,
		)
		if attempt < c.maxAttempts {
			if sleep(ctx, c.backoff*time.Duration(attempt)) != nil {
				return
			}
		}
	}
	if err != nil {
		c.logger.ErrorContext(ctx, "dropping message after retries",
			"topic", msg.Topic,
			"partition", msg.Partition,
			"offset", msg.Offset,
			"key", string(msg.Key),
		)
	}
	if err := c.client.CommitRecords(ctx, record); err != nil {
		c.logger.WarnContext(ctx, "offset commit failed",
			"topic", msg.Topic,
			"offset", msg.Offset,
			"error", err,
		)
	}
}

func toMessage(r *kgo.Record) *Message {
	headers := make(map[string]string, len(r.Headers))
	for _, h := range r.Headers {
		headers[h.Key] = string(h.Value)
	}
	return &Message{
		Topic:     r.Topic,
		Partition: r.Partition,
		Offset:    r.Offset,
		Key:       r.Key,
		Value:     r.Value,
		Headers:   headers,
		Timestamp: r.Timestamp,
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
