//go:build integration

package kafka_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"keystone/internal/platform/config"
	"keystone/internal/platform/kafka"
	"keystone/internal/platform/kafka/consumer"
	"keystone/pkg/testutil/containers"
)

type captureHandler chan *consumer.Message

func (c captureHandler) Handle(_ context.Context, msg *consumer.Message) error {
	c <- msg
	return nil
}

func TestEvidenceRoundTrip(t *testing.T) {
	rp := containers.GetManager().GetRedpanda(t)
	suffix := uuid.NewString()[:8]
	cfg := config.Kafka{
		Brokers:       []string{rp.Broker},
		ConsumerGroup: "keystone-it-" + suffix,
		EvidenceTopic: "keystone.evidence." + suffix,
		AuditTopic:    "keystone.audit." + suffix,
		Partitions:    1,
		Replication:   1,
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	producer, err := kafka.NewProducer(cfg)
	require.NoError(t, err)
	defer producer.Close()
	require.NoError(t, kafka.EnsureTopics(ctx, producer, cfg))
	require.NoError(t, kafka.EnsureTopics(ctx, producer, cfg), "existing topics are not an error")

	record := &kgo.Record{
		Topic:   cfg.EvidenceTopic,
		Key:     []byte("member-1"),
		Value:   []byte(`{"id":"evt-1","type":"promotion.meeting_completed"}`),
		Headers: []kgo.RecordHeader{{Key: "source", Value: []byte("it")}},
	}
	require.NoError(t, producer.ProduceSync(ctx, record).FirstErr())

	client, err := kafka.NewConsumer(cfg, cfg.EvidenceTopic)
	require.NoError(t, err)
	defer client.Close()

	got := make(captureHandler, 1)
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- consumer.New(client, got, logger).Run(runCtx) }()

	select {
	case msg := <-got:
		assert.Equal(t, "member-1", string(msg.Key))
		assert.JSONEq(t, string(record.Value), string(msg.Value))
		assert.Equal(t, "it", msg.Headers["source"])
	case <-ctx.Done():
		t.Fatal("evidence record was not consumed")
	}
	stop()
	require.NoError(t, <-done)
}
