package redis

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keystone/internal/platform/config"
	"keystone/internal/platform/metrics"
)

func TestNewWithoutURL(t *testing.T) {
	client, err := New(context.Background(), config.RedisConfig{}, nil, nil)
	require.NoError(t, err)
	assert.Nil(t, client)
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := New(context.Background(), config.RedisConfig{URL: "://nope"}, nil, nil)
	assert.ErrorContains(t, err, "parse redis URL")
}

func TestObserverCountsFailedCommands(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()
	client.AddHook(observer{metrics: m})

	err := client.SetNX(context.Background(), "k", "v", time.Minute).Err()
	require.Error(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RedisErrors.WithLabelValues("setnx")))
}
