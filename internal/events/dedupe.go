package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"keystone/pkg/platform/circuit"
)

// DedupeTTL is the default time a processed envelope ID is remembered.
const DedupeTTL = 24 * time.Hour

const dedupePrefix = "keystone:evidence:"

// Deduper claims envelope IDs so redelivered envelopes are skipped.
type Deduper interface {
	// Claim reports false when id was already claimed.
	Claim(ctx context.Context, id string) (bool, error)
	// Release forgets a claim so a failed envelope can be retried.
	Release(ctx context.Context, id string) error
}

type RedisDeduper struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisDeduper claims IDs with SET NX. A non-positive ttl uses DedupeTTL.
func NewRedisDeduper(client redis.Cmdable, ttl time.Duration) *RedisDeduper {
	if ttl <= 0 {
		ttl = DedupeTTL
	}
	return &RedisDeduper{client: client, ttl: ttl}
}

func (d *RedisDeduper) Claim(ctx context.Context, id string) (bool, error) {
	ok, err := d.client.SetNX(ctx, dedupePrefix+id, time.Now().UTC().Format(time.RFC3339), d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim envelope %s: %w", id, err)
	}
	return ok, nil
}

func (d *RedisDeduper) Release(ctx context.Context, id string) error {
	if err := d.client.Del(ctx, dedupePrefix+id).Err(); err != nil {
		return fmt.Errorf("release envelope %s: %w", id, err)
	}
	return nil
}

// GuardedDeduper fails open when the backing deduper keeps failing: once the
// breaker opens, envelopes are processed without a claim and rely on the
// services' own idempotency until the backend recovers.
type GuardedDeduper struct {
	next    Deduper
	breaker *circuit.Breaker
	logger  *slog.Logger
}

func NewGuardedDeduper(next Deduper, breaker *circuit.Breaker, logger *slog.Logger) *GuardedDeduper {
	return &GuardedDeduper{next: next, breaker: breaker, logger: logger}
}

func (g *GuardedDeduper) Claim(ctx context.Context, id string) (bool, error) {
	fresh, err := g.next.Claim(ctx, id)
	if err != nil {
		useFallback, change := g.breaker.RecordFailure()
		if change.Opened {
			g.logger.WarnContext(ctx, "dedupe circuit opened; processing without claims", "breaker", g.breaker.Name(), "error", err)
		}
		if useFallback {
			return true, nil
		}
		return false, err
	}
	if _, change := g.breaker.RecordSuccess(); change.Closed {
		g.logger.InfoContext(ctx, "dedupe circuit closed", "breaker", g.breaker.Name())
	}
	return fresh, nil
}

func (g *GuardedDeduper) Release(ctx context.Context, id string) error {
	if g.breaker.IsOpen() {
		return nil
	}
	return g.next.Release(ctx, id)
}
