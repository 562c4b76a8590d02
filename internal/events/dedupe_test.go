package events

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keystone/pkg/platform/circuit"
)

type brokenDeduper struct {
	memoryDeduper
	down bool
}

func (d *brokenDeduper) Claim(ctx context.Context, id string) (bool, error) {
	if d.down {
		return false, errors.New("redis: connection refused")
	}
	return d.memoryDeduper.Claim(ctx, id)
}

func TestGuardedDeduperFailsOpen(t *testing.T) {
	ctx := context.Background()
	backend := &brokenDeduper{memoryDeduper: memoryDeduper{claimed: map[string]bool{}}}
	breaker := circuit.New("redis-dedupe", circuit.WithFailureThreshold(2), circuit.WithSuccessThreshold(1))
	d := NewGuardedDeduper(backend, breaker, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))

	fresh, err := d.Claim(ctx, "a")
	require.NoError(t, err)
	assert.True(t, fresh)

	backend.down = true
	_, err = d.Claim(ctx, "b")
	assert.Error(t, err, "a single failure is retried")

	fresh, err = d.Claim(ctx, "a")
	require.NoError(t, err)
	assert.True(t, fresh, "an open circuit processes without claims")
	assert.True(t, breaker.IsOpen())
	assert.NoError(t, d.Release(ctx, "a"))

	backend.down = false
	fresh, err = d.Claim(ctx, "a")
	require.NoError(t, err)
	assert.False(t, fresh, "recovered backend still remembers earlier claims")
	assert.False(t, breaker.IsOpen())
}
