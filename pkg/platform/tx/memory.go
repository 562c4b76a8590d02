package tx

import (
	"context"
	"sync"
)

type memoryTxKey struct{}

// MemoryRunner provides the RunInTx contract for in-memory stores with one
// coarse lock. Writes are not rolled back on error, so callers validate before
// mutating.
type MemoryRunner struct {
	mu sync.Mutex
}

// NewMemoryRunner returns a ready MemoryRunner.
func NewMemoryRunner() *MemoryRunner {
	return &MemoryRunner{}
}

// RunInTx runs fn while holding the runner lock. Nested calls on the same
// context reuse the held lock.
func (r *MemoryRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if held, _ := ctx.Value(memoryTxKey{}).(*MemoryRunner); held == r {
		return fn(ctx)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(context.WithValue(ctx, memoryTxKey{}, r))
}
