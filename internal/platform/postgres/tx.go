package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand/v2"
	"time"

	"keystone/internal/platform/metrics"
	dErrors "keystone/pkg/domain-errors"
	"keystone/pkg/platform/sentinel"
	txcontext "keystone/pkg/platform/tx"
)

const (
	defaultTxTimeout = 5 * time.Second
	defaultRetries   = 5
	retryBaseDelay   = 10 * time.Millisecond
)

// TxRunner runs a callback inside one database transaction. The transaction
// travels in the context so every store call inside fn joins it.
type TxRunner struct {
	db        *sql.DB
	isolation sql.IsolationLevel
	timeout   time.Duration
	retries   int
	name      string
	metrics   *metrics.Metrics
}

// TxOption configures a TxRunner.
type TxOption func(*TxRunner)

// WithIsolation sets the isolation level (default: the server default).
func WithIsolation(level sql.IsolationLevel) TxOption {
	return func(r *TxRunner) { r.isolation = level }
}

// WithTimeout bounds a transaction when the caller's context has no deadline.
func WithTimeout(d time.Duration) TxOption {
	return func(r *TxRunner) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithRetries bounds how often a serialization failure is replayed.
func WithRetries(n int) TxOption {
	return func(r *TxRunner) {
		if n >= 0 {
			r.retries = n
		}
	}
}

// WithName labels retry metrics.
func WithName(name string) TxOption {
	return func(r *TxRunner) { r.name = name }
}

// WithMetrics records retries.
func WithMetrics(m *metrics.Metrics) TxOption {
	return func(r *TxRunner) { r.metrics = m }
}

// NewTxRunner builds a runner over db.
func NewTxRunner(db *sql.DB, opts ...TxOption) *TxRunner {
	r := &TxRunner{
		db:      db,
		timeout: defaultTxTimeout,
		retries: defaultRetries,
		name:    "default",
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunInTx executes fn in a transaction, committing on nil and rolling back on
// error. Only serialization failures and deadlocks are replayed; every other
// error, including business rule violations, is returned as is.
func (r *TxRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if _, nested := txcontext.From(ctx); nested {
		return fn(ctx)
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	var err error
	for attempt := 0; attempt <= r.retries; attempt++ {
		if attempt > 0 {
			r.metrics.IncrementTxRetry(r.name)
			if werr := sleepBackoff(ctx, attempt); werr != nil {
				return dErrors.Wrap(werr, dErrors.CodeTimeout, "transaction aborted while retrying")
			}
		}
		err = r.runOnce(ctx, fn)
		if err == nil || !IsRetryable(err) {
			return err
		}
	}
	return dErrors.Wrap(fmt.Errorf("%w: %w", sentinel.ErrSerialization, err), dErrors.CodeConflict,
		"transaction could not be serialized")
}

func (r *TxRunner) runOnce(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: r.isolation})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(txcontext.WithTx(ctx, tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func sleepBackoff(ctx context.Context, attempt int) error {
	delay := retryBaseDelay << (attempt - 1)
	delay += time.Duration(rand.Int64N(int64(retryBaseDelay)))
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
