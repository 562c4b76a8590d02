// Package ratelimit throttles authenticated API callers with an in-process
// sliding window per member.
package ratelimit

import (
	"sync"
	"time"
)

// Result describes one admission decision.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter int // seconds
}

// Window admits at most limit requests per key in any trailing window. It is
// per process; replicas each enforce their own budget.
type Window struct {
	limit  int
	window time.Duration

	mu      sync.Mutex
	buckets map[string][]time.Time
}

func NewWindow(limit int, window time.Duration) *Window {
	return &Window{limit: limit, window: window, buckets: make(map[string][]time.Time)}
}

func (w *Window) Allow(key string, now time.Time) Result {
	w.mu.Lock()
	defer w.mu.Unlock()

	stamps := prune(w.buckets[key], now.Add(-w.window))
	if len(stamps) >= w.limit {
		w.buckets[key] = stamps
		resetAt := stamps[0].Add(w.window)
		return Result{
			Limit:      w.limit,
			ResetAt:    resetAt,
			RetryAfter: max(1, int(resetAt.Sub(now).Seconds()+0.5)),
		}
	}
	stamps = append(stamps, now)
	w.buckets[key] = stamps
	return Result{
		Allowed:   true,
		Limit:     w.limit,
		Remaining: w.limit - len(stamps),
		ResetAt:   stamps[0].Add(w.window),
	}
}

// Sweep drops idle keys. Callers run it periodically to bound memory.
func (w *Window) Sweep(now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	cutoff := now.Add(-w.window)
	for key, stamps := range w.buckets {
		if stamps = prune(stamps, cutoff); len(stamps) == 0 {
			delete(w.buckets, key)
		} else {
			w.buckets[key] = stamps
		}
	}
}

// prune drops timestamps at or before cutoff. Stamps are in ascending order.
func prune(stamps []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(stamps) && !stamps[i].After(cutoff) {
		i++
	}
	return stamps[i:]
}
