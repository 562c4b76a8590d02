package circuit

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// step is one recorded outcome and what the breaker should answer.
type step struct {
	fail     bool
	fallback bool
	opened   bool
	closed   bool
}

func run(t *testing.T, b *Breaker, steps []step) {
	t.Helper()
	for i, s := range steps {
		if s.fail {
			useFallback, change := b.RecordFailure()
			assert.Equal(t, s.fallback, useFallback, "step %d fallback", i)
			assert.Equal(t, s.opened, change.Opened, "step %d opened", i)
			continue
		}
		usePrimary, change := b.RecordSuccess()
		assert.Equal(t, !s.fallback, usePrimary, "step %d primary", i)
		assert.Equal(t, s.closed, change.Closed, "step %d closed", i)
	}
}

func TestBreakerDefaults(t *testing.T) {
	b := New("redis-dedupe", WithFailureThreshold(0), WithSuccessThreshold(-1))
	assert.Equal(t, "redis-dedupe", b.Name())
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 5, b.failureThreshold)
	assert.Equal(t, 2, b.successThreshold)
}

func TestBreakerTransitions(t *testing.T) {
	tests := []struct {
		name      string
		failures  int
		successes int
		steps     []step
		open      bool
	}{
		{
			name: "opens on the threshold failure", failures: 3, successes: 1,
			steps: []step{{fail: true}, {fail: true}, {fail: true, fallback: true, opened: true}},
			open:  true,
		},
		{
			name: "a success resets the failure streak", failures: 2, successes: 1,
			steps: []step{{fail: true}, {}, {fail: true}},
		},
		{
			name: "failures while open report no transition", failures: 1, successes: 1,
			steps: []step{{fail: true, fallback: true, opened: true}, {fail: true, fallback: true}},
			open:  true,
		},
		{
			name: "closes after consecutive successes", failures: 1, successes: 2,
			steps: []step{
				{fail: true, fallback: true, opened: true},
				{fallback: true},
				{closed: true},
			},
		},
		{
			name: "a failure while open restarts the success streak", failures: 1, successes: 2,
			steps: []step{
				{fail: true, fallback: true, opened: true},
				{fallback: true},
				{fail: true, fallback: true},
				{fallback: true},
				{closed: true},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New("redis-dedupe", WithFailureThreshold(tt.failures), WithSuccessThreshold(tt.successes))
			run(t, b, tt.steps)
			assert.Equal(t, tt.open, b.IsOpen())
		})
	}
}

func TestBreakerReset(t *testing.T) {
	b := New("redis-dedupe", WithFailureThreshold(1))
	b.RecordFailure()
	require.True(t, b.IsOpen())

	b.Reset()
	assert.Equal(t, StateClosed, b.State())
	useFallback, _ := b.RecordFailure()
	assert.True(t, useFallback, "counters were cleared so one failure reopens")
}

func TestBreakerConcurrentFailuresOpenOnce(t *testing.T) {
	b := New("redis-dedupe", WithFailureThreshold(10))
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		opened int
	)
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, change := b.RecordFailure(); change.Opened {
				mu.Lock()
				opened++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, opened)
	assert.True(t, b.IsOpen())
}
