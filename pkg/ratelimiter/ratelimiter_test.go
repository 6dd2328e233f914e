package ratelimiter

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter(t *testing.T) {
	t.Run("AdmitsUpToLimitImmediately", func(t *testing.T) {
		limiter := New(5, 0)
		defer limiter.Stop()

		ctx := context.Background()
		start := time.Now()

		for i := 0; i < 5; i++ {
			require.NoError(t, limiter.Admit(ctx))
		}

		assert.Less(t, time.Since(start), 100*time.Millisecond)
		assert.Equal(t, 5, limiter.QueueSize())
		assert.Equal(t, 0, limiter.RemainingCapacity())
		assert.True(t, limiter.IsThrottled())
	})

	t.Run("BlocksWhenWindowFull", func(t *testing.T) {
		limiter := New(2, 0)
		defer limiter.Stop()

		ctx := context.Background()
		require.NoError(t, limiter.Admit(ctx))
		require.NoError(t, limiter.Admit(ctx))

		// Third admit must wait for the oldest entry to age out
		start := time.Now()
		require.NoError(t, limiter.Admit(ctx))
		elapsed := time.Since(start)

		assert.GreaterOrEqual(t, elapsed, 800*time.Millisecond)
		assert.Less(t, elapsed, 2*time.Second)
	})

	t.Run("WindowInvariantUnderConcurrency", func(t *testing.T) {
		limiter := New(10, 0)
		defer limiter.Stop()

		ctx := context.Background()
		var mu sync.Mutex
		var admissions []time.Time

		var wg sync.WaitGroup
		for i := 0; i < 15; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				require.NoError(t, limiter.Admit(ctx))
				mu.Lock()
				admissions = append(admissions, time.Now())
				mu.Unlock()
			}()
		}
		wg.Wait()

		require.Len(t, admissions, 15)

		// No trailing one-second interval may contain more than 10 admissions
		for _, pivot := range admissions {
			count := 0
			for _, ts := range admissions {
				diff := pivot.Sub(ts)
				if diff >= 0 && diff < time.Second {
					count++
				}
			}
			assert.LessOrEqual(t, count, 10)
		}
	})

	t.Run("ContextCancellationUnblocks", func(t *testing.T) {
		limiter := New(1, 0)
		defer limiter.Stop()

		require.NoError(t, limiter.Admit(context.Background()))

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		start := time.Now()
		err := limiter.Admit(ctx)

		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Less(t, time.Since(start), 500*time.Millisecond)
	})

	t.Run("Stats", func(t *testing.T) {
		limiter := New(3, 0)
		defer limiter.Stop()

		ctx := context.Background()
		for i := 0; i < 3; i++ {
			require.NoError(t, limiter.Admit(ctx))
		}

		stats := limiter.Stats()
		assert.Equal(t, int64(3), stats.TotalRequests)
		assert.Equal(t, int64(3), stats.AllowedRequests)
		assert.Equal(t, int64(0), stats.ThrottledRequests)
		assert.Equal(t, 3, stats.QueueSize)
		assert.Equal(t, 0, stats.RemainingCapacity)
		assert.Equal(t, 3, stats.MaxPerWindow)
	})

	t.Run("ThrottledCounter", func(t *testing.T) {
		limiter := New(1, 0)
		defer limiter.Stop()

		ctx := context.Background()
		require.NoError(t, limiter.Admit(ctx))
		require.NoError(t, limiter.Admit(ctx)) // waits for window to free

		stats := limiter.Stats()
		assert.Equal(t, int64(2), stats.TotalRequests)
		assert.Equal(t, int64(2), stats.AllowedRequests)
		assert.Equal(t, int64(1), stats.ThrottledRequests)
	})

	t.Run("ResetCountersKeepsWindow", func(t *testing.T) {
		limiter := New(5, 0)
		defer limiter.Stop()

		ctx := context.Background()
		require.NoError(t, limiter.Admit(ctx))
		require.NoError(t, limiter.Admit(ctx))

		limiter.ResetCounters()

		stats := limiter.Stats()
		assert.Equal(t, int64(0), stats.TotalRequests)
		assert.Equal(t, int64(0), stats.AllowedRequests)
		// Window occupancy survives counter resets
		assert.Equal(t, 2, stats.QueueSize)
	})

	t.Run("WindowDrainsOverTime", func(t *testing.T) {
		limiter := New(2, 0)
		defer limiter.Stop()

		ctx := context.Background()
		require.NoError(t, limiter.Admit(ctx))
		require.NoError(t, limiter.Admit(ctx))
		assert.True(t, limiter.IsThrottled())

		time.Sleep(1100 * time.Millisecond)

		assert.Equal(t, 0, limiter.QueueSize())
		assert.Equal(t, 2, limiter.RemainingCapacity())
		assert.False(t, limiter.IsThrottled())
	})

	t.Run("StopIsIdempotent", func(t *testing.T) {
		limiter := New(1, time.Hour)
		limiter.Stop()
		limiter.Stop()
	})
}

func TestClientLimiter(t *testing.T) {
	t.Run("AllowsUpToLimit", func(t *testing.T) {
		cl := NewClientLimiter(3, time.Minute)

		for i := 0; i < 3; i++ {
			assert.True(t, cl.Allow("client-a"))
		}
		assert.False(t, cl.Allow("client-a"))
	})

	t.Run("ClientsAreIndependent", func(t *testing.T) {
		cl := NewClientLimiter(1, time.Minute)

		assert.True(t, cl.Allow("client-a"))
		assert.False(t, cl.Allow("client-a"))
		assert.True(t, cl.Allow("client-b"))
	})

	t.Run("Remaining", func(t *testing.T) {
		cl := NewClientLimiter(5, time.Minute)

		assert.Equal(t, 5, cl.Remaining("client-a"))
		cl.Allow("client-a")
		cl.Allow("client-a")
		assert.Equal(t, 3, cl.Remaining("client-a"))
	})

	t.Run("WindowExpiry", func(t *testing.T) {
		cl := NewClientLimiter(1, 100*time.Millisecond)

		assert.True(t, cl.Allow("client-a"))
		assert.False(t, cl.Allow("client-a"))

		time.Sleep(150 * time.Millisecond)
		assert.True(t, cl.Allow("client-a"))
	})

	t.Run("CleanupRemovesIdleClients", func(t *testing.T) {
		cl := NewClientLimiter(1, 50*time.Millisecond)

		cl.Allow("client-a")
		time.Sleep(100 * time.Millisecond)
		cl.Cleanup()

		assert.Equal(t, 0, cl.Size())
	})
}
