package rpc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatcher(t *testing.T) {
	t.Run("CoalescesConcurrentLookups", func(t *testing.T) {
		var calls int64
		var mu sync.Mutex
		var seenKeys []string

		b := NewBatcher(20*time.Millisecond, 100)
		b.RegisterKind("balance", func(ctx context.Context, keys []string) (map[string]interface{}, error) {
			atomic.AddInt64(&calls, 1)
			mu.Lock()
			seenKeys = append(seenKeys, keys...)
			mu.Unlock()

			values := make(map[string]interface{}, len(keys))
			for _, key := range keys {
				values[key] = "value-" + key
			}
			return values, nil
		})

		var wg sync.WaitGroup
		results := make([]interface{}, 5)
		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				value, err := b.Enqueue(context.Background(), "balance", fmt.Sprintf("key-%d", i))
				require.NoError(t, err)
				results[i] = value
			}(i)
		}
		wg.Wait()

		// All five lookups resolved by a single upstream call
		assert.Equal(t, int64(1), atomic.LoadInt64(&calls))
		assert.Len(t, seenKeys, 5)
		for i := 0; i < 5; i++ {
			assert.Equal(t, fmt.Sprintf("value-key-%d", i), results[i])
		}
	})

	t.Run("DuplicateKeysDeduplicated", func(t *testing.T) {
		var mu sync.Mutex
		var seenKeys []string

		b := NewBatcher(20*time.Millisecond, 100)
		b.RegisterKind("balance", func(ctx context.Context, keys []string) (map[string]interface{}, error) {
			mu.Lock()
			seenKeys = append(seenKeys, keys...)
			mu.Unlock()
			return map[string]interface{}{"same": 42}, nil
		})

		var wg sync.WaitGroup
		for i := 0; i < 3; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				value, err := b.Enqueue(context.Background(), "balance", "same")
				require.NoError(t, err)
				assert.Equal(t, 42, value)
			}()
		}
		wg.Wait()

		// Three callers, one key on the wire
		assert.Equal(t, []string{"same"}, seenKeys)
	})

	t.Run("SizeThresholdFlushesImmediately", func(t *testing.T) {
		var calls int64

		b := NewBatcher(10*time.Second, 3)
		b.RegisterKind("balance", func(ctx context.Context, keys []string) (map[string]interface{}, error) {
			atomic.AddInt64(&calls, 1)
			values := make(map[string]interface{}, len(keys))
			for _, key := range keys {
				values[key] = true
			}
			return values, nil
		})

		start := time.Now()
		var wg sync.WaitGroup
		for i := 0; i < 3; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := b.Enqueue(context.Background(), "balance", fmt.Sprintf("key-%d", i))
				require.NoError(t, err)
			}(i)
		}
		wg.Wait()

		// Flushed well before the 10s timer by reaching the size threshold
		assert.Less(t, time.Since(start), time.Second)
		assert.Equal(t, int64(1), atomic.LoadInt64(&calls))
	})

	t.Run("UpstreamErrorRejectsWholeWindow", func(t *testing.T) {
		upstreamErr := errors.New("503 service unavailable")

		b := NewBatcher(20*time.Millisecond, 100)
		b.RegisterKind("balance", func(ctx context.Context, keys []string) (map[string]interface{}, error) {
			return nil, upstreamErr
		})

		var wg sync.WaitGroup
		errs := make([]error, 4)
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := b.Enqueue(context.Background(), "balance", fmt.Sprintf("key-%d", i))
				errs[i] = err
			}(i)
		}
		wg.Wait()

		for i := 0; i < 4; i++ {
			assert.ErrorIs(t, errs[i], upstreamErr)
		}
	})

	t.Run("MissingKeysResolveToNil", func(t *testing.T) {
		b := NewBatcher(10*time.Millisecond, 100)
		b.RegisterKind("account", func(ctx context.Context, keys []string) (map[string]interface{}, error) {
			return map[string]interface{}{}, nil
		})

		value, err := b.Enqueue(context.Background(), "account", "absent")
		require.NoError(t, err)
		assert.Nil(t, value)
	})

	t.Run("UnknownKind", func(t *testing.T) {
		b := NewBatcher(10*time.Millisecond, 100)

		_, err := b.Enqueue(context.Background(), "nope", "key")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "unknown batch kind")
	})

	t.Run("ContextCancellation", func(t *testing.T) {
		b := NewBatcher(10*time.Second, 100)
		b.RegisterKind("balance", func(ctx context.Context, keys []string) (map[string]interface{}, error) {
			return map[string]interface{}{}, nil
		})

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		start := time.Now()
		_, err := b.Enqueue(ctx, "balance", "key")

		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("CancelledCallerDoesNotAbortWindow", func(t *testing.T) {
		var calls int64

		b := NewBatcher(100*time.Millisecond, 100)
		b.RegisterKind("balance", func(ctx context.Context, keys []string) (map[string]interface{}, error) {
			atomic.AddInt64(&calls, 1)
			results := make(map[string]interface{}, len(keys))
			for _, key := range keys {
				results[key] = key + "-value"
			}
			return results, nil
		})

		// First caller gives up before the window flushes
		cancelled, cancel := context.WithCancel(context.Background())
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := b.Enqueue(cancelled, "balance", "abandoned")
			assert.ErrorIs(t, err, context.Canceled)
		}()

		time.Sleep(10 * time.Millisecond)
		cancel()

		// The shared window still flushes and serves the sibling
		value, err := b.Enqueue(context.Background(), "balance", "patient")
		require.NoError(t, err)
		assert.Equal(t, "patient-value", value)
		assert.Equal(t, int64(1), atomic.LoadInt64(&calls))

		wg.Wait()
	})

	t.Run("WindowsAreIndependentPerKind", func(t *testing.T) {
		var balanceCalls, accountCalls int64

		b := NewBatcher(20*time.Millisecond, 100)
		b.RegisterKind("balance", func(ctx context.Context, keys []string) (map[string]interface{}, error) {
			atomic.AddInt64(&balanceCalls, 1)
			return map[string]interface{}{keys[0]: "lamports"}, nil
		})
		b.RegisterKind("account", func(ctx context.Context, keys []string) (map[string]interface{}, error) {
			atomic.AddInt64(&accountCalls, 1)
			return map[string]interface{}{keys[0]: "data"}, nil
		})

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			value, err := b.Enqueue(context.Background(), "balance", "key")
			require.NoError(t, err)
			assert.Equal(t, "lamports", value)
		}()
		go func() {
			defer wg.Done()
			value, err := b.Enqueue(context.Background(), "account", "key")
			require.NoError(t, err)
			assert.Equal(t, "data", value)
		}()
		wg.Wait()

		assert.Equal(t, int64(1), atomic.LoadInt64(&balanceCalls))
		assert.Equal(t, int64(1), atomic.LoadInt64(&accountCalls))
	})

	t.Run("FetchManyChunksLargeRequests", func(t *testing.T) {
		var calls int64
		var mu sync.Mutex
		chunkSizes := []int{}

		b := NewBatcher(10*time.Millisecond, 100)
		b.RegisterKind("account", func(ctx context.Context, keys []string) (map[string]interface{}, error) {
			atomic.AddInt64(&calls, 1)
			mu.Lock()
			chunkSizes = append(chunkSizes, len(keys))
			mu.Unlock()

			values := make(map[string]interface{}, len(keys))
			for _, key := range keys {
				values[key] = "v-" + key
			}
			return values, nil
		})

		keys := make([]string, 250)
		for i := range keys {
			keys[i] = fmt.Sprintf("key-%03d", i)
		}

		results, err := b.FetchMany(context.Background(), "account", keys)
		require.NoError(t, err)
		require.Len(t, results, 250)

		// 250 keys at a chunk size of 100 means three upstream calls
		assert.Equal(t, int64(3), atomic.LoadInt64(&calls))

		total := 0
		for _, size := range chunkSizes {
			assert.LessOrEqual(t, size, 100)
			total += size
		}
		assert.Equal(t, 250, total)

		// Results come back in input key order
		for i, result := range results {
			assert.Equal(t, "v-"+keys[i], result)
		}
	})

	t.Run("FetchManyChunkFailureFailsCall", func(t *testing.T) {
		var calls int64
		upstreamErr := errors.New("connection reset")

		b := NewBatcher(10*time.Millisecond, 10)
		b.RegisterKind("account", func(ctx context.Context, keys []string) (map[string]interface{}, error) {
			if atomic.AddInt64(&calls, 1) == 2 {
				return nil, upstreamErr
			}
			values := make(map[string]interface{}, len(keys))
			for _, key := range keys {
				values[key] = true
			}
			return values, nil
		})

		keys := make([]string, 25)
		for i := range keys {
			keys[i] = fmt.Sprintf("key-%d", i)
		}

		_, err := b.FetchMany(context.Background(), "account", keys)
		assert.ErrorIs(t, err, upstreamErr)
	})

	t.Run("FetchManyEmptyKeys", func(t *testing.T) {
		b := NewBatcher(10*time.Millisecond, 100)
		b.RegisterKind("account", func(ctx context.Context, keys []string) (map[string]interface{}, error) {
			t.Fatal("should not be called for empty key list")
			return nil, nil
		})

		results, err := b.FetchMany(context.Background(), "account", nil)
		require.NoError(t, err)
		assert.Empty(t, results)
	})

	t.Run("ClearAllRejectsPending", func(t *testing.T) {
		b := NewBatcher(10*time.Second, 100)
		b.RegisterKind("balance", func(ctx context.Context, keys []string) (map[string]interface{}, error) {
			return map[string]interface{}{}, nil
		})

		errCh := make(chan error, 1)
		go func() {
			_, err := b.Enqueue(context.Background(), "balance", "key")
			errCh <- err
		}()

		// Wait for the entry to land in the window before clearing
		require.Eventually(t, func() bool {
			return b.QueueSizes()["balance"] == 1
		}, time.Second, 5*time.Millisecond)

		b.ClearAll()

		select {
		case err := <-errCh:
			assert.ErrorIs(t, err, ErrBatcherCleared)
		case <-time.After(time.Second):
			t.Fatal("pending entry was not rejected")
		}

		assert.Empty(t, b.QueueSizes())
	})
}
