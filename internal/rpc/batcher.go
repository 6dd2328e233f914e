package rpc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"solana-portfolio-api/pkg/logger"
	"solana-portfolio-api/pkg/metrics"

	"go.uber.org/zap"
)

// ErrBatcherCleared rejects every pending entry when ClearAll is invoked
var ErrBatcherCleared = errors.New("rpc batcher cleared")

// BatchFunc issues one multi-key upstream call for a request kind and
// returns the per-key results. Missing keys may simply be absent from the
// map; their callers resolve to nil.
type BatchFunc func(ctx context.Context, keys []string) (map[string]interface{}, error)

// batchResult resolves one pending entry with either a value or an error
type batchResult struct {
	value interface{}
	err   error
}

// pendingEntry is one caller-supplied key awaiting resolution. The channel
// is buffered so a flush can resolve entries whose callers already gave up.
type pendingEntry struct {
	key string
	ch  chan batchResult
}

// batchWindow collects pending entries for one request kind. At most one
// open window exists per kind; a window is destroyed the instant it is
// flushed and the next enqueue starts a fresh one.
type batchWindow struct {
	entries []*pendingEntry
	timer   *time.Timer
	flushed bool
}

// Batcher coalesces many single-key lookups of the same kind issued within a
// short interval into one multi-key upstream call. An upstream failure during
// a flush rejects every coalesced entry in that window with the same error:
// one upstream call is one unit of failure, even though the lookups are
// logically independent.
type Batcher struct {
	mu      sync.Mutex
	windows map[string]*batchWindow
	fns     map[string]BatchFunc
	delay   time.Duration
	maxSize int
	metrics *metrics.MetricsCollector
}

// NewBatcher creates a batcher flushing each window after delay, or
// immediately once a window holds maxSize entries
func NewBatcher(delay time.Duration, maxSize int) *Batcher {
	return &Batcher{
		windows: make(map[string]*batchWindow),
		fns:     make(map[string]BatchFunc),
		delay:   delay,
		maxSize: maxSize,
	}
}

// SetMetrics attaches a collector recording flush counts and coalesced key
// totals. Optional; a nil collector disables recording.
func (b *Batcher) SetMetrics(mc *metrics.MetricsCollector) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.metrics = mc
}

// RegisterKind binds a request kind to the function issuing its multi-key
// upstream call
func (b *Batcher) RegisterKind(kind string, fn BatchFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.fns[kind] = fn
}

// Enqueue adds a single-key lookup to the open window for its kind and
// blocks until the window flushes and resolves it. The first enqueue of a
// kind opens the window and arms the flush timer; reaching the size
// threshold flushes immediately instead of waiting.
//
// Cancelling ctx abandons only this caller's wait: the window is shared
// with every other coalesced caller, so its upstream call still runs to
// completion and this entry's result is discarded on arrival.
func (b *Batcher) Enqueue(ctx context.Context, kind, key string) (interface{}, error) {
	b.mu.Lock()

	fn, ok := b.fns[kind]
	if !ok {
		b.mu.Unlock()
		return nil, fmt.Errorf("unknown batch kind: %s", kind)
	}

	window := b.windows[kind]
	if window == nil {
		window = &batchWindow{}
		b.windows[kind] = window

		w := window
		window.timer = time.AfterFunc(b.delay, func() {
			b.flush(kind, w, fn)
		})
	}

	entry := &pendingEntry{
		key: key,
		ch:  make(chan batchResult, 1),
	}
	window.entries = append(window.entries, entry)

	if len(window.entries) >= b.maxSize {
		// Size threshold reached; flush now rather than waiting for the
		// timer. flush below is a no-op if the timer won the race.
		w := window
		b.mu.Unlock()
		b.flush(kind, w, fn)
	} else {
		b.mu.Unlock()
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case result := <-entry.ch:
		return result.value, result.err
	}
}

// flush snapshots and destroys the window, then issues exactly one upstream
// call resolving every pending entry. Cancel-then-flush is race-free: the
// flushed flag guarantees a window is flushed at most once whether the timer
// or the size threshold fires first.
func (b *Batcher) flush(kind string, window *batchWindow, fn BatchFunc) {
	b.mu.Lock()
	if window.flushed {
		b.mu.Unlock()
		return
	}
	window.flushed = true
	window.timer.Stop()

	if b.windows[kind] == window {
		delete(b.windows, kind)
	}

	entries := window.entries
	mc := b.metrics
	b.mu.Unlock()

	if len(entries) == 0 {
		return
	}

	// Deduplicated key list in first-seen order
	seen := make(map[string]struct{}, len(entries))
	keys := make([]string, 0, len(entries))
	for _, entry := range entries {
		if _, dup := seen[entry.key]; !dup {
			seen[entry.key] = struct{}{}
			keys = append(keys, entry.key)
		}
	}

	logger.GetLogger().Debug("Flushing batch window",
		zap.String("kind", kind),
		zap.Int("pending", len(entries)),
		zap.Int("keys", len(keys)),
	)

	if mc != nil {
		mc.RecordBatchFlush(len(keys))
	}

	// The upstream call runs on a detached context. A window is shared by
	// every coalesced caller, so no single caller's cancellation may abort
	// its siblings' lookups; an abandoned caller's result is simply dropped.
	values, err := fn(context.Background(), keys)
	if err != nil {
		for _, entry := range entries {
			entry.ch <- batchResult{err: err}
		}
		return
	}

	for _, entry := range entries {
		entry.ch <- batchResult{value: values[entry.key]}
	}
}

// FetchMany issues an explicit multi-key request, chunked client-side into
// maxSize sub-batches dispatched in parallel. Results are concatenated in
// input key order; any chunk failure fails the whole call.
func (b *Batcher) FetchMany(ctx context.Context, kind string, keys []string) ([]interface{}, error) {
	b.mu.Lock()
	fn, ok := b.fns[kind]
	b.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("unknown batch kind: %s", kind)
	}

	if len(keys) == 0 {
		return []interface{}{}, nil
	}

	merged := make(map[string]interface{}, len(keys))
	var mergeMu sync.Mutex
	var firstErr error
	var wg sync.WaitGroup

	for start := 0; start < len(keys); start += b.maxSize {
		end := start + b.maxSize
		if end > len(keys) {
			end = len(keys)
		}
		chunk := keys[start:end]

		wg.Add(1)
		go func(chunk []string) {
			defer wg.Done()

			values, err := fn(ctx, chunk)

			mergeMu.Lock()
			defer mergeMu.Unlock()

			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			for key, value := range values {
				merged[key] = value
			}
		}(chunk)
	}

	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}

	results := make([]interface{}, len(keys))
	for i, key := range keys {
		results[i] = merged[key]
	}
	return results, nil
}

// QueueSizes returns the number of pending entries per open window
func (b *Batcher) QueueSizes() map[string]int {
	b.mu.Lock()
	defer b.mu.Unlock()

	sizes := make(map[string]int, len(b.windows))
	for kind, window := range b.windows {
		sizes[kind] = len(window.entries)
	}
	return sizes
}

// ClearAll cancels every open window's timer and rejects all pending
// entries. Used for shutdown and test reset.
func (b *Batcher) ClearAll() {
	b.mu.Lock()

	cleared := 0
	var rejected []*pendingEntry
	for kind, window := range b.windows {
		window.flushed = true
		window.timer.Stop()
		rejected = append(rejected, window.entries...)
		cleared += len(window.entries)
		delete(b.windows, kind)
	}
	b.mu.Unlock()

	for _, entry := range rejected {
		entry.ch <- batchResult{err: ErrBatcherCleared}
	}

	if cleared > 0 {
		logger.GetLogger().Info("Cleared batch windows",
			zap.Int("rejected_entries", cleared),
		)
	}
}
