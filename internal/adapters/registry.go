package adapters

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"solana-portfolio-api/internal/models"
	"solana-portfolio-api/pkg/logger"
	"solana-portfolio-api/pkg/metrics"

	"go.uber.org/zap"
)

// FetchOptions controls a registry fan-out
type FetchOptions struct {
	// Parallel starts every adapter fetch concurrently; sequential mode
	// awaits adapters one by one with the same isolation rule, useful for
	// deterministic debugging at a latency cost.
	Parallel bool

	// PerAdapterTimeout bounds each adapter's fetch individually. A
	// timed-out adapter is abandoned; its direct RPCs observe the cancelled
	// context through the connection manager, while lookups already
	// coalesced into a shared batch window still complete upstream and are
	// discarded on arrival.
	PerAdapterTimeout time.Duration
}

// DefaultFetchOptions returns the fan-out settings used when callers pass
// a zero-value options struct
func DefaultFetchOptions() FetchOptions {
	return FetchOptions{
		Parallel:          true,
		PerAdapterTimeout: 5 * time.Second,
	}
}

// Registry holds the registered protocol adapters ordered by priority and
// fans wallet lookups out across them. It is a stateless dispatcher over a
// mutable adapter set: one failing or slow adapter never aborts its
// siblings, and the fan-out always returns whatever protocols answered in
// time.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]ProtocolAdapter
	ordered  []ProtocolAdapter
	metrics  *metrics.MetricsCollector
}

// NewRegistry creates an empty adapter registry
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]ProtocolAdapter),
	}
}

// SetMetrics attaches a collector recording per-adapter failures and
// timeouts during fan-outs. Optional; a nil collector disables recording.
func (r *Registry) SetMetrics(mc *metrics.MetricsCollector) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.metrics = mc
}

// Register inserts an adapter. Re-registering an existing protocol ID
// replaces the previous adapter with a warning.
func (r *Registry) Register(adapter ProtocolAdapter) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := adapter.ProtocolID()
	if _, exists := r.adapters[id]; exists {
		logger.GetLogger().Warn("Replacing registered protocol adapter",
			zap.String("protocol", id),
		)
	}

	r.adapters[id] = adapter
	r.reorder()

	logger.GetLogger().Info("Registered protocol adapter",
		zap.String("protocol", id),
		zap.String("name", adapter.DisplayName()),
		zap.Int("priority", adapter.Priority()),
	)
}

// Unregister removes the adapter for a protocol ID. No-op if absent.
func (r *Registry) Unregister(protocolID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.adapters[protocolID]; !exists {
		return
	}

	delete(r.adapters, protocolID)
	r.reorder()
}

// reorder rebuilds the priority-sorted view. Caller must hold the lock.
// Ties break on protocol ID so iteration order stays deterministic.
func (r *Registry) reorder() {
	ordered := make([]ProtocolAdapter, 0, len(r.adapters))
	for _, adapter := range r.adapters {
		ordered = append(ordered, adapter)
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Priority() != ordered[j].Priority() {
			return ordered[i].Priority() > ordered[j].Priority()
		}
		return ordered[i].ProtocolID() < ordered[j].ProtocolID()
	})
	r.ordered = ordered
}

// AdaptersByPriority returns the registered adapters in descending priority
// order
func (r *Registry) AdaptersByPriority() []ProtocolAdapter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ProtocolAdapter, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Size returns the number of registered adapters
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.adapters)
}

// FetchAllPositions fans the wallet lookup out across every registered
// adapter and merges the results keyed by protocol ID. Adapters returning
// zero positions are omitted. A per-adapter error or timeout is logged and
// excludes only that adapter's contribution; the call itself never fails
// because one adapter did. The second return value maps protocol ID to the
// error of each adapter that failed or timed out, so callers can tell an
// empty wallet apart from a fan-out where nothing answered.
func (r *Registry) FetchAllPositions(ctx context.Context, wallet string, opts FetchOptions) (map[string][]models.Position, map[string]error) {
	if opts.PerAdapterTimeout == 0 {
		opts.PerAdapterTimeout = DefaultFetchOptions().PerAdapterTimeout
	}

	adapters := r.AdaptersByPriority()
	results := make(map[string][]models.Position, len(adapters))
	failures := make(map[string]error)

	if opts.Parallel {
		var mu sync.Mutex
		var wg sync.WaitGroup

		for _, adapter := range adapters {
			wg.Add(1)
			go func(a ProtocolAdapter) {
				defer wg.Done()

				positions, err := r.fetchOne(ctx, a, wallet, opts.PerAdapterTimeout)

				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					failures[a.ProtocolID()] = err
					return
				}
				if len(positions) > 0 {
					results[a.ProtocolID()] = positions
				}
			}(adapter)
		}
		wg.Wait()
	} else {
		for _, adapter := range adapters {
			positions, err := r.fetchOne(ctx, adapter, wallet, opts.PerAdapterTimeout)
			if err != nil {
				failures[adapter.ProtocolID()] = err
				continue
			}
			if len(positions) > 0 {
				results[adapter.ProtocolID()] = positions
			}
		}
	}

	return results, failures
}

// fetchOne runs a single adapter fetch raced against its timeout. Errors,
// timeouts, and panics are contained here so they never reach siblings; the
// returned error only feeds the fan-out's failure map.
func (r *Registry) fetchOne(ctx context.Context, adapter ProtocolAdapter, wallet string, timeout time.Duration) ([]models.Position, error) {
	log := logger.GetLogger()

	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		positions []models.Position
		err       error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if recovered := recover(); recovered != nil {
				done <- outcome{err: fmt.Errorf("adapter panic: %v", recovered)}
			}
		}()

		positions, err := adapter.FetchPositions(actx, wallet)
		done <- outcome{positions: positions, err: err}
	}()

	r.mu.RLock()
	mc := r.metrics
	r.mu.RUnlock()

	select {
	case <-actx.Done():
		log.Warn("Adapter fetch timed out",
			zap.String("protocol", adapter.ProtocolID()),
			zap.String("wallet", wallet),
			zap.Duration("timeout", timeout),
		)
		if mc != nil {
			mc.RecordAdapterTimeout()
		}
		return nil, fmt.Errorf("adapter %s timed out after %s: %w", adapter.ProtocolID(), timeout, actx.Err())
	case result := <-done:
		if result.err != nil {
			log.Warn("Adapter fetch failed",
				zap.String("protocol", adapter.ProtocolID()),
				zap.String("wallet", wallet),
				zap.Error(result.err),
			)
			if mc != nil {
				mc.RecordAdapterFailure()
			}
			return nil, result.err
		}
		return result.positions, nil
	}
}

// FindAdapterForToken returns the highest-priority adapter supporting the
// token mint, or nil if none does
func (r *Registry) FindAdapterForToken(mint string) ProtocolAdapter {
	for _, adapter := range r.AdaptersByPriority() {
		if adapter.SupportsToken(mint) {
			return adapter
		}
	}
	return nil
}

// InvalidateAllCaches asks every adapter with a per-wallet cache to drop its
// entry for the wallet. Best effort: failures are logged, never propagated.
func (r *Registry) InvalidateAllCaches(wallet string) {
	for _, adapter := range r.AdaptersByPriority() {
		invalidator, ok := adapter.(WalletInvalidator)
		if !ok {
			continue
		}

		func() {
			defer func() {
				if recovered := recover(); recovered != nil {
					logger.GetLogger().Warn("Adapter cache invalidation failed",
						zap.String("protocol", adapter.ProtocolID()),
						zap.Any("panic", recovered),
					)
				}
			}()
			invalidator.InvalidateWallet(wallet)
		}()
	}
}

// ProtocolInfos lists the registered adapters with optional live stats, for
// the protocol listing endpoint
func (r *Registry) ProtocolInfos(ctx context.Context, withStats bool) []models.ProtocolInfo {
	adapters := r.AdaptersByPriority()
	infos := make([]models.ProtocolInfo, 0, len(adapters))

	for _, adapter := range adapters {
		info := models.ProtocolInfo{
			Protocol:    adapter.ProtocolID(),
			DisplayName: adapter.DisplayName(),
			Priority:    adapter.Priority(),
		}

		if withStats {
			stats, err := adapter.FetchProtocolStats(ctx)
			if err != nil {
				logger.GetLogger().Warn("Failed to fetch protocol stats",
					zap.String("protocol", adapter.ProtocolID()),
					zap.Error(err),
				)
			} else {
				info.Stats = stats
			}
		}

		infos = append(infos, info)
	}

	return infos
}
