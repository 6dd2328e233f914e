package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"solana-portfolio-api/internal/adapters"
	"solana-portfolio-api/internal/config"
	"solana-portfolio-api/internal/models"
	"solana-portfolio-api/pkg/cache"
	"solana-portfolio-api/pkg/logger"
	"solana-portfolio-api/pkg/metrics"
	"solana-portfolio-api/pkg/mutex"

	"go.uber.org/zap"
)

// ErrAllProtocolsFailed reports a fan-out where every registered adapter
// failed or timed out and no cached result could cover for it
var ErrAllProtocolsFailed = errors.New("all protocol adapters failed")

// FetchOptions controls a single aggregation call
type FetchOptions struct {
	// Refresh bypasses the aggregate cache entry
	Refresh bool
}

// AggregationService orchestrates registry fan-outs and computes
// portfolio-level rollups. It owns the aggregate-level cache entry: a fresh
// AggregatedResult replaces the cached one wholesale and explicit
// invalidation evicts it.
type AggregationService struct {
	registry     *adapters.Registry
	cache        *cache.Cache
	requestMutex *mutex.RequestMutex
	snapshots    SnapshotStore
	metrics      *metrics.MetricsCollector
	config       *config.Config
}

// NewAggregationService creates the aggregation service. snapshots may be
// nil when no persistence is wired.
func NewAggregationService(registry *adapters.Registry, snapshots SnapshotStore, cfg *config.Config) *AggregationService {
	collector := metrics.NewMetricsCollector()
	registry.SetMetrics(collector)

	return &AggregationService{
		registry:     registry,
		cache:        cache.New(cfg.Cache.TTL),
		requestMutex: mutex.New(cfg.Cache.CleanupInterval),
		snapshots:    snapshots,
		metrics:      collector,
		config:       cfg,
	}
}

// FetchAllPositions returns the merged portfolio view for a wallet,
// cache-first. Concurrent calls for the same wallet are deduplicated behind
// a per-wallet mutex so the registry fan-out runs once. The result is best
// effort: protocols that failed or timed out are simply absent, except when
// every registered adapter failed, which returns ErrAllProtocolsFailed
// rather than an empty portfolio.
func (s *AggregationService) FetchAllPositions(ctx context.Context, wallet string, opts FetchOptions) (*models.AggregatedResult, error) {
	startTime := time.Now()
	s.metrics.RecordRequest()

	log := logger.GetLogger().WithFields(map[string]interface{}{
		"wallet_address": wallet,
		"component":      "aggregation_service",
	})

	if !opts.Refresh {
		if cached, found := s.cache.Get(wallet); found {
			log.Debug("Aggregate cache hit")
			s.metrics.RecordCacheHit()
			s.metrics.RecordRequestComplete(time.Since(startTime), true)
			return asCached(cached.(*models.AggregatedResult)), nil
		}
	}

	s.metrics.RecordCacheMiss()

	// Dedupe concurrent aggregations of the same wallet
	mutexStartTime := time.Now()
	walletMutex := s.requestMutex.GetMutex(wallet)
	walletMutex.Lock()
	defer walletMutex.Unlock()

	if time.Since(mutexStartTime) > time.Millisecond {
		s.metrics.RecordMutexWait()
	}

	// Double-check cache after acquiring the mutex; a concurrent request
	// may have already aggregated this wallet
	if !opts.Refresh {
		if cached, found := s.cache.Get(wallet); found {
			log.Debug("Aggregate cache hit after mutex acquisition")
			s.metrics.RecordCacheHit()
			s.metrics.RecordRequestComplete(time.Since(startTime), true)
			return asCached(cached.(*models.AggregatedResult)), nil
		}
	}

	log.Debug("Fanning out across protocol adapters")

	fanoutStart := time.Now()
	byProtocol, adapterErrs := s.registry.FetchAllPositions(ctx, wallet, adapters.FetchOptions{
		Parallel:          s.config.Adapters.Parallel,
		PerAdapterTimeout: s.config.Adapters.FanoutTimeout,
	})

	// A fan-out where every adapter failed is distinguishable from an empty
	// wallet: with no cached result to fall back on, the failure propagates
	// instead of masquerading as a zero-value portfolio.
	allFailed := len(adapterErrs) > 0 && len(byProtocol) == 0 && len(adapterErrs) == s.registry.Size()
	s.metrics.RecordRPCCall(time.Since(fanoutStart), !allFailed)

	if err := ctx.Err(); err != nil {
		s.metrics.RecordRequestComplete(time.Since(startTime), false)
		return nil, err
	}

	if allFailed {
		s.metrics.RecordRequestComplete(time.Since(startTime), false)
		log.Error("Every protocol adapter failed",
			zap.Int("protocols", len(adapterErrs)),
		)
		return nil, fmt.Errorf("%w: %d protocols errored", ErrAllProtocolsFailed, len(adapterErrs))
	}

	result := s.buildResult(wallet, byProtocol)
	s.cache.Set(wallet, result)

	if s.snapshots != nil {
		// Best-effort history write; never blocks or fails the request
		go s.persistSnapshot(result)
	}

	s.metrics.RecordRequestComplete(time.Since(startTime), true)

	log.Info("Aggregated wallet portfolio",
		zap.Int("protocols", len(result.ByProtocol)),
		zap.Int("positions", len(result.Positions)),
		zap.Float64("total_value", result.TotalValue),
		zap.Duration("duration", time.Since(startTime)),
	)

	return result, nil
}

// asCached returns a shallow copy marked as served from cache, leaving the
// stored result untouched
func asCached(result *models.AggregatedResult) *models.AggregatedResult {
	copied := *result
	copied.Cached = true
	return &copied
}

// buildResult flattens the per-protocol map in priority order and computes
// the portfolio rollups
func (s *AggregationService) buildResult(wallet string, byProtocol map[string][]models.Position) *models.AggregatedResult {
	var flat []models.Position
	for _, adapter := range s.registry.AdaptersByPriority() {
		flat = append(flat, byProtocol[adapter.ProtocolID()]...)
	}

	var totalValue, totalRewards float64
	for _, position := range flat {
		totalValue += position.UsdValue
		totalRewards += position.Rewards
	}

	// Value-weighted APY; zero when the portfolio has no value
	var weightedApy float64
	if totalValue > 0 {
		for _, position := range flat {
			weightedApy += (position.UsdValue / totalValue) * position.Apy
		}
	}

	return &models.AggregatedResult{
		WalletAddress: wallet,
		Positions:     flat,
		ByProtocol:    byProtocol,
		TotalValue:    totalValue,
		WeightedApy:   weightedApy,
		TotalRewards:  totalRewards,
		UpdatedAt:     time.Now().UTC(),
	}
}

// persistSnapshot writes the result to the snapshot store, logging failures
func (s *AggregationService) persistSnapshot(result *models.AggregatedResult) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.snapshots.Save(ctx, result); err != nil {
		logger.GetLogger().Warn("Failed to persist portfolio snapshot",
			zap.String("wallet_address", result.WalletAddress),
			zap.Error(err),
		)
	}
}

// Invalidate drops the aggregate cache entry for a wallet and asks every
// adapter to drop its own per-wallet entry. Typically triggered by a
// detected on-chain transaction.
func (s *AggregationService) Invalidate(wallet string) {
	s.registry.InvalidateAllCaches(wallet)
	s.cache.Delete(wallet)

	logger.GetLogger().Debug("Invalidated wallet caches",
		zap.String("wallet_address", wallet),
	)
}

// LatestSnapshot returns the most recent persisted result for a wallet
func (s *AggregationService) LatestSnapshot(ctx context.Context, wallet string) (*models.AggregatedResult, error) {
	if s.snapshots == nil {
		return nil, nil
	}
	return s.snapshots.Latest(ctx, wallet)
}

// GetCacheStats returns cache statistics for monitoring
func (s *AggregationService) GetCacheStats() map[string]interface{} {
	return map[string]interface{}{
		"cache_size":   s.cache.Size(),
		"mutex_count":  s.requestMutex.Size(),
		"cache_ttl_ms": s.config.Cache.TTL.Milliseconds(),
	}
}

// GetMetricsCollector returns the metrics collector for middleware
// integration
func (s *AggregationService) GetMetricsCollector() *metrics.MetricsCollector {
	return s.metrics
}

// GetPerformanceStats returns comprehensive performance statistics
func (s *AggregationService) GetPerformanceStats() map[string]interface{} {
	m := s.metrics.GetMetrics()

	return map[string]interface{}{
		"uptime":                   s.metrics.GetUptime().String(),
		"total_requests":           m.TotalRequests,
		"successful_requests":      m.SuccessfulRequests,
		"failed_requests":          m.FailedRequests,
		"success_rate_percent":     s.metrics.GetSuccessRate(),
		"average_response_time_ms": m.AverageResponseTime.Milliseconds(),
		"cache_hits":               m.CacheHits,
		"cache_misses":             m.CacheMisses,
		"cache_hit_ratio_percent":  s.metrics.GetCacheHitRatio(),
		"fanouts":                  m.RPCCalls,
		"average_fanout_time_ms":   m.AverageRPCTime.Milliseconds(),
		"adapter_failures":         m.AdapterFailures,
		"adapter_timeouts":         m.AdapterTimeouts,
		"batch_flushes":            m.BatchFlushes,
		"batched_keys":             m.BatchedKeys,
		"active_requests":          m.ActiveRequests,
		"mutex_waits":              m.MutexWaits,
		"cache_size":               s.cache.Size(),
		"mutex_count":              s.requestMutex.Size(),
	}
}

// ClearCache clears all aggregate cache entries
func (s *AggregationService) ClearCache() {
	s.cache.Clear()
}

// Stop gracefully shuts down the service
func (s *AggregationService) Stop() {
	s.cache.Stop()
	s.requestMutex.Stop()
}
