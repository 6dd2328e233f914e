package services

import (
	"context"

	"solana-portfolio-api/internal/models"
)

// AuthServiceInterface defines the interface for authentication services
type AuthServiceInterface interface {
	ValidateAPIKey(key string) (*models.APIKey, error)
}

// AggregationServiceInterface defines the interface for portfolio
// aggregation operations
type AggregationServiceInterface interface {
	FetchAllPositions(ctx context.Context, wallet string, opts FetchOptions) (*models.AggregatedResult, error)
	Invalidate(wallet string)
}

// SnapshotStore persists aggregated portfolio results for history lookups.
// Writes are best effort; a failing store must never fail an aggregation.
type SnapshotStore interface {
	Save(ctx context.Context, result *models.AggregatedResult) error
	Latest(ctx context.Context, wallet string) (*models.AggregatedResult, error)
}
