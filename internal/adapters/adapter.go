package adapters

import (
	"context"

	"solana-portfolio-api/internal/models"
)

// ProtocolAdapter is implemented once per integrated protocol. The registry
// treats every adapter uniformly through this contract; how a protocol
// values a position is the adapter's own business.
//
// FetchPositions should fail soft: an adapter that hits an internal error is
// expected to return an empty list rather than propagate, so one broken
// integration cannot break aggregation. The registry isolates errors and
// timeouts regardless.
type ProtocolAdapter interface {
	// ProtocolID returns the stable protocol identifier
	ProtocolID() string

	// DisplayName returns the human readable protocol name
	DisplayName() string

	// Priority orders adapters; higher is queried and preferred first
	Priority() int

	// FetchPositions returns the wallet's positions in this protocol
	FetchPositions(ctx context.Context, wallet string) ([]models.Position, error)

	// FetchProtocolStats returns protocol-level statistics
	FetchProtocolStats(ctx context.Context) (*models.ProtocolStats, error)

	// SupportsToken reports whether this protocol handles the token mint
	SupportsToken(mint string) bool
}

// WalletInvalidator is optionally implemented by adapters that keep a
// per-wallet cache. The registry calls it best-effort during bulk
// invalidation.
type WalletInvalidator interface {
	InvalidateWallet(wallet string)
}
