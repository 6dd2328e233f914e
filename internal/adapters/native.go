package adapters

import (
	"context"
	"time"

	"solana-portfolio-api/internal/models"
	"solana-portfolio-api/internal/rpc"
	"solana-portfolio-api/pkg/cache"
)

// NativeAdapter reports a wallet's native SOL balance as a position. It is
// the highest-priority adapter: every wallet has a system account, and SOL
// is the preferred handler for the wrapped SOL mint.
type NativeAdapter struct {
	accounts *rpc.AccountService
	cache    *cache.Cache
	price    PriceFunc
	priority int
}

// NewNativeAdapter creates the native SOL adapter
func NewNativeAdapter(accounts *rpc.AccountService, price PriceFunc, cacheTTL time.Duration) *NativeAdapter {
	return &NativeAdapter{
		accounts: accounts,
		cache:    cache.New(cacheTTL),
		price:    price,
		priority: 100,
	}
}

// ProtocolID returns the stable protocol identifier
func (a *NativeAdapter) ProtocolID() string { return "native" }

// DisplayName returns the human readable protocol name
func (a *NativeAdapter) DisplayName() string { return "Native SOL" }

// Priority orders this adapter ahead of every protocol integration
func (a *NativeAdapter) Priority() int { return a.priority }

// FetchPositions returns the wallet's SOL balance as a single position.
// Balance lookups are coalesced with sibling adapters through the batcher.
func (a *NativeAdapter) FetchPositions(ctx context.Context, wallet string) ([]models.Position, error) {
	if cached, found := a.cache.Get(wallet); found {
		return cached.([]models.Position), nil
	}

	balance, err := a.accounts.GetBalance(ctx, wallet)
	if err != nil {
		return nil, err
	}
	if balance == 0 {
		return nil, nil
	}

	positions := []models.Position{{
		Protocol:     a.ProtocolID(),
		ProtocolName: a.DisplayName(),
		Kind:         "wallet",
		TokenMint:    WrappedSolMint,
		TokenSymbol:  "SOL",
		Amount:       balance,
		UsdValue:     balance * a.price(WrappedSolMint),
	}}

	a.cache.Set(wallet, positions)
	return positions, nil
}

// FetchProtocolStats returns placeholder stats; native SOL has no TVL or
// yield of its own
func (a *NativeAdapter) FetchProtocolStats(ctx context.Context) (*models.ProtocolStats, error) {
	return &models.ProtocolStats{
		Protocol:    a.ProtocolID(),
		DisplayName: a.DisplayName(),
	}, nil
}

// SupportsToken reports whether the mint is wrapped SOL
func (a *NativeAdapter) SupportsToken(mint string) bool {
	return mint == WrappedSolMint
}

// InvalidateWallet drops the adapter's cached positions for the wallet
func (a *NativeAdapter) InvalidateWallet(wallet string) {
	a.cache.Delete(wallet)
}

// Stop stops the adapter cache cleanup goroutine
func (a *NativeAdapter) Stop() {
	a.cache.Stop()
}
