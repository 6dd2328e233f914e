package adapters

import (
	"context"
	"fmt"
	"math"
	"time"

	"solana-portfolio-api/internal/models"
	internalrpc "solana-portfolio-api/internal/rpc"
	"solana-portfolio-api/pkg/cache"
	"solana-portfolio-api/pkg/logger"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
)

// SPLTokenAdapter reports a wallet's SPL token holdings as positions. Token
// accounts are fetched with getTokenAccountsByOwner, which has no multi-key
// form; the call still goes through the connection manager's rate limiting
// and retry loop.
type SPLTokenAdapter struct {
	accounts *internalrpc.AccountService
	cache    *cache.Cache
	price    PriceFunc
}

// NewSPLTokenAdapter creates the SPL token holdings adapter
func NewSPLTokenAdapter(accounts *internalrpc.AccountService, price PriceFunc, cacheTTL time.Duration) *SPLTokenAdapter {
	return &SPLTokenAdapter{
		accounts: accounts,
		cache:    cache.New(cacheTTL),
		price:    price,
	}
}

// ProtocolID returns the stable protocol identifier
func (a *SPLTokenAdapter) ProtocolID() string { return "spl-token" }

// DisplayName returns the human readable protocol name
func (a *SPLTokenAdapter) DisplayName() string { return "SPL Tokens" }

// Priority ranks token holdings below native SOL and stake pools
func (a *SPLTokenAdapter) Priority() int { return 50 }

// FetchPositions returns the wallet's SPL token holdings. Unknown mints and
// zero balances are skipped. Decoding failures on individual accounts are
// logged and skipped so one malformed account cannot drop the rest.
func (a *SPLTokenAdapter) FetchPositions(ctx context.Context, wallet string) ([]models.Position, error) {
	if cached, found := a.cache.Get(wallet); found {
		return cached.([]models.Position), nil
	}

	owner, err := solana.PublicKeyFromBase58(wallet)
	if err != nil {
		return nil, fmt.Errorf("invalid wallet address: %w", err)
	}

	conn := a.accounts.Connection()

	var out *rpc.GetTokenAccountsResult
	err = a.accounts.Manager().Execute(ctx, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, conn.Timeout)
		defer cancel()

		res, err := conn.Client.GetTokenAccountsByOwner(
			ctx,
			owner,
			&rpc.GetTokenAccountsConfig{ProgramId: solana.TokenProgramID.ToPointer()},
			&rpc.GetTokenAccountsOpts{Commitment: conn.Commitment},
		)
		if err != nil {
			return err
		}
		out = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	log := logger.GetLogger()
	positions := make([]models.Position, 0, len(out.Value))

	for _, item := range out.Value {
		var tokenAccount token.Account
		if err := bin.NewBinDecoder(item.Account.Data.GetBinary()).Decode(&tokenAccount); err != nil {
			log.Warn("Skipping undecodable token account",
				zap.String("account", item.Pubkey.String()),
				zap.Error(err),
			)
			continue
		}

		mint := tokenAccount.Mint.String()
		info, known := knownTokens[mint]
		if !known || tokenAccount.Amount == 0 {
			continue
		}

		amount := float64(tokenAccount.Amount) / math.Pow10(info.Decimals)
		positions = append(positions, models.Position{
			Protocol:     a.ProtocolID(),
			ProtocolName: a.DisplayName(),
			Kind:         "token",
			TokenMint:    mint,
			TokenSymbol:  info.Symbol,
			Amount:       amount,
			UsdValue:     amount * a.price(mint),
		})
	}

	a.cache.Set(wallet, positions)
	return positions, nil
}

// FetchProtocolStats returns placeholder stats for the token holdings view
func (a *SPLTokenAdapter) FetchProtocolStats(ctx context.Context) (*models.ProtocolStats, error) {
	return &models.ProtocolStats{
		Protocol:    a.ProtocolID(),
		DisplayName: a.DisplayName(),
	}, nil
}

// SupportsToken reports whether the mint is in the known token table
func (a *SPLTokenAdapter) SupportsToken(mint string) bool {
	_, known := knownTokens[mint]
	return known
}

// InvalidateWallet drops the adapter's cached positions for the wallet
func (a *SPLTokenAdapter) InvalidateWallet(wallet string) {
	a.cache.Delete(wallet)
}

// Stop stops the adapter cache cleanup goroutine
func (a *SPLTokenAdapter) Stop() {
	a.cache.Stop()
}
