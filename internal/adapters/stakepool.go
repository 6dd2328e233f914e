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

// stakePool describes one liquid staking pool the adapter integrates
type stakePool struct {
	Name         string
	Mint         string
	Symbol       string
	Decimals     int
	StateAccount string
	Apy          float64
}

// defaultStakePools are the liquid staking pools queried by the adapter.
// APY values are the pools' advertised rates; valuation uses the live
// SOL-per-token exchange rate decoded from the pool state account, falling
// back to the static price table when the state cannot be read.
var defaultStakePools = []stakePool{
	{
		Name:         "Marinade",
		Mint:         "mSoLzYCxHdYgdzU16g5QSh3i5K3z3KZK7ytfqcJm7So",
		Symbol:       "mSOL",
		Decimals:     9,
		StateAccount: "8szGkuLTAux9XMgZ2vtY39jVSowEcpBfFfD8hXSEqdGC",
		Apy:          6.8,
	},
	{
		Name:         "Jito",
		Mint:         "J1toso1uCk3RLmjorhTtrVwY9HJ7X8V9yYac6Y7kGCPn",
		Symbol:       "JitoSOL",
		Decimals:     9,
		StateAccount: "Jito4APyf642JPZPx3hGc6WWJ8zPKtRbRs4P815Awbb",
		Apy:          7.4,
	},
}

// StakePoolAdapter reports a wallet's liquid staking positions: holdings of
// pool tokens valued with the pool's yield attached. Pool state accounts
// are read through the coalescing batcher, pool token balances through
// getTokenAccountsByOwner with a mint filter.
type StakePoolAdapter struct {
	accounts *internalrpc.AccountService
	cache    *cache.Cache
	price    PriceFunc
	pools    []stakePool
}

// NewStakePoolAdapter creates the liquid staking adapter
func NewStakePoolAdapter(accounts *internalrpc.AccountService, price PriceFunc, cacheTTL time.Duration) *StakePoolAdapter {
	return &StakePoolAdapter{
		accounts: accounts,
		cache:    cache.New(cacheTTL),
		price:    price,
		pools:    defaultStakePools,
	}
}

// ProtocolID returns the stable protocol identifier
func (a *StakePoolAdapter) ProtocolID() string { return "stake-pool" }

// DisplayName returns the human readable protocol name
func (a *StakePoolAdapter) DisplayName() string { return "Liquid Staking" }

// Priority ranks staking positions between native SOL and plain token
// holdings, so pool mints resolve here rather than to the SPL adapter
func (a *StakePoolAdapter) Priority() int { return 75 }

// FetchPositions returns the wallet's stake pool token positions with the
// pool APY attached. Pool tokens are valued at the exchange rate carried by
// the pool state account when it decodes; rewards are the yield accrued on
// the position over the trailing year at the pool APY.
func (a *StakePoolAdapter) FetchPositions(ctx context.Context, wallet string) ([]models.Position, error) {
	if cached, found := a.cache.Get(wallet); found {
		return cached.([]models.Position), nil
	}

	owner, err := solana.PublicKeyFromBase58(wallet)
	if err != nil {
		return nil, fmt.Errorf("invalid wallet address: %w", err)
	}

	// Pool state accounts go through the batcher; the same flush serves
	// every concurrent aggregation touching these pools. An unreadable
	// state is not fatal: valuation falls back to the static price table.
	stateAccounts := make([]string, len(a.pools))
	for i, pool := range a.pools {
		stateAccounts[i] = pool.StateAccount
	}
	states, err := a.accounts.GetAccounts(ctx, stateAccounts)
	if err != nil {
		logger.GetLogger().Warn("Failed to fetch stake pool state accounts",
			zap.Error(err),
		)
		states = make([]*rpc.Account, len(a.pools))
	}

	positions := make([]models.Position, 0, len(a.pools))
	for i, pool := range a.pools {
		amount, err := a.poolTokenBalance(ctx, owner, pool)
		if err != nil {
			return nil, err
		}
		if amount == 0 {
			continue
		}

		usdValue := amount * a.poolTokenPrice(pool, states[i])
		positions = append(positions, models.Position{
			Protocol:     a.ProtocolID(),
			ProtocolName: pool.Name,
			Kind:         "staking",
			TokenMint:    pool.Mint,
			TokenSymbol:  pool.Symbol,
			Amount:       amount,
			UsdValue:     usdValue,
			Apy:          pool.Apy,
			Rewards:      usdValue * pool.Apy / 100,
		})
	}

	a.cache.Set(wallet, positions)
	return positions, nil
}

// poolTokenBalance sums the wallet's token accounts holding the pool mint
func (a *StakePoolAdapter) poolTokenBalance(ctx context.Context, owner solana.PublicKey, pool stakePool) (float64, error) {
	mint, err := solana.PublicKeyFromBase58(pool.Mint)
	if err != nil {
		return 0, fmt.Errorf("invalid pool mint %s: %w", pool.Mint, err)
	}

	conn := a.accounts.Connection()

	var out *rpc.GetTokenAccountsResult
	err = a.accounts.Manager().Execute(ctx, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, conn.Timeout)
		defer cancel()

		res, err := conn.Client.GetTokenAccountsByOwner(
			ctx,
			owner,
			&rpc.GetTokenAccountsConfig{Mint: mint.ToPointer()},
			&rpc.GetTokenAccountsOpts{Commitment: conn.Commitment},
		)
		if err != nil {
			return err
		}
		out = res
		return nil
	})
	if err != nil {
		return 0, err
	}

	var raw uint64
	for _, item := range out.Value {
		var tokenAccount token.Account
		if err := bin.NewBinDecoder(item.Account.Data.GetBinary()).Decode(&tokenAccount); err != nil {
			continue
		}
		raw += tokenAccount.Amount
	}

	return float64(raw) / math.Pow10(pool.Decimals), nil
}

// stakePoolState is the leading slice of the stake pool program's state
// account: only the fields up to the lamports/supply pair are decoded, which
// is all the exchange rate needs.
type stakePoolState struct {
	AccountType           uint8
	Manager               solana.PublicKey
	Staker                solana.PublicKey
	StakeDepositAuthority solana.PublicKey
	StakeWithdrawBumpSeed uint8
	ValidatorList         solana.PublicKey
	ReserveStake          solana.PublicKey
	PoolMint              solana.PublicKey
	ManagerFeeAccount     solana.PublicKey
	TokenProgramID        solana.PublicKey
	TotalLamports         uint64
	PoolTokenSupply       uint64
}

// poolTokenPrice values one pool token in USD: the state account's exchange
// rate times the SOL price when both are available, the static price table
// otherwise
func (a *StakePoolAdapter) poolTokenPrice(pool stakePool, state *rpc.Account) float64 {
	if state != nil {
		if rate := poolExchangeRate(state.Data.GetBinary()); rate > 0 {
			if solPrice := a.price(WrappedSolMint); solPrice > 0 {
				return rate * solPrice
			}
		}
	}
	return a.price(pool.Mint)
}

// poolExchangeRate decodes a pool state account and returns SOL per pool
// token, or 0 when the data does not carry a usable rate. Liquid staking
// tokens trade at a modest premium to SOL; a rate outside [1, 2) means the
// account is not a stake pool state this adapter understands.
func poolExchangeRate(data []byte) float64 {
	var state stakePoolState
	if err := bin.NewBinDecoder(data).Decode(&state); err != nil {
		return 0
	}
	if state.PoolTokenSupply == 0 {
		return 0
	}

	rate := float64(state.TotalLamports) / float64(state.PoolTokenSupply)
	if rate < 1.0 || rate >= 2.0 {
		return 0
	}
	return rate
}

// FetchProtocolStats aggregates the advertised APY across integrated pools
func (a *StakePoolAdapter) FetchProtocolStats(ctx context.Context) (*models.ProtocolStats, error) {
	if len(a.pools) == 0 {
		return &models.ProtocolStats{Protocol: a.ProtocolID(), DisplayName: a.DisplayName()}, nil
	}

	var sum float64
	for _, pool := range a.pools {
		sum += pool.Apy
	}

	return &models.ProtocolStats{
		Protocol:    a.ProtocolID(),
		DisplayName: a.DisplayName(),
		AverageApy:  sum / float64(len(a.pools)),
	}, nil
}

// SupportsToken reports whether the mint belongs to an integrated pool
func (a *StakePoolAdapter) SupportsToken(mint string) bool {
	for _, pool := range a.pools {
		if pool.Mint == mint {
			return true
		}
	}
	return false
}

// InvalidateWallet drops the adapter's cached positions for the wallet
func (a *StakePoolAdapter) InvalidateWallet(wallet string) {
	a.cache.Delete(wallet)
}

// Stop stops the adapter cache cleanup goroutine
func (a *StakePoolAdapter) Stop() {
	a.cache.Stop()
}
