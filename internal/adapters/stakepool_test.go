package adapters

import (
	"bytes"
	"testing"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// encodePoolState serializes a minimal stake pool state account with the
// given lamports/supply pair
func encodePoolState(t *testing.T, totalLamports, poolTokenSupply uint64) []byte {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, bin.NewBinEncoder(&buf).Encode(stakePoolState{
		AccountType:     1,
		TotalLamports:   totalLamports,
		PoolTokenSupply: poolTokenSupply,
	}))
	return buf.Bytes()
}

func TestStakePoolAdapter(t *testing.T) {
	t.Run("ExchangeRateFromState", func(t *testing.T) {
		// 1150 SOL backing 1000 pool tokens
		data := encodePoolState(t, 1_150_000_000_000, 1_000_000_000_000)

		rate := poolExchangeRate(data)
		assert.InDelta(t, 1.15, rate, 0.0001)
	})

	t.Run("ZeroSupplyYieldsNoRate", func(t *testing.T) {
		data := encodePoolState(t, 1_000_000_000, 0)
		assert.Equal(t, 0.0, poolExchangeRate(data))
	})

	t.Run("TruncatedStateYieldsNoRate", func(t *testing.T) {
		assert.Equal(t, 0.0, poolExchangeRate([]byte{0x01, 0x02, 0x03}))
		assert.Equal(t, 0.0, poolExchangeRate(nil))
	})

	t.Run("ImplausibleRateRejected", func(t *testing.T) {
		// Garbage that happens to decode still has to land in the band a
		// liquid staking token can actually trade at
		assert.Equal(t, 0.0, poolExchangeRate(encodePoolState(t, 5_000, 1_000)))
		assert.Equal(t, 0.0, poolExchangeRate(encodePoolState(t, 500, 1_000)))
	})

	t.Run("PoolTokenPriceFallsBackToStaticTable", func(t *testing.T) {
		adapter := NewStakePoolAdapter(nil, StaticPrices(map[string]float64{
			"mSoLzYCxHdYgdzU16g5QSh3i5K3z3KZK7ytfqcJm7So": 172.0,
		}), time.Minute)
		defer adapter.Stop()

		pool := stakePool{Mint: "mSoLzYCxHdYgdzU16g5QSh3i5K3z3KZK7ytfqcJm7So"}
		assert.Equal(t, 172.0, adapter.poolTokenPrice(pool, nil))
	})

	t.Run("SupportsToken", func(t *testing.T) {
		adapter := NewStakePoolAdapter(nil, StaticPrices(nil), time.Minute)
		defer adapter.Stop()

		assert.True(t, adapter.SupportsToken("mSoLzYCxHdYgdzU16g5QSh3i5K3z3KZK7ytfqcJm7So"))
		assert.False(t, adapter.SupportsToken("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"))
	})
}
