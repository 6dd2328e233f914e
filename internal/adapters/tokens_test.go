package adapters

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokens(t *testing.T) {
	t.Run("KnownMints", func(t *testing.T) {
		sol, ok := knownTokens[WrappedSolMint]
		require.True(t, ok)
		assert.Equal(t, "SOL", sol.Symbol)
		assert.Equal(t, 9, sol.Decimals)

		usdc, ok := knownTokens["EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"]
		require.True(t, ok)
		assert.Equal(t, "USDC", usdc.Symbol)
		assert.Equal(t, 6, usdc.Decimals)
	})

	t.Run("StaticPrices", func(t *testing.T) {
		prices := StaticPrices(map[string]float64{
			WrappedSolMint: 150.0,
		})

		assert.Equal(t, 150.0, prices(WrappedSolMint))
		assert.Equal(t, 0.0, prices("unknown-mint"))
	})
}
