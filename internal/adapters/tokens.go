package adapters

// PriceFunc resolves a token mint to its USD price. Wiring injects the
// pricing source; adapters treat an unknown mint as worthless rather than
// failing the fetch.
type PriceFunc func(mint string) float64

// WrappedSolMint is the wrapped SOL mint address, used to price native SOL
const WrappedSolMint = "So11111111111111111111111111111111111111112"

// TokenInfo describes a mint the SPL adapter knows how to present
type TokenInfo struct {
	Symbol   string
	Decimals int
}

// knownTokens maps the mints surfaced as holdings. Anything else found in a
// wallet's token accounts is skipped rather than shown without metadata.
var knownTokens = map[string]TokenInfo{
	WrappedSolMint: {Symbol: "SOL", Decimals: 9},
	"EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v": {Symbol: "USDC", Decimals: 6},
	"Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB": {Symbol: "USDT", Decimals: 6},
	"mSoLzYCxHdYgdzU16g5QSh3i5K3z3KZK7ytfqcJm7So":  {Symbol: "mSOL", Decimals: 9},
	"J1toso1uCk3RLmjorhTtrVwY9HJ7X8V9yYac6Y7kGCPn": {Symbol: "JitoSOL", Decimals: 9},
}

// StaticPrices builds a PriceFunc from a fixed mint-to-price table.
// Unlisted mints price at zero.
func StaticPrices(prices map[string]float64) PriceFunc {
	return func(mint string) float64 {
		return prices[mint]
	}
}
