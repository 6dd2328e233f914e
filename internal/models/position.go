package models

import "time"

// Position represents a single holding or DeFi position reported by a protocol adapter
type Position struct {
	Protocol     string  `json:"protocol"`
	ProtocolName string  `json:"protocol_name"`
	Kind         string  `json:"kind"`
	TokenMint    string  `json:"token_mint,omitempty"`
	TokenSymbol  string  `json:"token_symbol,omitempty"`
	Amount       float64 `json:"amount"`
	UsdValue     float64 `json:"usd_value"`
	Apy          float64 `json:"apy"`
	Rewards      float64 `json:"rewards"`
}

// ProtocolStats represents protocol-level statistics reported by an adapter
type ProtocolStats struct {
	Protocol    string  `json:"protocol"`
	DisplayName string  `json:"display_name"`
	TVL         float64 `json:"tvl"`
	AverageApy  float64 `json:"average_apy"`
}

// AggregatedResult is the merged portfolio view for a wallet.
// It is built fresh per aggregation pass and never mutated afterwards;
// a newer aggregation replaces the cached entry wholesale.
type AggregatedResult struct {
	WalletAddress string                `json:"wallet_address"`
	Positions     []Position            `json:"positions"`
	ByProtocol    map[string][]Position `json:"by_protocol"`
	TotalValue    float64               `json:"total_value"`
	WeightedApy   float64               `json:"weighted_apy"`
	TotalRewards  float64               `json:"total_rewards"`
	Cached        bool                  `json:"cached"`
	UpdatedAt     time.Time             `json:"updated_at"`
}

// PositionsRequest represents the incoming request for a wallet portfolio
type PositionsRequest struct {
	Wallet  string `json:"wallet"`
	Refresh bool   `json:"refresh"`
}

// InvalidateRequest represents an explicit cache invalidation request,
// typically triggered after a detected on-chain transaction
type InvalidateRequest struct {
	Wallet string `json:"wallet"`
}

// ProtocolInfo describes a registered adapter for the protocol listing endpoint
type ProtocolInfo struct {
	Protocol    string         `json:"protocol"`
	DisplayName string         `json:"display_name"`
	Priority    int            `json:"priority"`
	Stats       *ProtocolStats `json:"stats,omitempty"`
}
