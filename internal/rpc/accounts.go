package rpc

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// Batch request kinds. Each kind has at most one in-flight window at a time.
const (
	KindBalance     = "balance"
	KindAccountInfo = "account-info"
)

// AccountService exposes coalesced account and balance lookups: many
// independent single-key reads issued close in time collapse into one
// getMultipleAccounts upstream call.
type AccountService struct {
	manager  *ConnectionManager
	batcher  *Batcher
	endpoint string
}

// NewAccountService wires the batch kinds into the batcher and returns the
// lookup facade used by protocol adapters
func NewAccountService(manager *ConnectionManager, batcher *Batcher, endpoint string) *AccountService {
	as := &AccountService{
		manager:  manager,
		batcher:  batcher,
		endpoint: endpoint,
	}

	batcher.RegisterKind(KindBalance, as.fetchBalances)
	batcher.RegisterKind(KindAccountInfo, as.fetchAccounts)

	return as
}

// GetBalance returns the SOL balance for a wallet address, coalesced with
// concurrent balance lookups
func (as *AccountService) GetBalance(ctx context.Context, address string) (float64, error) {
	value, err := as.batcher.Enqueue(ctx, KindBalance, address)
	if err != nil {
		return 0, err
	}

	balance, ok := value.(float64)
	if !ok {
		// Account doesn't exist; treat as zero balance
		return 0, nil
	}
	return balance, nil
}

// GetBalances returns SOL balances for an explicit address list, chunked
// into sub-batches upstream
func (as *AccountService) GetBalances(ctx context.Context, addresses []string) (map[string]float64, error) {
	values, err := as.batcher.FetchMany(ctx, KindBalance, addresses)
	if err != nil {
		return nil, err
	}

	result := make(map[string]float64, len(addresses))
	for i, address := range addresses {
		if balance, ok := values[i].(float64); ok {
			result[address] = balance
		} else {
			result[address] = 0
		}
	}
	return result, nil
}

// GetAccount returns the raw account for an address, or nil if it does not
// exist, coalesced with concurrent account lookups
func (as *AccountService) GetAccount(ctx context.Context, address string) (*rpc.Account, error) {
	value, err := as.batcher.Enqueue(ctx, KindAccountInfo, address)
	if err != nil {
		return nil, err
	}

	account, _ := value.(*rpc.Account)
	return account, nil
}

// GetAccounts returns raw accounts for an explicit address list in input
// order; missing accounts are nil
func (as *AccountService) GetAccounts(ctx context.Context, addresses []string) ([]*rpc.Account, error) {
	values, err := as.batcher.FetchMany(ctx, KindAccountInfo, addresses)
	if err != nil {
		return nil, err
	}

	accounts := make([]*rpc.Account, len(addresses))
	for i, value := range values {
		account, _ := value.(*rpc.Account)
		accounts[i] = account
	}
	return accounts, nil
}

// Connection returns the pooled connection for the service endpoint
func (as *AccountService) Connection() *Connection {
	return as.manager.GetOrCreate(as.endpoint, nil)
}

// Manager returns the connection manager, for callers issuing protocol
// specific RPCs that cannot be key-batched
func (as *AccountService) Manager() *ConnectionManager {
	return as.manager
}

// fetchBalances is the multi-key upstream call behind KindBalance
func (as *AccountService) fetchBalances(ctx context.Context, keys []string) (map[string]interface{}, error) {
	accounts, err := as.multipleAccounts(ctx, keys)
	if err != nil {
		return nil, err
	}

	result := make(map[string]interface{}, len(keys))
	for i, key := range keys {
		if i < len(accounts) && accounts[i] != nil {
			// Convert lamports to SOL (1 SOL = 1,000,000,000 lamports)
			result[key] = float64(accounts[i].Lamports) / 1e9
		} else {
			result[key] = float64(0)
		}
	}
	return result, nil
}

// fetchAccounts is the multi-key upstream call behind KindAccountInfo
func (as *AccountService) fetchAccounts(ctx context.Context, keys []string) (map[string]interface{}, error) {
	accounts, err := as.multipleAccounts(ctx, keys)
	if err != nil {
		return nil, err
	}

	result := make(map[string]interface{}, len(keys))
	for i, key := range keys {
		if i < len(accounts) {
			result[key] = accounts[i]
		}
	}
	return result, nil
}

// multipleAccounts issues one getMultipleAccounts call through the
// connection manager's rate limiting and retry loop
func (as *AccountService) multipleAccounts(ctx context.Context, keys []string) ([]*rpc.Account, error) {
	pubKeys := make([]solana.PublicKey, len(keys))
	for i, key := range keys {
		pubKey, err := solana.PublicKeyFromBase58(key)
		if err != nil {
			return nil, fmt.Errorf("invalid account address %s: %w", key, err)
		}
		pubKeys[i] = pubKey
	}

	conn := as.Connection()

	var accounts []*rpc.Account
	err := as.manager.Execute(ctx, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, conn.Timeout)
		defer cancel()

		out, err := conn.Client.GetMultipleAccounts(ctx, pubKeys...)
		if err != nil {
			return err
		}
		accounts = out.Value
		return nil
	})
	if err != nil {
		return nil, err
	}

	return accounts, nil
}
