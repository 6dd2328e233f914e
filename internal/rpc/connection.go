package rpc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"solana-portfolio-api/pkg/logger"
	"solana-portfolio-api/pkg/ratelimiter"

	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
)

// ConnectionOptions holds per-connection settings merged over the manager
// defaults when a connection is first created
type ConnectionOptions struct {
	Commitment rpc.CommitmentType
	Timeout    time.Duration
}

// Connection is a pooled RPC client for one endpoint. At most one live
// Connection exists per endpoint URL for the process lifetime; it is never
// destroyed except by an explicit Close.
type Connection struct {
	Client     *rpc.Client
	Endpoint   string
	Commitment rpc.CommitmentType
	Timeout    time.Duration
	createdAt  time.Time
}

// ConnectionManager pools one RPC client per endpoint URL and wraps every
// upstream call with rate-limited admission and retry-with-backoff.
type ConnectionManager struct {
	mu       sync.RWMutex
	pool     map[string]*Connection
	limiter  *ratelimiter.Limiter
	defaults ConnectionOptions
	policy   RetryPolicy
}

// NewConnectionManager creates a connection manager. All outbound calls made
// through Execute are admitted by the given limiter first.
func NewConnectionManager(limiter *ratelimiter.Limiter, defaults ConnectionOptions, policy RetryPolicy) *ConnectionManager {
	if defaults.Commitment == "" {
		defaults.Commitment = rpc.CommitmentFinalized
	}
	if defaults.Timeout == 0 {
		defaults.Timeout = 30 * time.Second
	}

	return &ConnectionManager{
		pool:     make(map[string]*Connection),
		limiter:  limiter,
		defaults: defaults,
		policy:   policy,
	}
}

// GetOrCreate returns the pooled connection for the endpoint, creating it on
// first use. Construction happens exactly once per endpoint; concurrent
// callers for the same URL receive the identical connection.
func (cm *ConnectionManager) GetOrCreate(endpoint string, opts *ConnectionOptions) *Connection {
	cm.mu.RLock()
	conn, exists := cm.pool[endpoint]
	cm.mu.RUnlock()

	if exists {
		return conn
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()

	// Double-check in case another goroutine created it
	if conn, exists := cm.pool[endpoint]; exists {
		return conn
	}

	merged := cm.defaults
	if opts != nil {
		if opts.Commitment != "" {
			merged.Commitment = opts.Commitment
		}
		if opts.Timeout != 0 {
			merged.Timeout = opts.Timeout
		}
	}

	conn = &Connection{
		Client:     rpc.New(endpoint),
		Endpoint:   endpoint,
		Commitment: merged.Commitment,
		Timeout:    merged.Timeout,
		createdAt:  time.Now(),
	}
	cm.pool[endpoint] = conn

	logger.GetLogger().Info("Created RPC connection",
		zap.String("endpoint", endpoint),
		zap.String("commitment", string(merged.Commitment)),
		zap.Duration("timeout", merged.Timeout),
	)

	return conn
}

// Execute runs op with rate-limited admission and the manager's default
// retry policy
func (cm *ConnectionManager) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	return cm.ExecuteWithPolicy(ctx, op, cm.policy)
}

// ExecuteWithPolicy runs op with rate-limited admission and retries. Before
// every attempt the limiter is consulted; transient failures back off
// multiplicatively up to the policy cap, terminal failures propagate
// immediately. The caller receives either a clean result or the last error
// after exhausting attempts, never anything partial.
func (cm *ConnectionManager) ExecuteWithPolicy(ctx context.Context, op func(ctx context.Context) error, policy RetryPolicy) error {
	log := logger.GetLogger()

	delay := policy.InitialDelay
	var lastErr error

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := cm.limiter.Admit(ctx); err != nil {
			return err
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return err
		}

		if attempt == policy.MaxAttempts {
			break
		}

		log.Debug("Retrying RPC call after transient error",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", policy.MaxAttempts),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay = policy.NextDelay(delay)
	}

	return fmt.Errorf("rpc call failed after %d attempts: %w", policy.MaxAttempts, lastErr)
}

// Close removes the pooled connection for the endpoint. No-op if absent.
func (cm *ConnectionManager) Close(endpoint string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	delete(cm.pool, endpoint)
}

// CloseAll removes every pooled connection
func (cm *ConnectionManager) CloseAll() {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.pool = make(map[string]*Connection)
}

// ActiveEndpoints returns the endpoint URLs with live pooled connections
func (cm *ConnectionManager) ActiveEndpoints() []string {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	endpoints := make([]string, 0, len(cm.pool))
	for endpoint := range cm.pool {
		endpoints = append(endpoints, endpoint)
	}
	return endpoints
}

// HealthCheck probes the endpoint by fetching the latest blockhash
func (cm *ConnectionManager) HealthCheck(ctx context.Context, endpoint string) error {
	conn := cm.GetOrCreate(endpoint, nil)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return cm.Execute(ctx, func(ctx context.Context) error {
		_, err := conn.Client.GetLatestBlockhash(ctx, conn.Commitment)
		if err != nil {
			return fmt.Errorf("RPC health check failed: %w", err)
		}
		return nil
	})
}
