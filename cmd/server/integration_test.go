package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"solana-portfolio-api/internal/adapters"
	"solana-portfolio-api/internal/config"
	"solana-portfolio-api/internal/handlers"
	"solana-portfolio-api/internal/middleware"
	"solana-portfolio-api/internal/models"
	"solana-portfolio-api/internal/services"
	"solana-portfolio-api/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWallet = "So11111111111111111111111111111111111111112"

// MockAuthService implements AuthServiceInterface for testing
type MockAuthService struct {
	mu        sync.RWMutex
	validKeys map[string]*models.APIKey
}

// NewMockAuthService creates a new mock authentication service
func NewMockAuthService() *MockAuthService {
	return &MockAuthService{
		validKeys: make(map[string]*models.APIKey),
	}
}

// AddValidKey adds a valid API key for testing
func (m *MockAuthService) AddValidKey(key string, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.validKeys[key] = &models.APIKey{
		Key:       key,
		Name:      fmt.Sprintf("Test Key %s", key),
		Active:    active,
		CreatedAt: time.Now(),
	}
}

// ValidateAPIKey validates an API key (mock implementation)
func (m *MockAuthService) ValidateAPIKey(key string) (*models.APIKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	apiKey, exists := m.validKeys[key]
	if !exists {
		return nil, services.ErrInvalidAPIKey
	}

	if !apiKey.Active {
		return nil, services.ErrInactiveAPIKey
	}

	return apiKey, nil
}

// testAdapter reports fixed positions for any wallet
type testAdapter struct {
	id        string
	priority  int
	positions []models.Position
}

func (a *testAdapter) ProtocolID() string  { return a.id }
func (a *testAdapter) DisplayName() string { return a.id }
func (a *testAdapter) Priority() int       { return a.priority }

func (a *testAdapter) FetchPositions(ctx context.Context, wallet string) ([]models.Position, error) {
	return a.positions, nil
}

func (a *testAdapter) FetchProtocolStats(ctx context.Context) (*models.ProtocolStats, error) {
	return &models.ProtocolStats{Protocol: a.id, DisplayName: a.id}, nil
}

func (a *testAdapter) SupportsToken(mint string) bool { return false }

// memorySnapshotStore keeps the latest snapshot per wallet in memory
type memorySnapshotStore struct {
	mu       sync.Mutex
	byWallet map[string]*models.AggregatedResult
}

func newMemorySnapshotStore() *memorySnapshotStore {
	return &memorySnapshotStore{byWallet: make(map[string]*models.AggregatedResult)}
}

func (s *memorySnapshotStore) Save(ctx context.Context, result *models.AggregatedResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byWallet[result.WalletAddress] = result
	return nil
}

func (s *memorySnapshotStore) Latest(ctx context.Context, wallet string) (*models.AggregatedResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byWallet[wallet], nil
}

// setupTestServer wires the portfolio routes with mock auth and test adapters
func setupTestServer(t *testing.T) (*gin.Engine, *services.AggregationService, *memorySnapshotStore) {
	if err := logger.Initialize(&logger.Config{
		Level:       "debug",
		Environment: "test",
		OutputPaths: []string{"stdout"},
	}); err != nil {
		t.Fatalf("Failed to initialize logger: %v", err)
	}

	cfg := config.LoadConfig()
	cfg.Cache.TTL = time.Minute
	cfg.Cache.CleanupInterval = time.Minute
	cfg.Adapters.Parallel = true
	cfg.Adapters.FanoutTimeout = time.Second

	registry := adapters.NewRegistry()
	registry.Register(&testAdapter{id: "native", priority: 100, positions: []models.Position{
		{Protocol: "native", ProtocolName: "Native SOL", Kind: "wallet", TokenSymbol: "SOL", Amount: 2, UsdValue: 300},
	}})
	registry.Register(&testAdapter{id: "stake-pool", priority: 75, positions: []models.Position{
		{Protocol: "stake-pool", ProtocolName: "Stake Pools", Kind: "staking", TokenSymbol: "mSOL", Amount: 1, UsdValue: 172, Apy: 7.1},
	}})

	snapshots := newMemorySnapshotStore()
	aggregation := services.NewAggregationService(registry, snapshots, cfg)
	t.Cleanup(aggregation.Stop)

	mockAuth := NewMockAuthService()
	mockAuth.AddValidKey("test-api-key", true)
	mockAuth.AddValidKey("inactive-key", false)

	portfolioHandler := handlers.NewPortfolioHandler(aggregation, registry, snapshots)

	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	api := engine.Group("/api")
	api.Use(middleware.AuthMiddleware(mockAuth))
	{
		api.POST("/get-positions", portfolioHandler.GetPositions)
		api.POST("/invalidate", portfolioHandler.Invalidate)
		api.GET("/protocols", portfolioHandler.ListProtocols)
		api.GET("/snapshots/:wallet", portfolioHandler.GetSnapshot)
	}

	return engine, aggregation, snapshots
}

func postJSON(engine *gin.Engine, path, apiKey string, body interface{}) *httptest.ResponseRecorder {
	payload, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	recorder := httptest.NewRecorder()
	engine.ServeHTTP(recorder, req)
	return recorder
}

func TestGetPositionsEndpoint(t *testing.T) {
	engine, _, _ := setupTestServer(t)

	t.Run("AggregatesAcrossProtocols", func(t *testing.T) {
		recorder := postJSON(engine, "/api/get-positions", "test-api-key", models.PositionsRequest{
			Wallet: testWallet,
		})

		require.Equal(t, http.StatusOK, recorder.Code)

		var result models.AggregatedResult
		require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &result))

		assert.Equal(t, testWallet, result.WalletAddress)
		assert.Len(t, result.Positions, 2)
		assert.Equal(t, 472.0, result.TotalValue)
		assert.Len(t, result.ByProtocol, 2)
		assert.False(t, result.Cached)
	})

	t.Run("SecondRequestIsCached", func(t *testing.T) {
		recorder := postJSON(engine, "/api/get-positions", "test-api-key", models.PositionsRequest{
			Wallet: testWallet,
		})

		require.Equal(t, http.StatusOK, recorder.Code)

		var result models.AggregatedResult
		require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &result))
		assert.True(t, result.Cached)
	})

	t.Run("MissingWallet", func(t *testing.T) {
		recorder := postJSON(engine, "/api/get-positions", "test-api-key", map[string]string{})

		assert.Equal(t, http.StatusBadRequest, recorder.Code)
		assert.Contains(t, recorder.Body.String(), "MISSING_WALLET_ADDRESS")
	})

	t.Run("InvalidWalletFormat", func(t *testing.T) {
		recorder := postJSON(engine, "/api/get-positions", "test-api-key", models.PositionsRequest{
			Wallet: "not-a-wallet!",
		})

		assert.Equal(t, http.StatusBadRequest, recorder.Code)
	})

	t.Run("MissingAPIKey", func(t *testing.T) {
		recorder := postJSON(engine, "/api/get-positions", "", models.PositionsRequest{
			Wallet: testWallet,
		})

		assert.Equal(t, http.StatusUnauthorized, recorder.Code)
	})

	t.Run("InactiveAPIKey", func(t *testing.T) {
		recorder := postJSON(engine, "/api/get-positions", "inactive-key", models.PositionsRequest{
			Wallet: testWallet,
		})

		assert.Equal(t, http.StatusUnauthorized, recorder.Code)
	})
}

func TestInvalidateEndpoint(t *testing.T) {
	engine, _, _ := setupTestServer(t)

	// Warm the cache first
	recorder := postJSON(engine, "/api/get-positions", "test-api-key", models.PositionsRequest{Wallet: testWallet})
	require.Equal(t, http.StatusOK, recorder.Code)

	recorder = postJSON(engine, "/api/invalidate", "test-api-key", models.InvalidateRequest{Wallet: testWallet})
	require.Equal(t, http.StatusOK, recorder.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	assert.Equal(t, true, body["invalidated"])

	// Next fetch re-aggregates instead of serving the cached result
	recorder = postJSON(engine, "/api/get-positions", "test-api-key", models.PositionsRequest{Wallet: testWallet})
	require.Equal(t, http.StatusOK, recorder.Code)

	var result models.AggregatedResult
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &result))
	assert.False(t, result.Cached)
}

func TestProtocolsEndpoint(t *testing.T) {
	engine, _, _ := setupTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/protocols?stats=true", nil)
	req.Header.Set("Authorization", "Bearer test-api-key")
	recorder := httptest.NewRecorder()
	engine.ServeHTTP(recorder, req)

	require.Equal(t, http.StatusOK, recorder.Code)

	var body struct {
		Protocols []models.ProtocolInfo `json:"protocols"`
		Count     int                   `json:"count"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))

	assert.Equal(t, 2, body.Count)
	require.Len(t, body.Protocols, 2)
	// Listed in descending priority order
	assert.Equal(t, "native", body.Protocols[0].Protocol)
	assert.Equal(t, "stake-pool", body.Protocols[1].Protocol)
	assert.NotNil(t, body.Protocols[0].Stats)
}

func TestSnapshotsEndpoint(t *testing.T) {
	engine, _, snapshots := setupTestServer(t)

	t.Run("NoSnapshotYet", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/snapshots/"+testWallet, nil)
		req.Header.Set("Authorization", "Bearer test-api-key")
		recorder := httptest.NewRecorder()
		engine.ServeHTTP(recorder, req)

		assert.Equal(t, http.StatusNotFound, recorder.Code)
	})

	t.Run("ReturnsLatestSnapshot", func(t *testing.T) {
		// Aggregation persists a snapshot asynchronously
		recorder := postJSON(engine, "/api/get-positions", "test-api-key", models.PositionsRequest{Wallet: testWallet})
		require.Equal(t, http.StatusOK, recorder.Code)

		require.Eventually(t, func() bool {
			latest, _ := snapshots.Latest(context.Background(), testWallet)
			return latest != nil
		}, time.Second, 10*time.Millisecond)

		req := httptest.NewRequest(http.MethodGet, "/api/snapshots/"+testWallet, nil)
		req.Header.Set("Authorization", "Bearer test-api-key")
		rec := httptest.NewRecorder()
		engine.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)

		var result models.AggregatedResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
		assert.Equal(t, testWallet, result.WalletAddress)
		assert.Equal(t, 472.0, result.TotalValue)
	})
}
