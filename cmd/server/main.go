package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"solana-portfolio-api/internal/adapters"
	"solana-portfolio-api/internal/config"
	"solana-portfolio-api/internal/handlers"
	"solana-portfolio-api/internal/middleware"
	internalrpc "solana-portfolio-api/internal/rpc"
	"solana-portfolio-api/internal/services"
	"solana-portfolio-api/pkg/logger"
	"solana-portfolio-api/pkg/ratelimiter"

	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Server represents the main application server
type Server struct {
	httpServer    *http.Server
	config        *config.Config
	authService   *services.AuthService
	rpcLimiter    *ratelimiter.Limiter
	connManager   *internalrpc.ConnectionManager
	batcher       *internalrpc.Batcher
	registry      *adapters.Registry
	aggregation   *services.AggregationService
	snapshots     *services.SnapshotRepository
	clientLimiter *ratelimiter.ClientLimiter
	router        *handlers.Router
}

func main() {
	// Load configuration
	cfg := config.LoadConfig()

	// Initialize logging
	loggerConfig := &logger.Config{
		Level:       cfg.Logging.Level,
		Environment: cfg.Logging.Environment,
		OutputPaths: cfg.Logging.OutputPaths,
	}

	if err := logger.Initialize(loggerConfig); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log := logger.GetLogger()

	log.Info("Starting Solana Portfolio API server",
		zap.String("host", cfg.Server.Host),
		zap.String("port", cfg.Server.Port),
		zap.String("rpc_endpoint", cfg.RPC.Endpoint),
		zap.Int("rpc_requests_per_second", cfg.RPC.RequestsPerSecond),
		zap.Duration("batch_delay", cfg.Batch.Delay),
		zap.Int("batch_max_size", cfg.Batch.MaxSize),
		zap.Duration("adapter_timeout", cfg.Adapters.FanoutTimeout),
		zap.Duration("aggregate_cache_ttl", cfg.Cache.TTL),
		zap.String("log_level", cfg.Logging.Level),
		zap.String("environment", cfg.Logging.Environment),
	)

	// Initialize and start server
	server, err := NewServer(cfg)
	if err != nil {
		log.Fatal("Failed to create server", zap.Error(err))
	}

	// Start server with graceful shutdown
	if err := server.Start(); err != nil {
		log.Fatal("Server failed to start", zap.Error(err))
	}
}

// NewServer creates a new server instance with all dependencies
func NewServer(cfg *config.Config) (*Server, error) {
	log := logger.GetLogger()

	log.Info("Initializing server components")

	// Authentication service (MongoDB API keys)
	log.Debug("Initializing authentication service")
	authService, err := services.NewAuthService(&cfg.MongoDB)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize auth service: %w", err)
	}

	// Outbound RPC rate limiter
	log.Debug("Initializing RPC rate limiter")
	rpcLimiter := ratelimiter.New(cfg.RPC.RequestsPerSecond, cfg.RPC.CounterReset)

	// Connection manager with retry policy
	log.Debug("Initializing connection manager")
	connManager := internalrpc.NewConnectionManager(
		rpcLimiter,
		internalrpc.ConnectionOptions{
			Commitment: solanarpc.CommitmentType(cfg.RPC.Commitment),
			Timeout:    cfg.RPC.Timeout,
		},
		internalrpc.RetryPolicy{
			MaxAttempts:       cfg.RPC.MaxAttempts,
			InitialDelay:      cfg.RPC.InitialDelay,
			MaxDelay:          cfg.RPC.MaxDelay,
			BackoffMultiplier: cfg.RPC.BackoffMultiplier,
		},
	)

	// Request coalescing batcher and the account lookup facade
	log.Debug("Initializing RPC batcher")
	batcher := internalrpc.NewBatcher(cfg.Batch.Delay, cfg.Batch.MaxSize)
	accountService := internalrpc.NewAccountService(connManager, batcher, cfg.RPC.Endpoint)

	// Test RPC connection
	log.Debug("Testing RPC connection health")
	healthCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := connManager.HealthCheck(healthCtx, cfg.RPC.Endpoint); err != nil {
		log.Warn("Solana RPC health check failed", zap.Error(err))
	} else {
		log.Info("Solana RPC connection healthy")
	}
	cancel()

	// Protocol adapter registry
	log.Debug("Registering protocol adapters")
	prices := adapters.StaticPrices(map[string]float64{
		adapters.WrappedSolMint: 150.0,
		"EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v": 1.0,
		"Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB": 1.0,
		"mSoLzYCxHdYgdzU16g5QSh3i5K3z3KZK7ytfqcJm7So":  172.0,
		"J1toso1uCk3RLmjorhTtrVwY9HJ7X8V9yYac6Y7kGCPn": 168.0,
	})

	registry := adapters.NewRegistry()
	registry.Register(adapters.NewNativeAdapter(accountService, prices, cfg.Adapters.CacheTTL))
	registry.Register(adapters.NewStakePoolAdapter(accountService, prices, cfg.Adapters.CacheTTL))
	registry.Register(adapters.NewSPLTokenAdapter(accountService, prices, cfg.Adapters.CacheTTL))

	// Snapshot history store; the server runs without it if unavailable
	log.Debug("Initializing snapshot repository")
	snapshots, err := services.NewSnapshotRepository(&cfg.MongoDB)
	if err != nil {
		log.Warn("Snapshot repository unavailable, continuing without history", zap.Error(err))
		snapshots = nil
	}

	// Aggregation service
	log.Debug("Initializing aggregation service")
	var snapshotStore services.SnapshotStore
	if snapshots != nil {
		snapshotStore = snapshots
	}
	aggregation := services.NewAggregationService(registry, snapshotStore, cfg)
	batcher.SetMetrics(aggregation.GetMetricsCollector())

	// Inbound per-client rate limiter
	log.Debug("Initializing inbound rate limiter")
	clientLimiter := ratelimiter.NewClientLimiter(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.WindowSize)

	// Database health checker
	log.Debug("Initializing database health checker")
	dbHealthChecker, err := services.NewDatabaseHealthChecker(&cfg.MongoDB)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database health checker: %w", err)
	}

	// Health handler with upstream RPC probe
	log.Debug("Initializing health handler")
	rpcProbe := func(ctx context.Context) error {
		return connManager.HealthCheck(ctx, cfg.RPC.Endpoint)
	}
	healthHandler := handlers.NewHealthHandler(dbHealthChecker, rpcProbe)

	// Router
	log.Debug("Initializing router")
	router := handlers.NewRouter(aggregation, registry, snapshotStore, healthHandler)

	log.Info("Server components initialized successfully",
		zap.Int("registered_adapters", registry.Size()),
	)

	return &Server{
		config:        cfg,
		authService:   authService,
		rpcLimiter:    rpcLimiter,
		connManager:   connManager,
		batcher:       batcher,
		registry:      registry,
		aggregation:   aggregation,
		snapshots:     snapshots,
		clientLimiter: clientLimiter,
		router:        router,
	}, nil
}

// Start starts the HTTP server with graceful shutdown handling
func (s *Server) Start() error {
	log := logger.GetLogger()

	// Set Gin mode based on environment
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	log.Debug("Creating Gin engine")

	engine := gin.New()

	// Setup middleware stack
	s.setupMiddleware(engine)

	// Setup routes
	s.setupRoutes(engine)

	// Create HTTP server with optimized timeout configurations
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", s.config.Server.Host, s.config.Server.Port),
		Handler:           engine,
		ReadTimeout:       s.config.Server.ReadTimeout,
		WriteTimeout:      s.config.Server.WriteTimeout,
		IdleTimeout:       s.config.Server.IdleTimeout,
		ReadHeaderTimeout: 5 * time.Second, // Prevent slow header attacks
		MaxHeaderBytes:    1 << 20,         // 1MB max header size
		// Enable HTTP/2 for better performance
		TLSNextProto: make(map[string]func(*http.Server, *tls.Conn, http.Handler)),
	}

	log.Info("HTTP server configured",
		zap.String("address", s.httpServer.Addr),
		zap.Duration("read_timeout", s.config.Server.ReadTimeout),
		zap.Duration("write_timeout", s.config.Server.WriteTimeout),
		zap.Duration("idle_timeout", s.config.Server.IdleTimeout),
	)

	// Start cleanup routines
	s.startCleanupRoutines()

	// Start server in a goroutine
	go func() {
		log.Info("Starting HTTP server", zap.String("address", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	return s.waitForShutdown()
}

// setupMiddleware configures the middleware stack
func (s *Server) setupMiddleware(engine *gin.Engine) {
	log := logger.GetLogger()

	log.Debug("Setting up middleware stack")

	// Recovery middleware with structured logging (should be first)
	engine.Use(logger.RecoveryMiddleware())

	// Structured logging middleware with correlation IDs
	engine.Use(logger.LoggingMiddleware())

	// Performance monitoring middleware stack
	engine.Use(middleware.PerformanceMiddleware(s.aggregation.GetMetricsCollector()))
	engine.Use(middleware.RequestSizeMiddleware())
	engine.Use(middleware.ConcurrencyMiddleware(s.aggregation.GetMetricsCollector()))

	// CORS middleware
	engine.Use(s.corsMiddleware())

	// Inbound rate limiting (before auth to prevent auth bypass attempts)
	engine.Use(s.clientLimiter.Middleware())

	log.Debug("Middleware stack configured")
}

// setupRoutes configures all application routes
func (s *Server) setupRoutes(engine *gin.Engine) {
	// Health check routes (no authentication required)
	s.router.SetupHealthRoutes(engine)

	// API routes with authentication
	api := engine.Group("/api")
	api.Use(middleware.AuthMiddleware(s.authService))
	{
		api.POST("/get-positions", s.router.GetPortfolioHandler().GetPositions)
		api.POST("/invalidate", s.router.GetPortfolioHandler().Invalidate)
		api.GET("/protocols", s.router.GetPortfolioHandler().ListProtocols)
		api.GET("/snapshots/:wallet", s.router.GetPortfolioHandler().GetSnapshot)
	}

	// Additional monitoring endpoints
	engine.GET("/metrics", s.metricsHandler)
	engine.GET("/status", s.statusHandler)
}

// corsMiddleware adds CORS headers
func (s *Server) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// metricsHandler provides comprehensive metrics endpoint
func (s *Server) metricsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service":      "solana-portfolio-api",
		"version":      "1.0.0",
		"performance":  s.aggregation.GetPerformanceStats(),
		"rate_limiter": s.rpcLimiter.Stats(),
		"batch_queues": s.batcher.QueueSizes(),
		"cache":        s.aggregation.GetCacheStats(),
	})
}

// statusHandler provides detailed status information
func (s *Server) statusHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	rpcHealthy := true
	if err := s.connManager.HealthCheck(ctx, s.config.RPC.Endpoint); err != nil {
		rpcHealthy = false
	}

	c.JSON(http.StatusOK, gin.H{
		"service":             "solana-portfolio-api",
		"status":              "running",
		"rpc_healthy":         rpcHealthy,
		"rpc_endpoints":       s.connManager.ActiveEndpoints(),
		"rpc_throttled":       s.rpcLimiter.IsThrottled(),
		"registered_adapters": s.registry.Size(),
		"uptime":              time.Since(startTime).String(),
		"version":             "1.0.0",
	})
}

// startCleanupRoutines starts background cleanup tasks
func (s *Server) startCleanupRoutines() {
	log := logger.GetLogger()

	// Inbound rate limiter cleanup
	go func() {
		ticker := time.NewTicker(s.config.RateLimit.CleanupInterval)
		defer ticker.Stop()

		log.Debug("Starting rate limiter cleanup routine",
			zap.Duration("interval", s.config.RateLimit.CleanupInterval),
		)

		for range ticker.C {
			s.clientLimiter.Cleanup()
		}
	}()

	log.Info("Background cleanup routines started")
}

// waitForShutdown waits for interrupt signal and performs graceful shutdown
func (s *Server) waitForShutdown() error {
	log := logger.GetLogger()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	log.Info("Received shutdown signal", zap.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	log.Info("Shutting down HTTP server", zap.Duration("timeout", 30*time.Second))

	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
		return err
	}

	s.cleanup()

	log.Info("Server gracefully stopped")
	return nil
}

// cleanup performs cleanup of all services
func (s *Server) cleanup() {
	log := logger.GetLogger()

	log.Info("Cleaning up services...")

	// Reject anything still pending in open batch windows
	if s.batcher != nil {
		log.Debug("Clearing batch windows")
		s.batcher.ClearAll()
	}

	// Stop aggregation service caches
	if s.aggregation != nil {
		log.Debug("Stopping aggregation service")
		s.aggregation.Stop()
	}

	// Stop per-adapter cache cleanup goroutines
	if s.registry != nil {
		for _, adapter := range s.registry.AdaptersByPriority() {
			if stoppable, ok := adapter.(interface{ Stop() }); ok {
				stoppable.Stop()
			}
		}
	}

	// Release pooled RPC connections and stop the limiter
	if s.connManager != nil {
		log.Debug("Closing RPC connections")
		s.connManager.CloseAll()
	}
	if s.rpcLimiter != nil {
		s.rpcLimiter.Stop()
	}

	// Close snapshot store
	if s.snapshots != nil {
		log.Debug("Closing snapshot repository")
		if err := s.snapshots.Close(); err != nil {
			log.Error("Error closing snapshot repository", zap.Error(err))
		}
	}

	// Close auth service (MongoDB connection)
	if s.authService != nil {
		log.Debug("Closing auth service")
		if err := s.authService.Close(); err != nil {
			log.Error("Error closing auth service", zap.Error(err))
		}
	}

	// Sync logger before exit
	if err := logger.GetLogger().Sync(); err != nil {
		// Don't log this error as logger might be closed
		fmt.Printf("Error syncing logger: %v\n", err)
	}

	log.Info("Cleanup completed")
}

// Global variable to track server start time for uptime calculation
var startTime = time.Now()
