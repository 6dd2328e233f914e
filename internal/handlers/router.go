package handlers

import (
	"solana-portfolio-api/internal/adapters"
	"solana-portfolio-api/internal/services"

	"github.com/gin-gonic/gin"
)

// Router handles HTTP routing setup
type Router struct {
	portfolioHandler *PortfolioHandler
	healthHandler    *HealthHandler
}

// NewRouter creates a new Router instance with all handlers
func NewRouter(aggregation services.AggregationServiceInterface, registry *adapters.Registry, snapshots services.SnapshotStore, healthHandler *HealthHandler) *Router {
	return &Router{
		portfolioHandler: NewPortfolioHandler(aggregation, registry, snapshots),
		healthHandler:    healthHandler,
	}
}

// GetPortfolioHandler returns the portfolio handler for external access
func (r *Router) GetPortfolioHandler() *PortfolioHandler {
	return r.portfolioHandler
}

// SetupRoutes configures all API routes
func (r *Router) SetupRoutes(engine *gin.Engine) {
	api := engine.Group("/api")
	{
		api.POST("/get-positions", r.portfolioHandler.GetPositions)
		api.POST("/invalidate", r.portfolioHandler.Invalidate)
		api.GET("/protocols", r.portfolioHandler.ListProtocols)
		api.GET("/snapshots/:wallet", r.portfolioHandler.GetSnapshot)
	}
}

// SetupHealthRoutes configures health check routes
func (r *Router) SetupHealthRoutes(engine *gin.Engine) {
	health := engine.Group("/health")
	{
		health.GET("", r.healthHandler.GetHealth)            // Overall health
		health.GET("/live", r.healthHandler.GetLiveness)     // Liveness probe
		health.GET("/ready", r.healthHandler.GetReadiness)   // Readiness probe
		health.GET("/db", r.healthHandler.GetDatabaseHealth) // Database health
		health.GET("/rpc", r.healthHandler.GetRPCHealth)     // Upstream RPC health
	}
}
