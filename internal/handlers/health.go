package handlers

import (
	"context"
	"net/http"
	"time"

	"solana-portfolio-api/internal/services"

	"github.com/gin-gonic/gin"
)

// HealthHandler handles health check endpoints
type HealthHandler struct {
	dbHealthChecker *services.DatabaseHealthChecker
	rpcProbe        func(ctx context.Context) error
}

// NewHealthHandler creates a new health handler. rpcProbe checks the
// upstream RPC endpoint and may be nil when no probe is wired.
func NewHealthHandler(dbHealthChecker *services.DatabaseHealthChecker, rpcProbe func(ctx context.Context) error) *HealthHandler {
	return &HealthHandler{
		dbHealthChecker: dbHealthChecker,
		rpcProbe:        rpcProbe,
	}
}

// HealthResponse represents the overall health response
type HealthResponse struct {
	Status    services.HealthStatus            `json:"status"`
	Timestamp time.Time                        `json:"timestamp"`
	Services  map[string]*services.HealthCheck `json:"services"`
	Version   string                           `json:"version,omitempty"`
}

// GetHealth returns the overall health status
func (h *HealthHandler) GetHealth(c *gin.Context) {
	// Get detailed health information
	serviceChecks := h.dbHealthChecker.GetDetailedHealth()

	// Determine overall status
	overallStatus := services.HealthStatusHealthy
	for _, check := range serviceChecks {
		if check.Status == services.HealthStatusUnhealthy {
			overallStatus = services.HealthStatusUnhealthy
			break
		} else if check.Status == services.HealthStatusDegraded && overallStatus == services.HealthStatusHealthy {
			overallStatus = services.HealthStatusDegraded
		}
	}

	response := HealthResponse{
		Status:    overallStatus,
		Timestamp: time.Now(),
		Services:  serviceChecks,
		Version:   "1.0.0", // This could be injected from build info
	}

	// Set appropriate HTTP status code
	statusCode := http.StatusOK
	if overallStatus == services.HealthStatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	} else if overallStatus == services.HealthStatusDegraded {
		statusCode = http.StatusOK // Still return 200 for degraded
	}

	c.JSON(statusCode, response)
}

// GetLiveness returns a simple liveness check
func (h *HealthHandler) GetLiveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"timestamp": time.Now(),
	})
}

// GetReadiness returns readiness status (checks if all dependencies are available)
func (h *HealthHandler) GetReadiness(c *gin.Context) {
	// Check database connectivity
	dbHealth := h.dbHealthChecker.CheckHealth()

	if dbHealth.Status == services.HealthStatusUnhealthy {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":    "not_ready",
			"message":   "database not available",
			"timestamp": time.Now(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "ready",
		"timestamp": time.Now(),
	})
}

// GetDatabaseHealth returns detailed database health information
func (h *HealthHandler) GetDatabaseHealth(c *gin.Context) {
	healthCheck := h.dbHealthChecker.CheckHealth()

	statusCode := http.StatusOK
	if healthCheck.Status == services.HealthStatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, healthCheck)
}

// GetRPCHealth probes the upstream Solana RPC endpoint
func (h *HealthHandler) GetRPCHealth(c *gin.Context) {
	if h.rpcProbe == nil {
		c.JSON(http.StatusOK, gin.H{
			"status":    "unknown",
			"message":   "no RPC probe configured",
			"timestamp": time.Now(),
		})
		return
	}

	start := time.Now()
	if err := h.rpcProbe(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":        "unhealthy",
			"message":       err.Error(),
			"response_time": time.Since(start).String(),
			"timestamp":     time.Now(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":        "healthy",
		"response_time": time.Since(start).String(),
		"timestamp":     time.Now(),
	})
}
