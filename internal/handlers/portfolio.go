package handlers

import (
	"net/http"
	"strings"

	"solana-portfolio-api/internal/adapters"
	"solana-portfolio-api/internal/models"
	"solana-portfolio-api/internal/services"
	"solana-portfolio-api/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// PortfolioHandler handles portfolio aggregation HTTP requests
type PortfolioHandler struct {
	aggregation services.AggregationServiceInterface
	registry    *adapters.Registry
	snapshots   services.SnapshotStore
}

// NewPortfolioHandler creates a new PortfolioHandler instance. snapshots
// may be nil when no history store is wired.
func NewPortfolioHandler(aggregation services.AggregationServiceInterface, registry *adapters.Registry, snapshots services.SnapshotStore) *PortfolioHandler {
	return &PortfolioHandler{
		aggregation: aggregation,
		registry:    registry,
		snapshots:   snapshots,
	}
}

// GetPositions handles POST /api/get-positions requests
func (h *PortfolioHandler) GetPositions(c *gin.Context) {
	log := logger.GetLogger().WithContext(c.Request.Context())

	var req models.PositionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warn("Invalid JSON in request",
			zap.Error(err),
			zap.String("content_type", c.GetHeader("Content-Type")),
		)

		appErr := models.NewAppErrorWithDetails(
			models.ErrorCodeMalformedJSON,
			"Invalid JSON format",
			err.Error(),
		)
		models.HandleError(c, appErr, log)
		return
	}

	if req.Wallet == "" {
		appErr := models.NewAppErrorWithDetails(
			models.ErrorCodeMissingWallet,
			"Wallet address is required",
			"Provide a wallet address in the request body",
		)
		models.HandleError(c, appErr, log)
		return
	}

	if !isValidSolanaAddress(req.Wallet) {
		log.Warn("Invalid wallet address format",
			zap.String("wallet_address", req.Wallet),
		)

		appErr := models.NewAppErrorWithDetails(
			models.ErrorCodeInvalidWallet,
			"Invalid wallet address format",
			"Wallet address: "+req.Wallet,
		).WithContext("wallet_address", req.Wallet)
		models.HandleError(c, appErr, log)
		return
	}

	log.Info("Aggregating wallet portfolio",
		zap.String("wallet_address", req.Wallet),
		zap.Bool("refresh", req.Refresh),
	)

	result, err := h.aggregation.FetchAllPositions(c.Request.Context(), req.Wallet, services.FetchOptions{
		Refresh: req.Refresh,
	})
	if err != nil {
		log.Error("Portfolio aggregation failed",
			zap.Error(err),
			zap.String("wallet_address", req.Wallet),
		)

		appErr := models.NewAppErrorWithCause(
			models.ErrorCodeAggregationFailed,
			"Failed to aggregate portfolio",
			err,
		).WithContext("wallet_address", req.Wallet)
		models.HandleError(c, appErr, log)
		return
	}

	c.JSON(http.StatusOK, result)
}

// Invalidate handles POST /api/invalidate requests, dropping every cached
// entry for a wallet
func (h *PortfolioHandler) Invalidate(c *gin.Context) {
	log := logger.GetLogger().WithContext(c.Request.Context())

	var req models.InvalidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		appErr := models.NewAppErrorWithDetails(
			models.ErrorCodeMalformedJSON,
			"Invalid JSON format",
			err.Error(),
		)
		models.HandleError(c, appErr, log)
		return
	}

	if !isValidSolanaAddress(req.Wallet) {
		appErr := models.NewAppErrorWithDetails(
			models.ErrorCodeInvalidWallet,
			"Invalid wallet address format",
			"Wallet address: "+req.Wallet,
		)
		models.HandleError(c, appErr, log)
		return
	}

	h.aggregation.Invalidate(req.Wallet)

	log.Info("Invalidated wallet caches",
		zap.String("wallet_address", req.Wallet),
	)

	c.JSON(http.StatusOK, gin.H{
		"wallet_address": req.Wallet,
		"invalidated":    true,
	})
}

// ListProtocols handles GET /api/protocols requests
func (h *PortfolioHandler) ListProtocols(c *gin.Context) {
	withStats := c.Query("stats") == "true"
	infos := h.registry.ProtocolInfos(c.Request.Context(), withStats)

	c.JSON(http.StatusOK, gin.H{
		"protocols": infos,
		"count":     len(infos),
	})
}

// GetSnapshot handles GET /api/snapshots/:wallet requests, returning the
// wallet's most recent persisted portfolio
func (h *PortfolioHandler) GetSnapshot(c *gin.Context) {
	log := logger.GetLogger().WithContext(c.Request.Context())

	wallet := c.Param("wallet")
	if !isValidSolanaAddress(wallet) {
		appErr := models.NewAppErrorWithDetails(
			models.ErrorCodeInvalidWallet,
			"Invalid wallet address format",
			"Wallet address: "+wallet,
		)
		models.HandleError(c, appErr, log)
		return
	}

	if h.snapshots == nil {
		appErr := models.NewAppError(
			models.ErrorCodeSnapshotNotFound,
			"Snapshot store not configured",
		)
		models.HandleError(c, appErr, log)
		return
	}

	snapshot, err := h.snapshots.Latest(c.Request.Context(), wallet)
	if err != nil {
		appErr := models.NewAppErrorWithCause(
			models.ErrorCodeDatabaseError,
			"Failed to load snapshot",
			err,
		)
		models.HandleError(c, appErr, log)
		return
	}

	if snapshot == nil {
		appErr := models.NewAppError(
			models.ErrorCodeSnapshotNotFound,
			"No snapshot found for wallet",
		)
		models.HandleError(c, appErr, log)
		return
	}

	c.JSON(http.StatusOK, snapshot)
}

// isValidSolanaAddress validates Solana wallet address format.
// Solana addresses are base58 encoded and typically 32-44 characters long.
func isValidSolanaAddress(address string) bool {
	if len(address) < 32 || len(address) > 44 {
		return false
	}

	// Base58 alphabet: no 0, O, I, or l
	validChars := "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"
	for _, char := range address {
		if !strings.ContainsRune(validChars, char) {
			return false
		}
	}

	return true
}
