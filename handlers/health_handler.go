package handlers

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/upb/helpdesk/internal/clock"
	"github.com/upb/helpdesk/models"
	"github.com/upb/helpdesk/utils"
	"go.uber.org/zap"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// ChainStatus exposes the most recent background verification
type ChainStatus interface {
	LastReport() *models.VerificationReport
}

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	db     *sql.DB
	chain  ChainStatus
	clock  clock.Clock
	logger *zap.Logger
}

// NewHealthHandler creates a new HealthHandler. chain may be nil.
func NewHealthHandler(db *sql.DB, chain ChainStatus, clk clock.Clock, logger *zap.Logger) *HealthHandler {
	if clk == nil {
		clk = clock.Real()
	}
	return &HealthHandler{
		db:     db,
		chain:  chain,
		clock:  clk,
		logger: logger,
	}
}

// HandleHealth handles GET /healthz
// Basic liveness check - always returns 200 if the process is serving
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: h.now(),
	}

	_ = utils.WriteOK(w, response)
}

// HandleReadiness handles GET /readyz
// Readiness check - the audit store must answer. The chain monitor result is
// reported but never fails readiness.
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	// Check database connectivity
	if err := h.checkDatabase(ctx); err != nil {
		h.logger.Warn("database health check failed", zap.Error(err))
		checks["database"] = "unhealthy"
		allHealthy = false
	} else {
		checks["database"] = "healthy"
	}

	if h.chain != nil {
		checks["audit_chain"] = chainState(h.chain.LastReport())
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !allHealthy {
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: h.now(),
		Checks:    checks,
	}

	if err := utils.WriteJSON(w, httpStatus, utils.SuccessResponse{Data: response}); err != nil {
		h.logger.Error("failed to write readiness response", zap.Error(err))
	}
}

// checkDatabase checks database connectivity
func (h *HealthHandler) checkDatabase(ctx context.Context) error {
	if h.db == nil {
		return nil // No database configured
	}

	if err := h.db.PingContext(ctx); err != nil {
		return err
	}

	var result int
	if err := h.db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return err
	}

	return nil
}

func (h *HealthHandler) now() string {
	return h.clock.Now().UTC().Format(time.RFC3339)
}

func chainState(report *models.VerificationReport) string {
	switch {
	case report == nil:
		return "unchecked"
	case report.Valid:
		return "intact"
	default:
		return "broken"
	}
}
