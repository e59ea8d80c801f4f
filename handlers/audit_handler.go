package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/upb/helpdesk/middleware"
	"github.com/upb/helpdesk/models"
	"github.com/upb/helpdesk/services"
	"github.com/upb/helpdesk/utils"
	"go.uber.org/zap"
)

// Audit log listing page sizes
const (
	defaultAuditPageSize = 50
	maxAuditPageSize     = 500
)

// AuditService defines the chain operations exposed over HTTP
type AuditService interface {
	// Verify checks the integrity of entries timestamped in [start, end]
	Verify(ctx context.Context, start, end time.Time) (*models.VerificationReport, error)

	// Entry retrieves a single entry by sequence number
	Entry(ctx context.Context, sequence int64) (*models.AuditLogEntry, error)

	// Entries lists entries matching filter, newest first, with the total match count
	Entries(ctx context.Context, filter models.AuditLogFilter, limit, offset int) ([]*models.AuditLogEntry, int64, error)
}

// EventRecorder hands audit events to the background recorder without blocking
type EventRecorder interface {
	Enqueue(event models.AuditEvent) bool
}

// VerifyRequest represents a request to verify a window of the audit chain
type VerifyRequest struct {
	StartDate string `json:"startDate" validate:"required,iso8601"`
	EndDate   string `json:"endDate" validate:"required,iso8601"`
}

// AuditLogListResponse represents a page of audit log entries
type AuditLogListResponse struct {
	Entries []*models.AuditLogEntry `json:"entries"`
	Total   int64                   `json:"total"`
	Limit   int                     `json:"limit"`
	Offset  int                     `json:"offset"`
}

// AuditHandler handles audit chain HTTP requests
type AuditHandler struct {
	chain    AuditService
	recorder EventRecorder
	logger   *zap.Logger
}

// NewAuditHandler creates a new AuditHandler. recorder may be nil.
func NewAuditHandler(chain AuditService, recorder EventRecorder, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{
		chain:    chain,
		recorder: recorder,
		logger:   logger,
	}
}

// HandleVerify handles POST /api/v1/audit/verify
func (h *AuditHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	var req VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Debug("invalid verify request body",
			zap.String("request_id", requestID),
			zap.Error(err))
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}

	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	start, end, err := utils.ParseISO8601Range(req.StartDate, req.EndDate)
	if err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}
	if end.Before(start) {
		_ = utils.WriteBadRequest(w, services.ErrInvalidDateRange.Message, map[string]interface{}{
			"startDate": req.StartDate,
			"endDate":   req.EndDate,
		})
		return
	}

	report, err := h.chain.Verify(ctx, start, end)
	if err != nil {
		h.logger.Error("audit chain verification failed",
			zap.String("request_id", requestID),
			zap.Error(err))
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("audit chain verified",
		zap.String("request_id", requestID),
		zap.Time("start", start),
		zap.Time("end", end),
		zap.Bool("valid", report.Valid),
		zap.Int("checked", report.TotalChecked),
		zap.Int("broken", report.BrokenCount))

	h.record(ctx, models.NewAuditEvent(models.AuditActionChainVerified).
		WithEntity("audit_chain", "").
		WithMetadata("startDate", start.Format(time.RFC3339Nano)).
		WithMetadata("endDate", end.Format(time.RFC3339Nano)).
		WithMetadata("valid", report.Valid).
		WithMetadata("totalChecked", report.TotalChecked).
		WithMetadata("brokenCount", report.BrokenCount))

	_ = utils.WriteOK(w, report)
}

// HandleListLogs handles GET /api/v1/audit/logs
func (h *AuditHandler) HandleListLogs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	limit, offset, err := parsePagination(query.Get("limit"), query.Get("offset"))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	filter := models.AuditLogFilter{
		Action:     models.AuditAction(query.Get("action")),
		ActorID:    query.Get("actorId"),
		EntityType: query.Get("entityType"),
		EntityID:   query.Get("entityId"),
	}
	if raw := query.Get("start"); raw != "" {
		start, _, err := utils.ParseISO8601(raw)
		if err != nil {
			_ = utils.WriteBadRequest(w, "Invalid start date", map[string]interface{}{"start": raw})
			return
		}
		filter.Start = &start
	}
	if raw := query.Get("end"); raw != "" {
		end, dateOnly, err := utils.ParseISO8601(raw)
		if err != nil {
			_ = utils.WriteBadRequest(w, "Invalid end date", map[string]interface{}{"end": raw})
			return
		}
		if dateOnly {
			end = utils.EndOfDay(end)
		}
		filter.End = &end
	}

	entries, total, err := h.chain.Entries(ctx, filter, limit, offset)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	if entries == nil {
		entries = []*models.AuditLogEntry{}
	}

	_ = utils.WriteOK(w, AuditLogListResponse{
		Entries: entries,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
	})
}

// HandleGetLog handles GET /api/v1/audit/logs/{sequence}
func (h *AuditHandler) HandleGetLog(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "sequence")
	sequence, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || sequence < 1 {
		_ = utils.WriteBadRequest(w, "Invalid sequence number", map[string]interface{}{"sequence": raw})
		return
	}

	entry, err := h.chain.Entry(r.Context(), sequence)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, entry)
}

// record attributes event to the caller and enqueues it
func (h *AuditHandler) record(ctx context.Context, event models.AuditEvent) {
	if h.recorder == nil {
		return
	}
	if claims := middleware.GetClaimsFromContext(ctx); claims != nil {
		event = event.WithActor(claims.Sub, claims.Email)
	}
	if requestID := middleware.GetRequestIDFromContext(ctx); requestID != "" {
		event = event.WithMetadata("requestId", requestID)
	}
	if !h.recorder.Enqueue(event) {
		h.logger.Warn("audit event dropped", zap.String("action", string(event.Action)))
	}
}

func parsePagination(rawLimit, rawOffset string) (int, int, error) {
	limit := defaultAuditPageSize
	if rawLimit != "" {
		n, err := strconv.Atoi(rawLimit)
		if err != nil || n < 1 || n > maxAuditPageSize {
			return 0, 0, services.NewValidationError("limit must be between 1 and 500").
				WithDetail("limit", rawLimit)
		}
		limit = n
	}

	offset := 0
	if rawOffset != "" {
		n, err := strconv.Atoi(rawOffset)
		if err != nil || n < 0 {
			return 0, 0, services.NewValidationError("offset must not be negative").
				WithDetail("offset", rawOffset)
		}
		offset = n
	}
	return limit, offset, nil
}
