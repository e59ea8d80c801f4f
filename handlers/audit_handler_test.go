package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/upb/helpdesk/middleware"
	"github.com/upb/helpdesk/models"
	"github.com/upb/helpdesk/services"
	"go.uber.org/zap"
)

// MockAuditService is a mock implementation of AuditService
type MockAuditService struct {
	mock.Mock
}

func (m *MockAuditService) Verify(ctx context.Context, start, end time.Time) (*models.VerificationReport, error) {
	args := m.Called(ctx, start, end)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.VerificationReport), args.Error(1)
}

func (m *MockAuditService) Entry(ctx context.Context, sequence int64) (*models.AuditLogEntry, error) {
	args := m.Called(ctx, sequence)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.AuditLogEntry), args.Error(1)
}

func (m *MockAuditService) Entries(ctx context.Context, filter models.AuditLogFilter, limit, offset int) ([]*models.AuditLogEntry, int64, error) {
	args := m.Called(ctx, filter, limit, offset)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]*models.AuditLogEntry), args.Get(1).(int64), args.Error(2)
}

// capturingRecorder keeps enqueued events
type capturingRecorder struct {
	mu     sync.Mutex
	events []models.AuditEvent
	full   bool
}

func (c *capturingRecorder) Enqueue(event models.AuditEvent) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.full {
		return false
	}
	c.events = append(c.events, event)
	return true
}

func (c *capturingRecorder) Events() []models.AuditEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.AuditEvent(nil), c.events...)
}

func adminClaims() *middleware.Claims {
	return &middleware.Claims{Sub: "admin-1", Email: "admin@helpdesk.test", Roles: []string{"Admin"}}
}

func verifyRequest(t *testing.T, body string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/audit/verify", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	ctx := middleware.WithClaims(req.Context(), adminClaims())
	ctx = middleware.WithRequestID(ctx, "req-123")
	return req.WithContext(ctx)
}

func sameInstant(want time.Time) interface{} {
	return mock.MatchedBy(func(got time.Time) bool { return got.Equal(want) })
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&envelope))
	require.NoError(t, json.Unmarshal(envelope.Data, out))
}

func TestHandleVerify(t *testing.T) {
	logger := zap.NewNop()
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 3, 2, 23, 59, 59, 999999000, time.UTC)

	t.Run("intact window", func(t *testing.T) {
		mockChain := new(MockAuditService)
		recorder := &capturingRecorder{}
		handler := NewAuditHandler(mockChain, recorder, logger)

		report := models.NewVerificationReport(start, end, "hmac-sha256")
		for seq := int64(1); seq <= 3; seq++ {
			report.Add(models.EntryVerification{SequenceNumber: seq, ID: uuid.New(), Status: models.EntryStatusValid}, 100)
		}
		mockChain.On("Verify", mock.Anything, sameInstant(start), sameInstant(end)).Return(report, nil)

		w := httptest.NewRecorder()
		handler.HandleVerify(w, verifyRequest(t, `{"startDate":"2026-03-01","endDate":"2026-03-02"}`))

		assert.Equal(t, http.StatusOK, w.Code)
		var got models.VerificationReport
		decodeData(t, w, &got)
		assert.True(t, got.Valid)
		assert.Equal(t, 3, got.TotalChecked)
		assert.Nil(t, got.FirstBrokenSequence)
		require.Len(t, got.Entries, 3)
		assert.Equal(t, int64(1), got.Entries[0].SequenceNumber)

		events := recorder.Events()
		require.Len(t, events, 1)
		assert.Equal(t, models.AuditActionChainVerified, events[0].Action)
		assert.Equal(t, "admin-1", events[0].ActorID)
		assert.Equal(t, models.ActorTypeUser, events[0].ActorType)
		assert.Equal(t, true, events[0].Metadata["valid"])
		assert.Equal(t, 3, events[0].Metadata["totalChecked"])
		assert.Equal(t, "req-123", events[0].Metadata["requestId"])

		mockChain.AssertExpectations(t)
	})

	t.Run("broken window is still a 200", func(t *testing.T) {
		mockChain := new(MockAuditService)
		handler := NewAuditHandler(mockChain, nil, logger)

		report := models.NewVerificationReport(start, end, "hmac-sha256")
		report.Add(models.EntryVerification{SequenceNumber: 1, Status: models.EntryStatusValid}, 100)
		report.Add(models.EntryVerification{
			SequenceNumber: 2,
			Status:         models.EntryStatusBroken,
			Reason:         models.BreakReasonHashMismatch,
		}, 100)
		mockChain.On("Verify", mock.Anything, mock.Anything, mock.Anything).Return(report, nil)

		w := httptest.NewRecorder()
		handler.HandleVerify(w, verifyRequest(t, `{"startDate":"2026-03-01T00:00:00Z","endDate":"2026-03-02T23:59:59.999999999Z"}`))

		assert.Equal(t, http.StatusOK, w.Code)
		var got models.VerificationReport
		decodeData(t, w, &got)
		assert.False(t, got.Valid)
		assert.Equal(t, 1, got.BrokenCount)
		require.NotNil(t, got.FirstBrokenSequence)
		assert.Equal(t, int64(2), *got.FirstBrokenSequence)
		assert.Equal(t, models.BreakReasonHashMismatch, got.Entries[1].Reason)
	})

	badRequests := []struct {
		name string
		body string
		want string
	}{
		{name: "invalid json", body: `{"startDate":`, want: "Invalid request body"},
		{name: "missing dates", body: `{}`, want: "startDate is required"},
		{name: "missing end date", body: `{"startDate":"2026-03-01"}`, want: "endDate is required"},
		{name: "malformed start date", body: `{"startDate":"03/01/2026","endDate":"2026-03-02"}`, want: "startDate must be an ISO-8601 date or date-time"},
		{name: "end before start", body: `{"startDate":"2026-03-02","endDate":"2026-03-01T12:00:00Z"}`, want: "endDate must not be before startDate"},
	}
	for _, tt := range badRequests {
		t.Run(tt.name, func(t *testing.T) {
			mockChain := new(MockAuditService)
			recorder := &capturingRecorder{}
			handler := NewAuditHandler(mockChain, recorder, logger)

			w := httptest.NewRecorder()
			handler.HandleVerify(w, verifyRequest(t, tt.body))

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), tt.want)
			mockChain.AssertNotCalled(t, "Verify", mock.Anything, mock.Anything, mock.Anything)
			assert.Empty(t, recorder.Events())
		})
	}

	t.Run("date-only end covers the whole day", func(t *testing.T) {
		mockChain := new(MockAuditService)
		handler := NewAuditHandler(mockChain, nil, logger)

		sameDayEnd := time.Date(2026, 3, 1, 23, 59, 59, 999999000, time.UTC)
		mockChain.On("Verify", mock.Anything, sameInstant(start), sameInstant(sameDayEnd)).
			Return(models.NewVerificationReport(start, sameDayEnd, "hmac-sha256"), nil)

		w := httptest.NewRecorder()
		handler.HandleVerify(w, verifyRequest(t, `{"startDate":"2026-03-01","endDate":"2026-03-01"}`))

		assert.Equal(t, http.StatusOK, w.Code)
		mockChain.AssertExpectations(t)
	})

	t.Run("store unavailable", func(t *testing.T) {
		mockChain := new(MockAuditService)
		recorder := &capturingRecorder{}
		handler := NewAuditHandler(mockChain, recorder, logger)

		mockChain.On("Verify", mock.Anything, mock.Anything, mock.Anything).
			Return(nil, services.WrapUnavailable("failed to read audit entries", errors.New("connection refused")))

		w := httptest.NewRecorder()
		handler.HandleVerify(w, verifyRequest(t, `{"startDate":"2026-03-01","endDate":"2026-03-02"}`))

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, "5", w.Header().Get("Retry-After"))
		assert.NotContains(t, w.Body.String(), "connection refused")
		assert.Empty(t, recorder.Events())
	})

	t.Run("dropped audit event does not fail the request", func(t *testing.T) {
		mockChain := new(MockAuditService)
		handler := NewAuditHandler(mockChain, &capturingRecorder{full: true}, logger)

		mockChain.On("Verify", mock.Anything, mock.Anything, mock.Anything).
			Return(models.NewVerificationReport(start, end, "hmac-sha256"), nil)

		w := httptest.NewRecorder()
		handler.HandleVerify(w, verifyRequest(t, `{"startDate":"2026-03-01","endDate":"2026-03-02"}`))

		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestHandleListLogs(t *testing.T) {
	logger := zap.NewNop()

	t.Run("defaults and filters", func(t *testing.T) {
		mockChain := new(MockAuditService)
		handler := NewAuditHandler(mockChain, nil, logger)

		entries := []*models.AuditLogEntry{
			{ID: uuid.New(), SequenceNumber: 2, Action: models.AuditActionTicketCreate, EntityType: "ticket", EntityID: "T-1"},
		}
		wantStart := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
		wantEnd := time.Date(2026, 3, 1, 23, 59, 59, 999999000, time.UTC)
		mockChain.On("Entries", mock.Anything, mock.MatchedBy(func(f models.AuditLogFilter) bool {
			return f.Action == models.AuditActionTicketCreate &&
				f.EntityType == "ticket" &&
				f.EntityID == "T-1" &&
				f.ActorID == "" &&
				f.Start != nil && f.Start.Equal(wantStart) &&
				f.End != nil && f.End.Equal(wantEnd)
		}), 50, 0).Return(entries, int64(1), nil)

		req := httptest.NewRequest(http.MethodGet,
			"/api/v1/audit/logs?action=ticket.create&entityType=ticket&entityId=T-1&start=2026-03-01&end=2026-03-01", nil)
		w := httptest.NewRecorder()
		handler.HandleListLogs(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		var got AuditLogListResponse
		decodeData(t, w, &got)
		assert.Equal(t, int64(1), got.Total)
		assert.Equal(t, 50, got.Limit)
		require.Len(t, got.Entries, 1)
		assert.Equal(t, int64(2), got.Entries[0].SequenceNumber)
		mockChain.AssertExpectations(t)
	})

	t.Run("explicit pagination", func(t *testing.T) {
		mockChain := new(MockAuditService)
		handler := NewAuditHandler(mockChain, nil, logger)

		mockChain.On("Entries", mock.Anything, models.AuditLogFilter{ActorID: "agent-7"}, 500, 1000).
			Return([]*models.AuditLogEntry(nil), int64(0), nil)

		w := httptest.NewRecorder()
		handler.HandleListLogs(w, httptest.NewRequest(http.MethodGet, "/api/v1/audit/logs?actorId=agent-7&limit=500&offset=1000", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"entries":[]`)
		mockChain.AssertExpectations(t)
	})

	invalid := []struct {
		name  string
		query string
	}{
		{name: "limit too large", query: "limit=501"},
		{name: "limit zero", query: "limit=0"},
		{name: "negative offset", query: "offset=-1"},
		{name: "bad start", query: "start=yesterday"},
		{name: "bad end", query: "end=tomorrow"},
	}
	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			mockChain := new(MockAuditService)
			handler := NewAuditHandler(mockChain, nil, logger)

			w := httptest.NewRecorder()
			handler.HandleListLogs(w, httptest.NewRequest(http.MethodGet, "/api/v1/audit/logs?"+tt.query, nil))

			assert.Equal(t, http.StatusBadRequest, w.Code)
			mockChain.AssertNotCalled(t, "Entries", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}

	t.Run("store unavailable", func(t *testing.T) {
		mockChain := new(MockAuditService)
		handler := NewAuditHandler(mockChain, nil, logger)

		mockChain.On("Entries", mock.Anything, mock.Anything, 50, 0).
			Return(nil, int64(0), services.WrapUnavailable("failed to list audit entries", errors.New("timeout")))

		w := httptest.NewRecorder()
		handler.HandleListLogs(w, httptest.NewRequest(http.MethodGet, "/api/v1/audit/logs", nil))

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

func TestHandleGetLog(t *testing.T) {
	logger := zap.NewNop()

	newRouter := func(h *AuditHandler) http.Handler {
		r := chi.NewRouter()
		r.Get("/api/v1/audit/logs/{sequence}", h.HandleGetLog)
		return r
	}

	t.Run("found", func(t *testing.T) {
		mockChain := new(MockAuditService)
		entry := &models.AuditLogEntry{
			ID:             uuid.New(),
			SequenceNumber: 7,
			Action:         models.AuditActionLogoutSuccess,
			Metadata:       json.RawMessage(`{}`),
		}
		mockChain.On("Entry", mock.Anything, int64(7)).Return(entry, nil)

		w := httptest.NewRecorder()
		newRouter(NewAuditHandler(mockChain, nil, logger)).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/audit/logs/7", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		var got models.AuditLogEntry
		decodeData(t, w, &got)
		assert.Equal(t, int64(7), got.SequenceNumber)
		assert.Equal(t, models.AuditActionLogoutSuccess, got.Action)
	})

	t.Run("not found", func(t *testing.T) {
		mockChain := new(MockAuditService)
		mockChain.On("Entry", mock.Anything, int64(99)).Return(nil,
			services.NewDomainError(services.ErrorTypeNotFound, "audit entry not found", nil))

		w := httptest.NewRecorder()
		newRouter(NewAuditHandler(mockChain, nil, logger)).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/audit/logs/99", nil))

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	for _, raw := range []string{"abc", "0", "-3"} {
		t.Run("invalid sequence "+raw, func(t *testing.T) {
			mockChain := new(MockAuditService)

			w := httptest.NewRecorder()
			newRouter(NewAuditHandler(mockChain, nil, logger)).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/audit/logs/"+raw, nil))

			assert.Equal(t, http.StatusBadRequest, w.Code)
			mockChain.AssertNotCalled(t, "Entry", mock.Anything, mock.Anything)
		})
	}
}
