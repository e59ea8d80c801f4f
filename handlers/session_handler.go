package handlers

import (
	"net/http"

	"github.com/upb/helpdesk/middleware"
	"github.com/upb/helpdesk/models"
	"github.com/upb/helpdesk/utils"
	"go.uber.org/zap"
)

// CurrentUserResponse is the response body for GET /api/v1/auth/me
type CurrentUserResponse struct {
	Sub   string   `json:"sub"`
	Email string   `json:"email"`
	Name  string   `json:"name,omitempty"`
	Roles []string `json:"roles"`
}

// SessionHandler handles caller session requests
type SessionHandler struct {
	recorder      EventRecorder
	secureCookies bool
	logger        *zap.Logger
}

// NewSessionHandler creates a new SessionHandler. recorder may be nil.
// secureCookies marks cleared cookies Secure, for TLS deployments.
func NewSessionHandler(recorder EventRecorder, secureCookies bool, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{
		recorder:      recorder,
		secureCookies: secureCookies,
		logger:        logger,
	}
}

// HandleMe handles GET /api/v1/auth/me
func (h *SessionHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	if claims == nil {
		_ = utils.WriteUnauthorized(w, "Authentication required")
		return
	}

	roles := claims.Roles
	if roles == nil {
		roles = []string{}
	}
	_ = utils.WriteOK(w, CurrentUserResponse{
		Sub:   claims.Sub,
		Email: claims.Email,
		Name:  claims.Name,
		Roles: roles,
	})
}

// HandleLogout handles POST /api/v1/auth/logout. It clears the session
// cookies and records logout.success.
func (h *SessionHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := middleware.GetClaimsFromContext(ctx)
	if claims == nil {
		_ = utils.WriteUnauthorized(w, "Authentication required")
		return
	}

	for _, name := range middleware.SessionCookieNames() {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   h.secureCookies,
			SameSite: http.SameSiteStrictMode,
		})
	}

	if h.recorder != nil {
		event := models.NewAuditEvent(models.AuditActionLogoutSuccess).
			WithActor(claims.Sub, claims.Email).
			WithEntity("session", claims.Sub).
			WithMetadata("requestId", middleware.GetRequestIDFromContext(ctx))
		if !h.recorder.Enqueue(event) {
			h.logger.Warn("audit event dropped", zap.String("action", string(event.Action)))
		}
	}

	h.logger.Info("user logged out", zap.String("sub", claims.Sub))

	_ = utils.WriteOK(w, map[string]string{"status": "logged_out"})
}
