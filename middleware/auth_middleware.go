package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/upb/helpdesk/internal/auth"
	"github.com/upb/helpdesk/models"
	"github.com/upb/helpdesk/utils"
	"go.uber.org/zap"
)

// TokenValidator defines the interface for validating bearer tokens
type TokenValidator interface {
	// ValidateToken validates a token and returns claims
	ValidateToken(ctx context.Context, token string) (*Claims, error)
}

// DenialRecorder receives access.denied audit events. Enqueue must not block.
type DenialRecorder interface {
	Enqueue(event models.AuditEvent) bool
}

// AuthMiddleware provides authentication middleware functionality
type AuthMiddleware struct {
	validator TokenValidator
	recorder  DenialRecorder
	logger    *zap.Logger
}

// NewAuthMiddleware creates a new AuthMiddleware. recorder may be nil.
func NewAuthMiddleware(validator TokenValidator, recorder DenialRecorder, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		validator: validator,
		recorder:  recorder,
		logger:    logger,
	}
}

// authTokenCookieName and sessionCookieName carry the token for browser
// clients; the Authorization header takes precedence
const (
	authTokenCookieName = "auth_token"
	sessionCookieName   = "session"
)

// RequireAuth is a middleware that requires a valid bearer token
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := GetRequestIDFromContext(ctx)

		token := extractToken(r)
		if token == "" {
			m.logger.Warn("missing token",
				zap.String("request_id", requestID))
			_ = utils.WriteUnauthorized(w, "Missing or invalid authorization")
			return
		}

		claims, err := m.validator.ValidateToken(ctx, token)
		if err != nil {
			m.logger.Warn("token validation failed",
				zap.String("request_id", requestID),
				zap.Error(err))
			_ = utils.WriteUnauthorized(w, "Invalid or expired token")
			return
		}

		ctx = WithClaims(ctx, claims)

		m.logger.Debug("authentication successful",
			zap.String("request_id", requestID),
			zap.String("sub", claims.Sub),
			zap.String("email", claims.Email))

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAnyRole is a middleware that requires the caller to hold at least
// one of roles. Must run after RequireAuth. Denials are audited.
func (m *AuthMiddleware) RequireAnyRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := GetRequestIDFromContext(ctx)

			claims := GetClaimsFromContext(ctx)
			if claims == nil {
				m.logger.Error("claims not found in context",
					zap.String("request_id", requestID))
				_ = utils.WriteUnauthorized(w, "Authentication required")
				return
			}

			if decision := auth.Authorize(claims.Roles, roles); !decision.Allowed() {
				m.logger.Warn("insufficient permissions",
					zap.String("request_id", requestID),
					zap.String("sub", claims.Sub),
					zap.Strings("required_roles", roles),
					zap.Strings("user_roles", claims.Roles))
				m.recordDenial(r, claims, roles)
				_ = utils.WriteForbidden(w, "Insufficient permissions")
				return
			}

			m.logger.Debug("role check passed",
				zap.String("request_id", requestID),
				zap.Strings("required_roles", roles))

			next.ServeHTTP(w, r)
		})
	}
}

func (m *AuthMiddleware) recordDenial(r *http.Request, claims *Claims, required []string) {
	if m.recorder == nil {
		return
	}
	event := models.NewAuditEvent(models.AuditActionAccessDenied).
		WithActor(claims.Sub, claims.Email).
		WithEntity("route", r.Method+" "+r.URL.Path).
		WithMetadata("requiredRoles", required).
		WithMetadata("callerRoles", claims.Roles).
		WithMetadata("requestId", GetRequestIDFromContext(r.Context()))
	m.recorder.Enqueue(event)
}

// extractToken extracts the token from the Authorization header ("Bearer TOKEN")
// or the auth_token / session cookie
func extractToken(r *http.Request) string {
	if token := extractBearerToken(r); token != "" {
		return token
	}
	for _, name := range []string{authTokenCookieName, sessionCookieName} {
		if cookie, err := r.Cookie(name); err == nil && cookie.Value != "" {
			return cookie.Value
		}
	}
	return ""
}

// extractBearerToken extracts the Bearer token from the Authorization header
func extractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}

	return strings.TrimSpace(parts[1])
}

// SessionCookieNames returns the cookies that may carry a session token
func SessionCookieNames() []string {
	return []string{authTokenCookieName, sessionCookieName}
}
