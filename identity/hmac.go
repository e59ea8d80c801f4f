package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// HMACValidator validates HS256 tokens signed with a shared secret
type HMACValidator struct {
	secret   []byte
	issuer   string
	audience string
}

// NewHMACValidator creates a validator for tokens signed with secret
func NewHMACValidator(secret []byte, issuer, audience string) (*HMACValidator, error) {
	if len(secret) == 0 {
		return nil, errors.New("hmac secret must not be empty")
	}
	return &HMACValidator{secret: secret, issuer: issuer, audience: audience}, nil
}

// ValidateToken validates a token and returns the caller identity
func (v *HMACValidator) ValidateToken(_ context.Context, tokenString string) (*Identity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, wrapParseError(err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	if err := checkIssuerAudience(claims, v.issuer, v.audience); err != nil {
		return nil, err
	}

	return toIdentity(claims)
}

// TokenRequest describes a token minted by IssueHMACToken
type TokenRequest struct {
	Subject  string
	Email    string
	Name     string
	Roles    []string
	Issuer   string
	Audience string
	TTL      time.Duration
}

// IssueHMACToken signs an HS256 token for req. It is used by tooling and
// service-to-service callers.
func IssueHMACToken(secret []byte, req TokenRequest, now time.Time) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("hmac secret must not be empty")
	}
	if req.Subject == "" {
		return "", fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	if req.TTL <= 0 {
		req.TTL = time.Hour
	}

	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    req.Issuer,
			Subject:   req.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(req.TTL)),
		},
		Email: req.Email,
		Name:  req.Name,
		Roles: req.Roles,
	}
	if req.Audience != "" {
		claims.Audience = jwt.ClaimStrings{req.Audience}
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
