// Package identity validates bearer tokens and turns them into caller
// identities. JWKSValidator accepts RS256 tokens from the external OIDC
// provider; HMACValidator accepts HS256 tokens signed with a shared secret.
package identity

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when the token is invalid
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired is returned when the token has expired
	ErrTokenExpired = errors.New("token expired")

	// ErrInvalidIssuer is returned when the token issuer is invalid
	ErrInvalidIssuer = errors.New("invalid issuer")

	// ErrInvalidAudience is returned when the token audience is invalid
	ErrInvalidAudience = errors.New("invalid audience")

	// ErrMissingClaim is returned when a required claim is missing
	ErrMissingClaim = errors.New("missing required claim")
)

// Claims are the JWT claims read from identity provider tokens
type Claims struct {
	jwt.RegisteredClaims
	OID               string   `json:"oid,omitempty"`
	Email             string   `json:"email,omitempty"`
	PreferredUsername string   `json:"preferred_username,omitempty"`
	Name              string   `json:"name,omitempty"`
	Roles             []string `json:"roles,omitempty"`
}

// Identity is the validated caller behind a token
type Identity struct {
	Subject   string
	Email     string
	Name      string
	Roles     []string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// toIdentity converts validated claims. The object id wins over sub when
// both are present, and preferred_username stands in for a missing email.
func toIdentity(claims *Claims) (*Identity, error) {
	subject := claims.OID
	if subject == "" {
		subject = claims.Subject
	}
	if subject == "" {
		return nil, fmt.Errorf("%w: sub", ErrMissingClaim)
	}

	email := claims.Email
	if email == "" {
		email = claims.PreferredUsername
	}

	roles := make([]string, 0, len(claims.Roles))
	for _, r := range claims.Roles {
		if r = strings.TrimSpace(r); r != "" {
			roles = append(roles, r)
		}
	}

	id := &Identity{
		Subject: subject,
		Email:   email,
		Name:    claims.Name,
		Roles:   roles,
	}
	if claims.IssuedAt != nil {
		id.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		id.ExpiresAt = claims.ExpiresAt.Time
	}
	return id, nil
}

// checkIssuerAudience enforces the configured issuer and audience; empty
// expectations are not checked
func checkIssuerAudience(claims *Claims, issuer, audience string) error {
	if issuer != "" && claims.Issuer != issuer {
		return fmt.Errorf("%w: expected %s, got %s", ErrInvalidIssuer, issuer, claims.Issuer)
	}
	if audience != "" && !containsAudience(claims.Audience, audience) {
		return ErrInvalidAudience
	}
	return nil
}

func containsAudience(audiences jwt.ClaimStrings, expected string) bool {
	for _, aud := range audiences {
		if aud == expected {
			return true
		}
	}
	return false
}

func wrapParseError(err error) error {
	if errors.Is(err, jwt.ErrTokenExpired) {
		return ErrTokenExpired
	}
	return fmt.Errorf("%w: %v", ErrInvalidToken, err)
}
