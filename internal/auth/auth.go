// Package auth verifies caller identity tokens.
package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stemsi/exstem-attempt-engine/internal/config"
	"github.com/stemsi/exstem-attempt-engine/internal/model"
)

// ErrInvalidToken is returned for any token that fails verification.
var ErrInvalidToken = errors.New("invalid token")

// Claims identifies the caller of a request.
type Claims struct {
	jwt.RegisteredClaims
	UserID      string     `json:"user_id"`
	Role        model.Role `json:"role"`
	Permissions []string   `json:"permissions,omitempty"`
}

// HasPermission reports whether the caller holds code.
func (c *Claims) HasPermission(code string) bool {
	return slices.Contains(c.Permissions, code)
}

// TokenVerifier turns a bearer token into claims.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*Claims, error)
}

// NewVerifier builds the verifier selected by cfg.AuthProvider.
func NewVerifier(cfg *config.Config) (TokenVerifier, error) {
	switch cfg.AuthProvider {
	case config.AuthProviderJWT, "":
		return NewJWTManager(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTExpiry), nil
	case config.AuthProviderCasdoor:
		return NewCasdoorVerifier(cfg), nil
	}
	return nil, fmt.Errorf("unknown auth provider %q", cfg.AuthProvider)
}
