package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TokenIssuer mints access tokens for authenticated users.
type TokenIssuer interface {
	GenerateToken(ctx context.Context, userID uuid.UUID) (string, error)
}

// TokenValidator verifies an access token and returns its claims.
// Expired tokens yield ErrExpiredToken; anything else unusable yields ErrInvalidToken.
type TokenValidator interface {
	ValidateToken(ctx context.Context, tokenString string) (*Claims, error)
}

// JWTService both issues and validates tokens.
type JWTService interface {
	TokenIssuer
	TokenValidator
}

// Claims is the decoded, verified content of an access token.
type Claims struct {
	UserID    uuid.UUID `json:"uid,omitempty"`
	TokenType string    `json:"type,omitempty"`
	Subject   string    `json:"sub,omitempty"`
	IssuedAt  time.Time `json:"iat,omitempty"`
	ExpiresAt time.Time `json:"exp,omitempty"`
	ID        string    `json:"jti,omitempty"`
}

// Remaining is how long the token stays valid after now. It is zero once expired.
func (c *Claims) Remaining(now time.Time) time.Duration {
	if d := c.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}
