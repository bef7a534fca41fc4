package mocks

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/moments-api/internal/service/auth"
)

// MockJWTService issues tokens of the form "token-<user id>" and accepts
// exactly those. Set the Fn fields to override either method.
type MockJWTService struct {
	GenerateTokenFn func(ctx context.Context, userID uuid.UUID) (string, error)
	ValidateTokenFn func(ctx context.Context, token string) (*auth.Claims, error)
}

var _ auth.JWTService = (*MockJWTService)(nil)

// TokenFor returns the token MockJWTService issues for userID.
func TokenFor(userID uuid.UUID) string {
	return "token-" + userID.String()
}

// GenerateToken implements auth.JWTService.
func (m *MockJWTService) GenerateToken(ctx context.Context, userID uuid.UUID) (string, error) {
	if m.GenerateTokenFn != nil {
		return m.GenerateTokenFn(ctx, userID)
	}
	return TokenFor(userID), nil
}

// ValidateToken implements auth.JWTService.
func (m *MockJWTService) ValidateToken(ctx context.Context, token string) (*auth.Claims, error) {
	if m.ValidateTokenFn != nil {
		return m.ValidateTokenFn(ctx, token)
	}
	raw, ok := strings.CutPrefix(token, "token-")
	if !ok {
		return nil, auth.ErrInvalidToken
	}
	userID, err := uuid.Parse(raw)
	if err != nil {
		return nil, auth.ErrInvalidToken
	}
	now := time.Now().UTC()
	return &auth.Claims{
		UserID:    userID,
		TokenType: "access",
		Subject:   userID.String(),
		IssuedAt:  now,
		ExpiresAt: now.Add(time.Hour),
	}, nil
}
