package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/moments-api/internal/domain"
)

// CreditStore debits user credits and keeps the usage log.
type CreditStore interface {
	// ConsumeCredit removes one credit from the user and logs the usage kind.
	// Returns the remaining balance, or ErrInsufficientCredits when the
	// balance is already zero.
	ConsumeCredit(ctx context.Context, userID uuid.UUID, kind string, duration time.Duration) (int, error)
}

// HistoryStore persists and lists analysis history entries.
type HistoryStore interface {
	// RecordHistory appends an entry.
	RecordHistory(ctx context.Context, entry *domain.HistoryEntry) error

	// ListHistory returns one page of a user's entries, newest first, and the
	// total number of entries the user has.
	ListHistory(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.HistoryEntry, int, error)

	// GetHistory returns ErrHistoryNotFound if the entry does not exist.
	GetHistory(ctx context.Context, id uuid.UUID) (*domain.HistoryEntry, error)
}
