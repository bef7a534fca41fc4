package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/phrazzld/moments-api/internal/domain"
	"github.com/phrazzld/moments-api/internal/store"
)

// History paging limits.
const (
	DefaultHistoryPageSize = 20
	MaxHistoryPageSize     = 100
)

// HistoryPage is one page of a user's history.
type HistoryPage struct {
	Items []*domain.HistoryEntry
	Page  int
	Size  int
	Total int
}

// HistoryService reads a user's analysis history.
type HistoryService interface {
	// List returns the given zero-based page, newest first. Out-of-range
	// paging parameters are clamped rather than rejected.
	List(ctx context.Context, userID uuid.UUID, page, size int) (*HistoryPage, error)

	// Get returns one entry of the user's own history.
	Get(ctx context.Context, userID, entryID uuid.UUID) (*domain.HistoryEntry, error)
}

// HistoryServiceImpl implements HistoryService.
type HistoryServiceImpl struct {
	history store.HistoryStore
	logger  *slog.Logger
}

// NewHistoryService creates a HistoryService.
func NewHistoryService(history store.HistoryStore, logger *slog.Logger) *HistoryServiceImpl {
	return &HistoryServiceImpl{
		history: history,
		logger:  logger.With("component", "history_service"),
	}
}

var _ HistoryService = (*HistoryServiceImpl)(nil)

// ClampPage normalizes paging parameters: page is at least 0, and size
// falls back to the default when unset and is capped at the maximum.
func ClampPage(page, size int) (int, int) {
	if page < 0 {
		page = 0
	}
	switch {
	case size <= 0:
		size = DefaultHistoryPageSize
	case size > MaxHistoryPageSize:
		size = MaxHistoryPageSize
	}
	return page, size
}

// List implements HistoryService.
func (s *HistoryServiceImpl) List(ctx context.Context, userID uuid.UUID, page, size int) (*HistoryPage, error) {
	page, size = ClampPage(page, size)

	items, total, err := s.history.ListHistory(ctx, userID, size, page*size)
	if err != nil {
		s.logger.Error("failed to list history", "error", err, "user_id", userID)
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	if items == nil {
		items = []*domain.HistoryEntry{}
	}

	return &HistoryPage{Items: items, Page: page, Size: size, Total: total}, nil
}

// Get implements HistoryService.
func (s *HistoryServiceImpl) Get(ctx context.Context, userID, entryID uuid.UUID) (*domain.HistoryEntry, error) {
	entry, err := s.history.GetHistory(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if entry.UserID != userID {
		return nil, store.ErrHistoryNotFound
	}
	return entry, nil
}
