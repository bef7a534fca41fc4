package mocks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/moments-api/internal/domain"
	"github.com/phrazzld/moments-api/internal/store"
)

// CreditCall records one ConsumeCredit invocation.
type CreditCall struct {
	UserID   uuid.UUID
	Kind     string
	Duration time.Duration
}

// MockCreditLedger keeps per-user balances in memory.
type MockCreditLedger struct {
	ConsumeCreditFn func(ctx context.Context, userID uuid.UUID, kind string, duration time.Duration) (int, error)

	mu       sync.Mutex
	balances map[uuid.UUID]int
	calls    []CreditCall
}

// NewMockCreditLedger creates a ledger with no users.
func NewMockCreditLedger() *MockCreditLedger {
	return &MockCreditLedger{balances: make(map[uuid.UUID]int)}
}

// SetBalance sets a user's credits.
func (m *MockCreditLedger) SetBalance(userID uuid.UUID, credits int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[userID] = credits
}

// Balance returns a user's credits.
func (m *MockCreditLedger) Balance(userID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[userID]
}

// Calls returns every ConsumeCredit invocation.
func (m *MockCreditLedger) Calls() []CreditCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]CreditCall(nil), m.calls...)
}

// ConsumeCredit implements store.CreditStore.
func (m *MockCreditLedger) ConsumeCredit(
	ctx context.Context,
	userID uuid.UUID,
	kind string,
	duration time.Duration,
) (int, error) {
	m.mu.Lock()
	m.calls = append(m.calls, CreditCall{UserID: userID, Kind: kind, Duration: duration})
	fn := m.ConsumeCreditFn
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, userID, kind, duration)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	balance, ok := m.balances[userID]
	if !ok {
		return 0, store.ErrUserNotFound
	}
	if balance <= 0 {
		return 0, store.ErrInsufficientCredits
	}
	m.balances[userID] = balance - 1
	return balance - 1, nil
}

// MockHistoryStore is an in-memory store.HistoryStore.
type MockHistoryStore struct {
	RecordHistoryErr error

	mu      sync.Mutex
	entries []*domain.HistoryEntry
}

// NewMockHistoryStore creates an empty history store.
func NewMockHistoryStore() *MockHistoryStore {
	return &MockHistoryStore{}
}

var (
	_ store.CreditStore  = (*MockCreditLedger)(nil)
	_ store.HistoryStore = (*MockHistoryStore)(nil)
)

// RecordHistory implements store.HistoryStore.
func (m *MockHistoryStore) RecordHistory(_ context.Context, entry *domain.HistoryEntry) error {
	if m.RecordHistoryErr != nil {
		return m.RecordHistoryErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *entry
	m.entries = append(m.entries, &c)
	return nil
}

// ListHistory implements store.HistoryStore.
func (m *MockHistoryStore) ListHistory(
	_ context.Context,
	userID uuid.UUID,
	limit, offset int,
) ([]*domain.HistoryEntry, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var mine []*domain.HistoryEntry
	for _, e := range m.entries {
		if e.UserID == userID {
			c := *e
			mine = append(mine, &c)
		}
	}
	sort.SliceStable(mine, func(i, j int) bool { return mine[i].CreatedAt.After(mine[j].CreatedAt) })

	total := len(mine)
	if offset >= total {
		return []*domain.HistoryEntry{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return mine[offset:end], total, nil
}

// GetHistory implements store.HistoryStore.
func (m *MockHistoryStore) GetHistory(_ context.Context, id uuid.UUID) (*domain.HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.ID == id {
			c := *e
			return &c, nil
		}
	}
	return nil, store.ErrHistoryNotFound
}

// Entries returns every recorded entry.
func (m *MockHistoryStore) Entries() []*domain.HistoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*domain.HistoryEntry(nil), m.entries...)
}

// MockThumbnailStore records saved thumbnails.
type MockThumbnailStore struct {
	Path string
	Err  error

	mu    sync.Mutex
	saved []uuid.UUID
}

// SaveThumbnail implements pipeline.ThumbnailStore.
func (m *MockThumbnailStore) SaveThumbnail(_ context.Context, userID uuid.UUID, _ domain.Image) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, userID)
	if m.Err != nil {
		return "", m.Err
	}
	return m.Path, nil
}

// Saved returns the owners of every saved thumbnail.
func (m *MockThumbnailStore) Saved() []uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]uuid.UUID(nil), m.saved...)
}
