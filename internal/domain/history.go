package domain

import (
	"time"

	"github.com/google/uuid"
)

// HistoryEntry records one completed analysis for a user.
type HistoryEntry struct {
	ID           uuid.UUID `json:"id"`
	UserID       uuid.UUID `json:"userId"`
	CreatedAt    time.Time `json:"createdAt"`
	ImagePath    string    `json:"imagePath,omitempty"`
	InputText    string    `json:"inputText"`
	OutputText   string    `json:"outputText"`
	DurationMs   int64     `json:"durationMs"`
	InputTokens  int       `json:"inputTokens"`
	OutputTokens int       `json:"outputTokens"`
	TotalTokens  int       `json:"totalTokens"`
	ModelName    string    `json:"modelName,omitempty"`
	Success      bool      `json:"success"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
}

// NewHistoryEntry creates a successful history entry for the given user.
func NewHistoryEntry(userID uuid.UUID, inputText, outputText string) (*HistoryEntry, error) {
	if userID == uuid.Nil {
		return nil, NewValidationError("userId", "cannot be empty", ErrInvalidID)
	}

	return &HistoryEntry{
		ID:         uuid.New(),
		UserID:     userID,
		CreatedAt:  time.Now().UTC(),
		InputText:  inputText,
		OutputText: outputText,
		Success:    true,
	}, nil
}
