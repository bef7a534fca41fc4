package api

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/moments-api/internal/domain"
	"github.com/phrazzld/moments-api/internal/service"
)

// RegisterRequest defines the payload for user registration.
type RegisterRequest struct {
	Email    string `json:"email"    validate:"required,email"`
	Password string `json:"password" validate:"required,min=12,max=72"`
}

// LoginRequest defines the payload for user login.
type LoginRequest struct {
	Email    string `json:"email"    validate:"required,email"`
	Password string `json:"password" validate:"required,min=1"`
}

// AuthResponse defines the response for successful authentication.
type AuthResponse struct {
	UserID  uuid.UUID `json:"userId"`
	Token   string    `json:"token"`
	Credits int       `json:"credits"`
}

// CreateTaskResponse is returned when a task is accepted.
type CreateTaskResponse struct {
	TaskID uuid.UUID `json:"taskId"`
}

// TaskResponse is the task part of a task status response.
type TaskResponse struct {
	ID           uuid.UUID       `json:"id"`
	Type         string          `json:"type"`
	Status       domain.Status   `json:"status"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
	ResultJSON   json.RawMessage `json:"resultJson"`
	ErrorMessage *string         `json:"errorMessage"`
}

// StepResponse is one step of a task status response.
type StepResponse struct {
	StepKey    string        `json:"stepKey"`
	StepLabel  string        `json:"stepLabel"`
	Status     domain.Status `json:"status"`
	StartedAt  *time.Time    `json:"startedAt"`
	FinishedAt *time.Time    `json:"finishedAt"`
}

// TaskDetailResponse reports a task's progress. Apart from ServerTime it is
// a pure function of the stored task and steps.
type TaskDetailResponse struct {
	ServerTime time.Time      `json:"serverTime"`
	Task       TaskResponse   `json:"task"`
	Steps      []StepResponse `json:"steps"`
}

// HistoryEntryResponse is one analysis in the history listing.
type HistoryEntryResponse struct {
	ID           uuid.UUID `json:"id"`
	CreatedAt    time.Time `json:"createdAt"`
	ImagePath    string    `json:"imagePath"`
	InputText    string    `json:"inputText"`
	OutputText   string    `json:"outputText"`
	DurationMs   int64     `json:"durationMs"`
	InputTokens  int       `json:"inputTokens"`
	OutputTokens int       `json:"outputTokens"`
	TotalTokens  int       `json:"totalTokens"`
	ModelName    string    `json:"modelName"`
	Success      bool      `json:"success"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
}

// HistoryPageResponse is one page of history.
type HistoryPageResponse struct {
	Items []HistoryEntryResponse `json:"items"`
	Page  int                    `json:"page"`
	Size  int                    `json:"size"`
	Total int                    `json:"total"`
}

func taskDetailToResponse(detail *service.TaskDetail, now time.Time) TaskDetailResponse {
	t := detail.Task

	var result json.RawMessage
	if len(t.Result) > 0 {
		result = t.Result
	}

	steps := make([]StepResponse, 0, len(detail.Steps))
	for _, s := range detail.Steps {
		steps = append(steps, StepResponse{
			StepKey:    s.Key,
			StepLabel:  s.Label,
			Status:     s.Status,
			StartedAt:  s.StartedAt,
			FinishedAt: s.FinishedAt,
		})
	}

	return TaskDetailResponse{
		ServerTime: now,
		Task: TaskResponse{
			ID:           t.ID,
			Type:         t.Type,
			Status:       t.Status,
			CreatedAt:    t.CreatedAt,
			UpdatedAt:    t.UpdatedAt,
			ResultJSON:   result,
			ErrorMessage: t.ErrorMessage,
		},
		Steps: steps,
	}
}

func historyEntryToResponse(e *domain.HistoryEntry) HistoryEntryResponse {
	return HistoryEntryResponse{
		ID:           e.ID,
		CreatedAt:    e.CreatedAt,
		ImagePath:    e.ImagePath,
		InputText:    e.InputText,
		OutputText:   e.OutputText,
		DurationMs:   e.DurationMs,
		InputTokens:  e.InputTokens,
		OutputTokens: e.OutputTokens,
		TotalTokens:  e.TotalTokens,
		ModelName:    e.ModelName,
		Success:      e.Success,
		ErrorMessage: e.ErrorMessage,
	}
}
