package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state shared by tasks and their steps.
type Status string

// Possible task and step status values.
const (
	StatusPending Status = "PENDING"
	StatusRunning Status = "RUNNING"
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
)

// DefaultTaskType is the pipeline variant used when a caller does not name one.
const DefaultTaskType = "moments_optimize"

// Valid reports whether s is one of the known status values.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusSuccess, StatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transitions are allowed out of s.
func (s Status) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// IsRunnable reports whether a task in state s still has work to do.
func (s Status) IsRunnable() bool {
	return s == StatusPending || s == StatusRunning
}

// CanTransitionTo reports whether moving from s to next is a forward transition.
// Re-entering RUNNING is allowed so a task interrupted mid-run can be resumed.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusRunning || next == StatusFailed
	case StatusRunning:
		return next == StatusRunning || next == StatusSuccess || next == StatusFailed
	default:
		return false
	}
}

// ParseStatus converts a raw string into a Status.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToUpper(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
	}
	return s, nil
}

// Task is one persisted unit of pipeline work.
type Task struct {
	ID           uuid.UUID       `json:"id"`
	Type         string          `json:"type"`
	Status       Status          `json:"status"`
	Payload      json.RawMessage `json:"payload"`
	Result       json.RawMessage `json:"result,omitempty"`
	ErrorMessage *string         `json:"errorMessage,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// NewTask creates a PENDING task with a fresh ID.
// The payload must be a JSON object.
func NewTask(taskType string, payload json.RawMessage) (*Task, error) {
	now := time.Now().UTC()
	task := &Task{
		ID:        uuid.New(),
		Type:      taskType,
		Status:    StatusPending,
		Payload:   payload,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := task.Validate(); err != nil {
		return nil, err
	}

	return task, nil
}

// Validate checks the invariants a task must hold at any time.
func (t *Task) Validate() error {
	if t.ID == uuid.Nil {
		return NewValidationError("id", "cannot be empty", ErrInvalidID)
	}

	if strings.TrimSpace(t.Type) == "" {
		return ErrEmptyTaskType
	}

	if !t.Status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, t.Status)
	}

	if !isJSONObject(t.Payload) {
		return ErrInvalidPayload
	}

	switch t.Status {
	case StatusSuccess:
		if len(t.Result) == 0 {
			return NewValidationError("result", "is required for a successful task", ErrValidation)
		}
	case StatusFailed:
		if t.ErrorMessage == nil {
			return NewValidationError("errorMessage", "is required for a failed task", ErrValidation)
		}
	}

	return nil
}

// StepDefinition names one step of a pipeline before it is persisted.
type StepDefinition struct {
	Key   string `json:"key"`
	Label string `json:"label"`
}

// ValidateStepDefinitions checks that a pipeline has at least one step and
// that every step key is present and unique.
func ValidateStepDefinitions(defs []StepDefinition) error {
	if len(defs) == 0 {
		return ErrEmptyStepList
	}

	seen := make(map[string]struct{}, len(defs))
	for i, def := range defs {
		if strings.TrimSpace(def.Key) == "" {
			return fmt.Errorf("%w: step %d has no key", ErrInvalidStepDefinition, i+1)
		}
		if _, ok := seen[def.Key]; ok {
			return fmt.Errorf("%w: duplicate key %q", ErrInvalidStepDefinition, def.Key)
		}
		seen[def.Key] = struct{}{}
	}

	return nil
}

// Step is one ordered unit of work within a task.
type Step struct {
	ID         int64           `json:"id"`
	TaskID     uuid.UUID       `json:"taskId"`
	Order      int             `json:"order"`
	Key        string          `json:"key"`
	Label      string          `json:"label"`
	Status     Status          `json:"status"`
	StartedAt  *time.Time      `json:"startedAt,omitempty"`
	FinishedAt *time.Time      `json:"finishedAt,omitempty"`
	Extra      json.RawMessage `json:"extra,omitempty"`
}

// NewSteps expands step definitions into PENDING steps for the given task.
// Orders start at 1 and follow the position in defs.
func NewSteps(taskID uuid.UUID, defs []StepDefinition) ([]Step, error) {
	if err := ValidateStepDefinitions(defs); err != nil {
		return nil, err
	}

	steps := make([]Step, len(defs))
	for i, def := range defs {
		steps[i] = Step{
			TaskID: taskID,
			Order:  i + 1,
			Key:    def.Key,
			Label:  def.Label,
			Status: StatusPending,
		}
	}
	return steps, nil
}

func isJSONObject(raw json.RawMessage) bool {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return false
	}
	return obj != nil
}
