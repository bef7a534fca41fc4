package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/phrazzld/moments-api/internal/domain"
)

// TaskStore defines persistence for tasks and their ordered steps.
// Version: 1.0
type TaskStore interface {
	// CreateTaskWithSteps inserts the task and one PENDING row per step
	// definition as a single atomic unit. Either everything is written or
	// nothing is, and the original error is returned on failure.
	CreateTaskWithSteps(ctx context.Context, task *domain.Task, defs []domain.StepDefinition) (uuid.UUID, error)

	// FindNextRunnableTask returns the task to work on next: any RUNNING task
	// before any PENDING one, oldest creation time first.
	// Returns ErrTaskNotFound when no task is runnable.
	FindNextRunnableTask(ctx context.Context) (*domain.Task, error)

	// GetTaskByID returns ErrTaskNotFound if the task does not exist.
	GetTaskByID(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	// GetTaskSteps returns the task's steps ordered by their order rank.
	GetTaskSteps(ctx context.Context, taskID uuid.UUID) ([]domain.Step, error)

	// ClaimTask atomically moves a PENDING task to RUNNING and reports whether
	// this caller performed the transition.
	ClaimTask(ctx context.Context, id uuid.UUID) (bool, error)

	// UpdateTaskStatus moves a non-terminal task to the given status.
	// Returns ErrTaskNotRunnable if the task is already terminal.
	UpdateTaskStatus(ctx context.Context, id uuid.UUID, status domain.Status, errorMessage *string) error

	// UpdateTaskResult stores the final result and marks the task SUCCESS.
	UpdateTaskResult(ctx context.Context, id uuid.UUID, result json.RawMessage) error

	// UpsertTaskError stores the error message and marks the task FAILED.
	UpsertTaskError(ctx context.Context, id uuid.UUID, message string) error

	// MarkStepRunning sets the step to RUNNING. The start time is recorded on
	// the first call only. A FAILED step is reopened with its finish time and
	// metadata cleared; a SUCCESS step yields ErrUpdateFailed.
	MarkStepRunning(ctx context.Context, stepID int64) error

	// MarkStepSuccess sets the step to SUCCESS with its finish time and metadata.
	MarkStepSuccess(ctx context.Context, stepID int64, extra json.RawMessage) error

	// MarkStepFailed sets the step to FAILED with its finish time and metadata.
	MarkStepFailed(ctx context.Context, stepID int64, extra json.RawMessage) error

	// WithTx returns a TaskStore bound to the given transaction.
	WithTx(tx *sql.Tx) TaskStore
}
