package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/moments-api/internal/domain"
	"github.com/phrazzld/moments-api/internal/platform/logger"
	"github.com/phrazzld/moments-api/internal/store"
)

const taskColumns = `id, type, status, payload, result, error_message, created_at, updated_at`

// PostgresTaskStore implements store.TaskStore using PostgreSQL.
type PostgresTaskStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresTaskStore creates a task store over a connection pool or a
// transaction. If logger is nil, the default logger is used.
func NewPostgresTaskStore(db store.DBTX, logger *slog.Logger) *PostgresTaskStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresTaskStore{
		db:     db,
		logger: logger.With(slog.String("component", "task_store")),
	}
}

var _ store.TaskStore = (*PostgresTaskStore)(nil)

// WithTx returns a store whose writes join tx. CreateTaskWithSteps then runs
// inside tx instead of opening its own transaction.
func (s *PostgresTaskStore) WithTx(tx *sql.Tx) store.TaskStore {
	return &PostgresTaskStore{db: tx, logger: s.logger}
}

// CreateTaskWithSteps implements store.TaskStore.CreateTaskWithSteps.
func (s *PostgresTaskStore) CreateTaskWithSteps(
	ctx context.Context,
	task *domain.Task,
	defs []domain.StepDefinition,
) (uuid.UUID, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := task.Validate(); err != nil {
		log.Warn("task validation failed during create",
			slog.String("error", err.Error()),
			slog.String("task_id", task.ID.String()))
		return uuid.Nil, err
	}
	if task.Status != domain.StatusPending {
		return uuid.Nil, fmt.Errorf("%w: new tasks must be %s, got %s",
			domain.ErrInvalidStatus, domain.StatusPending, task.Status)
	}
	steps, err := domain.NewSteps(task.ID, defs)
	if err != nil {
		return uuid.Nil, err
	}

	err = runAtomic(ctx, s.db, func(ctx context.Context, q store.DBTX) error {
		_, err := q.ExecContext(ctx, `
			INSERT INTO tasks (id, type, status, payload, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, task.ID, task.Type, string(task.Status), []byte(task.Payload), task.CreatedAt, task.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert task: %w", MapError(err))
		}

		for _, step := range steps {
			_, err := q.ExecContext(ctx, `
				INSERT INTO task_steps (task_id, step_order, step_key, label, status)
				VALUES ($1, $2, $3, $4, $5)
			`, step.TaskID, step.Order, step.Key, step.Label, string(step.Status))
			if err != nil {
				return fmt.Errorf("failed to insert step %q: %w", step.Key, MapError(err))
			}
		}
		return nil
	})
	if err != nil {
		log.Error("failed to create task with steps",
			slog.String("error", err.Error()),
			slog.String("task_id", task.ID.String()),
			slog.String("task_type", task.Type))
		return uuid.Nil, err
	}

	log.Info("task created",
		slog.String("task_id", task.ID.String()),
		slog.String("task_type", task.Type),
		slog.Int("step_count", len(steps)))
	return task.ID, nil
}

// FindNextRunnableTask implements store.TaskStore.FindNextRunnableTask.
func (s *PostgresTaskStore) FindNextRunnableTask(ctx context.Context) (*domain.Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE status IN ('PENDING', 'RUNNING')
		ORDER BY CASE status WHEN 'RUNNING' THEN 0 ELSE 1 END, created_at ASC
		LIMIT 1
	`
	task, err := scanTask(s.db.QueryRowContext(ctx, query))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrTaskNotFound
		}
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to find next runnable task",
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("failed to find next runnable task: %w", MapError(err))
	}
	return task, nil
}

// GetTaskByID implements store.TaskStore.GetTaskByID.
func (s *PostgresTaskStore) GetTaskByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`
	task, err := scanTask(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrTaskNotFound
		}
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to get task by ID",
			slog.String("error", err.Error()),
			slog.String("task_id", id.String()))
		return nil, fmt.Errorf("failed to get task: %w", MapError(err))
	}
	return task, nil
}

// GetTaskSteps implements store.TaskStore.GetTaskSteps.
func (s *PostgresTaskStore) GetTaskSteps(ctx context.Context, taskID uuid.UUID) ([]domain.Step, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, step_order, step_key, label, status, started_at, finished_at, extra
		FROM task_steps
		WHERE task_id = $1
		ORDER BY step_order ASC
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to query task steps: %w", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	var steps []domain.Step
	for rows.Next() {
		var (
			step       domain.Step
			status     string
			startedAt  sql.NullTime
			finishedAt sql.NullTime
			extra      []byte
		)
		if err := rows.Scan(
			&step.ID,
			&step.TaskID,
			&step.Order,
			&step.Key,
			&step.Label,
			&status,
			&startedAt,
			&finishedAt,
			&extra,
		); err != nil {
			return nil, fmt.Errorf("failed to scan task step: %w", err)
		}
		step.Status = domain.Status(status)
		step.StartedAt = timePtr(startedAt)
		step.FinishedAt = timePtr(finishedAt)
		if len(extra) > 0 {
			step.Extra = json.RawMessage(extra)
		}
		steps = append(steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task steps: %w", err)
	}

	return steps, nil
}

// ClaimTask implements store.TaskStore.ClaimTask.
func (s *PostgresTaskStore) ClaimTask(ctx context.Context, id uuid.UUID) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE tasks
		SET status = 'RUNNING', updated_at = $2
		WHERE id = $1 AND status = 'PENDING'
	`, id, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("failed to claim task: %w", MapError(err))
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n == 1, nil
}

// UpdateTaskStatus implements store.TaskStore.UpdateTaskStatus. Use
// UpdateTaskResult to complete a task.
func (s *PostgresTaskStore) UpdateTaskStatus(
	ctx context.Context,
	id uuid.UUID,
	status domain.Status,
	errorMessage *string,
) error {
	switch status {
	case domain.StatusRunning:
	case domain.StatusFailed:
		if errorMessage == nil {
			return domain.NewValidationError("errorMessage", "is required for a failed task", domain.ErrValidation)
		}
	default:
		return fmt.Errorf("%w: cannot set task status to %q", domain.ErrInvalidTransition, status)
	}

	var msg sql.NullString
	if errorMessage != nil {
		msg = sql.NullString{String: *errorMessage, Valid: true}
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE tasks
		SET status = $2, error_message = COALESCE($3, error_message), updated_at = $4
		WHERE id = $1 AND status IN ('PENDING', 'RUNNING')
	`, id, string(status), msg, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update task status: %w", MapError(err))
	}
	return s.checkTaskUpdated(ctx, result, id)
}

// UpdateTaskResult implements store.TaskStore.UpdateTaskResult.
func (s *PostgresTaskStore) UpdateTaskResult(ctx context.Context, id uuid.UUID, result json.RawMessage) error {
	if len(result) == 0 || !json.Valid(result) {
		return domain.NewValidationError("result", "must be a JSON document", domain.ErrValidation)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks
		SET status = 'SUCCESS', result = $2, error_message = NULL, updated_at = $3
		WHERE id = $1 AND status = 'RUNNING'
	`, id, []byte(result), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to store task result: %w", MapError(err))
	}
	if err := s.checkTaskUpdated(ctx, res, id); err != nil {
		return err
	}

	logger.FromContextOrDefault(ctx, s.logger).Info("task completed",
		slog.String("task_id", id.String()))
	return nil
}

// UpsertTaskError implements store.TaskStore.UpsertTaskError.
func (s *PostgresTaskStore) UpsertTaskError(ctx context.Context, id uuid.UUID, message string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks
		SET status = 'FAILED', error_message = $2, updated_at = $3
		WHERE id = $1 AND status IN ('PENDING', 'RUNNING')
	`, id, message, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to store task error: %w", MapError(err))
	}
	if err := s.checkTaskUpdated(ctx, res, id); err != nil {
		return err
	}

	logger.FromContextOrDefault(ctx, s.logger).Info("task failed",
		slog.String("task_id", id.String()),
		slog.String("error_message", message))
	return nil
}

// MarkStepRunning implements store.TaskStore.MarkStepRunning. A FAILED step
// is reopened so a task put back in the queue re-runs it; only SUCCESS steps
// are final.
func (s *PostgresTaskStore) MarkStepRunning(ctx context.Context, stepID int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE task_steps
		SET status = 'RUNNING', started_at = COALESCE(started_at, $2), finished_at = NULL, extra = NULL
		WHERE id = $1 AND status <> 'SUCCESS'
	`, stepID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to mark step running: %w", MapError(err))
	}
	return s.checkStepUpdated(ctx, res, stepID)
}

// MarkStepSuccess implements store.TaskStore.MarkStepSuccess.
func (s *PostgresTaskStore) MarkStepSuccess(ctx context.Context, stepID int64, extra json.RawMessage) error {
	return s.finishStep(ctx, stepID, domain.StatusSuccess, extra)
}

// MarkStepFailed implements store.TaskStore.MarkStepFailed.
func (s *PostgresTaskStore) MarkStepFailed(ctx context.Context, stepID int64, extra json.RawMessage) error {
	return s.finishStep(ctx, stepID, domain.StatusFailed, extra)
}

func (s *PostgresTaskStore) finishStep(
	ctx context.Context,
	stepID int64,
	status domain.Status,
	extra json.RawMessage,
) error {
	if len(extra) > 0 && !json.Valid(extra) {
		return domain.NewValidationError("extra", "must be a JSON document", domain.ErrValidation)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE task_steps
		SET status = $2, finished_at = $3, extra = $4
		WHERE id = $1 AND status IN ('PENDING', 'RUNNING')
	`, stepID, string(status), time.Now().UTC(), nullableJSON(extra))
	if err != nil {
		return fmt.Errorf("failed to mark step %s: %w", status, MapError(err))
	}
	return s.checkStepUpdated(ctx, res, stepID)
}

// checkTaskUpdated tells a missing task apart from a terminal one when an
// update touched no rows.
func (s *PostgresTaskStore) checkTaskUpdated(ctx context.Context, res sql.Result, id uuid.UUID) error {
	err := CheckRowsAffected(res, store.ErrTaskNotRunnable)
	if !errors.Is(err, store.ErrTaskNotRunnable) {
		return err
	}

	var status string
	lookupErr := s.db.QueryRowContext(ctx, `SELECT status FROM tasks WHERE id = $1`, id).Scan(&status)
	switch {
	case errors.Is(lookupErr, sql.ErrNoRows):
		return store.ErrTaskNotFound
	case lookupErr != nil:
		return fmt.Errorf("failed to look up task status: %w", MapError(lookupErr))
	}

	logger.FromContextOrDefault(ctx, s.logger).Warn("refusing to modify task",
		slog.String("task_id", id.String()),
		slog.String("status", status))
	return fmt.Errorf("%w: task %s is %s", store.ErrTaskNotRunnable, id, status)
}

func (s *PostgresTaskStore) checkStepUpdated(ctx context.Context, res sql.Result, stepID int64) error {
	err := CheckRowsAffected(res, store.ErrUpdateFailed)
	if !errors.Is(err, store.ErrUpdateFailed) {
		return err
	}

	var status string
	lookupErr := s.db.QueryRowContext(ctx, `SELECT status FROM task_steps WHERE id = $1`, stepID).Scan(&status)
	switch {
	case errors.Is(lookupErr, sql.ErrNoRows):
		return store.ErrStepNotFound
	case lookupErr != nil:
		return fmt.Errorf("failed to look up step status: %w", MapError(lookupErr))
	}
	return fmt.Errorf("%w: step %d is %s", store.ErrUpdateFailed, stepID, status)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var (
		task         domain.Task
		status       string
		payload      []byte
		result       []byte
		errorMessage sql.NullString
	)
	if err := row.Scan(
		&task.ID,
		&task.Type,
		&status,
		&payload,
		&result,
		&errorMessage,
		&task.CreatedAt,
		&task.UpdatedAt,
	); err != nil {
		return nil, err
	}

	task.Status = domain.Status(status)
	task.Payload = json.RawMessage(payload)
	if len(result) > 0 {
		task.Result = json.RawMessage(result)
	}
	if errorMessage.Valid {
		task.ErrorMessage = &errorMessage.String
	}
	return &task, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
