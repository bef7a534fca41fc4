package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/phrazzld/moments-api/internal/domain"
	"github.com/phrazzld/moments-api/internal/events"
	"github.com/phrazzld/moments-api/internal/pipeline"
	"github.com/phrazzld/moments-api/internal/store"
)

// TaskDetail is a task together with its ordered steps.
type TaskDetail struct {
	Task  *domain.Task
	Steps []domain.Step
}

// TaskService creates pipeline tasks and reports their progress.
type TaskService interface {
	// CreateTask persists a task built from the caller's body, with one
	// PENDING step per pipeline step, and announces it.
	CreateTask(ctx context.Context, userID uuid.UUID, body map[string]any) (uuid.UUID, error)

	// GetTask returns the task and its steps. Tasks owned by another user
	// are reported as store.ErrTaskNotFound.
	GetTask(ctx context.Context, userID, taskID uuid.UUID) (*TaskDetail, error)
}

// TaskServiceImpl implements TaskService.
type TaskServiceImpl struct {
	tasks     store.TaskStore
	pipelines pipeline.Pipelines
	emitter   events.EventEmitter
	logger    *slog.Logger
}

// NewTaskService creates a TaskService. The emitter may be nil.
func NewTaskService(
	tasks store.TaskStore,
	pipelines pipeline.Pipelines,
	emitter events.EventEmitter,
	logger *slog.Logger,
) *TaskServiceImpl {
	return &TaskServiceImpl{
		tasks:     tasks,
		pipelines: pipelines,
		emitter:   emitter,
		logger:    logger.With("component", "task_service"),
	}
}

var _ TaskService = (*TaskServiceImpl)(nil)

// CreateTask implements TaskService.
func (s *TaskServiceImpl) CreateTask(ctx context.Context, userID uuid.UUID, body map[string]any) (uuid.UUID, error) {
	taskType := domain.DefaultTaskType
	if raw, ok := body["type"]; ok && raw != nil {
		name, isString := raw.(string)
		if !isString {
			return uuid.Nil, fmt.Errorf("%w: type must be a string", ErrInvalidTaskRequest)
		}
		if name != "" {
			taskType = name
		}
	}

	defs, err := s.pipelines.Steps(taskType)
	if err != nil {
		if errors.Is(err, pipeline.ErrUnknownTaskType) {
			return uuid.Nil, fmt.Errorf("%w: %v", ErrInvalidTaskRequest, err)
		}
		return uuid.Nil, err
	}

	payload, err := domain.BuildPayload(body, userID.String(), taskType)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrInvalidTaskRequest, err)
	}

	task, err := domain.NewTask(taskType, payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrInvalidTaskRequest, err)
	}

	id, err := s.tasks.CreateTaskWithSteps(ctx, task, defs)
	if err != nil {
		s.logger.Error("failed to create task",
			"error", err,
			"task_type", taskType,
			"user_id", userID)
		return uuid.Nil, fmt.Errorf("failed to create task: %w", err)
	}

	s.logger.Info("task created",
		"task_id", id,
		"task_type", taskType,
		"user_id", userID,
		"steps", len(defs))

	// The task is durable at this point; a failed notification only delays it
	// until the worker's next poll.
	if s.emitter != nil {
		if err := s.emitter.EmitEvent(ctx, events.NewTaskCreatedEvent(id, taskType)); err != nil {
			s.logger.Warn("failed to announce task", "error", err, "task_id", id)
		}
	}

	return id, nil
}

// GetTask implements TaskService.
func (s *TaskServiceImpl) GetTask(ctx context.Context, userID, taskID uuid.UUID) (*TaskDetail, error) {
	task, err := s.tasks.GetTaskByID(ctx, taskID)
	if err != nil {
		return nil, err
	}

	payload, err := domain.ParsePayload(task.Payload)
	if err != nil || payload.UserID != userID.String() {
		s.logger.Debug("task requested by non-owner",
			"task_id", taskID,
			"user_id", userID)
		return nil, store.ErrTaskNotFound
	}

	steps, err := s.tasks.GetTaskSteps(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to load task steps: %w", err)
	}

	return &TaskDetail{Task: task, Steps: steps}, nil
}
