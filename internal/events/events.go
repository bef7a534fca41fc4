package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TypeTaskCreated identifies events emitted after a task is persisted.
const TypeTaskCreated = "task_created"

// TaskCreatedEvent announces a new runnable task.
type TaskCreatedEvent struct {
	// ID is a unique identifier for this event
	ID uuid.UUID `json:"id"`

	// Type is always TypeTaskCreated
	Type string `json:"type"`

	// TaskID is the task that was created
	TaskID uuid.UUID `json:"taskId"`

	// TaskType is the pipeline variant of the task
	TaskType string `json:"taskType"`

	// CreatedAt is the timestamp when the event was created
	CreatedAt time.Time `json:"createdAt"`
}

// NewTaskCreatedEvent creates an event for the given task.
func NewTaskCreatedEvent(taskID uuid.UUID, taskType string) *TaskCreatedEvent {
	return &TaskCreatedEvent{
		ID:        uuid.New(),
		Type:      TypeTaskCreated,
		TaskID:    taskID,
		TaskType:  taskType,
		CreatedAt: time.Now().UTC(),
	}
}

// EventHandler defines an interface for components that can handle events.
type EventHandler interface {
	// HandleEvent processes the given event within the provided context.
	// Returns an error if the event cannot be handled successfully.
	HandleEvent(ctx context.Context, event *TaskCreatedEvent) error
}

// EventEmitter defines an interface for components that can emit events.
// This allows services to publish events without direct knowledge of handlers.
type EventEmitter interface {
	// EmitEvent publishes the given event to all registered handlers.
	EmitEvent(ctx context.Context, event *TaskCreatedEvent) error
}

// HandlerFunc adapts a function to the EventHandler interface.
type HandlerFunc func(ctx context.Context, event *TaskCreatedEvent) error

// HandleEvent implements EventHandler.
func (f HandlerFunc) HandleEvent(ctx context.Context, event *TaskCreatedEvent) error {
	return f(ctx, event)
}
