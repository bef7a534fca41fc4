package task

import (
	"context"
	"log/slog"

	"github.com/phrazzld/moments-api/internal/events"
)

// Waker is anything that can be nudged to look for work.
type Waker interface {
	Wake()
}

// WakeOnCreate implements events.EventHandler by waking the worker whenever
// a task is created, so new tasks start without waiting for the poll interval.
type WakeOnCreate struct {
	waker  Waker
	logger *slog.Logger
}

// NewWakeOnCreate creates a handler that wakes waker on every TaskCreated event.
func NewWakeOnCreate(waker Waker, logger *slog.Logger) *WakeOnCreate {
	return &WakeOnCreate{
		waker:  waker,
		logger: logger.With("component", "wake_on_create"),
	}
}

// HandleEvent implements events.EventHandler.
func (h *WakeOnCreate) HandleEvent(_ context.Context, event *events.TaskCreatedEvent) error {
	if event.Type != events.TypeTaskCreated {
		h.logger.Debug("ignoring event with unsupported type",
			"event_type", event.Type,
			"event_id", event.ID)
		return nil
	}
	h.waker.Wake()
	return nil
}

var _ events.EventHandler = (*WakeOnCreate)(nil)
