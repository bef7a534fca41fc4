package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/phrazzld/moments-api/internal/domain"
	"github.com/phrazzld/moments-api/internal/pipeline"
	"github.com/phrazzld/moments-api/internal/store"
)

// Messages recorded on tasks that fail for configuration reasons.
const (
	MsgNoSteps        = "No steps defined for task"
	MsgHandlerMissing = "Handler missing"
	MsgStepFailed     = "Step failed"
)

// ErrWorkerBusy is returned by Tick while another tick is in flight.
var ErrWorkerBusy = errors.New("worker is busy")

// WorkerConfig holds configuration for the worker loop.
type WorkerConfig struct {
	// PollInterval is the wait between ticks when nothing wakes the worker.
	PollInterval time.Duration
}

// DefaultWorkerConfig returns a WorkerConfig with reasonable defaults.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{PollInterval: time.Second}
}

// Worker advances runnable tasks one at a time.
type Worker struct {
	store    store.TaskStore
	registry *pipeline.Registry
	config   WorkerConfig
	logger   *slog.Logger
	wake     chan struct{}
	busy     atomic.Bool
}

// NewWorker creates a Worker reading and writing tasks through taskStore.
func NewWorker(
	taskStore store.TaskStore,
	registry *pipeline.Registry,
	config WorkerConfig,
	logger *slog.Logger,
) *Worker {
	if taskStore == nil {
		panic("taskStore cannot be nil")
	}
	if registry == nil {
		panic("registry cannot be nil")
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultWorkerConfig().PollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Worker{
		store:    taskStore,
		registry: registry,
		config:   config,
		logger:   logger.With(slog.String("component", "task_worker")),
		wake:     make(chan struct{}, 1),
	}
}

// Wake asks the worker to tick as soon as it is idle. It never blocks;
// wake-ups that arrive while one is already pending are merged.
func (w *Worker) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Run ticks until ctx is cancelled. A tick that made progress schedules the
// next one immediately so a backlog drains without waiting for the ticker; a
// tick aborted by a store error waits for the poll interval.
func (w *Worker) Run(ctx context.Context) {
	if err := w.Recover(ctx); err != nil {
		w.logger.Error("failed to inspect in-flight tasks", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	w.logger.Info("worker started", slog.Duration("poll_interval", w.config.PollInterval))
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker stopped")
			return
		case <-ticker.C:
		case <-w.wake:
		}

		worked, err := w.tick(ctx)
		switch {
		case err == nil:
		case errors.Is(err, ErrWorkerBusy), ctx.Err() != nil:
			continue
		default:
			w.logger.Error("worker tick aborted", slog.String("error", err.Error()))
		}
		if worked {
			w.Wake()
		}
	}
}

// Recover logs the task that was in flight when the process last stopped.
// Nothing is reset: RUNNING tasks are picked up first by the next tick.
func (w *Worker) Recover(ctx context.Context) error {
	task, err := w.store.FindNextRunnableTask(ctx)
	if errors.Is(err, store.ErrTaskNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to find runnable task: %w", err)
	}

	if task.Status == domain.StatusRunning {
		w.logger.Info("resuming in-flight task",
			slog.String("task_id", task.ID.String()),
			slog.String("task_type", task.Type))
	}
	return nil
}

// Tick processes at most one task. It returns ErrWorkerBusy if another tick
// is running, and any store error that stopped the task's progress.
func (w *Worker) Tick(ctx context.Context) error {
	_, err := w.tick(ctx)
	return err
}

func (w *Worker) tick(ctx context.Context) (bool, error) {
	if !w.busy.CompareAndSwap(false, true) {
		return false, ErrWorkerBusy
	}
	defer w.busy.Store(false)

	task, err := w.store.FindNextRunnableTask(ctx)
	if errors.Is(err, store.ErrTaskNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to find runnable task: %w", err)
	}

	if task.Status == domain.StatusPending {
		claimed, err := w.store.ClaimTask(ctx, task.ID)
		if err != nil {
			return false, fmt.Errorf("failed to claim task %s: %w", task.ID, err)
		}
		if !claimed {
			w.logger.Debug("task claimed elsewhere", slog.String("task_id", task.ID.String()))
			return false, nil
		}
		task.Status = domain.StatusRunning
	}

	if err := w.process(ctx, task); err != nil {
		return false, err
	}
	return true, nil
}

// process runs every unfinished step of task in order, stopping at the first
// failure.
func (w *Worker) process(ctx context.Context, task *domain.Task) error {
	log := w.logger.With(
		slog.String("task_id", task.ID.String()),
		slog.String("task_type", task.Type),
	)

	steps, err := w.store.GetTaskSteps(ctx, task.ID)
	if err != nil {
		return fmt.Errorf("failed to load steps: %w", err)
	}
	if len(steps) == 0 {
		log.Warn("task has no steps")
		return w.failTask(ctx, task, MsgNoSteps)
	}

	state, err := pipeline.NewState(task)
	if err != nil {
		return w.failTask(ctx, task, err.Error())
	}

	for _, step := range steps {
		stepLog := log.With(slog.String("step_key", step.Key), slog.Int("step_order", step.Order))

		if step.Status == domain.StatusSuccess {
			state, err = state.RestoreStep(step.Extra)
			if err != nil {
				return w.failTask(ctx, task, err.Error())
			}
			continue
		}

		handler, ok := w.registry.Lookup(step.Key)
		if !ok {
			stepLog.Error("no handler registered for step")
			if err := w.store.MarkStepFailed(ctx, step.ID, pipeline.FailureExtra(MsgHandlerMissing)); err != nil {
				return fmt.Errorf("failed to mark step %q failed: %w", step.Key, err)
			}
			return w.failTask(ctx, task, fmt.Sprintf("%s for %s", MsgHandlerMissing, step.Key))
		}

		if err := w.store.MarkStepRunning(ctx, step.ID); err != nil {
			return fmt.Errorf("failed to mark step %q running: %w", step.Key, err)
		}

		started := time.Now()
		outcome, err := runHandler(ctx, handler, task, state)
		if err != nil {
			msg := err.Error()
			if msg == "" {
				msg = MsgStepFailed
			}
			stepLog.Warn("step failed", slog.String("error", msg))
			if err := w.store.MarkStepFailed(ctx, step.ID, pipeline.FailureExtra(msg)); err != nil {
				return fmt.Errorf("failed to mark step %q failed: %w", step.Key, err)
			}
			return w.failTask(ctx, task, msg)
		}

		extra, err := outcome.StepExtra()
		if err != nil {
			return fmt.Errorf("failed to build extra for step %q: %w", step.Key, err)
		}
		if err := w.store.MarkStepSuccess(ctx, step.ID, extra); err != nil {
			return fmt.Errorf("failed to mark step %q succeeded: %w", step.Key, err)
		}
		state = outcome.State
		stepLog.Debug("step succeeded", slog.Duration("elapsed", time.Since(started)))
	}

	result, err := state.Result()
	if err != nil {
		return w.failTask(ctx, task, err.Error())
	}
	if err := w.store.UpdateTaskResult(ctx, task.ID, result); err != nil {
		return fmt.Errorf("failed to store result: %w", err)
	}

	log.Info("task completed")
	return nil
}

func (w *Worker) failTask(ctx context.Context, task *domain.Task, message string) error {
	if err := w.store.UpsertTaskError(ctx, task.ID, message); err != nil {
		return fmt.Errorf("failed to mark task failed: %w", err)
	}
	w.logger.Info("task failed",
		slog.String("task_id", task.ID.String()),
		slog.String("error", message))
	return nil
}

// runHandler turns a handler panic into a step failure.
func runHandler(
	ctx context.Context,
	h pipeline.Handler,
	task *domain.Task,
	state pipeline.State,
) (outcome pipeline.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return h.Handle(ctx, task, state)
}
