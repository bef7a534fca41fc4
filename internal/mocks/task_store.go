package mocks

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/moments-api/internal/domain"
	"github.com/phrazzld/moments-api/internal/store"
)

// MockTaskStore is an in-memory store.TaskStore.
type MockTaskStore struct {
	mu         sync.Mutex
	tasks      map[uuid.UUID]*domain.Task
	steps      map[uuid.UUID][]*domain.Step
	nextStepID int64
	failures   map[string]error

	// FailStepInsertAt makes CreateTaskWithSteps fail when inserting the
	// step with this order. Nothing is written in that case.
	FailStepInsertAt int

	// Now supplies timestamps. Defaults to time.Now.
	Now func() time.Time

	// Calls records the name of every method invoked, in order.
	Calls []string
}

// NewMockTaskStore creates an empty store.
func NewMockTaskStore() *MockTaskStore {
	return &MockTaskStore{
		tasks:    make(map[uuid.UUID]*domain.Task),
		steps:    make(map[uuid.UUID][]*domain.Step),
		failures: make(map[string]error),
		Now:      time.Now,
	}
}

var _ store.TaskStore = (*MockTaskStore)(nil)

// FailOn makes every later call of method return err. A nil err clears it.
func (m *MockTaskStore) FailOn(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, method)
		return
	}
	m.failures[method] = err
}

// enter records the call and returns any injected failure. Callers hold mu.
func (m *MockTaskStore) enter(method string) error {
	m.Calls = append(m.Calls, method)
	return m.failures[method]
}

func (m *MockTaskStore) now() time.Time {
	return m.Now().UTC()
}

// CreateTaskWithSteps implements store.TaskStore.
func (m *MockTaskStore) CreateTaskWithSteps(
	_ context.Context,
	task *domain.Task,
	defs []domain.StepDefinition,
) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("CreateTaskWithSteps"); err != nil {
		return uuid.Nil, err
	}

	if err := task.Validate(); err != nil {
		return uuid.Nil, err
	}
	if task.Status != domain.StatusPending {
		return uuid.Nil, fmt.Errorf("%w: new tasks must be PENDING", domain.ErrInvalidStatus)
	}
	if _, exists := m.tasks[task.ID]; exists {
		return uuid.Nil, store.ErrDuplicate
	}
	newSteps, err := domain.NewSteps(task.ID, defs)
	if err != nil {
		return uuid.Nil, err
	}

	staged := make([]*domain.Step, 0, len(newSteps))
	nextID := m.nextStepID
	for i := range newSteps {
		if m.FailStepInsertAt == newSteps[i].Order {
			return uuid.Nil, fmt.Errorf("failed to insert step %q: injected failure", newSteps[i].Key)
		}
		nextID++
		step := newSteps[i]
		step.ID = nextID
		staged = append(staged, &step)
	}

	m.nextStepID = nextID
	m.tasks[task.ID] = cloneTask(task)
	m.steps[task.ID] = staged
	return task.ID, nil
}

// FindNextRunnableTask implements store.TaskStore.
func (m *MockTaskStore) FindNextRunnableTask(_ context.Context) (*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("FindNextRunnableTask"); err != nil {
		return nil, err
	}

	var runnable []*domain.Task
	for _, t := range m.tasks {
		if t.Status.IsRunnable() {
			runnable = append(runnable, t)
		}
	}
	if len(runnable) == 0 {
		return nil, store.ErrTaskNotFound
	}

	sort.Slice(runnable, func(i, j int) bool {
		a, b := runnable[i], runnable[j]
		if (a.Status == domain.StatusRunning) != (b.Status == domain.StatusRunning) {
			return a.Status == domain.StatusRunning
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID.String() < b.ID.String()
	})
	return cloneTask(runnable[0]), nil
}

// GetTaskByID implements store.TaskStore.
func (m *MockTaskStore) GetTaskByID(_ context.Context, id uuid.UUID) (*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetTaskByID"); err != nil {
		return nil, err
	}

	t, ok := m.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	return cloneTask(t), nil
}

// GetTaskSteps implements store.TaskStore.
func (m *MockTaskStore) GetTaskSteps(_ context.Context, taskID uuid.UUID) ([]domain.Step, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetTaskSteps"); err != nil {
		return nil, err
	}

	steps := m.steps[taskID]
	out := make([]domain.Step, 0, len(steps))
	for _, s := range steps {
		out = append(out, cloneStep(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}

// ClaimTask implements store.TaskStore.
func (m *MockTaskStore) ClaimTask(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ClaimTask"); err != nil {
		return false, err
	}

	t, ok := m.tasks[id]
	if !ok || t.Status != domain.StatusPending {
		return false, nil
	}
	t.Status = domain.StatusRunning
	t.UpdatedAt = m.now()
	return true, nil
}

// UpdateTaskStatus implements store.TaskStore.
func (m *MockTaskStore) UpdateTaskStatus(
	_ context.Context,
	id uuid.UUID,
	status domain.Status,
	errorMessage *string,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("UpdateTaskStatus"); err != nil {
		return err
	}

	switch status {
	case domain.StatusRunning:
	case domain.StatusFailed:
		if errorMessage == nil {
			return domain.NewValidationError("errorMessage", "is required for a failed task", domain.ErrValidation)
		}
	default:
		return fmt.Errorf("%w: cannot set task status to %q", domain.ErrInvalidTransition, status)
	}

	t, err := m.runnableTask(id)
	if err != nil {
		return err
	}
	t.Status = status
	if errorMessage != nil {
		msg := *errorMessage
		t.ErrorMessage = &msg
	}
	t.UpdatedAt = m.now()
	return nil
}

// UpdateTaskResult implements store.TaskStore.
func (m *MockTaskStore) UpdateTaskResult(_ context.Context, id uuid.UUID, result json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("UpdateTaskResult"); err != nil {
		return err
	}

	if len(result) == 0 || !json.Valid(result) {
		return domain.NewValidationError("result", "must be a JSON document", domain.ErrValidation)
	}
	t, ok := m.tasks[id]
	if !ok {
		return store.ErrTaskNotFound
	}
	if t.Status != domain.StatusRunning {
		return fmt.Errorf("%w: task %s is %s", store.ErrTaskNotRunnable, id, t.Status)
	}
	t.Status = domain.StatusSuccess
	t.Result = append(json.RawMessage(nil), result...)
	t.ErrorMessage = nil
	t.UpdatedAt = m.now()
	return nil
}

// UpsertTaskError implements store.TaskStore.
func (m *MockTaskStore) UpsertTaskError(_ context.Context, id uuid.UUID, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("UpsertTaskError"); err != nil {
		return err
	}

	t, err := m.runnableTask(id)
	if err != nil {
		return err
	}
	t.Status = domain.StatusFailed
	t.ErrorMessage = &message
	t.UpdatedAt = m.now()
	return nil
}

// MarkStepRunning implements store.TaskStore.
func (m *MockTaskStore) MarkStepRunning(_ context.Context, stepID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("MarkStepRunning"); err != nil {
		return err
	}

	step, err := m.findStep(stepID)
	if err != nil {
		return err
	}
	if step.Status == domain.StatusSuccess {
		return fmt.Errorf("%w: step %d is %s", store.ErrUpdateFailed, stepID, step.Status)
	}
	step.Status = domain.StatusRunning
	step.FinishedAt = nil
	step.Extra = nil
	if step.StartedAt == nil {
		now := m.now()
		step.StartedAt = &now
	}
	return nil
}

// MarkStepSuccess implements store.TaskStore.
func (m *MockTaskStore) MarkStepSuccess(_ context.Context, stepID int64, extra json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("MarkStepSuccess"); err != nil {
		return err
	}
	return m.finishStep(stepID, domain.StatusSuccess, extra)
}

// MarkStepFailed implements store.TaskStore.
func (m *MockTaskStore) MarkStepFailed(_ context.Context, stepID int64, extra json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("MarkStepFailed"); err != nil {
		return err
	}
	return m.finishStep(stepID, domain.StatusFailed, extra)
}

// WithTx implements store.TaskStore. The mock has no transactions.
func (m *MockTaskStore) WithTx(_ *sql.Tx) store.TaskStore {
	return m
}

// CallCount returns how many times method has been invoked.
func (m *MockTaskStore) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.Calls {
		if c == method {
			n++
		}
	}
	return n
}

// TaskCount returns the number of stored tasks.
func (m *MockTaskStore) TaskCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

// StepCount returns the number of stored steps across all tasks.
func (m *MockTaskStore) StepCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, steps := range m.steps {
		n += len(steps)
	}
	return n
}

// SetStepState overwrites a step's status and extra, for seeding tests that
// resume a partly finished task.
func (m *MockTaskStore) SetStepState(taskID uuid.UUID, order int, status domain.Status, extra json.RawMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.steps[taskID] {
		if s.Order == order {
			s.Status = status
			s.Extra = extra
			if status.IsTerminal() {
				now := m.now()
				if s.StartedAt == nil {
					s.StartedAt = &now
				}
				s.FinishedAt = &now
			}
			return
		}
	}
}

// PutTask stores a copy of task with no steps, bypassing validation.
func (m *MockTaskStore) PutTask(task *domain.Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[task.ID] = cloneTask(task)
}

// SetTaskStatus overwrites a task's status without any checks.
func (m *MockTaskStore) SetTaskStatus(taskID uuid.UUID, status domain.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tasks[taskID]; ok {
		t.Status = status
	}
}

func (m *MockTaskStore) runnableTask(id uuid.UUID) (*domain.Task, error) {
	t, ok := m.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	if !t.Status.IsRunnable() {
		return nil, fmt.Errorf("%w: task %s is %s", store.ErrTaskNotRunnable, id, t.Status)
	}
	return t, nil
}

func (m *MockTaskStore) findStep(stepID int64) (*domain.Step, error) {
	for _, steps := range m.steps {
		for _, s := range steps {
			if s.ID == stepID {
				return s, nil
			}
		}
	}
	return nil, store.ErrStepNotFound
}

func (m *MockTaskStore) openStep(stepID int64) (*domain.Step, error) {
	s, err := m.findStep(stepID)
	if err != nil {
		return nil, err
	}
	if !s.Status.IsRunnable() {
		return nil, fmt.Errorf("%w: step %d is %s", store.ErrUpdateFailed, stepID, s.Status)
	}
	return s, nil
}

func (m *MockTaskStore) finishStep(stepID int64, status domain.Status, extra json.RawMessage) error {
	if len(extra) > 0 && !json.Valid(extra) {
		return domain.NewValidationError("extra", "must be a JSON document", domain.ErrValidation)
	}
	step, err := m.openStep(stepID)
	if err != nil {
		return err
	}
	now := m.now()
	step.Status = status
	step.FinishedAt = &now
	step.Extra = append(json.RawMessage(nil), extra...)
	if len(extra) == 0 {
		step.Extra = nil
	}
	return nil
}

func cloneTask(t *domain.Task) *domain.Task {
	c := *t
	c.Payload = append(json.RawMessage(nil), t.Payload...)
	if t.Result != nil {
		c.Result = append(json.RawMessage(nil), t.Result...)
	}
	if t.ErrorMessage != nil {
		msg := *t.ErrorMessage
		c.ErrorMessage = &msg
	}
	return &c
}

func cloneStep(s *domain.Step) domain.Step {
	c := *s
	if s.StartedAt != nil {
		v := *s.StartedAt
		c.StartedAt = &v
	}
	if s.FinishedAt != nil {
		v := *s.FinishedAt
		c.FinishedAt = &v
	}
	if s.Extra != nil {
		c.Extra = append(json.RawMessage(nil), s.Extra...)
	}
	return c
}
