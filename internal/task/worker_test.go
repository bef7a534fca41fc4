package task

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/moments-api/internal/domain"
	"github.com/phrazzld/moments-api/internal/events"
	"github.com/phrazzld/moments-api/internal/inference"
	"github.com/phrazzld/moments-api/internal/mocks"
	"github.com/phrazzld/moments-api/internal/pipeline"
	"github.com/phrazzld/moments-api/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const helloBase64 = "aGVsbG8="

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type momentsFixture struct {
	store  *mocks.MockTaskStore
	vision *mocks.MockVisionModel
	text   *mocks.MockTextModel
	worker *Worker
}

func newMomentsFixture(t *testing.T) *momentsFixture {
	t.Helper()
	f := &momentsFixture{
		store:  mocks.NewMockTaskStore(),
		vision: &mocks.MockVisionModel{Summary: "a cat", Usage: inference.Usage{TotalTokens: 3}},
		text:   &mocks.MockTextModel{Reply: "polished", Usage: inference.Usage{TotalTokens: 9}},
	}
	handlers, err := pipeline.NewMomentsHandlers(pipeline.Dependencies{
		Vision: f.vision,
		Text:   f.text,
		Logger: discardLogger(),
	})
	require.NoError(t, err)
	f.worker = NewWorker(f.store, pipeline.NewRegistry(handlers), DefaultWorkerConfig(), discardLogger())
	return f
}

func createTask(
	t *testing.T,
	s *mocks.MockTaskStore,
	payload map[string]any,
	defs []domain.StepDefinition,
	createdAt time.Time,
) *domain.Task {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	task, err := domain.NewTask(domain.DefaultTaskType, raw)
	require.NoError(t, err)
	if !createdAt.IsZero() {
		task.CreatedAt = createdAt
	}
	_, err = s.CreateTaskWithSteps(context.Background(), task, defs)
	require.NoError(t, err)
	return task
}

func loadTask(t *testing.T, s *mocks.MockTaskStore, id uuid.UUID) (*domain.Task, []domain.Step) {
	t.Helper()
	task, err := s.GetTaskByID(context.Background(), id)
	require.NoError(t, err)
	steps, err := s.GetTaskSteps(context.Background(), id)
	require.NoError(t, err)
	return task, steps
}

func TestWorkerCompletesMomentsTask(t *testing.T) {
	t.Parallel()

	f := newMomentsFixture(t)
	created := createTask(t, f.store, map[string]any{
		"userText":    "Lazy Sunday",
		"imageBase64": "data:image/jpeg;base64," + helloBase64,
	}, pipeline.MomentsSteps, time.Time{})

	require.NoError(t, f.worker.Tick(context.Background()))

	task, steps := loadTask(t, f.store, created.ID)
	assert.Equal(t, domain.StatusSuccess, task.Status)
	assert.Nil(t, task.ErrorMessage)
	assert.JSONEq(t, `{"optimizedText":"polished","visionSummary":"a cat","thumbPath":""}`, string(task.Result))

	require.Len(t, steps, 6)
	for _, s := range steps {
		assert.Equal(t, domain.StatusSuccess, s.Status, s.Key)
		require.NotNil(t, s.StartedAt, s.Key)
		require.NotNil(t, s.FinishedAt, s.Key)
		assert.False(t, s.FinishedAt.Before(*s.StartedAt), s.Key)
		assert.NotContains(t, string(s.Extra), helloBase64, s.Key)
	}
	assert.Equal(t, 1, f.vision.Calls())

	// A finished task is never picked up again.
	require.NoError(t, f.worker.Tick(context.Background()))
	assert.Equal(t, 1, f.vision.Calls())
}

func TestWorkerFailsTaskWithoutImage(t *testing.T) {
	t.Parallel()

	f := newMomentsFixture(t)
	created := createTask(t, f.store, map[string]any{"userText": "hi"}, pipeline.MomentsSteps, time.Time{})

	require.NoError(t, f.worker.Tick(context.Background()))

	task, steps := loadTask(t, f.store, created.ID)
	assert.Equal(t, domain.StatusFailed, task.Status)
	require.NotNil(t, task.ErrorMessage)
	assert.Equal(t, "image is required for processing", *task.ErrorMessage)
	assert.Empty(t, task.Result)

	assert.Equal(t, domain.StatusFailed, steps[0].Status)
	assert.JSONEq(t, `{"error":"image is required for processing"}`, string(steps[0].Extra))
	for _, s := range steps[1:] {
		assert.Equal(t, domain.StatusPending, s.Status, s.Key)
		assert.Nil(t, s.StartedAt, s.Key)
	}
	assert.Zero(t, f.vision.Calls())
}

func TestWorkerResumesFromCheckpoints(t *testing.T) {
	t.Parallel()

	f := newMomentsFixture(t)
	created := createTask(t, f.store, map[string]any{
		"userText":    "Lazy Sunday",
		"imageBase64": helloBase64,
	}, pipeline.MomentsSteps, time.Time{})

	// Replay the first three steps as an earlier process would have saved them.
	s1, err := pipeline.NewState(created)
	require.NoError(t, err)
	img, err := domain.DecodeImage(helloBase64)
	require.NoError(t, err)
	s1.Image = &img
	s1.ImageAccepted = true
	s2 := s1
	s2.VisionSummary = "restored summary"
	s3 := s2
	s3.SavedImageResult = &pipeline.SavedImageResult{Summary: "restored summary"}

	for order, state := range map[int]pipeline.State{1: s1, 2: s2, 3: s3} {
		extra, err := pipeline.Outcome{State: state}.StepExtra()
		require.NoError(t, err)
		f.store.SetStepState(created.ID, order, domain.StatusSuccess, extra)
	}
	f.store.SetTaskStatus(created.ID, domain.StatusRunning)

	require.NoError(t, f.worker.Tick(context.Background()))

	assert.Zero(t, f.vision.Calls(), "completed steps are not re-run")
	prompts := f.text.Prompts()
	require.Len(t, prompts, 1)
	assert.Contains(t, prompts[0], "Image analysis:restored summary")
	assert.Contains(t, prompts[0], "User text:Lazy Sunday")

	task, steps := loadTask(t, f.store, created.ID)
	assert.Equal(t, domain.StatusSuccess, task.Status)
	assert.JSONEq(t, `{"optimizedText":"polished","visionSummary":"restored summary","thumbPath":""}`, string(task.Result))
	for _, s := range steps {
		assert.Equal(t, domain.StatusSuccess, s.Status, s.Key)
	}
}

func TestWorkerStopsAtFailingStep(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		err     error
		wantMsg string
	}{
		{"message is kept verbatim", errors.New("Upstream said: no"), "Upstream said: no"},
		{"empty message", errors.New(""), MsgStepFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var ran []string
			record := func(key string, err error) pipeline.Handler {
				return pipeline.HandlerFunc(func(_ context.Context, _ *domain.Task, s pipeline.State) (pipeline.Outcome, error) {
					ran = append(ran, key)
					return pipeline.Outcome{State: s}, err
				})
			}
			registry := pipeline.NewRegistry(map[string]pipeline.Handler{
				"a": record("a", nil),
				"b": record("b", tt.err),
				"c": record("c", nil),
			})
			s := mocks.NewMockTaskStore()
			w := NewWorker(s, registry, DefaultWorkerConfig(), discardLogger())
			created := createTask(t, s, map[string]any{}, []domain.StepDefinition{
				{Key: "a"}, {Key: "b"}, {Key: "c"},
			}, time.Time{})

			require.NoError(t, w.Tick(context.Background()))

			assert.Equal(t, []string{"a", "b"}, ran)
			task, steps := loadTask(t, s, created.ID)
			assert.Equal(t, domain.StatusFailed, task.Status)
			require.NotNil(t, task.ErrorMessage)
			assert.Equal(t, tt.wantMsg, *task.ErrorMessage)

			assert.Equal(t, domain.StatusSuccess, steps[0].Status)
			assert.Equal(t, domain.StatusFailed, steps[1].Status)
			assert.JSONEq(t, `{"error":"`+tt.wantMsg+`"}`, string(steps[1].Extra))
			assert.Equal(t, domain.StatusPending, steps[2].Status)
		})
	}
}

func TestWorkerConfigurationErrors(t *testing.T) {
	t.Parallel()

	t.Run("missing handler", func(t *testing.T) {
		t.Parallel()

		registry := pipeline.NewRegistry(map[string]pipeline.Handler{
			"a": pipeline.HandlerFunc(func(_ context.Context, _ *domain.Task, s pipeline.State) (pipeline.Outcome, error) {
				return pipeline.Outcome{State: s}, nil
			}),
		})
		s := mocks.NewMockTaskStore()
		w := NewWorker(s, registry, DefaultWorkerConfig(), discardLogger())
		created := createTask(t, s, map[string]any{}, []domain.StepDefinition{{Key: "a"}, {Key: "ghost"}}, time.Time{})

		require.NoError(t, w.Tick(context.Background()))

		task, steps := loadTask(t, s, created.ID)
		assert.Equal(t, domain.StatusFailed, task.Status)
		assert.Equal(t, "Handler missing for ghost", *task.ErrorMessage)
		assert.Equal(t, domain.StatusFailed, steps[1].Status)
		assert.JSONEq(t, `{"error":"Handler missing"}`, string(steps[1].Extra))
		assert.Nil(t, steps[1].StartedAt)
	})

	t.Run("no steps", func(t *testing.T) {
		t.Parallel()

		s := mocks.NewMockTaskStore()
		w := NewWorker(s, pipeline.NewRegistry(nil), DefaultWorkerConfig(), discardLogger())
		task, err := domain.NewTask(domain.DefaultTaskType, json.RawMessage(`{}`))
		require.NoError(t, err)
		s.PutTask(task)

		require.NoError(t, w.Tick(context.Background()))

		got, steps := loadTask(t, s, task.ID)
		assert.Empty(t, steps)
		assert.Equal(t, domain.StatusFailed, got.Status)
		assert.Equal(t, MsgNoSteps, *got.ErrorMessage)
	})

	t.Run("handler panic", func(t *testing.T) {
		t.Parallel()

		registry := pipeline.NewRegistry(map[string]pipeline.Handler{
			"a": pipeline.HandlerFunc(func(context.Context, *domain.Task, pipeline.State) (pipeline.Outcome, error) {
				panic("kaboom")
			}),
		})
		s := mocks.NewMockTaskStore()
		w := NewWorker(s, registry, DefaultWorkerConfig(), discardLogger())
		created := createTask(t, s, map[string]any{}, []domain.StepDefinition{{Key: "a"}}, time.Time{})

		require.NoError(t, w.Tick(context.Background()))

		task, _ := loadTask(t, s, created.ID)
		assert.Equal(t, domain.StatusFailed, task.Status)
		assert.Equal(t, "handler panicked: kaboom", *task.ErrorMessage)
	})
}

func TestWorkerPicksRunningThenOldest(t *testing.T) {
	t.Parallel()

	var order []uuid.UUID
	registry := pipeline.NewRegistry(map[string]pipeline.Handler{
		"record": pipeline.HandlerFunc(func(_ context.Context, task *domain.Task, s pipeline.State) (pipeline.Outcome, error) {
			order = append(order, task.ID)
			return pipeline.Outcome{State: s}, nil
		}),
	})
	s := mocks.NewMockTaskStore()
	w := NewWorker(s, registry, DefaultWorkerConfig(), discardLogger())
	defs := []domain.StepDefinition{{Key: "record"}}

	now := time.Now().UTC()
	oldest := createTask(t, s, map[string]any{}, defs, now.Add(-2*time.Minute))
	middle := createTask(t, s, map[string]any{}, defs, now.Add(-time.Minute))
	newest := createTask(t, s, map[string]any{}, defs, now)
	s.SetTaskStatus(newest.ID, domain.StatusRunning)

	for i := 0; i < 4; i++ {
		require.NoError(t, w.Tick(context.Background()))
	}

	assert.Equal(t, []uuid.UUID{newest.ID, oldest.ID, middle.ID}, order)
}

func TestWorkerStoreErrorAbortsTick(t *testing.T) {
	t.Parallel()

	runs := 0
	registry := pipeline.NewRegistry(map[string]pipeline.Handler{
		"a": pipeline.HandlerFunc(func(_ context.Context, _ *domain.Task, s pipeline.State) (pipeline.Outcome, error) {
			runs++
			return pipeline.Outcome{State: s}, nil
		}),
	})
	s := mocks.NewMockTaskStore()
	w := NewWorker(s, registry, DefaultWorkerConfig(), discardLogger())
	created := createTask(t, s, map[string]any{}, []domain.StepDefinition{{Key: "a"}}, time.Time{})

	dbDown := errors.New("connection refused")
	s.FailOn("MarkStepSuccess", dbDown)

	err := w.Tick(context.Background())
	require.ErrorIs(t, err, dbDown)

	task, steps := loadTask(t, s, created.ID)
	assert.Equal(t, domain.StatusRunning, task.Status, "task keeps its last persisted state")
	assert.Equal(t, domain.StatusRunning, steps[0].Status)

	s.FailOn("MarkStepSuccess", nil)
	require.NoError(t, w.Tick(context.Background()))

	task, steps = loadTask(t, s, created.ID)
	assert.Equal(t, domain.StatusSuccess, task.Status)
	assert.Equal(t, domain.StatusSuccess, steps[0].Status)
	assert.Equal(t, 2, runs, "the interrupted step runs again")
}

func TestWorkerRerunsFailedStepWhenFailingTaskWasInterrupted(t *testing.T) {
	t.Parallel()

	calls := 0
	registry := pipeline.NewRegistry(map[string]pipeline.Handler{
		"a": pipeline.HandlerFunc(func(_ context.Context, _ *domain.Task, s pipeline.State) (pipeline.Outcome, error) {
			calls++
			if calls == 1 {
				return pipeline.Outcome{}, errors.New("model unavailable")
			}
			return pipeline.Outcome{State: s}, nil
		}),
	})
	s := mocks.NewMockTaskStore()
	w := NewWorker(s, registry, DefaultWorkerConfig(), discardLogger())
	first := createTask(t, s, map[string]any{}, []domain.StepDefinition{{Key: "a"}}, time.Now().Add(-time.Minute))

	dbDown := errors.New("connection refused")
	s.FailOn("UpsertTaskError", dbDown)
	require.ErrorIs(t, w.Tick(context.Background()), dbDown)

	task, steps := loadTask(t, s, first.ID)
	assert.Equal(t, domain.StatusRunning, task.Status)
	assert.Equal(t, domain.StatusFailed, steps[0].Status)

	s.FailOn("UpsertTaskError", nil)
	second := createTask(t, s, map[string]any{}, []domain.StepDefinition{{Key: "a"}}, time.Time{})

	require.NoError(t, w.Tick(context.Background()))
	task, steps = loadTask(t, s, first.ID)
	assert.Equal(t, domain.StatusSuccess, task.Status)
	assert.Equal(t, domain.StatusSuccess, steps[0].Status)
	assert.Equal(t, 2, calls)

	require.NoError(t, w.Tick(context.Background()))
	task, _ = loadTask(t, s, second.ID)
	assert.Equal(t, domain.StatusSuccess, task.Status, "the queue is not blocked behind the first task")
}

func TestWorkerResumesRequeuedFailedTask(t *testing.T) {
	t.Parallel()

	f := newMomentsFixture(t)
	created := createTask(t, f.store, map[string]any{
		"userText":    "Lazy Sunday",
		"imageBase64": helloBase64,
	}, pipeline.MomentsSteps, time.Time{})

	f.text.Err = errors.New("quota exceeded")
	require.NoError(t, f.worker.Tick(context.Background()))
	task, steps := loadTask(t, f.store, created.ID)
	require.Equal(t, domain.StatusFailed, task.Status)
	require.Equal(t, domain.StatusFailed, steps[4].Status)

	f.text.Err = nil
	f.store.SetTaskStatus(created.ID, domain.StatusPending)
	require.NoError(t, f.worker.Tick(context.Background()))

	task, steps = loadTask(t, f.store, created.ID)
	assert.Equal(t, domain.StatusSuccess, task.Status)
	assert.Nil(t, task.ErrorMessage)
	for _, s := range steps {
		assert.Equal(t, domain.StatusSuccess, s.Status, s.Key)
	}
	assert.NotContains(t, string(steps[4].Extra), "quota exceeded")
	assert.Equal(t, 1, f.vision.Calls(), "steps before the failure are restored, not re-run")
}

func TestWorkerRunWaitsAfterStoreError(t *testing.T) {
	t.Parallel()

	registry := pipeline.NewRegistry(map[string]pipeline.Handler{
		"a": pipeline.HandlerFunc(func(_ context.Context, _ *domain.Task, s pipeline.State) (pipeline.Outcome, error) {
			return pipeline.Outcome{State: s}, nil
		}),
	})
	s := mocks.NewMockTaskStore()
	w := NewWorker(s, registry, WorkerConfig{PollInterval: time.Hour}, discardLogger())
	createTask(t, s, map[string]any{}, []domain.StepDefinition{{Key: "a"}}, time.Time{})
	s.FailOn("MarkStepSuccess", errors.New("connection refused"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()
	w.Wake()

	require.Eventually(t, func() bool {
		return s.CallCount("MarkStepSuccess") == 1
	}, 2*time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, 1, s.CallCount("MarkStepSuccess"), "a failed tick waits for the next poll")
	assert.Equal(t, 2, s.CallCount("FindNextRunnableTask"), "startup recovery plus one tick")
}

func TestWorkerClaimFailureLeavesTaskPending(t *testing.T) {
	t.Parallel()

	s := mocks.NewMockTaskStore()
	w := NewWorker(s, pipeline.NewRegistry(nil), DefaultWorkerConfig(), discardLogger())
	created := createTask(t, s, map[string]any{}, []domain.StepDefinition{{Key: "a"}}, time.Time{})

	s.FailOn("ClaimTask", errors.New("timeout"))
	require.Error(t, w.Tick(context.Background()))

	task, _ := loadTask(t, s, created.ID)
	assert.Equal(t, domain.StatusPending, task.Status)
}

func TestWorkerRejectsReentrantTick(t *testing.T) {
	t.Parallel()

	entered := make(chan struct{})
	release := make(chan struct{})
	registry := pipeline.NewRegistry(map[string]pipeline.Handler{
		"slow": pipeline.HandlerFunc(func(_ context.Context, _ *domain.Task, s pipeline.State) (pipeline.Outcome, error) {
			close(entered)
			<-release
			return pipeline.Outcome{State: s}, nil
		}),
	})
	s := mocks.NewMockTaskStore()
	w := NewWorker(s, registry, DefaultWorkerConfig(), discardLogger())
	created := createTask(t, s, map[string]any{}, []domain.StepDefinition{{Key: "slow"}}, time.Time{})

	var wg sync.WaitGroup
	wg.Add(1)
	var firstErr error
	go func() {
		defer wg.Done()
		firstErr = w.Tick(context.Background())
	}()

	<-entered
	assert.ErrorIs(t, w.Tick(context.Background()), ErrWorkerBusy)

	close(release)
	wg.Wait()
	require.NoError(t, firstErr)

	task, _ := loadTask(t, s, created.ID)
	assert.Equal(t, domain.StatusSuccess, task.Status)
}

func TestWorkerRunDrainsOnWake(t *testing.T) {
	t.Parallel()

	f := newMomentsFixture(t)
	f.worker = NewWorker(f.store, f.worker.registry, WorkerConfig{PollInterval: time.Hour}, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.worker.Run(ctx)
	}()

	payload := map[string]any{"imageBase64": helloBase64}
	first := createTask(t, f.store, payload, pipeline.MomentsSteps, time.Time{})
	second := createTask(t, f.store, payload, pipeline.MomentsSteps, time.Time{})

	emitter := events.NewInMemoryEventEmitter(discardLogger())
	emitter.RegisterHandler(NewWakeOnCreate(f.worker, discardLogger()))
	require.NoError(t, emitter.EmitEvent(ctx, events.NewTaskCreatedEvent(first.ID, first.Type)))

	for _, id := range []uuid.UUID{first.ID, second.ID} {
		id := id
		require.Eventually(t, func() bool {
			task, err := f.store.GetTaskByID(context.Background(), id)
			return err == nil && task.Status == domain.StatusSuccess
		}, 2*time.Second, 10*time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after cancellation")
	}
}

func TestWorkerRecoverLogsInFlightTask(t *testing.T) {
	t.Parallel()

	s := mocks.NewMockTaskStore()
	log, buf := logger.NewTestLogger(t)
	w := NewWorker(s, pipeline.NewRegistry(nil), DefaultWorkerConfig(), log)

	require.NoError(t, w.Recover(context.Background()))

	created := createTask(t, s, map[string]any{}, []domain.StepDefinition{{Key: "a"}}, time.Time{})
	s.SetTaskStatus(created.ID, domain.StatusRunning)
	require.NoError(t, w.Recover(context.Background()))

	entry, found := buf.Find("resuming in-flight task")
	require.True(t, found)
	assert.Equal(t, created.ID.String(), entry.Attrs["task_id"])

	task, _ := loadTask(t, s, created.ID)
	assert.Equal(t, domain.StatusRunning, task.Status, "recovery does not reset tasks")
}

func TestWakeIsNonBlocking(t *testing.T) {
	t.Parallel()

	w := NewWorker(mocks.NewMockTaskStore(), pipeline.NewRegistry(nil), DefaultWorkerConfig(), discardLogger())
	for i := 0; i < 10; i++ {
		w.Wake()
	}
	assert.Len(t, w.wake, 1)
}
