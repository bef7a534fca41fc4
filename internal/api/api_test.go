package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/phrazzld/moments-api/internal/api/middleware"
	"github.com/phrazzld/moments-api/internal/domain"
	"github.com/phrazzld/moments-api/internal/mocks"
	"github.com/phrazzld/moments-api/internal/pipeline"
	"github.com/phrazzld/moments-api/internal/service"
	"github.com/phrazzld/moments-api/internal/service/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testMaxBodyBytes = 1024

type apiFixture struct {
	tasks   *mocks.MockTaskStore
	history *mocks.MockHistoryStore
	users   *mocks.MockUserStore
	jwt     *mocks.MockJWTService
	router  http.Handler
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	f := &apiFixture{
		tasks:   mocks.NewMockTaskStore(),
		history: mocks.NewMockHistoryStore(),
		users:   mocks.NewMockUserStore(),
		jwt:     &mocks.MockJWTService{},
	}

	taskHandler := NewTaskHandler(service.NewTaskService(f.tasks, pipeline.DefaultPipelines(), nil, log), testMaxBodyBytes)
	historyHandler := NewHistoryHandler(service.NewHistoryService(f.history, log))
	userService := service.NewUserService(f.users, auth.NewBcryptVerifierWithCost(bcrypt.MinCost), log)
	authHandler := NewAuthHandler(userService, f.jwt)
	authMiddleware := middleware.NewAuthMiddleware(f.jwt)

	r := chi.NewRouter()
	r.Use(middleware.NewTraceMiddleware(log))
	r.Post("/api/auth/register", authHandler.Register)
	r.Post("/api/auth/login", authHandler.Login)
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.Authenticate)
		r.Post("/api/tasks", taskHandler.CreateTask)
		r.Get("/api/tasks/{id}", taskHandler.GetTask)
		r.Get("/api/history", historyHandler.ListHistory)
		r.Get("/api/history/{id}", historyHandler.GetHistory)
	})
	f.router = r
	return f
}

func (f *apiFixture) do(t *testing.T, method, path string, userID uuid.UUID, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if userID != uuid.Nil {
		req.Header.Set("Authorization", "Bearer "+mocks.TokenFor(userID))
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp.Error
}

func (f *apiFixture) createTask(t *testing.T, userID uuid.UUID, body string) uuid.UUID {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/tasks", userID, body)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var resp CreateTaskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEqual(t, uuid.Nil, resp.TaskID)
	return resp.TaskID
}

func TestCreateTask(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	userID := uuid.New()

	id := f.createTask(t, userID, fmt.Sprintf(`{"userId":"%s","userText":"hello","imageBase64":"aGVsbG8="}`, uuid.New()))

	task, err := f.tasks.GetTaskByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultTaskType, task.Type)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(task.Payload, &payload))
	assert.Equal(t, userID.String(), payload["userId"], "identity comes from the token")
	assert.Equal(t, "hello", payload["userText"])
}

func TestCreateTaskRejectsBadRequests(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		body       string
		auth       bool
		wantStatus int
		wantMsg    string
	}{
		{"no token", `{}`, false, http.StatusUnauthorized, "Authorization header required"},
		{"malformed json", `{"userText":`, true, http.StatusBadRequest, "Invalid request format"},
		{"array body", `[1,2]`, true, http.StatusBadRequest, "Invalid request format"},
		{"null body", `null`, true, http.StatusBadRequest, "Request body must be a JSON object"},
		{"trailing data", `{} {}`, true, http.StatusBadRequest, "Invalid request format"},
		{"unknown type", `{"type":"video_edit"}`, true, http.StatusBadRequest, "Invalid task request"},
		{
			"too large",
			`{"userText":"` + strings.Repeat("x", testMaxBodyBytes) + `"}`,
			true, http.StatusRequestEntityTooLarge, "Request body too large",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newAPIFixture(t)
			userID := uuid.Nil
			if tt.auth {
				userID = uuid.New()
			}

			rec := f.do(t, http.MethodPost, "/api/tasks", userID, tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantMsg, errorMessage(t, rec))
			assert.Zero(t, f.tasks.TaskCount())
		})
	}
}

func TestGetTask(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	owner := uuid.New()
	id := f.createTask(t, owner, `{"userText":"hi"}`)

	rec := f.do(t, http.MethodGet, "/api/tasks/"+id.String(), owner, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	assert.Contains(t, raw, "serverTime")

	var task map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw["task"], &task))
	assert.JSONEq(t, `"`+id.String()+`"`, string(task["id"]))
	assert.JSONEq(t, `"PENDING"`, string(task["status"]))
	assert.Equal(t, "null", string(task["resultJson"]))
	assert.Equal(t, "null", string(task["errorMessage"]))

	var steps []map[string]any
	require.NoError(t, json.Unmarshal(raw["steps"], &steps))
	require.Len(t, steps, len(pipeline.MomentsSteps))
	for i, s := range steps {
		assert.Equal(t, pipeline.MomentsSteps[i].Key, s["stepKey"])
		assert.Equal(t, pipeline.MomentsSteps[i].Label, s["stepLabel"])
		assert.Equal(t, "PENDING", s["status"])
		assert.Nil(t, s["startedAt"])
		assert.Nil(t, s["finishedAt"])
	}
}

func TestGetTaskErrors(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	owner := uuid.New()
	id := f.createTask(t, owner, `{}`)

	rec := f.do(t, http.MethodGet, "/api/tasks/not-a-uuid", owner, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid id", errorMessage(t, rec))

	rec = f.do(t, http.MethodGet, "/api/tasks/"+uuid.NewString(), owner, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Task not found", errorMessage(t, rec))

	rec = f.do(t, http.MethodGet, "/api/tasks/"+id.String(), uuid.New(), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Task not found", errorMessage(t, rec))
}

var serverTimeField = regexp.MustCompile(`"serverTime":"[^"]*",`)

func TestGetTerminalTaskIsStable(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	owner := uuid.New()
	id := f.createTask(t, owner, `{"userText":"hi"}`)
	ctx := context.Background()

	claimed, err := f.tasks.ClaimTask(ctx, id)
	require.NoError(t, err)
	require.True(t, claimed)
	steps, err := f.tasks.GetTaskSteps(ctx, id)
	require.NoError(t, err)
	for _, s := range steps {
		require.NoError(t, f.tasks.MarkStepRunning(ctx, s.ID))
		require.NoError(t, f.tasks.MarkStepSuccess(ctx, s.ID, json.RawMessage(`{"ok":true}`)))
	}
	result := `{"optimizedText":"done","visionSummary":"v","thumbPath":"/uploads/thumbnails/a.jpg"}`
	require.NoError(t, f.tasks.UpdateTaskResult(ctx, id, json.RawMessage(result)))

	first := f.do(t, http.MethodGet, "/api/tasks/"+id.String(), owner, "")
	time.Sleep(2 * time.Millisecond)
	second := f.do(t, http.MethodGet, "/api/tasks/"+id.String(), owner, "")
	require.Equal(t, http.StatusOK, first.Code)
	require.Equal(t, http.StatusOK, second.Code)

	a := serverTimeField.ReplaceAll(first.Body.Bytes(), nil)
	b := serverTimeField.ReplaceAll(second.Body.Bytes(), nil)
	require.NotEqual(t, first.Body.Bytes(), a, "serverTime is present")
	assert.True(t, bytes.Equal(a, b), "responses differ:\n%s\n%s", a, b)

	var resp TaskDetailResponse
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &resp))
	assert.Equal(t, domain.StatusSuccess, resp.Task.Status)
	assert.JSONEq(t, result, string(resp.Task.ResultJSON))
	for _, s := range resp.Steps {
		assert.NotNil(t, s.StartedAt)
		assert.NotNil(t, s.FinishedAt)
	}
}

func seedHistory(t *testing.T, f *apiFixture, userID uuid.UUID, n int) []*domain.HistoryEntry {
	t.Helper()
	base := time.Now().UTC().Add(-time.Hour)
	var out []*domain.HistoryEntry
	for i := 0; i < n; i++ {
		e, err := domain.NewHistoryEntry(userID, fmt.Sprintf("in-%d", i), "out")
		require.NoError(t, err)
		e.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, f.history.RecordHistory(context.Background(), e))
		out = append(out, e)
	}
	return out
}

func TestListHistory(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	owner := uuid.New()
	entries := seedHistory(t, f, owner, 3)
	seedHistory(t, f, uuid.New(), 2)

	tests := []struct {
		query              string
		wantPage, wantSize int
		wantFirst          *domain.HistoryEntry
		wantItems          int
	}{
		{"", 0, service.DefaultHistoryPageSize, entries[2], 3},
		{"?page=1&size=2", 1, 2, entries[0], 1},
		{"?page=-4&size=1000", 0, service.MaxHistoryPageSize, entries[2], 3},
		{"?page=abc&size=xyz", 0, service.DefaultHistoryPageSize, entries[2], 3},
		{"?page=5", 5, service.DefaultHistoryPageSize, nil, 0},
	}

	for _, tt := range tests {
		rec := f.do(t, http.MethodGet, "/api/history"+tt.query, owner, "")
		require.Equal(t, http.StatusOK, rec.Code, tt.query)

		var resp HistoryPageResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, tt.wantPage, resp.Page, tt.query)
		assert.Equal(t, tt.wantSize, resp.Size, tt.query)
		assert.Equal(t, 3, resp.Total, tt.query)
		require.Len(t, resp.Items, tt.wantItems, tt.query)
		if tt.wantFirst != nil {
			assert.Equal(t, tt.wantFirst.ID, resp.Items[0].ID, tt.query)
		}
	}

	rec := f.do(t, http.MethodGet, "/api/history?page=5", owner, "")
	assert.Contains(t, rec.Body.String(), `"items":[]`)
}

func TestGetHistory(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	owner := uuid.New()
	entries := seedHistory(t, f, owner, 1)

	rec := f.do(t, http.MethodGet, "/api/history/"+entries[0].ID.String(), owner, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp HistoryEntryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "in-0", resp.InputText)
	assert.True(t, resp.Success)

	rec = f.do(t, http.MethodGet, "/api/history/"+entries[0].ID.String(), uuid.New(), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "History not found", errorMessage(t, rec))

	rec = f.do(t, http.MethodGet, "/api/history/nope", owner, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRegisterAndLogin(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	creds := `{"email":"person@example.com","password":"a-long-enough-password"}`

	rec := f.do(t, http.MethodPost, "/api/auth/register", uuid.Nil, creds)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var registered AuthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &registered))
	assert.Equal(t, mocks.TokenFor(registered.UserID), registered.Token)
	assert.Equal(t, domain.DefaultSignupCredits, registered.Credits)

	rec = f.do(t, http.MethodPost, "/api/auth/register", uuid.Nil, creds)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "Email already exists", errorMessage(t, rec))

	rec = f.do(t, http.MethodPost, "/api/auth/login", uuid.Nil, creds)
	require.Equal(t, http.StatusOK, rec.Code)
	var loggedIn AuthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &loggedIn))
	assert.Equal(t, registered.UserID, loggedIn.UserID)

	rec = f.do(t, http.MethodPost, "/api/auth/login", uuid.Nil,
		`{"email":"person@example.com","password":"not-the-password"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid credentials", errorMessage(t, rec))
}

func TestRegisterValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		body    string
		wantMsg string
	}{
		{"bad json", `{`, "Invalid request format"},
		{"missing email", `{"password":"a-long-enough-password"}`, "Invalid Email: required field"},
		{"bad email", `{"email":"nope","password":"a-long-enough-password"}`, "Invalid Email: invalid email format"},
		{"short password", `{"email":"a@example.com","password":"short"}`, "Invalid Password: too short"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newAPIFixture(t)
			rec := f.do(t, http.MethodPost, "/api/auth/register", uuid.Nil, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.wantMsg, errorMessage(t, rec))
		})
	}
}

func TestAuthMiddleware(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)

	send := func(header string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/history", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)
		return rec
	}

	rec := send("Basic abc")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid authorization format", errorMessage(t, rec))

	rec = send("Bearer garbage")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid token", errorMessage(t, rec))

	rec = send("bearer " + mocks.TokenFor(uuid.New()))
	assert.Equal(t, http.StatusOK, rec.Code)

	expiring := newAPIFixture(t)
	expiring.jwt.ValidateTokenFn = func(context.Context, string) (*auth.Claims, error) {
		return nil, auth.ErrExpiredToken
	}
	rec = expiring.do(t, http.MethodGet, "/api/history", uuid.New(), "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Token expired", errorMessage(t, rec))

	broken := newAPIFixture(t)
	broken.jwt.ValidateTokenFn = func(context.Context, string) (*auth.Claims, error) {
		return nil, errors.New("keystore offline")
	}
	rec = broken.do(t, http.MethodGet, "/api/history", uuid.New(), "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Authentication error", errorMessage(t, rec))
}

func TestErrorResponsesCarryTraceID(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t)
	rec := f.do(t, http.MethodGet, "/api/tasks/"+uuid.NewString(), uuid.New(), "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	var resp struct {
		TraceID string `json:"trace_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.TraceID, 32)
}
