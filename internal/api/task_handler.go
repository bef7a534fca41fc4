package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/phrazzld/moments-api/internal/api/shared"
	"github.com/phrazzld/moments-api/internal/service"
)

// TaskHandler serves task creation and status requests.
type TaskHandler struct {
	tasks        service.TaskService
	maxBodyBytes int64
	now          func() time.Time
}

// NewTaskHandler creates a TaskHandler. Request bodies larger than
// maxBodyBytes are rejected.
func NewTaskHandler(tasks service.TaskService, maxBodyBytes int64) *TaskHandler {
	return &TaskHandler{
		tasks:        tasks,
		maxBodyBytes: maxBodyBytes,
		now:          time.Now,
	}
}

// CreateTask handles POST /api/tasks. The body is a free-form JSON object
// that becomes the task payload.
func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var body map[string]any
	if err := shared.DecodeJSON(w, r, &body, h.maxBodyBytes); err != nil {
		if errors.Is(err, shared.ErrBodyTooLarge) {
			HandleAPIError(w, r, err, "")
			return
		}
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	if body == nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Request body must be a JSON object")
		return
	}

	id, err := h.tasks.CreateTask(r.Context(), userID, body)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusAccepted, CreateTaskResponse{TaskID: id})
}

// GetTask handles GET /api/tasks/{id}.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	userID, taskID, ok := handleUserIDAndPathUUID(w, r, "id")
	if !ok {
		return
	}

	detail, err := h.tasks.GetTask(r.Context(), userID, taskID)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, taskDetailToResponse(detail, h.now().UTC()))
}
