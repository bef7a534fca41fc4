package api

import (
	"net/http"

	"github.com/phrazzld/moments-api/internal/api/shared"
	"github.com/phrazzld/moments-api/internal/service"
)

// HistoryHandler serves a user's analysis history.
type HistoryHandler struct {
	history service.HistoryService
}

// NewHistoryHandler creates a HistoryHandler.
func NewHistoryHandler(history service.HistoryService) *HistoryHandler {
	return &HistoryHandler{history: history}
}

// ListHistory handles GET /api/history?page=&size=.
func (h *HistoryHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	page, err := h.history.List(r.Context(), userID,
		queryInt(r, "page", 0),
		queryInt(r, "size", service.DefaultHistoryPageSize))
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	items := make([]HistoryEntryResponse, 0, len(page.Items))
	for _, e := range page.Items {
		items = append(items, historyEntryToResponse(e))
	}

	shared.RespondWithJSON(w, r, http.StatusOK, HistoryPageResponse{
		Items: items,
		Page:  page.Page,
		Size:  page.Size,
		Total: page.Total,
	})
}

// GetHistory handles GET /api/history/{id}.
func (h *HistoryHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	userID, entryID, ok := handleUserIDAndPathUUID(w, r, "id")
	if !ok {
		return
	}

	entry, err := h.history.Get(r.Context(), userID, entryID)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, historyEntryToResponse(entry))
}
