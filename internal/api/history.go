package api

import (
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/exhibit-core/internal/device"
)

// maxQueryParamLen bounds identifiers taken from paths and query strings.
const maxQueryParamLen = 128

// historyResponse is the body of GET /devices/{id}/history.
type historyResponse struct {
	DeviceID string                     `json:"device_id"`
	History  []device.StateHistoryEntry `json:"history"`
	Count    int                        `json:"count"`
}

// handleGetDeviceHistory lists a device's recorded state changes, newest
// first. limit defaults to 50 and is capped at 200; since (RFC3339) keeps
// only later entries.
func (s *Server) handleGetDeviceHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" || len(id) > maxQueryParamLen {
		writeBadRequest(w, "invalid device ID")
		return
	}

	q := r.URL.Query()
	limit, err := parseIntParam(q.Get("limit"))
	if err != nil {
		writeBadRequest(w, "invalid limit")
		return
	}
	var since time.Time
	if raw := q.Get("since"); raw != "" {
		if since, err = time.Parse(time.RFC3339Nano, raw); err != nil {
			writeBadRequest(w, "invalid since timestamp")
			return
		}
	}

	entries, err := s.registry.History(r.Context(), id, limit)
	if err != nil {
		writeOperationError(w, err)
		return
	}
	if !since.IsZero() {
		entries = slices.DeleteFunc(entries, func(e device.StateHistoryEntry) bool {
			return !e.CreatedAt.After(since)
		})
	}

	writeJSON(w, http.StatusOK, historyResponse{DeviceID: id, History: entries, Count: len(entries)})
}
