package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

// VisitResponse is the response for POST /api/locations/{id}/visits.
type VisitResponse struct {
	LocationID string `json:"locationId"`
	Visits     int    `json:"visits"`
}

// TrackingRequest is the request body for POST /api/tracking.
type TrackingRequest struct {
	ProjectID  string `json:"projectId"`
	LocationID string `json:"locationId"`
	Username   string `json:"username"`
	// RequestID makes retries safe: a second request with the same id
	// returns the first record instead of appending another.
	RequestID string `json:"requestId,omitempty"`
}

func handleRecordVisit(store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		profile := profileFrom(r)
		locationID := chi.URLParam(r, "id")

		visits, err := store.RecordVisit(r.Context(), locationID, profile.ID)
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "location not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		writeJSON(w, http.StatusOK, VisitResponse{LocationID: locationID, Visits: visits})
	}
}

func handleAddTracking(store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req TrackingRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		req.Username = strings.TrimSpace(req.Username)
		if req.ProjectID == "" || req.LocationID == "" {
			writeError(w, http.StatusBadRequest, "projectId and locationId are required")
			return
		}
		if req.Username == "" {
			req.Username = profileFrom(r).Username
		}

		rec, err := store.AddTracking(r.Context(), req)
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "location not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		writeJSON(w, http.StatusCreated, rec)
	}
}
