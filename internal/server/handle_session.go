package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/playperu/adventure/internal/geo"
	"github.com/playperu/adventure/internal/unlock"
)

// PositionRequest is the request body for POST /api/sessions/{projectID}/position.
type PositionRequest struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// ScanRequest is the request body for POST /api/sessions/{projectID}/scan.
type ScanRequest struct {
	LocationID string `json:"locationId"`
}

// PermissionRequest is the request body for POST /api/sessions/{projectID}/permission.
type PermissionRequest struct {
	Granted bool `json:"granted"`
}

// UnlockResponse is returned by the position and scan endpoints. Unlock is
// set only when the call unlocked a location.
type UnlockResponse struct {
	Unlocked bool                `json:"unlocked"`
	Unlock   *unlock.UnlockEvent `json:"unlock,omitempty"`
	State    unlock.State        `json:"state"`
}

// sessionEngine resolves the engine for the authenticated profile and the
// {projectID} URL parameter, writing the error response on failure.
func sessionEngine(w http.ResponseWriter, r *http.Request, hub *Hub, logger *slog.Logger) (*unlock.Engine, bool) {
	projectID := chi.URLParam(r, "projectID")
	e, err := hub.Get(r.Context(), profileFrom(r), projectID)
	if err != nil {
		writeSessionError(w, logger, projectID, err)
		return nil, false
	}
	return e, true
}

// attachSession is sessionEngine for streaming endpoints: the returned
// subscription keeps the session open until it is detached.
func attachSession(w http.ResponseWriter, r *http.Request, hub *Hub, logger *slog.Logger) (*unlock.Engine, chan []byte, bool) {
	projectID := chi.URLParam(r, "projectID")
	e, ch, err := hub.Attach(r.Context(), profileFrom(r), projectID)
	if err != nil {
		writeSessionError(w, logger, projectID, err)
		return nil, nil, false
	}
	return e, ch, true
}

func writeSessionError(w http.ResponseWriter, logger *slog.Logger, projectID string, err error) {
	if errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusNotFound, "project not found")
		return
	}
	logger.Error("opening session failed", "project_id", projectID, "error", err)
	writeError(w, http.StatusBadGateway, "project directory unavailable")
}

func writeUnlockResult(w http.ResponseWriter, e *unlock.Engine, ev unlock.UnlockEvent, unlocked bool) {
	resp := UnlockResponse{Unlocked: unlocked, State: e.State()}
	if unlocked {
		resp.Unlock = &ev
	}
	writeJSON(w, http.StatusOK, resp)
}

func handleSessionState(hub *Hub, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e, ok := sessionEngine(w, r, hub, logger)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, e.State())
	}
}

func handleSessionPosition(hub *Hub, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req PositionRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		e, ok := sessionEngine(w, r, hub, logger)
		if !ok {
			return
		}

		ev, unlocked, err := e.HandlePosition(r.Context(), geo.Point{Lat: req.Lat, Lon: req.Lon})
		switch {
		case errors.Is(err, unlock.ErrInvalidPosition):
			writeError(w, http.StatusBadRequest, "invalid position")
			return
		case errors.Is(err, unlock.ErrBusy):
			writeError(w, http.StatusConflict, "evaluation in progress, position dropped")
			return
		case errors.Is(err, unlock.ErrProximityDisabled):
			writeError(w, http.StatusConflict, "location permission denied")
			return
		case errors.Is(err, unlock.ErrClosed):
			writeError(w, http.StatusConflict, "session reloaded, retry")
			return
		case err != nil:
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		writeUnlockResult(w, e, ev, unlocked)
	}
}

func handleSessionScan(hub *Hub, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ScanRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.LocationID == "" {
			writeError(w, http.StatusBadRequest, "locationId is required")
			return
		}

		e, ok := sessionEngine(w, r, hub, logger)
		if !ok {
			return
		}

		ev, unlocked, err := e.Unlock(r.Context(), req.LocationID)
		switch {
		case errors.Is(err, unlock.ErrUnknownLocation):
			writeError(w, http.StatusNotFound, "location not found")
			return
		case errors.Is(err, unlock.ErrClosed):
			writeError(w, http.StatusConflict, "session reloaded, retry")
			return
		case err != nil:
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		writeUnlockResult(w, e, ev, unlocked)
	}
}

// handleSessionReset clears the visited set. A failed store call is reported
// as a store_error event; the in-memory reset stands.
func handleSessionReset(hub *Hub, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e, ok := sessionEngine(w, r, hub, logger)
		if !ok {
			return
		}

		err := e.Reset(r.Context())
		if errors.Is(err, unlock.ErrClosed) {
			writeError(w, http.StatusConflict, "session reloaded, retry")
			return
		}
		if err != nil {
			logger.Warn("reset not persisted", "project_id", e.Project().ID, "error", err)
		}

		writeJSON(w, http.StatusOK, e.State())
	}
}

func handleSessionPermission(hub *Hub, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req PermissionRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		e, ok := sessionEngine(w, r, hub, logger)
		if !ok {
			return
		}

		e.SetProximity(req.Granted)
		writeJSON(w, http.StatusOK, e.State())
	}
}
