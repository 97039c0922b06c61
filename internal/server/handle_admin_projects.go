package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/playperu/adventure/internal/adventure"
	"github.com/playperu/adventure/internal/geo"
)

type ProjectRequest struct {
	Title        string `json:"title"`
	Instructions string `json:"instructions"`
	DisplayMode  string `json:"displayMode"`
	InitialClue  string `json:"initialClue"`
	ScoringMode  string `json:"scoringMode"`
	Published    bool   `json:"published"`
}

func (req *ProjectRequest) validate() string {
	req.Title = strings.TrimSpace(req.Title)
	req.Instructions = strings.TrimSpace(req.Instructions)
	req.InitialClue = strings.TrimSpace(req.InitialClue)
	if req.Title == "" {
		return "title is required"
	}
	display, err := adventure.ParseDisplayMode(req.DisplayMode)
	if err != nil {
		return "displayMode must be initial_clue or all_locations"
	}
	scoring, err := adventure.ParseScoringMode(req.ScoringMode)
	if err != nil {
		return "scoringMode must be sequence or points"
	}
	req.DisplayMode, req.ScoringMode = string(display), string(scoring)
	if display == adventure.DisplayInitialClue && req.InitialClue == "" {
		return "initialClue is required when displayMode is initial_clue"
	}
	return ""
}

type LocationRequest struct {
	Name      string `json:"name"`
	Position  string `json:"position"`
	Points    int    `json:"points"`
	Clue      string `json:"clue"`
	Content   string `json:"content"`
	SortOrder *int   `json:"sortOrder,omitempty"`
}

// validate normalizes the position to "(lat, lon)". An empty position is
// allowed: such a location is only unlockable by scan.
func (req *LocationRequest) validate() string {
	req.Name = strings.TrimSpace(req.Name)
	req.Position = strings.TrimSpace(req.Position)
	if req.Name == "" {
		return "name is required"
	}
	if req.Points < 0 {
		return "points must not be negative"
	}
	if req.Position != "" {
		p, ok := geo.ParsePosition(req.Position)
		if !ok {
			return `position must look like "(lat, lon)"`
		}
		req.Position = geo.FormatPosition(p)
	}
	return ""
}

func handleAdminListProjects(store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projects, err := store.ListProjects(r.Context(), false)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		if projects == nil {
			projects = []ProjectResponse{}
		}
		writeJSON(w, http.StatusOK, projects)
	}
}

func handleAdminCreateProject(store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ProjectRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if msg := req.validate(); msg != "" {
			writeError(w, http.StatusBadRequest, msg)
			return
		}

		project, err := store.CreateProject(r.Context(), req)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		writeJSON(w, http.StatusCreated, project)
	}
}

func handleAdminGetProject(store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		project, err := store.GetProject(r.Context(), chi.URLParam(r, "id"))
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "project not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		writeJSON(w, http.StatusOK, project)
	}
}

func handleAdminUpdateProject(store Store, hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		var req ProjectRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if msg := req.validate(); msg != "" {
			writeError(w, http.StatusBadRequest, msg)
			return
		}

		project, err := store.UpdateProject(r.Context(), id, req)
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "project not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		hub.Invalidate(id)
		writeJSON(w, http.StatusOK, project)
	}
}

func handleAdminDeleteProject(store Store, hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		if err := store.DeleteProject(r.Context(), id); err != nil {
			if errors.Is(err, ErrNotFound) {
				writeError(w, http.StatusNotFound, "project not found")
				return
			}
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		hub.Invalidate(id)
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func handleAdminListLocations(store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		locations, err := store.ListLocations(r.Context(), chi.URLParam(r, "id"))
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "project not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		if locations == nil {
			locations = []LocationResponse{}
		}
		writeJSON(w, http.StatusOK, locations)
	}
}

func handleAdminCreateLocation(store Store, hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "id")

		var req LocationRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if msg := req.validate(); msg != "" {
			writeError(w, http.StatusBadRequest, msg)
			return
		}

		location, err := store.CreateLocation(r.Context(), projectID, req)
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "project not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		hub.Invalidate(projectID)
		writeJSON(w, http.StatusCreated, location)
	}
}

func handleAdminUpdateLocation(store Store, hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "id")
		locationID := chi.URLParam(r, "locationID")

		var req LocationRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if msg := req.validate(); msg != "" {
			writeError(w, http.StatusBadRequest, msg)
			return
		}

		location, err := store.UpdateLocation(r.Context(), projectID, locationID, req)
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "location not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		hub.Invalidate(projectID)
		writeJSON(w, http.StatusOK, location)
	}
}

func handleAdminDeleteLocation(store Store, hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "id")

		err := store.DeleteLocation(r.Context(), projectID, chi.URLParam(r, "locationID"))
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "location not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		hub.Invalidate(projectID)
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func handleAdminListTracking(store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		records, err := store.ListTracking(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		if records == nil {
			records = []TrackingRecord{}
		}
		writeJSON(w, http.StatusOK, records)
	}
}
