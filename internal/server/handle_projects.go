package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/playperu/adventure/internal/geo"
	"github.com/playperu/adventure/internal/unlock"
)

// MapResponse is the response for GET /api/projects/{id}/map.
type MapResponse struct {
	Center  geo.Point       `json:"center"`
	Radius  float64         `json:"radiusMeters"`
	Markers []unlock.Marker `json:"markers"`
}

func handleListProjects(store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projects, err := store.ListProjects(r.Context(), true)
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

// publishedProject loads a project visible to players. Unpublished projects
// are reported as missing.
func publishedProject(w http.ResponseWriter, r *http.Request, store Store) (ProjectResponse, bool) {
	p, err := store.GetProject(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, ErrNotFound) || (err == nil && !p.Published) {
		writeError(w, http.StatusNotFound, "project not found")
		return p, false
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return p, false
	}
	return p, true
}

func handleGetProject(store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := publishedProject(w, r, store)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func handleListLocations(store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := publishedProject(w, r, store)
		if !ok {
			return
		}

		locations, err := store.ListLocations(r.Context(), p.ID)
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

// handleProjectMap returns preview markers around ?lat&lon. Highlighting uses
// the preview radius and never unlocks anything.
func handleProjectMap(store Store, radius float64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lat, errLat := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
		lon, errLon := strconv.ParseFloat(r.URL.Query().Get("lon"), 64)
		center := geo.Point{Lat: lat, Lon: lon}
		if errLat != nil || errLon != nil || !center.Valid() {
			writeError(w, http.StatusBadRequest, "lat and lon query parameters are required")
			return
		}

		p, ok := publishedProject(w, r, store)
		if !ok {
			return
		}

		rows, err := store.ListLocations(r.Context(), p.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		markers := unlock.Preview(toLocations(rows), center, radius)
		if markers == nil {
			markers = []unlock.Marker{}
		}
		writeJSON(w, http.StatusOK, MapResponse{Center: center, Radius: radius, Markers: markers})
	}
}
