package server

import (
	"encoding/json"
	"net/http"

	openapi "github.com/swaggest/openapi-go"
	"github.com/swaggest/openapi-go/openapi3"

	"github.com/playperu/adventure/internal/unlock"
)

// ErrorResponse is returned for all error responses.
type ErrorResponse struct {
	Error string `json:"error"`
}

type operation struct {
	method, path, summary, description string
	req                                any
	resp                               any
	status                             int
	errors                             []int
	contentType                        string
}

var operations = []operation{
	{http.MethodGet, "/healthz", "Health check", "Returns the health status of backend dependencies.",
		nil, HealthResponse{}, http.StatusOK, []int{http.StatusServiceUnavailable}, ""},

	{http.MethodGet, "/api/projects", "List projects", "Returns all published projects.",
		nil, []ProjectResponse{}, http.StatusOK, nil, ""},
	{http.MethodGet, "/api/projects/{id}", "Get project", "Returns a published project.",
		nil, ProjectResponse{}, http.StatusOK, []int{http.StatusNotFound}, ""},
	{http.MethodGet, "/api/projects/{id}/locations", "List locations", "Returns the project's locations in fetch order.",
		nil, []LocationResponse{}, http.StatusOK, []int{http.StatusNotFound}, ""},
	{http.MethodGet, "/api/projects/{id}/map", "Map preview", "Returns markers around ?lat&lon, highlighting those within the preview radius.",
		nil, MapResponse{}, http.StatusOK, []int{http.StatusBadRequest, http.StatusNotFound}, ""},

	{http.MethodPost, "/api/profile", "Create profile", "Creates a player profile. Returns a bearer token.",
		ProfileRequest{}, ProfileResponse{}, http.StatusCreated, []int{http.StatusBadRequest, http.StatusConflict}, ""},
	{http.MethodGet, "/api/profile", "Current profile", "Returns the profile of the bearer token.",
		nil, ProfileResponse{}, http.StatusOK, []int{http.StatusUnauthorized}, ""},
	{http.MethodPost, "/api/locations/{id}/visits", "Record visit", "Counts a visit once per profile. Requires Bearer token.",
		nil, VisitResponse{}, http.StatusOK, []int{http.StatusUnauthorized, http.StatusNotFound}, ""},
	{http.MethodPost, "/api/tracking", "Add tracking record", "Appends a tracking record. Requires Bearer token.",
		TrackingRequest{}, TrackingRecord{}, http.StatusCreated, []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound}, ""},

	{http.MethodGet, "/api/sessions/{projectID}", "Session state", "Returns visited locations and score. Requires Bearer token.",
		nil, unlock.State{}, http.StatusOK, []int{http.StatusUnauthorized, http.StatusNotFound}, ""},
	{http.MethodPost, "/api/sessions/{projectID}/position", "Submit position", "Runs one evaluation cycle. A fix arriving during another cycle is dropped with 409.",
		PositionRequest{}, UnlockResponse{}, http.StatusOK, []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound, http.StatusConflict}, ""},
	{http.MethodPost, "/api/sessions/{projectID}/scan", "Scan location", "Unlocks a location by id regardless of distance.",
		ScanRequest{}, UnlockResponse{}, http.StatusOK, []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound}, ""},
	{http.MethodDelete, "/api/sessions/{projectID}/visited", "Reset progress", "Clears the visited set.",
		nil, unlock.State{}, http.StatusOK, []int{http.StatusUnauthorized, http.StatusNotFound}, ""},
	{http.MethodPost, "/api/sessions/{projectID}/permission", "Location permission", "Enables or disables proximity unlocking.",
		PermissionRequest{}, unlock.State{}, http.StatusOK, []int{http.StatusUnauthorized, http.StatusNotFound}, ""},
	{http.MethodGet, "/api/sessions/{projectID}/events", "SSE event stream", "Server-Sent Events stream of engine events. Pass token as query parameter.",
		nil, nil, http.StatusOK, []int{http.StatusUnauthorized}, "text/event-stream"},
	{http.MethodGet, "/api/sessions/{projectID}/ws", "Tracking WebSocket", "Send position fixes, receive engine events. Pass token as query parameter.",
		nil, nil, http.StatusSwitchingProtocols, []int{http.StatusUnauthorized}, "application/json"},

	{http.MethodPost, "/api/admin/login", "Admin login", "Authenticate with email and password. Sets admin_session cookie.",
		AdminLoginRequest{}, AdminMeResponse{}, http.StatusOK, []int{http.StatusBadRequest, http.StatusUnauthorized}, ""},
	{http.MethodPost, "/api/admin/logout", "Admin logout", "Clears admin session and cookie.",
		nil, nil, http.StatusOK, nil, ""},
	{http.MethodGet, "/api/admin/me", "Current admin", "Returns the currently authenticated admin.",
		nil, AdminMeResponse{}, http.StatusOK, []int{http.StatusUnauthorized}, ""},
	{http.MethodGet, "/api/admin/projects", "List all projects", "Includes unpublished projects.",
		nil, []ProjectResponse{}, http.StatusOK, []int{http.StatusUnauthorized}, ""},
	{http.MethodPost, "/api/admin/projects", "Create project", "Creates a project.",
		ProjectRequest{}, ProjectResponse{}, http.StatusCreated, []int{http.StatusBadRequest, http.StatusUnauthorized}, ""},
	{http.MethodGet, "/api/admin/projects/{id}", "Get project", "Returns a project, published or not.",
		nil, ProjectResponse{}, http.StatusOK, []int{http.StatusNotFound, http.StatusUnauthorized}, ""},
	{http.MethodPut, "/api/admin/projects/{id}", "Update project", "Updates a project and reloads its open sessions.",
		ProjectRequest{}, ProjectResponse{}, http.StatusOK, []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnauthorized}, ""},
	{http.MethodDelete, "/api/admin/projects/{id}", "Delete project", "Deletes a project with its locations, visits and tracking records.",
		nil, nil, http.StatusOK, []int{http.StatusNotFound, http.StatusUnauthorized}, ""},
	{http.MethodGet, "/api/admin/projects/{id}/locations", "List locations", "Returns locations with visit counts.",
		nil, []LocationResponse{}, http.StatusOK, []int{http.StatusNotFound, http.StatusUnauthorized}, ""},
	{http.MethodPost, "/api/admin/projects/{id}/locations", "Create location", `Position must look like "(lat, lon)" or be empty.`,
		LocationRequest{}, LocationResponse{}, http.StatusCreated, []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnauthorized}, ""},
	{http.MethodPut, "/api/admin/projects/{id}/locations/{locationID}", "Update location", "Updates a location.",
		LocationRequest{}, LocationResponse{}, http.StatusOK, []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnauthorized}, ""},
	{http.MethodDelete, "/api/admin/projects/{id}/locations/{locationID}", "Delete location", "Deletes a location and its visits.",
		nil, nil, http.StatusOK, []int{http.StatusNotFound, http.StatusUnauthorized}, ""},
	{http.MethodGet, "/api/admin/projects/{id}/tracking", "List tracking records", "Returns the project's tracking records in arrival order.",
		nil, []TrackingRecord{}, http.StatusOK, []int{http.StatusUnauthorized}, ""},
}

func newOpenAPISpec() *openapi3.Spec {
	r := openapi3.NewReflector()
	r.Spec.Info.Title = "Adventure API"
	r.Spec.Info.Version = "0.1.0"
	r.Spec.Info.WithDescription("Backend API for location-based adventures.")

	for _, op := range operations {
		oc, err := r.NewOperationContext(op.method, op.path)
		if err != nil {
			continue
		}
		oc.SetSummary(op.summary)
		oc.SetDescription(op.description)
		if op.req != nil {
			oc.AddReqStructure(op.req)
		}
		if op.contentType != "" {
			oc.AddRespStructure(op.resp, openapi.WithHTTPStatus(op.status),
				openapi.WithContentType(op.contentType))
		} else {
			oc.AddRespStructure(op.resp, openapi.WithHTTPStatus(op.status))
		}
		for _, status := range op.errors {
			oc.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(status))
		}
		_ = r.AddOperation(oc)
	}

	return r.Spec
}

func handleOpenAPI() http.HandlerFunc {
	spec := newOpenAPISpec()
	data, _ := json.MarshalIndent(spec, "", "  ")

	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	}
}
