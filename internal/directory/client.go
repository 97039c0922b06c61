// Package directory is the REST client for the adventure backend: it fetches
// projects and locations and records visits.
package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/playperu/adventure/internal/adventure"
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend returned %d", e.Status)
	}
	return fmt.Sprintf("backend returned %d: %s", e.Status, e.Message)
}

// Retryable reports whether repeating the request may succeed.
func (e *StatusError) Retryable() bool {
	return e.Status >= 500 || e.Status == http.StatusTooManyRequests
}

type Client struct {
	baseURL  string
	http     *http.Client
	username string
	token    string
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithProfile attaches the device's profile: the token authenticates visit
// recording and the username is written into tracking records.
func WithProfile(p adventure.Profile, token string) Option {
	return func(c *Client) {
		c.username = p.Username
		c.token = token
	}
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type projectJSON struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Instructions string `json:"instructions"`
	DisplayMode  string `json:"displayMode"`
	InitialClue  string `json:"initialClue"`
	ScoringMode  string `json:"scoringMode"`
	Published    bool   `json:"published"`
}

type locationJSON struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Position string `json:"position"`
	Points   *int   `json:"points"`
	Clue     string `json:"clue"`
	Content  string `json:"content"`
}

// ListProjects returns the published projects.
func (c *Client) ListProjects(ctx context.Context) ([]adventure.Project, error) {
	var raw []projectJSON
	if err := c.do(ctx, http.MethodGet, "/api/projects", nil, &raw); err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}
	projects := make([]adventure.Project, 0, len(raw))
	for _, p := range raw {
		project, err := p.toProject()
		if err != nil {
			return nil, err
		}
		projects = append(projects, project)
	}
	return projects, nil
}

func (c *Client) Project(ctx context.Context, projectID string) (adventure.Project, error) {
	var raw projectJSON
	if err := c.do(ctx, http.MethodGet, "/api/projects/"+url.PathEscape(projectID), nil, &raw); err != nil {
		return adventure.Project{}, fmt.Errorf("fetching project: %w", err)
	}
	return raw.toProject()
}

func (p projectJSON) toProject() (adventure.Project, error) {
	display, err := adventure.ParseDisplayMode(p.DisplayMode)
	if err != nil {
		return adventure.Project{}, fmt.Errorf("project %s: %w", p.ID, err)
	}
	scoring, err := adventure.ParseScoringMode(p.ScoringMode)
	if err != nil {
		return adventure.Project{}, fmt.Errorf("project %s: %w", p.ID, err)
	}
	return adventure.Project{
		ID:           p.ID,
		Title:        p.Title,
		Instructions: p.Instructions,
		DisplayMode:  display,
		InitialClue:  p.InitialClue,
		ScoringMode:  scoring,
		Published:    p.Published,
	}, nil
}

// Locations returns the project's locations in the order the backend lists
// them. Malformed positions are kept as position-less locations.
func (c *Client) Locations(ctx context.Context, projectID string) ([]adventure.Location, error) {
	var raw []locationJSON
	path := "/api/projects/" + url.PathEscape(projectID) + "/locations"
	if err := c.do(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return nil, fmt.Errorf("fetching locations: %w", err)
	}

	locations := make([]adventure.Location, 0, len(raw))
	for i, r := range raw {
		points := 0
		if r.Points != nil {
			points = *r.Points
		}
		l := adventure.NewLocation(r.ID, projectID, r.Name, r.Position, points)
		l.Clue = r.Clue
		l.Content = r.Content
		l.SortOrder = i
		locations = append(locations, l)
	}
	return locations, nil
}

type trackingJSON struct {
	ProjectID  string `json:"projectId"`
	LocationID string `json:"locationId"`
	Username   string `json:"username"`
	RequestID  string `json:"requestId,omitempty"`
}

// RecordVisit marks the location visited on the backend and appends a
// tracking record for the profile.
func (c *Client) RecordVisit(ctx context.Context, projectID, locationID string) error {
	if err := c.CountVisit(ctx, locationID); err != nil {
		return err
	}
	return c.AddTracking(ctx, projectID, locationID, uuid.NewString())
}

// CountVisit increments the location's visit count. The backend counts each
// profile once, so repeating it is safe.
func (c *Client) CountVisit(ctx context.Context, locationID string) error {
	path := "/api/locations/" + url.PathEscape(locationID) + "/visits"
	if err := c.do(ctx, http.MethodPost, path, nil, nil); err != nil {
		return fmt.Errorf("recording visit: %w", err)
	}
	return nil
}

// AddTracking appends a tracking record. Requests repeated with the same
// requestID create a single record.
func (c *Client) AddTracking(ctx context.Context, projectID, locationID, requestID string) error {
	body := trackingJSON{ProjectID: projectID, LocationID: locationID, Username: c.username, RequestID: requestID}
	if err := c.do(ctx, http.MethodPost, "/api/tracking", body, nil); err != nil {
		return fmt.Errorf("writing tracking record: %w", err)
	}
	return nil
}

type profileJSON struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	AvatarURL string    `json:"avatarUrl,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	Token     string    `json:"token,omitempty"`
}

func (p profileJSON) toProfile() adventure.Profile {
	return adventure.Profile{ID: p.ID, Username: p.Username, AvatarURL: p.AvatarURL, CreatedAt: p.CreatedAt}
}

// CreateProfile registers a new profile and returns it with its bearer token.
func (c *Client) CreateProfile(ctx context.Context, username, avatarURL string) (adventure.Profile, string, error) {
	var raw profileJSON
	body := map[string]string{"username": username, "avatarUrl": avatarURL}
	if err := c.do(ctx, http.MethodPost, "/api/profile", body, &raw); err != nil {
		return adventure.Profile{}, "", fmt.Errorf("creating profile: %w", err)
	}
	return raw.toProfile(), raw.Token, nil
}

// Profile returns the profile the client's token belongs to.
func (c *Client) Profile(ctx context.Context) (adventure.Profile, error) {
	var raw profileJSON
	if err := c.do(ctx, http.MethodGet, "/api/profile", nil, &raw); err != nil {
		return adventure.Profile{}, fmt.Errorf("fetching profile: %w", err)
	}
	return raw.toProfile(), nil
}

func (c *Client) do(ctx context.Context, method, path string, body, dest any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(data, &e) != nil {
			e.Error = strings.TrimSpace(string(data))
		}
		return &StatusError{Status: resp.StatusCode, Message: e.Error}
	}

	if dest == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// IsNotFound reports whether err is a 404 from the backend.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == http.StatusNotFound
}
