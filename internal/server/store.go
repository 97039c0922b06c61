package server

import (
	"context"
	"errors"

	"github.com/playperu/adventure/internal/adventure"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

type ProjectResponse struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	Instructions  string `json:"instructions"`
	DisplayMode   string `json:"displayMode"`
	InitialClue   string `json:"initialClue,omitempty"`
	ScoringMode   string `json:"scoringMode"`
	Published     bool   `json:"published"`
	LocationCount int    `json:"locationCount"`
	CreatedAt     string `json:"createdAt"`
}

type LocationResponse struct {
	ID        string `json:"id"`
	ProjectID string `json:"projectId"`
	Name      string `json:"name"`
	Position  string `json:"position,omitempty"`
	Points    int    `json:"points"`
	Clue      string `json:"clue,omitempty"`
	Content   string `json:"content,omitempty"`
	SortOrder int    `json:"sortOrder"`
	Visits    int    `json:"visits"`
}

type TrackingRecord struct {
	ID         string `json:"id"`
	ProjectID  string `json:"projectId"`
	LocationID string `json:"locationId"`
	Username   string `json:"username"`
	CreatedAt  string `json:"createdAt"`
}

type Store interface {
	ListProjects(ctx context.Context, publishedOnly bool) ([]ProjectResponse, error)
	GetProject(ctx context.Context, id string) (ProjectResponse, error)
	CreateProject(ctx context.Context, req ProjectRequest) (ProjectResponse, error)
	UpdateProject(ctx context.Context, id string, req ProjectRequest) (ProjectResponse, error)
	DeleteProject(ctx context.Context, id string) error

	ListLocations(ctx context.Context, projectID string) ([]LocationResponse, error)
	CreateLocation(ctx context.Context, projectID string, req LocationRequest) (LocationResponse, error)
	UpdateLocation(ctx context.Context, projectID, locationID string, req LocationRequest) (LocationResponse, error)
	DeleteLocation(ctx context.Context, projectID, locationID string) error

	RecordVisit(ctx context.Context, locationID, profileID string) (visits int, err error)
	AddTracking(ctx context.Context, req TrackingRequest) (TrackingRecord, error)
	ListTracking(ctx context.Context, projectID string) ([]TrackingRecord, error)

	CreateProfile(ctx context.Context, username, avatarURL string) (adventure.Profile, string, error)
	ProfileFromToken(ctx context.Context, token string) (adventure.Profile, error)

	EnsureAdmin(ctx context.Context, email, passwordHash string) error
	AdminByEmail(ctx context.Context, email string) (adminID, passwordHash string, err error)
	CreateAdminSession(ctx context.Context, adminID string) (sessionID string, err error)
	DeleteAdminSession(ctx context.Context, sessionID string) error
	AdminFromSession(ctx context.Context, sessionID string) (adminSession, error)
}
