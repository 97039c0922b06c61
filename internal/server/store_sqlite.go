package server

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/playperu/adventure/internal/adventure"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func newID() string {
	return uuid.NewString()
}

func nowUTC() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
}

// isUniqueViolation matches SQLite's constraint error text; libSQL does not
// expose typed errors.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

const projectColumns = `
	p.id, p.title, p.instructions, p.display_mode, p.initial_clue, p.scoring_mode,
	p.published, p.created_at,
	(SELECT COUNT(*) FROM locations l WHERE l.project_id = p.id)`

func scanProject(row interface{ Scan(...any) error }) (ProjectResponse, error) {
	var p ProjectResponse
	var published int
	err := row.Scan(&p.ID, &p.Title, &p.Instructions, &p.DisplayMode, &p.InitialClue,
		&p.ScoringMode, &published, &p.CreatedAt, &p.LocationCount)
	p.Published = published == 1
	return p, err
}

func (s *SQLiteStore) ListProjects(ctx context.Context, publishedOnly bool) ([]ProjectResponse, error) {
	query := `SELECT` + projectColumns + ` FROM projects p`
	if publishedOnly {
		query += ` WHERE p.published = 1`
	}
	query += ` ORDER BY p.created_at DESC, p.title`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []ProjectResponse
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

func (s *SQLiteStore) GetProject(ctx context.Context, id string) (ProjectResponse, error) {
	p, err := scanProject(s.db.QueryRowContext(ctx,
		`SELECT`+projectColumns+` FROM projects p WHERE p.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return p, ErrNotFound
	}
	return p, err
}

func (s *SQLiteStore) CreateProject(ctx context.Context, req ProjectRequest) (ProjectResponse, error) {
	id := newID()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, title, instructions, display_mode, initial_clue, scoring_mode, published, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, id, req.Title, req.Instructions, req.DisplayMode, req.InitialClue, req.ScoringMode,
		boolInt(req.Published), nowUTC())
	if err != nil {
		return ProjectResponse{}, err
	}
	return s.GetProject(ctx, id)
}

func (s *SQLiteStore) UpdateProject(ctx context.Context, id string, req ProjectRequest) (ProjectResponse, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE projects
		SET title = ?, instructions = ?, display_mode = ?, initial_clue = ?, scoring_mode = ?, published = ?
		WHERE id = ?
	`, req.Title, req.Instructions, req.DisplayMode, req.InitialClue, req.ScoringMode,
		boolInt(req.Published), id)
	if err != nil {
		return ProjectResponse{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ProjectResponse{}, ErrNotFound
	}
	return s.GetProject(ctx, id)
}

// DeleteProject removes the project with its locations, visits and tracking
// records. The foreign_keys pragma only applies to the connection that set
// it, so dependents are deleted explicitly.
func (s *SQLiteStore) DeleteProject(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM location_visits WHERE location_id IN (SELECT id FROM locations WHERE project_id = ?)`,
		`DELETE FROM tracking WHERE project_id = ?`,
		`DELETE FROM locations WHERE project_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return err
		}
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

const locationColumns = `
	l.id, l.project_id, l.name, l.position, l.points, l.clue, l.content, l.sort_order,
	(SELECT COUNT(*) FROM location_visits v WHERE v.location_id = l.id)`

func scanLocation(row interface{ Scan(...any) error }) (LocationResponse, error) {
	var l LocationResponse
	err := row.Scan(&l.ID, &l.ProjectID, &l.Name, &l.Position, &l.Points, &l.Clue,
		&l.Content, &l.SortOrder, &l.Visits)
	return l, err
}

// ListLocations returns the project's locations in fetch order: ascending
// sort order, then creation time. A missing project is ErrNotFound.
func (s *SQLiteStore) ListLocations(ctx context.Context, projectID string) ([]LocationResponse, error) {
	if _, err := s.GetProject(ctx, projectID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT`+locationColumns+`
		FROM locations l
		WHERE l.project_id = ?
		ORDER BY l.sort_order, l.created_at, l.id
	`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var locations []LocationResponse
	for rows.Next() {
		l, err := scanLocation(rows)
		if err != nil {
			return nil, err
		}
		locations = append(locations, l)
	}
	return locations, rows.Err()
}

func (s *SQLiteStore) getLocation(ctx context.Context, projectID, locationID string) (LocationResponse, error) {
	l, err := scanLocation(s.db.QueryRowContext(ctx,
		`SELECT`+locationColumns+` FROM locations l WHERE l.id = ? AND l.project_id = ?`,
		locationID, projectID))
	if errors.Is(err, sql.ErrNoRows) {
		return l, ErrNotFound
	}
	return l, err
}

func (s *SQLiteStore) CreateLocation(ctx context.Context, projectID string, req LocationRequest) (LocationResponse, error) {
	if _, err := s.GetProject(ctx, projectID); err != nil {
		return LocationResponse{}, err
	}

	sortOrder := 0
	if req.SortOrder != nil {
		sortOrder = *req.SortOrder
	} else {
		err := s.db.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(sort_order) + 1, 0) FROM locations WHERE project_id = ?`, projectID,
		).Scan(&sortOrder)
		if err != nil {
			return LocationResponse{}, err
		}
	}

	id := newID()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO locations (id, project_id, name, position, points, clue, content, sort_order, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id, projectID, req.Name, req.Position, req.Points, req.Clue, req.Content, sortOrder, nowUTC())
	if err != nil {
		return LocationResponse{}, err
	}
	return s.getLocation(ctx, projectID, id)
}

func (s *SQLiteStore) UpdateLocation(ctx context.Context, projectID, locationID string, req LocationRequest) (LocationResponse, error) {
	current, err := s.getLocation(ctx, projectID, locationID)
	if err != nil {
		return LocationResponse{}, err
	}
	sortOrder := current.SortOrder
	if req.SortOrder != nil {
		sortOrder = *req.SortOrder
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE locations
		SET name = ?, position = ?, points = ?, clue = ?, content = ?, sort_order = ?
		WHERE id = ? AND project_id = ?
	`, req.Name, req.Position, req.Points, req.Clue, req.Content, sortOrder, locationID, projectID)
	if err != nil {
		return LocationResponse{}, err
	}
	return s.getLocation(ctx, projectID, locationID)
}

func (s *SQLiteStore) DeleteLocation(ctx context.Context, projectID, locationID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM location_visits WHERE location_id = ?`, locationID); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx,
		`DELETE FROM locations WHERE id = ? AND project_id = ?`, locationID, projectID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

// RecordVisit marks the location visited by the profile. Repeated calls for
// the same pair are absorbed; the returned count is the location's total.
func (s *SQLiteStore) RecordVisit(ctx context.Context, locationID, profileID string) (int, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM locations WHERE id = ?`, locationID).Scan(&exists)
	if err != nil {
		return 0, err
	}
	if exists == 0 {
		return 0, ErrNotFound
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO location_visits (location_id, profile_id, visited_at)
		VALUES (?, ?, ?)
		ON CONFLICT (location_id, profile_id) DO NOTHING
	`, locationID, profileID, nowUTC())
	if err != nil {
		return 0, err
	}

	var visits int
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM location_visits WHERE location_id = ?`, locationID,
	).Scan(&visits)
	return visits, err
}

func (s *SQLiteStore) AddTracking(ctx context.Context, req TrackingRequest) (TrackingRecord, error) {
	if _, err := s.getLocation(ctx, req.ProjectID, req.LocationID); err != nil {
		return TrackingRecord{}, err
	}

	rec := TrackingRecord{
		ID:         newID(),
		ProjectID:  req.ProjectID,
		LocationID: req.LocationID,
		Username:   req.Username,
		CreatedAt:  nowUTC(),
	}
	var requestID sql.NullString
	if req.RequestID != "" {
		requestID = sql.NullString{String: req.RequestID, Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO tracking (id, project_id, location_id, username, created_at, request_id)
		VALUES (?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.ProjectID, rec.LocationID, rec.Username, rec.CreatedAt, requestID)
	if err != nil {
		return TrackingRecord{}, err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 && requestID.Valid {
		return s.trackingByRequest(ctx, req.RequestID)
	}
	return rec, nil
}

func (s *SQLiteStore) trackingByRequest(ctx context.Context, requestID string) (TrackingRecord, error) {
	var r TrackingRecord
	err := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, location_id, username, created_at
		FROM tracking
		WHERE request_id = ?
	`, requestID).Scan(&r.ID, &r.ProjectID, &r.LocationID, &r.Username, &r.CreatedAt)
	return r, err
}

func (s *SQLiteStore) ListTracking(ctx context.Context, projectID string) ([]TrackingRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, location_id, username, created_at
		FROM tracking
		WHERE project_id = ?
		ORDER BY created_at, id
	`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []TrackingRecord
	for rows.Next() {
		var r TrackingRecord
		if err := rows.Scan(&r.ID, &r.ProjectID, &r.LocationID, &r.Username, &r.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *SQLiteStore) CreateProfile(ctx context.Context, username, avatarURL string) (adventure.Profile, string, error) {
	p := adventure.Profile{
		ID:        newID(),
		Username:  username,
		AvatarURL: avatarURL,
		CreatedAt: time.Now().UTC(),
	}
	token := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (id, username, avatar_url, token, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, p.ID, p.Username, p.AvatarURL, token, p.CreatedAt.Format("2006-01-02T15:04:05.000Z"))
	if isUniqueViolation(err) {
		return adventure.Profile{}, "", ErrConflict
	}
	if err != nil {
		return adventure.Profile{}, "", err
	}
	return p, token, nil
}

func (s *SQLiteStore) ProfileFromToken(ctx context.Context, token string) (adventure.Profile, error) {
	var p adventure.Profile
	var createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, avatar_url, created_at FROM profiles WHERE token = ?
	`, token).Scan(&p.ID, &p.Username, &p.AvatarURL, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return p, errNoSession
	}
	if err != nil {
		return p, err
	}
	p.CreatedAt, _ = time.Parse("2006-01-02T15:04:05.000Z", createdAt)
	return p, nil
}

// EnsureAdmin creates the admin account if the email is not registered yet.
// An existing account keeps its password.
func (s *SQLiteStore) EnsureAdmin(ctx context.Context, email, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO admins (id, email, password_hash) VALUES (?, ?, ?)
		ON CONFLICT (email) DO NOTHING
	`, newID(), email, passwordHash)
	return err
}

func (s *SQLiteStore) AdminByEmail(ctx context.Context, email string) (string, string, error) {
	var adminID, passwordHash string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, password_hash FROM admins WHERE email = ?
	`, email).Scan(&adminID, &passwordHash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", ErrNotFound
	}
	return adminID, passwordHash, err
}

func (s *SQLiteStore) CreateAdminSession(ctx context.Context, adminID string) (string, error) {
	sessionID := newID()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO admin_sessions (id, admin_id, created_at) VALUES (?, ?, ?)
	`, sessionID, adminID, nowUTC())
	return sessionID, err
}

func (s *SQLiteStore) DeleteAdminSession(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM admin_sessions WHERE id = ?`, sessionID)
	return err
}

func (s *SQLiteStore) AdminFromSession(ctx context.Context, sessionID string) (adminSession, error) {
	var sess adminSession
	err := s.db.QueryRowContext(ctx, `
		SELECT a.id, a.email
		FROM admin_sessions s
		JOIN admins a ON a.id = s.admin_id
		WHERE s.id = ?
	`, sessionID).Scan(&sess.AdminID, &sess.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return adminSession{}, errNoAdminSession
	}
	return sess, err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
