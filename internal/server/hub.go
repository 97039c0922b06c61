package server

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/playperu/adventure/internal/adventure"
	"github.com/playperu/adventure/internal/metrics"
	"github.com/playperu/adventure/internal/unlock"
)

// VisitedStores returns the visited store for one profile.
type VisitedStores func(owner string) unlock.VisitedStore

// Hub keeps one unlock engine per profile and project. Engines are opened on
// first use and dropped when their project is edited, when their last event
// subscriber leaves, or when they sit idle.
type Hub struct {
	store   Store
	visited VisitedStores
	broker  *Broker
	logger  *slog.Logger
	cfg     unlock.Config

	opening singleflight.Group
	retired sync.WaitGroup

	mu       sync.Mutex
	sessions map[string]*hubSession
	// gens counts invalidations per project so an open that raced an admin
	// edit is discarded.
	gens map[string]uint64
}

type hubSession struct {
	engine    *unlock.Engine
	projectID string
	subs      int
	lastUsed  time.Time
}

func NewHub(store Store, visited VisitedStores, broker *Broker, logger *slog.Logger, cfg unlock.Config) *Hub {
	return &Hub{
		store:    store,
		visited:  visited,
		broker:   broker,
		logger:   logger,
		cfg:      cfg,
		sessions: make(map[string]*hubSession),
		gens:     make(map[string]uint64),
	}
}

func sessionKey(profileID, projectID string) string {
	return profileID + "/" + projectID
}

// Get returns the profile's engine for the project, opening it if needed.
// Opens run outside the hub lock; concurrent callers for the same session
// share one open.
func (h *Hub) Get(ctx context.Context, profile adventure.Profile, projectID string) (*unlock.Engine, error) {
	key := sessionKey(profile.ID, projectID)

	for {
		h.mu.Lock()
		if s, ok := h.sessions[key]; ok {
			s.lastUsed = time.Now()
			h.mu.Unlock()
			return s.engine, nil
		}
		gen := h.gens[projectID]
		h.mu.Unlock()

		v, err, _ := h.opening.Do(key, func() (any, error) {
			return h.open(context.WithoutCancel(ctx), profile, projectID)
		})
		if err != nil {
			return nil, err
		}
		e := v.(*unlock.Engine)

		h.mu.Lock()
		if s, ok := h.sessions[key]; ok {
			h.mu.Unlock()
			if s.engine != e {
				h.retire(e)
			}
			return s.engine, nil
		}
		if h.gens[projectID] != gen {
			h.mu.Unlock()
			h.retire(e)
			continue
		}
		h.sessions[key] = &hubSession{engine: e, projectID: projectID, lastUsed: time.Now()}
		metrics.ActiveSessions.Set(float64(len(h.sessions)))
		h.mu.Unlock()
		return e, nil
	}
}

// Attach returns the session's engine together with an event subscription.
// The session stays open at least until the subscription is detached.
func (h *Hub) Attach(ctx context.Context, profile adventure.Profile, projectID string) (*unlock.Engine, chan []byte, error) {
	key := sessionKey(profile.ID, projectID)
	for {
		e, err := h.Get(ctx, profile, projectID)
		if err != nil {
			return nil, nil, err
		}

		h.mu.Lock()
		if s, ok := h.sessions[key]; ok && s.engine == e {
			s.subs++
			ch := h.broker.Subscribe(key)
			h.mu.Unlock()
			return e, ch, nil
		}
		// Evicted between Get and here; open again.
		h.mu.Unlock()
	}
}

// Detach drops a subscription from Attach. The session is closed when its
// last subscriber leaves.
func (h *Hub) Detach(key string, e *unlock.Engine, ch chan []byte) {
	h.broker.Unsubscribe(key, ch)

	h.mu.Lock()
	s, ok := h.sessions[key]
	if !ok || s.engine != e {
		h.mu.Unlock()
		return
	}
	s.subs--
	if s.subs > 0 {
		h.mu.Unlock()
		return
	}
	delete(h.sessions, key)
	metrics.ActiveSessions.Set(float64(len(h.sessions)))
	h.mu.Unlock()

	h.retire(e)
}

// Sweep closes sessions without subscribers that were not used for maxIdle.
// It returns how many were closed.
func (h *Hub) Sweep(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)

	h.mu.Lock()
	var idle []*unlock.Engine
	for key, s := range h.sessions {
		if s.subs == 0 && !s.lastUsed.After(cutoff) {
			idle = append(idle, s.engine)
			delete(h.sessions, key)
		}
	}
	metrics.ActiveSessions.Set(float64(len(h.sessions)))
	h.mu.Unlock()

	for _, e := range idle {
		h.retire(e)
	}
	return len(idle)
}

// RunSweeper calls Sweep every interval until ctx is done.
func (h *Hub) RunSweeper(ctx context.Context, interval, maxIdle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := h.Sweep(maxIdle); n > 0 {
				h.logger.Info("closed idle sessions", "count", n)
			}
		}
	}
}

func (h *Hub) open(ctx context.Context, profile adventure.Profile, projectID string) (*unlock.Engine, error) {
	key := sessionKey(profile.ID, projectID)
	e, err := unlock.Open(ctx, projectID, unlock.Deps{
		Directory: storeDirectory{store: h.store},
		Store:     h.visited(profile.ID),
		Recorder:  storeRecorder{store: h.store, profile: profile},
		Logger:    h.logger.With("profile_id", profile.ID),
		OnEvent:   func(ev unlock.Event) { h.broker.Publish(key, ev) },
	}, h.cfg)
	if err != nil {
		return nil, fmt.Errorf("opening session %s: %w", key, err)
	}
	return e, nil
}

// retire closes e and lets its in-flight visit recordings finish in the
// background; Close waits for them.
func (h *Hub) retire(e *unlock.Engine) {
	e.Close()
	h.retired.Add(1)
	go func() {
		defer h.retired.Done()
		e.Wait()
	}()
}

// Invalidate closes every engine of the project so the next request reloads
// its locations.
func (h *Hub) Invalidate(projectID string) {
	h.mu.Lock()
	h.gens[projectID]++
	var stale []*unlock.Engine
	for key, s := range h.sessions {
		if s.projectID == projectID {
			stale = append(stale, s.engine)
			delete(h.sessions, key)
		}
	}
	metrics.ActiveSessions.Set(float64(len(h.sessions)))
	h.mu.Unlock()

	for _, e := range stale {
		h.retire(e)
	}
}

// Close closes all engines and waits for their in-flight visit recordings.
func (h *Hub) Close() {
	h.mu.Lock()
	sessions := h.sessions
	h.sessions = make(map[string]*hubSession)
	h.mu.Unlock()

	for _, s := range sessions {
		h.retire(s.engine)
	}
	h.retired.Wait()
	metrics.ActiveSessions.Set(0)
}

// storeDirectory serves the engine's project metadata from the backend's own
// tables. Unpublished projects are not playable.
type storeDirectory struct {
	store Store
}

func (d storeDirectory) Project(ctx context.Context, projectID string) (adventure.Project, error) {
	p, err := d.store.GetProject(ctx, projectID)
	if err != nil {
		return adventure.Project{}, err
	}
	if !p.Published {
		return adventure.Project{}, ErrNotFound
	}
	return toProject(p)
}

func (d storeDirectory) Locations(ctx context.Context, projectID string) ([]adventure.Location, error) {
	rows, err := d.store.ListLocations(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return toLocations(rows), nil
}

func toProject(p ProjectResponse) (adventure.Project, error) {
	display, err := adventure.ParseDisplayMode(p.DisplayMode)
	if err != nil {
		return adventure.Project{}, err
	}
	scoring, err := adventure.ParseScoringMode(p.ScoringMode)
	if err != nil {
		return adventure.Project{}, err
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

func toLocations(rows []LocationResponse) []adventure.Location {
	locations := make([]adventure.Location, 0, len(rows))
	for _, row := range rows {
		l := adventure.NewLocation(row.ID, row.ProjectID, row.Name, row.Position, row.Points)
		l.Clue = row.Clue
		l.Content = row.Content
		l.SortOrder = row.SortOrder
		locations = append(locations, l)
	}
	return locations
}

// storeRecorder records a visit for the session's profile and appends a
// tracking record, the same two calls a remote device makes.
type storeRecorder struct {
	store   Store
	profile adventure.Profile
}

func (r storeRecorder) RecordVisit(ctx context.Context, projectID, locationID string) error {
	if _, err := r.store.RecordVisit(ctx, locationID, r.profile.ID); err != nil {
		return fmt.Errorf("recording visit: %w", err)
	}
	_, err := r.store.AddTracking(ctx, TrackingRequest{
		ProjectID:  projectID,
		LocationID: locationID,
		Username:   r.profile.Username,
	})
	if err != nil {
		return fmt.Errorf("adding tracking record: %w", err)
	}
	return nil
}
