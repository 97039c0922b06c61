// Package unlock implements the location unlock engine: it consumes position
// fixes for one project, unlocks locations the device comes close to (or that
// are scanned), persists the visited set and reports every transition.
//
// Each location moves Locked -> Unlocking -> Visited exactly once per reset.
// Position fixes are evaluated one at a time; a fix that arrives while another
// evaluation cycle is still writing to the visited store is dropped.
package unlock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/playperu/adventure/internal/adventure"
	"github.com/playperu/adventure/internal/geo"
	"github.com/playperu/adventure/internal/metrics"
)

var (
	ErrDirectory         = errors.New("loading project directory")
	ErrBusy              = errors.New("evaluation cycle in progress")
	ErrProximityDisabled = errors.New("proximity unlocking disabled")
	ErrUnknownLocation   = errors.New("unknown location")
	ErrInvalidPosition   = errors.New("invalid position")
	ErrClosed            = errors.New("engine closed")
)

// Directory supplies the read-only project metadata.
type Directory interface {
	Project(ctx context.Context, projectID string) (adventure.Project, error)
	// Locations returns the project's locations in fetch order.
	Locations(ctx context.Context, projectID string) ([]adventure.Location, error)
}

// VisitedStore persists visited location ids per project. A missing entry is
// reported as an empty set, not an error.
type VisitedStore interface {
	Get(ctx context.Context, projectID string) ([]string, error)
	Set(ctx context.Context, projectID string, ids []string) error
	Remove(ctx context.Context, projectID string) error
}

// Recorder tells the backend a location was visited. Implementations must
// tolerate duplicate calls.
type Recorder interface {
	RecordVisit(ctx context.Context, projectID, locationID string) error
}

// PositionSource is the device geolocation provider.
type PositionSource interface {
	Current(ctx context.Context) (geo.Point, error)
	Subscribe(ctx context.Context, throttleMeters float64) (<-chan geo.Point, error)
}

type Config struct {
	// UnlockRadius is the distance in meters at which a location unlocks.
	UnlockRadius float64
	// TrackingThrottle is the minimum movement in meters between evaluated fixes.
	TrackingThrottle float64
	// PreviewRadius only drives map highlighting and never unlocks anything.
	PreviewRadius float64
}

func DefaultConfig() Config {
	return Config{
		UnlockRadius:     50,
		TrackingThrottle: 5,
		PreviewRadius:    100,
	}
}

// Deps are the engine's collaborators. Recorder and OnEvent may be nil.
// OnEvent is called synchronously and must not call Unlock or Reset.
type Deps struct {
	Directory Directory
	Store     VisitedStore
	Recorder  Recorder
	Logger    *slog.Logger
	OnEvent   func(Event)
}

type Engine struct {
	cfg       Config
	project   adventure.Project
	locations []adventure.Location
	index     map[string]int

	store    VisitedStore
	recorder Recorder
	logger   *slog.Logger
	onEvent  func(Event)

	busy     atomic.Bool
	inflight sync.WaitGroup

	// writeMu orders durable writes so a stale snapshot never overwrites a
	// newer one.
	writeMu sync.Mutex

	mu        sync.Mutex
	visited   map[string]struct{}
	unlocking map[string]struct{}
	last      *UnlockEvent
	seq       int
	proximity bool
	closed    bool
}

// Open loads the project and its locations and restores the persisted visited
// set. A directory failure is fatal; a store failure leaves the engine with an
// empty visited set.
func Open(ctx context.Context, projectID string, deps Deps, cfg Config) (*Engine, error) {
	if deps.Directory == nil || deps.Store == nil {
		return nil, errors.New("unlock: directory and store are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	project, err := deps.Directory.Project(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("%w: project %s: %w", ErrDirectory, projectID, err)
	}
	locations, err := deps.Directory.Locations(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("%w: locations of %s: %w", ErrDirectory, projectID, err)
	}

	e := &Engine{
		cfg:       cfg,
		project:   project,
		locations: locations,
		index:     make(map[string]int, len(locations)),
		store:     deps.Store,
		recorder:  deps.Recorder,
		logger:    logger.With("project_id", projectID),
		onEvent:   deps.OnEvent,
		visited:   make(map[string]struct{}),
		unlocking: make(map[string]struct{}),
		proximity: true,
	}
	for i, l := range locations {
		e.index[l.ID] = i
	}

	ids, err := e.store.Get(ctx, projectID)
	if err != nil {
		metrics.StoreFailuresTotal.WithLabelValues("get").Inc()
		e.logger.Warn("loading visited state failed, starting empty", "error", err)
		e.emit(Event{Type: EventStoreError, Error: err.Error()})
		ids = nil
	}
	for _, id := range ids {
		if _, ok := e.index[id]; ok {
			e.visited[id] = struct{}{}
		}
	}

	return e, nil
}

// HandlePosition runs one evaluation cycle for pos. At most one location is
// unlocked per cycle: the first eligible one in fetch order.
func (e *Engine) HandlePosition(ctx context.Context, pos geo.Point) (UnlockEvent, bool, error) {
	if !e.ProximityEnabled() {
		return UnlockEvent{}, false, ErrProximityDisabled
	}
	if !pos.Valid() {
		return UnlockEvent{}, false, ErrInvalidPosition
	}
	if !e.busy.CompareAndSwap(false, true) {
		metrics.PositionsDroppedTotal.Inc()
		return UnlockEvent{}, false, ErrBusy
	}
	defer e.busy.Store(false)
	metrics.PositionsTotal.Inc()

	loc, ok := e.firstCandidate(pos)
	if !ok {
		return UnlockEvent{}, false, nil
	}
	return e.transition(ctx, loc, SourceProximity)
}

// Unlock unlocks a location by id, bypassing proximity. Unlocking an already
// visited location is a no-op.
func (e *Engine) Unlock(ctx context.Context, locationID string) (UnlockEvent, bool, error) {
	i, ok := e.index[locationID]
	if !ok {
		return UnlockEvent{}, false, fmt.Errorf("%w: %s", ErrUnknownLocation, locationID)
	}
	return e.transition(ctx, e.locations[i], SourceScan)
}

func (e *Engine) firstCandidate(pos geo.Point) (adventure.Location, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, l := range e.locations {
		if !l.HasPosition {
			continue
		}
		if _, ok := e.visited[l.ID]; ok {
			continue
		}
		if _, ok := e.unlocking[l.ID]; ok {
			continue
		}
		if geo.Within(pos, l.Position, e.cfg.UnlockRadius) {
			return l, true
		}
	}
	return adventure.Location{}, false
}

func (e *Engine) transition(ctx context.Context, loc adventure.Location, src Source) (UnlockEvent, bool, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return UnlockEvent{}, false, ErrClosed
	}
	_, visited := e.visited[loc.ID]
	_, pending := e.unlocking[loc.ID]
	if visited || pending {
		e.mu.Unlock()
		return UnlockEvent{}, false, nil
	}
	e.unlocking[loc.ID] = struct{}{}
	e.mu.Unlock()

	// writeMu is held until the unlocked event is out so a concurrent Reset
	// is always reported after it.
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	e.mu.Lock()
	delete(e.unlocking, loc.ID)
	e.visited[loc.ID] = struct{}{}
	e.seq++
	ev := UnlockEvent{
		LocationID: loc.ID,
		Name:       loc.Name,
		Content:    loc.Content,
		Source:     src,
		Seq:        e.seq,
		Persisted:  true,
	}
	ids := adventure.VisitedIDs(e.locations, e.visited)
	score := adventure.Score(e.locations, e.visited, e.project.ScoringMode)
	e.mu.Unlock()

	err := e.store.Set(ctx, e.project.ID, ids)

	if err != nil {
		ev.Persisted = false
		metrics.StoreFailuresTotal.WithLabelValues("set").Inc()
		e.logger.Error("persisting visited state failed", "location_id", loc.ID, "error", err)
		e.emit(Event{Type: EventStoreError, LocationID: loc.ID, Error: err.Error()})
	}

	e.mu.Lock()
	e.last = &ev
	e.mu.Unlock()

	if e.recorder != nil {
		e.inflight.Add(1)
		go e.record(context.WithoutCancel(ctx), loc.ID)
	}

	metrics.UnlocksTotal.WithLabelValues(string(src)).Inc()
	e.logger.Info("location unlocked", "location_id", loc.ID, "source", src, "score", score)
	unlock := ev
	e.emit(Event{
		Type:       EventUnlocked,
		LocationID: loc.ID,
		Unlock:     &unlock,
		Score:      score,
		Visited:    ids,
	})

	return ev, true, nil
}

func (e *Engine) record(ctx context.Context, locationID string) {
	defer e.inflight.Done()

	start := time.Now()
	err := e.recorder.RecordVisit(ctx, e.project.ID, locationID)
	metrics.RecordDurationMs.Observe(float64(time.Since(start).Milliseconds()))
	if err == nil {
		return
	}
	metrics.RecordFailuresTotal.Inc()
	if e.isClosed() {
		return
	}
	e.logger.Warn("recording visit failed", "location_id", locationID, "error", err)
	e.emit(Event{Type: EventRecordError, LocationID: locationID, Error: err.Error()})
}

// Reset clears the visited set in memory and in the store. Locations are not
// refetched. The in-memory reset stands even if the store call fails.
func (e *Engine) Reset(ctx context.Context) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	e.visited = make(map[string]struct{})
	e.last = nil
	e.mu.Unlock()

	err := e.store.Remove(ctx, e.project.ID)
	if err != nil {
		metrics.StoreFailuresTotal.WithLabelValues("remove").Inc()
		e.logger.Error("clearing visited state failed", "error", err)
		e.emit(Event{Type: EventStoreError, Error: err.Error()})
	}

	e.logger.Info("visited state reset")
	e.emit(Event{Type: EventReset, Visited: []string{}})

	if err != nil {
		return fmt.Errorf("clearing visited state: %w", err)
	}
	return nil
}

// Track evaluates fixes from src until ctx is done or the stream ends. If
// location permission is denied, proximity unlocking is disabled and the
// error is returned; scan unlocks keep working.
func (e *Engine) Track(ctx context.Context, src PositionSource) error {
	stream, err := src.Subscribe(ctx, e.cfg.TrackingThrottle)
	if errors.Is(err, geo.ErrPermissionDenied) {
		e.SetProximity(false)
		return fmt.Errorf("subscribing to positions: %w", err)
	}
	if err != nil {
		return fmt.Errorf("subscribing to positions: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case pos, ok := <-stream:
			if !ok {
				return nil
			}
			_, _, err := e.HandlePosition(ctx, pos)
			switch {
			case err == nil, errors.Is(err, ErrBusy), errors.Is(err, ErrProximityDisabled):
			case errors.Is(err, ErrClosed):
				return nil
			default:
				e.logger.Debug("position evaluation failed", "error", err)
			}
		}
	}
}

// SetProximity enables or disables proximity unlocking, e.g. when the user
// grants or revokes location permission.
func (e *Engine) SetProximity(enabled bool) {
	e.mu.Lock()
	changed := e.proximity != enabled
	e.proximity = enabled
	e.mu.Unlock()

	if changed && !enabled {
		e.logger.Info("proximity unlocking disabled")
		e.emit(Event{Type: EventPermissionDenied, Error: geo.ErrPermissionDenied.Error()})
	}
}

func (e *Engine) ProximityEnabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.proximity
}

// State returns a snapshot for the presentation layer.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := State{
		ProjectID:   e.project.ID,
		ScoringMode: e.project.ScoringMode,
		Visited:     adventure.VisitedIDs(e.locations, e.visited),
		Score:       adventure.Score(e.locations, e.visited, e.project.ScoringMode),
		MaxScore:    adventure.Score(e.locations, allIDs(e.locations), e.project.ScoringMode),
		Proximity:   e.proximity,
	}
	if e.last != nil {
		last := *e.last
		s.LastUnlock = &last
	}
	return s
}

func (e *Engine) Project() adventure.Project { return e.project }

// Locations returns a copy of the locations in fetch order.
func (e *Engine) Locations() []adventure.Location {
	out := make([]adventure.Location, len(e.locations))
	copy(out, e.locations)
	return out
}

// Close stops event delivery. In-flight visit recordings run to completion
// but their outcome is discarded.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
}

// Wait blocks until in-flight visit recordings have finished.
func (e *Engine) Wait() {
	e.inflight.Wait()
}

func (e *Engine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *Engine) emit(ev Event) {
	if e.onEvent == nil || e.isClosed() {
		return
	}
	ev.ProjectID = e.project.ID
	if ev.Visited == nil && ev.Type != EventUnlocked {
		st := e.State()
		ev.Visited, ev.Score = st.Visited, st.Score
	}
	e.onEvent(ev)
}

func allIDs(locations []adventure.Location) map[string]struct{} {
	all := make(map[string]struct{}, len(locations))
	for _, l := range locations {
		all[l.ID] = struct{}{}
	}
	return all
}
