package unlock

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"slices"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/playperu/adventure/internal/adventure"
	"github.com/playperu/adventure/internal/geo"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var plaza = geo.Point{Lat: -12.0464, Lon: -77.0428}

// north returns the point meters due north of p.
func north(p geo.Point, meters float64) geo.Point {
	return geo.Point{Lat: p.Lat + meters/(6371000.0*math.Pi/180), Lon: p.Lon}
}

type fakeDirectory struct {
	project   adventure.Project
	locations []adventure.Location
	err       error
}

func (d *fakeDirectory) Project(_ context.Context, id string) (adventure.Project, error) {
	if d.err != nil {
		return adventure.Project{}, d.err
	}
	return d.project, nil
}

func (d *fakeDirectory) Locations(_ context.Context, id string) ([]adventure.Location, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.locations, nil
}

type fakeStore struct {
	mu      sync.Mutex
	data    map[string][]string
	sets    int
	getErr  error
	setErr  error
	entered chan struct{} // signalled when Set starts, if non-nil
	release chan struct{} // Set blocks on it, if non-nil
	onSet   func()        // called when Set starts, if non-nil
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: make(map[string][]string)}
}

func (s *fakeStore) Get(_ context.Context, projectID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	return slices.Clone(s.data[projectID]), nil
}

func (s *fakeStore) Set(_ context.Context, projectID string, ids []string) error {
	if s.onSet != nil {
		s.onSet()
	}
	if s.entered != nil {
		s.entered <- struct{}{}
	}
	if s.release != nil {
		<-s.release
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sets++
	if s.setErr != nil {
		return s.setErr
	}
	s.data[projectID] = slices.Clone(ids)
	return nil
}

func (s *fakeStore) Remove(_ context.Context, projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, projectID)
	return nil
}

func (s *fakeStore) entry(projectID string) ([]string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids, ok := s.data[projectID]
	return ids, ok
}

type fakeRecorder struct {
	mu      sync.Mutex
	calls   []string
	err     error
	release chan struct{} // RecordVisit blocks on it, if non-nil
}

func (r *fakeRecorder) RecordVisit(_ context.Context, _, locationID string) error {
	if r.release != nil {
		<-r.release
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, locationID)
	return r.err
}

func (r *fakeRecorder) recorded() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.calls)
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) add(ev Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) last() (Event, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.events) == 0 {
		return Event{}, false
	}
	return l.events[len(l.events)-1], true
}

func (l *eventLog) ofType(t EventType) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Event
	for _, ev := range l.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type fixture struct {
	engine   *Engine
	dir      *fakeDirectory
	store    *fakeStore
	recorder *fakeRecorder
	events   *eventLog
}

func demoDirectory(mode adventure.ScoringMode) *fakeDirectory {
	loc := func(id string, p geo.Point, points int) adventure.Location {
		l := adventure.NewLocation(id, "lima", "Stop "+id, geo.FormatPosition(p), points)
		l.Content = "content of " + id
		return l
	}
	return &fakeDirectory{
		project: adventure.Project{ID: "lima", Title: "Lima Centro", ScoringMode: mode},
		locations: []adventure.Location{
			loc("1", plaza, 10),
			loc("2", north(plaza, 20), 5),
			loc("3", north(plaza, 5000), 7),
			adventure.NewLocation("4", "lima", "Hidden", "", 3),
		},
	}
}

func newFixture(t *testing.T, dir *fakeDirectory, store *fakeStore) fixture {
	t.Helper()
	f := fixture{
		dir:      dir,
		store:    store,
		recorder: &fakeRecorder{},
		events:   &eventLog{},
	}
	e, err := Open(context.Background(), "lima", Deps{
		Directory: dir,
		Store:     store,
		Recorder:  f.recorder,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		OnEvent:   f.events.add,
	}, DefaultConfig())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() {
		e.Wait()
		e.Close()
	})
	f.engine = e
	return f
}

func TestProximityThreshold(t *testing.T) {
	tests := []struct {
		name   string
		meters float64
		want   bool
	}{
		{"49m unlocks", 49, true},
		{"51m does not", 51, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := &fakeDirectory{
				project:   adventure.Project{ID: "lima", ScoringMode: adventure.ScoringPoints},
				locations: []adventure.Location{adventure.NewLocation("1", "lima", "Plaza", geo.FormatPosition(plaza), 10)},
			}
			f := newFixture(t, dir, newFakeStore())

			_, ok, err := f.engine.HandlePosition(context.Background(), north(plaza, tt.meters))
			if err != nil {
				t.Fatalf("handle position: %v", err)
			}
			if ok != tt.want {
				t.Errorf("unlocked = %v, want %v", ok, tt.want)
			}
		})
	}
}

func TestSingleUnlockPerCycle(t *testing.T) {
	f := newFixture(t, demoDirectory(adventure.ScoringPoints), newFakeStore())
	ctx := context.Background()

	// Between stops 1 and 2: both are within 50m.
	pos := north(plaza, 10)

	ev, ok, err := f.engine.HandlePosition(ctx, pos)
	if err != nil || !ok {
		t.Fatalf("first cycle: ok=%v err=%v", ok, err)
	}
	if ev.LocationID != "1" {
		t.Errorf("first unlock = %q, want fetch-order first %q", ev.LocationID, "1")
	}
	if got := f.engine.State().Visited; !slices.Equal(got, []string{"1"}) {
		t.Fatalf("visited after first cycle = %v, want [1]", got)
	}

	ev, ok, err = f.engine.HandlePosition(ctx, pos)
	if err != nil || !ok {
		t.Fatalf("second cycle: ok=%v err=%v", ok, err)
	}
	if ev.LocationID != "2" {
		t.Errorf("second unlock = %q, want %q", ev.LocationID, "2")
	}

	if _, ok, _ := f.engine.HandlePosition(ctx, pos); ok {
		t.Error("third cycle should have nothing left to unlock")
	}
}

func TestUnlockIdempotent(t *testing.T) {
	f := newFixture(t, demoDirectory(adventure.ScoringPoints), newFakeStore())
	ctx := context.Background()

	if _, ok, err := f.engine.Unlock(ctx, "1"); err != nil || !ok {
		t.Fatalf("first unlock: ok=%v err=%v", ok, err)
	}
	before := f.engine.State()

	if _, ok, err := f.engine.Unlock(ctx, "1"); err != nil || ok {
		t.Fatalf("second unlock: ok=%v err=%v, want no-op", ok, err)
	}
	if _, ok, _ := f.engine.HandlePosition(ctx, plaza); ok {
		// Stop 2 is 20m away and still locked, so this cycle may unlock it
		// but never stop 1 again.
		if f.engine.State().LastUnlock.LocationID == "1" {
			t.Fatal("proximity re-unlocked a visited location")
		}
	}
	f.engine.Wait()

	after := f.engine.State()
	if before.Score != 10 {
		t.Errorf("score after first unlock = %d, want 10", before.Score)
	}
	if n := len(f.events.ofType(EventUnlocked)); n != len(after.Visited) {
		t.Errorf("unlocked events = %d, want %d", n, len(after.Visited))
	}
	count := 0
	for _, id := range f.recorder.recorded() {
		if id == "1" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("recorder called %d times for location 1, want 1", count)
	}
}

func TestUnlockUnknownLocation(t *testing.T) {
	f := newFixture(t, demoDirectory(adventure.ScoringPoints), newFakeStore())

	_, _, err := f.engine.Unlock(context.Background(), "not-in-project")
	if !errors.Is(err, ErrUnknownLocation) {
		t.Fatalf("err = %v, want ErrUnknownLocation", err)
	}
	if got := f.engine.State().Visited; len(got) != 0 {
		t.Errorf("visited = %v, want empty", got)
	}
}

func TestScoringModes(t *testing.T) {
	tests := []struct {
		mode adventure.ScoringMode
		want int
	}{
		{adventure.ScoringPoints, 10},
		{adventure.ScoringSequence, 1},
	}

	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			f := newFixture(t, demoDirectory(tt.mode), newFakeStore())
			if _, _, err := f.engine.Unlock(context.Background(), "1"); err != nil {
				t.Fatalf("unlock: %v", err)
			}
			if got := f.engine.State().Score; got != tt.want {
				t.Errorf("score = %d, want %d", got, tt.want)
			}
			events := f.events.ofType(EventUnlocked)
			if len(events) != 1 || events[0].Score != tt.want {
				t.Errorf("unlocked events = %+v, want one with score %d", events, tt.want)
			}
		})
	}
}

func TestLocationWithoutPosition(t *testing.T) {
	f := newFixture(t, demoDirectory(adventure.ScoringPoints), newFakeStore())
	ctx := context.Background()

	// Stand exactly nowhere near any positioned stop.
	far := geo.Point{Lat: 0, Lon: 0}
	if _, ok, _ := f.engine.HandlePosition(ctx, far); ok {
		t.Fatal("nothing should unlock far away")
	}

	// The position-less stop can still be scanned.
	ev, ok, err := f.engine.Unlock(ctx, "4")
	if err != nil || !ok || ev.Source != SourceScan {
		t.Fatalf("scan unlock: ev=%+v ok=%v err=%v", ev, ok, err)
	}
}

func TestReset(t *testing.T) {
	store := newFakeStore()
	f := newFixture(t, demoDirectory(adventure.ScoringPoints), store)
	ctx := context.Background()

	for _, id := range []string{"1", "3"} {
		if _, _, err := f.engine.Unlock(ctx, id); err != nil {
			t.Fatalf("unlock %s: %v", id, err)
		}
	}
	if ids, _ := store.entry("lima"); !slices.Equal(ids, []string{"1", "3"}) {
		t.Fatalf("stored = %v, want [1 3]", ids)
	}

	if err := f.engine.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}

	st := f.engine.State()
	if len(st.Visited) != 0 || st.Score != 0 || st.LastUnlock != nil {
		t.Errorf("state after reset = %+v", st)
	}
	if _, ok := store.entry("lima"); ok {
		t.Error("store entry should be removed")
	}
	if n := len(f.events.ofType(EventReset)); n != 1 {
		t.Errorf("reset events = %d, want 1", n)
	}

	if _, ok, err := f.engine.HandlePosition(ctx, plaza); err != nil || !ok {
		t.Fatalf("re-unlock after reset: ok=%v err=%v", ok, err)
	}
	if got := f.engine.State().Visited; !slices.Equal(got, []string{"1"}) {
		t.Errorf("visited = %v, want [1]", got)
	}
}

func TestRecorderFailureDoesNotRevert(t *testing.T) {
	f := newFixture(t, demoDirectory(adventure.ScoringPoints), newFakeStore())
	f.recorder.err = errors.New("backend down")

	if _, ok, err := f.engine.Unlock(context.Background(), "2"); err != nil || !ok {
		t.Fatalf("unlock: ok=%v err=%v", ok, err)
	}
	f.engine.Wait()

	st := f.engine.State()
	if !slices.Equal(st.Visited, []string{"2"}) || st.Score != 5 {
		t.Errorf("state = %+v, want visited [2] score 5", st)
	}
	failures := f.events.ofType(EventRecordError)
	if len(failures) != 1 || failures[0].LocationID != "2" {
		t.Errorf("record_error events = %+v", failures)
	}
}

func TestStoreWriteFailureKeepsUnlock(t *testing.T) {
	store := newFakeStore()
	f := newFixture(t, demoDirectory(adventure.ScoringPoints), store)
	ctx := context.Background()

	store.mu.Lock()
	store.setErr = errors.New("disk full")
	store.mu.Unlock()

	ev, ok, err := f.engine.Unlock(ctx, "1")
	if err != nil || !ok {
		t.Fatalf("unlock: ok=%v err=%v", ok, err)
	}
	if ev.Persisted {
		t.Error("event should report the failed write")
	}
	if n := len(f.events.ofType(EventStoreError)); n != 1 {
		t.Errorf("store_error events = %d, want 1", n)
	}

	store.mu.Lock()
	store.setErr = nil
	store.mu.Unlock()

	if _, _, err := f.engine.Unlock(ctx, "2"); err != nil {
		t.Fatalf("second unlock: %v", err)
	}
	// The next successful write carries the earlier unlock too.
	if ids, _ := store.entry("lima"); !slices.Equal(ids, []string{"1", "2"}) {
		t.Errorf("stored = %v, want [1 2]", ids)
	}
}

func TestResetDuringUnlockIsReportedLast(t *testing.T) {
	store := newFakeStore()
	f := newFixture(t, demoDirectory(adventure.ScoringPoints), store)
	ctx := context.Background()

	var once sync.Once
	resetDone := make(chan error, 1)
	store.onSet = func() {
		once.Do(func() {
			go func() { resetDone <- f.engine.Reset(ctx) }()
			// Give Reset a chance to contend for the write lock.
			time.Sleep(10 * time.Millisecond)
		})
	}

	if _, ok, err := f.engine.Unlock(ctx, "1"); err != nil || !ok {
		t.Fatalf("unlock: ok=%v err=%v", ok, err)
	}
	if err := <-resetDone; err != nil {
		t.Fatalf("reset: %v", err)
	}

	last, ok := f.events.last()
	if !ok || last.Type != EventReset {
		t.Fatalf("last event = %+v, want reset", last)
	}
	st := f.engine.State()
	if len(st.Visited) != 0 || st.Score != 0 {
		t.Errorf("state = visited %v score %d, want empty", st.Visited, st.Score)
	}
	if st.LastUnlock != nil {
		t.Errorf("last unlock = %+v, want nil after reset", st.LastUnlock)
	}
	if ids, ok := store.entry("lima"); ok {
		t.Errorf("stored = %v, want removed", ids)
	}
}

func TestOpenRestoresVisited(t *testing.T) {
	store := newFakeStore()
	store.data["lima"] = []string{"3", "ghost"}

	f := newFixture(t, demoDirectory(adventure.ScoringPoints), store)

	st := f.engine.State()
	if !slices.Equal(st.Visited, []string{"3"}) {
		t.Errorf("visited = %v, want [3] (unknown ids dropped)", st.Visited)
	}
	if st.Score != 7 {
		t.Errorf("score = %d, want 7", st.Score)
	}
	if st.MaxScore != 25 {
		t.Errorf("max score = %d, want 25", st.MaxScore)
	}
}

func TestOpenDegradesOnStoreFailure(t *testing.T) {
	store := newFakeStore()
	store.getErr = errors.New("corrupt")

	f := newFixture(t, demoDirectory(adventure.ScoringPoints), store)

	if got := f.engine.State().Visited; len(got) != 0 {
		t.Errorf("visited = %v, want empty", got)
	}
	if n := len(f.events.ofType(EventStoreError)); n != 1 {
		t.Errorf("store_error events = %d, want 1", n)
	}
}

func TestOpenDirectoryFailureIsFatal(t *testing.T) {
	dir := &fakeDirectory{err: errors.New("502 bad gateway")}

	_, err := Open(context.Background(), "lima", Deps{Directory: dir, Store: newFakeStore()}, DefaultConfig())
	if !errors.Is(err, ErrDirectory) {
		t.Fatalf("err = %v, want ErrDirectory", err)
	}
}

func TestBusyGuardDropsOverlappingCycle(t *testing.T) {
	store := newFakeStore()
	f := newFixture(t, demoDirectory(adventure.ScoringPoints), store)
	ctx := context.Background()

	store.entered = make(chan struct{})
	store.release = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, _, err := f.engine.HandlePosition(ctx, plaza)
		done <- err
	}()

	<-store.entered
	if _, _, err := f.engine.HandlePosition(ctx, plaza); !errors.Is(err, ErrBusy) {
		t.Errorf("overlapping cycle err = %v, want ErrBusy", err)
	}

	store.entered = nil
	close(store.release)
	if err := <-done; err != nil {
		t.Fatalf("first cycle: %v", err)
	}
	if got := f.engine.State().Visited; !slices.Equal(got, []string{"1"}) {
		t.Errorf("visited = %v, want exactly [1]", got)
	}
}

func TestGuardReleasedBeforeRemoteCall(t *testing.T) {
	f := newFixture(t, demoDirectory(adventure.ScoringPoints), newFakeStore())
	f.recorder.release = make(chan struct{})
	ctx := context.Background()

	pos := north(plaza, 10)
	if _, ok, err := f.engine.HandlePosition(ctx, pos); err != nil || !ok {
		t.Fatalf("first cycle: ok=%v err=%v", ok, err)
	}
	// The recorder is still blocked, yet the next fix is evaluated.
	if _, ok, err := f.engine.HandlePosition(ctx, pos); err != nil || !ok {
		t.Fatalf("second cycle: ok=%v err=%v", ok, err)
	}

	close(f.recorder.release)
	f.engine.Wait()
	if got := f.recorder.recorded(); len(got) != 2 {
		t.Errorf("recorded = %v, want two calls", got)
	}
}

func TestTrack(t *testing.T) {
	f := newFixture(t, demoDirectory(adventure.ScoringPoints), newFakeStore())
	src := geo.NewChanSource()
	defer src.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.engine.Track(ctx, src) }()

	deadline := time.After(2 * time.Second)
	for len(f.events.ofType(EventUnlocked)) == 0 {
		// Keep pushing until the subscription is live.
		src.Push(north(plaza, 100))
		src.Push(plaza)
		select {
		case <-deadline:
			t.Fatal("timed out waiting for unlock")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("track: %v", err)
	}
	if got := f.engine.State().Visited[0]; got != "1" {
		t.Errorf("first visited = %q, want 1", got)
	}
}

func TestTrackPermissionDenied(t *testing.T) {
	f := newFixture(t, demoDirectory(adventure.ScoringPoints), newFakeStore())
	src := geo.NewChanSource()
	src.Deny()

	err := f.engine.Track(context.Background(), src)
	if !errors.Is(err, geo.ErrPermissionDenied) {
		t.Fatalf("track err = %v, want ErrPermissionDenied", err)
	}
	if f.engine.ProximityEnabled() {
		t.Error("proximity should be disabled")
	}
	if n := len(f.events.ofType(EventPermissionDenied)); n != 1 {
		t.Errorf("permission_denied events = %d, want 1", n)
	}
	if _, _, err := f.engine.HandlePosition(context.Background(), plaza); !errors.Is(err, ErrProximityDisabled) {
		t.Errorf("handle position err = %v, want ErrProximityDisabled", err)
	}
	if _, ok, err := f.engine.Unlock(context.Background(), "1"); err != nil || !ok {
		t.Errorf("scan unlock should still work: ok=%v err=%v", ok, err)
	}
}

func TestCloseDiscardsRemoteOutcome(t *testing.T) {
	f := newFixture(t, demoDirectory(adventure.ScoringPoints), newFakeStore())
	f.recorder.err = errors.New("late failure")
	f.recorder.release = make(chan struct{})

	if _, _, err := f.engine.Unlock(context.Background(), "1"); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	f.engine.Close()
	close(f.recorder.release)
	f.engine.Wait()

	if n := len(f.events.ofType(EventRecordError)); n != 0 {
		t.Errorf("record_error events after close = %d, want 0", n)
	}
	if _, _, err := f.engine.Unlock(context.Background(), "2"); !errors.Is(err, ErrClosed) {
		t.Errorf("unlock after close err = %v, want ErrClosed", err)
	}
}

func TestPreview(t *testing.T) {
	dir := demoDirectory(adventure.ScoringPoints)
	pos := north(plaza, 80)

	markers := Preview(dir.locations, pos, DefaultConfig().PreviewRadius)
	if len(markers) != 3 {
		t.Fatalf("markers = %d, want 3 (position-less stop skipped)", len(markers))
	}

	highlighted := map[string]bool{}
	for _, m := range markers {
		highlighted[m.LocationID] = m.Highlighted
	}
	if !highlighted["1"] || !highlighted["2"] || highlighted["3"] {
		t.Errorf("highlighted = %v, want 1 and 2 only", highlighted)
	}

	// Highlighted at 80m, but well outside the 50m unlock radius.
	f := newFixture(t, dir, newFakeStore())
	if _, ok, _ := f.engine.HandlePosition(context.Background(), north(plaza, -80)); ok {
		t.Error("preview radius must not unlock")
	}
}

func TestPreviewFrom(t *testing.T) {
	f := newFixture(t, demoDirectory(adventure.ScoringPoints), newFakeStore())
	src := geo.NewChanSource()
	defer src.Close()
	src.Push(plaza)

	markers, err := f.engine.PreviewFrom(context.Background(), src)
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if len(markers) != 3 || !markers[0].Highlighted {
		t.Errorf("markers = %+v", markers)
	}
}
