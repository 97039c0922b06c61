package server

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/playperu/adventure/internal/adventure"
	"github.com/playperu/adventure/internal/unlock"
	"github.com/playperu/adventure/internal/visited"
)

// gatedStore blocks GetProject for one project until gate is closed.
type gatedStore struct {
	Store
	blocked string
	gate    chan struct{}
	calls   atomic.Int32
}

func (s *gatedStore) GetProject(ctx context.Context, id string) (ProjectResponse, error) {
	if id == s.blocked {
		s.calls.Add(1)
		<-s.gate
	}
	return s.Store.GetProject(ctx, id)
}

func newTestHub(t *testing.T, store Store) *Hub {
	t.Helper()
	sq := store
	if g, ok := store.(*gatedStore); ok {
		sq = g.Store
	}
	vs := visited.NewSQLiteStore(sq.(*SQLiteStore).db, "")
	hub := NewHub(store, func(owner string) unlock.VisitedStore { return vs.For(owner) },
		NewBroker(), quietLogger(), unlock.DefaultConfig())
	t.Cleanup(hub.Close)
	return hub
}

// isClosed reports whether e was closed. It resets e if it is still open.
func isClosed(e *unlock.Engine) bool {
	return errors.Is(e.Reset(context.Background()), unlock.ErrClosed)
}

func TestHubEvictsAfterLastSubscriber(t *testing.T) {
	store := setupStore(t)
	p, _ := seedProject(t, store, true)
	hub := newTestHub(t, store)
	ctx := context.Background()
	maria := adventure.Profile{ID: "maria", Username: "maria"}
	key := sessionKey(maria.ID, p.ID)

	e1, ch1, err := hub.Attach(ctx, maria, p.ID)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	e2, ch2, err := hub.Attach(ctx, maria, p.ID)
	if err != nil {
		t.Fatalf("second attach: %v", err)
	}
	if e1 != e2 {
		t.Fatal("subscribers of one session should share the engine")
	}

	hub.Detach(key, e1, ch1)
	if got, _ := hub.Get(ctx, maria, p.ID); got != e1 {
		t.Fatal("session closed while a subscriber remains")
	}

	hub.Detach(key, e2, ch2)
	if !isClosed(e1) {
		t.Error("engine should be closed after the last subscriber left")
	}
	got, err := hub.Get(ctx, maria, p.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == e1 {
		t.Error("expected a fresh engine after eviction")
	}
}

func TestHubSweepIdle(t *testing.T) {
	store := setupStore(t)
	p, _ := seedProject(t, store, true)
	hub := newTestHub(t, store)
	ctx := context.Background()

	idle, err := hub.Get(ctx, adventure.Profile{ID: "maria"}, p.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	streaming, ch, err := hub.Attach(ctx, adventure.Profile{ID: "jose"}, p.ID)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	defer hub.Detach(sessionKey("jose", p.ID), streaming, ch)

	if n := hub.Sweep(time.Hour); n != 0 {
		t.Errorf("swept %d fresh sessions, want 0", n)
	}
	if n := hub.Sweep(0); n != 1 {
		t.Errorf("swept %d sessions, want 1", n)
	}
	if !isClosed(idle) {
		t.Error("idle session should be closed")
	}
	if isClosed(streaming) {
		t.Error("session with a subscriber should stay open")
	}
}

func TestHubOpenDoesNotBlockOtherSessions(t *testing.T) {
	base := setupStore(t)
	slow, _ := seedProject(t, base, true)
	fast, _ := seedProject(t, base, true)
	store := &gatedStore{Store: base, blocked: slow.ID, gate: make(chan struct{})}
	hub := newTestHub(t, store)
	ctx := context.Background()
	maria := adventure.Profile{ID: "maria"}

	const callers = 4
	engines := make([]*unlock.Engine, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e, err := hub.Get(ctx, maria, slow.ID)
			if err != nil {
				t.Errorf("get slow: %v", err)
			}
			engines[i] = e
		}()
	}

	deadline := time.Now().Add(2 * time.Second)
	for store.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	done := make(chan error, 1)
	go func() {
		_, err := hub.Get(ctx, maria, fast.ID)
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("get fast: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("opening one session blocked another")
	}

	close(store.gate)
	wg.Wait()
	for i, e := range engines {
		if e == nil || e != engines[0] {
			t.Errorf("caller %d got a different engine", i)
		}
	}
}

func TestHubDiscardsOpenRacingInvalidate(t *testing.T) {
	base := setupStore(t)
	p, _ := seedProject(t, base, true)
	store := &gatedStore{Store: base, blocked: p.ID, gate: make(chan struct{})}
	hub := newTestHub(t, store)
	ctx := context.Background()

	got := make(chan *unlock.Engine, 1)
	go func() {
		e, err := hub.Get(ctx, adventure.Profile{ID: "maria"}, p.ID)
		if err != nil {
			t.Errorf("get: %v", err)
		}
		got <- e
	}()

	deadline := time.Now().Add(2 * time.Second)
	for store.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	hub.Invalidate(p.ID)
	close(store.gate)

	e := <-got
	if n := store.calls.Load(); n != 2 {
		t.Errorf("project loaded %d times, want 2 (reopened after the edit)", n)
	}
	if e == nil || isClosed(e) {
		t.Error("returned engine should be open")
	}
}
