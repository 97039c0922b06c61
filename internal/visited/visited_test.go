package visited

import (
	"context"
	"os"
	"slices"
	"testing"

	"github.com/redis/go-redis/v9"

	"github.com/playperu/adventure/internal/database"
	"github.com/playperu/adventure/internal/migrations"
	"github.com/playperu/adventure/internal/unlock"
)

var (
	_ unlock.VisitedStore = (*SQLiteStore)(nil)
	_ unlock.VisitedStore = (*RedisStore)(nil)
)

func sqliteStores(t *testing.T) (unlock.VisitedStore, unlock.VisitedStore) {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := migrations.Run(ctx, db); err != nil {
		t.Fatalf("migrations: %v", err)
	}

	s := NewSQLiteStore(db, "maria")
	return s, s.For("jose")
}

func redisStores(t *testing.T) (unlock.VisitedStore, unlock.VisitedStore) {
	t.Helper()
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("parsing redis url: %v", err)
	}
	rdb := redis.NewClient(opt)
	t.Cleanup(func() { rdb.Close() })

	a := NewRedisStore(rdb, "test-maria")
	b := a.For("test-jose")
	t.Cleanup(func() {
		ctx := context.Background()
		a.Remove(ctx, "lima")
		b.Remove(ctx, "lima")
	})
	return a, b
}

func TestStores(t *testing.T) {
	impls := []struct {
		name string
		open func(t *testing.T) (unlock.VisitedStore, unlock.VisitedStore)
	}{
		{"sqlite", sqliteStores},
		{"redis", redisStores},
	}

	for _, impl := range impls {
		t.Run(impl.name, func(t *testing.T) {
			ctx := context.Background()
			s, other := impl.open(t)

			ids, err := s.Get(ctx, "lima")
			if err != nil {
				t.Fatalf("get missing: %v", err)
			}
			if len(ids) != 0 {
				t.Fatalf("missing key = %v, want empty", ids)
			}

			if err := s.Set(ctx, "lima", []string{"a", "b"}); err != nil {
				t.Fatalf("set: %v", err)
			}
			if err := s.Set(ctx, "lima", []string{"a", "b", "c"}); err != nil {
				t.Fatalf("overwrite: %v", err)
			}
			ids, err = s.Get(ctx, "lima")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			slices.Sort(ids)
			if !slices.Equal(ids, []string{"a", "b", "c"}) {
				t.Errorf("ids = %v, want [a b c]", ids)
			}

			// Another owner does not see the set.
			if ids, _ := other.Get(ctx, "lima"); len(ids) != 0 {
				t.Errorf("other owner sees %v", ids)
			}

			if err := s.Remove(ctx, "lima"); err != nil {
				t.Fatalf("remove: %v", err)
			}
			if ids, _ := s.Get(ctx, "lima"); len(ids) != 0 {
				t.Errorf("after remove = %v, want empty", ids)
			}
			if err := s.Remove(ctx, "lima"); err != nil {
				t.Errorf("removing a missing key should succeed: %v", err)
			}
		})
	}
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := t.TempDir() + "/device.db"

	db, err := database.Open(ctx, path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	s, err := NewSQLiteStore(ctx, db, "device")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := s.Set(ctx, "lima", []string{"x"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	db.Close()

	db, err = database.Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()
	s, err = NewSQLiteStore(ctx, db, "device")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ids, err := s.Get(ctx, "lima")
	if err != nil || !slices.Equal(ids, []string{"x"}) {
		t.Errorf("after reopen = %v, %v", ids, err)
	}
}
