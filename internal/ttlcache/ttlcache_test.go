package ttlcache

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zulandar/signalbox/internal/config"
	"github.com/zulandar/signalbox/internal/db"
	"github.com/zulandar/signalbox/internal/models"
	"gorm.io/gorm"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	gormDB, err := db.Connect(config.DatabaseConfig{
		Driver: "sqlite",
		Path:   "file:" + name + "?mode=memory&cache=shared",
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	sqlDB, _ := gormDB.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	if err := gormDB.AutoMigrate(&models.CacheEntry{}); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return gormDB
}

// backends runs fn against both cache implementations sharing one clock.
func backends(t *testing.T, fn func(t *testing.T, c Cache, clock *fakeClock)) {
	t.Run("memory", func(t *testing.T) {
		clock := newFakeClock()
		fn(t, NewMemory(clock.Now), clock)
	})
	t.Run("db", func(t *testing.T) {
		clock := newFakeClock()
		fn(t, NewDB(openTestDB(t), clock.Now), clock)
	})
}

func TestCache_SetGet(t *testing.T) {
	backends(t, func(t *testing.T, c Cache, clock *fakeClock) {
		ctx := context.Background()
		if err := c.SetWithTTL(ctx, "k", "v", time.Minute); err != nil {
			t.Fatalf("SetWithTTL: %v", err)
		}
		got, ok, err := c.Get(ctx, "k")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if !ok || got != "v" {
			t.Errorf("Get = (%q, %v), want (v, true)", got, ok)
		}
	})
}

func TestCache_Expiry(t *testing.T) {
	backends(t, func(t *testing.T, c Cache, clock *fakeClock) {
		ctx := context.Background()
		c.SetWithTTL(ctx, "k", "v", time.Minute)

		clock.Advance(59 * time.Second)
		if ok, _ := c.Exists(ctx, "k"); !ok {
			t.Error("entry expired too early")
		}

		clock.Advance(time.Second)
		if ok, _ := c.Exists(ctx, "k"); ok {
			t.Error("entry still live at its expiry instant")
		}
	})
}

func TestCache_Overwrite(t *testing.T) {
	backends(t, func(t *testing.T, c Cache, clock *fakeClock) {
		ctx := context.Background()
		c.SetWithTTL(ctx, "k", "first", time.Minute)
		clock.Advance(50 * time.Second)
		if err := c.SetWithTTL(ctx, "k", "second", time.Minute); err != nil {
			t.Fatalf("overwrite: %v", err)
		}
		clock.Advance(30 * time.Second)

		got, ok, _ := c.Get(ctx, "k")
		if !ok || got != "second" {
			t.Errorf("Get = (%q, %v), want (second, true)", got, ok)
		}
	})
}

func TestCache_NonPositiveTTLDeletes(t *testing.T) {
	backends(t, func(t *testing.T, c Cache, clock *fakeClock) {
		ctx := context.Background()
		c.SetWithTTL(ctx, "k", "v", time.Minute)
		if err := c.SetWithTTL(ctx, "k", "v", 0); err != nil {
			t.Fatalf("SetWithTTL(0): %v", err)
		}
		if ok, _ := c.Exists(ctx, "k"); ok {
			t.Error("zero TTL should remove the key")
		}
	})
}

func TestCache_Delete(t *testing.T) {
	backends(t, func(t *testing.T, c Cache, clock *fakeClock) {
		ctx := context.Background()
		c.SetWithTTL(ctx, "k", "v", time.Minute)
		if err := c.Delete(ctx, "k"); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if ok, _ := c.Exists(ctx, "k"); ok {
			t.Error("key still exists after Delete")
		}
		if err := c.Delete(ctx, "missing"); err != nil {
			t.Errorf("Delete(missing) = %v, want nil", err)
		}
	})
}

func TestCache_Purge(t *testing.T) {
	backends(t, func(t *testing.T, c Cache, clock *fakeClock) {
		ctx := context.Background()
		c.SetWithTTL(ctx, "short-1", "v", time.Minute)
		c.SetWithTTL(ctx, "short-2", "v", time.Minute)
		c.SetWithTTL(ctx, "long", "v", time.Hour)
		clock.Advance(2 * time.Minute)

		n, err := c.(Purger).Purge(ctx)
		if err != nil {
			t.Fatalf("Purge: %v", err)
		}
		if n != 2 {
			t.Errorf("Purge removed %d, want 2", n)
		}
		if ok, _ := c.Exists(ctx, "long"); !ok {
			t.Error("live entry purged")
		}
	})
}

func TestDB_SharedAcrossInstances(t *testing.T) {
	gormDB := openTestDB(t)
	clock := newFakeClock()
	a := NewDB(gormDB, clock.Now)
	b := NewDB(gormDB, clock.Now)
	ctx := context.Background()

	if err := a.SetWithTTL(ctx, "botsent:text:1:page:psid:abc", "1", time.Minute); err != nil {
		t.Fatalf("SetWithTTL: %v", err)
	}
	if ok, _ := b.Exists(ctx, "botsent:text:1:page:psid:abc"); !ok {
		t.Error("second instance does not see entry written by the first")
	}
}

func TestNew(t *testing.T) {
	if c, err := New("memory", nil); err != nil || c == nil {
		t.Errorf("New(memory) = %v, %v", c, err)
	}
	if _, err := New("db", nil); err == nil {
		t.Error("New(db, nil) should fail")
	}
	if _, err := New("redis", nil); err == nil {
		t.Error("New(redis) should fail")
	}
	c, err := New("db", openTestDB(t))
	if err != nil {
		t.Fatalf("New(db): %v", err)
	}
	if _, ok := c.(*DB); !ok {
		t.Errorf("New(db) returned %T, want *DB", c)
	}
}

func TestMemory_ConcurrentAccess(t *testing.T) {
	c := NewMemory(nil)
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.SetWithTTL(ctx, "k", "v", time.Minute)
			c.Exists(ctx, "k")
			if i%10 == 0 {
				c.Purge(ctx)
			}
		}(i)
	}
	wg.Wait()
	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1", c.Len())
	}
}
