package housekeeping

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/zulandar/signalbox/internal/config"
	"github.com/zulandar/signalbox/internal/db"
	"github.com/zulandar/signalbox/internal/logging"
	"github.com/zulandar/signalbox/internal/models"
	"github.com/zulandar/signalbox/internal/pause"
	"github.com/zulandar/signalbox/internal/ttlcache"
	"gorm.io/gorm"
)

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
	if err := db.AutoMigrate(gormDB); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return gormDB
}

var base = time.Date(2026, 3, 1, 9, 7, 0, 0, time.UTC)

func TestNew_Validation(t *testing.T) {
	gormDB := openTestDB(t)
	tests := []struct {
		name string
		opts Opts
		want string
	}{
		{"no db", Opts{}, "DB is required"},
		{"bad schedule", Opts{DB: gormDB, Schedule: "not a cron expr"}, "schedule"},
		{"six fields", Opts{DB: gormDB, Schedule: "0 */15 * * * *"}, "schedule"},
		{"negative retention", Opts{DB: gormDB, EventRetention: -time.Hour}, "retention"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.opts)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want to contain %q", err, tt.want)
			}
		})
	}
}

func TestNext(t *testing.T) {
	gormDB := openTestDB(t)
	tests := []struct {
		schedule string
		want     time.Duration
	}{
		{"", 8 * time.Minute},           // next quarter hour is 09:15
		{"0 * * * *", 53 * time.Minute}, // top of the hour
		{"* * * * *", time.Minute},
	}
	for _, tt := range tests {
		j, err := New(Opts{DB: gormDB, Schedule: tt.schedule, Now: func() time.Time { return base }, Logger: logging.Discard()})
		if err != nil {
			t.Fatalf("New(%q): %v", tt.schedule, err)
		}
		if got := j.Next(); got != tt.want {
			t.Errorf("Next(%q) = %s, want %s", tt.schedule, got, tt.want)
		}
	}
}

func TestSweep_RemovesExpiredState(t *testing.T) {
	gormDB := openTestDB(t)
	now := base
	clock := func() time.Time { return now }

	cache := ttlcache.NewMemory(clock)
	ctx := context.Background()
	cache.SetWithTTL(ctx, "short", "1", time.Minute)
	cache.SetWithTTL(ctx, "long", "1", time.Hour)

	pauses, err := pause.NewStore(pause.StoreOpts{DB: gormDB, Cache: cache, Now: clock, Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	pauses.Pause(ctx, pause.Key{OwnerID: 1, Platform: "zalo", AccountID: "OA", PeerID: "A"}, time.Minute, "human")
	pauses.Pause(ctx, pause.Key{OwnerID: 1, Platform: "zalo", AccountID: "OA", PeerID: "B"}, time.Hour, "human")

	processed := base.Add(-47 * time.Hour)
	gormDB.Create(&models.WebhookEvent{Platform: "zalo", Kind: "inbound_text", ReceivedAt: base.Add(-72 * time.Hour), ProcessedAt: &processed})
	gormDB.Create(&models.WebhookEvent{Platform: "zalo", Kind: "inbound_text", ReceivedAt: base.Add(-72 * time.Hour)})
	gormDB.Create(&models.WebhookEvent{Platform: "zalo", Kind: "inbound_text", ReceivedAt: base.Add(-time.Hour), ProcessedAt: &processed})

	j, err := New(Opts{DB: gormDB, Cache: cache, Pauses: pauses, EventRetention: 48 * time.Hour, Now: clock, Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	now = base.Add(2 * time.Minute)
	rep, err := j.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	// The cache also holds the two pause mirrors; only the short one expired.
	if rep.CacheEntries != 2 {
		t.Errorf("CacheEntries = %d, want 2", rep.CacheEntries)
	}
	if rep.Pauses != 1 {
		t.Errorf("Pauses = %d, want 1", rep.Pauses)
	}
	if rep.Events != 1 {
		t.Errorf("Events = %d, want 1", rep.Events)
	}

	var left int64
	gormDB.Model(&models.WebhookEvent{}).Count(&left)
	if left != 2 {
		t.Errorf("remaining events = %d, want 2", left)
	}
	if _, ok, _ := cache.Get(ctx, "long"); !ok {
		t.Error("live cache entry purged")
	}
}

func TestSweep_ZeroRetentionKeepsEvents(t *testing.T) {
	gormDB := openTestDB(t)
	processed := base
	gormDB.Create(&models.WebhookEvent{Platform: "zalo", Kind: "inbound_text", ReceivedAt: base.AddDate(-1, 0, 0), ProcessedAt: &processed})

	j, err := New(Opts{DB: gormDB, Now: func() time.Time { return base }, Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rep, err := j.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if rep.Events != 0 {
		t.Errorf("Events = %d, want 0", rep.Events)
	}
}

type failingPurger struct{ calls int }

func (f *failingPurger) Purge(ctx context.Context) (int64, error) {
	f.calls++
	return 0, errors.New("cache down")
}

type countingPauses struct{ calls int }

func (c *countingPauses) PurgeExpired(ctx context.Context) (int64, error) {
	c.calls++
	return 3, nil
}

func TestSweep_ContinuesAfterFailure(t *testing.T) {
	gormDB := openTestDB(t)
	cache := &failingPurger{}
	pauses := &countingPauses{}

	j, err := New(Opts{DB: gormDB, Cache: cache, Pauses: pauses, Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rep, err := j.Sweep(context.Background())
	if err == nil || !strings.Contains(err.Error(), "cache down") {
		t.Fatalf("err = %v, want cache failure", err)
	}
	if pauses.calls != 1 || rep.Pauses != 3 {
		t.Errorf("pause purge skipped after cache failure: calls=%d rep=%+v", pauses.calls, rep)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	j, err := New(Opts{DB: openTestDB(t), Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		j.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
