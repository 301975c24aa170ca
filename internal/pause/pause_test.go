package pause

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zulandar/signalbox/internal/config"
	"github.com/zulandar/signalbox/internal/db"
	"github.com/zulandar/signalbox/internal/logging"
	"github.com/zulandar/signalbox/internal/models"
	"github.com/zulandar/signalbox/internal/ttlcache"
	"gorm.io/gorm"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
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
	if err := gormDB.AutoMigrate(&models.ConversationPause{}, &models.CacheEntry{}); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return gormDB
}

func newTestStore(t *testing.T) (*Store, *gorm.DB, *ttlcache.Memory, *fakeClock) {
	t.Helper()
	gormDB := openTestDB(t)
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	cache := ttlcache.NewMemory(clock.Now)
	s, err := NewStore(StoreOpts{DB: gormDB, Cache: cache, Now: clock.Now, Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s, gormDB, cache, clock
}

var conv = Key{OwnerID: 7, Platform: "zalo", AccountID: "OA", PeerID: "USER"}

func intPtr(v int) *int { return &v }

func TestNewStore_RequiresDeps(t *testing.T) {
	if _, err := NewStore(StoreOpts{Cache: ttlcache.NewMemory(nil)}); err == nil {
		t.Error("expected error without DB")
	}
	if _, err := NewStore(StoreOpts{DB: openTestDB(t)}); err == nil {
		t.Error("expected error without Cache")
	}
}

func TestTTLFor(t *testing.T) {
	tests := []struct {
		name string
		cfg  *models.BotConfig
		want time.Duration
	}{
		{name: "nil config", cfg: nil, want: DefaultTTL},
		{name: "unset ttl", cfg: &models.BotConfig{}, want: DefaultTTL},
		{name: "explicit", cfg: &models.BotConfig{PauseTTLMinutes: intPtr(30)}, want: 30 * time.Minute},
		{name: "zero disables", cfg: &models.BotConfig{PauseTTLMinutes: intPtr(0)}, want: 0},
		{name: "negative disables", cfg: &models.BotConfig{PauseTTLMinutes: intPtr(-5)}, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TTLFor(tt.cfg, DefaultTTL); got != tt.want {
				t.Errorf("TTLFor() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestStore_NoRowIsActive(t *testing.T) {
	s, _, _, _ := newTestStore(t)
	st, err := s.State(context.Background(), conv)
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if !st.Active() {
		t.Errorf("State = %+v, want active", st)
	}
}

func TestStore_PauseThenState(t *testing.T) {
	s, _, _, clock := newTestStore(t)
	ctx := context.Background()

	st, err := s.Pause(ctx, conv, 10*time.Minute, "human_reply")
	if err != nil {
		t.Fatalf("Pause: %v", err)
	}
	want := clock.Now().Add(10 * time.Minute)
	if !st.Paused || !st.Until.Equal(want) {
		t.Errorf("Pause() = %+v, want paused until %v", st, want)
	}

	got, err := s.State(ctx, conv)
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if !got.Paused || !got.Until.Equal(want) {
		t.Errorf("State() = %+v, want paused until %v", got, want)
	}
}

func TestStore_StateFromRowWhenCacheEmpty(t *testing.T) {
	s, gormDB, _, clock := newTestStore(t)
	ctx := context.Background()
	if _, err := s.Pause(ctx, conv, 5*time.Minute, "human_reply"); err != nil {
		t.Fatalf("Pause: %v", err)
	}

	// A second store with a cold cache, like another receiver instance.
	cold, err := NewStore(StoreOpts{DB: gormDB, Cache: ttlcache.NewMemory(clock.Now), Now: clock.Now})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	st, err := cold.State(ctx, conv)
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if !st.Paused {
		t.Error("cold store should read the pause from the table")
	}
}

func TestStore_LazyExpiryDeletesRow(t *testing.T) {
	s, gormDB, _, clock := newTestStore(t)
	ctx := context.Background()
	if _, err := s.Pause(ctx, conv, 10*time.Minute, "human_reply"); err != nil {
		t.Fatalf("Pause: %v", err)
	}

	clock.Advance(10*time.Minute + time.Second)

	st, err := s.State(ctx, conv)
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if !st.Active() {
		t.Errorf("State after expiry = %+v, want active", st)
	}
	var count int64
	gormDB.Model(&models.ConversationPause{}).Count(&count)
	if count != 0 {
		t.Errorf("pause rows = %d, want 0 after lazy expiry", count)
	}
}

func TestStore_PauseZeroTTLIsNoop(t *testing.T) {
	s, gormDB, _, _ := newTestStore(t)
	ctx := context.Background()

	st, err := s.Pause(ctx, conv, 0, "human_reply")
	if err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if st.Paused {
		t.Error("zero TTL must not pause")
	}
	var count int64
	gormDB.Model(&models.ConversationPause{}).Count(&count)
	if count != 0 {
		t.Errorf("pause rows = %d, want 0", count)
	}
}

func TestStore_PauseExtendsExisting(t *testing.T) {
	s, gormDB, _, clock := newTestStore(t)
	ctx := context.Background()
	if _, err := s.Pause(ctx, conv, 5*time.Minute, "human_reply"); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	clock.Advance(2 * time.Minute)
	st, err := s.Pause(ctx, conv, 5*time.Minute, "human_reply")
	if err != nil {
		t.Fatalf("second Pause: %v", err)
	}
	if !st.Until.Equal(clock.Now().Add(5 * time.Minute)) {
		t.Errorf("Until = %v, want now+5m", st.Until)
	}
	var count int64
	gormDB.Model(&models.ConversationPause{}).Count(&count)
	if count != 1 {
		t.Errorf("pause rows = %d, want 1 (upsert)", count)
	}
}

func TestStore_Resume(t *testing.T) {
	s, _, cache, _ := newTestStore(t)
	ctx := context.Background()
	if _, err := s.Pause(ctx, conv, 10*time.Minute, "human_reply"); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if err := s.Resume(ctx, conv); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	st, err := s.State(ctx, conv)
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if !st.Active() {
		t.Error("conversation should be active after Resume")
	}
	if cache.Len() != 0 {
		t.Errorf("cache entries = %d, want 0", cache.Len())
	}
}

// A pause cleared by another process (the operator CLI) is seen by a
// receiver whose own memory cache still holds the deadline.
func TestStore_ResumeFromOtherProcess(t *testing.T) {
	server, gormDB, serverCache, clock := newTestStore(t)
	ctx := context.Background()
	cli, err := NewStore(StoreOpts{DB: gormDB, Cache: ttlcache.NewMemory(clock.Now), Now: clock.Now, Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	if _, err := server.Pause(ctx, conv, 10*time.Minute, "human_reply"); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if err := cli.Resume(ctx, conv); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	st, err := server.State(ctx, conv)
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if st.Paused {
		t.Fatalf("server still paused until %s after resume from another process", st.Until)
	}
	if serverCache.Len() != 0 {
		t.Errorf("stale cache entries = %d, want 0", serverCache.Len())
	}
}

func TestStore_PurgeExpired(t *testing.T) {
	s, _, _, clock := newTestStore(t)
	ctx := context.Background()
	other := conv
	other.PeerID = "OTHER"

	if _, err := s.Pause(ctx, conv, time.Minute, "human_reply"); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if _, err := s.Pause(ctx, other, time.Hour, "human_reply"); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	clock.Advance(2 * time.Minute)

	n, err := s.PurgeExpired(ctx)
	if err != nil {
		t.Fatalf("PurgeExpired: %v", err)
	}
	if n != 1 {
		t.Errorf("purged = %d, want 1", n)
	}
	st, _ := s.State(ctx, other)
	if !st.Paused {
		t.Error("unexpired pause was purged")
	}
}

func TestStore_KeysAreIsolated(t *testing.T) {
	s, _, _, _ := newTestStore(t)
	ctx := context.Background()
	if _, err := s.Pause(ctx, conv, time.Minute, "human_reply"); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	for _, k := range []Key{
		{OwnerID: 8, Platform: "zalo", AccountID: "OA", PeerID: "USER"},
		{OwnerID: 7, Platform: "zalo", AccountID: "OA2", PeerID: "USER"},
		{OwnerID: 7, Platform: "zalo", AccountID: "OA", PeerID: "USER2"},
	} {
		st, err := s.State(ctx, k)
		if err != nil {
			t.Fatalf("State(%v): %v", k, err)
		}
		if st.Paused {
			t.Errorf("State(%v) paused, want active", k)
		}
	}
}

func TestTracker_MatchByTextBeforeID(t *testing.T) {
	tr := NewTracker(ttlcache.NewMemory(nil), time.Minute)
	ctx := context.Background()

	if err := tr.MarkText(ctx, conv, "Xin chào"); err != nil {
		t.Fatalf("MarkText: %v", err)
	}
	// Echo arrives before the send call returned its id.
	ok, err := tr.IsBotEcho(ctx, conv, "mid.unknown", "  Xin   cha\u0300o\u200b ")
	if err != nil {
		t.Fatalf("IsBotEcho: %v", err)
	}
	if !ok {
		t.Error("pre-marked text should match")
	}
}

func TestTracker_MatchByID(t *testing.T) {
	tr := NewTracker(ttlcache.NewMemory(nil), time.Minute)
	ctx := context.Background()
	if err := tr.MarkID(ctx, conv, "mid.1"); err != nil {
		t.Fatalf("MarkID: %v", err)
	}
	ok, err := tr.IsBotEcho(ctx, conv, "mid.1", "text that was never marked")
	if err != nil {
		t.Fatalf("IsBotEcho: %v", err)
	}
	if !ok {
		t.Error("marked id should match")
	}
}

func TestTracker_HumanReply(t *testing.T) {
	tr := NewTracker(ttlcache.NewMemory(nil), time.Minute)
	ctx := context.Background()
	if err := tr.MarkText(ctx, conv, "Chào bạn"); err != nil {
		t.Fatalf("MarkText: %v", err)
	}
	ok, err := tr.IsBotEcho(ctx, conv, "mid.2", "Để tôi kiểm tra")
	if err != nil {
		t.Fatalf("IsBotEcho: %v", err)
	}
	if ok {
		t.Error("unmarked text should be treated as human")
	}
}

func TestTracker_ScopedToConversation(t *testing.T) {
	tr := NewTracker(ttlcache.NewMemory(nil), time.Minute)
	ctx := context.Background()
	if err := tr.MarkText(ctx, conv, "Chào bạn"); err != nil {
		t.Fatalf("MarkText: %v", err)
	}
	other := conv
	other.PeerID = "SOMEONE_ELSE"
	ok, _ := tr.IsBotEcho(ctx, other, "", "Chào bạn")
	if ok {
		t.Error("mark must not leak to another conversation")
	}
}

func TestTracker_Expires(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	tr := NewTracker(ttlcache.NewMemory(clock.Now), time.Minute)
	ctx := context.Background()
	if err := tr.MarkText(ctx, conv, "hello"); err != nil {
		t.Fatalf("MarkText: %v", err)
	}
	clock.Advance(61 * time.Second)
	ok, _ := tr.IsBotEcho(ctx, conv, "", "hello")
	if ok {
		t.Error("mark should expire after ttl")
	}
}

func TestTracker_EmptyTextNeverMatches(t *testing.T) {
	tr := NewTracker(ttlcache.NewMemory(nil), time.Minute)
	ctx := context.Background()
	if err := tr.MarkText(ctx, conv, "   "); err != nil {
		t.Fatalf("MarkText: %v", err)
	}
	ok, _ := tr.IsBotEcho(ctx, conv, "", "")
	if ok {
		t.Error("empty echo text must not match")
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain", in: "hello", want: "hello"},
		{name: "trim and collapse", in: "  hello \t\n  world  ", want: "hello world"},
		{name: "zero width removed", in: "he\u200bllo\ufeff", want: "hello"},
		{name: "control removed", in: "a\x00b\x07c", want: "abc"},
		{name: "nbsp is whitespace", in: "a\u00a0 b", want: "a b"},
		{name: "decomposed vietnamese composes", in: "Xin cha\u0300o", want: "Xin ch\u00e0o"},
		{name: "empty", in: "", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.in); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
