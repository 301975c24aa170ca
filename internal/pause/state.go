// Package pause tracks which conversations have auto-reply suspended because
// a human operator answered from the platform console, and remembers what the
// bot itself sent so its own echoes are not mistaken for a human.
package pause

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/zulandar/signalbox/internal/models"
	"github.com/zulandar/signalbox/internal/ttlcache"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultTTL is the pause length when a bot config does not set one.
const DefaultTTL = 10 * time.Minute

// Key identifies a conversation: a customer talking to one channel account
// of one owner.
type Key struct {
	OwnerID   uint
	Platform  string
	AccountID string
	PeerID    string
}

func (k Key) String() string {
	return fmt.Sprintf("%d:%s:%s", k.OwnerID, k.AccountID, k.PeerID)
}

// State is the auto-reply state of a conversation. The zero value is Active.
type State struct {
	Paused bool
	Until  time.Time
}

// Active reports whether auto-reply is allowed.
func (s State) Active() bool { return !s.Paused }

// TTLFor returns the pause length configured for an account. A nil config or
// unset TTL yields def; an explicit zero disables auto-pause.
func TTLFor(cfg *models.BotConfig, def time.Duration) time.Duration {
	if cfg == nil || cfg.PauseTTLMinutes == nil {
		return def
	}
	if *cfg.PauseTTLMinutes <= 0 {
		return 0
	}
	return time.Duration(*cfg.PauseTTLMinutes) * time.Minute
}

// StoreOpts holds the dependencies of a Store.
type StoreOpts struct {
	DB     *gorm.DB
	Cache  ttlcache.Cache
	Now    func() time.Time
	Logger *slog.Logger
}

// Store persists pause state in the conversation_pauses table and mirrors it
// into the TTL cache. An expired row is treated as absent and removed on the
// next read, so no scheduler is needed for the Paused to Active transition.
type Store struct {
	db    *gorm.DB
	cache ttlcache.Cache
	now   func() time.Time
	log   *slog.Logger
}

// NewStore creates a Store. DB and Cache are required.
func NewStore(opts StoreOpts) (*Store, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("pause: DB is required")
	}
	if opts.Cache == nil {
		return nil, fmt.Errorf("pause: Cache is required")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Store{db: opts.DB, cache: opts.Cache, now: opts.Now, log: opts.Logger}, nil
}

func cacheKey(k Key) string {
	return "pause:" + k.String()
}

// State returns the conversation's current state. The row is authoritative:
// a cached deadline is confirmed against it, since another process (another
// receiver or the operator CLI) may have cleared or renewed the pause.
func (s *Store) State(ctx context.Context, k Key) (State, error) {
	now := s.now()

	_, cached, err := s.cache.Get(ctx, cacheKey(k))
	if err != nil {
		s.log.Warn("pause cache read failed", "conversation", k.String(), "error", err)
	}

	var row models.ConversationPause
	err = s.db.WithContext(ctx).
		Where("owner_id = ? AND account_id = ? AND peer_id = ?", k.OwnerID, k.AccountID, k.PeerID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if cached {
			s.drop(ctx, k)
		}
		return State{}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("pause: state %s: %w", k, err)
	}

	if row.PausedUntil == nil || !now.Before(*row.PausedUntil) {
		// Conditional so a pause renewed since the read survives.
		err := s.db.WithContext(ctx).
			Where("id = ? AND (paused_until IS NULL OR paused_until <= ?)", row.ID, now.UTC()).
			Delete(&models.ConversationPause{}).Error
		if err != nil {
			return State{}, fmt.Errorf("pause: expire %s: %w", k, err)
		}
		s.drop(ctx, k)
		return State{}, nil
	}

	until := row.PausedUntil.UTC()
	s.mirror(ctx, k, until, until.Sub(now))
	return State{Paused: true, Until: until}, nil
}

// Pause suspends auto-reply for ttl from now, replacing any existing pause.
// A non-positive ttl is a no-op and returns the zero State.
func (s *Store) Pause(ctx context.Context, k Key, ttl time.Duration, reason string) (State, error) {
	if ttl <= 0 {
		return State{}, nil
	}
	until := s.now().Add(ttl).UTC()
	row := models.ConversationPause{
		OwnerID:     k.OwnerID,
		Platform:    k.Platform,
		AccountID:   k.AccountID,
		PeerID:      k.PeerID,
		PausedUntil: &until,
		Reason:      reason,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "owner_id"}, {Name: "account_id"}, {Name: "peer_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"paused_until", "reason", "platform", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return State{}, fmt.Errorf("pause: pause %s: %w", k, err)
	}
	s.mirror(ctx, k, until, ttl)
	return State{Paused: true, Until: until}, nil
}

// Resume clears any pause on the conversation.
func (s *Store) Resume(ctx context.Context, k Key) error {
	err := s.db.WithContext(ctx).
		Where("owner_id = ? AND account_id = ? AND peer_id = ?", k.OwnerID, k.AccountID, k.PeerID).
		Delete(&models.ConversationPause{}).Error
	if err != nil {
		return fmt.Errorf("pause: resume %s: %w", k, err)
	}
	if err := s.cache.Delete(ctx, cacheKey(k)); err != nil {
		return fmt.Errorf("pause: resume %s: %w", k, err)
	}
	return nil
}

// PurgeExpired deletes every pause row whose deadline has passed.
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("paused_until IS NULL OR paused_until <= ?", s.now().UTC()).
		Delete(&models.ConversationPause{})
	if result.Error != nil {
		return 0, fmt.Errorf("pause: purge expired: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// drop removes a stale cached deadline.
func (s *Store) drop(ctx context.Context, k Key) {
	if err := s.cache.Delete(ctx, cacheKey(k)); err != nil {
		s.log.Warn("pause cache delete failed", "conversation", k.String(), "error", err)
	}
}

// mirror writes the deadline to the cache. The row stays authoritative, so
// cache failures are logged only.
func (s *Store) mirror(ctx context.Context, k Key, until time.Time, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	if err := s.cache.SetWithTTL(ctx, cacheKey(k), strconv.FormatInt(until.UnixNano(), 10), ttl); err != nil {
		s.log.Warn("pause cache write failed", "conversation", k.String(), "error", err)
	}
}
