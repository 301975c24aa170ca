package pause

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/zulandar/signalbox/internal/ttlcache"
)

// DefaultBotSentTTL is how long a bot reply is remembered for echo matching.
const DefaultBotSentTTL = 5 * time.Minute

// Tracker remembers messages the bot sent so that their echoes can be told
// apart from a human operator's reply. Text is marked before the send call
// and the returned message id after it, so an echo that arrives before the
// send call returns still matches by text.
type Tracker struct {
	cache ttlcache.Cache
	ttl   time.Duration
}

// NewTracker creates a Tracker. ttl defaults to DefaultBotSentTTL.
func NewTracker(cache ttlcache.Cache, ttl time.Duration) *Tracker {
	if ttl <= 0 {
		ttl = DefaultBotSentTTL
	}
	return &Tracker{cache: cache, ttl: ttl}
}

func idKey(k Key, id string) string {
	return "botsent:id:" + k.String() + ":" + id
}

func textKey(k Key, text string) string {
	sum := sha256.Sum256([]byte(Normalize(text)))
	return "botsent:text:" + k.String() + ":" + hex.EncodeToString(sum[:])
}

// MarkText records text the bot is about to send on the conversation.
func (t *Tracker) MarkText(ctx context.Context, k Key, text string) error {
	if Normalize(text) == "" {
		return nil
	}
	if err := t.cache.SetWithTTL(ctx, textKey(k, text), "1", t.ttl); err != nil {
		return fmt.Errorf("pause: mark text: %w", err)
	}
	return nil
}

// MarkID records the platform message id of a bot reply.
func (t *Tracker) MarkID(ctx context.Context, k Key, id string) error {
	if id == "" {
		return nil
	}
	if err := t.cache.SetWithTTL(ctx, idKey(k, id), "1", t.ttl); err != nil {
		return fmt.Errorf("pause: mark id: %w", err)
	}
	return nil
}

// IsBotEcho reports whether an echo with the given message id and text was
// sent by the bot. The id is checked first, then the normalized text.
func (t *Tracker) IsBotEcho(ctx context.Context, k Key, id, text string) (bool, error) {
	if id != "" {
		ok, err := t.cache.Exists(ctx, idKey(k, id))
		if err != nil {
			return false, fmt.Errorf("pause: check id: %w", err)
		}
		if ok {
			return true, nil
		}
	}
	if Normalize(text) == "" {
		return false, nil
	}
	ok, err := t.cache.Exists(ctx, textKey(k, text))
	if err != nil {
		return false, fmt.Errorf("pause: check text: %w", err)
	}
	return ok, nil
}
