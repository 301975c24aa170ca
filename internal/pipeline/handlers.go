package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/zulandar/signalbox/internal/event"
	"github.com/zulandar/signalbox/internal/messaging"
	"github.com/zulandar/signalbox/internal/models"
	"github.com/zulandar/signalbox/internal/outcome"
	"github.com/zulandar/signalbox/internal/pause"
	"github.com/zulandar/signalbox/internal/reply"
	"gorm.io/datatypes"
)

// handleEcho decides whether a message sent from the account was the bot's
// reply or a human operator's. A human reply pauses auto-reply for the
// account's configured TTL.
func (p *Pipeline) handleEcho(ctx context.Context, log *slog.Logger, conv pause.Key, ev event.Event) Result {
	isBot, err := p.tracker.IsBotEcho(ctx, conv, ev.MessageID, ev.Text)
	if err != nil {
		return failed(outcome.Internal, err)
	}
	human := !isBot

	origin := models.OriginBot
	if human {
		origin = models.OriginHuman
	}
	msg := &models.Message{
		OwnerID:     conv.OwnerID,
		Platform:    conv.Platform,
		AccountID:   conv.AccountID,
		PeerID:      conv.PeerID,
		Direction:   models.DirectionOut,
		Origin:      origin,
		Text:        ev.Text,
		Attachments: attachments(ev.ImageURL),
		ExternalID:  optional(ev.MessageID),
		Status:      models.StatusReplied,
		SentAt:      sentAt(ev, p.now()),
	}
	if err := messaging.Record(ctx, p.db, msg); err != nil && !errors.Is(err, messaging.ErrConflict) {
		log.Warn("record echo failed", "message_id", ev.MessageID, "error", err)
	}

	res := Result{OK: true, Echo: true, Human: &human, Outcome: outcome.OK()}
	if !human {
		return res
	}

	cfg, err := p.botConfig(ctx, conv.OwnerID, conv.AccountID)
	if err != nil {
		return failed(outcome.Internal, err)
	}
	ttl := pause.TTLFor(cfg, p.defaultTTL)
	if ttl <= 0 {
		log.Info("human reply, auto-pause disabled")
		return res
	}
	st, err := p.pauses.Pause(ctx, conv, ttl, "human_reply")
	if err != nil {
		return failed(outcome.Internal, err)
	}
	log.Info("human reply, auto-reply paused", "until", st.Until)
	res.Paused = st.Paused
	return res
}

// handleReceipt advances outbound message status. Receipts without message
// ids use the watermark.
func (p *Pipeline) handleReceipt(ctx context.Context, conv pause.Key, ev event.Event) Result {
	status := models.StatusDelivered
	if ev.Kind == event.ReadReceipt {
		status = models.StatusRead
	}

	var (
		n   int64
		err error
	)
	if len(ev.MessageIDs) > 0 {
		n, err = messaging.AdvanceByExternalIDs(ctx, p.db, conv.Platform, ev.MessageIDs, status)
	} else {
		n, err = messaging.AdvanceByWatermark(ctx, p.db, conv.Platform, conv.AccountID, conv.PeerID, ev.Watermark, status)
	}
	if err != nil {
		return failed(outcome.Internal, err)
	}
	return Result{OK: true, Updated: n, Outcome: outcome.OK()}
}

// handleInbound records a customer message and, unless the conversation is
// paused or no bot is configured, replies through the routed chatbot.
func (p *Pipeline) handleInbound(ctx context.Context, log *slog.Logger, accessToken string, conv pause.Key, ev event.Event) Result {
	msg := &models.Message{
		OwnerID:     conv.OwnerID,
		Platform:    conv.Platform,
		AccountID:   conv.AccountID,
		PeerID:      conv.PeerID,
		Direction:   models.DirectionIn,
		Origin:      models.OriginCustomer,
		Text:        ev.Text,
		Attachments: attachments(ev.ImageURL),
		ExternalID:  optional(ev.MessageID),
		Status:      models.StatusReceived,
		SentAt:      sentAt(ev, p.now()),
	}
	if err := messaging.Record(ctx, p.db, msg); err != nil {
		if errors.Is(err, messaging.ErrConflict) {
			return Result{OK: true, Deduped: true, Outcome: outcome.Failed(outcome.PersistenceConflict, err)}
		}
		return failed(outcome.Internal, err)
	}

	st, err := p.pauses.State(ctx, conv)
	if err != nil {
		return failed(outcome.Internal, err)
	}
	if st.Paused {
		log.Info("conversation paused, not forwarding", "until", st.Until)
		return Result{OK: true, Paused: true, Outcome: outcome.Skipped("paused")}
	}

	enabled, err := p.channelEnabled(ctx, conv.OwnerID, conv.Platform)
	if err != nil {
		return failed(outcome.Internal, err)
	}
	cfg, err := p.botConfig(ctx, conv.OwnerID, conv.AccountID)
	if err != nil {
		return failed(outcome.Internal, err)
	}
	bot, reason := reply.Route(enabled, cfg)
	if bot == "" {
		return skipped(reason)
	}

	out := p.dispatcher.Dispatch(ctx, reply.Request{
		Conversation: conv,
		AccessToken:  accessToken,
		Bot:          bot,
		Text:         ev.Text,
		ImageURL:     ev.ImageURL,
	})
	if !out.Outcome.IsOK() {
		if _, err := messaging.Advance(ctx, p.db, msg.ID, models.StatusError); err != nil {
			log.Warn("mark inbound error failed", "error", err)
		}
		return Result{OK: true, Error: string(out.Outcome.Kind), Outcome: out.Outcome}
	}
	if _, err := messaging.Advance(ctx, p.db, msg.ID, models.StatusReplied); err != nil {
		log.Warn("mark inbound replied failed", "error", err)
	}
	return Result{OK: true, Replied: true, Outcome: outcome.OK()}
}

func attachments(imageURL string) datatypes.JSON {
	if imageURL == "" {
		return nil
	}
	b, err := json.Marshal([]string{imageURL})
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func sentAt(ev event.Event, now time.Time) time.Time {
	if !ev.Timestamp.IsZero() {
		return ev.Timestamp
	}
	return now.UTC()
}
