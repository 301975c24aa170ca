package reply

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/zulandar/signalbox/internal/chatbot"
	"github.com/zulandar/signalbox/internal/messaging"
	"github.com/zulandar/signalbox/internal/models"
	"github.com/zulandar/signalbox/internal/outcome"
	"github.com/zulandar/signalbox/internal/pause"
	"github.com/zulandar/signalbox/internal/platform"
	"gorm.io/gorm"
)

// KeyResolver returns the decrypted chatbot API key of an owner.
type KeyResolver interface {
	APIKey(ctx context.Context, ownerID uint, bot string) (string, error)
}

// Replier produces a chatbot answer.
type Replier interface {
	Reply(ctx context.Context, req chatbot.Request) (string, error)
}

// Request is a customer message to answer.
type Request struct {
	Conversation pause.Key
	AccessToken  string
	Bot          chatbot.Bot
	Text         string
	ImageURL     string
}

// Result is the outcome of a dispatch. Reply and MessageID are set when the
// reply was sent.
type Result struct {
	Outcome   outcome.Outcome
	Reply     string
	MessageID string
}

// DispatcherOpts holds the dependencies of a Dispatcher.
type DispatcherOpts struct {
	DB      *gorm.DB
	Keys    KeyResolver
	Chatbot Replier
	Senders []platform.Sender
	Tracker *pause.Tracker
	Logger  *slog.Logger
	Now     func() time.Time
}

// Dispatcher asks a chatbot for a reply and sends it to the customer.
type Dispatcher struct {
	db      *gorm.DB
	keys    KeyResolver
	chatbot Replier
	senders map[string]platform.Sender
	tracker *pause.Tracker
	log     *slog.Logger
	now     func() time.Time
}

// NewDispatcher creates a Dispatcher. All dependencies except Logger and
// Now are required.
func NewDispatcher(opts DispatcherOpts) (*Dispatcher, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("reply: DB is required")
	}
	if opts.Keys == nil {
		return nil, fmt.Errorf("reply: key resolver is required")
	}
	if opts.Chatbot == nil {
		return nil, fmt.Errorf("reply: chatbot is required")
	}
	if opts.Tracker == nil {
		return nil, fmt.Errorf("reply: tracker is required")
	}
	if len(opts.Senders) == 0 {
		return nil, fmt.Errorf("reply: at least one sender is required")
	}
	senders := make(map[string]platform.Sender, len(opts.Senders))
	for _, s := range opts.Senders {
		senders[s.Platform()] = s
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Dispatcher{
		db:      opts.DB,
		keys:    opts.Keys,
		chatbot: opts.Chatbot,
		senders: senders,
		tracker: opts.Tracker,
		log:     opts.Logger,
		now:     opts.Now,
	}, nil
}

// Dispatch answers one customer message. Every failure is logged and
// reported in the Result; nothing is retried.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) Result {
	conv := req.Conversation
	log := d.log.With("platform", conv.Platform, "account", conv.AccountID, "peer", conv.PeerID, "bot", req.Bot)

	sender, ok := d.senders[conv.Platform]
	if !ok {
		err := fmt.Errorf("reply: no sender for platform %q", conv.Platform)
		log.Error("dispatch failed", "error", err)
		return Result{Outcome: outcome.Failed(outcome.Internal, err)}
	}

	apiKey, err := d.keys.APIKey(ctx, conv.OwnerID, string(req.Bot))
	if err != nil {
		log.Warn("chatbot api key unavailable", "owner", conv.OwnerID, "error", err)
		return Result{Outcome: outcome.Failed(outcome.DownstreamUnavailable, err)}
	}

	text, err := d.chatbot.Reply(ctx, chatbot.Request{
		Bot:      req.Bot,
		APIKey:   apiKey,
		ThreadID: conv.PeerID,
		Text:     req.Text,
		ImageURL: req.ImageURL,
	})
	if err != nil {
		log.Warn("chatbot reply failed", "error", err)
		return Result{Outcome: outcome.Failed(outcome.DownstreamUnavailable, err)}
	}

	// The echo can arrive before Send returns, so the text is marked first.
	if err := d.tracker.MarkText(ctx, conv, text); err != nil {
		log.Warn("pre-mark bot reply failed", "error", err)
	}

	mid, err := sender.Send(ctx, platform.OutboundMessage{
		AccountID:   conv.AccountID,
		AccessToken: req.AccessToken,
		PeerID:      conv.PeerID,
		Text:        text,
	})
	if err != nil {
		log.Warn("platform send failed", "error", err)
		return Result{Outcome: outcome.Failed(outcome.DownstreamUnavailable, err), Reply: text}
	}

	if err := d.tracker.MarkID(ctx, conv, mid); err != nil {
		log.Warn("mark bot reply id failed", "message_id", mid, "error", err)
	}

	msg := &models.Message{
		OwnerID:    conv.OwnerID,
		Platform:   conv.Platform,
		AccountID:  conv.AccountID,
		PeerID:     conv.PeerID,
		Direction:  models.DirectionOut,
		Origin:     models.OriginBot,
		Text:       text,
		ExternalID: &mid,
		Status:     models.StatusReplied,
		SentAt:     d.now().UTC(),
	}
	if err := messaging.Record(ctx, d.db, msg); err != nil && !errors.Is(err, messaging.ErrConflict) {
		// The reply went out; only the local record is missing.
		log.Error("record bot reply failed", "message_id", mid, "error", err)
	}

	log.Info("bot reply sent", "message_id", mid)
	return Result{Outcome: outcome.OK(), Reply: text, MessageID: mid}
}
