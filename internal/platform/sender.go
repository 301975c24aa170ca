// Package platform sends replies through the Messenger and Zalo OA send
// APIs.
package platform

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"
)

// DefaultSendTimeout bounds a single send call, including time spent
// waiting for the rate limiter.
const DefaultSendTimeout = 10 * time.Second

// ErrSendFailed wraps every send failure reported by a platform API.
var ErrSendFailed = errors.New("platform: send failed")

// Sender delivers an outbound message on one platform.
type Sender interface {
	// Platform returns the platform name, e.g. "messenger" or "zalo".
	Platform() string

	// Send delivers msg and returns the platform message id of the sent
	// message. Implementations do not retry.
	Send(ctx context.Context, msg OutboundMessage) (string, error)
}

// OutboundMessage is a reply to a customer.
type OutboundMessage struct {
	AccountID   string // Page id or OA id sending the message
	AccessToken string // page or OA access token
	PeerID      string // recipient customer id
	Text        string
	ImageURL    string // optional image attachment
}

// LimitOpts configures outbound pacing and timeouts shared by the senders.
type LimitOpts struct {
	Timeout time.Duration
	Rate    float64 // sends per second; 0 means unlimited
	Burst   int
}

func newLimiter(opts LimitOpts) *rate.Limiter {
	if opts.Rate <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(opts.Rate), burst)
}

// sendWindow derives the per-send context and waits for a limiter token
// inside it.
func sendWindow(ctx context.Context, timeout time.Duration, lim *rate.Limiter) (context.Context, context.CancelFunc, error) {
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	if err := lim.Wait(ctx); err != nil {
		cancel()
		return nil, nil, err
	}
	return ctx, cancel, nil
}
