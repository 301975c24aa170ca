// Package chatbot calls the downstream AI chatbots that generate replies.
package chatbot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Bot names a downstream chatbot integration.
type Bot string

const (
	Mobile Bot = "mobile"
	Custom Bot = "custom"
)

// DefaultTimeout bounds a single chatbot call.
const DefaultTimeout = 25 * time.Second

// maxResponseBytes caps how much of a chatbot response is read.
const maxResponseBytes = 1 << 20

// ErrUnavailable wraps every failure to obtain a usable reply: transport
// errors, timeouts, non-2xx responses and empty or malformed bodies.
var ErrUnavailable = errors.New("chatbot: unavailable")

// Request is one customer turn sent to a chatbot.
type Request struct {
	Bot      Bot
	APIKey   string
	ThreadID string // the customer's peer id, so the bot keeps per-customer context
	Text     string
	ImageURL string
}

// ClientOpts configures a Client.
type ClientOpts struct {
	Endpoints  map[Bot]string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client calls the chatbot HTTP APIs.
type Client struct {
	endpoints map[Bot]string
	timeout   time.Duration
	http      *http.Client
	log       *slog.Logger
}

// NewClient creates a Client. At least one endpoint is required.
func NewClient(opts ClientOpts) (*Client, error) {
	endpoints := make(map[Bot]string)
	for bot, u := range opts.Endpoints {
		if u = strings.TrimSpace(u); u != "" {
			endpoints[bot] = u
		}
	}
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("chatbot: at least one endpoint is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Client{endpoints: endpoints, timeout: opts.Timeout, http: opts.HTTPClient, log: opts.Logger}, nil
}

// mobileRequest is the body accepted by the mobile chatbot.
type mobileRequest struct {
	Query    string `json:"query"`
	ThreadID string `json:"thread_id"`
	APIKey   string `json:"api_key"`
	ImageURL string `json:"image_url,omitempty"`
}

// customRequest is the body accepted by the custom chatbot.
type customRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
	APIKey    string `json:"api_key"`
	ImageURL  string `json:"image_url,omitempty"`
}

type replyResponse struct {
	Reply    string `json:"reply"`
	Response string `json:"response"`
	Answer   string `json:"answer"`
}

// Reply sends the request to its bot and returns the reply text.
func (c *Client) Reply(ctx context.Context, req Request) (string, error) {
	endpoint, ok := c.endpoints[req.Bot]
	if !ok {
		return "", fmt.Errorf("chatbot: no endpoint for bot %q", req.Bot)
	}

	var payload any
	switch req.Bot {
	case Mobile:
		payload = mobileRequest{Query: req.Text, ThreadID: req.ThreadID, APIKey: req.APIKey, ImageURL: req.ImageURL}
	default:
		payload = customRequest{Message: req.Text, SessionID: req.ThreadID, APIKey: req.APIKey, ImageURL: req.ImageURL}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("chatbot: marshal: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("chatbot: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.APIKey)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrUnavailable, req.Bot, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("%w: %s: read body: %v", ErrUnavailable, req.Bot, err)
	}
	c.log.Debug("chatbot call", "bot", req.Bot, "status", resp.StatusCode, "latency", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: %s returned status %d", ErrUnavailable, req.Bot, resp.StatusCode)
	}

	var out replyResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("%w: %s: decode: %v", ErrUnavailable, req.Bot, err)
	}
	text := firstNonEmpty(out.Reply, out.Response, out.Answer)
	if text == "" {
		return "", fmt.Errorf("%w: %s returned an empty reply", ErrUnavailable, req.Bot)
	}
	return text, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
