package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/zulandar/signalbox/internal/models"
	"golang.org/x/time/rate"
)

// ZaloOpts configures a Zalo OA sender.
type ZaloOpts struct {
	OpenAPIURL string // e.g. https://openapi.zalo.me
	Limits     LimitOpts
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Zalo sends customer-service messages through the Zalo OA Open API.
type Zalo struct {
	endpoint string
	limits   LimitOpts
	limiter  *rate.Limiter
	http     *http.Client
	log      *slog.Logger
}

// NewZalo creates a Zalo sender.
func NewZalo(opts ZaloOpts) (*Zalo, error) {
	if opts.OpenAPIURL == "" {
		return nil, fmt.Errorf("platform: zalo: OpenAPIURL is required")
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Zalo{
		endpoint: strings.TrimRight(opts.OpenAPIURL, "/") + "/v3.0/oa/message/cs",
		limits:   opts.Limits,
		limiter:  newLimiter(opts.Limits),
		http:     opts.HTTPClient,
		log:      opts.Logger,
	}, nil
}

// Platform implements Sender.
func (z *Zalo) Platform() string { return models.PlatformZalo }

type zaloElement struct {
	MediaType string `json:"media_type"`
	URL       string `json:"url"`
}

type zaloAttachment struct {
	Type    string `json:"type"`
	Payload struct {
		TemplateType string        `json:"template_type"`
		Elements     []zaloElement `json:"elements"`
	} `json:"payload"`
}

type zaloMessage struct {
	Text       string          `json:"text,omitempty"`
	Attachment *zaloAttachment `json:"attachment,omitempty"`
}

type zaloSendRequest struct {
	Recipient struct {
		UserID string `json:"user_id"`
	} `json:"recipient"`
	Message zaloMessage `json:"message"`
}

type zaloSendResponse struct {
	Error   int    `json:"error"`
	Message string `json:"message"`
	Data    struct {
		MessageID string `json:"message_id"`
	} `json:"data"`
}

// Send implements Sender. Zalo answers HTTP 200 for most failures; a
// non-zero "error" field in the body is treated as a failure.
func (z *Zalo) Send(ctx context.Context, msg OutboundMessage) (string, error) {
	var req zaloSendRequest
	req.Recipient.UserID = msg.PeerID
	req.Message.Text = msg.Text
	if msg.ImageURL != "" {
		att := &zaloAttachment{Type: "template"}
		att.Payload.TemplateType = "media"
		att.Payload.Elements = []zaloElement{{MediaType: "image", URL: msg.ImageURL}}
		req.Message.Attachment = att
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("platform: zalo: marshal: %w", err)
	}

	ctx, cancel, err := sendWindow(ctx, z.limits.Timeout, z.limiter)
	if err != nil {
		return "", fmt.Errorf("%w: zalo: rate limit: %v", ErrSendFailed, err)
	}
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, z.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("platform: zalo: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("access_token", msg.AccessToken)

	resp, err := z.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: zalo: %v", ErrSendFailed, err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: zalo: status %d", ErrSendFailed, resp.StatusCode)
	}
	var out zaloSendResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("%w: zalo: decode: %v", ErrSendFailed, err)
	}
	if out.Error != 0 {
		return "", fmt.Errorf("%w: zalo: error %d: %s", ErrSendFailed, out.Error, out.Message)
	}
	if out.Data.MessageID == "" {
		return "", fmt.Errorf("%w: zalo: response has no message_id", ErrSendFailed)
	}
	z.log.Debug("zalo send", "oa", msg.AccountID, "peer", msg.PeerID, "message_id", out.Data.MessageID)
	return out.Data.MessageID, nil
}
