package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/zulandar/signalbox/internal/models"
	"golang.org/x/time/rate"
)

// MessengerOpts configures a Messenger sender.
type MessengerOpts struct {
	GraphURL   string // e.g. https://graph.facebook.com
	APIVersion string // e.g. v21.0
	Limits     LimitOpts
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Messenger sends replies through the Graph API Send endpoint.
type Messenger struct {
	endpoint string
	limits   LimitOpts
	limiter  *rate.Limiter
	http     *http.Client
	log      *slog.Logger
}

// NewMessenger creates a Messenger sender.
func NewMessenger(opts MessengerOpts) (*Messenger, error) {
	if opts.GraphURL == "" {
		return nil, fmt.Errorf("platform: messenger: GraphURL is required")
	}
	if opts.APIVersion == "" {
		return nil, fmt.Errorf("platform: messenger: APIVersion is required")
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Messenger{
		endpoint: strings.TrimRight(opts.GraphURL, "/") + "/" + opts.APIVersion + "/me/messages",
		limits:   opts.Limits,
		limiter:  newLimiter(opts.Limits),
		http:     opts.HTTPClient,
		log:      opts.Logger,
	}, nil
}

// Platform implements Sender.
func (m *Messenger) Platform() string { return models.PlatformMessenger }

type messengerAttachment struct {
	Type    string `json:"type"`
	Payload struct {
		URL        string `json:"url"`
		IsReusable bool   `json:"is_reusable"`
	} `json:"payload"`
}

type messengerMessage struct {
	Text       string               `json:"text,omitempty"`
	Attachment *messengerAttachment `json:"attachment,omitempty"`
}

type messengerSendRequest struct {
	Recipient struct {
		ID string `json:"id"`
	} `json:"recipient"`
	MessagingType string           `json:"messaging_type"`
	Message       messengerMessage `json:"message"`
}

type messengerSendResponse struct {
	RecipientID string `json:"recipient_id"`
	MessageID   string `json:"message_id"`
	Error       *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// Send implements Sender. A message with an image and no text is sent as an
// image attachment.
func (m *Messenger) Send(ctx context.Context, msg OutboundMessage) (string, error) {
	var req messengerSendRequest
	req.Recipient.ID = msg.PeerID
	req.MessagingType = "RESPONSE"
	if msg.Text == "" && msg.ImageURL != "" {
		att := &messengerAttachment{Type: "image"}
		att.Payload.URL = msg.ImageURL
		req.Message.Attachment = att
	} else {
		req.Message.Text = msg.Text
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("platform: messenger: marshal: %w", err)
	}

	ctx, cancel, err := sendWindow(ctx, m.limits.Timeout, m.limiter)
	if err != nil {
		return "", fmt.Errorf("%w: messenger: rate limit: %v", ErrSendFailed, err)
	}
	defer cancel()

	u := m.endpoint + "?access_token=" + url.QueryEscape(msg.AccessToken)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("platform: messenger: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := m.http.Do(httpReq)
	if err != nil {
		// The URL carries the page token; keep it out of the error.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return "", fmt.Errorf("%w: messenger: %v", ErrSendFailed, err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	var out messengerSendResponse
	_ = json.Unmarshal(data, &out)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if out.Error != nil {
			return "", fmt.Errorf("%w: messenger: status %d: code %d: %s", ErrSendFailed, resp.StatusCode, out.Error.Code, out.Error.Message)
		}
		return "", fmt.Errorf("%w: messenger: status %d", ErrSendFailed, resp.StatusCode)
	}
	if out.MessageID == "" {
		return "", fmt.Errorf("%w: messenger: response has no message_id", ErrSendFailed)
	}
	m.log.Debug("messenger send", "page", msg.AccountID, "peer", msg.PeerID, "message_id", out.MessageID)
	return out.MessageID, nil
}
