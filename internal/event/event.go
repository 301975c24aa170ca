// Package event turns raw webhook bodies into typed events. Everything past
// this package switches on Kind; no caller sees the platform's JSON.
package event

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind is the closed set of event variants the pipeline understands.
type Kind string

const (
	EchoMessage     Kind = "echo_message"
	DeliveryReceipt Kind = "delivery_receipt"
	ReadReceipt     Kind = "read_receipt"
	InboundText     Kind = "inbound_text"
	InboundImage    Kind = "inbound_image"
	Unhandled       Kind = "unhandled"
)

// IsInbound reports whether the kind is a customer message.
func (k Kind) IsInbound() bool {
	return k == InboundText || k == InboundImage
}

// Event is one platform event. AccountID is the Page or OA the event belongs
// to and PeerID is the customer on the other end, for every kind including
// echoes.
type Event struct {
	Platform   string
	Kind       Kind
	EventID    string // platform-level event id, when the platform sends one
	MessageID  string
	AccountID  string
	PeerID     string
	Text       string
	ImageURL   string
	MessageIDs []string  // delivery/read receipts
	Watermark  time.Time // messenger delivery/read receipts
	Timestamp  time.Time
	Raw        json.RawMessage
}

// obj is a decoded JSON object with lenient accessors.
type obj map[string]any

func asObj(v any) obj {
	m, _ := v.(map[string]any)
	return obj(m)
}

func (o obj) sub(key string) obj {
	if o == nil {
		return nil
	}
	return asObj(o[key])
}

func (o obj) list(key string) []any {
	if o == nil {
		return nil
	}
	l, _ := o[key].([]any)
	return l
}

func (o obj) bool(key string) bool {
	if o == nil {
		return false
	}
	b, _ := o[key].(bool)
	return b
}

// str returns the first key holding a non-empty string or number.
func (o obj) str(keys ...string) string {
	if o == nil {
		return ""
	}
	for _, k := range keys {
		if s := scalar(o[k]); s != "" {
			return s
		}
	}
	return ""
}

func scalar(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

// millis converts a millisecond epoch held as string or number.
func millis(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(n).UTC()
}

func decode(body []byte) (obj, error) {
	dec := json.NewDecoder(strings.NewReader(string(body)))
	dec.UseNumber()
	var root map[string]any
	if err := dec.Decode(&root); err != nil {
		return nil, fmt.Errorf("event: decode: %w", err)
	}
	if root == nil {
		return nil, fmt.Errorf("event: decode: payload is not an object")
	}
	return obj(root), nil
}

func raw(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

// messageID reads the first id-like field of a message object.
func messageID(m obj) string {
	return m.str("mid", "msg_id", "message_id", "id")
}

func messageText(m obj) string {
	return m.str("text", "content", "body")
}

// firstImage returns the first image url found in a message's attachments,
// falling back to a top-level image field.
func firstImage(m obj) string {
	for _, a := range m.list("attachments") {
		att := asObj(a)
		if u := att.sub("payload").str("url", "thumbnail"); u != "" {
			return u
		}
		if u := att.str("url", "thumbnail", "image_url"); u != "" {
			return u
		}
	}
	return m.str("image_url", "url")
}
