// Package signature authenticates webhook deliveries from Messenger and
// Zalo OA before any other processing happens.
package signature

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Header names.
const (
	MessengerHeader = "X-Hub-Signature-256"
	ZaloHeader      = "X-ZEvent-Signature"
)

// zaloTimestampHeaders are consulted, in order, when the payload carries no
// timestamp.
var zaloTimestampHeaders = []string{"X-ZEvent-Timestamp", "X-Zalo-Timestamp", "X-Timestamp"}

// ErrInvalid is wrapped by every verification failure.
var ErrInvalid = errors.New("signature: invalid")

var (
	ErrMissingSignature   = fmt.Errorf("%w: missing signature header", ErrInvalid)
	ErrMalformedSignature = fmt.Errorf("%w: malformed signature header", ErrInvalid)
	ErrSignatureMismatch  = fmt.Errorf("%w: signature mismatch", ErrInvalid)
	ErrMissingTimestamp   = fmt.Errorf("%w: missing timestamp", ErrInvalid)
)

// VerifyMessenger checks a Meta "sha256=<hex>" header against
// HMAC-SHA256(body, appSecret). An empty appSecret skips verification.
func VerifyMessenger(body []byte, header, appSecret string) error {
	if appSecret == "" {
		return nil
	}
	header = strings.TrimSpace(header)
	if header == "" {
		return ErrMissingSignature
	}
	hexSig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return ErrMalformedSignature
	}
	provided, err := hex.DecodeString(hexSig)
	if err != nil {
		return ErrMalformedSignature
	}

	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	if !hmac.Equal(provided, mac.Sum(nil)) {
		return ErrSignatureMismatch
	}
	return nil
}

// ZaloInput carries everything needed to verify a Zalo OA delivery.
type ZaloInput struct {
	Body      []byte
	Signature string      // X-ZEvent-Signature value, "mac=<hex>" or bare hex
	Headers   http.Header // consulted for a timestamp fallback
	AppID     string      // configured app id; the payload's app_id is used when empty
	SecretKey string
}

// VerifyZalo checks hex(SHA256(app_id + body + timestamp + secret)) against
// the signature header. The raw body is tried first, then its minified JSON
// form, so whitespace changes made by intermediaries do not fail the check.
// An empty SecretKey skips verification.
func VerifyZalo(in ZaloInput) error {
	if in.SecretKey == "" {
		return nil
	}
	sig := strings.TrimSpace(in.Signature)
	if sig == "" {
		return ErrMissingSignature
	}
	if rest, ok := strings.CutPrefix(sig, "mac="); ok {
		sig = strings.TrimSpace(rest)
	}
	sig = strings.ToLower(sig)
	if _, err := hex.DecodeString(sig); err != nil || sig == "" {
		return ErrMalformedSignature
	}

	fields := zaloFields(in.Body)
	ts := fields.timestamp
	if ts == "" {
		ts = headerTimestamp(in.Headers)
	}
	if ts == "" {
		return ErrMissingTimestamp
	}
	appID := in.AppID
	if appID == "" {
		appID = fields.appID
	}

	for _, body := range zaloBodyCandidates(in.Body) {
		expected := ZaloMAC(appID, body, ts, in.SecretKey)
		if subtle.ConstantTimeCompare([]byte(expected), []byte(sig)) == 1 {
			return nil
		}
	}
	return ErrSignatureMismatch
}

// ZaloMAC computes the hex digest Zalo places in X-ZEvent-Signature.
func ZaloMAC(appID string, body []byte, timestamp, secret string) string {
	h := sha256.New()
	h.Write([]byte(appID))
	h.Write(body)
	h.Write([]byte(timestamp))
	h.Write([]byte(secret))
	return hex.EncodeToString(h.Sum(nil))
}

type zaloSignedFields struct {
	appID     string
	timestamp string
}

// zaloFields pulls app_id and timestamp out of the payload. Either may be a
// JSON string or number.
func zaloFields(body []byte) zaloSignedFields {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return zaloSignedFields{}
	}
	return zaloSignedFields{
		appID:     scalarString(raw["app_id"]),
		timestamp: scalarString(raw["timestamp"]),
	}
}

func scalarString(v json.RawMessage) string {
	if len(v) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(v, &n); err == nil {
		return n.String()
	}
	return ""
}

func headerTimestamp(h http.Header) string {
	for _, name := range zaloTimestampHeaders {
		if v := strings.TrimSpace(h.Get(name)); v != "" {
			return v
		}
	}
	return ""
}

// zaloBodyCandidates returns the raw body and, when it differs, its
// minified JSON encoding.
func zaloBodyCandidates(body []byte) [][]byte {
	out := [][]byte{body}
	var buf bytes.Buffer
	if err := json.Compact(&buf, body); err == nil && !bytes.Equal(buf.Bytes(), body) {
		out = append(out, buf.Bytes())
	}
	return out
}
