package platform

import (
	"context"
	"fmt"
	"sync"
)

// MockSender implements Sender for testing. It records every message and
// returns sequential message ids.
type MockSender struct {
	mu       sync.Mutex
	platform string
	sent     []OutboundMessage
	counter  int
	err      error
	before   func(msg OutboundMessage)
}

// NewMockSender creates a MockSender for the named platform.
func NewMockSender(platform string) *MockSender {
	return &MockSender{platform: platform}
}

// Platform implements Sender.
func (m *MockSender) Platform() string { return m.platform }

// Send records msg and returns "<platform>-mid-<n>", or the configured error.
func (m *MockSender) Send(ctx context.Context, msg OutboundMessage) (string, error) {
	m.mu.Lock()
	before := m.before
	m.mu.Unlock()
	// Runs unlocked so the hook may deliver a webhook that re-enters the
	// pipeline while the send is in flight.
	if before != nil {
		before(msg)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.counter++
	m.sent = append(m.sent, msg)
	return fmt.Sprintf("%s-mid-%d", m.platform, m.counter), nil
}

// --- Test helpers ---

// SetError makes subsequent sends fail with err. nil restores success.
func (m *MockSender) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// OnSend registers a hook called with each message before it is recorded.
func (m *MockSender) OnSend(fn func(msg OutboundMessage)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.before = fn
}

// Sent returns a copy of all recorded messages.
func (m *MockSender) Sent() []OutboundMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]OutboundMessage, len(m.sent))
	copy(out, m.sent)
	return out
}

// SentCount returns the number of recorded messages.
func (m *MockSender) SentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// Reset clears recorded messages.
func (m *MockSender) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = nil
}
