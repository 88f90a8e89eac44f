package telegraph

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type mockState int

const (
	mockIdle mockState = iota
	mockConnected
	mockClosed
)

// MockAdapter is an in-memory Adapter for bridge tests. Outbound messages
// are recorded; inbound ones are injected with SimulateInbound.
type MockAdapter struct {
	mu         sync.Mutex
	state      mockState
	botUserID  string
	connectErr error
	sendErr    error
	sent       []OutboundMessage
	inbound    chan InboundMessage
}

// NewMockAdapter returns an idle MockAdapter.
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{inbound: make(chan InboundMessage, 100)}
}

func (m *MockAdapter) BotUserID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.botUserID
}

func (m *MockAdapter) SetBotUserID(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.botUserID = id
}

// SetConnectError makes the next Connect fail with err.
func (m *MockAdapter) SetConnectError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectErr = err
}

// SetSendError makes every later Send fail with err.
func (m *MockAdapter) SetSendError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErr = err
}

func (m *MockAdapter) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case m.state == mockClosed:
		return fmt.Errorf("mock adapter: already closed")
	case m.connectErr != nil:
		err := m.connectErr
		m.connectErr = nil
		return err
	}
	m.state = mockConnected
	return nil
}

func (m *MockAdapter) Listen(ctx context.Context) (<-chan InboundMessage, error) {
	if err := m.requireConnected(); err != nil {
		return nil, err
	}
	return m.inbound, nil
}

func (m *MockAdapter) Send(ctx context.Context, msg OutboundMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != mockConnected {
		return fmt.Errorf("mock adapter: not connected")
	}
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, msg)
	return nil
}

// Close closes the inbound stream. Safe to call more than once.
func (m *MockAdapter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != mockClosed {
		m.state = mockClosed
		close(m.inbound)
	}
	return nil
}

func (m *MockAdapter) requireConnected() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != mockConnected {
		return fmt.Errorf("mock adapter: not connected")
	}
	return nil
}

// SimulateInbound queues msg as if the platform delivered it, stamping the
// current time when msg has none.
func (m *MockAdapter) SimulateInbound(msg InboundMessage) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	m.inbound <- msg
}

func (m *MockAdapter) SentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// AllSent returns a copy of the recorded outbound messages.
func (m *MockAdapter) AllSent() []OutboundMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]OutboundMessage(nil), m.sent...)
}
