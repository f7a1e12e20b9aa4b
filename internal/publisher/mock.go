package publisher

import (
	"context"
	"sync"
)

// Message records a single published message.
type Message struct {
	Topic    string
	Payload  []byte
	Retained bool
}

// MockPublisher records all publishes for test assertions.
type MockPublisher struct {
	mu       sync.Mutex
	messages []Message
	closed   bool
	err      error // if set, Publish returns this error
	notify   chan struct{}
}

// NewMockPublisher creates a new MockPublisher.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{notify: make(chan struct{}, 1)}
}

func (m *MockPublisher) Publish(_ context.Context, topic string, payload []byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	p := make([]byte, len(payload))
	copy(p, payload)
	m.messages = append(m.messages, Message{Topic: topic, Payload: p, Retained: retained})
	select {
	case m.notify <- struct{}{}:
	default:
	}
	return nil
}

func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Messages returns a copy of all published messages.
func (m *MockPublisher) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := make([]Message, len(m.messages))
	copy(msgs, m.messages)
	return msgs
}

// OnTopic returns the recorded messages published to topic.
func (m *MockPublisher) OnTopic(topic string) []Message {
	var out []Message
	for _, msg := range m.Messages() {
		if msg.Topic == topic {
			out = append(out, msg)
		}
	}
	return out
}

// Published is signalled after each successful publish. Signals coalesce.
func (m *MockPublisher) Published() <-chan struct{} {
	return m.notify
}

// Reset clears all recorded messages.
func (m *MockPublisher) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = nil
}

// Closed returns whether Close was called.
func (m *MockPublisher) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// SetError causes all subsequent Publish calls to return err.
// Pass nil to clear.
func (m *MockPublisher) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}
