package messaging

import (
	"context"
	"fmt"
	"sync"

	"github.com/zapflow/zapflow/internal/models"
)

// MockService implements Service for tests. Sends are recorded, and inbound
// events can be injected through EmitResponse and EmitDisconnect.
type MockService struct {
	mu          sync.Mutex
	sent        []MockSentMessage
	failSends   bool
	receipts    chan models.Receipt
	responses   chan models.Response
	disconnects chan struct{}
}

// MockSentMessage is one message recorded by MockService.
type MockSentMessage struct {
	To   string
	Body string
}

// NewMockService creates a MockService.
func NewMockService() *MockService {
	return &MockService{
		receipts:    make(chan models.Receipt, DefaultChannelBufferSize),
		responses:   make(chan models.Response, DefaultChannelBufferSize),
		disconnects: make(chan struct{}, 1),
	}
}

// FailSends makes every subsequent SendMessage return an error.
func (m *MockService) FailSends(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failSends = fail
}

// SentMessages returns a copy of all recorded sends.
func (m *MockService) SentMessages() []MockSentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockSentMessage, len(m.sent))
	copy(out, m.sent)
	return out
}

// EmitResponse injects an inbound message event.
func (m *MockService) EmitResponse(r models.Response) {
	m.responses <- r
}

// EmitDisconnect injects a transport disconnect event.
func (m *MockService) EmitDisconnect() {
	m.disconnects <- struct{}{}
}

// ValidateAndCanonicalizeRecipient accepts any non-empty recipient.
func (m *MockService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}
	return recipient, nil
}

// SendMessage records the message.
func (m *MockService) SendMessage(ctx context.Context, to string, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, MockSentMessage{To: to, Body: body})
	if m.failSends {
		return fmt.Errorf("mock send failure to %s", to)
	}
	return nil
}

// Start is a no-op.
func (m *MockService) Start(ctx context.Context) error {
	return nil
}

// Stop closes all event channels.
func (m *MockService) Stop() error {
	close(m.receipts)
	close(m.responses)
	close(m.disconnects)
	return nil
}

// Receipts returns the receipts channel.
func (m *MockService) Receipts() <-chan models.Receipt {
	return m.receipts
}

// Responses returns the responses channel.
func (m *MockService) Responses() <-chan models.Response {
	return m.responses
}

// Disconnects returns the disconnects channel.
func (m *MockService) Disconnects() <-chan struct{} {
	return m.disconnects
}
