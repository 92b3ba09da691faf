// Package messaging provides the pluggable message transport used by the
// conversation engine and the control channel, plus the dispatcher that
// feeds transport events into the engine.
package messaging

import (
	"context"
	"errors"
	"time"

	"github.com/zapflow/zapflow/internal/models"
)

// Constants for messaging service configuration
const (
	// DefaultChannelBufferSize defines the default buffer size for receipt, response, and disconnect channels
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout defines the default timeout for non-blocking channel operations
	DefaultChannelTimeout = 1 * time.Second
)

// ErrServiceStopped is returned when a send is attempted on a stopped service.
var ErrServiceStopped = errors.New("messaging service stopped")

// Service defines a pluggable message delivery abstraction.
// It supports sending messages, and provides channels for receipt, response,
// and disconnect events.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a recipient identifier.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// Start begins any background processing (e.g., event polling).
	Start(ctx context.Context) error

	// Stop stops background processing and cleans up resources.
	Stop() error

	// Receipts returns a channel of receipt events (sent, delivered, read).
	Receipts() <-chan models.Receipt

	// Responses returns a channel of incoming participant responses.
	Responses() <-chan models.Response

	// Disconnects returns a channel that receives an event when the
	// transport loses its connection. Consumers treat this as a global
	// reset signal.
	Disconnects() <-chan struct{}
}
