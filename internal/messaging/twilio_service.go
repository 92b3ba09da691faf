package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	"github.com/zapflow/zapflow/internal/models"
)

// phoneNumberRegex strips everything that is not a digit.
var phoneNumberRegex = regexp.MustCompile(`[^0-9]`)

// TwilioOpts holds configuration options for the Twilio-backed service.
type TwilioOpts struct {
	AccountSID string
	AuthToken  string
	FromWhats  string // WhatsApp number in "whatsapp:+1234567890" format
}

// TwilioOption defines a configuration option for the Twilio-backed service.
type TwilioOption func(*TwilioOpts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) TwilioOption {
	return func(o *TwilioOpts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) TwilioOption {
	return func(o *TwilioOpts) { o.AuthToken = token }
}

// WithFromWhats sets the sending WhatsApp number.
func WithFromWhats(from string) TwilioOption {
	return func(o *TwilioOpts) { o.FromWhats = from }
}

// TwilioService implements Service using the Twilio WhatsApp API. It is the
// send-only alternate backend: Twilio delivers inbound traffic via webhooks
// this daemon does not expose, so the response and disconnect channels stay
// silent and the flow engine never advances conversations on this backend.
type TwilioService struct {
	client      *twilio.RestClient
	fromWhats   string
	receipts    chan models.Receipt
	responses   chan models.Response
	disconnects chan struct{}
	mu          sync.RWMutex
	stopped     bool
}

// NewTwilioService creates a TwilioService, falling back to the TWILIO_*
// environment variables for any credential not provided via options.
func NewTwilioService(opts ...TwilioOption) (*TwilioService, error) {
	var cfg TwilioOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.FromWhats == "" {
		cfg.FromWhats = os.Getenv("TWILIO_FROM_NUMBER")
	}
	slog.Debug("Twilio service config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"FromWhats_set", cfg.FromWhats != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.FromWhats == "" {
		return nil, fmt.Errorf("fromWhats number must be provided")
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})

	return &TwilioService{
		client:      client,
		fromWhats:   cfg.FromWhats,
		receipts:    make(chan models.Receipt, DefaultChannelBufferSize),
		responses:   make(chan models.Response, DefaultChannelBufferSize),
		disconnects: make(chan struct{}, 1),
	}, nil
}

// ValidateAndCanonicalizeRecipient validates and canonicalizes a WhatsApp phone number.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}
	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(canonical) < 6 {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum 6 digits required)", canonical)
	}
	return "+" + canonical, nil
}

// Start is a no-op for Twilio (no live event stream).
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop closes channels and stops the service.
func (s *TwilioService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.receipts)
	close(s.responses)
	close(s.disconnects)
	return nil
}

// SendMessage sends a message via the Twilio API and emits a receipt.
func (s *TwilioService) SendMessage(ctx context.Context, to string, body string) error {
	s.mu.RLock()
	if s.stopped {
		s.mu.RUnlock()
		return ErrServiceStopped
	}
	s.mu.RUnlock()

	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService SendMessage validation error", "error", err, "to", to)
		return err
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo("whatsapp:" + canonicalTo)
	params.SetFrom(s.fromWhats)
	params.SetBody(body)

	if _, err := s.client.Api.CreateMessage(params); err != nil {
		slog.Error("TwilioService SendMessage failed", "error", err, "to", canonicalTo)
		return fmt.Errorf("failed to send message to %s: %w", canonicalTo, err)
	}

	s.emitReceipt(models.Receipt{To: canonicalTo, Status: models.MessageStatusSent, Time: time.Now().Unix()})
	slog.Debug("TwilioService message sent", "to", canonicalTo)
	return nil
}

// Receipts returns a channel of receipt events.
func (s *TwilioService) Receipts() <-chan models.Receipt {
	return s.receipts
}

// Responses returns a channel of incoming response events. Always empty for
// Twilio; see the type comment.
func (s *TwilioService) Responses() <-chan models.Response {
	return s.responses
}

// Disconnects returns a channel signalling transport disconnection. Always
// empty for Twilio.
func (s *TwilioService) Disconnects() <-chan struct{} {
	return s.disconnects
}

// emitReceipt forwards a receipt without blocking the sender.
func (s *TwilioService) emitReceipt(r models.Receipt) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return
	}
	select {
	case s.receipts <- r:
	default:
		slog.Warn("TwilioService receipts channel full, dropping receipt", "to", r.To)
	}
}
