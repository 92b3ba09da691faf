package messaging

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/zapflow/zapflow/internal/models"
	"github.com/zapflow/zapflow/internal/whatsapp"
	"go.mau.fi/whatsmeow/types/events"
)

// WhatsAppService implements Service using the Whatsmeow-based whatsapp client.
type WhatsAppService struct {
	client      whatsapp.WhatsAppSender
	waClient    *whatsapp.Client // access to the underlying client for event handling
	receipts    chan models.Receipt
	responses   chan models.Response
	disconnects chan struct{}
}

// NewWhatsAppService creates a new WhatsAppService wrapping the given WhatsAppSender.
func NewWhatsAppService(client whatsapp.WhatsAppSender) *WhatsAppService {
	service := &WhatsAppService{
		client:      client,
		receipts:    make(chan models.Receipt, DefaultChannelBufferSize),
		responses:   make(chan models.Response, DefaultChannelBufferSize),
		disconnects: make(chan struct{}, 1),
	}

	// Only a full client can deliver events; an interface client (a mock)
	// can still send.
	if waClient, ok := client.(*whatsapp.Client); ok {
		service.waClient = waClient
		slog.Debug("WhatsAppService created with full client for event handling")
	} else {
		slog.Debug("WhatsAppService created with interface client (likely mock)")
	}

	return service
}

// ValidateAndCanonicalizeRecipient validates and canonicalizes a WhatsApp recipient.
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return whatsapp.ValidateAndCanonicalizeRecipient(recipient)
}

// Start begins background event processing.
func (s *WhatsAppService) Start(ctx context.Context) error {
	slog.Debug("WhatsAppService Start invoked")
	if s.waClient != nil {
		go s.handleEvents(ctx)
		slog.Debug("WhatsAppService event handler started")
	} else {
		slog.Debug("WhatsAppService no full client available, skipping event handling")
	}
	return nil
}

// Stop stops background processing.
func (s *WhatsAppService) Stop() error {
	slog.Info("WhatsAppService Stop invoked")
	close(s.receipts)
	close(s.responses)
	close(s.disconnects)
	if s.waClient != nil {
		s.waClient.Disconnect()
	}
	slog.Info("WhatsAppService stopped and channels closed")
	return nil
}

// SendMessage sends a message and emits a sent receipt.
func (s *WhatsAppService) SendMessage(ctx context.Context, to string, body string) error {
	slog.Debug("WhatsAppService SendMessage invoked", "to", to, "body_length", len(body))
	err := s.client.SendMessage(ctx, to, body)
	if err != nil {
		slog.Error("WhatsAppService SendMessage error", "error", err, "to", to)
		return err
	}
	s.emitReceipt(models.Receipt{To: to, Status: models.MessageStatusSent, Time: time.Now().Unix()})
	return nil
}

// Receipts returns a channel of receipt events.
func (s *WhatsAppService) Receipts() <-chan models.Receipt {
	return s.receipts
}

// Responses returns a channel of incoming response events.
func (s *WhatsAppService) Responses() <-chan models.Response {
	return s.responses
}

// Disconnects returns a channel signalling transport disconnection.
func (s *WhatsAppService) Disconnects() <-chan struct{} {
	return s.disconnects
}

// handleEvents processes WhatsApp events and feeds them into the appropriate channels
func (s *WhatsAppService) handleEvents(ctx context.Context) {
	if s.waClient == nil || s.waClient.GetClient() == nil {
		slog.Error("WhatsAppService handleEvents: no client available")
		return
	}

	s.waClient.GetClient().AddEventHandler(func(evt interface{}) {
		switch v := evt.(type) {
		case *events.Message:
			s.handleIncomingMessage(v)
		case *events.Receipt:
			s.handleMessageReceipt(v)
		case *events.Disconnected:
			s.handleDisconnect("disconnected")
		case *events.LoggedOut:
			s.handleDisconnect("logged out")
		default:
			// Ignore other event types
		}
	})

	slog.Debug("WhatsAppService event handler registered")
	<-ctx.Done()
	slog.Debug("WhatsAppService handleEvents stopping due to context cancellation")
}

// handleIncomingMessage processes incoming text messages from participants.
// Messages sent by ourselves and non-text messages are ignored.
func (s *WhatsAppService) handleIncomingMessage(evt *events.Message) {
	if evt.Message == nil {
		return
	}
	if evt.Info.IsFromMe {
		slog.Debug("WhatsAppService ignoring own message", "chat", evt.Info.Chat.String())
		return
	}
	if evt.Info.IsGroup {
		slog.Debug("WhatsAppService ignoring group message", "chat", evt.Info.Chat.String())
		return
	}

	var messageText string
	if evt.Message.Conversation != nil {
		messageText = *evt.Message.Conversation
	} else if evt.Message.ExtendedTextMessage != nil && evt.Message.ExtendedTextMessage.Text != nil {
		messageText = *evt.Message.ExtendedTextMessage.Text
	} else {
		slog.Debug("WhatsAppService ignoring non-text message", "from", evt.Info.Sender.String())
		return
	}

	fromNumber := evt.Info.Sender.User
	if !strings.HasPrefix(fromNumber, "+") {
		fromNumber = "+" + fromNumber
	}

	response := models.Response{
		From: fromNumber,
		Body: messageText,
		Time: evt.Info.Timestamp.Unix(),
	}

	select {
	case s.responses <- response:
		slog.Debug("WhatsAppService incoming message forwarded", "from", response.From)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsAppService responses channel blocked, dropping message", "from", response.From)
	}
}

// handleMessageReceipt processes delivery and read receipts
func (s *WhatsAppService) handleMessageReceipt(evt *events.Receipt) {
	toNumber := evt.MessageSource.Sender.User
	if !strings.HasPrefix(toNumber, "+") {
		toNumber = "+" + toNumber
	}

	var status models.MessageStatus
	switch evt.Type {
	case events.ReceiptTypeDelivered:
		status = models.MessageStatusDelivered
	case events.ReceiptTypeRead:
		status = models.MessageStatusRead
	default:
		return
	}

	s.emitReceipt(models.Receipt{To: toNumber, Status: status, Time: evt.Timestamp.Unix()})
}

// handleDisconnect forwards a disconnect event. The channel has a one-slot
// buffer; a pending, unconsumed signal already means "reset", so extra
// events are dropped.
func (s *WhatsAppService) handleDisconnect(reason string) {
	slog.Warn("WhatsAppService transport disconnected", "reason", reason)
	select {
	case s.disconnects <- struct{}{}:
	default:
	}
}

// emitReceipt forwards a receipt without blocking the event handler.
func (s *WhatsAppService) emitReceipt(r models.Receipt) {
	select {
	case s.receipts <- r:
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsAppService receipts channel blocked, dropping receipt", "to", r.To)
	}
}
