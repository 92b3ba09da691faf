package messaging

import (
	"context"
	"log/slog"

	"github.com/zapflow/zapflow/internal/models"
)

// FlowHandler is the part of the conversation engine the dispatcher drives.
type FlowHandler interface {
	// HandleInboundMessage applies the transition algorithm for one inbound message.
	HandleInboundMessage(ctx context.Context, chatID, text string)
	// Reset destroys all conversation state (global reset on disconnect).
	Reset()
}

// ResponseRecorder persists inbound messages. Optional.
type ResponseRecorder interface {
	AddResponse(r models.Response) error
}

// Dispatcher consumes transport events and feeds them into the conversation
// engine: inbound responses become engine turns, disconnects become global
// resets.
type Dispatcher struct {
	service Service
	engine  FlowHandler
	store   ResponseRecorder
}

// NewDispatcher creates a Dispatcher. store may be nil when inbound messages
// should not be persisted.
func NewDispatcher(service Service, engine FlowHandler, store ResponseRecorder) *Dispatcher {
	return &Dispatcher{service: service, engine: engine, store: store}
}

// Run processes events until the context is cancelled or the service closes
// its channels. It blocks; callers run it in a goroutine.
func (d *Dispatcher) Run(ctx context.Context) {
	slog.Debug("Dispatcher starting")
	responses := d.service.Responses()
	disconnects := d.service.Disconnects()

	for {
		select {
		case <-ctx.Done():
			slog.Debug("Dispatcher stopping due to context cancellation")
			return
		case response, ok := <-responses:
			if !ok {
				slog.Debug("Dispatcher stopping, responses channel closed")
				return
			}
			d.handleResponse(ctx, response)
		case _, ok := <-disconnects:
			if !ok {
				slog.Debug("Dispatcher stopping, disconnects channel closed")
				return
			}
			slog.Warn("Dispatcher resetting engine after transport disconnect")
			d.engine.Reset()
		}
	}
}

func (d *Dispatcher) handleResponse(ctx context.Context, response models.Response) {
	slog.Debug("Dispatcher handling inbound message", "from", response.From, "body_length", len(response.Body))
	if d.store != nil {
		if err := d.store.AddResponse(response); err != nil {
			slog.Error("Dispatcher failed to record inbound message", "error", err, "from", response.From)
		}
	}
	d.engine.HandleInboundMessage(ctx, response.From, response.Body)
}
