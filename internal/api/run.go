package api

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/zapflow/zapflow/internal/flow"
	"github.com/zapflow/zapflow/internal/messaging"
	"github.com/zapflow/zapflow/internal/store"
	"github.com/zapflow/zapflow/internal/whatsapp"
)

// BackendTwilio selects the send-only Twilio transport instead of the
// default Whatsmeow client.
const BackendTwilio = "twilio"

// Run wires together the store, the messaging transport, the conversation
// engine, the event dispatcher, and the HTTP control channel, then serves
// until an interrupt or termination signal arrives.
func Run(backend string, waOpts []whatsapp.Option, storeOpts []store.Option, twilioOpts []messaging.TwilioOption, engineOpts []flow.Option, apiOpts []Option) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := buildStore(storeOpts)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("Run: failed to close store", "error", closeErr)
		}
	}()

	msgService, err := buildMessagingService(backend, waOpts, twilioOpts)
	if err != nil {
		return fmt.Errorf("failed to initialize messaging service: %w", err)
	}

	engine := flow.NewEngine(msgService, engineOpts...)

	// A restart resumes the most recently published flow.
	republishLatestFlow(engine, st)

	if err := msgService.Start(ctx); err != nil {
		return fmt.Errorf("failed to start messaging service: %w", err)
	}
	defer func() {
		if stopErr := msgService.Stop(); stopErr != nil {
			slog.Error("Run: failed to stop messaging service", "error", stopErr)
		}
	}()

	dispatcher := messaging.NewDispatcher(msgService, engine, st)
	go dispatcher.Run(ctx)
	go drainReceipts(ctx, msgService, st)

	server := NewServer(engine, msgService, st, apiOpts...)
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		slog.Info("Run: shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Run: HTTP shutdown error", "error", err)
	}
	return nil
}

// buildStore picks the store backend from the configured DSN: PostgreSQL for
// connection strings, SQLite for file paths, in-memory when none is given.
func buildStore(storeOpts []store.Option) (store.Store, error) {
	var cfg store.Opts
	for _, opt := range storeOpts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		slog.Info("Run: no store DSN configured, using in-memory store")
		return store.NewInMemoryStore(), nil
	}
	if store.DetectDSNType(cfg.DSN) == "postgres" {
		slog.Info("Run: using PostgreSQL store")
		return store.NewPostgresStore(storeOpts...)
	}
	slog.Info("Run: using SQLite store", "path", cfg.DSN)
	return store.NewSQLiteStore(storeOpts...)
}

// buildMessagingService constructs the configured transport backend.
func buildMessagingService(backend string, waOpts []whatsapp.Option, twilioOpts []messaging.TwilioOption) (messaging.Service, error) {
	if backend == BackendTwilio {
		slog.Info("Run: using Twilio messaging backend")
		return messaging.NewTwilioService(twilioOpts...)
	}
	slog.Info("Run: using WhatsApp messaging backend")
	client, err := whatsapp.NewClient(waOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create WhatsApp client: %w", err)
	}
	return messaging.NewWhatsAppService(client), nil
}

// republishLatestFlow reinstalls the most recently saved flow definition, if
// any. Failures are logged but never abort startup.
func republishLatestFlow(engine *flow.Engine, st store.Store) {
	saved, ok, err := st.LatestFlow()
	if err != nil {
		slog.Error("Run: failed to load latest flow", "error", err)
		return
	}
	if !ok {
		slog.Info("Run: no saved flow to republish")
		return
	}
	if _, err := engine.PublishFlow([]byte(saved.Definition)); err != nil {
		slog.Error("Run: failed to republish saved flow", "error", err, "version", saved.Version, "savedAt", saved.PublishedAt)
		return
	}
	slog.Info("Run: republished saved flow", "version", saved.Version, "id", saved.ID)
}

// drainReceipts records transport delivery receipts until the context ends.
func drainReceipts(ctx context.Context, msgService messaging.Service, st store.Store) {
	receipts := msgService.Receipts()
	for {
		select {
		case <-ctx.Done():
			return
		case receipt, ok := <-receipts:
			if !ok {
				return
			}
			if err := st.AddReceipt(receipt); err != nil {
				slog.Error("Run: failed to record receipt", "error", err, "to", receipt.To)
			}
		}
	}
}
