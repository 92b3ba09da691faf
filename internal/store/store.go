// Package store provides storage backends for ZapFlow.
//
// It persists published flow definitions, outbound delivery receipts, and
// inbound responses. Backends: in-memory (default), SQLite, and PostgreSQL.
package store

import (
	"strings"
	"sync"
	"time"

	"github.com/zapflow/zapflow/internal/models"
)

// Store is the persistence interface consumed by the API layer.
type Store interface {
	// SaveFlow persists one flow publication and returns its record.
	SaveFlow(version, definition string) (models.SavedFlow, error)
	// LatestFlow returns the most recent saved flow, or ok=false if none.
	LatestFlow() (models.SavedFlow, bool, error)
	// ListFlows returns all saved flows, newest first.
	ListFlows() ([]models.SavedFlow, error)
	// AddReceipt records the outcome of one outbound send.
	AddReceipt(r models.Receipt) error
	// GetReceipts returns all recorded receipts.
	GetReceipts() ([]models.Receipt, error)
	// AddResponse records one inbound message.
	AddResponse(r models.Response) error
	// GetResponses returns all recorded inbound messages.
	GetResponses() ([]models.Response, error)
	// Close releases any underlying resources.
	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType classifies a DSN as "postgres" or "sqlite3" so callers can
// pick the matching driver. PostgreSQL DSNs use URL schemes or key=value
// connection strings; everything else is treated as a SQLite file path.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=") || strings.Contains(dsn, "dbname=") {
		return "postgres"
	}
	return "sqlite3"
}

// InMemoryStore keeps everything in process memory. It is the default
// backend when no DSN is configured, and the backend used by tests.
type InMemoryStore struct {
	mu        sync.Mutex
	flows     []models.SavedFlow
	receipts  []models.Receipt
	responses []models.Response
	nextID    int64
}

// NewInMemoryStore creates an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

// SaveFlow persists one flow publication.
func (s *InMemoryStore) SaveFlow(version, definition string) (models.SavedFlow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	saved := models.SavedFlow{
		ID:          s.nextID,
		Version:     version,
		Definition:  definition,
		PublishedAt: time.Now().Unix(),
	}
	s.flows = append(s.flows, saved)
	return saved, nil
}

// LatestFlow returns the most recent saved flow.
func (s *InMemoryStore) LatestFlow() (models.SavedFlow, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.flows) == 0 {
		return models.SavedFlow{}, false, nil
	}
	return s.flows[len(s.flows)-1], true, nil
}

// ListFlows returns all saved flows, newest first.
func (s *InMemoryStore) ListFlows() ([]models.SavedFlow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.SavedFlow, 0, len(s.flows))
	for i := len(s.flows) - 1; i >= 0; i-- {
		out = append(out, s.flows[i])
	}
	return out, nil
}

// AddReceipt records the outcome of one outbound send.
func (s *InMemoryStore) AddReceipt(r models.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receipts = append(s.receipts, r)
	return nil
}

// GetReceipts returns all recorded receipts.
func (s *InMemoryStore) GetReceipts() ([]models.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Receipt, len(s.receipts))
	copy(out, s.receipts)
	return out, nil
}

// AddResponse records one inbound message.
func (s *InMemoryStore) AddResponse(r models.Response) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, r)
	return nil
}

// GetResponses returns all recorded inbound messages.
func (s *InMemoryStore) GetResponses() ([]models.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Response, len(s.responses))
	copy(out, s.responses)
	return out, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
