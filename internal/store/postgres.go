// Package store provides storage backends for ZapFlow.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	_ "github.com/lib/pq"
	"github.com/zapflow/zapflow/internal/models"
)

// Database connection pool configuration constants.
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database.
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool.
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused.
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore persists flows, receipts, and responses in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run Postgres migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres store ready")

	return &PostgresStore{db: db}, nil
}

// SaveFlow persists one flow publication.
func (s *PostgresStore) SaveFlow(version, definition string) (models.SavedFlow, error) {
	publishedAt := time.Now().Unix()
	var id int64
	err := s.db.QueryRow(
		`INSERT INTO flows (version, definition, published_at) VALUES ($1, $2, $3) RETURNING id`,
		version, definition, publishedAt,
	).Scan(&id)
	if err != nil {
		slog.Error("PostgresStore SaveFlow failed", "error", err, "version", version)
		return models.SavedFlow{}, fmt.Errorf("failed to insert flow: %w", err)
	}
	slog.Debug("PostgresStore SaveFlow succeeded", "id", id, "version", version)
	return models.SavedFlow{ID: id, Version: version, Definition: definition, PublishedAt: publishedAt}, nil
}

// LatestFlow returns the most recent saved flow.
func (s *PostgresStore) LatestFlow() (models.SavedFlow, bool, error) {
	row := s.db.QueryRow(`SELECT id, version, definition, published_at FROM flows ORDER BY id DESC LIMIT 1`)
	var f models.SavedFlow
	if err := row.Scan(&f.ID, &f.Version, &f.Definition, &f.PublishedAt); err != nil {
		if err == sql.ErrNoRows {
			return models.SavedFlow{}, false, nil
		}
		slog.Error("PostgresStore LatestFlow failed", "error", err)
		return models.SavedFlow{}, false, fmt.Errorf("failed to query latest flow: %w", err)
	}
	return f, true, nil
}

// ListFlows returns all saved flows, newest first.
func (s *PostgresStore) ListFlows() ([]models.SavedFlow, error) {
	rows, err := s.db.Query(`SELECT id, version, definition, published_at FROM flows ORDER BY id DESC`)
	if err != nil {
		slog.Error("PostgresStore ListFlows query failed", "error", err)
		return nil, fmt.Errorf("failed to query flows: %w", err)
	}
	defer rows.Close()

	var flows []models.SavedFlow
	for rows.Next() {
		var f models.SavedFlow
		if err := rows.Scan(&f.ID, &f.Version, &f.Definition, &f.PublishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan flow row: %w", err)
		}
		flows = append(flows, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate flow rows: %w", err)
	}
	return flows, nil
}

// AddReceipt records the outcome of one outbound send.
func (s *PostgresStore) AddReceipt(r models.Receipt) error {
	_, err := s.db.Exec(`INSERT INTO receipts (recipient, status, time) VALUES ($1, $2, $3)`, r.To, r.Status, r.Time)
	if err != nil {
		slog.Error("PostgresStore AddReceipt failed", "error", err, "to", r.To)
		return fmt.Errorf("failed to insert receipt for %s: %w", r.To, err)
	}
	return nil
}

// GetReceipts returns all recorded receipts.
func (s *PostgresStore) GetReceipts() ([]models.Receipt, error) {
	rows, err := s.db.Query(`SELECT recipient, status, time FROM receipts`)
	if err != nil {
		slog.Error("PostgresStore GetReceipts query failed", "error", err)
		return nil, fmt.Errorf("failed to query receipts: %w", err)
	}
	defer rows.Close()

	var receipts []models.Receipt
	for rows.Next() {
		var r models.Receipt
		if err := rows.Scan(&r.To, &r.Status, &r.Time); err != nil {
			return nil, fmt.Errorf("failed to scan receipt row: %w", err)
		}
		receipts = append(receipts, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate receipt rows: %w", err)
	}
	return receipts, nil
}

// AddResponse records one inbound message.
func (s *PostgresStore) AddResponse(r models.Response) error {
	_, err := s.db.Exec(`INSERT INTO responses (sender, body, time) VALUES ($1, $2, $3)`, r.From, r.Body, r.Time)
	if err != nil {
		slog.Error("PostgresStore AddResponse failed", "error", err, "from", r.From)
		return fmt.Errorf("failed to insert response from %s: %w", r.From, err)
	}
	return nil
}

// GetResponses returns all recorded inbound messages.
func (s *PostgresStore) GetResponses() ([]models.Response, error) {
	rows, err := s.db.Query(`SELECT sender, body, time FROM responses`)
	if err != nil {
		slog.Error("PostgresStore GetResponses query failed", "error", err)
		return nil, fmt.Errorf("failed to query responses: %w", err)
	}
	defer rows.Close()

	var responses []models.Response
	for rows.Next() {
		var r models.Response
		if err := rows.Scan(&r.From, &r.Body, &r.Time); err != nil {
			return nil, fmt.Errorf("failed to scan response row: %w", err)
		}
		responses = append(responses, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate response rows: %w", err)
	}
	return responses, nil
}

// Close closes the underlying database.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
