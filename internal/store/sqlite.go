// Package store provides storage backends for ZapFlow.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"
	"github.com/zapflow/zapflow/internal/models"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore persists flows, receipts, and responses in a SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN. The DSN is a
// file path; its directory is created if missing.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run SQLite migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite store ready", "path", dsn)

	return &SQLiteStore{db: db}, nil
}

// SaveFlow persists one flow publication.
func (s *SQLiteStore) SaveFlow(version, definition string) (models.SavedFlow, error) {
	publishedAt := time.Now().Unix()
	res, err := s.db.Exec(`INSERT INTO flows (version, definition, published_at) VALUES (?, ?, ?)`,
		version, definition, publishedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveFlow failed", "error", err, "version", version)
		return models.SavedFlow{}, fmt.Errorf("failed to insert flow: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.SavedFlow{}, fmt.Errorf("failed to read flow id: %w", err)
	}
	slog.Debug("SQLiteStore SaveFlow succeeded", "id", id, "version", version)
	return models.SavedFlow{ID: id, Version: version, Definition: definition, PublishedAt: publishedAt}, nil
}

// LatestFlow returns the most recent saved flow.
func (s *SQLiteStore) LatestFlow() (models.SavedFlow, bool, error) {
	row := s.db.QueryRow(`SELECT id, version, definition, published_at FROM flows ORDER BY id DESC LIMIT 1`)
	var f models.SavedFlow
	if err := row.Scan(&f.ID, &f.Version, &f.Definition, &f.PublishedAt); err != nil {
		if err == sql.ErrNoRows {
			return models.SavedFlow{}, false, nil
		}
		slog.Error("SQLiteStore LatestFlow failed", "error", err)
		return models.SavedFlow{}, false, fmt.Errorf("failed to query latest flow: %w", err)
	}
	return f, true, nil
}

// ListFlows returns all saved flows, newest first.
func (s *SQLiteStore) ListFlows() ([]models.SavedFlow, error) {
	rows, err := s.db.Query(`SELECT id, version, definition, published_at FROM flows ORDER BY id DESC`)
	if err != nil {
		slog.Error("SQLiteStore ListFlows query failed", "error", err)
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
func (s *SQLiteStore) AddReceipt(r models.Receipt) error {
	_, err := s.db.Exec(`INSERT INTO receipts (recipient, status, time) VALUES (?, ?, ?)`, r.To, r.Status, r.Time)
	if err != nil {
		slog.Error("SQLiteStore AddReceipt failed", "error", err, "to", r.To)
		return fmt.Errorf("failed to insert receipt for %s: %w", r.To, err)
	}
	return nil
}

// GetReceipts returns all recorded receipts.
func (s *SQLiteStore) GetReceipts() ([]models.Receipt, error) {
	rows, err := s.db.Query(`SELECT recipient, status, time FROM receipts`)
	if err != nil {
		slog.Error("SQLiteStore GetReceipts query failed", "error", err)
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
func (s *SQLiteStore) AddResponse(r models.Response) error {
	_, err := s.db.Exec(`INSERT INTO responses (sender, body, time) VALUES (?, ?, ?)`, r.From, r.Body, r.Time)
	if err != nil {
		slog.Error("SQLiteStore AddResponse failed", "error", err, "from", r.From)
		return fmt.Errorf("failed to insert response from %s: %w", r.From, err)
	}
	return nil
}

// GetResponses returns all recorded inbound messages.
func (s *SQLiteStore) GetResponses() ([]models.Response, error) {
	rows, err := s.db.Query(`SELECT sender, body, time FROM responses`)
	if err != nil {
		slog.Error("SQLiteStore GetResponses query failed", "error", err)
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
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
