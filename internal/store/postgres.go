// Package store provides storage backends for BookingBridge.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/BookingBridge/internal/models"
	_ "github.com/lib/pq"
)

const postgresMigrations = `
CREATE TABLE IF NOT EXISTS receipts (
    id SERIAL PRIMARY KEY,
    recipient TEXT NOT NULL,
    status TEXT NOT NULL,
    time BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS turn_records (
    id TEXT PRIMARY KEY,
    sender TEXT NOT NULL,
    body TEXT NOT NULL,
    reply TEXT NOT NULL DEFAULT '',
    context_id TEXT NOT NULL DEFAULT '',
    turn_id TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    time BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_turn_records_time ON turn_records (time);
`

// PostgresStore persists the turn log in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL store from a connection string DSN.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open PostgreSQL connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("PostgreSQL ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run PostgreSQL migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("PostgreSQL store initialized")

	return &PostgresStore{db: db}, nil
}

// AddReceipt inserts a delivery receipt.
func (s *PostgresStore) AddReceipt(r models.Receipt) error {
	_, err := s.db.Exec("INSERT INTO receipts (recipient, status, time) VALUES ($1, $2, $3)", r.To, string(r.Status), r.Time)
	if err != nil {
		return fmt.Errorf("failed to insert receipt: %w", err)
	}
	return nil
}

// GetReceipts returns all delivery receipts in insertion order.
func (s *PostgresStore) GetReceipts() ([]models.Receipt, error) {
	rows, err := s.db.Query("SELECT recipient, status, time FROM receipts ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query receipts: %w", err)
	}
	defer rows.Close()

	var receipts []models.Receipt
	for rows.Next() {
		var r models.Receipt
		var status string
		if err := rows.Scan(&r.To, &status, &r.Time); err != nil {
			return nil, fmt.Errorf("failed to scan receipt: %w", err)
		}
		r.Status = models.MessageStatus(status)
		receipts = append(receipts, r)
	}
	return receipts, rows.Err()
}

// AddTurnRecord inserts a turn log entry.
func (s *PostgresStore) AddTurnRecord(rec models.TurnRecord) error {
	_, err := s.db.Exec(
		"INSERT INTO turn_records (id, sender, body, reply, context_id, turn_id, status, time) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)",
		rec.ID, rec.From, rec.Body, rec.Reply, rec.ContextID, rec.TurnID, rec.Status, rec.Time,
	)
	if err != nil {
		return fmt.Errorf("failed to insert turn record: %w", err)
	}
	return nil
}

// GetTurnRecords returns all logged turns ordered by time.
func (s *PostgresStore) GetTurnRecords() ([]models.TurnRecord, error) {
	rows, err := s.db.Query("SELECT id, sender, body, reply, context_id, turn_id, status, time FROM turn_records ORDER BY time")
	if err != nil {
		return nil, fmt.Errorf("failed to query turn records: %w", err)
	}
	defer rows.Close()

	var records []models.TurnRecord
	for rows.Next() {
		var rec models.TurnRecord
		if err := rows.Scan(&rec.ID, &rec.From, &rec.Body, &rec.Reply, &rec.ContextID, &rec.TurnID, &rec.Status, &rec.Time); err != nil {
			return nil, fmt.Errorf("failed to scan turn record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
