// Package store provides storage backends for BookingBridge.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	"github.com/BTreeMap/BookingBridge/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore persists the turn log in a SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a SQLite store. The DSN is the database file path;
// its directory is created when missing.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(cfg.DSN)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", cfg.DSN)
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
	slog.Debug("SQLite store initialized", "path", cfg.DSN)

	return &SQLiteStore{db: db}, nil
}

// AddReceipt inserts a delivery receipt.
func (s *SQLiteStore) AddReceipt(r models.Receipt) error {
	_, err := s.db.Exec("INSERT INTO receipts (recipient, status, time) VALUES (?, ?, ?)", r.To, string(r.Status), r.Time)
	if err != nil {
		return fmt.Errorf("failed to insert receipt: %w", err)
	}
	return nil
}

// GetReceipts returns all delivery receipts in insertion order.
func (s *SQLiteStore) GetReceipts() ([]models.Receipt, error) {
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
func (s *SQLiteStore) AddTurnRecord(rec models.TurnRecord) error {
	_, err := s.db.Exec(
		"INSERT INTO turn_records (id, sender, body, reply, context_id, turn_id, status, time) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		rec.ID, rec.From, rec.Body, rec.Reply, rec.ContextID, rec.TurnID, rec.Status, rec.Time,
	)
	if err != nil {
		return fmt.Errorf("failed to insert turn record: %w", err)
	}
	return nil
}

// GetTurnRecords returns all logged turns ordered by time.
func (s *SQLiteStore) GetTurnRecords() ([]models.TurnRecord, error) {
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
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
