// Package store provides storage backends for the BookingBridge turn log.
//
// Each webhook invocation is recorded as a TurnRecord, and outbound deliveries
// as Receipts. Conversation history itself lives in the assistant backend and
// is never stored here. Backends: in-memory (default), SQLite, PostgreSQL.
package store

import (
	"strings"
	"sync"

	"github.com/BTreeMap/BookingBridge/internal/models"
)

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithSQLiteDSN configures a SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN configures a PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType returns "postgres" for PostgreSQL connection strings and
// "sqlite" for anything else (file paths).
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

// Store defines the persistence operations used by the API layer.
type Store interface {
	AddReceipt(r models.Receipt) error
	GetReceipts() ([]models.Receipt, error)
	AddTurnRecord(rec models.TurnRecord) error
	GetTurnRecords() ([]models.TurnRecord, error)
	Close() error
}

// InMemoryStore keeps everything in process memory. Used when no DSN is
// configured, and throughout the tests.
type InMemoryStore struct {
	mu       sync.RWMutex
	receipts []models.Receipt
	turns    []models.TurnRecord
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

// AddReceipt appends a delivery receipt.
func (s *InMemoryStore) AddReceipt(r models.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receipts = append(s.receipts, r)
	return nil
}

// GetReceipts returns all recorded receipts.
func (s *InMemoryStore) GetReceipts() ([]models.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Receipt, len(s.receipts))
	copy(out, s.receipts)
	return out, nil
}

// AddTurnRecord appends a turn log entry.
func (s *InMemoryStore) AddTurnRecord(rec models.TurnRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, rec)
	return nil
}

// GetTurnRecords returns all logged turns.
func (s *InMemoryStore) GetTurnRecords() ([]models.TurnRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.TurnRecord, len(s.turns))
	copy(out, s.turns)
	return out, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
