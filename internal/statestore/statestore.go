// Package statestore persists the mempool and batch-unlocker queues
// to Postgres for crash-restart parity. The core does not mandate
// this (spec.md 6: "persisted state: none required"), but "MAY
// persist... the spec does not mandate a format" — this package is
// that optional persistence, built the same way the teacher's
// repository package persists crawler/order state: *sql.DB plus
// *zap.Logger, $N placeholders, ON CONFLICT upserts.
package statestore

import (
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Store wraps a Postgres connection for mempool/batch-queue
// persistence.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// New constructs a Store over an already-opened db handle.
func New(db *sql.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// InitMigration creates the persisted-queue tables if absent.
func (s *Store) InitMigration() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS mempool_entries (
			order_id VARCHAR(64) PRIMARY KEY,
			take_chain_id BIGINT NOT NULL,
			attempts INTEGER NOT NULL,
			first_seen_at TIMESTAMP NOT NULL,
			next_eligible_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS batch_unlock_entries (
			order_id VARCHAR(64) PRIMARY KEY,
			give_chain_id BIGINT NOT NULL,
			give_token VARCHAR(42) NOT NULL,
			receiver VARCHAR(64) NOT NULL,
			amount DECIMAL(78,0) NOT NULL,
			enqueued_at TIMESTAMP NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_batch_unlock_entries_slot ON batch_unlock_entries (give_chain_id, give_token, enqueued_at)`,
	}
	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("mempool/batch migration: %w", err)
		}
	}
	return nil
}

// UpsertMempoolEntry records or refreshes a pending mempool record.
func (s *Store) UpsertMempoolEntry(orderID string, takeChainID uint64, attempts int, firstSeenAt, nextEligibleAt time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO mempool_entries (order_id, take_chain_id, attempts, first_seen_at, next_eligible_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (order_id) DO UPDATE SET
			attempts = EXCLUDED.attempts,
			next_eligible_at = EXCLUDED.next_eligible_at
	`, orderID, takeChainID, attempts, firstSeenAt, nextEligibleAt)
	if err != nil {
		return fmt.Errorf("upsert mempool entry: %w", err)
	}
	return nil
}

// DeleteMempoolEntry removes a cancelled or resolved mempool record.
func (s *Store) DeleteMempoolEntry(orderID string) error {
	if _, err := s.db.Exec(`DELETE FROM mempool_entries WHERE order_id = $1`, orderID); err != nil {
		return fmt.Errorf("delete mempool entry: %w", err)
	}
	return nil
}

// MempoolRecord is one row loaded back at startup.
type MempoolRecord struct {
	OrderID        string
	TakeChainID    uint64
	Attempts       int
	FirstSeenAt    time.Time
	NextEligibleAt time.Time
}

// LoadMempoolEntries loads every persisted pending mempool record. At
// process startup the records seed the pipelines' retry attempt
// counters; they are not re-scheduled.
func (s *Store) LoadMempoolEntries() ([]MempoolRecord, error) {
	rows, err := s.db.Query(`SELECT order_id, take_chain_id, attempts, first_seen_at, next_eligible_at FROM mempool_entries`)
	if err != nil {
		return nil, fmt.Errorf("load mempool entries: %w", err)
	}
	defer rows.Close()

	var out []MempoolRecord
	for rows.Next() {
		var r MempoolRecord
		if err := rows.Scan(&r.OrderID, &r.TakeChainID, &r.Attempts, &r.FirstSeenAt, &r.NextEligibleAt); err != nil {
			return nil, fmt.Errorf("scan mempool entry: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mempool entries: %w", err)
	}
	return out, nil
}

// InsertBatchEntry records a fulfilled order waiting in a batch slot.
func (s *Store) InsertBatchEntry(orderID string, giveChainID uint64, giveToken, receiver, amount string) error {
	_, err := s.db.Exec(`
		INSERT INTO batch_unlock_entries (order_id, give_chain_id, give_token, receiver, amount)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (order_id) DO NOTHING
	`, orderID, giveChainID, giveToken, receiver, amount)
	if err != nil {
		return fmt.Errorf("insert batch entry: %w", err)
	}
	return nil
}

// BatchRecord is one row loaded back at startup.
type BatchRecord struct {
	OrderID     string
	GiveChainID uint64
	GiveToken   string
	Receiver    string
	Amount      string
}

// LoadBatchEntries loads every persisted pending batch-unlock entry,
// for the unlocker to re-hydrate its (give_chain, give_token) slots at
// process startup.
func (s *Store) LoadBatchEntries() ([]BatchRecord, error) {
	rows, err := s.db.Query(`SELECT order_id, give_chain_id, give_token, receiver, amount FROM batch_unlock_entries ORDER BY enqueued_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("load batch entries: %w", err)
	}
	defer rows.Close()

	var out []BatchRecord
	for rows.Next() {
		var r BatchRecord
		if err := rows.Scan(&r.OrderID, &r.GiveChainID, &r.GiveToken, &r.Receiver, &r.Amount); err != nil {
			return nil, fmt.Errorf("scan batch entry: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate batch entries: %w", err)
	}
	return out, nil
}

// DeleteBatchEntries removes flushed batch entries after their unlock
// transaction is sent.
func (s *Store) DeleteBatchEntries(orderIDs []string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin batch flush: %w", err)
	}
	for _, id := range orderIDs {
		if _, err := tx.Exec(`DELETE FROM batch_unlock_entries WHERE order_id = $1`, id); err != nil {
			tx.Rollback()
			return fmt.Errorf("delete batch entry %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch flush: %w", err)
	}
	return nil
}
