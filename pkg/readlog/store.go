// Package readlog journals decoded card reads to sqlite. The journal is the
// recovery path for the registration desk: if the agent or its consumers
// restart mid-event, the reads already taken are still on disk.
package readlog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"orienteer/punchcard-go/pkg/reader"
)

const schema = `
CREATE TABLE IF NOT EXISTS card_reads (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	card_number INTEGER NOT NULL,
	generation  TEXT    NOT NULL,
	battery     INTEGER NOT NULL,
	error_code  INTEGER NOT NULL,
	read_at     TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_card_reads_read_at ON card_reads(read_at);
`

// Store is a sqlite-backed journal of card reads.
type Store struct {
	db *sql.DB
}

// Open opens or creates the journal at path and ensures the schema exists.
// Use ":memory:" for an ephemeral journal.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening journal %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating journal schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Insert appends one read to the journal.
func (s *Store) Insert(ctx context.Context, cr *reader.CardRead) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO card_reads (card_number, generation, battery, error_code, read_at)
		 VALUES (?, ?, ?, ?, ?)`,
		cr.CardNumber, cr.Generation.String(), cr.Battery, cr.ErrorCode,
		cr.ReadAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("journaling card %d: %w", cr.CardNumber, err)
	}
	return nil
}

// Recent returns up to limit reads, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, card_number, generation, battery, error_code, read_at
		 FROM card_reads ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying journal: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var readAt string
		if err := rows.Scan(&e.ID, &e.CardNumber, &e.Generation, &e.Battery, &e.ErrorCode, &readAt); err != nil {
			return nil, fmt.Errorf("scanning journal row: %w", err)
		}
		if t, perr := time.Parse(time.RFC3339Nano, readAt); perr == nil {
			e.ReadAt = t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Count returns the total number of journaled reads.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM card_reads`).Scan(&n)
	return n, err
}

// Entry is one journaled read.
type Entry struct {
	ID         int64     `json:"id"`
	CardNumber uint32    `json:"cardNumber"`
	Generation string    `json:"generation"`
	Battery    int       `json:"battery"`
	ErrorCode  byte      `json:"errorCode"`
	ReadAt     time.Time `json:"readAt"`
}
