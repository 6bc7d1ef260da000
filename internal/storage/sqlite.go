package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const slotSchemaSQL = `
CREATE TABLE IF NOT EXISTS slots (
	name       TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// SQLite implements Backend as one row in a slots table. The table models
// the same named-slot key-value contract as the file backend, with the
// write atomicity coming from SQLite itself.
type SQLite struct {
	conn *sql.DB
	slot string
}

// NewSQLite opens (or creates) the database and ensures the slots table.
func NewSQLite(dsn, slot string) (*SQLite, error) {
	if slot == "" {
		return nil, fmt.Errorf("storage: slot name is required")
	}
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("storage: open sqlite: %w", err)
	}
	if _, err := conn.Exec(slotSchemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("storage: apply schema: %w", err)
	}
	return &SQLite{conn: conn, slot: slot}, nil
}

// Load reads the slot row.
func (s *SQLite) Load() ([]byte, error) {
	var value []byte
	err := s.conn.QueryRow(`SELECT value FROM slots WHERE name = ?`, s.slot).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSlotEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("storage: load slot %q: %w", s.slot, err)
	}
	return value, nil
}

// Save upserts the slot row.
func (s *SQLite) Save(data []byte) error {
	_, err := s.conn.Exec(
		`INSERT INTO slots (name, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		s.slot, data, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("storage: save slot %q: %w", s.slot, err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLite) Close() error {
	return s.conn.Close()
}
