// Package journal keeps a local sqlite log of appointment mutations and
// notification side effects.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Journal actions.
const (
	ActionCreate      = "create"
	ActionSeries      = "series"
	ActionUpdate      = "update"
	ActionDelete      = "delete"
	ActionCancel      = "cancel"
	ActionRollback    = "rollback"
	ActionPaymentLink = "payment_link"
	ActionReprogram   = "reprogram"
	ActionTestMessage = "test_message"
	ActionEnroll      = "enroll"
)

// Entry is one journal row.
type Entry struct {
	ID             int64
	Action         string
	AppointmentIDs []string
	Status         string // ok or error
	Detail         string
	CreatedAt      time.Time
}

// DB wraps sql.DB for the journal.
type DB struct {
	*sql.DB
}

// NewDB opens database at path and runs migrations.
func NewDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}
	return &DB{db}, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS mutations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			action TEXT NOT NULL,
			appointment_ids TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			detail TEXT,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_mutations_created ON mutations(created_at)`,
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			return fmt.Errorf("create tables: %w", err)
		}
	}
	return nil
}

// Record appends an entry. A zero CreatedAt is set to now.
func (db *DB) Record(ctx context.Context, e Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO mutations (action, appointment_ids, status, detail, created_at) VALUES (?, ?, ?, ?, ?)`,
		e.Action, strings.Join(e.AppointmentIDs, ","), e.Status, e.Detail, e.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert mutation: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (db *DB) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx,
		`SELECT id, action, appointment_ids, status, COALESCE(detail, ''), created_at
		FROM mutations ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query mutations: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e   Entry
			ids string
		)
		if err := rows.Scan(&e.ID, &e.Action, &ids, &e.Status, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan mutation: %w", err)
		}
		if ids != "" {
			e.AppointmentIDs = strings.Split(ids, ",")
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
