// Package ledger records which listings have already been sent to which subscribers.
//
// The ledger is append-only: a (listing, subscriber) pair is inserted once after a
// successful notification and never updated or removed. Uniqueness is enforced by
// the backing store's primary key, so recording an existing pair is a no-op.
package ledger

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS notifications (
	ad_id      TEXT NOT NULL,
	user_id    TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (ad_id, user_id)
)`

// SQLite is a ledger backed by a local SQLite file.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the ledger database at path.
// Use ":memory:" for a throwaway ledger.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	if path == ":memory:" {
		dsn = path
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping ledger: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create ledger schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// AlreadyNotified reports whether the pair has been recorded.
func (l *SQLite) AlreadyNotified(ctx context.Context, listingID, subscriberID string) (bool, error) {
	var exists int
	err := l.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM notifications WHERE ad_id = ? AND user_id = ?)`,
		listingID, subscriberID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query ledger: %w", err)
	}
	return exists == 1, nil
}

// Record inserts the pair. Recording a pair twice is not an error.
func (l *SQLite) Record(ctx context.Context, listingID, subscriberID string) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO notifications (ad_id, user_id) VALUES (?, ?) ON CONFLICT (ad_id, user_id) DO NOTHING`,
		listingID, subscriberID,
	)
	if err != nil {
		return fmt.Errorf("record notification: %w", err)
	}
	return nil
}

// Count returns the number of recorded pairs.
func (l *SQLite) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notifications`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count ledger: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (l *SQLite) Close() error {
	return l.db.Close()
}
