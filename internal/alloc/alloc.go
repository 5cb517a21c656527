// Package alloc hands out item numbers. The local policy inspects the
// numbers already visible on disk; the delegated policy reserves
// numbers through a shared counter so concurrent clients never collide.
package alloc

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"reqtrace/internal/types"
)

// Allocator reserves the next item number for a prefix. floor is the
// highest number already in use; every returned number is greater.
type Allocator interface {
	Next(ctx context.Context, prefix types.Prefix, floor int) (int, error)
	Close() error
}

// Local allocates floor+1. It is not safe against concurrent clients
// working on separate checkouts of the same project.
type Local struct{}

// Next returns the next free number by local inspection.
func (Local) Next(_ context.Context, _ types.Prefix, floor int) (int, error) {
	return floor + 1, nil
}

// Close is a no-op.
func (Local) Close() error { return nil }

// Delegated reserves numbers from a counter database shared between
// clients. Reserved numbers are strictly increasing per prefix and are
// never reissued, even when the requesting client discards them.
type Delegated struct {
	db     *sql.DB
	client string
}

const delegatedSchema = `
CREATE TABLE IF NOT EXISTS counters (
	prefix TEXT PRIMARY KEY,
	next   INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS grants (
	prefix     TEXT NOT NULL,
	number     INTEGER NOT NULL,
	client     TEXT NOT NULL,
	granted_at TEXT NOT NULL,
	PRIMARY KEY (prefix, number)
);
`

// OpenDelegated opens (creating if needed) the shared counter database.
func OpenDelegated(path string) (*Delegated, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("opening allocator db %s: %w", path, err)
	}
	if _, err := db.Exec(delegatedSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing allocator db %s: %w", path, err)
	}
	return &Delegated{db: db, client: uuid.NewString()}, nil
}

// Next reserves and records the next number for prefix. The counter is
// advanced past floor first, so numbers issued elsewhere and numbers
// already on disk are never repeated.
func (d *Delegated) Next(ctx context.Context, prefix types.Prefix, floor int) (int, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("reserving number for %s: %w", prefix, err)
	}
	defer tx.Rollback()

	key := prefix.Short()
	var number int
	err = tx.QueryRowContext(ctx, `
		INSERT INTO counters (prefix, next) VALUES (?, ?)
		ON CONFLICT (prefix) DO UPDATE SET next = MAX(counters.next, ?) + 1
		RETURNING next`,
		key, floor+1, floor).Scan(&number)
	if err != nil {
		return 0, fmt.Errorf("reserving number for %s: %w", prefix, err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO grants (prefix, number, client, granted_at) VALUES (?, ?, ?, ?)`,
		key, number, d.client, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("recording grant %s%d: %w", prefix, number, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("reserving number for %s: %w", prefix, err)
	}
	return number, nil
}

// Client returns this process's allocator identity.
func (d *Delegated) Client() string { return d.client }

// Close releases the database handle.
func (d *Delegated) Close() error { return d.db.Close() }
