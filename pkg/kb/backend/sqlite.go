package backend

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/bubblepkg/bubblepkg/pkg/bpkgerrors"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS kb_entries (
	key   TEXT PRIMARY KEY,
	value BLOB NOT NULL
);
`

// SQLiteBackend is the "embedded" KB backend: a single pure-Go SQLite
// file (modernc.org/sqlite, no cgo). Transaction takes SQLite's write
// lock up front with BEGIN IMMEDIATE, serializing the read-modify-write
// for the whole transaction instead of racing to commit — the
// embedded backend's pessimistic analog of the fast backend's
// optimistic Redis WATCH/EXEC. A second writer (in this process or
// another one holding the same file) that can't acquire the lock
// within SQLite's busy timeout surfaces as bpkgerrors.LockedErr.
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend opens (creating if absent) the SQLite file at path
// and ensures the schema exists.
func NewSQLiteBackend(ctx context.Context, path string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, bpkgerrors.NewBackendUnavailable("sqlite", err)
	}
	db.SetMaxOpenConns(1) // SQLite file backend: one writer at a time.
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, bpkgerrors.NewBackendUnavailable("sqlite", err)
	}
	return &SQLiteBackend{db: db}, nil
}

// Get implements KB.
func (b *SQLiteBackend) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := b.db.QueryRowContext(ctx, `SELECT value FROM kb_entries WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, bpkgerrors.NewNotFound(key)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite get %s: %w", key, err)
	}
	return value, nil
}

// Set implements KB.
func (b *SQLiteBackend) Set(ctx context.Context, key string, value []byte) error {
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO kb_entries (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("sqlite set %s: %w", key, err)
	}
	return nil
}

// Transaction implements KB with a BEGIN IMMEDIATE transaction:
// reading every key in keyGroup, invoking fn, then committing fn's
// writes, all inside one SQLite transaction that has held the file's
// write lock since before the read. A writer that can't acquire that
// lock — another transaction already in flight, in this process or
// another one holding the same file — reports bpkgerrors.NewLocked,
// the real cross-process contention case this mechanism exists to
// catch; callers retry it the same way they retry a KB Conflict.
func (b *SQLiteBackend) Transaction(ctx context.Context, keyGroup []string, fn TxnFunc) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite begin transaction: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		_ = tx.Rollback()
		// SQLite's busy error doesn't identify the contending
		// connection, unlike a flock-based lock that can report a PID.
		return bpkgerrors.NewLocked(0, "sqlite")
	}
	defer func() { _ = tx.Rollback() }()

	view := make(TxnView, len(keyGroup))
	for _, k := range keyGroup {
		var value []byte
		err := tx.QueryRowContext(ctx, `SELECT value FROM kb_entries WHERE key = ?`, k).Scan(&value)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			view[k] = nil
		case err != nil:
			return fmt.Errorf("sqlite txn read %s: %w", k, err)
		default:
			view[k] = value
		}
	}

	writes, err := fn(view)
	if err != nil {
		return err
	}

	for key, value := range writes {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO kb_entries (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value
		`, key, value)
		if err != nil {
			return fmt.Errorf("sqlite txn write %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite txn commit: %w", err)
	}
	return nil
}

// Scan implements KB.
func (b *SQLiteBackend) Scan(ctx context.Context, prefix string) (Iterator, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT key, value FROM kb_entries WHERE key LIKE ? ORDER BY key`, prefix+"%")
	if err != nil {
		return nil, fmt.Errorf("sqlite scan %s: %w", prefix, err)
	}
	return &sqliteIterator{rows: rows}, nil
}

type sqliteIterator struct {
	rows  *sql.Rows
	key   string
	value []byte
	err   error
}

func (it *sqliteIterator) Next(ctx context.Context) bool {
	if !it.rows.Next() {
		it.err = it.rows.Err()
		return false
	}
	if err := it.rows.Scan(&it.key, &it.value); err != nil {
		it.err = err
		return false
	}
	return true
}

func (it *sqliteIterator) Key() string   { return it.key }
func (it *sqliteIterator) Value() []byte { return it.value }
func (it *sqliteIterator) Err() error    { return it.err }
func (it *sqliteIterator) Close() error  { return it.rows.Close() }

// SchemaVersion implements KB.
func (b *SQLiteBackend) SchemaVersion(ctx context.Context) (int, error) {
	val, err := b.Get(ctx, SchemaVersionKey)
	if err != nil {
		var nf *bpkgerrors.NotFoundErr
		if errors.As(err, &nf) {
			return 0, nil
		}
		return 0, err
	}
	var v int
	if _, err := fmt.Sscanf(string(val), "%d", &v); err != nil {
		return 0, fmt.Errorf("parse schema version: %w", err)
	}
	return v, nil
}

// Close implements KB.
func (b *SQLiteBackend) Close() error { return b.db.Close() }
