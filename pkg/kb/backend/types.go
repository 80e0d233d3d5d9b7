package backend

import (
	"context"
)

// KB is the backend-neutral Knowledge Base contract. Both the fast
// (Redis) and embedded (SQLite) backends implement it identically so
// callers never branch on which one is live.
type KB interface {
	// Get returns the value stored under key, or *bpkgerrors.NotFoundErr.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set writes a single key atomically.
	Set(ctx context.Context, key string, value []byte) error
	// Transaction runs fn with a consistent read of every key in
	// keyGroup's current values, then attempts to commit fn's writes
	// atomically. If another writer committed to any key in keyGroup
	// between the read and this commit, the fast backend returns
	// *bpkgerrors.ConflictErr and fn's writes are discarded. The
	// embedded backend takes its write lock before the read, so it never
	// returns Conflict; a writer that can't get that lock receives
	// *bpkgerrors.LockedErr and fn does not run.
	Transaction(ctx context.Context, keyGroup []string, fn TxnFunc) error
	// Scan returns a lazy, restartable, finite iterator over every key
	// with the given prefix.
	Scan(ctx context.Context, prefix string) (Iterator, error)
	// SchemaVersion returns the schema version recorded by the backend,
	// or 0 if the backend has never been initialized.
	SchemaVersion(ctx context.Context) (int, error)
	// Close releases the backend's resources.
	Close() error
}

// TxnView is the consistent read handed to a TxnFunc: the current
// value of every key in the transaction's key group, as of the start
// of the transaction.
type TxnView map[string][]byte

// TxnWrites is what a TxnFunc returns: the keys to write (and their
// new values) if the transaction commits.
type TxnWrites map[string][]byte

// TxnFunc reads the current state of a key group and returns the
// writes to commit. Returning a nil error with empty writes commits
// nothing (a read-only transaction); returning an error aborts the
// transaction without writing anything.
type TxnFunc func(view TxnView) (TxnWrites, error)

// Iterator walks a Scan's results one key at a time.
type Iterator interface {
	// Next advances the iterator. It returns false when exhausted or
	// on error; callers must check Err() after Next returns false.
	Next(ctx context.Context) bool
	Key() string
	Value() []byte
	Err() error
	Close() error
}

// CurrentSchemaVersion is bumped whenever a backend's on-disk/wire
// schema changes incompatibly. kb.Open compares this against what a
// backend reports and returns SchemaMismatch on drift (spec_full.md
// Section 4.1 addendum).
const CurrentSchemaVersion = 1

// SchemaVersionKey is the top-level key holding the backend's schema
// version.
const SchemaVersionKey = "schema:version"
