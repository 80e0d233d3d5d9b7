// Package kb implements the Knowledge Base: the indexed metadata store
// describing every installed/bubbled package, with at-most-once
// concurrent-write semantics per key group (spec Section 4.1).
package kb

import (
	"github.com/bubblepkg/bubblepkg/pkg/kb/backend"
)

// KB is the backend-neutral Knowledge Base contract. Both the fast
// (Redis) and embedded (SQLite) backends implement it identically so
// callers never branch on which one is live.
type KB = backend.KB

// TxnView is the consistent read handed to a TxnFunc: the current
// value of every key in the transaction's key group, as of the start
// of the transaction.
type TxnView = backend.TxnView

// TxnWrites is what a TxnFunc returns: the keys to write (and their
// new values) if the transaction commits.
type TxnWrites = backend.TxnWrites

// TxnFunc reads the current state of a key group and returns the
// writes to commit. Returning a nil error with empty writes commits
// nothing (a read-only transaction); returning an error aborts the
// transaction without writing anything.
type TxnFunc = backend.TxnFunc

// Iterator walks a Scan's results one key at a time.
type Iterator = backend.Iterator

// CurrentSchemaVersion is bumped whenever a backend's on-disk/wire
// schema changes incompatibly. kb.Open compares this against what a
// backend reports and returns SchemaMismatch on drift (spec_full.md
// Section 4.1 addendum).
const CurrentSchemaVersion = backend.CurrentSchemaVersion
