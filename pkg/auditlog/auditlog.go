// Package auditlog implements the optional durable audit ledger (spec
// Section 4.7, "[ADDED] Audit log"): a structured, hash-chained record
// of every mutating operation, queryable for after-the-fact
// reconciliation review. It supplements, but never replaces,
// scan_bubbles/rebuild_kb as the actual repair mechanism.
package auditlog

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// Record is one append-only audit entry.
type Record struct {
	ID           int64
	Operation    string
	Actor        string
	BeforeHash   string
	AfterHash    string
	At           time.Time
	PreviousHash string
	Hash         string
}

// ErrNotFound is returned when a requested record doesn't exist.
var ErrNotFound = errors.New("auditlog: record not found")

const genesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

const schema = `
CREATE TABLE IF NOT EXISTS audit_records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	operation TEXT NOT NULL,
	actor TEXT NOT NULL,
	before_hash TEXT,
	after_hash TEXT,
	at TIMESTAMP NOT NULL,
	previous_hash TEXT NOT NULL,
	hash TEXT NOT NULL
);
`

// Ledger is a database/sql-backed audit log over an *sql.DB the caller
// opens and hands to New. Its schema is written in SQLite's dialect
// (modernc.org/sqlite, the driver the embedded KB backend registers);
// this module has no Postgres driver dependency.
type Ledger struct {
	db *sql.DB
}

// New wraps an already-open *sql.DB and ensures the audit table
// exists.
func New(ctx context.Context, db *sql.DB) (*Ledger, error) {
	l := &Ledger{db: db}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("init audit log schema: %w", err)
	}
	return l, nil
}

// Record appends one entry, chaining its hash to the previous record's
// hash the same way a tamper-evident ledger does, so a gap or
// out-of-band edit in the audit trail is detectable by recomputing the
// chain.
func (l *Ledger) Record(ctx context.Context, operation, actor, beforeHash, afterHash string, at time.Time) error {
	var previousHash string
	err := l.db.QueryRowContext(ctx, `SELECT hash FROM audit_records ORDER BY id DESC LIMIT 1`).Scan(&previousHash)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("read previous audit hash: %w", err)
	}
	if previousHash == "" {
		previousHash = genesisHash
	}

	hash := chainHash(previousHash, operation, actor, beforeHash, afterHash, at)

	_, err = l.db.ExecContext(ctx, `
		INSERT INTO audit_records (operation, actor, before_hash, after_hash, at, previous_hash, hash)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, operation, actor, beforeHash, afterHash, at.UTC(), previousHash, hash)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

func chainHash(previousHash, operation, actor, beforeHash, afterHash string, at time.Time) string {
	payload := previousHash + operation + actor + beforeHash + afterHash + at.UTC().String()
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// ListSince returns every record with At >= since, oldest first.
func (l *Ledger) ListSince(ctx context.Context, since time.Time) ([]Record, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, operation, actor, before_hash, after_hash, at, previous_hash, hash
		FROM audit_records WHERE at >= ? ORDER BY id ASC
	`, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.Operation, &r.Actor, &r.BeforeHash, &r.AfterHash, &r.At, &r.PreviousHash, &r.Hash); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// VerifyChain recomputes every record's hash from the one before it
// and reports the first record whose stored hash doesn't match,
// proving the trail wasn't edited out of band.
func (l *Ledger) VerifyChain(ctx context.Context) error {
	records, err := l.ListSince(ctx, time.Time{})
	if err != nil {
		return err
	}

	previous := genesisHash
	for _, r := range records {
		if r.PreviousHash != previous {
			return fmt.Errorf("audit record %d: previous_hash %q does not match chain tail %q", r.ID, r.PreviousHash, previous)
		}
		want := chainHash(previous, r.Operation, r.Actor, r.BeforeHash, r.AfterHash, r.At)
		if want != r.Hash {
			return fmt.Errorf("audit record %d: stored hash does not match recomputed hash", r.ID)
		}
		previous = r.Hash
	}
	return nil
}
