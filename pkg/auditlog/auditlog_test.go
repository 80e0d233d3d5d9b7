package auditlog

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockLedger(t *testing.T) (*Ledger, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS audit_records").
		WillReturnResult(sqlmock.NewResult(0, 0))

	l, err := New(context.Background(), db)
	require.NoError(t, err)
	return l, mock
}

func TestRecord_ChainsOffGenesisWhenEmpty(t *testing.T) {
	l, mock := newMockLedger(t)

	rows := sqlmock.NewRows([]string{"hash"})
	mock.ExpectQuery("SELECT hash FROM audit_records").WillReturnRows(rows)
	mock.ExpectExec("INSERT INTO audit_records").WillReturnResult(sqlmock.NewResult(1, 1))

	err := l.Record(context.Background(), "install", "cli", "", "abc123", time.Now())
	require.NoError(t, err)
}

func TestRecord_ChainsOffPreviousHash(t *testing.T) {
	l, mock := newMockLedger(t)

	rows := sqlmock.NewRows([]string{"hash"}).AddRow("deadbeef")
	mock.ExpectQuery("SELECT hash FROM audit_records").WillReturnRows(rows)
	mock.ExpectExec("INSERT INTO audit_records").WillReturnResult(sqlmock.NewResult(2, 1))

	err := l.Record(context.Background(), "rebuild_kb", "cli", "before", "after", time.Now())
	require.NoError(t, err)
}

func TestListSince_ScansRecords(t *testing.T) {
	l, mock := newMockLedger(t)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "operation", "actor", "before_hash", "after_hash", "at", "previous_hash", "hash"}).
		AddRow(int64(1), "install", "cli", "", "h1", now, genesisHash, "h1hash")
	mock.ExpectQuery("SELECT id, operation, actor").WillReturnRows(rows)

	records, err := l.ListSince(context.Background(), time.Time{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "install", records[0].Operation)
}

func TestVerifyChain_DetectsBrokenChain(t *testing.T) {
	l, mock := newMockLedger(t)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "operation", "actor", "before_hash", "after_hash", "at", "previous_hash", "hash"}).
		AddRow(int64(1), "install", "cli", "", "h1", now, "not-genesis", "whatever")
	mock.ExpectQuery("SELECT id, operation, actor").WillReturnRows(rows)

	err := l.VerifyChain(context.Background())
	assert.Error(t, err)
}

func TestVerifyChain_AcceptsValidChain(t *testing.T) {
	l, mock := newMockLedger(t)

	now := time.Now().UTC()
	hash := chainHash(genesisHash, "install", "cli", "", "h1", now)
	rows := sqlmock.NewRows([]string{"id", "operation", "actor", "before_hash", "after_hash", "at", "previous_hash", "hash"}).
		AddRow(int64(1), "install", "cli", "", "h1", now, genesisHash, hash)
	mock.ExpectQuery("SELECT id, operation, actor").WillReturnRows(rows)

	err := l.VerifyChain(context.Background())
	assert.NoError(t, err)
}
