package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	driver "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/velmie/reliable"
	"github.com/velmie/reliable/outbox"
)

var testNow = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})

	return db, mock
}

func newTestOutbox(t *testing.T, opts ...Option) (*OutboxStore, sqlmock.Sqlmock) {
	t.Helper()

	db, mock := newMock(t)
	opts = append([]Option{WithClock(reliable.NewManualClock(testNow))}, opts...)
	store, err := NewOutboxStore(db, opts...)
	require.NoError(t, err)

	return store, mock
}

func recordRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "action_type", "payload", "business_key", "status", "attempted_count", "next_attempt_at",
		"expires_at", "claim_id", "claimed_at", "last_error", "created_at", "updated_at", "processed_at",
	})
}

type fakeResult struct{ affected int64 }

func (fakeResult) LastInsertId() (int64, error)   { return 0, nil }
func (r fakeResult) RowsAffected() (int64, error) { return r.affected, nil }

type fakeExecutor struct {
	query string
	args  []any
	err   error
}

func (f *fakeExecutor) ExecContext(_ context.Context, query string, args ...any) (sql.Result, error) {
	f.query = query
	f.args = args

	return fakeResult{affected: 1}, f.err
}

func TestNewOutboxStoreValidates(t *testing.T) {
	_, err := NewOutboxStore(nil)
	require.ErrorIs(t, err, ErrDBRequired)

	db, _ := newMock(t)
	_, err = NewOutboxStore(db, WithTable("bad-name"))
	require.ErrorIs(t, err, ErrInvalidTableName)
}

func TestEnqueueUsesExecutor(t *testing.T) {
	store, _ := newTestOutbox(t, WithDefaultTTL(time.Hour))
	exec := &fakeExecutor{}

	id, err := store.Enqueue(context.Background(), exec, outbox.Entry{
		ActionType:  outbox.ActionSchedule,
		Payload:     json.RawMessage(`{"post_id":1}`),
		BusinessKey: "notify:post:1",
	})
	require.NoError(t, err)
	require.Equal(t, uuid.Version(7), id.Version())
	require.Contains(t, exec.query, "INSERT INTO outbox")
	require.Len(t, exec.args, 8)
	require.Equal(t, id.String(), exec.args[0])
	require.Equal(t, "schedule", exec.args[1])
	require.Equal(t, "notify:post:1", exec.args[3])
	require.Nil(t, exec.args[4])
	require.Equal(t, testNow.Add(time.Hour), exec.args[5])
}

func TestEnqueueConflict(t *testing.T) {
	store, _ := newTestOutbox(t)
	exec := &fakeExecutor{err: &driver.MySQLError{Number: errDuplicateEntry, Message: "Duplicate entry"}}

	_, err := store.Enqueue(context.Background(), exec, outbox.Entry{
		ActionType:  outbox.ActionCancel,
		Payload:     json.RawMessage(`{}`),
		BusinessKey: "cancel:1",
	})
	require.ErrorIs(t, err, outbox.ErrConflict)
}

func TestEnqueueValidation(t *testing.T) {
	store, _ := newTestOutbox(t)

	_, err := store.Enqueue(context.Background(), nil, outbox.Entry{})
	require.ErrorIs(t, err, ErrExecutorRequired)

	_, err = store.Enqueue(context.Background(), &fakeExecutor{}, outbox.Entry{ActionType: outbox.ActionSchedule, Payload: json.RawMessage(`{`)})
	require.ErrorIs(t, err, outbox.ErrInvalidPayload)

	skipping, _ := newTestOutbox(t, WithValidateJSON(false))
	_, err = skipping.Enqueue(context.Background(), &fakeExecutor{}, outbox.Entry{ActionType: outbox.ActionSchedule, Payload: json.RawMessage(`{`)})
	require.NoError(t, err)
}

func TestClaimLeasesRows(t *testing.T) {
	store, mock := newTestOutbox(t)
	id1, id2 := uuid.New(), uuid.New()
	claimID := uuid.New()
	cutoff := testNow.Add(-time.Minute)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM outbox WHERE ((status = 'pending'")).
		WithArgs(testNow, cutoff, cutoff, outbox.DefaultMaxAttempts, testNow, 10).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(id1.String()).AddRow(id2.String()))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE outbox SET status = 'in_progress', claim_id = ?")).
		WithArgs(sqlmock.AnyArg(), testNow, testNow, id1.String(), id2.String()).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, action_type, payload")).
		WithArgs(id1.String(), id2.String()).
		WillReturnRows(recordRows().
			AddRow(id1.String(), "schedule", []byte(`{"a":1}`), "k1", "in_progress", 1, nil, nil, claimID.String(), testNow, nil, testNow, testNow, nil).
			AddRow(id2.String(), "cancel", []byte(`{"a":2}`), nil, "in_progress", 3, nil, testNow.Add(time.Hour), claimID.String(), testNow, "boom", testNow, testNow, nil))
	mock.ExpectCommit()

	records, err := store.Claim(context.Background(), outbox.ClaimOptions{BatchSize: 10, LeaseDuration: time.Minute})
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, id1, records[0].ID)
	require.Equal(t, outbox.ActionSchedule, records[0].ActionType)
	require.Equal(t, "k1", records[0].BusinessKey)
	require.Equal(t, claimID, records[0].ClaimID)
	require.Equal(t, outbox.StatusInProgress, records[1].Status)
	require.Equal(t, 3, records[1].AttemptedCount)
	require.Equal(t, "boom", records[1].LastError)
	require.True(t, records[1].ExpiresAt.Equal(testNow.Add(time.Hour)))
	require.True(t, records[0].ExpiresAt.IsZero())
}

func TestClaimEmpty(t *testing.T) {
	store, mock := newTestOutbox(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM outbox")).WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectCommit()

	records, err := store.Claim(context.Background(), outbox.ClaimOptions{BatchSize: 5, LeaseDuration: time.Minute})
	require.NoError(t, err)
	require.NotNil(t, records)
	require.Empty(t, records)
}

func TestClaimRollsBackOnError(t *testing.T) {
	store, mock := newTestOutbox(t)
	id := uuid.New()
	boom := errors.New("lock wait timeout")

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM outbox")).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(id.String()))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE outbox SET status = 'in_progress'")).WillReturnError(boom)
	mock.ExpectRollback()

	_, err := store.Claim(context.Background(), outbox.ClaimOptions{BatchSize: 5, LeaseDuration: time.Minute})
	require.ErrorIs(t, err, boom)
}

func TestClaimValidatesOptions(t *testing.T) {
	store, _ := newTestOutbox(t)

	_, err := store.Claim(context.Background(), outbox.ClaimOptions{BatchSize: 0, LeaseDuration: time.Minute})
	require.ErrorIs(t, err, outbox.ErrInvalidBatchSize)
}

func TestAckFencesOnClaim(t *testing.T) {
	store, mock := newTestOutbox(t, WithMaxAttempts(5))
	rec := outbox.Record{ID: uuid.New(), ClaimID: uuid.New(), AttemptedCount: 3}

	mock.ExpectExec(regexp.QuoteMeta("UPDATE outbox SET status = ?, next_attempt_at = ?")).
		WithArgs("pending", testNow.Add(4*time.Second), nil, "timeout", testNow, rec.ID.String(), rec.ClaimID.String(), 3).
		WillReturnResult(sqlmock.NewResult(0, 1))

	status, err := store.Ack(context.Background(), rec.Ack(outbox.Retryable(errors.New("timeout"))))
	require.NoError(t, err)
	require.Equal(t, outbox.StatusPending, status)
}

func TestAckStaleClaim(t *testing.T) {
	store, mock := newTestOutbox(t)
	rec := outbox.Record{ID: uuid.New(), ClaimID: uuid.New(), AttemptedCount: 1}

	mock.ExpectExec(regexp.QuoteMeta("UPDATE outbox SET status = ?")).
		WithArgs("processed", nil, testNow, nil, testNow, rec.ID.String(), rec.ClaimID.String(), 1).
		WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := store.Ack(context.Background(), rec.Ack(outbox.Success()))
	require.ErrorIs(t, err, outbox.ErrStaleClaim)
}

func TestHasClaimable(t *testing.T) {
	store, mock := newTestOutbox(t)
	cutoff := testNow.Add(-time.Minute)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM outbox WHERE")).
		WithArgs(testNow, cutoff, cutoff, outbox.DefaultMaxAttempts, testNow).
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM outbox WHERE")).
		WillReturnRows(sqlmock.NewRows([]string{"1"}))

	ok, err := store.HasClaimable(context.Background(), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.HasClaimable(context.Background(), time.Minute)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPendingCount(t *testing.T) {
	store, mock := newTestOutbox(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM outbox WHERE status = 'pending'")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(12))

	count, err := store.PendingCount(context.Background())
	require.NoError(t, err)
	require.Equal(t, 12, count)
}

func TestGetNotFound(t *testing.T) {
	store, mock := newTestOutbox(t)
	id := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, action_type")).WithArgs(id.String()).WillReturnRows(recordRows())

	_, err := store.Get(context.Background(), id)
	require.ErrorIs(t, err, outbox.ErrNotFound)
}

func TestExpireOverdue(t *testing.T) {
	store, mock := newTestOutbox(t)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM outbox WHERE expires_at IS NOT NULL AND expires_at <= ?")).
		WithArgs(testNow, testNow.Add(-time.Minute), 100).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(id.String()))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE outbox SET status = 'expired'")).
		WithArgs(testNow, id.String()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	n, err := store.ExpireOverdue(context.Background(), outbox.ExpireOptions{Now: testNow, LeaseDuration: time.Minute, Limit: 100})
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestFailAbandoned(t *testing.T) {
	store, mock := newTestOutbox(t, WithMaxAttempts(3))
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM outbox WHERE status = 'in_progress' AND claimed_at < ? AND attempted_count >= ?")).
		WithArgs(testNow.Add(-time.Minute), 3, 100).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(id.String()))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE outbox SET status = 'failed', last_error = ?")).
		WithArgs(outbox.AbandonedError, testNow, id.String()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	n, err := store.FailAbandoned(context.Background(), outbox.ExpireOptions{Now: testNow, LeaseDuration: time.Minute, Limit: 100})
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestPruneTerminal(t *testing.T) {
	store, mock := newTestOutbox(t)
	id1, id2 := uuid.New(), uuid.New()
	before := testNow.Add(-7 * 24 * time.Hour)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM outbox WHERE status IN ('processed', 'failed', 'expired')")).
		WithArgs(before, 2).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(id1.String()).AddRow(id2.String()))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM outbox WHERE id IN (?,?)")).
		WithArgs(id1.String(), id2.String()).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	n, err := store.PruneTerminal(context.Background(), outbox.PruneOptions{Before: before, Limit: 2})
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	n, err = store.PruneTerminal(context.Background(), outbox.PruneOptions{Before: before})
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestMakePlaceholders(t *testing.T) {
	require.Equal(t, "?", makePlaceholders(1))
	require.Equal(t, "?,?,?", makePlaceholders(3))
	require.Equal(t, "(?,?,?),(?,?,?)", makeTuples(2, 3))
}
