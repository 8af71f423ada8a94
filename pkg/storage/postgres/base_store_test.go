package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectBuilderBuildsParameterizedQuery(t *testing.T) {
	sql, args := NewSelectBuilder("jobs").
		WhereEq("site_id", "site-1").
		WhereIn("state", []any{"JOB_FINISHED", "FAILED"}).
		OrderBy("last_update", true).
		Limit(50).
		Offset(10).
		Build()

	assert.Equal(t, "SELECT * FROM jobs WHERE site_id = $1 AND state IN ($2, $3) ORDER BY last_update DESC LIMIT 50 OFFSET 10", sql)
	assert.Equal(t, []any{"site-1", "JOB_FINISHED", "FAILED"}, args)
}

func TestSelectBuilderWhereInEmptyIsAlwaysFalse(t *testing.T) {
	sql, args := NewSelectBuilder("jobs").WhereIn("id", nil).Build()
	assert.Equal(t, "SELECT * FROM jobs WHERE 1 = 0", sql)
	assert.Empty(t, args)
}

func TestSelectBuilderCountIgnoresOrderingAndPaging(t *testing.T) {
	sql, args := NewSelectBuilder("jobs").WhereEq("app_id", "app-1").OrderBy("id", false).Limit(10).BuildCount()
	assert.Equal(t, "SELECT COUNT(*) FROM jobs WHERE app_id = $1", sql)
	assert.Equal(t, []any{"app-1"}, args)
}

func TestWithTxCommitsOnSuccess(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewBaseStore(db, "jobs")

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE jobs").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err = store.WithTx(context.Background(), func(ctx context.Context) error {
		_, err := store.ExecContext(ctx, "UPDATE jobs SET state = $1", "RUNNING")
		return err
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTxRollsBackOnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewBaseStore(db, "jobs")
	boom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE jobs").WillReturnError(boom)
	mock.ExpectRollback()

	err = store.WithTx(context.Background(), func(ctx context.Context) error {
		_, err := store.ExecContext(ctx, "UPDATE jobs SET state = $1", "RUNNING")
		return err
	})
	assert.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecContextRetriesOnSerializationFailureThenSucceeds(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewBaseStore(db, "jobs")
	mock.ExpectExec("UPDATE jobs").WillReturnError(&pq.Error{Code: serializationFailure})
	mock.ExpectExec("UPDATE jobs").WillReturnResult(sqlmock.NewResult(0, 1))

	_, err = store.ExecContext(context.Background(), "UPDATE jobs SET state = $1", "RUNNING")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecContextDoesNotRetryNonTransientError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewBaseStore(db, "jobs")
	mock.ExpectExec("UPDATE jobs").WillReturnError(&pq.Error{Code: uniqueViolation})

	_, err = store.ExecContext(context.Background(), "UPDATE jobs SET state = $1", "RUNNING")
	var pqErr *pq.Error
	require.ErrorAs(t, err, &pqErr)
	assert.Equal(t, uniqueViolation, string(pqErr.Code))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIsRetryableTxErrorMatchesTransientSQLSTATEsOnly(t *testing.T) {
	assert.True(t, isRetryableTxError(&pq.Error{Code: serializationFailure}))
	assert.True(t, isRetryableTxError(&pq.Error{Code: deadlockDetected}))
	assert.False(t, isRetryableTxError(&pq.Error{Code: uniqueViolation}))
	assert.False(t, isRetryableTxError(errors.New("boom")))
}

func TestDeleteByIDReturnsErrNoRowsWhenNothingMatched(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewBaseStore(db, "jobs")
	mock.ExpectExec("DELETE FROM jobs").WillReturnResult(sqlmock.NewResult(0, 0))

	err = store.DeleteByID(context.Background(), "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}
