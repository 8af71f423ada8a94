package sessions

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenInsertsSessionAndReturnsIt(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := New(db)
	now := time.Now()

	mock.ExpectExec("INSERT INTO sessions").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT id, owner_id, site_id, batch_job_id, heartbeat FROM sessions").
		WillReturnRows(sqlmock.NewRows([]string{"id", "owner_id", "site_id", "batch_job_id", "heartbeat"}).
			AddRow("sess-1", "alice", "site-1", nil, now))
	mock.ExpectQuery("SELECT id FROM jobs WHERE session_id").WillReturnRows(sqlmock.NewRows([]string{"id"}))

	s, err := repo.Open(context.Background(), "alice", "site-1", nil, now)
	require.NoError(t, err)
	assert.Equal(t, "site-1", s.SiteID)
	assert.Empty(t, s.AcquiredJobIDs)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCloseReleasesJobsAndDeletesSessionInOneTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := New(db)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT batch_job_id FROM sessions").
		WillReturnRows(sqlmock.NewRows([]string{"batch_job_id"}).AddRow(nil))
	mock.ExpectExec("UPDATE jobs SET session_id = NULL").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("DELETE FROM sessions").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err = repo.Close(context.Background(), "alice", "sess-1")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
