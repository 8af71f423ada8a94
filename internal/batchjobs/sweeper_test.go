package batchjobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/tylern4/balsam/internal/domain"
	"github.com/tylern4/balsam/internal/schedadapter"
	"github.com/tylern4/balsam/pkg/logger"
)

type fakeAdapter struct {
	submitResult schedadapter.SubmitResult
	submitErr    error
	statusResult schedadapter.SubmitResult
	statusErr    error
}

func (f *fakeAdapter) Submit(ctx context.Context, req schedadapter.SubmitRequest) (schedadapter.SubmitResult, error) {
	return f.submitResult, f.submitErr
}

func (f *fakeAdapter) Status(ctx context.Context, schedulerID int64) (schedadapter.SubmitResult, error) {
	return f.statusResult, f.statusErr
}

func batchJobRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "owner_id", "site_id", "project", "queue", "num_nodes", "wall_time_min", "job_mode",
		"filter_tags", "scheduler_id", "state", "status_info", "start_time", "end_time",
	})
}

func TestSubmitPendingAppliesSchedulerResult(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := New(db)
	rows := batchJobRows().AddRow("bj-1", "alice", "site-1", "proj", "default", 2, 60, "mpi",
		[]byte(`{}`), nil, domain.BatchJobPendingSubmission, "", nil, nil)
	mock.ExpectQuery("SELECT .* FROM batch_jobs WHERE state = \\$1").WillReturnRows(rows)

	// Apply reads the stored row before writing it.
	current := batchJobRows().AddRow("bj-1", "alice", "site-1", "proj", "default", 2, 60, "mpi",
		[]byte(`{}`), nil, domain.BatchJobPendingSubmission, "", nil, nil)
	mock.ExpectQuery("SELECT .* FROM batch_jobs WHERE id = \\$1 AND owner_id = \\$2").WillReturnRows(current)
	mock.ExpectExec("UPDATE batch_jobs SET").WillReturnResult(sqlmock.NewResult(0, 1))
	getRows := batchJobRows().AddRow("bj-1", "alice", "site-1", "proj", "default", 2, 60, "mpi",
		[]byte(`{}`), int64(42), domain.BatchJobQueued, "", nil, nil)
	mock.ExpectQuery("SELECT .* FROM batch_jobs WHERE id = \\$1 AND owner_id = \\$2").WillReturnRows(getRows)

	adapter := &fakeAdapter{submitResult: schedadapter.SubmitResult{
		SchedulerID: 42, State: domain.BatchJobQueued, StatusInfo: `{"job_state":"Q"}`,
	}}
	sweeper := NewSweeper(repo, adapter, logger.NewDefault("test"))

	require.NoError(t, sweeper.SubmitPending(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmitPendingSkipsJobOnSubmitterError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := New(db)
	rows := batchJobRows().AddRow("bj-1", "alice", "site-1", "proj", "default", 2, 60, "mpi",
		[]byte(`{}`), nil, domain.BatchJobPendingSubmission, "", nil, nil)
	mock.ExpectQuery("SELECT .* FROM batch_jobs WHERE state = \\$1").WillReturnRows(rows)

	adapter := &fakeAdapter{submitErr: errors.New("qsub unavailable")}
	sweeper := NewSweeper(repo, adapter, logger.NewDefault("test"))

	require.NoError(t, sweeper.SubmitPending(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPollStatusAppliesRefreshedStateAndLogsWallTimeRemaining(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := New(db)
	schedID := int64(42)
	rows := batchJobRows().AddRow("bj-1", "alice", "site-1", "proj", "default", 2, 60, "mpi",
		[]byte(`{}`), schedID, domain.BatchJobQueued, "", nil, nil)
	mock.ExpectQuery("SELECT .* FROM batch_jobs").WillReturnRows(rows)

	// Apply reads the stored row before writing it.
	current := batchJobRows().AddRow("bj-1", "alice", "site-1", "proj", "default", 2, 60, "mpi",
		[]byte(`{}`), schedID, domain.BatchJobQueued, "", nil, nil)
	mock.ExpectQuery("SELECT .* FROM batch_jobs WHERE id = \\$1 AND owner_id = \\$2").WillReturnRows(current)
	mock.ExpectExec("UPDATE batch_jobs SET").WillReturnResult(sqlmock.NewResult(0, 1))
	getRows := batchJobRows().AddRow("bj-1", "alice", "site-1", "proj", "default", 2, 60, "mpi",
		[]byte(`{}`), schedID, domain.BatchJobRunning, `{"TimeRemaining":"00:45:00"}`, time.Now(), nil)
	mock.ExpectQuery("SELECT .* FROM batch_jobs WHERE id = \\$1 AND owner_id = \\$2").WillReturnRows(getRows)

	adapter := &fakeAdapter{statusResult: schedadapter.SubmitResult{
		SchedulerID: schedID, State: domain.BatchJobRunning, StatusInfo: `{"TimeRemaining":"00:45:00"}`,
	}}
	sweeper := NewSweeper(repo, adapter, logger.NewDefault("test"))

	require.NoError(t, sweeper.PollStatus(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

