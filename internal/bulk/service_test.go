package bulk

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tylern4/balsam/internal/batchjobs"
	"github.com/tylern4/balsam/internal/domain"
	"github.com/tylern4/balsam/internal/jobs"
	"github.com/tylern4/balsam/internal/notify"
)

func jobRow(id, owner string, state domain.JobState) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "owner_id", "workdir", "app_id", "site_id", "parameters", "tags",
		"ranks_per_node", "threads_per_rank", "node_packing_count", "wall_time_min", "gpus_per_rank", "launch_params",
		"state", "last_update", "batch_job_id", "session_id", "return_code", "data",
	}).AddRow(id, owner, "test/dir", "app-1", "site-1", nil, nil, 1, 1, 1, 10, 0, "", state, time.Now(), nil, nil, nil, nil)
}

func TestBulkCreateJobsPublishesOneEventBatch(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	jobsRepo := jobs.New(db)
	bus := notify.New(notify.Config{})
	sub := bus.Subscribe("job")
	defer sub.Close()
	svc := New(jobsRepo, batchjobs.New(db), bus)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO jobs").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO log_events").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO log_events").WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectQuery("SELECT .* FROM jobs").WillReturnRows(jobRow("job-1", "alice", domain.JobReady))
	mock.ExpectQuery("SELECT parent_id FROM job_parents").WillReturnRows(sqlmock.NewRows([]string{"parent_id"}))
	mock.ExpectCommit()

	created, err := svc.BulkCreateJobs(context.Background(), "alice", []domain.Job{
		{Workdir: "test/dir", AppID: "app-1", SiteID: "site-1"},
	}, time.Now())
	require.NoError(t, err)
	require.Len(t, created, 1)
	require.NoError(t, mock.ExpectationsWereMet())

	select {
	case ev := <-sub.Events():
		assert.Equal(t, "job", ev.Resource)
	default:
		t.Fatal("expected a published job event")
	}
}

func TestBulkUpdateJobsRejectsDuplicateIDsBeforeWritingAnything(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc := New(jobs.New(db), batchjobs.New(db), nil)
	_, err = svc.BulkUpdateJobs(context.Background(), "alice", []JobPatch{
		{ID: "job-1"},
		{ID: "job-1"},
	}, time.Now())
	require.Error(t, err)
}

func TestBulkUpdateBatchJobsRejectsDuplicateIDs(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc := New(jobs.New(db), batchjobs.New(db), nil)
	_, err = svc.BulkUpdateBatchJobs(context.Background(), "alice", []BatchJobPatch{
		{ID: "bj-1"},
		{ID: "bj-1"},
	})
	require.Error(t, err)
}

func TestDeleteBatchJobsByQueryAlwaysFailsNotImplemented(t *testing.T) {
	svc := New(nil, nil, nil)
	_, err := svc.DeleteBatchJobsByQuery(context.Background(), "alice", batchjobs.Query{})
	require.Error(t, err)
}
