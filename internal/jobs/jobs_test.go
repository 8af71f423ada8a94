package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tylern4/balsam/internal/domain"
	"github.com/tylern4/balsam/pkg/apperrors"
)

func TestCreateWithNoParentsLandsInReadyAndEmitsTwoEvents(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := New(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO jobs").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO log_events").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO log_events").WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	mock.ExpectQuery("SELECT .* FROM jobs").WillReturnRows(jobRow("job-1", "alice", domain.JobReady))
	mock.ExpectQuery("SELECT parent_id FROM job_parents").WillReturnRows(sqlmock.NewRows([]string{"parent_id"}))

	job, err := repo.Create(context.Background(), domain.Job{OwnerID: "alice", Workdir: "test/say-hello", AppID: "app-1", SiteID: "site-1"}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, domain.JobReady, job.State)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyTransitionRejectsInvalidEdge(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := New(db)
	mock.ExpectQuery("SELECT .* FROM jobs").WillReturnRows(jobRow("job-1", "alice", domain.JobCreated))
	mock.ExpectQuery("SELECT parent_id FROM job_parents").WillReturnRows(sqlmock.NewRows([]string{"parent_id"}))

	_, _, err = repo.ApplyTransition(context.Background(), "alice", "job-1", domain.JobFinished, "", time.Now())
	se, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.KindInvalidTransition, se.Kind)
}

func jobRow(id, owner string, state domain.JobState) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "owner_id", "workdir", "app_id", "site_id", "parameters", "tags",
		"ranks_per_node", "threads_per_rank", "node_packing_count", "wall_time_min", "gpus_per_rank", "launch_params",
		"state", "last_update", "batch_job_id", "session_id", "return_code", "data",
	}).AddRow(
		id, owner, "test/say-hello", "app-1", "site-1", []byte(`{}`), []byte(`{}`),
		64, 1, 1, 0, 0, "",
		state, time.Now(), nil, nil, nil, []byte(`{}`),
	)
}
