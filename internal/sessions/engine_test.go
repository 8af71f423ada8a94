package sessions

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tylern4/balsam/internal/domain"
	"github.com/tylern4/balsam/internal/jobs"
)

func TestOrderClauseDefaultsToIDAscending(t *testing.T) {
	assert.Equal(t, " ORDER BY id ASC", orderClause(nil))
}

func TestOrderClauseHonorsDescendingTerm(t *testing.T) {
	clause := orderClause([]jobs.OrderTerm{{Column: "wall_time_min", Descending: true}})
	assert.Equal(t, " ORDER BY wall_time_min DESC", clause)
}

func TestOrderClauseIgnoresUnknownColumns(t *testing.T) {
	clause := orderClause([]jobs.OrderTerm{{Column: "not_a_column"}})
	assert.Equal(t, " ORDER BY id ASC", clause)
}

func TestPlaceholderFormatsPositionalParam(t *testing.T) {
	assert.Equal(t, "$1", placeholder(1))
	assert.Equal(t, "$12", placeholder(12))
}

func candidateRow(id string, wallTime int) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "owner_id", "workdir", "app_id", "site_id", "parameters", "tags",
		"ranks_per_node", "threads_per_rank", "node_packing_count", "wall_time_min", "gpus_per_rank", "launch_params",
		"state", "last_update", "batch_job_id", "session_id", "return_code", "data",
	}).AddRow(
		id, "alice", "test/job", "app-1", "site-1", []byte(`{}`), []byte(`{}`),
		64, 1, 1, wallTime, 0, "",
		domain.JobReady, time.Now(), nil, nil, nil, []byte(`{}`),
	)
}

func TestAcquireBindsCandidatesToSessionWithoutNodeResources(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := New(db)

	mock.ExpectQuery("SELECT id, owner_id, site_id, batch_job_id, heartbeat FROM sessions").
		WillReturnRows(sqlmock.NewRows([]string{"id", "owner_id", "site_id", "batch_job_id", "heartbeat"}).
			AddRow("sess-1", "alice", "site-1", nil, time.Now()))
	mock.ExpectQuery("SELECT id FROM jobs WHERE session_id").WillReturnRows(sqlmock.NewRows([]string{"id"}))

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .* FROM jobs").WillReturnRows(candidateRow("job-1", 30))
	mock.ExpectExec("UPDATE jobs SET session_id = \\$1, batch_job_id = \\$2").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	spec := AcquireSpec{States: []domain.JobState{domain.JobReady}, AcquireUnbound: true, MaxNumAcquire: 10}
	acquired, err := repo.Acquire(context.Background(), "alice", "sess-1", spec, time.Now())
	require.NoError(t, err)
	require.Len(t, acquired, 1)
	assert.Equal(t, "job-1", acquired[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}
