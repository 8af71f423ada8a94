// Package batchjobs is the repository and revert reconciler for BatchJob
// entities (spec §3, §4.5, §6 /batch-jobs/). The CRUD surface lives here;
// the frozen-field revert protocol lives in reconciler.go.
package batchjobs

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/tylern4/balsam/internal/domain"
	"github.com/tylern4/balsam/pkg/apperrors"
	"github.com/tylern4/balsam/pkg/storage"
	"github.com/tylern4/balsam/pkg/storage/postgres"
)

// Query is the typed filter struct for listing BatchJobs.
type Query struct {
	SiteIDs            []string
	States             []domain.BatchJobState
	SchedulerID        *int64
	FilterTagsSuperset map[string]string
	Pagination         storage.Pagination
}

// Repository persists BatchJobs in Postgres.
type Repository struct {
	*postgres.BaseStore
}

// New creates a BatchJob repository bound to db.
func New(db *sql.DB) *Repository {
	return &Repository{BaseStore: postgres.NewBaseStore(db, "batch_jobs")}
}

// Create inserts a new BatchJob in pending_submission state. The scheduler
// adapter submits it asynchronously and reports back scheduler_id/state/
// status_info via Apply.
func (r *Repository) Create(ctx context.Context, bj domain.BatchJob) (domain.BatchJob, error) {
	bj.ID = uuid.NewString()
	bj.State = domain.BatchJobPendingSubmission

	tags, err := json.Marshal(bj.FilterTags)
	if err != nil {
		return domain.BatchJob{}, apperrors.Internal("marshal filter tags", err)
	}

	query := `INSERT INTO batch_jobs (id, owner_id, site_id, project, queue, num_nodes, wall_time_min, job_mode, filter_tags, state)
	          VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`
	_, err = r.ExecContext(ctx, query, bj.ID, bj.OwnerID, bj.SiteID, bj.Project, bj.Queue, bj.NumNodes, bj.WallTimeMin, bj.JobMode, tags, bj.State)
	if err != nil {
		return domain.BatchJob{}, apperrors.Internal("insert batch job", err)
	}
	return r.Get(ctx, bj.OwnerID, bj.ID)
}

// Get returns the BatchJob with id, scoped to ownerID.
func (r *Repository) Get(ctx context.Context, ownerID, id string) (domain.BatchJob, error) {
	query := `SELECT ` + batchJobColumns + ` FROM batch_jobs WHERE id = $1 AND owner_id = $2`
	row := r.QueryRowContext(ctx, query, id, ownerID)
	bj, err := scanBatchJob(row)
	if err == sql.ErrNoRows {
		return domain.BatchJob{}, apperrors.NotFound("batch_job", id)
	}
	if err != nil {
		return domain.BatchJob{}, apperrors.Internal("get batch job", err)
	}
	return bj, nil
}

// Delete removes a BatchJob owned by ownerID. Per spec §4.5, only per-row
// delete is ever permitted; there is no filter-driven bulk delete for this
// collection (see NotImplemented in the bulk service).
func (r *Repository) Delete(ctx context.Context, ownerID, id string) error {
	result, err := r.ExecContext(ctx, `DELETE FROM batch_jobs WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		return apperrors.Internal("delete batch job", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return apperrors.NotFound("batch_job", id)
	}
	return nil
}

// List returns BatchJobs owned by ownerID matching q.
func (r *Repository) List(ctx context.Context, ownerID string, q Query) (storage.ListResult[domain.BatchJob], error) {
	pg := q.Pagination.Normalize(1000)

	b := postgres.NewSelectBuilder("batch_jobs").Columns(batchJobColumnList...).WhereEq("owner_id", ownerID)
	if len(q.SiteIDs) > 0 {
		ids := make([]any, len(q.SiteIDs))
		for i, id := range q.SiteIDs {
			ids[i] = id
		}
		b = b.WhereIn("site_id", ids)
	}
	if len(q.States) > 0 {
		states := make([]any, len(q.States))
		for i, s := range q.States {
			states[i] = s
		}
		b = b.WhereIn("state", states)
	}
	if q.SchedulerID != nil {
		b = b.WhereEq("scheduler_id", *q.SchedulerID)
	}
	if len(q.FilterTagsSuperset) > 0 {
		data, _ := json.Marshal(q.FilterTagsSuperset)
		b = b.WhereContainsAll("filter_tags", string(data))
	}

	countSQL, countArgs := b.BuildCount()
	var total int64
	if err := r.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return storage.ListResult[domain.BatchJob]{}, apperrors.Internal("count batch jobs", err)
	}

	b = b.OrderBy("id", false).Limit(pg.Limit).Offset(pg.Offset)
	sqlStr, args := b.Build()
	rows, err := r.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return storage.ListResult[domain.BatchJob]{}, apperrors.Internal("list batch jobs", err)
	}
	defer rows.Close()

	var items []domain.BatchJob
	for rows.Next() {
		bj, err := scanBatchJob(rows)
		if err != nil {
			return storage.ListResult[domain.BatchJob]{}, apperrors.Internal("scan batch job", err)
		}
		items = append(items, bj)
	}
	if err := rows.Err(); err != nil {
		return storage.ListResult[domain.BatchJob]{}, apperrors.Internal("list batch jobs", err)
	}

	return storage.NewListResult(items, total, pg.Limit, pg.Offset), nil
}

// pendingSubmissions returns every BatchJob awaiting scheduler submission,
// across all owners — the sweeper's counterpart to List, which is always
// owner-scoped. Mirrors the cross-owner raw-query shape of
// sessions.Repository.SweepExpired.
func (r *Repository) pendingSubmissions(ctx context.Context) ([]domain.BatchJob, error) {
	query := `SELECT ` + batchJobColumns + ` FROM batch_jobs WHERE state = $1`
	rows, err := r.QueryContext(ctx, query, domain.BatchJobPendingSubmission)
	if err != nil {
		return nil, apperrors.Internal("list pending submissions", err)
	}
	defer rows.Close()

	var items []domain.BatchJob
	for rows.Next() {
		bj, err := scanBatchJob(rows)
		if err != nil {
			return nil, apperrors.Internal("scan batch job", err)
		}
		items = append(items, bj)
	}
	return items, rows.Err()
}

// inFlight returns every queued or running BatchJob with a scheduler_id,
// across all owners — the sweeper's status-poll worklist.
func (r *Repository) inFlight(ctx context.Context) ([]domain.BatchJob, error) {
	query := `SELECT ` + batchJobColumns + ` FROM batch_jobs
	          WHERE state IN ($1, $2) AND scheduler_id IS NOT NULL`
	rows, err := r.QueryContext(ctx, query, domain.BatchJobQueued, domain.BatchJobRunning)
	if err != nil {
		return nil, apperrors.Internal("list in-flight batch jobs", err)
	}
	defer rows.Close()

	var items []domain.BatchJob
	for rows.Next() {
		bj, err := scanBatchJob(rows)
		if err != nil {
			return nil, apperrors.Internal("scan batch job", err)
		}
		items = append(items, bj)
	}
	return items, rows.Err()
}

var batchJobColumnList = []string{
	"id", "owner_id", "site_id", "project", "queue", "num_nodes", "wall_time_min", "job_mode",
	"filter_tags", "scheduler_id", "state", "status_info", "start_time", "end_time",
}

var batchJobColumns = "id, owner_id, site_id, project, queue, num_nodes, wall_time_min, job_mode, " +
	"filter_tags, scheduler_id, state, status_info, start_time, end_time"

func scanBatchJob(row storage.Scanner) (domain.BatchJob, error) {
	var bj domain.BatchJob
	var tags []byte
	if err := row.Scan(
		&bj.ID, &bj.OwnerID, &bj.SiteID, &bj.Project, &bj.Queue, &bj.NumNodes, &bj.WallTimeMin, &bj.JobMode,
		&tags, &bj.SchedulerID, &bj.State, &bj.StatusInfo, &bj.StartTime, &bj.EndTime,
	); err != nil {
		return domain.BatchJob{}, err
	}
	if len(tags) > 0 {
		_ = json.Unmarshal(tags, &bj.FilterTags)
	}
	return bj, nil
}
