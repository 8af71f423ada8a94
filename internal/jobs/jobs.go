// Package jobs is the repository for Job entities: creation (including the
// ∅→STAGED_IN[→READY|AWAITING_PARENTS] event pair), the filter/paginate
// query surface of spec §4.1, and parent-readiness recomputation (spec §4.3,
// §8 property 7).
package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/tylern4/balsam/internal/domain"
	"github.com/tylern4/balsam/internal/jobstate"
	"github.com/tylern4/balsam/pkg/apperrors"
	"github.com/tylern4/balsam/pkg/storage"
	"github.com/tylern4/balsam/pkg/storage/postgres"
)

// Repository persists Jobs, their parent edges, and their LogEvents.
type Repository struct {
	*postgres.BaseStore
}

// New creates a Job repository bound to db.
func New(db *sql.DB) *Repository {
	return &Repository{BaseStore: postgres.NewBaseStore(db, "jobs")}
}

// Create inserts a new Job and its creation LogEvents in one transaction,
// landing it in READY or AWAITING_PARENTS per spec §3's parent invariant.
func (r *Repository) Create(ctx context.Context, j domain.Job, now time.Time) (domain.Job, error) {
	j.ID = uuid.NewString()
	j.LastUpdate = now

	state, events := jobstate.CreationEvents(j.ID, len(j.Parents) > 0, now)
	j.State = state

	err := r.WithTx(ctx, func(ctx context.Context) error {
		if err := r.insert(ctx, j); err != nil {
			return err
		}
		for _, parentID := range j.Parents {
			q := `INSERT INTO job_parents (job_id, parent_id) VALUES ($1, $2)`
			if _, err := r.ExecContext(ctx, q, j.ID, parentID); err != nil {
				return apperrors.Internal("insert job parent", err)
			}
		}
		for _, ev := range events {
			if err := r.appendEvent(ctx, ev); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.Job{}, err
	}
	return r.Get(ctx, j.OwnerID, j.ID)
}

func (r *Repository) insert(ctx context.Context, j domain.Job) error {
	params, err := json.Marshal(j.Parameters)
	if err != nil {
		return apperrors.Internal("marshal job parameters", err)
	}
	tags, err := json.Marshal(j.Tags)
	if err != nil {
		return apperrors.Internal("marshal job tags", err)
	}
	data, err := json.Marshal(j.Data)
	if err != nil {
		return apperrors.Internal("marshal job data", err)
	}

	query := `INSERT INTO jobs (
		id, owner_id, workdir, app_id, site_id, parameters, tags,
		ranks_per_node, threads_per_rank, node_packing_count, wall_time_min, gpus_per_rank, launch_params,
		state, last_update, batch_job_id, session_id, return_code, data
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`

	_, err = r.ExecContext(ctx, query,
		j.ID, j.OwnerID, j.Workdir, j.AppID, j.SiteID, params, tags,
		j.RanksPerNode, j.ThreadsPerRank, j.NodePackingCount, j.WallTimeMin, j.GPUsPerRank, j.LaunchParams,
		j.State, j.LastUpdate, j.BatchJobID, j.SessionID, j.ReturnCode, data,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return apperrors.Conflict("job workdir must be unique per site")
		}
		return apperrors.Internal("insert job", err)
	}
	return nil
}

func (r *Repository) appendEvent(ctx context.Context, ev domain.LogEvent) error {
	query := `INSERT INTO log_events (job_id, timestamp, from_state, to_state, message) VALUES ($1,$2,$3,$4,$5)`
	_, err := r.ExecContext(ctx, query, ev.JobID, ev.Timestamp, ev.FromState, ev.ToState, ev.Message)
	if err != nil {
		return apperrors.Internal("append log event", err)
	}
	return nil
}

// Patch carries the writable fields of a Job update (spec §4.2): only
// workdir, tags, parameters, resource hints, state(+message/timestamp),
// return_code, parents, batch_job_ref, and data may be written by a client.
// Nil fields are left unset on the stored row.
type Patch struct {
	Workdir        *string
	Tags           map[string]string
	Parameters     map[string]string
	ResourceHints  *domain.ResourceHints
	State          *domain.JobState
	StateMessage   string
	StateTimestamp *time.Time
	ReturnCode     *int
	Parents        []string
	BatchJobID     *string
	Data           map[string]string
}

// Update applies patch to the Job id, scoped to ownerID. A non-nil
// patch.State is routed through ApplyTransition so the state machine
// validates it before anything else is written; all other fields are
// applied alongside in the same transaction. The server always sets
// last_update = now, overwriting any client value (spec §4.2). The returned
// LogEvent is the zero value unless patch.State caused a transition.
func (r *Repository) Update(ctx context.Context, ownerID, id string, patch Patch, now time.Time) (domain.Job, domain.LogEvent, error) {
	var event domain.LogEvent
	if patch.State != nil {
		_, ev, err := r.ApplyTransition(ctx, ownerID, id, *patch.State, patch.StateMessage, now)
		if err != nil {
			return domain.Job{}, domain.LogEvent{}, err
		}
		event = ev
	}

	sets := []string{"last_update = $1"}
	args := []any{now}
	pos := 2

	add := func(col string, val any) {
		sets = append(sets, col+" = $"+strconv.Itoa(pos))
		args = append(args, val)
		pos++
	}

	if patch.Workdir != nil {
		add("workdir", *patch.Workdir)
	}
	if patch.Tags != nil {
		data, _ := json.Marshal(patch.Tags)
		add("tags", data)
	}
	if patch.Parameters != nil {
		data, _ := json.Marshal(patch.Parameters)
		add("parameters", data)
	}
	if patch.ResourceHints != nil {
		add("ranks_per_node", patch.ResourceHints.RanksPerNode)
		add("threads_per_rank", patch.ResourceHints.ThreadsPerRank)
		add("node_packing_count", patch.ResourceHints.NodePackingCount)
		add("wall_time_min", patch.ResourceHints.WallTimeMin)
		add("gpus_per_rank", patch.ResourceHints.GPUsPerRank)
		add("launch_params", patch.ResourceHints.LaunchParams)
	}
	if patch.ReturnCode != nil {
		add("return_code", *patch.ReturnCode)
	}
	if patch.BatchJobID != nil {
		add("batch_job_id", *patch.BatchJobID)
	}
	if patch.Data != nil {
		data, _ := json.Marshal(patch.Data)
		add("data", data)
	}

	err := r.WithTx(ctx, func(ctx context.Context) error {
		if patch.State != nil {
			_, ev, err := r.ApplyTransition(ctx, ownerID, id, *patch.State, patch.StateMessage, now)
			if err != nil {
				return err
			}
			event = ev
		}
		if len(sets) > 1 {
			query := "UPDATE jobs SET " + joinSets(sets) + " WHERE id = $" + strconv.Itoa(pos) + " AND owner_id = $" + strconv.Itoa(pos+1)
			args = append(args, id, ownerID)
			result, err := r.ExecContext(ctx, query, args...)
			if err != nil {
				return apperrors.Internal("update job", err)
			}
			rows, _ := result.RowsAffected()
			if rows == 0 {
				return apperrors.NotFound("job", id)
			}
		}
		if patch.Parents != nil {
			if _, err := r.ExecContext(ctx, `DELETE FROM job_parents WHERE job_id = $1`, id); err != nil {
				return apperrors.Internal("clear job parents", err)
			}
			for _, p := range patch.Parents {
				if _, err := r.ExecContext(ctx, `INSERT INTO job_parents (job_id, parent_id) VALUES ($1, $2)`, id, p); err != nil {
					return apperrors.Internal("insert job parent", err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return domain.Job{}, domain.LogEvent{}, err
	}
	updated, err := r.Get(ctx, ownerID, id)
	return updated, event, err
}

func joinSets(sets []string) string {
	out := sets[0]
	for _, s := range sets[1:] {
		out += ", " + s
	}
	return out
}

// Get returns the Job with id, scoped to ownerID. Per spec §4.3,
// state_message and state_timestamp are never stored on the row, so the
// returned Job always has them empty/nil regardless of what a prior write
// proposed.
func (r *Repository) Get(ctx context.Context, ownerID, id string) (domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1 AND owner_id = $2`
	row := r.QueryRowContext(ctx, query, id, ownerID)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return domain.Job{}, apperrors.NotFound("job", id)
	}
	if err != nil {
		return domain.Job{}, apperrors.Internal("get job", err)
	}
	parents, err := r.parentsOf(ctx, j.ID)
	if err != nil {
		return domain.Job{}, err
	}
	j.Parents = parents
	return j, nil
}

// ApplyTransition validates from->to via jobstate.Apply and, if accepted,
// persists the new state and appends the LogEvent in one transaction. It
// returns the appended LogEvent alongside the updated Job so callers that
// publish change notifications (the bulk service) don't have to re-query
// the event log to learn what was recorded. message is recorded only on the
// LogEvent, never the Job row, and the LogEvent is stamped with now (spec
// §4.3).
func (r *Repository) ApplyTransition(ctx context.Context, ownerID, id string, to domain.JobState, message string, now time.Time) (domain.Job, domain.LogEvent, error) {
	current, err := r.Get(ctx, ownerID, id)
	if err != nil {
		return domain.Job{}, domain.LogEvent{}, err
	}

	result, err := jobstate.Apply(id, current.State, to, message, now)
	if err != nil {
		return domain.Job{}, domain.LogEvent{}, apperrors.InvalidTransition(err)
	}

	err = r.WithTx(ctx, func(ctx context.Context) error {
		query := `UPDATE jobs SET state = $1, last_update = $2 WHERE id = $3 AND owner_id = $4`
		if _, err := r.ExecContext(ctx, query, result.State, now, id, ownerID); err != nil {
			return apperrors.Internal("update job state", err)
		}
		if result.Event.ToState != "" {
			return r.appendEvent(ctx, result.Event)
		}
		return nil
	})
	if err != nil {
		return domain.Job{}, domain.LogEvent{}, err
	}
	if result.State == domain.JobFinished {
		if err := r.advanceReadyChildren(ctx, id, now); err != nil {
			return domain.Job{}, domain.LogEvent{}, err
		}
	}
	updated, err := r.Get(ctx, ownerID, id)
	return updated, result.Event, err
}

// advanceReadyChildren recomputes readiness for every child of a job that
// just reached JOB_FINISHED (spec §4.3 "child-readiness recomputation",
// §8 property 7): a child in AWAITING_PARENTS whose parents are now all
// JOB_FINISHED advances to READY.
func (r *Repository) advanceReadyChildren(ctx context.Context, parentID string, now time.Time) error {
	query := `
		SELECT j.id, j.owner_id FROM jobs j
		JOIN job_parents jp ON jp.job_id = j.id
		WHERE jp.parent_id = $1 AND j.state = $2
		AND NOT EXISTS (
			SELECT 1 FROM job_parents jp2
			JOIN jobs pj ON pj.id = jp2.parent_id
			WHERE jp2.job_id = j.id AND pj.state != $3
		)`
	rows, err := r.QueryContext(ctx, query, parentID, domain.JobAwaitingParents, domain.JobFinished)
	if err != nil {
		return apperrors.Internal("find ready children", err)
	}
	type childRef struct{ id, owner string }
	var children []childRef
	for rows.Next() {
		var c childRef
		if err := rows.Scan(&c.id, &c.owner); err != nil {
			rows.Close()
			return apperrors.Internal("scan ready child", err)
		}
		children = append(children, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return apperrors.Internal("find ready children", err)
	}

	for _, c := range children {
		result := jobstate.AdvanceParentReady(c.id, now)
		err := r.WithTx(ctx, func(ctx context.Context) error {
			q := `UPDATE jobs SET state = $1, last_update = $2 WHERE id = $3`
			if _, err := r.ExecContext(ctx, q, result.State, now, c.id); err != nil {
				return apperrors.Internal("advance child to ready", err)
			}
			return r.appendEvent(ctx, result.Event)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) parentsOf(ctx context.Context, jobID string) ([]string, error) {
	rows, err := r.QueryContext(ctx, `SELECT parent_id FROM job_parents WHERE job_id = $1 ORDER BY parent_id`, jobID)
	if err != nil {
		return nil, apperrors.Internal("list job parents", err)
	}
	defer rows.Close()
	var parents []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, apperrors.Internal("scan job parent", err)
		}
		parents = append(parents, p)
	}
	return parents, rows.Err()
}

// List returns Jobs owned by ownerID matching q, with the filtered total.
func (r *Repository) List(ctx context.Context, ownerID string, q Query) (storage.ListResult[domain.Job], error) {
	pg := q.Pagination.Normalize(1000)
	b := buildFilteredQuery(ownerID, q)

	countSQL, countArgs := b.BuildCount()
	var total int64
	if err := r.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return storage.ListResult[domain.Job]{}, apperrors.Internal("count jobs", err)
	}

	b = applyOrdering(b, q.OrderBy).Limit(pg.Limit).Offset(pg.Offset)
	sqlStr, args := b.Build()
	rows, err := r.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return storage.ListResult[domain.Job]{}, apperrors.Internal("list jobs", err)
	}
	defer rows.Close()

	var items []domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return storage.ListResult[domain.Job]{}, apperrors.Internal("scan job", err)
		}
		parents, err := r.parentsOf(ctx, j.ID)
		if err != nil {
			return storage.ListResult[domain.Job]{}, err
		}
		j.Parents = parents
		items = append(items, j)
	}
	if err := rows.Err(); err != nil {
		return storage.ListResult[domain.Job]{}, apperrors.Internal("list jobs", err)
	}

	return storage.NewListResult(items, total, pg.Limit, pg.Offset), nil
}

// Delete removes the Job id, scoped to ownerID, along with its parent edges.
func (r *Repository) Delete(ctx context.Context, ownerID, id string) error {
	return r.WithTx(ctx, func(ctx context.Context) error {
		if _, err := r.ExecContext(ctx, `DELETE FROM job_parents WHERE job_id = $1 OR parent_id = $1`, id); err != nil {
			return apperrors.Internal("delete job parents", err)
		}
		result, err := r.ExecContext(ctx, `DELETE FROM jobs WHERE id = $1 AND owner_id = $2`, id, ownerID)
		if err != nil {
			return apperrors.Internal("delete job", err)
		}
		rows, _ := result.RowsAffected()
		if rows == 0 {
			return apperrors.NotFound("job", id)
		}
		return nil
	})
}

// DeleteByQuery deletes every Job matching q, scoped to ownerID (spec §6's
// collection-level Job DELETE), returning the deleted ids so the caller can
// publish a single pub/sub batch.
func (r *Repository) DeleteByQuery(ctx context.Context, ownerID string, q Query) ([]string, error) {
	var ids []string
	err := r.WithTx(ctx, func(ctx context.Context) error {
		b := buildFilteredQuery(ownerID, q)
		sqlStr, args := b.Build()
		rows, err := r.QueryContext(ctx, sqlStr, args...)
		if err != nil {
			return apperrors.Internal("select jobs for delete", err)
		}
		for rows.Next() {
			j, err := scanJob(rows)
			if err != nil {
				rows.Close()
				return apperrors.Internal("scan job for delete", err)
			}
			ids = append(ids, j.ID)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return apperrors.Internal("select jobs for delete", err)
		}
		rows.Close()
		for _, id := range ids {
			if _, err := r.ExecContext(ctx, `DELETE FROM job_parents WHERE job_id = $1 OR parent_id = $1`, id); err != nil {
				return apperrors.Internal("delete job parents", err)
			}
			if _, err := r.ExecContext(ctx, `DELETE FROM jobs WHERE id = $1`, id); err != nil {
				return apperrors.Internal("delete job", err)
			}
		}
		return nil
	})
	return ids, err
}

// Count projects q with no pagination (spec §4.1 "count is a projection of
// the filter with no pagination").
func (r *Repository) Count(ctx context.Context, ownerID string, q Query) (int64, error) {
	b := buildFilteredQuery(ownerID, q)
	sqlStr, args := b.BuildCount()
	var total int64
	if err := r.QueryRowContext(ctx, sqlStr, args...).Scan(&total); err != nil {
		return 0, apperrors.Internal("count jobs", err)
	}
	return total, nil
}

func buildFilteredQuery(ownerID string, q Query) *postgres.SelectBuilder {
	b := postgres.NewSelectBuilder("jobs").Columns(jobColumnList...).WhereEq("owner_id", ownerID)

	if len(q.IDs) > 0 {
		ids := make([]any, len(q.IDs))
		for i, id := range q.IDs {
			ids[i] = id
		}
		b = b.WhereIn("id", ids)
	}
	if q.ParentID != "" {
		b = b.Where("id IN (SELECT job_id FROM job_parents WHERE parent_id = ?)", q.ParentID)
	}
	if q.AppID != "" {
		b = b.WhereEq("app_id", q.AppID)
	}
	if q.SiteID != "" {
		b = b.WhereEq("site_id", q.SiteID)
	}
	if q.BatchJobID != "" {
		b = b.WhereEq("batch_job_id", q.BatchJobID)
	}
	if q.LastUpdateLE != nil {
		b = b.Where("last_update <= ?", *q.LastUpdateLE)
	}
	if q.LastUpdateGE != nil {
		b = b.Where("last_update >= ?", *q.LastUpdateGE)
	}
	if q.WorkdirLike != "" {
		b = b.Where("workdir LIKE ?", "%"+q.WorkdirLike+"%")
	}
	if len(q.States) > 0 {
		states := make([]any, len(q.States))
		for i, s := range q.States {
			states[i] = s
		}
		b = b.WhereIn("state", states)
	}
	if q.NotState != "" {
		b = b.Where("state != ?", q.NotState)
	}
	if len(q.TagsSuperset) > 0 {
		data, _ := json.Marshal(q.TagsSuperset)
		b = b.WhereContainsAll("tags", string(data))
	}
	if len(q.ParamsSuperset) > 0 {
		data, _ := json.Marshal(q.ParamsSuperset)
		b = b.WhereContainsAll("parameters", string(data))
	}
	return b
}

// applyOrdering appends q's order terms, defaulting to "id ASC" (spec §4.1
// "Ordering defaults: jobs by id").
func applyOrdering(b *postgres.SelectBuilder, order []OrderTerm) *postgres.SelectBuilder {
	if len(order) == 0 {
		return b.OrderBy("id", false)
	}
	for _, t := range order {
		col, ok := allowedOrderColumns[t.Column]
		if !ok {
			continue
		}
		b = b.OrderBy(col, t.Descending)
	}
	return b
}

var jobColumnList = []string{
	"id", "owner_id", "workdir", "app_id", "site_id", "parameters", "tags",
	"ranks_per_node", "threads_per_rank", "node_packing_count", "wall_time_min", "gpus_per_rank", "launch_params",
	"state", "last_update", "batch_job_id", "session_id", "return_code", "data",
}

var jobColumns = "id, owner_id, workdir, app_id, site_id, parameters, tags, " +
	"ranks_per_node, threads_per_rank, node_packing_count, wall_time_min, gpus_per_rank, launch_params, " +
	"state, last_update, batch_job_id, session_id, return_code, data"

func scanJob(row storage.Scanner) (domain.Job, error) {
	var j domain.Job
	var params, tags, data []byte
	if err := row.Scan(
		&j.ID, &j.OwnerID, &j.Workdir, &j.AppID, &j.SiteID, &params, &tags,
		&j.RanksPerNode, &j.ThreadsPerRank, &j.NodePackingCount, &j.WallTimeMin, &j.GPUsPerRank, &j.LaunchParams,
		&j.State, &j.LastUpdate, &j.BatchJobID, &j.SessionID, &j.ReturnCode, &data,
	); err != nil {
		return domain.Job{}, err
	}
	if len(params) > 0 {
		_ = json.Unmarshal(params, &j.Parameters)
	}
	if len(tags) > 0 {
		_ = json.Unmarshal(tags, &j.Tags)
	}
	if len(data) > 0 {
		_ = json.Unmarshal(data, &j.Data)
	}
	return j, nil
}
