package sessions

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/tylern4/balsam/internal/domain"
	"github.com/tylern4/balsam/internal/jobs"
	"github.com/tylern4/balsam/internal/metrics"
	"github.com/tylern4/balsam/pkg/apperrors"
	"github.com/tylern4/balsam/pkg/storage"
)

// AcquireSpec is the client-supplied acquisition request (spec §4.4).
type AcquireSpec struct {
	States         []domain.JobState
	FilterTags     map[string]string
	AcquireUnbound bool
	MaxNumAcquire  int
	NodeResources  *NodeResources
	OrderBy        []jobs.OrderTerm
}

// Acquire atomically selects up to spec.MaxNumAcquire Jobs satisfying spec
// (spec §4.4 rules 1-7), binds them to session, and returns the acquired
// Jobs in placement order. The candidate scan and the session_id/batch_job_id
// write execute inside one transaction with row-level locking so two
// concurrent acquires never lease the same Job (spec §8 property 1).
func (r *Repository) Acquire(ctx context.Context, ownerID, sessionID string, spec AcquireSpec, now time.Time) ([]domain.Job, error) {
	session, err := r.Get(ctx, ownerID, sessionID)
	if err != nil {
		return nil, err
	}

	limit := spec.MaxNumAcquire
	if limit <= 0 {
		limit = 1000
	}

	var acquired []domain.Job
	err = r.WithTx(ctx, func(ctx context.Context) error {
		candidates, err := r.lockCandidates(ctx, ownerID, session, spec, limit)
		if err != nil {
			return err
		}

		placed := candidates
		if spec.NodeResources != nil {
			result := Pack(candidates, spec.NodeResources)
			placed = result.Placed
			if result.WallTimeExceeded > 0 {
				metrics.AcquisitionsSkipped.WithLabelValues("wall-time-exceeded").Add(float64(result.WallTimeExceeded))
			}
			if result.ResourceExhausted > 0 {
				metrics.AcquisitionsSkipped.WithLabelValues("resource-exhausted").Add(float64(result.ResourceExhausted))
			}
		}

		for _, job := range placed {
			setBatchJobID := job.BatchJobID
			if !spec.AcquireUnbound && session.BatchJobID != nil {
				setBatchJobID = session.BatchJobID
			}
			query := `UPDATE jobs SET session_id = $1, batch_job_id = $2 WHERE id = $3`
			if _, err := r.ExecContext(ctx, query, sessionID, setBatchJobID, job.ID); err != nil {
				return apperrors.Internal("bind acquired job", err)
			}
		}
		acquired = placed
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.AcquisitionsGranted.Add(float64(len(acquired)))
	return acquired, nil
}

// lockCandidates selects and row-locks (FOR UPDATE SKIP LOCKED) every Job
// eligible under spec §4.4 rules 1-6, ordered per spec.OrderBy (or id
// ascending), capped at limit rows.
func (r *Repository) lockCandidates(ctx context.Context, ownerID string, session domain.Session, spec AcquireSpec, limit int) ([]domain.Job, error) {
	query := `SELECT ` + jobSelectColumns + ` FROM jobs
	          WHERE owner_id = $1 AND site_id = $2 AND session_id IS NULL`
	args := []any{ownerID, session.SiteID}
	n := 3

	if len(spec.States) > 0 {
		placeholders := ""
		for i, s := range spec.States {
			if i > 0 {
				placeholders += ", "
			}
			placeholders += placeholder(n)
			args = append(args, s)
			n++
		}
		query += " AND state IN (" + placeholders + ")"
	}
	if len(spec.FilterTags) > 0 {
		data, _ := json.Marshal(spec.FilterTags)
		query += " AND tags @> " + placeholder(n)
		args = append(args, string(data))
		n++
	}

	if spec.AcquireUnbound {
		query += " AND batch_job_id IS NULL"
	} else if session.BatchJobID != nil {
		query += " AND (batch_job_id = " + placeholder(n) + " OR batch_job_id IS NULL)"
		args = append(args, *session.BatchJobID)
		n++
	}

	query += orderClause(spec.OrderBy) + " LIMIT " + placeholder(n) + " FOR UPDATE SKIP LOCKED"
	args = append(args, limit)

	rows, err := r.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Internal("select acquisition candidates", err)
	}
	defer rows.Close()

	var candidates []domain.Job
	for rows.Next() {
		j, err := scanCandidate(rows)
		if err != nil {
			return nil, apperrors.Internal("scan acquisition candidate", err)
		}
		if !spec.AcquireUnbound && session.BatchJobID != nil && j.BatchJobID == nil {
			// rule 5: unbound candidate matching the session's BatchJob must
			// also satisfy the BatchJob's filter_tags as a subset of the
			// Job's tags. The join to batch_jobs.filter_tags happens here in
			// Go since the comparison direction (BatchJob tags ⊆ Job tags)
			// is the mirror of the @> used for client filter_tags above.
			ok, err := r.jobSatisfiesBatchJobTags(ctx, j.ID, *session.BatchJobID)
			if err != nil {
				return nil, err
			}
			if !ok {
				metrics.AcquisitionsSkipped.WithLabelValues("tag-mismatch").Inc()
				continue
			}
		}
		candidates = append(candidates, j)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Internal("select acquisition candidates", err)
	}
	return candidates, nil
}

func (r *Repository) jobSatisfiesBatchJobTags(ctx context.Context, jobID, batchJobID string) (bool, error) {
	var ok bool
	query := `SELECT bj.filter_tags <@ j.tags FROM jobs j, batch_jobs bj WHERE j.id = $1 AND bj.id = $2`
	if err := r.QueryRowContext(ctx, query, jobID, batchJobID).Scan(&ok); err != nil {
		return false, apperrors.Internal("check batch job filter tags", err)
	}
	return ok, nil
}

func orderClause(order []jobs.OrderTerm) string {
	if len(order) == 0 {
		return " ORDER BY id ASC"
	}
	clause := " ORDER BY"
	for i, t := range order {
		col, ok := allowedAcquireOrderColumns[t.Column]
		if !ok {
			continue
		}
		if i > 0 {
			clause += ","
		}
		clause += " " + col
		if t.Descending {
			clause += " DESC"
		} else {
			clause += " ASC"
		}
	}
	if clause == " ORDER BY" {
		return " ORDER BY id ASC"
	}
	return clause
}

var allowedAcquireOrderColumns = map[string]string{
	"id":            "id",
	"last_update":   "last_update",
	"state":         "state",
	"wall_time_min": "wall_time_min",
	"site_id":       "site_id",
	"app_id":        "app_id",
}

func placeholder(n int) string {
	return "$" + strconv.Itoa(n)
}

const jobSelectColumns = "id, owner_id, workdir, app_id, site_id, parameters, tags, " +
	"ranks_per_node, threads_per_rank, node_packing_count, wall_time_min, gpus_per_rank, launch_params, " +
	"state, last_update, batch_job_id, session_id, return_code, data"

func scanCandidate(rows storage.Scanner) (domain.Job, error) {
	var j domain.Job
	var params, tags, data []byte
	if err := rows.Scan(
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
