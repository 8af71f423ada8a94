package batchjobs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/tidwall/gjson"

	"github.com/tylern4/balsam/internal/domain"
	"github.com/tylern4/balsam/internal/schedadapter"
	"github.com/tylern4/balsam/pkg/apperrors"
)

// Patch carries a client-proposed BatchJob update. Fields frozen by
// domain.BatchJobState.Frozen() are only honored while the stored state is
// unfrozen, or when Revert is set (in which case they are discarded instead
// of applied); every other field is always writable.
type Patch struct {
	Project     *string
	Queue       *string
	NumNodes    *int
	WallTimeMin *int
	JobMode     *string
	State       *domain.BatchJobState
	SchedulerID *int64
	StatusInfo  *string
	StartTime   *time.Time
	EndTime     *time.Time
	Revert      bool
}

// Apply is the revert reconciler: it applies patch to the BatchJob id. If
// the stored state is frozen (spec §4.5) and patch proposes a different
// value for any frozen field without Revert, the whole update is rejected
// with Conflict. A Revert patch instead discards every proposed
// frozen-field value and writes the stored value back unchanged, clearing
// the transient revert flag — the client's acknowledgment that the
// server's stored value wins (spec glossary "Revert").
func (r *Repository) Apply(ctx context.Context, ownerID, id string, patch Patch) (domain.BatchJob, error) {
	current, err := r.Get(ctx, ownerID, id)
	if err != nil {
		return domain.BatchJob{}, err
	}

	if current.State.Frozen() && !patch.Revert {
		if err := rejectFrozenDrift(current, patch); err != nil {
			return domain.BatchJob{}, err
		}
	}

	next := current
	if patch.Revert {
		// Server's stored value always wins; proposed values are discarded.
		next.Revert = false
	} else {
		if patch.Project != nil {
			next.Project = *patch.Project
		}
		if patch.Queue != nil {
			next.Queue = *patch.Queue
		}
		if patch.NumNodes != nil {
			next.NumNodes = *patch.NumNodes
		}
		if patch.WallTimeMin != nil {
			next.WallTimeMin = *patch.WallTimeMin
		}
		if patch.JobMode != nil {
			next.JobMode = *patch.JobMode
		}
	}
	if patch.State != nil {
		next.State = *patch.State
	}
	if patch.SchedulerID != nil {
		next.SchedulerID = patch.SchedulerID
	}
	if patch.StatusInfo != nil {
		next.StatusInfo = *patch.StatusInfo
	}
	if patch.StartTime != nil {
		next.StartTime = patch.StartTime
	}
	if patch.EndTime != nil {
		next.EndTime = patch.EndTime
	}

	tags, err := json.Marshal(next.FilterTags)
	if err != nil {
		return domain.BatchJob{}, apperrors.Internal("marshal filter tags", err)
	}

	query := `UPDATE batch_jobs SET project=$1, queue=$2, num_nodes=$3, wall_time_min=$4, job_mode=$5,
	          filter_tags=$6, scheduler_id=$7, state=$8, status_info=$9, start_time=$10, end_time=$11
	          WHERE id=$12 AND owner_id=$13`
	result, err := r.ExecContext(ctx, query,
		next.Project, next.Queue, next.NumNodes, next.WallTimeMin, next.JobMode,
		tags, next.SchedulerID, next.State, next.StatusInfo, next.StartTime, next.EndTime,
		id, ownerID,
	)
	if err != nil {
		return domain.BatchJob{}, apperrors.Internal("update batch job", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.BatchJob{}, apperrors.NotFound("batch_job", id)
	}
	return r.Get(ctx, ownerID, id)
}

// rejectFrozenDrift returns a Conflict error if patch proposes a value for
// any frozen field that differs from current's stored value.
func rejectFrozenDrift(current domain.BatchJob, patch Patch) error {
	if patch.WallTimeMin != nil && *patch.WallTimeMin != current.WallTimeMin {
		return apperrors.Conflict("wall_time_min is frozen once the batch job is queued; retry with revert=true")
	}
	if patch.NumNodes != nil && *patch.NumNodes != current.NumNodes {
		return apperrors.Conflict("num_nodes is frozen once the batch job is queued; retry with revert=true")
	}
	if patch.Project != nil && *patch.Project != current.Project {
		return apperrors.Conflict("project is frozen once the batch job is queued; retry with revert=true")
	}
	if patch.Queue != nil && *patch.Queue != current.Queue {
		return apperrors.Conflict("queue is frozen once the batch job is queued; retry with revert=true")
	}
	if patch.JobMode != nil && *patch.JobMode != current.JobMode {
		return apperrors.Conflict("job_mode is frozen once the batch job is queued; retry with revert=true")
	}
	return nil
}

// ExtractStatusField pulls a single field out of a BatchJob's opaque
// status_info blob (a scheduler-specific JSON document reported verbatim by
// the adapter) without requiring a fixed schema per scheduler backend.
func ExtractStatusField(statusInfo, path string) string {
	return gjson.Get(statusInfo, path).String()
}

// WallTimeRemainingMinutes pulls the scheduler's "TimeRemaining" status
// field (the PBS equivalent's _status_fields mapping for
// time_remaining_min) out of status_info and parses it into whole minutes.
// A missing or malformed field yields 0 rather than an error (spec §11
// Open Question 1), so a poll never fails just because a backend omits or
// garbles this one optional field.
func WallTimeRemainingMinutes(statusInfo string) int {
	raw := ExtractStatusField(statusInfo, "TimeRemaining")
	if raw == "" {
		return 0
	}
	minutes, _ := schedadapter.ParseWallTimeMinutes(raw)
	return minutes
}
