package batchjobs

import (
	"context"

	"github.com/tylern4/balsam/internal/schedadapter"
	"github.com/tylern4/balsam/pkg/logger"
)

// SchedulerAdapter is the subset of schedadapter.Adapter's surface the
// sweeper needs. Defined here, against the concrete request/result types
// rather than an interface re-declared per caller, so a test can substitute
// a fake without pulling in the circuit-breaker/retry machinery.
type SchedulerAdapter interface {
	Submit(ctx context.Context, req schedadapter.SubmitRequest) (schedadapter.SubmitResult, error)
	Status(ctx context.Context, schedulerID int64) (schedadapter.SubmitResult, error)
}

// Sweeper drives the asynchronous half of the BatchJob lifecycle Create's
// doc comment describes: it submits pending_submission BatchJobs through a
// SchedulerAdapter and periodically refreshes queued/running ones by
// polling scheduler status, applying every result through Apply so the
// frozen-field revert protocol (spec §4.5) governs scheduler-reported
// writes exactly as it governs client ones.
type Sweeper struct {
	repo    *Repository
	adapter SchedulerAdapter
	log     *logger.Logger
}

// NewSweeper wires a Sweeper from a BatchJob repository and adapter.
func NewSweeper(repo *Repository, adapter SchedulerAdapter, log *logger.Logger) *Sweeper {
	return &Sweeper{repo: repo, adapter: adapter, log: log}
}

// SubmitPending submits every pending_submission BatchJob through the
// adapter and applies the result. A single job's submit failure is logged
// and skipped rather than aborting the rest of the sweep.
func (s *Sweeper) SubmitPending(ctx context.Context) error {
	pending, err := s.repo.pendingSubmissions(ctx)
	if err != nil {
		return err
	}
	for _, bj := range pending {
		result, err := s.adapter.Submit(ctx, schedadapter.SubmitRequest{
			Project:     bj.Project,
			Queue:       bj.Queue,
			NumNodes:    bj.NumNodes,
			WallTimeMin: bj.WallTimeMin,
			JobMode:     bj.JobMode,
		})
		if err != nil {
			s.log.WithField("batch_job_id", bj.ID).WithField("error", err).Warn("batch job submission failed")
			continue
		}

		state := result.State
		if _, err := s.repo.Apply(ctx, bj.OwnerID, bj.ID, Patch{
			SchedulerID: &result.SchedulerID,
			State:       &state,
			StatusInfo:  &result.StatusInfo,
		}); err != nil {
			s.log.WithField("batch_job_id", bj.ID).WithField("error", err).Warn("applying submit result failed")
			continue
		}
		s.log.WithField("batch_job_id", bj.ID).WithField("scheduler_id", result.SchedulerID).Info("batch job submitted")
	}
	return nil
}

// PollStatus refreshes every queued/running BatchJob's scheduler-reported
// state and status_info. Wall time remaining is pulled out of the refreshed
// status_info and logged for operational visibility (spec §11); a missing
// or unparsable field yields 0 rather than aborting the poll.
func (s *Sweeper) PollStatus(ctx context.Context) error {
	inFlight, err := s.repo.inFlight(ctx)
	if err != nil {
		return err
	}
	for _, bj := range inFlight {
		if bj.SchedulerID == nil {
			continue
		}
		result, err := s.adapter.Status(ctx, *bj.SchedulerID)
		if err != nil {
			s.log.WithField("batch_job_id", bj.ID).WithField("error", err).Warn("batch job status poll failed")
			continue
		}

		state := result.State
		if state == "" {
			state = bj.State
		}
		remaining := WallTimeRemainingMinutes(result.StatusInfo)
		if _, err := s.repo.Apply(ctx, bj.OwnerID, bj.ID, Patch{
			State:      &state,
			StatusInfo: &result.StatusInfo,
		}); err != nil {
			s.log.WithField("batch_job_id", bj.ID).WithField("error", err).Warn("applying status result failed")
			continue
		}
		s.log.WithField("batch_job_id", bj.ID).
			WithField("wall_time_remaining_min", remaining).
			Info("batch job status refreshed")
	}
	return nil
}
