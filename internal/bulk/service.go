// Package bulk implements the bulk mutation surface of spec §4.2:
// bulk_create, bulk_update, update_by_query, and delete_by_query, each
// all-or-nothing and each publishing one pub/sub batch per (action, entity)
// pair touched (spec §4.6). Grounded on the route/transaction/publish
// sequencing of original_source/balsam/server/routers/jobs.py's bulk_create/
// bulk_update/query_update handlers, and on the teacher's
// internal/services/functions.Service struct shape (a flat field per
// dependency, a constructor, no embedded business logic beyond composing
// the dependencies) for how the service is wired together.
package bulk

import (
	"context"
	"fmt"
	"time"

	"github.com/tylern4/balsam/internal/batchjobs"
	"github.com/tylern4/balsam/internal/domain"
	"github.com/tylern4/balsam/internal/jobs"
	"github.com/tylern4/balsam/internal/jobstate"
	"github.com/tylern4/balsam/internal/metrics"
	"github.com/tylern4/balsam/internal/notify"
	"github.com/tylern4/balsam/pkg/apperrors"
)

// observeDuration records how long a bulk operation's transaction took,
// wiring metrics.BulkOperationDuration (spec's observability expansion).
func observeDuration(operation string, start time.Time) {
	metrics.BulkOperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// Service composes the Job and BatchJob repositories with the notifier to
// provide collection-level mutation endpoints, on top of the single-entity
// CRUD each repository already exposes.
type Service struct {
	jobs      *jobs.Repository
	batchJobs *batchjobs.Repository
	bus       *notify.Bus
}

// New wires a bulk Service from its three dependencies.
func New(jobsRepo *jobs.Repository, batchJobsRepo *batchjobs.Repository, bus *notify.Bus) *Service {
	return &Service{jobs: jobsRepo, batchJobs: batchJobsRepo, bus: bus}
}

// JobPatch pairs an id with the patch to apply to it, the shape bulk_update
// receives as a list keyed by id.
type JobPatch struct {
	ID    string
	Patch jobs.Patch
}

// BatchJobPatch pairs an id with the patch to apply to it.
type BatchJobPatch struct {
	ID    string
	Patch batchjobs.Patch
}

// BulkCreateJobs inserts every spec in one transaction. On success it
// publishes one "bulk-create"/"job" batch, and, separately, one
// "bulk-create"/"event" batch for the creation LogEvents every Job's
// ∅→STAGED_IN(→READY) transition produced — the same per-entity-type
// publish split the original bulk_create handler makes.
func (s *Service) BulkCreateJobs(ctx context.Context, ownerID string, specs []domain.Job, now time.Time) ([]domain.Job, error) {
	defer observeDuration("bulk_create_jobs", time.Now())
	created := make([]domain.Job, 0, len(specs))
	var events []domain.LogEvent
	err := s.jobs.WithTx(ctx, func(ctx context.Context) error {
		for _, spec := range specs {
			spec.OwnerID = ownerID
			job, err := s.jobs.Create(ctx, spec, now)
			if err != nil {
				return err
			}
			created = append(created, job)
			_, evs := jobstate.CreationEvents(job.ID, len(job.Parents) > 0, now)
			events = append(events, evs...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	publishBatch(ctx, s.bus, ownerID, "bulk-create", "job", created)
	publishBatch(ctx, s.bus, ownerID, "bulk-create", "event", events)
	return created, nil
}

// BulkUpdateJobs applies one patch per id in patches, inside one
// transaction. Duplicate ids fail the whole call with ValidationError
// before anything is written (spec §4.2). Each patch that changes state
// goes through the state machine (jobs.Repository.Update already routes
// State through ApplyTransition); the LogEvents produced are published in
// their own "bulk-create"/"event" batch alongside the "bulk-update"/"job"
// batch.
func (s *Service) BulkUpdateJobs(ctx context.Context, ownerID string, patches []JobPatch, now time.Time) ([]domain.Job, error) {
	defer observeDuration("bulk_update_jobs", time.Now())
	if err := rejectDuplicateJobIDs(patches); err != nil {
		return nil, err
	}

	updated := make([]domain.Job, 0, len(patches))
	var events []domain.LogEvent
	err := s.jobs.WithTx(ctx, func(ctx context.Context) error {
		for _, p := range patches {
			job, event, err := s.jobs.Update(ctx, ownerID, p.ID, p.Patch, now)
			if err != nil {
				return err
			}
			updated = append(updated, job)
			if event.ToState != "" {
				events = append(events, event)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	publishBatch(ctx, s.bus, ownerID, "bulk-update", "job", updated)
	if len(events) > 0 {
		publishBatch(ctx, s.bus, ownerID, "bulk-create", "event", events)
	}
	return updated, nil
}

// UpdateJobsByQuery applies one patch to every Job matching q, inside one
// transaction, mirroring the original query_update handler's "select then
// patch every match" shape.
func (s *Service) UpdateJobsByQuery(ctx context.Context, ownerID string, q jobs.Query, patch jobs.Patch, now time.Time) ([]domain.Job, error) {
	defer observeDuration("update_jobs_by_query", time.Now())
	var updated []domain.Job
	var events []domain.LogEvent
	err := s.jobs.WithTx(ctx, func(ctx context.Context) error {
		matches, err := s.jobs.List(ctx, ownerID, q)
		if err != nil {
			return err
		}
		for _, m := range matches.Items {
			job, event, err := s.jobs.Update(ctx, ownerID, m.ID, patch, now)
			if err != nil {
				return err
			}
			updated = append(updated, job)
			if event.ToState != "" {
				events = append(events, event)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	publishBatch(ctx, s.bus, ownerID, "bulk-update", "job", updated)
	if len(events) > 0 {
		publishBatch(ctx, s.bus, ownerID, "bulk-create", "event", events)
	}
	return updated, nil
}

// DeleteJobsByQuery deletes every Job matching q in one transaction (spec
// §6's collection-level Job DELETE) and publishes one "bulk-delete"/"job"
// batch naming the deleted ids.
func (s *Service) DeleteJobsByQuery(ctx context.Context, ownerID string, q jobs.Query) ([]string, error) {
	defer observeDuration("delete_jobs_by_query", time.Now())
	ids, err := s.jobs.DeleteByQuery(ctx, ownerID, q)
	if err != nil {
		return nil, err
	}
	publishBatch(ctx, s.bus, ownerID, "bulk-delete", "job", ids)
	return ids, nil
}

// BulkCreateBatchJobs inserts every spec in one transaction and publishes a
// single "bulk-create"/"batch_job" batch.
func (s *Service) BulkCreateBatchJobs(ctx context.Context, ownerID string, specs []domain.BatchJob) ([]domain.BatchJob, error) {
	defer observeDuration("bulk_create_batch_jobs", time.Now())
	created := make([]domain.BatchJob, 0, len(specs))
	err := s.batchJobs.WithTx(ctx, func(ctx context.Context) error {
		for _, spec := range specs {
			spec.OwnerID = ownerID
			bj, err := s.batchJobs.Create(ctx, spec)
			if err != nil {
				return err
			}
			created = append(created, bj)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	publishBatch(ctx, s.bus, ownerID, "bulk-create", "batch_job", created)
	return created, nil
}

// BulkUpdateBatchJobs applies one patch per id in patches, inside one
// transaction, routing every patch through batchjobs.Repository.Apply so
// the frozen-field revert protocol (spec §4.5) still governs each update.
// Duplicate ids fail the whole call with ValidationError.
func (s *Service) BulkUpdateBatchJobs(ctx context.Context, ownerID string, patches []BatchJobPatch) ([]domain.BatchJob, error) {
	defer observeDuration("bulk_update_batch_jobs", time.Now())
	if err := rejectDuplicateBatchJobIDs(patches); err != nil {
		return nil, err
	}

	updated := make([]domain.BatchJob, 0, len(patches))
	err := s.batchJobs.WithTx(ctx, func(ctx context.Context) error {
		for _, p := range patches {
			bj, err := s.batchJobs.Apply(ctx, ownerID, p.ID, p.Patch)
			if err != nil {
				return err
			}
			updated = append(updated, bj)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	publishBatch(ctx, s.bus, ownerID, "bulk-update", "batch_job", updated)
	return updated, nil
}

// DeleteBatchJobsByQuery always fails: spec §4.5 permits only per-row
// BatchJob deletion, so a filter-driven collection delete is not a
// supported operation rather than a degenerate no-op.
func (s *Service) DeleteBatchJobsByQuery(ctx context.Context, ownerID string, q batchjobs.Query) ([]domain.BatchJob, error) {
	return nil, apperrors.NotImplemented("batch_jobs has no filter-driven delete; delete by id")
}

func rejectDuplicateJobIDs(patches []JobPatch) error {
	seen := make(map[string]bool, len(patches))
	for _, p := range patches {
		if seen[p.ID] {
			return apperrors.ValidationError(fmt.Sprintf("duplicate job id %q in bulk_update", p.ID))
		}
		seen[p.ID] = true
	}
	return nil
}

func rejectDuplicateBatchJobIDs(patches []BatchJobPatch) error {
	seen := make(map[string]bool, len(patches))
	for _, p := range patches {
		if seen[p.ID] {
			return apperrors.ValidationError(fmt.Sprintf("duplicate batch_job id %q in bulk_update", p.ID))
		}
		seen[p.ID] = true
	}
	return nil
}

// publishBatch emits one Event per item in items on the entity's channel.
// The notifier is a pure observer (spec §4.6 "mutations complete and commit
// before publish"): this is always called after the owning WithTx has
// already committed. Go methods can't take their own type parameter, so
// this is a free function over the Service's bus rather than a method.
func publishBatch[T any](ctx context.Context, bus *notify.Bus, ownerID, action, entity string, items []T) {
	if bus == nil || len(items) == 0 {
		return
	}
	for _, item := range items {
		bus.Publish(ctx, entity, notify.Event{
			Resource: entity,
			ID:       ownerID,
			Payload: struct {
				Action string `json:"action"`
				Item   T      `json:"item"`
			}{Action: action, Item: item},
		})
	}
}
