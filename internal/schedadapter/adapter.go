// Package schedadapter is the boundary to a Site's external batch
// scheduler. Scheduler backends are opaque per spec §1 ("sites/schedulers
// are modeled only by the operations the server must bind to"): the
// package exposes a small Submitter interface and wraps calls against it in
// a circuit breaker + retry, since those calls cross a process/network
// boundary the server doesn't control.
package schedadapter

import (
	"context"

	"github.com/tylern4/balsam/internal/domain"
	"github.com/tylern4/balsam/pkg/resilience"
)

// SubmitRequest is everything a Submitter needs to launch one allocation.
type SubmitRequest struct {
	Project     string
	Queue       string
	NumNodes    int
	WallTimeMin int
	JobMode     string
}

// SubmitResult is what a Submitter reports back immediately after a
// successful submission; StatusInfo is the scheduler's opaque status blob,
// later re-queried and re-applied via batchjobs.Apply.
type SubmitResult struct {
	SchedulerID int64
	State       domain.BatchJobState
	StatusInfo  string
}

// Submitter is implemented per scheduler backend (PBS, Slurm, Cobalt, ...).
// The server never inspects scheduler-specific fields directly; it only
// ever reads SubmitResult/StatusInfo and hands status_info to
// batchjobs.ExtractStatusField when a specific field is needed.
type Submitter interface {
	Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error)
	Status(ctx context.Context, schedulerID int64) (SubmitResult, error)
	Delete(ctx context.Context, schedulerID int64) error
}

// Adapter wraps a Submitter with resilience: submissions and status polls
// are external calls that can time out or flake transiently, so every call
// goes through a circuit breaker with an inner exponential-backoff retry,
// the same composition the teacher uses for its own external HTTP calls.
type Adapter struct {
	submitter Submitter
	breaker   *resilience.CircuitBreaker
	retry     resilience.RetryConfig
}

// New wraps submitter with the given circuit-breaker config and the
// package default retry policy.
func New(submitter Submitter, cbConfig resilience.Config) *Adapter {
	return &Adapter{
		submitter: submitter,
		breaker:   resilience.New(cbConfig),
		retry:     resilience.DefaultRetryConfig(),
	}
}

// Submit submits req through the circuit breaker with retry.
func (a *Adapter) Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	var result SubmitResult
	err := a.breaker.Execute(ctx, func() error {
		return resilience.Retry(ctx, a.retry, func() error {
			r, err := a.submitter.Submit(ctx, req)
			if err != nil {
				return err
			}
			result = r
			return nil
		})
	})
	return result, err
}

// Status polls the current scheduler-reported status for schedulerID.
func (a *Adapter) Status(ctx context.Context, schedulerID int64) (SubmitResult, error) {
	var result SubmitResult
	err := a.breaker.Execute(ctx, func() error {
		return resilience.Retry(ctx, a.retry, func() error {
			r, err := a.submitter.Status(ctx, schedulerID)
			if err != nil {
				return err
			}
			result = r
			return nil
		})
	})
	return result, err
}

// Delete cancels the allocation schedulerID.
func (a *Adapter) Delete(ctx context.Context, schedulerID int64) error {
	return a.breaker.Execute(ctx, func() error {
		return resilience.Retry(ctx, a.retry, func() error {
			return a.submitter.Delete(ctx, schedulerID)
		})
	})
}
