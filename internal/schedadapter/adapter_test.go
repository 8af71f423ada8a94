package schedadapter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tylern4/balsam/internal/domain"
	"github.com/tylern4/balsam/pkg/resilience"
)

type fakeSubmitter struct {
	submitErr error
	result    SubmitResult
}

func (f *fakeSubmitter) Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	if f.submitErr != nil {
		return SubmitResult{}, f.submitErr
	}
	return f.result, nil
}

func (f *fakeSubmitter) Status(ctx context.Context, schedulerID int64) (SubmitResult, error) {
	return f.result, nil
}

func (f *fakeSubmitter) Delete(ctx context.Context, schedulerID int64) error {
	return nil
}

func TestSubmitReturnsResultOnSuccess(t *testing.T) {
	fake := &fakeSubmitter{result: SubmitResult{SchedulerID: 42, State: domain.BatchJobQueued}}
	a := New(fake, resilience.DefaultConfig())

	result, err := a.Submit(context.Background(), SubmitRequest{Project: "proj", Queue: "default", NumNodes: 2, WallTimeMin: 60})
	require.NoError(t, err)
	assert.Equal(t, int64(42), result.SchedulerID)
}

func TestSubmitPropagatesPersistentSubmitterError(t *testing.T) {
	fake := &fakeSubmitter{submitErr: errors.New("qsub unavailable")}
	cfg := resilience.DefaultConfig()
	a := New(fake, cfg)
	a.retry.MaxAttempts = 1

	_, err := a.Submit(context.Background(), SubmitRequest{})
	assert.Error(t, err)
}

func TestSubmitTripsCircuitAfterRepeatedFailures(t *testing.T) {
	fake := &fakeSubmitter{submitErr: errors.New("qsub unavailable")}
	cfg := resilience.Config{MaxFailures: 2, Timeout: time.Minute, HalfOpenMax: 1}
	a := New(fake, cfg)
	a.retry.MaxAttempts = 1

	for i := 0; i < 2; i++ {
		_, _ = a.Submit(context.Background(), SubmitRequest{})
	}
	_, err := a.Submit(context.Background(), SubmitRequest{})
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
}
