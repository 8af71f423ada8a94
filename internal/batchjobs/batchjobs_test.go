package batchjobs

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tylern4/balsam/internal/domain"
	"github.com/tylern4/balsam/pkg/apperrors"
)

func TestApplyRejectsFrozenFieldDriftWithoutRevert(t *testing.T) {
	current := domain.BatchJob{WallTimeMin: 60, State: domain.BatchJobQueued}
	newWallTime := 120

	err := rejectFrozenDrift(current, Patch{WallTimeMin: &newWallTime})
	se, ok := apperrors.As(err)
	if assert.True(t, ok) {
		assert.Equal(t, apperrors.KindConflict, se.Kind)
	}
}

func TestApplyAllowsUnchangedFrozenFieldValue(t *testing.T) {
	current := domain.BatchJob{WallTimeMin: 60, State: domain.BatchJobQueued}
	sameWallTime := 60

	err := rejectFrozenDrift(current, Patch{WallTimeMin: &sameWallTime})
	assert.NoError(t, err)
}

func TestFrozenReportsTrueFromQueuedOnward(t *testing.T) {
	assert.False(t, domain.BatchJobPendingSubmission.Frozen())
	assert.True(t, domain.BatchJobQueued.Frozen())
	assert.True(t, domain.BatchJobRunning.Frozen())
	assert.True(t, domain.BatchJobFinished.Frozen())
	assert.True(t, domain.BatchJobFailed.Frozen())
}

func TestExtractStatusFieldReadsNestedPath(t *testing.T) {
	info := `{"resources_used":{"walltime":"01:30:00"},"job_state":"R"}`
	assert.Equal(t, "01:30:00", ExtractStatusField(info, "resources_used.walltime"))
	assert.Equal(t, "R", ExtractStatusField(info, "job_state"))
	assert.Equal(t, "", ExtractStatusField(info, "missing.field"))
}

func TestExtractStatusFieldOnEmptyBlobIsEmpty(t *testing.T) {
	assert.Equal(t, "", ExtractStatusField("", "anything"))
}

func TestWallTimeRemainingMinutesParsesTimeRemainingField(t *testing.T) {
	info := `{"TimeRemaining":"01:30:00"}`
	assert.Equal(t, 90, WallTimeRemainingMinutes(info))
}

func TestWallTimeRemainingMinutesZeroWhenFieldMissing(t *testing.T) {
	assert.Equal(t, 0, WallTimeRemainingMinutes(`{"job_state":"R"}`))
}

func TestWallTimeRemainingMinutesZeroWhenFieldMalformed(t *testing.T) {
	assert.Equal(t, 0, WallTimeRemainingMinutes(`{"TimeRemaining":"garbage"}`))
}
