package jobstate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tylern4/balsam/internal/domain"
)

func TestAcceptsHappyPath(t *testing.T) {
	now := time.Now().UTC()
	path := []domain.JobState{
		domain.JobStagedIn,
		domain.JobReady,
		domain.JobPreprocessed,
		domain.JobRunning,
		domain.JobRunDone,
		domain.JobStagedOut,
		domain.JobFinished,
	}
	from := domain.JobState("")
	for _, to := range path {
		assert.True(t, Accepts(from, to), "%s -> %s should be accepted", from, to)
		_, err := Apply("job-1", from, to, "", now)
		require.NoError(t, err)
		from = to
	}
}

func TestRejectsUnlistedTransition(t *testing.T) {
	_, err := Apply("job-1", domain.JobReady, domain.JobRunning, "", time.Now())
	require.Error(t, err)
	var te *TransitionError
	require.ErrorAs(t, err, &te)
}

func TestClientCannotDriveAwaitingParentsToReady(t *testing.T) {
	assert.False(t, Accepts(domain.JobAwaitingParents, domain.JobReady))
}

func TestAnyNonTerminalCanFailOrRestart(t *testing.T) {
	for _, s := range []domain.JobState{domain.JobStagedIn, domain.JobRunning, domain.JobPostprocessed, domain.JobRestartReady} {
		assert.True(t, Accepts(s, domain.JobFailed))
		assert.True(t, Accepts(s, domain.JobRestartReady))
	}
	assert.False(t, Accepts(domain.JobFinished, domain.JobFailed))
	assert.False(t, Accepts(domain.JobFailed, domain.JobFailed))
}

func TestRestartReadyReentersRunning(t *testing.T) {
	assert.True(t, Accepts(domain.JobRestartReady, domain.JobRunning))
}

func TestStateMessageOnlyOnEvent(t *testing.T) {
	res, err := Apply("job-1", domain.JobReady, domain.JobPreprocessed, "starting preprocess", time.Now())
	require.NoError(t, err)
	assert.Equal(t, "starting preprocess", res.Event.Message)
	// Result carries no state_message field at all: the Job row never gets one.
}

func TestCreationEventsNoParents(t *testing.T) {
	now := time.Now().UTC()
	state, events := CreationEvents("job-1", false, now)
	assert.Equal(t, domain.JobReady, state)
	require.Len(t, events, 2)
	assert.Equal(t, "", events[0].FromState)
	assert.Equal(t, string(domain.JobStagedIn), events[0].ToState)
	assert.Equal(t, string(domain.JobStagedIn), events[1].FromState)
	assert.Equal(t, string(domain.JobReady), events[1].ToState)
}

func TestCreationEventsWithParents(t *testing.T) {
	now := time.Now().UTC()
	state, events := CreationEvents("job-2", true, now)
	assert.Equal(t, domain.JobAwaitingParents, state)
	require.Len(t, events, 2)
	assert.Equal(t, string(domain.JobAwaitingParents), events[1].ToState)
}

func TestAdvanceParentReady(t *testing.T) {
	now := time.Now().UTC()
	res := AdvanceParentReady("job-3", now)
	assert.Equal(t, domain.JobReady, res.State)
	assert.Equal(t, string(domain.JobAwaitingParents), res.Event.FromState)
	assert.Equal(t, string(domain.JobReady), res.Event.ToState)
}

func TestNoOpTransitionEmitsNoEvent(t *testing.T) {
	res, err := Apply("job-1", domain.JobRunning, domain.JobRunning, "still running", time.Now())
	require.NoError(t, err)
	assert.Equal(t, domain.LogEvent{}, res.Event)
}
