// Package jobstate implements the Job state machine and its LogEvent audit
// trail (spec §4.3). It knows nothing about storage; callers persist the
// resulting state + events atomically with the rest of a Job write.
package jobstate

import (
	"time"

	"github.com/tylern4/balsam/internal/domain"
)

// emptyState is the synthetic "from" state used for the creation event
// (∅ → STAGED_IN).
const emptyState domain.JobState = ""

// transitions enumerates every client-triggerable edge. AWAITING_PARENTS →
// READY is intentionally absent here: that edge is only ever taken by
// AdvanceParentReady, the engine-triggered recomputation path, never by a
// client-supplied patch (spec §4.3).
var transitions = map[domain.JobState]map[domain.JobState]bool{
	emptyState:               {domain.JobStagedIn: true},
	domain.JobStagedIn:       {domain.JobReady: true, domain.JobAwaitingParents: true},
	domain.JobReady:          {domain.JobPreprocessed: true},
	domain.JobPreprocessed:   {domain.JobRunning: true},
	domain.JobRunning: {
		domain.JobPostprocessed: true,
		domain.JobRunError:      true,
		domain.JobRunTimeout:    true,
		domain.JobRunDone:       true,
	},
	domain.JobPostprocessed: {domain.JobStagedOut: true},
	domain.JobRunError:      {domain.JobStagedOut: true},
	domain.JobRunTimeout:    {domain.JobStagedOut: true},
	domain.JobRunDone:       {domain.JobStagedOut: true},
	domain.JobStagedOut:     {domain.JobFinished: true},
	domain.JobRestartReady:  {domain.JobRunning: true},
}

// nonTerminal reports whether a state may still escape to FAILED or be reset
// to RESTART_READY. JOB_FINISHED and FAILED are the only terminal states.
func nonTerminal(s domain.JobState) bool {
	return s != domain.JobFinished && s != domain.JobFailed
}

// TransitionError is returned (wrapped by apperrors at the service
// layer) when a requested state change is not an accepted edge.
type TransitionError struct {
	From, To domain.JobState
}

func (e *TransitionError) Error() string {
	return "invalid job state transition: " + string(e.From) + " -> " + string(e.To)
}

// Accepts reports whether `from -> to` is an accepted transition, including
// the universal FAILED / RESTART_READY escapes.
func Accepts(from, to domain.JobState) bool {
	if from == to {
		return true // no-op write: state repeated, no event emitted
	}
	if nonTerminal(from) && (to == domain.JobFailed || to == domain.JobRestartReady) {
		return true
	}
	if edges, ok := transitions[from]; ok && edges[to] {
		return true
	}
	return false
}

// Result is the outcome of an accepted transition: the Job's new state
// fields plus the LogEvent to persist alongside it.
type Result struct {
	State          domain.JobState
	StateTimestamp time.Time
	Event          domain.LogEvent
}

// Apply validates and executes a client-requested `from -> to` transition.
// The caller-supplied message is only ever recorded on the LogEvent, never
// on the returned Job state fields (spec §4.3: the Job row does not persist
// state_message/state_timestamp — re-reading the Job yields them empty/nil).
func Apply(jobID string, from, to domain.JobState, message string, now time.Time) (Result, error) {
	if !Accepts(from, to) {
		return Result{}, &TransitionError{From: from, To: to}
	}
	if from == to {
		// No-op: no new event, caller should not bump last_update's event log.
		return Result{State: to}, nil
	}
	return Result{
		State:          to,
		StateTimestamp: now,
		Event: domain.LogEvent{
			JobID:     jobID,
			Timestamp: now,
			FromState: string(from),
			ToState:   string(to),
			Message:   message,
		},
	}, nil
}

// CreationEvents computes the state and events a newly created Job should
// persist, given whether it has parents. It always emits the ∅ → STAGED_IN
// event, then a second event taking the job from STAGED_IN into either
// READY (no parents: spec invariant "A Job without parents enters READY
// immediately after STAGED_IN") or AWAITING_PARENTS (has parents) — both
// branches emit a second event so the event-log-faithfulness property (spec
// §8 property 2) holds regardless of whether the job has parents.
func CreationEvents(jobID string, hasParents bool, now time.Time) (domain.JobState, []domain.LogEvent) {
	created := domain.LogEvent{
		JobID:     jobID,
		Timestamp: now,
		FromState: string(emptyState),
		ToState:   string(domain.JobStagedIn),
	}

	next := domain.JobReady
	if hasParents {
		next = domain.JobAwaitingParents
	}
	second := domain.LogEvent{
		JobID:     jobID,
		Timestamp: now,
		FromState: string(domain.JobStagedIn),
		ToState:   string(next),
	}
	return next, []domain.LogEvent{created, second}
}

// AdvanceParentReady is the engine-only transition taken when the last
// parent of a Job reaches JOB_FINISHED (spec §4.3 "child-readiness
// recomputation" and §8 property 7). It is never reachable through Apply.
func AdvanceParentReady(jobID string, now time.Time) Result {
	return Result{
		State:          domain.JobReady,
		StateTimestamp: now,
		Event: domain.LogEvent{
			JobID:     jobID,
			Timestamp: now,
			FromState: string(domain.JobAwaitingParents),
			ToState:   string(domain.JobReady),
		},
	}
}
