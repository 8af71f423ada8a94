// Package domain holds the plain data records for the job-orchestrator
// entity graph (Site, App, BatchJob, Job, TransferItem, LogEvent, Session).
//
// These are intentionally inert structs, not active-record objects: every
// mutation goes through a repository in a sibling package, and re-fetch is
// always an explicit call. See DESIGN.md for the active-record-to-struct
// rationale.
package domain

import "time"

// BackfillWindow advertises scheduler capacity available immediately for a
// queue on a Site.
type BackfillWindow struct {
	NumNodes    int `json:"num_nodes"`
	WallTimeMin int `json:"wall_time_min"`
}

// SiteStatus is the embedded status block of a Site.
type SiteStatus struct {
	NumNodes        int                         `json:"num_nodes"`
	NumIdleNodes    int                         `json:"num_idle_nodes"`
	NumBusyNodes    int                         `json:"num_busy_nodes"`
	BackfillWindows map[string][]BackfillWindow `json:"backfill_windows"`
}

// Site is a named compute resource owned by one user.
type Site struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	Hostname    string    `json:"hostname"`
	Path        string    `json:"path"`
	Status      SiteStatus
	LastRefresh time.Time `json:"last_refresh"`
}

// AppBackend binds an App to a Site with an executor class name.
type AppBackend struct {
	SiteID   string `json:"site_id"`
	ClassName string `json:"class_name"`

	// Denormalized, read-only convenience fields.
	SiteHostname string `json:"site_hostname,omitempty"`
	SitePath     string `json:"site_path,omitempty"`
}

// App is a logical computation registered by an owner.
type App struct {
	ID         string       `json:"id"`
	OwnerID    string       `json:"owner_id"`
	Name       string       `json:"name"`
	Backends   []AppBackend `json:"backends"`
	Parameters []string     `json:"parameters"`
}

// BatchJobState enumerates the allocation lifecycle reported by a site's
// scheduler.
type BatchJobState string

const (
	BatchJobPendingSubmission BatchJobState = "pending_submission"
	BatchJobQueued            BatchJobState = "queued"
	BatchJobRunning           BatchJobState = "running"
	BatchJobFinished          BatchJobState = "finished"
	BatchJobFailed            BatchJobState = "failed"
	BatchJobPendingDeletion   BatchJobState = "pending_deletion"
)

// Frozen reports whether scheduling-parameter fields are frozen against
// client writes (spec §4.5): true from `queued` onward.
func (s BatchJobState) Frozen() bool {
	switch s {
	case BatchJobQueued, BatchJobRunning, BatchJobFinished, BatchJobFailed:
		return true
	default:
		return false
	}
}

// BatchJob is an allocation request submitted to a Site's scheduler.
type BatchJob struct {
	ID          string            `json:"id"`
	OwnerID     string            `json:"owner_id"`
	SiteID      string            `json:"site_id"`
	Project     string            `json:"project"`
	Queue       string            `json:"queue"`
	NumNodes    int               `json:"num_nodes"`
	WallTimeMin int               `json:"wall_time_min"`
	JobMode     string            `json:"job_mode"`
	FilterTags  map[string]string `json:"filter_tags"`
	SchedulerID *int64            `json:"scheduler_id"`
	State       BatchJobState     `json:"state"`
	StatusInfo  string            `json:"status_info,omitempty"`
	StartTime   *time.Time        `json:"start_time,omitempty"`
	EndTime     *time.Time        `json:"end_time,omitempty"`

	// Revert is transient: it is never persisted as "true" — a write that
	// sets it triggers the reconciler and the server always stores it back
	// as false afterward.
	Revert bool `json:"revert"`
}

// JobState enumerates the job lifecycle (spec §4.3).
type JobState string

const (
	JobCreated        JobState = "CREATED"
	JobStagedIn       JobState = "STAGED_IN"
	JobAwaitingParents JobState = "AWAITING_PARENTS"
	JobReady          JobState = "READY"
	JobPreprocessed   JobState = "PREPROCESSED"
	JobRunning        JobState = "RUNNING"
	JobPostprocessed  JobState = "POSTPROCESSED"
	JobRunError       JobState = "RUN_ERROR"
	JobRunTimeout     JobState = "RUN_TIMEOUT"
	JobRunDone        JobState = "RUN_DONE"
	JobStagedOut      JobState = "STAGED_OUT"
	JobFinished       JobState = "JOB_FINISHED"
	JobFailed         JobState = "FAILED"
	JobRestartReady   JobState = "RESTART_READY"
)

// Terminal reports whether a state has no outgoing transitions (other than
// the universal FAILED/RESTART_READY escapes, which the state machine
// handles separately).
func (s JobState) Terminal() bool {
	return s == JobFinished || s == JobFailed
}

// ResourceHints are the scheduling hints a launcher uses for node-resource
// bin-packing (spec §4.4).
type ResourceHints struct {
	RanksPerNode     int            `json:"ranks_per_node"`
	ThreadsPerRank   int            `json:"threads_per_rank"`
	NodePackingCount int            `json:"node_packing_count"`
	WallTimeMin      int            `json:"wall_time_min"`
	GPUsPerRank      int            `json:"gpus_per_rank"`
	LaunchParams     string         `json:"launch_params"`
}

// Job is an individual computation instance scheduled against an App.
type Job struct {
	ID      string `json:"id"`
	OwnerID string `json:"owner_id"`

	Workdir    string            `json:"workdir"`
	AppID      string            `json:"app_id"`
	SiteID     string            `json:"site_id"`
	Parameters map[string]string `json:"parameters"`
	Tags       map[string]string `json:"tags"`
	ResourceHints

	Parents []string `json:"parents"`

	State          JobState  `json:"state"`
	StateMessage   string    `json:"state_message"`
	StateTimestamp *time.Time `json:"state_timestamp"`
	LastUpdate     time.Time `json:"last_update"`

	BatchJobID *string `json:"batch_job_id"`
	SessionID  *string `json:"session_id"`
	ReturnCode *int    `json:"return_code"`

	Data map[string]string `json:"data,omitempty"`
}

// LockStatus is the human-readable projection of Job.State + whether a
// Session holds the job, derivable from State alone (spec glossary).
func (j Job) LockStatus() string {
	if j.SessionID == nil {
		return "Unlocked"
	}
	switch j.State {
	case JobStagedIn, JobAwaitingParents, JobReady:
		return "Preprocessing"
	case JobPreprocessed, JobRunning:
		return "Acquired by launcher"
	case JobPostprocessed, JobRunError, JobRunTimeout, JobRunDone, JobStagedOut:
		return "Staging out"
	default:
		return "Acquired by launcher"
	}
}

// TransferDirection is the direction of a TransferItem.
type TransferDirection string

const (
	TransferIn  TransferDirection = "in"
	TransferOut TransferDirection = "out"
)

// TransferState is the lifecycle of a TransferItem.
type TransferState string

const (
	TransferPending TransferState = "pending"
	TransferActive  TransferState = "active"
	TransferDone    TransferState = "done"
	TransferError   TransferState = "error"
)

// TransferItem is a file-movement record attached to a Job.
type TransferItem struct {
	ID            string            `json:"id"`
	JobID         string            `json:"job_id"`
	Direction     TransferDirection `json:"direction"`
	LocationAlias string            `json:"location_alias"`
	RemotePath    string            `json:"remote_path"`
	LocalPath     string            `json:"local_path"`
	State         TransferState     `json:"state"`
	StateTimestamp time.Time        `json:"state_timestamp"`
}

// LogEvent is an append-only record of a single state transition.
type LogEvent struct {
	ID        int64     `json:"id"`
	JobID     string    `json:"job_id"`
	Timestamp time.Time `json:"timestamp"`
	FromState string    `json:"from_state"`
	ToState   string    `json:"to_state"`
	Message   string    `json:"message"`
}

// Session is a launcher's lease scope.
type Session struct {
	ID               string    `json:"id"`
	OwnerID          string    `json:"owner_id"`
	SiteID           string    `json:"site_id"`
	BatchJobID       *string   `json:"batch_job_id"`
	Heartbeat        time.Time `json:"heartbeat"`
	AcquiredJobIDs   []string  `json:"acquired_job_ids"`
}
