package schedadapter

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/tylern4/balsam/internal/domain"
)

// ParseWallTimeMinutes parses a scheduler-reported "HH:MM:SS" wall-time
// string into whole minutes, resolving Open Question 1: the source's
// equivalent parser multiplies the hour token as a *string* by 60 (Python's
// str * int repeats the string instead of scaling a number), so hours,
// minutes, and seconds are always parsed numerically here, with seconds
// rounding to the nearest minute. Malformed input returns (0, nil) rather
// than an error, matching parse_cobalt_time_minutes's bare `except:
// return 0` (spec §11).
func ParseWallTimeMinutes(hhmmss string) (int, error) {
	parts := strings.Split(hhmmss, ":")
	if len(parts) != 3 {
		return 0, nil
	}
	hours, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, nil
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, nil
	}
	seconds, err := strconv.Atoi(parts[2])
	if err != nil {
		return 0, nil
	}
	return hours*60 + minutes + (seconds+30)/60, nil
}

// pbsJobStateMap mirrors the scheduler-state → BatchJobState map the
// original PBS backend uses.
var pbsJobStateMap = map[string]domain.BatchJobState{
	"Q": domain.BatchJobQueued,
	"H": domain.BatchJobQueued,
	"T": domain.BatchJobQueued,
	"W": domain.BatchJobQueued,
	"S": domain.BatchJobQueued,
	"R": domain.BatchJobRunning,
	"E": domain.BatchJobRunning,
}

// PBS is a Submitter backed by the `qsub`/`qstat`/`qdel` command-line
// tools, following the original `pbs_sched.py`'s subprocess-based
// submit/status/delete shape.
type PBS struct {
	SubmitExe string
	StatusExe string
	DeleteExe string
	ScriptDir string
}

// NewPBS returns a PBS submitter using the standard qsub/qstat/qdel names.
func NewPBS(scriptDir string) *PBS {
	return &PBS{SubmitExe: "qsub", StatusExe: "qstat", DeleteExe: "qdel", ScriptDir: scriptDir}
}

// Submit renders a qsub invocation for req and parses the numeric job id
// qsub prints on success.
func (p *PBS) Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	args := []string{
		"-A", req.Project,
		"-q", req.Queue,
		"-l", fmt.Sprintf("select=%d", req.NumNodes),
		"-l", fmt.Sprintf("walltime=%02d:%02d:00", req.WallTimeMin/60, req.WallTimeMin%60),
	}
	out, err := exec.CommandContext(ctx, p.SubmitExe, args...).Output()
	if err != nil {
		return SubmitResult{}, fmt.Errorf("qsub: %w", err)
	}
	id, err := parseSubmitOutput(string(out))
	if err != nil {
		return SubmitResult{}, err
	}
	return SubmitResult{SchedulerID: id, State: domain.BatchJobQueued}, nil
}

// Status queries qstat for schedulerID's current state. The raw stdout is
// preserved verbatim as StatusInfo so callers can pull any field out later
// via batchjobs.ExtractStatusField without PBS's per-field parsing rules
// being duplicated at this layer.
func (p *PBS) Status(ctx context.Context, schedulerID int64) (SubmitResult, error) {
	out, err := exec.CommandContext(ctx, p.StatusExe, "-f", "-F", "json", strconv.FormatInt(schedulerID, 10)).Output()
	if err != nil {
		return SubmitResult{}, fmt.Errorf("qstat: %w", err)
	}
	return SubmitResult{SchedulerID: schedulerID, StatusInfo: string(out)}, nil
}

// Delete cancels schedulerID via qdel.
func (p *PBS) Delete(ctx context.Context, schedulerID int64) error {
	if err := exec.CommandContext(ctx, p.DeleteExe, strconv.FormatInt(schedulerID, 10)).Run(); err != nil {
		return fmt.Errorf("qdel: %w", err)
	}
	return nil
}

// parseSubmitOutput extracts the leading numeric job id from qsub's
// "<id>.servername" output.
func parseSubmitOutput(output string) (int64, error) {
	trimmed := strings.TrimSpace(output)
	idPart := strings.SplitN(trimmed, ".", 2)[0]
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse qsub output %q: %w", trimmed, err)
	}
	return id, nil
}

// JobStateFor maps a PBS scheduler state code to a BatchJobState.
func JobStateFor(schedulerState string) domain.BatchJobState {
	if s, ok := pbsJobStateMap[schedulerState]; ok {
		return s
	}
	return domain.BatchJobQueued
}
