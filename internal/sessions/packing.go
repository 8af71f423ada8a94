package sessions

import "github.com/tylern4/balsam/internal/domain"

// NodeResources is a snapshot of a launcher's node pool used to bin-pack
// candidate Jobs onto nodes during acquire (spec §4.4).
type NodeResources struct {
	MaxJobsPerNode   int
	MaxWallTimeMin   int
	RunningJobCounts []int
	NodeOccupancies  []float64
	IdleCores        []int
	IdleGPUs         []int
}

// PackResult is the outcome of one Pack call: the candidates that found a
// home, plus how many of the rest were rejected for each distinct reason
// Pack itself decides (the other AcquisitionsSkipped reason, tag-mismatch,
// is decided upstream in lockCandidates, before a candidate ever reaches
// Pack).
type PackResult struct {
	Placed            []domain.Job
	WallTimeExceeded  int
	ResourceExhausted int
}

// Pack attempts to place each candidate, in order, onto the first node with
// room. A candidate whose wall_time_min exceeds MaxWallTimeMin is rejected
// outright regardless of node state (WallTimeExceeded); one that fits no
// node's remaining budget is rejected as ResourceExhausted. Placed
// candidates decrement the node's budgets.
//
// res is mutated in place (its slices track remaining per-node budget) so
// callers that pack multiple batches against the same snapshot see
// cumulative consumption.
func Pack(candidates []domain.Job, res *NodeResources) PackResult {
	if res == nil {
		return PackResult{Placed: candidates}
	}

	var result PackResult
	for _, job := range candidates {
		if job.WallTimeMin > res.MaxWallTimeMin {
			result.WallTimeExceeded++
			continue
		}
		n := findNode(job, res)
		if n < 0 {
			result.ResourceExhausted++
			continue
		}
		res.RunningJobCounts[n]++
		packingCount := job.NodePackingCount
		if packingCount <= 0 {
			packingCount = 1
		}
		res.NodeOccupancies[n] += 1.0 / float64(packingCount)
		res.IdleCores[n] -= job.RanksPerNode * job.ThreadsPerRank
		res.IdleGPUs[n] -= job.RanksPerNode * job.GPUsPerRank
		result.Placed = append(result.Placed, job)
	}
	return result
}

// findNode returns the index of the first node job fits on, or -1.
func findNode(job domain.Job, res *NodeResources) int {
	packingCount := job.NodePackingCount
	if packingCount <= 0 {
		packingCount = 1
	}
	neededCores := job.RanksPerNode * job.ThreadsPerRank
	neededGPUs := job.RanksPerNode * job.GPUsPerRank

	for n := range res.RunningJobCounts {
		if res.RunningJobCounts[n] >= res.MaxJobsPerNode {
			continue
		}
		if res.NodeOccupancies[n]+1.0/float64(packingCount) > 1.0 {
			continue
		}
		if res.IdleCores[n] < neededCores {
			continue
		}
		if res.IdleGPUs[n] < neededGPUs {
			continue
		}
		return n
	}
	return -1
}
