package sessions

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tylern4/balsam/internal/domain"
)

func job(wallTime, rpn, tpr, packing, gpr int) domain.Job {
	return domain.Job{
		ResourceHints: domain.ResourceHints{
			WallTimeMin:      wallTime,
			RanksPerNode:     rpn,
			ThreadsPerRank:   tpr,
			NodePackingCount: packing,
			GPUsPerRank:      gpr,
		},
	}
}

func TestPackRejectsJobExceedingWallTimeWindow(t *testing.T) {
	res := &NodeResources{
		MaxJobsPerNode:   8,
		MaxWallTimeMin:   35,
		RunningJobCounts: []int{0},
		NodeOccupancies:  []float64{0},
		IdleCores:        []int{64},
		IdleGPUs:         []int{0},
	}
	result := Pack([]domain.Job{job(40, 1, 1, 1, 0)}, res)
	assert.Empty(t, result.Placed)
	assert.Equal(t, 1, result.WallTimeExceeded)
}

func TestPackFitsWithinIdleCoreAndOccupancyBudget(t *testing.T) {
	// mirrors spec §8 S3: two nodes, the 33-minute job needs 4 cores
	// (rpn=1*tpr=4), node_packing_count=4 so it fits four-to-a-node on
	// occupancy alone.
	res := &NodeResources{
		MaxJobsPerNode:   8,
		MaxWallTimeMin:   35,
		RunningJobCounts: []int{2, 0},
		NodeOccupancies:  []float64{0.6, 0},
		IdleCores:        []int{3, 8},
		IdleGPUs:         []int{0, 0},
	}
	j33 := job(33, 1, 4, 4, 0) // needs 4 idle cores
	j32 := job(32, 1, 1, 4, 0)

	result := Pack([]domain.Job{j33, j32}, res)
	assert.Len(t, result.Placed, 2)
	// node 0 has only 3 idle cores, so j33 lands on node 1; j32 needs one
	// core and fits on node 0 (occupancy 0.6+0.25 <= 1).
	assert.Equal(t, 33, result.Placed[0].WallTimeMin)
	assert.Equal(t, 32, result.Placed[1].WallTimeMin)
}

func TestPackSkipsJobWhenBudgetsExhausted(t *testing.T) {
	res := &NodeResources{
		MaxJobsPerNode:   1,
		MaxWallTimeMin:   60,
		RunningJobCounts: []int{0},
		NodeOccupancies:  []float64{0},
		IdleCores:        []int{4},
		IdleGPUs:         []int{0},
	}
	first := job(10, 1, 4, 1, 0)
	second := job(10, 1, 4, 1, 0)

	result := Pack([]domain.Job{first, second}, res)
	assert.Len(t, result.Placed, 1)
	assert.Equal(t, 1, result.ResourceExhausted)
}

func TestPackAcceptsAllWithoutNodeResources(t *testing.T) {
	jobs := []domain.Job{job(10, 1, 1, 1, 0), job(20, 1, 1, 1, 0)}
	result := Pack(jobs, nil)
	assert.Len(t, result.Placed, 2)
}

func TestPackTreatsZeroPackingCountAsOne(t *testing.T) {
	res := &NodeResources{
		MaxJobsPerNode:   1,
		MaxWallTimeMin:   60,
		RunningJobCounts: []int{0},
		NodeOccupancies:  []float64{0},
		IdleCores:        []int{4},
		IdleGPUs:         []int{0},
	}
	result := Pack([]domain.Job{job(10, 1, 1, 0, 0)}, res)
	assert.Len(t, result.Placed, 1)
	assert.Equal(t, 1.0, res.NodeOccupancies[0])
}
