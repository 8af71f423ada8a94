package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildWhereScopesToOwnerByDefault(t *testing.T) {
	clause, args := buildWhere("alice", Query{})
	assert.Equal(t, "j.owner_id = $1", clause)
	assert.Equal(t, []any{"alice"}, args)
}

func TestBuildWhereComposesJobIDsAndToStates(t *testing.T) {
	clause, args := buildWhere("alice", Query{JobIDs: []string{"job-1"}, ToStates: []string{"JOB_FINISHED", "FAILED"}})
	assert.Contains(t, clause, "e.job_id IN ($2)")
	assert.Contains(t, clause, "e.to_state IN ($3, $4)")
	assert.Equal(t, []any{"alice", "job-1", "JOB_FINISHED", "FAILED"}, args)
}
