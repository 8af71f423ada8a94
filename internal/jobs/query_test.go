package jobs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseOrderByHandlesLeadingMinus(t *testing.T) {
	terms := ParseOrderBy([]string{"-wall_time_min", "id"})
	assert.Equal(t, []OrderTerm{
		{Column: "wall_time_min", Descending: true},
		{Column: "id", Descending: false},
	}, terms)
}

func TestBuildFilteredQueryDefaultsToOwnerScope(t *testing.T) {
	b := buildFilteredQuery("alice", Query{})
	sql, args := b.BuildCount()
	assert.Contains(t, sql, "owner_id = $1")
	assert.Equal(t, []any{"alice"}, args)
}

func TestBuildFilteredQueryComposesFiltersWithAnd(t *testing.T) {
	b := buildFilteredQuery("alice", Query{AppID: "app-1", SiteID: "site-1"})
	sql, args := b.BuildCount()
	assert.Contains(t, sql, "owner_id = $1")
	assert.Contains(t, sql, "app_id = $2")
	assert.Contains(t, sql, "site_id = $3")
	assert.Equal(t, []any{"alice", "app-1", "site-1"}, args)
}

func TestApplyOrderingDefaultsToIDAscending(t *testing.T) {
	b := buildFilteredQuery("alice", Query{})
	b = applyOrdering(b, nil)
	sql, _ := b.Build()
	assert.Contains(t, sql, "ORDER BY id ASC")
}

func TestApplyOrderingIgnoresUnknownColumns(t *testing.T) {
	b := buildFilteredQuery("alice", Query{})
	b = applyOrdering(b, []OrderTerm{{Column: "not_a_real_column"}, {Column: "state", Descending: true}})
	sql, _ := b.Build()
	assert.NotContains(t, sql, "not_a_real_column")
	assert.Contains(t, sql, "ORDER BY state DESC")
}
