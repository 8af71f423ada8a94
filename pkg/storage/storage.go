// Package storage provides the generic persistence plumbing shared by every
// repository: a DB-agnostic Querier/DBProvider pair (so repositories can run
// inside or outside a transaction without changing their call sites),
// pagination, and a generic list-result envelope. Adapted from
// pkg/storage/crud.go.
//
// Unlike the teacher's crud.go, this package does not expose a generic
// FilterSet: spec §4.1 calls for typed, per-resource filter structs (jobs.Query,
// events.Query, ...) rather than an ad hoc field/operator/value triple, so each
// internal/<resource> package defines its own query type and builds SQL
// directly against a *postgres.SelectBuilder.
package storage

import (
	"context"
	"database/sql"
)

// Scanner abstracts row scanning for database results.
type Scanner interface {
	Scan(dest ...any) error
}

// Querier abstracts database query execution so repositories can be handed
// either a *sql.DB or a *sql.Tx.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// DBProvider provides access to the underlying database connection and the
// Querier appropriate for the current context (inside a transaction or not).
type DBProvider interface {
	DB() *sql.DB
	Querier(ctx context.Context) Querier
}

// Pagination holds limit/offset pagination parameters.
type Pagination struct {
	Limit  int
	Offset int
}

// DefaultPagination returns the package default (50 rows).
func DefaultPagination() Pagination {
	return Pagination{Limit: 50, Offset: 0}
}

// Normalize clamps Limit to (0, maxLimit] and Offset to [0, inf), applying
// the package default when Limit is unset. maxLimit corresponds to
// Config.Query.MaxPageLimit.
func (p Pagination) Normalize(maxLimit int) Pagination {
	if p.Limit <= 0 {
		p.Limit = 50
	}
	if maxLimit > 0 && p.Limit > maxLimit {
		p.Limit = maxLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// ListResult wraps a filtered list response with pagination metadata, per
// spec §4.1's "total count alongside the page" requirement.
type ListResult[T any] struct {
	Items   []T   `json:"items"`
	Total   int64 `json:"total"`
	Limit   int   `json:"limit"`
	Offset  int   `json:"offset"`
	HasMore bool  `json:"has_more"`
}

// NewListResult builds a ListResult, deriving HasMore from total vs. the
// high-water mark of this page.
func NewListResult[T any](items []T, total int64, limit, offset int) ListResult[T] {
	return ListResult[T]{
		Items:   items,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: int64(offset+len(items)) < total,
	}
}

// SortOrder is a column sort direction.
type SortOrder string

const (
	SortAsc  SortOrder = "ASC"
	SortDesc SortOrder = "DESC"
)
