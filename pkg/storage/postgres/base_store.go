// Package postgres provides the PostgreSQL-backed storage primitives shared
// by every repository package. Adapted from
// pkg/storage/postgres/base_store.go: the embeddable BaseStore, its
// context-scoped transaction helper, and the SelectBuilder query builder are
// kept close to the original shape; entity ownership checks are re-keyed
// from account_id to owner_id to match this domain's tenancy model (spec §3).
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/tylern4/balsam/pkg/resilience"
	"github.com/tylern4/balsam/pkg/storage"
)

// uniqueViolation is the Postgres SQLSTATE for a unique-constraint failure.
const uniqueViolation = "23505"

// serializationFailure and deadlockDetected are the transient-conflict
// SQLSTATEs spec §9.4 calls out for bounded retry rather than immediate
// failure.
const (
	serializationFailure = "40001"
	deadlockDetected     = "40P01"
)

// IsUniqueViolation reports whether err is a unique-constraint violation
// raised by the driver, so repositories can translate it into a Conflict
// instead of an opaque Internal error.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == uniqueViolation
	}
	return false
}

// isRetryableTxError reports whether err is a transient transaction conflict
// a retry could plausibly resolve, rather than a deterministic failure
// (bad SQL, constraint violation) retrying would only repeat.
func isRetryableTxError(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == serializationFailure || pqErr.Code == deadlockDetected
	}
	return false
}

// execRetryConfig bounds retries at 3 attempts (spec §9.4 default) with
// short exponential backoff, shared by ExecContext/QueryContext.
var execRetryConfig = resilience.DefaultRetryConfig()

// BaseStore provides common PostgreSQL operations that can be embedded by
// resource-specific repositories to reduce boilerplate.
type BaseStore struct {
	db        *sql.DB
	tableName string
}

// NewBaseStore creates a new BaseStore for the given table.
func NewBaseStore(db *sql.DB, tableName string) *BaseStore {
	return &BaseStore{db: db, tableName: tableName}
}

// DB returns the underlying database connection.
func (s *BaseStore) DB() *sql.DB { return s.db }

// TableName returns the table name this store is bound to.
func (s *BaseStore) TableName() string { return s.tableName }

// Querier returns the appropriate querier for the context: the active
// transaction if one has been attached via ContextWithTx, otherwise the
// pooled *sql.DB.
func (s *BaseStore) Querier(ctx context.Context) storage.Querier {
	if tx := TxFromContext(ctx); tx != nil {
		return tx
	}
	return s.db
}

type txKey struct{}

// TxFromContext extracts a transaction previously attached to ctx, or nil.
func TxFromContext(ctx context.Context) *sql.Tx {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return nil
}

// ContextWithTx returns a context carrying tx, so nested repository calls
// made with the returned context participate in the same transaction.
func ContextWithTx(ctx context.Context, tx *sql.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// BeginTx starts a new transaction and returns a context carrying it.
func (s *BaseStore) BeginTx(ctx context.Context) (context.Context, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ctx, fmt.Errorf("begin transaction: %w", err)
	}
	return ContextWithTx(ctx, tx), nil
}

// CommitTx commits the transaction attached to ctx.
func (s *BaseStore) CommitTx(ctx context.Context) error {
	tx := TxFromContext(ctx)
	if tx == nil {
		return fmt.Errorf("no transaction in context")
	}
	return tx.Commit()
}

// RollbackTx rolls back the transaction attached to ctx, if any.
func (s *BaseStore) RollbackTx(ctx context.Context) error {
	tx := TxFromContext(ctx)
	if tx == nil {
		return nil
	}
	return tx.Rollback()
}

// WithTx runs fn inside a transaction, committing on success and rolling
// back on error. If ctx already carries a transaction (a caller already
// inside its own WithTx), fn joins that transaction instead of opening a
// nested one, so composing several repository calls inside one outer
// WithTx stays a single all-or-nothing unit. Used by the bulk-mutation
// service (spec §4.2) to make bulk_create/bulk_update/update_by_query/
// delete_by_query atomic even though each item is applied through the same
// per-item repository methods (jobs.Repository.Update, etc.) that also call
// WithTx on their own.
func (s *BaseStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if TxFromContext(ctx) != nil {
		return fn(ctx)
	}
	txCtx, err := s.BeginTx(ctx)
	if err != nil {
		return err
	}
	if err := fn(txCtx); err != nil {
		_ = s.RollbackTx(txCtx)
		return err
	}
	return s.CommitTx(txCtx)
}

// ExecContext executes a query that doesn't return rows, against whichever
// querier is active for ctx. A serialization_failure/deadlock_detected
// error is retried up to execRetryConfig.MaxAttempts times (spec §9.4);
// any other error returns immediately.
func (s *BaseStore) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var result sql.Result
	var finalErr error
	_ = resilience.Retry(ctx, execRetryConfig, func() error {
		res, err := s.Querier(ctx).ExecContext(ctx, query, args...)
		result, finalErr = res, err
		if err != nil && isRetryableTxError(err) {
			return err
		}
		return nil
	})
	return result, finalErr
}

// QueryContext executes a query that returns rows, with the same bounded
// retry on transient conflicts as ExecContext.
func (s *BaseStore) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	var rows *sql.Rows
	var finalErr error
	_ = resilience.Retry(ctx, execRetryConfig, func() error {
		r, err := s.Querier(ctx).QueryContext(ctx, query, args...)
		rows, finalErr = r, err
		if err != nil && isRetryableTxError(err) {
			return err
		}
		return nil
	})
	return rows, finalErr
}

// QueryRowContext executes a query that returns at most one row. Unlike
// ExecContext/QueryContext, its error isn't observable until the caller
// calls Scan on the returned *sql.Row, which is too late to retry without
// changing Querier's return type to something other than *sql.Row; callers
// needing retry on a single-row lookup go through QueryContext instead.
func (s *BaseStore) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return s.Querier(ctx).QueryRowContext(ctx, query, args...)
}

// Exists checks whether a record with id exists in this store's table.
func (s *BaseStore) Exists(ctx context.Context, id string) (bool, error) {
	query := fmt.Sprintf("SELECT EXISTS(SELECT 1 FROM %s WHERE id = $1)", s.tableName)
	var exists bool
	if err := s.QueryRowContext(ctx, query, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("check exists: %w", err)
	}
	return exists, nil
}

// ExistsForOwner checks whether id exists and belongs to ownerID. Used to
// implement the cross-owner-is-not-found semantics of spec §3.
func (s *BaseStore) ExistsForOwner(ctx context.Context, id, ownerID string) (bool, error) {
	query := fmt.Sprintf("SELECT EXISTS(SELECT 1 FROM %s WHERE id = $1 AND owner_id = $2)", s.tableName)
	var exists bool
	if err := s.QueryRowContext(ctx, query, id, ownerID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check exists for owner: %w", err)
	}
	return exists, nil
}

// DeleteByID deletes a row by id, returning sql.ErrNoRows if nothing matched.
func (s *BaseStore) DeleteByID(ctx context.Context, id string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE id = $1", s.tableName)
	result, err := s.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// CountAll counts all rows in this store's table.
func (s *BaseStore) CountAll(ctx context.Context) (int64, error) {
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", s.tableName)
	var count int64
	if err := s.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("count all: %w", err)
	}
	return count, nil
}

// SelectBuilder incrementally builds a parameterized SELECT statement.
// Repository List() methods append one WhereEq/WhereIn/Where call per
// non-zero filter field, so an empty query struct degrades to an
// unconditional SELECT.
type SelectBuilder struct {
	table      string
	columns    []string
	conditions []string
	args       []any
	orderBy    []string
	limit      int
	offset     int
	argIndex   int
}

// NewSelectBuilder creates a new SelectBuilder targeting table.
func NewSelectBuilder(table string) *SelectBuilder {
	return &SelectBuilder{table: table, argIndex: 1}
}

// Columns restricts the selected columns; omitted entirely, Build selects *.
func (b *SelectBuilder) Columns(cols ...string) *SelectBuilder {
	b.columns = cols
	return b
}

// Where appends a raw condition, rewriting each "?" placeholder in order to
// a PostgreSQL "$N" positional parameter bound to the corresponding arg.
func (b *SelectBuilder) Where(condition string, args ...any) *SelectBuilder {
	for _, arg := range args {
		condition = strings.Replace(condition, "?", fmt.Sprintf("$%d", b.argIndex), 1)
		b.args = append(b.args, arg)
		b.argIndex++
	}
	b.conditions = append(b.conditions, condition)
	return b
}

// WhereEq adds a "column = value" condition.
func (b *SelectBuilder) WhereEq(column string, value any) *SelectBuilder {
	return b.Where(fmt.Sprintf("%s = ?", column), value)
}

// WhereIn adds a "column IN (...)" condition. An empty values slice yields
// an always-false condition rather than an empty IN-list (which Postgres
// rejects).
func (b *SelectBuilder) WhereIn(column string, values []any) *SelectBuilder {
	if len(values) == 0 {
		b.conditions = append(b.conditions, "1 = 0")
		return b
	}
	placeholders := make([]string, len(values))
	for i, v := range values {
		placeholders[i] = fmt.Sprintf("$%d", b.argIndex)
		b.args = append(b.args, v)
		b.argIndex++
	}
	b.conditions = append(b.conditions, fmt.Sprintf("%s IN (%s)", column, strings.Join(placeholders, ", ")))
	return b
}

// WhereContainsAll adds a "column @> ?" jsonb/array containment condition,
// used for the tags/parameters superset filters of spec §4.1.
func (b *SelectBuilder) WhereContainsAll(column string, value any) *SelectBuilder {
	return b.Where(fmt.Sprintf("%s @> ?", column), value)
}

// OrderBy appends an ORDER BY term.
func (b *SelectBuilder) OrderBy(column string, desc bool) *SelectBuilder {
	order := "ASC"
	if desc {
		order = "DESC"
	}
	b.orderBy = append(b.orderBy, fmt.Sprintf("%s %s", column, order))
	return b
}

// Limit sets the LIMIT clause; zero or negative omits it.
func (b *SelectBuilder) Limit(n int) *SelectBuilder {
	b.limit = n
	return b
}

// Offset sets the OFFSET clause; zero or negative omits it.
func (b *SelectBuilder) Offset(n int) *SelectBuilder {
	b.offset = n
	return b
}

// Build renders the final SQL string and its positional argument slice.
func (b *SelectBuilder) Build() (string, []any) {
	cols := "*"
	if len(b.columns) > 0 {
		cols = strings.Join(b.columns, ", ")
	}

	query := fmt.Sprintf("SELECT %s FROM %s", cols, b.table)

	if len(b.conditions) > 0 {
		query += " WHERE " + strings.Join(b.conditions, " AND ")
	}
	if len(b.orderBy) > 0 {
		query += " ORDER BY " + strings.Join(b.orderBy, ", ")
	}
	if b.limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", b.limit)
	}
	if b.offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", b.offset)
	}

	return query, b.args
}

// BuildCount renders a "SELECT COUNT(*)" variant of the same WHERE clause,
// ignoring columns/orderBy/limit/offset, for the total count alongside a
// paginated List (spec §4.1).
func (b *SelectBuilder) BuildCount() (string, []any) {
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", b.table)
	if len(b.conditions) > 0 {
		query += " WHERE " + strings.Join(b.conditions, " AND ")
	}
	return query, b.args
}

// NullTimeToPtr converts sql.NullTime to *time.Time.
func NullTimeToPtr(nt sql.NullTime) *time.Time {
	if nt.Valid {
		return &nt.Time
	}
	return nil
}

// PtrToNullTime converts *time.Time to sql.NullTime.
func PtrToNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// NullStringToPtr converts sql.NullString to *string.
func NullStringToPtr(ns sql.NullString) *string {
	if ns.Valid {
		return &ns.String
	}
	return nil
}

// PtrToNullString converts *string to sql.NullString.
func PtrToNullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// NullInt64ToPtr converts sql.NullInt64 to *int64.
func NullInt64ToPtr(ni sql.NullInt64) *int64 {
	if ni.Valid {
		return &ni.Int64
	}
	return nil
}

// PtrToNullInt64 converts *int64 to sql.NullInt64.
func PtrToNullInt64(i *int64) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *i, Valid: true}
}
