// Package events is the read-only repository for LogEvent rows (spec §3,
// §6 GET-only /events/). Owner scoping joins LogEvent -> Job and filters on
// the Job's owner_id (a LogEvent carries no owner column of its own); no
// App or Site table is joined.
package events

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"github.com/tylern4/balsam/internal/domain"
	"github.com/tylern4/balsam/pkg/apperrors"
	"github.com/tylern4/balsam/pkg/storage"
)

// Query is the typed filter struct for listing LogEvents.
type Query struct {
	JobIDs         []string
	ToStates       []string
	FromStates     []string
	MessageLike    string
	TimestampAfter  *time.Time
	TimestampBefore *time.Time
	Pagination     storage.Pagination
}

// Repository provides read-only access to the log_events table.
type Repository struct {
	db *sql.DB
}

// New creates an Event repository bound to db.
func New(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// List returns LogEvents for Jobs owned by ownerID matching q, ordered by
// timestamp ascending by default (spec §4.1).
func (r *Repository) List(ctx context.Context, ownerID string, q Query) (storage.ListResult[domain.LogEvent], error) {
	pg := q.Pagination.Normalize(1000)

	where, args := buildWhere(ownerID, q)

	countSQL := `SELECT COUNT(*) FROM log_events e JOIN jobs j ON j.id = e.job_id WHERE ` + where
	var total int64
	if err := r.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return storage.ListResult[domain.LogEvent]{}, apperrors.Internal("count events", err)
	}

	listSQL := `SELECT e.id, e.job_id, e.timestamp, e.from_state, e.to_state, e.message
	            FROM log_events e JOIN jobs j ON j.id = e.job_id
	            WHERE ` + where + ` ORDER BY e.timestamp ASC, e.id ASC LIMIT $` +
		strconv.Itoa(len(args)+1) + ` OFFSET $` + strconv.Itoa(len(args)+2)
	args = append(args, pg.Limit, pg.Offset)

	rows, err := r.db.QueryContext(ctx, listSQL, args...)
	if err != nil {
		return storage.ListResult[domain.LogEvent]{}, apperrors.Internal("list events", err)
	}
	defer rows.Close()

	var items []domain.LogEvent
	for rows.Next() {
		var e domain.LogEvent
		if err := rows.Scan(&e.ID, &e.JobID, &e.Timestamp, &e.FromState, &e.ToState, &e.Message); err != nil {
			return storage.ListResult[domain.LogEvent]{}, apperrors.Internal("scan event", err)
		}
		items = append(items, e)
	}
	if err := rows.Err(); err != nil {
		return storage.ListResult[domain.LogEvent]{}, apperrors.Internal("list events", err)
	}

	return storage.NewListResult(items, total, pg.Limit, pg.Offset), nil
}

// buildWhere constructs the WHERE clause and args shared by the count and
// list queries, so the total always reflects the same filtered set as the
// page (spec §4.1).
func buildWhere(ownerID string, q Query) (string, []any) {
	clause := "j.owner_id = $1"
	args := []any{ownerID}
	n := 2

	if len(q.JobIDs) > 0 {
		placeholders := ""
		for i, id := range q.JobIDs {
			if i > 0 {
				placeholders += ", "
			}
			placeholders += "$" + strconv.Itoa(n)
			args = append(args, id)
			n++
		}
		clause += " AND e.job_id IN (" + placeholders + ")"
	}
	if len(q.ToStates) > 0 {
		placeholders := ""
		for i, s := range q.ToStates {
			if i > 0 {
				placeholders += ", "
			}
			placeholders += "$" + strconv.Itoa(n)
			args = append(args, s)
			n++
		}
		clause += " AND e.to_state IN (" + placeholders + ")"
	}
	if len(q.FromStates) > 0 {
		placeholders := ""
		for i, s := range q.FromStates {
			if i > 0 {
				placeholders += ", "
			}
			placeholders += "$" + strconv.Itoa(n)
			args = append(args, s)
			n++
		}
		clause += " AND e.from_state IN (" + placeholders + ")"
	}
	if q.MessageLike != "" {
		clause += " AND e.message LIKE $" + strconv.Itoa(n)
		args = append(args, "%"+q.MessageLike+"%")
		n++
	}
	if q.TimestampAfter != nil {
		clause += " AND e.timestamp >= $" + strconv.Itoa(n)
		args = append(args, *q.TimestampAfter)
		n++
	}
	if q.TimestampBefore != nil {
		clause += " AND e.timestamp <= $" + strconv.Itoa(n)
		args = append(args, *q.TimestampBefore)
		n++
	}
	return clause, args
}

