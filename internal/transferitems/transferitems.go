// Package transferitems is the repository for TransferItem entities: the
// file-movement records a launcher attaches to a Job's stage-in/stage-out
// (spec §6 /transfers/, §4.6 "transfer-item" pub/sub entity). TransferItems
// have no owner_id column of their own; ownership is scoped by joining
// through the owning Job, the same indirect-ownership pattern the teacher
// uses for child records of an owned aggregate.
package transferitems

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/tylern4/balsam/internal/domain"
	"github.com/tylern4/balsam/pkg/apperrors"
	"github.com/tylern4/balsam/pkg/storage"
	"github.com/tylern4/balsam/pkg/storage/postgres"
)

// Query is the typed filter struct for listing TransferItems.
type Query struct {
	JobIDs     []string
	States     []domain.TransferState
	Pagination storage.Pagination
}

// Repository persists TransferItems in Postgres.
type Repository struct {
	*postgres.BaseStore
}

// New creates a TransferItem repository bound to db.
func New(db *sql.DB) *Repository {
	return &Repository{BaseStore: postgres.NewBaseStore(db, "transfer_items")}
}

// Create inserts a new TransferItem for a Job owned by ownerID.
func (r *Repository) Create(ctx context.Context, ownerID string, t domain.TransferItem) (domain.TransferItem, error) {
	owns, err := r.jobOwnedBy(ctx, ownerID, t.JobID)
	if err != nil {
		return domain.TransferItem{}, err
	}
	if !owns {
		return domain.TransferItem{}, apperrors.NotFound("job", t.JobID)
	}

	t.ID = uuid.NewString()
	if t.State == "" {
		t.State = domain.TransferPending
	}
	query := `INSERT INTO transfer_items (id, job_id, direction, location_alias, remote_path, local_path, state)
	          VALUES ($1,$2,$3,$4,$5,$6,$7)`
	_, err = r.ExecContext(ctx, query, t.ID, t.JobID, t.Direction, t.LocationAlias, t.RemotePath, t.LocalPath, t.State)
	if err != nil {
		return domain.TransferItem{}, apperrors.Internal("insert transfer item", err)
	}
	return r.Get(ctx, ownerID, t.ID)
}

// Get returns the TransferItem with id, scoped to ownerID via its Job.
func (r *Repository) Get(ctx context.Context, ownerID, id string) (domain.TransferItem, error) {
	query := `SELECT ` + transferColumns + ` FROM transfer_items t
	          JOIN jobs j ON j.id = t.job_id
	          WHERE t.id = $1 AND j.owner_id = $2`
	row := r.QueryRowContext(ctx, query, id, ownerID)
	item, err := scanTransferItem(row)
	if err == sql.ErrNoRows {
		return domain.TransferItem{}, apperrors.NotFound("transfer_item", id)
	}
	if err != nil {
		return domain.TransferItem{}, apperrors.Internal("get transfer item", err)
	}
	return item, nil
}

// UpdateState moves a TransferItem to a new state, stamping state_timestamp.
func (r *Repository) UpdateState(ctx context.Context, ownerID, id string, state domain.TransferState, now time.Time) (domain.TransferItem, error) {
	query := `UPDATE transfer_items SET state = $1, state_timestamp = $2
	          WHERE id = $3 AND job_id IN (SELECT id FROM jobs WHERE owner_id = $4)`
	result, err := r.ExecContext(ctx, query, state, now, id, ownerID)
	if err != nil {
		return domain.TransferItem{}, apperrors.Internal("update transfer item", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.TransferItem{}, apperrors.NotFound("transfer_item", id)
	}
	return r.Get(ctx, ownerID, id)
}

// Delete removes a TransferItem owned (via its Job) by ownerID.
func (r *Repository) Delete(ctx context.Context, ownerID, id string) error {
	query := `DELETE FROM transfer_items WHERE id = $1 AND job_id IN (SELECT id FROM jobs WHERE owner_id = $2)`
	result, err := r.ExecContext(ctx, query, id, ownerID)
	if err != nil {
		return apperrors.Internal("delete transfer item", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return apperrors.NotFound("transfer_item", id)
	}
	return nil
}

// List returns TransferItems belonging to Jobs owned by ownerID, matching q.
func (r *Repository) List(ctx context.Context, ownerID string, q Query) (storage.ListResult[domain.TransferItem], error) {
	pg := q.Pagination.Normalize(1000)

	b := postgres.NewSelectBuilder("transfer_items t").
		Columns(joinedColumnList...).
		Where("t.job_id IN (SELECT id FROM jobs WHERE owner_id = ?)", ownerID)
	if len(q.JobIDs) > 0 {
		ids := make([]any, len(q.JobIDs))
		for i, id := range q.JobIDs {
			ids[i] = id
		}
		b = b.WhereIn("t.job_id", ids)
	}
	if len(q.States) > 0 {
		states := make([]any, len(q.States))
		for i, s := range q.States {
			states[i] = s
		}
		b = b.WhereIn("t.state", states)
	}

	countSQL, countArgs := b.BuildCount()
	var total int64
	if err := r.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return storage.ListResult[domain.TransferItem]{}, apperrors.Internal("count transfer items", err)
	}

	b = b.OrderBy("t.id", false).Limit(pg.Limit).Offset(pg.Offset)
	sqlStr, args := b.Build()
	rows, err := r.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return storage.ListResult[domain.TransferItem]{}, apperrors.Internal("list transfer items", err)
	}
	defer rows.Close()

	var items []domain.TransferItem
	for rows.Next() {
		t, err := scanTransferItem(rows)
		if err != nil {
			return storage.ListResult[domain.TransferItem]{}, apperrors.Internal("scan transfer item", err)
		}
		items = append(items, t)
	}
	if err := rows.Err(); err != nil {
		return storage.ListResult[domain.TransferItem]{}, apperrors.Internal("list transfer items", err)
	}

	return storage.NewListResult(items, total, pg.Limit, pg.Offset), nil
}

func (r *Repository) jobOwnedBy(ctx context.Context, ownerID, jobID string) (bool, error) {
	var exists bool
	err := r.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM jobs WHERE id = $1 AND owner_id = $2)`, jobID, ownerID).Scan(&exists)
	if err != nil {
		return false, apperrors.Internal("check job ownership", err)
	}
	return exists, nil
}

const transferColumns = "t.id, t.job_id, t.direction, t.location_alias, t.remote_path, t.local_path, t.state, t.state_timestamp"

var joinedColumnList = []string{
	"t.id", "t.job_id", "t.direction", "t.location_alias", "t.remote_path", "t.local_path", "t.state", "t.state_timestamp",
}

func scanTransferItem(row storage.Scanner) (domain.TransferItem, error) {
	var t domain.TransferItem
	if err := row.Scan(&t.ID, &t.JobID, &t.Direction, &t.LocationAlias, &t.RemotePath, &t.LocalPath, &t.State, &t.StateTimestamp); err != nil {
		return domain.TransferItem{}, err
	}
	return t, nil
}
