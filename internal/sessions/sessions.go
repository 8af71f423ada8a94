// Package sessions is the launcher lease scope: open/close/tick, the
// acquisition protocol (spec §4.4), and node-resource bin-packing (packing.go).
package sessions

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/tylern4/balsam/internal/domain"
	"github.com/tylern4/balsam/internal/metrics"
	"github.com/tylern4/balsam/pkg/apperrors"
	"github.com/tylern4/balsam/pkg/storage/postgres"
)

// Repository persists Sessions and mediates acquire/release against the
// jobs table.
type Repository struct {
	*postgres.BaseStore
}

// New creates a Session repository bound to db.
func New(db *sql.DB) *Repository {
	return &Repository{BaseStore: postgres.NewBaseStore(db, "sessions")}
}

// Open creates a new Session bound to siteID and, optionally, batchJobID.
func (r *Repository) Open(ctx context.Context, ownerID, siteID string, batchJobID *string, now time.Time) (domain.Session, error) {
	s := domain.Session{
		ID:         uuid.NewString(),
		OwnerID:    ownerID,
		SiteID:     siteID,
		BatchJobID: batchJobID,
		Heartbeat:  now,
	}
	query := `INSERT INTO sessions (id, owner_id, site_id, batch_job_id, heartbeat) VALUES ($1,$2,$3,$4,$5)`
	if _, err := r.ExecContext(ctx, query, s.ID, s.OwnerID, s.SiteID, s.BatchJobID, s.Heartbeat); err != nil {
		return domain.Session{}, apperrors.Internal("open session", err)
	}
	metrics.OpenSessions.Inc()
	return r.Get(ctx, ownerID, s.ID)
}

// Get returns the Session with id, scoped to ownerID, plus the ids of jobs
// it currently holds.
func (r *Repository) Get(ctx context.Context, ownerID, id string) (domain.Session, error) {
	query := `SELECT id, owner_id, site_id, batch_job_id, heartbeat FROM sessions WHERE id = $1 AND owner_id = $2`
	var s domain.Session
	err := r.QueryRowContext(ctx, query, id, ownerID).Scan(&s.ID, &s.OwnerID, &s.SiteID, &s.BatchJobID, &s.Heartbeat)
	if err == sql.ErrNoRows {
		return domain.Session{}, apperrors.NotFound("session", id)
	}
	if err != nil {
		return domain.Session{}, apperrors.Internal("get session", err)
	}
	acquired, err := r.acquiredJobIDs(ctx, id)
	if err != nil {
		return domain.Session{}, err
	}
	s.AcquiredJobIDs = acquired
	return s, nil
}

// Tick refreshes a Session's heartbeat to now (spec §4.4).
func (r *Repository) Tick(ctx context.Context, ownerID, id string, now time.Time) (domain.Session, error) {
	result, err := r.ExecContext(ctx, `UPDATE sessions SET heartbeat = $1 WHERE id = $2 AND owner_id = $3`, now, id, ownerID)
	if err != nil {
		return domain.Session{}, apperrors.Internal("tick session", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.Session{}, apperrors.NotFound("session", id)
	}
	return r.Get(ctx, ownerID, id)
}

// Close releases every job the session holds (spec §4.4 "Close": no state
// change, no LogEvent — only session_ref/batch_job_id clear) and deletes
// the session row, all inside one transaction.
func (r *Repository) Close(ctx context.Context, ownerID, id string) error {
	return r.WithTx(ctx, func(ctx context.Context) error {
		return r.releaseAndDelete(ctx, ownerID, id)
	})
}

// releaseAndDelete clears session_id on every job the session holds, plus
// batch_job_id on jobs whose batch_job_id matches the session's own bound
// BatchJob (the implicit binding acquire performs under spec §4.4 rule 5 —
// a job already bound to a *different* BatchJob before acquire was never a
// candidate under that rule, so this condition exactly isolates the jobs
// acquire itself bound).
func (r *Repository) releaseAndDelete(ctx context.Context, ownerID, id string) error {
	var batchJobID sql.NullString
	err := r.QueryRowContext(ctx, `SELECT batch_job_id FROM sessions WHERE id = $1 AND owner_id = $2`, id, ownerID).Scan(&batchJobID)
	if err == sql.ErrNoRows {
		return apperrors.NotFound("session", id)
	}
	if err != nil {
		return apperrors.Internal("read session for release", err)
	}

	if batchJobID.Valid {
		if _, err := r.ExecContext(ctx, `UPDATE jobs SET batch_job_id = NULL WHERE session_id = $1 AND owner_id = $2 AND batch_job_id = $3`,
			id, ownerID, batchJobID.String); err != nil {
			return apperrors.Internal("release session jobs (bound)", err)
		}
	}
	if _, err := r.ExecContext(ctx, `UPDATE jobs SET session_id = NULL WHERE session_id = $1 AND owner_id = $2`, id, ownerID); err != nil {
		return apperrors.Internal("release session jobs", err)
	}
	result, err := r.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		return apperrors.Internal("delete session", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return apperrors.NotFound("session", id)
	}
	metrics.OpenSessions.Dec()
	return nil
}

// SweepExpired reaps every Session whose heartbeat is older than expiry,
// releasing its jobs exactly as Close does, and returns how many were
// reaped (spec §4.4 "Heartbeat & expiry").
func (r *Repository) SweepExpired(ctx context.Context, now time.Time, expiry time.Duration) (int, error) {
	cutoff := now.Add(-expiry)
	rows, err := r.QueryContext(ctx, `SELECT id, owner_id FROM sessions WHERE heartbeat < $1`, cutoff)
	if err != nil {
		return 0, apperrors.Internal("find expired sessions", err)
	}
	type ref struct{ id, owner string }
	var expired []ref
	for rows.Next() {
		var s ref
		if err := rows.Scan(&s.id, &s.owner); err != nil {
			rows.Close()
			return 0, apperrors.Internal("scan expired session", err)
		}
		expired = append(expired, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, apperrors.Internal("find expired sessions", err)
	}

	reaped := 0
	for _, s := range expired {
		err := r.WithTx(ctx, func(ctx context.Context) error {
			return r.releaseAndDelete(ctx, s.owner, s.id)
		})
		if err != nil {
			return reaped, err
		}
		reaped++
	}
	return reaped, nil
}

func (r *Repository) acquiredJobIDs(ctx context.Context, sessionID string) ([]string, error) {
	rows, err := r.QueryContext(ctx, `SELECT id FROM jobs WHERE session_id = $1 ORDER BY id`, sessionID)
	if err != nil {
		return nil, apperrors.Internal("list acquired jobs", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperrors.Internal("scan acquired job", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
