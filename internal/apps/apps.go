// Package apps is the repository for App entities and the /apps/merge
// operation (spec §3, §6).
package apps

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/tylern4/balsam/internal/domain"
	"github.com/tylern4/balsam/pkg/apperrors"
	"github.com/tylern4/balsam/pkg/storage"
	"github.com/tylern4/balsam/pkg/storage/postgres"
)

// Query is the typed filter struct for listing Apps.
type Query struct {
	Name       string
	SiteID     string
	Pagination storage.Pagination
}

// Repository persists Apps and their Backends in Postgres.
type Repository struct {
	*postgres.BaseStore
}

// New creates an App repository bound to db.
func New(db *sql.DB) *Repository {
	return &Repository{BaseStore: postgres.NewBaseStore(db, "apps")}
}

// Create inserts an App with its initial Backends and Parameters, assigning
// its ID. Must have at least one Backend (spec §3).
func (r *Repository) Create(ctx context.Context, a domain.App) (domain.App, error) {
	if len(a.Backends) == 0 {
		return domain.App{}, apperrors.ValidationError("app must declare at least one backend")
	}
	a.ID = uuid.NewString()

	err := r.WithTx(ctx, func(ctx context.Context) error {
		query := `INSERT INTO apps (id, owner_id, name, parameters) VALUES ($1, $2, $3, $4)`
		if _, err := r.ExecContext(ctx, query, a.ID, a.OwnerID, a.Name, pq.Array(a.Parameters)); err != nil {
			return translateWriteError(err)
		}
		return r.replaceBackends(ctx, a.ID, a.Backends)
	})
	if err != nil {
		return domain.App{}, err
	}
	return r.Get(ctx, a.OwnerID, a.ID)
}

// Get returns the App with id, scoped to ownerID, with its Backends joined
// in and denormalized site hostname/path attached.
func (r *Repository) Get(ctx context.Context, ownerID, id string) (domain.App, error) {
	query := `SELECT id, owner_id, name, parameters FROM apps WHERE id = $1 AND owner_id = $2`
	row := r.QueryRowContext(ctx, query, id, ownerID)

	var a domain.App
	if err := row.Scan(&a.ID, &a.OwnerID, &a.Name, pq.Array(&a.Parameters)); err == sql.ErrNoRows {
		return domain.App{}, apperrors.NotFound("app", id)
	} else if err != nil {
		return domain.App{}, apperrors.Internal("get app", err)
	}

	backends, err := r.backendsFor(ctx, a.ID)
	if err != nil {
		return domain.App{}, err
	}
	a.Backends = backends
	return a, nil
}

// Update replaces an App's name, parameters, and backend set atomically
// (spec §3: "mutating backends replaces the set atomically").
func (r *Repository) Update(ctx context.Context, ownerID string, a domain.App) (domain.App, error) {
	err := r.WithTx(ctx, func(ctx context.Context) error {
		query := `UPDATE apps SET name = $1, parameters = $2 WHERE id = $3 AND owner_id = $4`
		result, err := r.ExecContext(ctx, query, a.Name, pq.Array(a.Parameters), a.ID, ownerID)
		if err != nil {
			return translateWriteError(err)
		}
		rows, _ := result.RowsAffected()
		if rows == 0 {
			return apperrors.NotFound("app", a.ID)
		}
		if a.Backends != nil {
			return r.replaceBackends(ctx, a.ID, a.Backends)
		}
		return nil
	})
	if err != nil {
		return domain.App{}, err
	}
	return r.Get(ctx, ownerID, a.ID)
}

// Delete removes an App owned by ownerID. Backend rows cascade.
func (r *Repository) Delete(ctx context.Context, ownerID, id string) error {
	query := `DELETE FROM apps WHERE id = $1 AND owner_id = $2`
	result, err := r.ExecContext(ctx, query, id, ownerID)
	if err != nil {
		return apperrors.Internal("delete app", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return apperrors.NotFound("app", id)
	}
	return nil
}

// List returns Apps owned by ownerID matching q.
func (r *Repository) List(ctx context.Context, ownerID string, q Query) (storage.ListResult[domain.App], error) {
	pg := q.Pagination.Normalize(1000)

	b := postgres.NewSelectBuilder("apps").Columns("id", "owner_id", "name", "parameters").WhereEq("owner_id", ownerID)
	if q.Name != "" {
		b = b.WhereEq("name", q.Name)
	}
	if q.SiteID != "" {
		b = b.Where("id IN (SELECT app_id FROM app_backends WHERE site_id = ?)", q.SiteID)
	}

	countSQL, countArgs := b.BuildCount()
	var total int64
	if err := r.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return storage.ListResult[domain.App]{}, apperrors.Internal("count apps", err)
	}

	b = b.OrderBy("id", false).Limit(pg.Limit).Offset(pg.Offset)
	sqlStr, args := b.Build()
	rows, err := r.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return storage.ListResult[domain.App]{}, apperrors.Internal("list apps", err)
	}
	defer rows.Close()

	var items []domain.App
	for rows.Next() {
		var a domain.App
		if err := rows.Scan(&a.ID, &a.OwnerID, &a.Name, pq.Array(&a.Parameters)); err != nil {
			return storage.ListResult[domain.App]{}, apperrors.Internal("scan app", err)
		}
		backends, err := r.backendsFor(ctx, a.ID)
		if err != nil {
			return storage.ListResult[domain.App]{}, err
		}
		a.Backends = backends
		items = append(items, a)
	}
	if err := rows.Err(); err != nil {
		return storage.ListResult[domain.App]{}, apperrors.Internal("list apps", err)
	}

	return storage.NewListResult(items, total, pg.Limit, pg.Offset), nil
}

// Merge combines the Apps named by ids (all must share ownerID) into a
// single App with the union of their Backends, per spec §6 POST /apps/merge.
// The first id in ids is kept as the surviving App; the others are deleted.
func (r *Repository) Merge(ctx context.Context, ownerID string, ids []string) (domain.App, error) {
	if len(ids) < 2 {
		return domain.App{}, apperrors.ValidationError("merge requires at least two app ids")
	}

	var merged domain.App
	err := r.WithTx(ctx, func(ctx context.Context) error {
		seen := make(map[string]domain.AppBackend)
		for i, id := range ids {
			a, err := r.Get(ctx, ownerID, id)
			if err != nil {
				return err
			}
			if i == 0 {
				merged = a
			}
			for _, be := range a.Backends {
				seen[be.SiteID] = be
			}
		}

		union := make([]domain.AppBackend, 0, len(seen))
		for _, be := range seen {
			union = append(union, be)
		}
		merged.Backends = union

		if err := r.replaceBackends(ctx, merged.ID, union); err != nil {
			return err
		}
		for _, id := range ids[1:] {
			if err := r.Delete(ctx, ownerID, id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.App{}, err
	}
	return r.Get(ctx, ownerID, merged.ID)
}

func (r *Repository) replaceBackends(ctx context.Context, appID string, backends []domain.AppBackend) error {
	if _, err := r.ExecContext(ctx, `DELETE FROM app_backends WHERE app_id = $1`, appID); err != nil {
		return apperrors.Internal("clear app backends", err)
	}
	for _, be := range backends {
		query := `INSERT INTO app_backends (app_id, site_id, class_name) VALUES ($1, $2, $3)`
		if _, err := r.ExecContext(ctx, query, appID, be.SiteID, be.ClassName); err != nil {
			return apperrors.Internal("insert app backend", err)
		}
	}
	return nil
}

func (r *Repository) backendsFor(ctx context.Context, appID string) ([]domain.AppBackend, error) {
	query := `SELECT ab.site_id, ab.class_name, s.hostname, s.path
	          FROM app_backends ab JOIN sites s ON s.id = ab.site_id
	          WHERE ab.app_id = $1 ORDER BY ab.site_id`
	rows, err := r.QueryContext(ctx, query, appID)
	if err != nil {
		return nil, apperrors.Internal("list app backends", err)
	}
	defer rows.Close()

	var backends []domain.AppBackend
	for rows.Next() {
		var be domain.AppBackend
		if err := rows.Scan(&be.SiteID, &be.ClassName, &be.SiteHostname, &be.SitePath); err != nil {
			return nil, apperrors.Internal("scan app backend", err)
		}
		backends = append(backends, be)
	}
	return backends, rows.Err()
}

func translateWriteError(err error) error {
	if postgres.IsUniqueViolation(err) {
		return apperrors.Conflict("app name must be unique per owner")
	}
	return apperrors.Internal("app write", err)
}
