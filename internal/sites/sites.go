// Package sites is the repository for Site entities (spec §3, §6 /sites/).
package sites

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tylern4/balsam/internal/domain"
	"github.com/tylern4/balsam/pkg/apperrors"
	"github.com/tylern4/balsam/pkg/storage"
	"github.com/tylern4/balsam/pkg/storage/postgres"
)

// Query is the typed filter struct for listing Sites. Zero-value fields are
// omitted from the WHERE clause.
type Query struct {
	Hostname   string
	PathPrefix string
	Pagination storage.Pagination
}

// Repository persists Sites in Postgres.
type Repository struct {
	*postgres.BaseStore
}

// New creates a Site repository bound to db.
func New(db *sql.DB) *Repository {
	return &Repository{BaseStore: postgres.NewBaseStore(db, "sites")}
}

// Create inserts a new Site owned by ownerID, assigning its ID.
func (r *Repository) Create(ctx context.Context, s domain.Site) (domain.Site, error) {
	s.ID = uuid.NewString()
	s.LastRefresh = time.Now().UTC()

	status, err := json.Marshal(s.Status)
	if err != nil {
		return domain.Site{}, apperrors.Internal("marshal site status", err)
	}

	query := `INSERT INTO sites (id, owner_id, hostname, path, status, last_refresh)
	          VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := r.ExecContext(ctx, query, s.ID, s.OwnerID, s.Hostname, s.Path, status, s.LastRefresh); err != nil {
		return domain.Site{}, translateWriteError(err)
	}
	return s, nil
}

// Get returns the Site with id, scoped to ownerID.
func (r *Repository) Get(ctx context.Context, ownerID, id string) (domain.Site, error) {
	query := `SELECT id, owner_id, hostname, path, status, last_refresh
	          FROM sites WHERE id = $1 AND owner_id = $2`
	row := r.QueryRowContext(ctx, query, id, ownerID)
	site, err := scanSite(row)
	if err == sql.ErrNoRows {
		return domain.Site{}, apperrors.NotFound("site", id)
	}
	if err != nil {
		return domain.Site{}, apperrors.Internal("get site", err)
	}
	return site, nil
}

// Update overwrites the mutable fields of an existing, owner-scoped Site,
// refreshing last_refresh.
func (r *Repository) Update(ctx context.Context, ownerID string, s domain.Site) (domain.Site, error) {
	s.LastRefresh = time.Now().UTC()
	status, err := json.Marshal(s.Status)
	if err != nil {
		return domain.Site{}, apperrors.Internal("marshal site status", err)
	}

	query := `UPDATE sites SET hostname = $1, path = $2, status = $3, last_refresh = $4
	          WHERE id = $5 AND owner_id = $6`
	result, err := r.ExecContext(ctx, query, s.Hostname, s.Path, status, s.LastRefresh, s.ID, ownerID)
	if err != nil {
		return domain.Site{}, translateWriteError(err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.Site{}, apperrors.NotFound("site", s.ID)
	}
	return r.Get(ctx, ownerID, s.ID)
}

// Delete removes a Site owned by ownerID.
func (r *Repository) Delete(ctx context.Context, ownerID, id string) error {
	query := `DELETE FROM sites WHERE id = $1 AND owner_id = $2`
	result, err := r.ExecContext(ctx, query, id, ownerID)
	if err != nil {
		return apperrors.Internal("delete site", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return apperrors.NotFound("site", id)
	}
	return nil
}

// List returns Sites owned by ownerID matching q, with the filtered total.
func (r *Repository) List(ctx context.Context, ownerID string, q Query) (storage.ListResult[domain.Site], error) {
	pg := q.Pagination.Normalize(1000)

	b := postgres.NewSelectBuilder("sites").
		Columns("id", "owner_id", "hostname", "path", "status", "last_refresh").
		WhereEq("owner_id", ownerID)
	if q.Hostname != "" {
		b = b.WhereEq("hostname", q.Hostname)
	}
	if q.PathPrefix != "" {
		b = b.Where("path LIKE ?", q.PathPrefix+"%")
	}

	countSQL, countArgs := b.BuildCount()
	var total int64
	if err := r.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return storage.ListResult[domain.Site]{}, apperrors.Internal("count sites", err)
	}

	b = b.OrderBy("id", false).Limit(pg.Limit).Offset(pg.Offset)
	sqlStr, args := b.Build()
	rows, err := r.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return storage.ListResult[domain.Site]{}, apperrors.Internal("list sites", err)
	}
	defer rows.Close()

	var items []domain.Site
	for rows.Next() {
		site, err := scanSite(rows)
		if err != nil {
			return storage.ListResult[domain.Site]{}, apperrors.Internal("scan site", err)
		}
		items = append(items, site)
	}
	if err := rows.Err(); err != nil {
		return storage.ListResult[domain.Site]{}, apperrors.Internal("list sites", err)
	}

	return storage.NewListResult(items, total, pg.Limit, pg.Offset), nil
}

func scanSite(row storage.Scanner) (domain.Site, error) {
	var s domain.Site
	var status []byte
	if err := row.Scan(&s.ID, &s.OwnerID, &s.Hostname, &s.Path, &status, &s.LastRefresh); err != nil {
		return domain.Site{}, err
	}
	if len(status) > 0 {
		if err := json.Unmarshal(status, &s.Status); err != nil {
			return domain.Site{}, fmt.Errorf("unmarshal site status: %w", err)
		}
	}
	return s, nil
}

func translateWriteError(err error) error {
	if postgres.IsUniqueViolation(err) {
		return apperrors.Conflict("site (owner_id, hostname, path) must be unique")
	}
	return apperrors.Internal("site write", err)
}
