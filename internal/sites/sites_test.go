package sites

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tylern4/balsam/internal/domain"
	"github.com/tylern4/balsam/pkg/apperrors"
)

func TestCreateAssignsIDAndPersists(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := New(db)
	mock.ExpectExec("INSERT INTO sites").WillReturnResult(sqlmock.NewResult(1, 1))

	site, err := repo.Create(context.Background(), domain.Site{OwnerID: "alice", Hostname: "theta", Path: "/projects/foo"})
	require.NoError(t, err)
	assert.NotEmpty(t, site.ID)
	assert.False(t, site.LastRefresh.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetReturnsNotFoundWhenMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := New(db)
	mock.ExpectQuery("SELECT .* FROM sites").WillReturnError(sql.ErrNoRows)

	_, err = repo.Get(context.Background(), "alice", "missing-id")
	se, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.KindNotFound, se.Kind)
}

func TestListAppliesOwnerScopeAndHostnameFilter(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := New(db)
	mock.ExpectQuery("SELECT COUNT.. FROM sites").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	rows := sqlmock.NewRows([]string{"id", "owner_id", "hostname", "path", "status", "last_refresh"}).
		AddRow("site-1", "alice", "theta", "/projects/foo", []byte(`{}`), time.Now())
	mock.ExpectQuery("SELECT id, owner_id, hostname, path, status, last_refresh FROM sites").WillReturnRows(rows)

	result, err := repo.List(context.Background(), "alice", Query{Hostname: "theta"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.Total)
	require.Len(t, result.Items, 1)
	assert.Equal(t, "theta", result.Items[0].Hostname)
	require.NoError(t, mock.ExpectationsWereMet())
}
