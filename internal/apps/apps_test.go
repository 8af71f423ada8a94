package apps

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tylern4/balsam/internal/domain"
	"github.com/tylern4/balsam/pkg/apperrors"
)

func TestCreateRejectsAppWithNoBackends(t *testing.T) {
	repo := New((*sql.DB)(nil))
	_, err := repo.Create(context.Background(), domain.App{OwnerID: "alice", Name: "nw-opt"})
	se, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.KindValidationError, se.Kind)
}

func TestMergeRejectsFewerThanTwoIDs(t *testing.T) {
	repo := New((*sql.DB)(nil))
	_, err := repo.Merge(context.Background(), "alice", []string{"only-one"})
	se, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.KindValidationError, se.Kind)
}
