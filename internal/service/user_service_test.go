package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/kidguard-api/internal/models"
	appErrors "github.com/noah-isme/kidguard-api/pkg/errors"
)

func TestApproveOnlyPendingRoles(t *testing.T) {
	store := newFakeStore()
	mom := store.addUser(models.RolePrimary, "mom@example.com", false)
	guard := store.addUser(models.RoleSecurity, "guard@example.com", true)
	svc := NewUserService(fakeUserRepo{store}, nil)
	ctx := context.Background()

	approved, err := svc.Approve(ctx, mom.ID)
	require.NoError(t, err)
	assert.True(t, approved.Approved)

	_, err = svc.Approve(ctx, guard.ID)
	assert.ErrorIs(t, err, appErrors.ErrNotFound)

	_, err = svc.Approve(ctx, "missing")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestListUsersFilters(t *testing.T) {
	store := newFakeStore()
	store.addUser(models.RolePrimary, "mom@example.com", false)
	store.addUser(models.RoleGuardian, "aunt@example.com", true)
	svc := NewUserService(fakeUserRepo{store}, nil)

	pending := false
	users, err := svc.List(context.Background(), models.UserFilter{Approved: &pending})
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "mom@example.com", users[0].Email)

	bogus := models.UserRole("JANITOR")
	_, err = svc.List(context.Background(), models.UserFilter{Role: &bogus})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

// uuidColumnUserRepo fails like Postgres does when a non-uuid reaches a uuid column.
type uuidColumnUserRepo struct{ fakeUserRepo }

func (r uuidColumnUserRepo) Approve(ctx context.Context, id string, roles []models.UserRole) (bool, error) {
	return false, errors.New(`pq: invalid input syntax for type uuid: "` + id + `"`)
}

func TestApproveMalformedIDIsNotFound(t *testing.T) {
	svc := NewUserService(uuidColumnUserRepo{fakeUserRepo{newFakeStore()}}, nil)

	_, err := svc.Approve(context.Background(), "not-a-uuid")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}
