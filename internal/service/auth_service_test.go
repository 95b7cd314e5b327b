package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/kidguard-api/internal/models"
	appErrors "github.com/noah-isme/kidguard-api/pkg/errors"
)

func newAuthService(store *fakeStore) *AuthService {
	return NewAuthService(fakeUserRepo{store}, nil, nil, AuthConfig{
		Secret:            "test-secret",
		Issuer:            "kidguard",
		Expiry:            time.Hour,
		SeedAdminEmail:    "admin@kidguard.com",
		SeedAdminPassword: "changeme123",
	})
}

func addUserWithPassword(t *testing.T, store *fakeStore, role models.UserRole, email, password string, approved bool) *models.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	u := store.addUser(role, email, approved)
	u.PasswordHash = string(hash)
	return u
}

func TestLoginIssuesValidToken(t *testing.T) {
	store := newFakeStore()
	user := addUserWithPassword(t, store, models.RolePrimary, "mom@example.com", "password123", true)
	svc := newAuthService(store)

	res, err := svc.Login(context.Background(), models.LoginRequest{Email: "MOM@example.com", Password: "password123"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Token)
	assert.Equal(t, user.ID, res.User.ID)

	claims, err := svc.ValidateToken(res.Token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)
	assert.Equal(t, models.RolePrimary, claims.Role)
	assert.True(t, claims.Approved)
}

func TestLoginFailures(t *testing.T) {
	store := newFakeStore()
	addUserWithPassword(t, store, models.RolePrimary, "mom@example.com", "password123", true)
	addUserWithPassword(t, store, models.RoleGuardian, "aunt@example.com", "password123", false)
	svc := newAuthService(store)
	ctx := context.Background()

	_, err := svc.Login(ctx, models.LoginRequest{Email: "mom@example.com", Password: "wrong"})
	assert.ErrorIs(t, err, appErrors.ErrInvalidCredentials)

	_, err = svc.Login(ctx, models.LoginRequest{Email: "nobody@example.com", Password: "password123"})
	assert.ErrorIs(t, err, appErrors.ErrInvalidCredentials)

	_, err = svc.Login(ctx, models.LoginRequest{Email: "aunt@example.com", Password: "password123"})
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
}

func TestRegisterAppliesApprovalPolicy(t *testing.T) {
	store := newFakeStore()
	svc := newAuthService(store)
	ctx := context.Background()

	guard, err := svc.Register(ctx, models.RegisterRequest{Email: "guard@example.com", Password: "password123", Role: models.RoleSecurity, FirstName: "Sam", LastName: "Guard"})
	require.NoError(t, err)
	assert.True(t, guard.User.Approved)

	mom, err := svc.Register(ctx, models.RegisterRequest{Email: "mom@example.com", Password: "password123", Role: models.RolePrimary, FirstName: "Grace", LastName: "Hopper", Phone: "555-0100"})
	require.NoError(t, err)
	assert.False(t, mom.User.Approved)
	assert.Contains(t, mom.Message, "awaiting admin approval")

	_, err = svc.Register(ctx, models.RegisterRequest{Email: "root@example.com", Password: "password123", Role: models.RoleAdmin, FirstName: "R", LastName: "Oot"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestRegisterConflictNamesField(t *testing.T) {
	store := newFakeStore()
	svc := newAuthService(store)
	ctx := context.Background()

	_, err := svc.Register(ctx, models.RegisterRequest{Email: "mom@example.com", Password: "password123", Role: models.RolePrimary, FirstName: "Grace", LastName: "Hopper", Phone: "555-0100"})
	require.NoError(t, err)

	_, err = svc.Register(ctx, models.RegisterRequest{Email: "mom@example.com", Password: "password123", Role: models.RoleGuardian, FirstName: "G", LastName: "H"})
	require.ErrorIs(t, err, appErrors.ErrConflict)
	assert.Contains(t, appErrors.FromError(err).Message, "email")

	_, err = svc.Register(ctx, models.RegisterRequest{Email: "other@example.com", Password: "password123", Role: models.RoleGuardian, FirstName: "G", LastName: "H", Phone: "555-0100"})
	require.ErrorIs(t, err, appErrors.ErrConflict)
	assert.Contains(t, appErrors.FromError(err).Message, "phone")
}

func TestSeedAdminOnlyOnce(t *testing.T) {
	store := newFakeStore()
	svc := newAuthService(store)
	ctx := context.Background()

	res, err := svc.SeedAdmin(ctx)
	require.NoError(t, err)
	assert.Equal(t, "admin@kidguard.com", res.Email)

	_, err = svc.Login(ctx, models.LoginRequest{Email: "admin@kidguard.com", Password: "changeme123"})
	require.NoError(t, err)

	_, err = svc.SeedAdmin(ctx)
	assert.ErrorIs(t, err, appErrors.ErrConflict)
}

func TestValidateTokenRejectsExpiredAndForeignTokens(t *testing.T) {
	store := newFakeStore()
	addUserWithPassword(t, store, models.RoleSecurity, "guard@example.com", "password123", true)
	svc := newAuthService(store)

	res, err := svc.Login(context.Background(), models.LoginRequest{Email: "guard@example.com", Password: "password123"})
	require.NoError(t, err)

	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = svc.ValidateToken(res.Token)
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)

	other := NewAuthService(fakeUserRepo{store}, nil, nil, AuthConfig{Secret: "other", Issuer: "kidguard"})
	_, err = other.ValidateToken(res.Token)
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)
}
