package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/kidguard-api/internal/models"
)

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxdb := sqlx.NewDb(db, "postgres")
	return sqlxdb, mock, func() {
		db.Close()
	}
}

var userColumnNames = []string{"id", "email", "password_hash", "role", "first_name", "last_name", "phone", "photo_url", "is_approved", "created_at", "updated_at"}

func TestFindByEmail(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows(userColumnNames).
		AddRow("u1", "mom@example.com", "hash", string(models.RolePrimary), "Grace", "Hopper", "555-0100", nil, true, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE email = $1 LIMIT 1")).
		WithArgs("mom@example.com").
		WillReturnRows(rows)

	user, err := repo.FindByEmail(context.Background(), "mom@example.com")
	require.NoError(t, err)
	assert.Equal(t, models.RolePrimary, user.Role)
	require.NotNil(t, user.Phone)
	assert.Equal(t, "555-0100", *user.Phone)
	assert.Nil(t, user.PhotoURL)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByIDNotFound(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE id = $1")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByID(context.Background(), "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestListUsersWithFilter(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	role := models.RoleGuardian
	approved := false
	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE role = $1 AND is_approved = $2 ORDER BY created_at DESC")).
		WithArgs(role, approved).
		WillReturnRows(sqlmock.NewRows(userColumnNames).AddRow("u2", "g@example.com", "hash", string(role), "G", "One", nil, nil, false, now, now))

	users, err := repo.List(context.Background(), models.UserFilter{Role: &role, Approved: &approved})
	require.NoError(t, err)
	assert.Len(t, users, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateUser(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectExec("INSERT INTO users").WillReturnResult(sqlmock.NewResult(1, 1))

	user := &models.User{Email: "s@example.com", PasswordHash: "hash", Role: models.RoleSecurity, FirstName: "S", LastName: "Guard", Approved: true}
	require.NoError(t, repo.Create(context.Background(), user))
	assert.NotEmpty(t, user.ID)
	assert.False(t, user.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApproveUser(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET is_approved = TRUE, updated_at = $1 WHERE id = $2 AND role IN ($3, $4)")).
		WithArgs(sqlmock.AnyArg(), "u1", models.RolePrimary, models.RoleGuardian).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.Approve(context.Background(), "u1", []models.UserRole{models.RolePrimary, models.RoleGuardian})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCountByRole(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM users WHERE role = $1")).
		WithArgs(models.RoleAdmin).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	count, err := repo.CountByRole(context.Background(), models.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
