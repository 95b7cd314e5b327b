package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/kidguard-api/internal/models"
	appErrors "github.com/noah-isme/kidguard-api/pkg/errors"
)

type userRepository interface {
	List(ctx context.Context, filter models.UserFilter) ([]models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	Approve(ctx context.Context, id string, roles []models.UserRole) (bool, error)
}

// approvableRoles are the roles whose accounts wait for an administrator.
var approvableRoles = []models.UserRole{models.RolePrimary, models.RoleGuardian}

// UserService handles account administration.
type UserService struct {
	repo   userRepository
	logger *zap.Logger
}

// NewUserService creates an instance of UserService.
func NewUserService(repo userRepository, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserService{repo: repo, logger: logger}
}

// List returns users matching filter, newest first.
func (s *UserService) List(ctx context.Context, filter models.UserFilter) ([]models.User, error) {
	if filter.Role != nil && !filter.Role.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown role filter")
	}
	users, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list users")
	}
	return users, nil
}

// Get returns a single user.
func (s *UserService) Get(ctx context.Context, id string) (*models.User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
	}
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Internal(err, "failed to load user")
	}
	return user, nil
}

// Approve marks a PRIMARY or GUARDIAN account as approved. Any other id is NotFound.
func (s *UserService) Approve(ctx context.Context, id string) (*models.User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found or not awaiting approval")
	}
	ok, err := s.repo.Approve(ctx, id, approvableRoles)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to approve user")
	}
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found or not awaiting approval")
	}
	s.logger.Info("user approved", zap.String("user_id", id))
	return s.Get(ctx, id)
}
