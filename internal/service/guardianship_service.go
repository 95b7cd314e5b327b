package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/kidguard-api/internal/models"
	appErrors "github.com/noah-isme/kidguard-api/pkg/errors"
)

type guardianshipRepository interface {
	Find(ctx context.Context, userID, studentID string) (*models.Guardianship, error)
	Upsert(ctx context.Context, link *models.Guardianship) error
	ListStudentsFor(ctx context.Context, userID string) ([]models.LinkedStudent, error)
}

type identityLookup interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type studentLookup interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
}

// GuardianshipConfig controls who may manage links.
type GuardianshipConfig struct {
	// AdminBypass lets ADMIN link guardians without holding a primary link.
	AdminBypass bool
}

// GuardianshipService maintains the guardian registry.
type GuardianshipService struct {
	links     guardianshipRepository
	users     identityLookup
	students  studentLookup
	validator *validator.Validate
	logger    *zap.Logger
	config    GuardianshipConfig
}

// NewGuardianshipService constructs the registry service.
func NewGuardianshipService(links guardianshipRepository, users identityLookup, students studentLookup, validate *validator.Validate, logger *zap.Logger, cfg GuardianshipConfig) *GuardianshipService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &GuardianshipService{links: links, users: users, students: students, validator: validate, logger: logger, config: cfg}
}

// LinkGuardian grants the target identity authority over a student, or updates the
// primary flag of an existing link.
func (s *GuardianshipService) LinkGuardian(ctx context.Context, actor models.Identity, req models.LinkGuardianRequest) (*models.LinkResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid link payload")
	}

	if err := s.checkStanding(ctx, actor, req.StudentID); err != nil {
		return nil, err
	}

	target, err := s.resolveTarget(ctx, req.Target)
	if err != nil {
		return nil, err
	}
	if !models.HasRole(models.GuardianEligibleRoles, target.Role) {
		return nil, appErrors.Clone(appErrors.ErrIncompatibleRole, "user role "+string(target.Role)+" cannot be linked as a guardian")
	}

	link := &models.Guardianship{
		UserID:         target.ID,
		StudentID:      req.StudentID,
		IsPrimary:      req.IsPrimary,
		LinkedByUserID: actor.ID,
	}
	if err := s.links.Upsert(ctx, link); err != nil {
		return nil, appErrors.Internal(err, "failed to link guardian")
	}

	s.logger.Info("guardian linked",
		zap.String("guardian_id", target.ID),
		zap.String("student_id", req.StudentID),
		zap.Bool("is_primary", req.IsPrimary),
		zap.String("linked_by", actor.ID),
	)
	return &models.LinkResult{
		GuardianID: target.ID,
		StudentID:  req.StudentID,
		IsPrimary:  req.IsPrimary,
		Message:    "guardian linked",
	}, nil
}

// ListStudentsFor returns the students linked to identityID ordered by surname.
func (s *GuardianshipService) ListStudentsFor(ctx context.Context, identityID string) ([]models.LinkedStudent, error) {
	students, err := s.links.ListStudentsFor(ctx, identityID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list students")
	}
	for i := range students {
		students[i].LinkedByName = fullName(students[i].LinkerFirstName, students[i].LinkerLastName)
	}
	return students, nil
}

// checkStanding runs before the target lookup so that callers without standing
// learn nothing about which emails exist.
func (s *GuardianshipService) checkStanding(ctx context.Context, actor models.Identity, studentID string) error {
	if actor.Role == models.RoleAdmin && s.config.AdminBypass {
		if _, err := s.students.FindByID(ctx, studentID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "student not found")
			}
			return appErrors.Internal(err, "failed to load student")
		}
		return nil
	}

	link, err := s.links.Find(ctx, actor.ID, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrForbidden, "only a primary guardian of this student can link guardians")
		}
		return appErrors.Internal(err, "failed to load guardianship")
	}
	if !link.IsPrimary {
		return appErrors.Clone(appErrors.ErrForbidden, "only a primary guardian of this student can link guardians")
	}
	return nil
}

func (s *GuardianshipService) resolveTarget(ctx context.Context, target string) (*models.User, error) {
	target = strings.TrimSpace(target)
	var (
		user *models.User
		err  error
	)
	if strings.Contains(target, "@") {
		user, err = s.users.FindByEmail(ctx, normalizeEmail(target))
	} else {
		if _, parseErr := uuid.Parse(target); parseErr != nil {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "guardian not found")
		}
		user, err = s.users.FindByID(ctx, target)
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "guardian not found")
		}
		return nil, appErrors.Internal(err, "failed to load guardian")
	}
	return user, nil
}
