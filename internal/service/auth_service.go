package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/kidguard-api/internal/models"
	"github.com/noah-isme/kidguard-api/pkg/database"
	appErrors "github.com/noah-isme/kidguard-api/pkg/errors"
)

type authUserRepository interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	CountByRole(ctx context.Context, role models.UserRole) (int, error)
	Create(ctx context.Context, user *models.User) error
}

// AuthConfig defines configuration for authentication flows.
type AuthConfig struct {
	Secret            string
	Issuer            string
	Expiry            time.Duration
	SeedAdminEmail    string
	SeedAdminPassword string
}

// AuthService issues and validates credentials.
type AuthService struct {
	repo      authUserRepository
	validator *validator.Validate
	logger    *zap.Logger
	config    AuthConfig
	now       func() time.Time
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(repo authUserRepository, validate *validator.Validate, logger *zap.Logger, config AuthConfig) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if config.Expiry <= 0 {
		config.Expiry = 30 * 24 * time.Hour
	}
	return &AuthService{repo: repo, validator: validate, logger: logger, config: config, now: time.Now}
}

// Login authenticates a user and returns a signed access token.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (*models.AuthResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid login payload")
	}

	user, err := s.repo.FindByEmail(ctx, normalizeEmail(req.Email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid email or password")
		}
		return nil, appErrors.Internal(err, "failed to fetch user")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid email or password")
	}

	if !models.IsApproved(user.Role, user.Approved) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "account is awaiting admin approval")
	}

	token, expiresAt, err := s.generateAccessToken(user)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to create access token")
	}

	s.logger.Info("user logged in", zap.String("user_id", user.ID), zap.String("role", string(user.Role)))
	return &models.AuthResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		User:      user.Info(),
		Message:   "login successful",
	}, nil
}

// Register creates a self-service account. Roles that require approval start unapproved.
func (s *AuthService) Register(ctx context.Context, req models.RegisterRequest) (*models.RegisterResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid registration payload")
	}
	if !models.HasRole(models.SelfRegistrableRoles, req.Role) {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("role %s cannot self-register", req.Role))
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to hash password")
	}

	user := &models.User{
		Email:        normalizeEmail(req.Email),
		PasswordHash: string(hash),
		Role:         req.Role,
		FirstName:    strings.TrimSpace(req.FirstName),
		LastName:     strings.TrimSpace(req.LastName),
		Approved:     models.InitialApproval(req.Role),
	}
	if phone := strings.TrimSpace(req.Phone); phone != "" {
		user.Phone = &phone
	}

	if err := s.repo.Create(ctx, user); err != nil {
		if conflict := userConflict(err); conflict != nil {
			return nil, conflict
		}
		return nil, appErrors.Internal(err, "failed to create user")
	}

	message := "registration successful"
	if !user.Approved {
		message = "registration successful, awaiting admin approval"
	}
	s.logger.Info("user registered", zap.String("user_id", user.ID), zap.String("role", string(user.Role)))
	return &models.RegisterResponse{User: user.Info(), Message: message}, nil
}

// SeedAdmin creates the bootstrap administrator when none exists yet.
func (s *AuthService) SeedAdmin(ctx context.Context) (*models.SeedAdminResponse, error) {
	if s.config.SeedAdminEmail == "" || s.config.SeedAdminPassword == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "admin seed credentials are not configured")
	}

	count, err := s.repo.CountByRole(ctx, models.RoleAdmin)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to count administrators")
	}
	if count > 0 {
		return nil, appErrors.Clone(appErrors.ErrConflict, "an administrator already exists")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(s.config.SeedAdminPassword), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to hash password")
	}

	admin := &models.User{
		Email:        normalizeEmail(s.config.SeedAdminEmail),
		PasswordHash: string(hash),
		Role:         models.RoleAdmin,
		FirstName:    "System",
		LastName:     "Admin",
		Approved:     true,
	}
	if err := s.repo.Create(ctx, admin); err != nil {
		if conflict := userConflict(err); conflict != nil {
			return nil, conflict
		}
		return nil, appErrors.Internal(err, "failed to create administrator")
	}

	s.logger.Info("administrator seeded", zap.String("user_id", admin.ID))
	return &models.SeedAdminResponse{ID: admin.ID, Email: admin.Email, Message: "administrator created"}, nil
}

// ValidateToken parses and validates an access token returning the claims.
func (s *AuthService) ValidateToken(tokenString string) (*models.JWTClaims, error) {
	opts := []jwt.ParserOption{jwt.WithTimeFunc(s.now)}
	if s.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.config.Issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, &models.JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.config.Secret), nil
	}, opts...)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid token")
	}

	claims, ok := token.Claims.(*models.JWTClaims)
	if !ok || !token.Valid {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token claims")
	}
	return claims, nil
}

func (s *AuthService) generateAccessToken(user *models.User) (string, time.Time, error) {
	issuedAt := s.now().UTC()
	expiresAt := issuedAt.Add(s.config.Expiry)
	claims := &models.JWTClaims{
		UserID:   user.ID,
		Email:    user.Email,
		Role:     user.Role,
		Approved: models.IsApproved(user.Role, user.Approved),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.config.Issuer,
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.config.Secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// userConflict maps a unique violation on users to a Conflict naming the field.
func userConflict(err error) *appErrors.Error {
	constraint, ok := database.UniqueViolation(err)
	if !ok {
		return nil
	}
	switch constraint {
	case "users_email_key":
		return appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "email is already registered")
	case "users_phone_key":
		return appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "phone is already registered")
	default:
		return appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "user already exists")
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
