package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/kidguard-api/internal/models"
	"github.com/noah-isme/kidguard-api/internal/repository"
	"github.com/noah-isme/kidguard-api/pkg/database"
	appErrors "github.com/noah-isme/kidguard-api/pkg/errors"
	"github.com/noah-isme/kidguard-api/pkg/export"
)

const (
	historyCachePrefix = "pickup:history:"
	livePairConstraint = "pickup_sessions_live_pair_key"
	tokenRateScope     = "pickup-token"
	maxIssueAttempts   = 2
)

// historyRoles may read and export the pickup history.
var historyRoles = []models.UserRole{models.RoleAdmin, models.RoleSecurity}

// redeemRoles may release a student against a token.
var redeemRoles = []models.UserRole{models.RoleSecurity}

type pickupRepository interface {
	FindActive(ctx context.Context, guardianID, studentID string, now time.Time) (*models.PickupSession, error)
	Issue(ctx context.Context, session *models.PickupSession) error
	FindByToken(ctx context.Context, token string) (*models.PickupSessionDetail, error)
	MarkExpired(ctx context.Context, sessionID string) (bool, error)
	FindLogBySession(ctx context.Context, sessionID string) (*models.PickupLog, error)
	Verify(ctx context.Context, log *models.PickupLog) error
	History(ctx context.Context, filter models.HistoryFilter) ([]models.HistoryEntry, error)
}

type guardianLinkFinder interface {
	Find(ctx context.Context, userID, studentID string) (*models.Guardianship, error)
}

// TokenGenerator mints opaque pickup tokens.
type TokenGenerator func() string

// PickupConfig tunes the session lifecycle.
type PickupConfig struct {
	TokenTTL           time.Duration
	RateLimitPerMinute int
	HistoryCacheTTL    time.Duration
}

// ExportFile is a rendered history download.
type ExportFile struct {
	Filename    string
	ContentType string
	Body        []byte
}

// PickupService drives the pickup session state machine.
type PickupService struct {
	repo      pickupRepository
	links     guardianLinkFinder
	cache     *CacheService
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	config    PickupConfig
	now       func() time.Time
	newToken  TokenGenerator
}

// NewPickupService constructs the service. cache and metrics may be nil.
func NewPickupService(repo pickupRepository, links guardianLinkFinder, cache *CacheService, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, cfg PickupConfig) *PickupService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 5 * time.Minute
	}
	return &PickupService{
		repo:      repo,
		links:     links,
		cache:     cache,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		config:    cfg,
		now:       time.Now,
		newToken:  uuid.NewString,
	}
}

// RequestToken returns the live token for the guardian/student pair, minting one
// when none is live.
func (s *PickupService) RequestToken(ctx context.Context, actor models.Identity, req models.RequestTokenRequest) (*models.TokenResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid token request")
	}

	if _, err := s.links.Find(ctx, actor.ID, req.StudentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "you are not a guardian of this student")
		}
		return nil, appErrors.Internal(err, "failed to load guardianship")
	}

	now := s.now().UTC()
	if active, err := s.findActive(ctx, actor.ID, req.StudentID, now); err != nil || active != nil {
		return active, err
	}

	allowed, err := s.cache.Allow(ctx, tokenRateScope, actor.ID, s.config.RateLimitPerMinute, time.Minute, now)
	if err != nil {
		s.logger.Warn("token rate limiter unavailable", zap.Error(err))
	}
	if !allowed {
		return nil, appErrors.Clone(appErrors.ErrTooManyRequests, "too many pickup token requests, try again shortly")
	}

	var session *models.PickupSession
	for attempt := 1; ; attempt++ {
		session = &models.PickupSession{
			GuardianID: actor.ID,
			StudentID:  req.StudentID,
			Token:      s.newToken(),
			CreatedAt:  now,
			ExpiresAt:  now.Add(s.config.TokenTTL),
		}
		err := s.repo.Issue(ctx, session)
		if err == nil {
			break
		}
		constraint, ok := database.UniqueViolation(err)
		if !ok || constraint != livePairConstraint || attempt >= maxIssueAttempts {
			return nil, appErrors.Internal(err, "failed to create pickup session")
		}
		// A concurrent request for the same pair won the insert. When its session
		// is already gone again, mint once more.
		if active, findErr := s.findActive(ctx, actor.ID, req.StudentID, now); findErr != nil || active != nil {
			return active, findErr
		}
	}

	s.metrics.ObservePickupToken(OutcomeNew)
	s.logger.Info("pickup token issued",
		zap.String("session_id", session.ID),
		zap.String("guardian_id", actor.ID),
		zap.String("student_id", req.StudentID),
	)
	return &models.TokenResult{
		SessionID:       session.ID,
		Token:           session.Token,
		ExpiresAt:       session.ExpiresAt,
		ValidityMinutes: validityMinutes(session.ExpiresAt.Sub(now)),
		Message:         "pickup token generated",
	}, nil
}

func (s *PickupService) findActive(ctx context.Context, guardianID, studentID string, now time.Time) (*models.TokenResult, error) {
	active, err := s.repo.FindActive(ctx, guardianID, studentID, now)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, appErrors.Internal(err, "failed to load pickup session")
	}
	s.metrics.ObservePickupToken(OutcomeReused)
	return &models.TokenResult{
		SessionID:       active.ID,
		Token:           active.Token,
		ExpiresAt:       active.ExpiresAt,
		ValidityMinutes: validityMinutes(active.ExpiresAt.Sub(now)),
		Reused:          true,
		Message:         "active pickup token reused",
	}, nil
}

// RedeemToken consumes a live token exactly once and records who released the student.
func (s *PickupService) RedeemToken(ctx context.Context, actor models.Identity, req models.RedeemTokenRequest) (*models.Redemption, error) {
	if decision := models.CheckAccess(redeemRoles, actor.Role, actor.Approved); !decision.Allowed {
		return nil, appErrors.Clone(appErrors.ErrForbidden, decision.Reason)
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid redemption payload")
	}

	detail, err := s.repo.FindByToken(ctx, req.Token)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.metrics.ObservePickupRedemption(OutcomeInvalid)
			return nil, appErrors.Clone(appErrors.ErrNotFound, "invalid token")
		}
		return nil, appErrors.Internal(err, "failed to load pickup session")
	}

	now := s.now().UTC()
	if !detail.Live(now) {
		return nil, s.reject(ctx, detail.PickupSession, now)
	}

	log := &models.PickupLog{
		SessionID:      detail.ID,
		SecurityUserID: actor.ID,
		VerifiedAt:     now,
		Notes:          req.Notes,
	}
	if err := s.repo.Verify(ctx, log); err != nil {
		if errors.Is(err, repository.ErrSessionNotRedeemable) {
			return nil, s.rejectAfterRace(ctx, req.Token, now)
		}
		return nil, appErrors.Internal(err, "failed to verify pickup")
	}

	s.metrics.ObservePickupRedemption(OutcomeVerified)
	if err := s.cache.Invalidate(ctx, historyCachePrefix+"*"); err != nil {
		s.logger.Warn("failed to invalidate pickup history cache", zap.Error(err))
	}
	s.logger.Info("pickup verified",
		zap.String("session_id", detail.ID),
		zap.String("log_id", log.ID),
		zap.String("security_user_id", actor.ID),
	)

	return &models.Redemption{
		LogID:     log.ID,
		SessionID: detail.ID,
		Student: models.PersonSummary{
			Name:  fullName(detail.StudentFirstName, detail.StudentLastName),
			Grade: detail.StudentGrade,
		},
		Guardian: models.PersonSummary{
			Name:  fullName(detail.GuardianFirstName, detail.GuardianLastName),
			Phone: detail.GuardianPhone,
		},
		VerifiedBy: actor.Email,
		VerifiedAt: log.VerifiedAt,
		Message:    "pickup verified",
	}, nil
}

// reject classifies a session that cannot be redeemed at now.
func (s *PickupService) reject(ctx context.Context, session models.PickupSession, now time.Time) error {
	switch {
	case session.Status == models.PickupStatusVerified:
		s.metrics.ObservePickupRedemption(OutcomeAlreadyUsed)
		return s.alreadyUsed(ctx, session.ID)
	case session.Status == models.PickupStatusGenerated:
		if _, err := s.repo.MarkExpired(ctx, session.ID); err != nil {
			s.logger.Warn("failed to persist expired pickup session", zap.String("session_id", session.ID), zap.Error(err))
		}
	}
	s.metrics.ObservePickupRedemption(OutcomeExpired)
	return appErrors.Clone(appErrors.ErrTokenExpired, fmt.Sprintf("token expired at %s", session.ExpiresAt.UTC().Format(time.RFC3339)))
}

// rejectAfterRace re-reads a session whose conditional update matched nothing.
func (s *PickupService) rejectAfterRace(ctx context.Context, token string, now time.Time) error {
	detail, err := s.repo.FindByToken(ctx, token)
	if err != nil {
		return appErrors.Internal(err, "failed to reload pickup session")
	}
	if detail.Live(now) {
		return appErrors.Internal(repository.ErrSessionNotRedeemable, "pickup session changed during verification")
	}
	return s.reject(ctx, detail.PickupSession, now)
}

func (s *PickupService) alreadyUsed(ctx context.Context, sessionID string) error {
	log, err := s.repo.FindLogBySession(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("failed to load pickup log", zap.String("session_id", sessionID), zap.Error(err))
		}
		return appErrors.Clone(appErrors.ErrTokenAlreadyUsed, "")
	}
	return appErrors.WithDetails(appErrors.ErrTokenAlreadyUsed, map[string]interface{}{
		"log_id":      log.ID,
		"verified_at": log.VerifiedAt,
	})
}

// History lists verified pickups newest first. Only ADMIN and SECURITY may read it.
func (s *PickupService) History(ctx context.Context, actor models.Identity, filter models.HistoryFilter) ([]models.HistoryEntry, error) {
	if decision := models.CheckAccess(historyRoles, actor.Role, actor.Approved); !decision.Allowed {
		return nil, appErrors.Clone(appErrors.ErrForbidden, decision.Reason)
	}
	if filter.From != nil && filter.To != nil && filter.From.After(*filter.To) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "from must not be after to")
	}

	key := historyCacheKey(filter)
	var cached []models.HistoryEntry
	if hit, _ := s.cache.Get(ctx, key, &cached); hit {
		return cached, nil
	}

	entries, err := s.repo.History(ctx, filter)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load pickup history")
	}
	_ = s.cache.Set(ctx, key, entries, s.config.HistoryCacheTTL)
	return entries, nil
}

// ExportHistory renders the history as a CSV or PDF download.
func (s *PickupService) ExportHistory(ctx context.Context, actor models.Identity, filter models.HistoryFilter, rawFormat string) (*ExportFile, error) {
	format, err := export.ParseFormat(rawFormat)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
	}

	entries, err := s.History(ctx, actor, filter)
	if err != nil {
		return nil, err
	}

	dataset := export.Dataset{
		Title:   "Pickup History",
		Columns: []string{"Verified At", "Student", "Grade", "Guardian", "Released By", "Notes"},
		Rows:    make([][]string, 0, len(entries)),
	}
	for _, e := range entries {
		notes := ""
		if e.Notes != nil {
			notes = *e.Notes
		}
		dataset.Rows = append(dataset.Rows, []string{
			e.VerifiedAt.UTC().Format(time.RFC3339),
			fullName(e.StudentFirstName, e.StudentLastName),
			e.Grade,
			fullName(e.GuardianFirstName, e.GuardianLastName),
			e.SecurityEmail,
			notes,
		})
	}

	body, err := export.Render(format, dataset)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to render pickup history")
	}
	return &ExportFile{
		Filename:    fmt.Sprintf("pickup-history-%s.%s", s.now().UTC().Format("20060102-150405"), format),
		ContentType: format.ContentType(),
		Body:        body,
	}, nil
}

func historyCacheKey(filter models.HistoryFilter) string {
	bound := func(t *time.Time) string {
		if t == nil {
			return "-"
		}
		return fmt.Sprintf("%d", t.UTC().Unix())
	}
	student := filter.StudentID
	if student == "" {
		student = "all"
	}
	return fmt.Sprintf("%s%s:%s:%s", historyCachePrefix, student, bound(filter.From), bound(filter.To))
}

func validityMinutes(remaining time.Duration) int {
	if remaining <= 0 {
		return 0
	}
	return int(math.Ceil(remaining.Minutes()))
}

func fullName(first, last string) string {
	switch {
	case first == "":
		return last
	case last == "":
		return first
	default:
		return first + " " + last
	}
}
