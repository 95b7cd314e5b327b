package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/kidguard-api/internal/models"
)

// ErrSessionNotRedeemable is returned by Verify when the session left GENERATED
// or passed its expiry before the conditional update ran.
var ErrSessionNotRedeemable = errors.New("pickup session is no longer redeemable")

const sessionColumns = "id, guardian_id, student_id, qr_token, status, created_at, expires_at"

// PickupRepository persists pickup sessions and their redemption log.
type PickupRepository struct {
	db *sqlx.DB
}

// NewPickupRepository constructs the repository.
func NewPickupRepository(db *sqlx.DB) *PickupRepository {
	return &PickupRepository{db: db}
}

// FindActive returns the live session for the pair at now.
func (r *PickupRepository) FindActive(ctx context.Context, guardianID, studentID string, now time.Time) (*models.PickupSession, error) {
	query := fmt.Sprintf(`SELECT %s FROM pickup_sessions
        WHERE guardian_id = $1 AND student_id = $2 AND status = 'GENERATED' AND expires_at > $3
        ORDER BY created_at DESC LIMIT 1`, sessionColumns)
	var session models.PickupSession
	if err := r.db.GetContext(ctx, &session, query, guardianID, studentID, now); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find active pickup session: %w", err)
	}
	return &session, nil
}

// Issue stores a new GENERATED session. Stale GENERATED rows for the same pair are
// expired in the same transaction so the live-pair index only guards live sessions.
func (r *PickupRepository) Issue(ctx context.Context, session *models.PickupSession) (err error) {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	session.Status = models.PickupStatusGenerated

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin pickup issue: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const expireQuery = `UPDATE pickup_sessions SET status = 'EXPIRED'
        WHERE guardian_id = $1 AND student_id = $2 AND status = 'GENERATED' AND expires_at <= $3`
	if _, err = tx.ExecContext(ctx, expireQuery, session.GuardianID, session.StudentID, session.CreatedAt); err != nil {
		return fmt.Errorf("expire stale pickup sessions: %w", err)
	}

	const insertQuery = `INSERT INTO pickup_sessions (id, guardian_id, student_id, qr_token, status, created_at, expires_at)
VALUES (:id, :guardian_id, :student_id, :qr_token, :status, :created_at, :expires_at)`
	if _, err = tx.NamedExecContext(ctx, insertQuery, session); err != nil {
		return fmt.Errorf("insert pickup session: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit pickup issue: %w", err)
	}
	return nil
}

// FindByToken resolves a token together with the guardian and student display fields.
func (r *PickupRepository) FindByToken(ctx context.Context, token string) (*models.PickupSessionDetail, error) {
	const query = `SELECT ps.id, ps.guardian_id, ps.student_id, ps.qr_token, ps.status, ps.created_at, ps.expires_at,
        g.first_name AS guardian_first, g.last_name AS guardian_last, g.phone AS guardian_phone,
        s.first_name AS student_first, s.last_name AS student_last, s.grade
        FROM pickup_sessions ps
        JOIN users g ON g.id = ps.guardian_id
        JOIN students s ON s.id = ps.student_id
        WHERE ps.qr_token = $1`
	var detail models.PickupSessionDetail
	if err := r.db.GetContext(ctx, &detail, query, token); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find pickup session by token: %w", err)
	}
	return &detail, nil
}

// MarkExpired moves a GENERATED session to EXPIRED. It reports false when the
// session had already left GENERATED.
func (r *PickupRepository) MarkExpired(ctx context.Context, sessionID string) (bool, error) {
	const query = `UPDATE pickup_sessions SET status = 'EXPIRED' WHERE id = $1 AND status = 'GENERATED'`
	res, err := r.db.ExecContext(ctx, query, sessionID)
	if err != nil {
		return false, fmt.Errorf("expire pickup session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("expire pickup session rows: %w", err)
	}
	return affected > 0, nil
}

// FindLogBySession returns the redemption record for a session.
func (r *PickupRepository) FindLogBySession(ctx context.Context, sessionID string) (*models.PickupLog, error) {
	const query = `SELECT id, session_id, security_user_id, verified_at, pickup_notes FROM pickup_logs WHERE session_id = $1`
	var log models.PickupLog
	if err := r.db.GetContext(ctx, &log, query, sessionID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find pickup log: %w", err)
	}
	return &log, nil
}

// Verify transitions the session to VERIFIED and appends the log entry atomically.
// The transition only applies while the session is GENERATED and unexpired at
// log.VerifiedAt; otherwise nothing is written and ErrSessionNotRedeemable is returned.
func (r *PickupRepository) Verify(ctx context.Context, log *models.PickupLog) (err error) {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin pickup verify: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const updateQuery = `UPDATE pickup_sessions SET status = 'VERIFIED'
        WHERE id = $1 AND status = 'GENERATED' AND expires_at > $2`
	res, err := tx.ExecContext(ctx, updateQuery, log.SessionID, log.VerifiedAt)
	if err != nil {
		return fmt.Errorf("verify pickup session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("verify pickup session rows: %w", err)
	}
	if affected == 0 {
		err = ErrSessionNotRedeemable
		return err
	}

	const insertQuery = `INSERT INTO pickup_logs (id, session_id, security_user_id, verified_at, pickup_notes)
VALUES (:id, :session_id, :security_user_id, :verified_at, :pickup_notes)`
	if _, err = tx.NamedExecContext(ctx, insertQuery, log); err != nil {
		return fmt.Errorf("insert pickup log: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit pickup verify: %w", err)
	}
	return nil
}

// History lists verified pickups, newest first.
func (r *PickupRepository) History(ctx context.Context, filter models.HistoryFilter) ([]models.HistoryEntry, error) {
	var (
		conditions []string
		args       []interface{}
	)
	if filter.StudentID != "" {
		args = append(args, filter.StudentID)
		conditions = append(conditions, fmt.Sprintf("ps.student_id = $%d", len(args)))
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		conditions = append(conditions, fmt.Sprintf("pl.verified_at >= $%d", len(args)))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		conditions = append(conditions, fmt.Sprintf("pl.verified_at <= $%d", len(args)))
	}

	var b strings.Builder
	b.WriteString(`SELECT pl.id AS log_id, pl.session_id, pl.verified_at, pl.pickup_notes,
        s.first_name AS student_first, s.last_name AS student_last, s.grade,
        g.first_name AS guardian_first, g.last_name AS guardian_last,
        sec.first_name AS security_first, sec.last_name AS security_last, sec.email AS security_email
        FROM pickup_logs pl
        JOIN pickup_sessions ps ON ps.id = pl.session_id
        JOIN students s ON s.id = ps.student_id
        JOIN users g ON g.id = ps.guardian_id
        JOIN users sec ON sec.id = pl.security_user_id`)
	if len(conditions) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(conditions, " AND "))
	}
	b.WriteString(" ORDER BY pl.verified_at DESC")

	entries := []models.HistoryEntry{}
	if err := r.db.SelectContext(ctx, &entries, b.String(), args...); err != nil {
		return nil, fmt.Errorf("list pickup history: %w", err)
	}
	return entries, nil
}
