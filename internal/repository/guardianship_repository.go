package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/kidguard-api/internal/models"
)

// GuardianshipRepository persists guardian-student links.
type GuardianshipRepository struct {
	db *sqlx.DB
}

// NewGuardianshipRepository constructs the repository.
func NewGuardianshipRepository(db *sqlx.DB) *GuardianshipRepository {
	return &GuardianshipRepository{db: db}
}

// Find returns the link between userID and studentID.
func (r *GuardianshipRepository) Find(ctx context.Context, userID, studentID string) (*models.Guardianship, error) {
	const query = `SELECT user_id, student_id, is_primary, linked_by_user_id, created_at, updated_at
        FROM guardianships WHERE user_id = $1 AND student_id = $2`
	var link models.Guardianship
	if err := r.db.GetContext(ctx, &link, query, userID, studentID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find guardianship: %w", err)
	}
	return &link, nil
}

// Upsert creates the link or, when it exists, overwrites only its primary flag.
func (r *GuardianshipRepository) Upsert(ctx context.Context, link *models.Guardianship) error {
	now := time.Now().UTC()
	if link.CreatedAt.IsZero() {
		link.CreatedAt = now
	}
	link.UpdatedAt = now
	const query = `INSERT INTO guardianships (user_id, student_id, is_primary, linked_by_user_id, created_at, updated_at)
VALUES (:user_id, :student_id, :is_primary, :linked_by_user_id, :created_at, :updated_at)
ON CONFLICT (user_id, student_id)
DO UPDATE SET is_primary = EXCLUDED.is_primary, updated_at = EXCLUDED.updated_at`
	if _, err := r.db.NamedExecContext(ctx, query, link); err != nil {
		return fmt.Errorf("upsert guardianship: %w", err)
	}
	return nil
}

// ListStudentsFor returns the students linked to userID ordered by surname.
func (r *GuardianshipRepository) ListStudentsFor(ctx context.Context, userID string) ([]models.LinkedStudent, error) {
	const query = `SELECT s.id, s.school_id_tag, s.first_name, s.last_name, s.grade, s.photo_url, s.created_at,
        g.is_primary, l.first_name AS linker_first_name, l.last_name AS linker_last_name
        FROM guardianships g
        JOIN students s ON s.id = g.student_id
        JOIN users l ON l.id = g.linked_by_user_id
        WHERE g.user_id = $1
        ORDER BY s.last_name, s.first_name`
	students := []models.LinkedStudent{}
	if err := r.db.SelectContext(ctx, &students, query, userID); err != nil {
		return nil, fmt.Errorf("list linked students: %w", err)
	}
	return students, nil
}
