package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/kidguard-api/internal/models"
)

func TestPickupIssueExpiresStaleRowsFirst(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewPickupRepository(db)

	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	session := &models.PickupSession{GuardianID: "g1", StudentID: "s1", Token: "tok", CreatedAt: now, ExpiresAt: now.Add(5 * time.Minute)}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE pickup_sessions SET status = 'EXPIRED'")).
		WithArgs("g1", "s1", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO pickup_sessions").
		WithArgs(sqlmock.AnyArg(), "g1", "s1", "tok", models.PickupStatusGenerated, now, now.Add(5*time.Minute)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Issue(context.Background(), session))
	assert.NotEmpty(t, session.ID)
	assert.Equal(t, models.PickupStatusGenerated, session.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPickupVerifyRollsBackWhenNotRedeemable(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewPickupRepository(db)

	now := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE pickup_sessions SET status = 'VERIFIED'")).
		WithArgs("ps1", now).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.Verify(context.Background(), &models.PickupLog{SessionID: "ps1", SecurityUserID: "sec1", VerifiedAt: now})
	assert.ErrorIs(t, err, ErrSessionNotRedeemable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPickupVerifyWritesLog(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewPickupRepository(db)

	now := time.Now().UTC()
	notes := "collected by aunt"
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE pickup_sessions SET status = 'VERIFIED'")).
		WithArgs("ps1", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO pickup_logs").
		WithArgs(sqlmock.AnyArg(), "ps1", "sec1", now, notes).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	log := &models.PickupLog{SessionID: "ps1", SecurityUserID: "sec1", VerifiedAt: now, Notes: &notes}
	require.NoError(t, repo.Verify(context.Background(), log))
	assert.NotEmpty(t, log.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPickupMarkExpiredReportsNoop(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewPickupRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $1 AND status = 'GENERATED'")).
		WithArgs("ps1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	changed, err := repo.MarkExpired(context.Background(), "ps1")
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestPickupHistoryFilters(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewPickupRepository(db)

	from := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	now := time.Now()
	rows := sqlmock.NewRows([]string{"log_id", "session_id", "verified_at", "pickup_notes", "student_first", "student_last", "grade", "guardian_first", "guardian_last", "security_first", "security_last", "security_email"}).
		AddRow("l1", "ps1", now, nil, "Ada", "Byron", "3", "Grace", "Hopper", "Sam", "Guard", "guard@example.com")
	mock.ExpectQuery(regexp.QuoteMeta("WHERE ps.student_id = $1 AND pl.verified_at >= $2 ORDER BY pl.verified_at DESC")).
		WithArgs("s1", from).
		WillReturnRows(rows)

	entries, err := repo.History(context.Background(), models.HistoryFilter{StudentID: "s1", From: &from})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "guard@example.com", entries[0].SecurityEmail)
	assert.NoError(t, mock.ExpectationsWereMet())
}
