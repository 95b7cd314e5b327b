package models

import "time"

// PickupStatus is the state of a pickup session.
type PickupStatus string

const (
	PickupStatusGenerated PickupStatus = "GENERATED"
	PickupStatusExpired   PickupStatus = "EXPIRED"
	PickupStatusVerified  PickupStatus = "VERIFIED"
)

// Terminal reports whether no transition may leave the status.
func (s PickupStatus) Terminal() bool {
	return s == PickupStatusExpired || s == PickupStatusVerified
}

// PickupSession is a time-boxed authorization tying one guardian to one student.
type PickupSession struct {
	ID         string       `db:"id" json:"session_id"`
	GuardianID string       `db:"guardian_id" json:"guardian_id"`
	StudentID  string       `db:"student_id" json:"student_id"`
	Token      string       `db:"qr_token" json:"qr_token"`
	Status     PickupStatus `db:"status" json:"status"`
	CreatedAt  time.Time    `db:"created_at" json:"created_at"`
	ExpiresAt  time.Time    `db:"expires_at" json:"expires_at"`
}

// Live reports whether the session can still be redeemed at now.
func (s PickupSession) Live(now time.Time) bool {
	return s.Status == PickupStatusGenerated && s.ExpiresAt.After(now)
}

// PickupSessionDetail adds the display fields needed to confirm a pickup.
type PickupSessionDetail struct {
	PickupSession
	GuardianFirstName string  `db:"guardian_first"`
	GuardianLastName  string  `db:"guardian_last"`
	GuardianPhone     *string `db:"guardian_phone"`
	StudentFirstName  string  `db:"student_first"`
	StudentLastName   string  `db:"student_last"`
	StudentGrade      string  `db:"grade"`
}

// PickupLog is the append-only record of a verified pickup.
type PickupLog struct {
	ID             string    `db:"id" json:"log_id"`
	SessionID      string    `db:"session_id" json:"session_id"`
	SecurityUserID string    `db:"security_user_id" json:"security_user_id"`
	VerifiedAt     time.Time `db:"verified_at" json:"verified_at"`
	Notes          *string   `db:"pickup_notes" json:"pickup_notes,omitempty"`
}

// RequestTokenRequest is the guardian's request for a pickup token.
type RequestTokenRequest struct {
	StudentID string `json:"studentId" validate:"required,uuid"`
}

// TokenResult is returned to the guardian to render as a QR code.
type TokenResult struct {
	SessionID       string    `json:"session_id"`
	Token           string    `json:"qr_token"`
	ExpiresAt       time.Time `json:"expires_at"`
	ValidityMinutes int       `json:"validity_minutes"`
	Reused          bool      `json:"reused"`
	Message         string    `json:"message"`
}

// RedeemTokenRequest is the security scan payload.
type RedeemTokenRequest struct {
	Token string  `json:"qrToken" validate:"required"`
	Notes *string `json:"pickupNotes" validate:"omitempty,max=1000"`
}

// PersonSummary is a display projection of a person.
type PersonSummary struct {
	Name  string  `json:"name"`
	Grade string  `json:"grade,omitempty"`
	Phone *string `json:"phone,omitempty"`
}

// Redemption confirms an authorized pickup to the field operator.
type Redemption struct {
	LogID      string        `json:"log_id"`
	SessionID  string        `json:"session_id"`
	Student    PersonSummary `json:"student"`
	Guardian   PersonSummary `json:"guardian"`
	VerifiedBy string        `json:"verified_by"`
	VerifiedAt time.Time     `json:"verified_at"`
	Message    string        `json:"message"`
}

// HistoryFilter narrows the pickup history.
type HistoryFilter struct {
	StudentID string     `json:"student_id,omitempty"`
	From      *time.Time `json:"from,omitempty"`
	To        *time.Time `json:"to,omitempty"`
}

// HistoryEntry is one row of the pickup history.
type HistoryEntry struct {
	LogID             string    `db:"log_id" json:"log_id"`
	SessionID         string    `db:"session_id" json:"session_id"`
	VerifiedAt        time.Time `db:"verified_at" json:"verified_at"`
	Notes             *string   `db:"pickup_notes" json:"pickup_notes,omitempty"`
	StudentFirstName  string    `db:"student_first" json:"student_first"`
	StudentLastName   string    `db:"student_last" json:"student_last"`
	Grade             string    `db:"grade" json:"grade"`
	GuardianFirstName string    `db:"guardian_first" json:"guardian_first"`
	GuardianLastName  string    `db:"guardian_last" json:"guardian_last"`
	SecurityFirstName string    `db:"security_first" json:"security_first"`
	SecurityLastName  string    `db:"security_last" json:"security_last"`
	SecurityEmail     string    `db:"security_email" json:"security_email"`
}
