package models

import "time"

// Guardianship links an identity to a student it may collect.
type Guardianship struct {
	UserID         string    `db:"user_id" json:"user_id"`
	StudentID      string    `db:"student_id" json:"student_id"`
	IsPrimary      bool      `db:"is_primary" json:"is_primary"`
	LinkedByUserID string    `db:"linked_by_user_id" json:"linked_by_user_id"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// LinkedStudent is a student as seen by one of its guardians.
type LinkedStudent struct {
	Student
	IsPrimary       bool   `db:"is_primary" json:"is_primary"`
	LinkerFirstName string `db:"linker_first_name" json:"-"`
	LinkerLastName  string `db:"linker_last_name" json:"-"`
	LinkedByName    string `db:"-" json:"linked_by_name"`
}

// LinkGuardianRequest asks to link Target (email or user id) to a student.
type LinkGuardianRequest struct {
	StudentID string `json:"studentId" validate:"required,uuid"`
	Target    string `json:"guardianEmail" validate:"required"`
	IsPrimary bool   `json:"isPrimary"`
}

// LinkResult confirms a guardianship upsert.
type LinkResult struct {
	GuardianID string `json:"guardian_id"`
	StudentID  string `json:"student_id"`
	IsPrimary  bool   `json:"is_primary"`
	Message    string `json:"message"`
}
