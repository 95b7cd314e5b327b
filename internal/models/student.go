package models

import "time"

// Student represents a child registered with the school.
type Student struct {
	ID          string    `db:"id" json:"student_id"`
	SchoolIDTag string    `db:"school_id_tag" json:"school_id_tag"`
	FirstName   string    `db:"first_name" json:"first_name"`
	LastName    string    `db:"last_name" json:"last_name"`
	Grade       string    `db:"grade" json:"grade"`
	PhotoURL    *string   `db:"photo_url" json:"photo_url,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// FullName joins first and last name.
func (s Student) FullName() string {
	return joinName(s.FirstName, s.LastName)
}

// CreateStudentRequest holds the admin payload for a new student.
type CreateStudentRequest struct {
	SchoolIDTag string  `json:"schoolIdTag" validate:"required"`
	FirstName   string  `json:"firstName" validate:"required"`
	LastName    string  `json:"lastName" validate:"required"`
	Grade       string  `json:"grade" validate:"required"`
	PhotoURL    *string `json:"photoUrl" validate:"omitempty,url"`
}
