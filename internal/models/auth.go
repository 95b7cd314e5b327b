package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// LoginRequest holds credentials for authenticating a user.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// RegisterRequest is the self-service sign-up payload.
type RegisterRequest struct {
	Email     string   `json:"email" validate:"required,email"`
	Password  string   `json:"password" validate:"required,min=8"`
	Role      UserRole `json:"role" validate:"required"`
	FirstName string   `json:"firstName" validate:"required"`
	LastName  string   `json:"lastName" validate:"required"`
	Phone     string   `json:"phone" validate:"omitempty,max=32"`
}

// AuthResponse returns the issued token together with the identity.
type AuthResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      UserInfo  `json:"user"`
	Message   string    `json:"message"`
}

// RegisterResponse confirms a self-service registration.
type RegisterResponse struct {
	User    UserInfo `json:"user"`
	Message string   `json:"message"`
}

// SeedAdminResponse reports the bootstrap administrator.
type SeedAdminResponse struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Message string `json:"message"`
}

// UserInfo describes the authenticated user in responses.
type UserInfo struct {
	ID       string   `json:"user_id"`
	Email    string   `json:"email"`
	Role     UserRole `json:"role"`
	Approved bool     `json:"is_approved"`
}

// JWTClaims represents the JWT payload for access tokens.
type JWTClaims struct {
	UserID   string   `json:"user_id"`
	Email    string   `json:"email"`
	Role     UserRole `json:"role"`
	Approved bool     `json:"is_approved"`
	jwt.RegisteredClaims
}

// Identity is the actor resolved from a credential.
func (c *JWTClaims) Identity() Identity {
	return Identity{ID: c.UserID, Email: c.Email, Role: c.Role, Approved: c.Approved}
}

// Info projects a user for responses.
func (u User) Info() UserInfo {
	return UserInfo{ID: u.ID, Email: u.Email, Role: u.Role, Approved: IsApproved(u.Role, u.Approved)}
}

// Identity is the caller of a domain operation.
type Identity struct {
	ID       string
	Email    string
	Role     UserRole
	Approved bool
}
