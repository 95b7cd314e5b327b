package models

import "strings"

// ApprovalRule describes whether a role needs an explicit admin approval.
type ApprovalRule int

const (
	AlwaysApproved ApprovalRule = iota
	RequiresApproval
)

var approvalPolicy = map[UserRole]ApprovalRule{
	RoleAdmin:    AlwaysApproved,
	RoleSecurity: AlwaysApproved,
	RolePrimary:  RequiresApproval,
	RoleGuardian: RequiresApproval,
}

// GuardianEligibleRoles may be linked to a student.
var GuardianEligibleRoles = []UserRole{RolePrimary, RoleGuardian, RoleAdmin}

// SelfRegistrableRoles may sign up without an administrator.
var SelfRegistrableRoles = []UserRole{RolePrimary, RoleGuardian, RoleSecurity}

// IsApproved applies the approval policy to a role and its stored flag.
// Unknown roles are never approved.
func IsApproved(role UserRole, flag bool) bool {
	rule, ok := approvalPolicy[role]
	if !ok {
		return false
	}
	return rule == AlwaysApproved || flag
}

// InitialApproval is the approval flag a freshly registered identity receives.
func InitialApproval(role UserRole) bool {
	return approvalPolicy[role] == AlwaysApproved && role.Valid()
}

// HasRole reports whether role is contained in roles.
func HasRole(roles []UserRole, role UserRole) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

// AccessDecision is the outcome of CheckAccess.
type AccessDecision struct {
	Allowed bool
	Reason  string
}

// CheckAccess decides whether an actor with role and approval flag may perform an
// operation restricted to required. An empty required set admits any approved role.
func CheckAccess(required []UserRole, role UserRole, approved bool) AccessDecision {
	if !role.Valid() {
		return AccessDecision{Reason: "access denied: unknown role"}
	}
	if !IsApproved(role, approved) {
		return AccessDecision{Reason: "access denied: account is awaiting admin approval"}
	}
	if len(required) > 0 && !HasRole(required, role) {
		names := make([]string, len(required))
		for i, r := range required {
			names[i] = string(r)
		}
		return AccessDecision{Reason: "access denied: requires role " + strings.Join(names, " or ")}
	}
	return AccessDecision{Allowed: true}
}
