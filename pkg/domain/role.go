package domain

import dErrors "keystone/pkg/domain-errors"

// Role is a member's tier. The zero value is not a valid role.
//
// Usage: construct via ParseRole at trust boundaries (tokens, request bodies,
// database rows); direct casting bypasses validation.
type Role string

const (
	RoleRegular  Role = "REGULAR"
	RoleElevated Role = "ELEVATED"
	RoleLead     Role = "LEAD"
	RoleOperator Role = "OPERATOR"
)

var validRoles = map[Role]bool{
	RoleRegular:  true,
	RoleElevated: true,
	RoleLead:     true,
	RoleOperator: true,
}

// ParseRole maps an external string to a Role, rejecting unknown values.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.IsValid() {
		return "", dErrors.New(dErrors.CodeBadRequest, "invalid role: "+s)
	}
	return r, nil
}

func (r Role) IsValid() bool  { return validRoles[r] }
func (r Role) String() string { return string(r) }

// IsStaff reports whether the role may perform operator actions.
func (r Role) IsStaff() bool {
	return r == RoleOperator || r == RoleLead
}

// HoldsElevatedStatus reports whether the role sits at or above ELEVATED and so
// counts as already promoted.
func (r Role) HoldsElevatedStatus() bool {
	return r == RoleElevated || r == RoleLead || r == RoleOperator
}
