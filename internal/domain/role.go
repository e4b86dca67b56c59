package domain

import "fmt"

// Role is the platform role carried by an authenticated caller.
type Role string

const (
	RoleInvestor Role = "INVESTOR"
	RoleAdmin    Role = "ADMIN"
	RoleAdvisor  Role = "ADVISOR"
	RoleSME      Role = "SME"
)

// String returns the string representation of Role.
func (r Role) String() string {
	return string(r)
}

// IsValid checks if the role is a known value.
func (r Role) IsValid() bool {
	switch r {
	case RoleInvestor, RoleAdmin, RoleAdvisor, RoleSME:
		return true
	}
	return false
}

// ParseRole converts a raw role string into a Role.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.IsValid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// Actor is the caller identity handed to the ledger by the identity layer.
// Role and tenant scoping are trusted as already enforced upstream.
type Actor struct {
	UserID   string
	Role     Role
	TenantID string
}

// IsAdmin reports whether the actor holds the platform admin role.
func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// Investor is the directory profile of an investing user.
type Investor struct {
	ID     string
	UserID string
	Name   string
	Email  string
}
