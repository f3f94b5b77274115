package auth

import "errors"

// Role represents an authorisation tier carried in the access token.
type Role string

const (
	// RolePanel is a wall-mounted display device identity.
	RolePanel Role = "panel"

	// RoleUser is a household member.
	RoleUser Role = "user"

	// RoleAdmin is the installer tier: settings, presets and the audit journal.
	RoleAdmin Role = "admin"

	// RoleOwner has everything admin can do plus dangerous operations.
	RoleOwner Role = "owner"
)

// ValidRoles is the set of roles a token may carry.
var ValidRoles = []Role{RolePanel, RoleUser, RoleAdmin, RoleOwner}

// IsValidRole reports whether r is a known role.
func IsValidRole(r Role) bool {
	for _, v := range ValidRoles {
		if r == v {
			return true
		}
	}
	return false
}

// Sentinel errors for auth operations.
var (
	ErrTokenInvalid = errors.New("invalid token")
	ErrForbidden    = errors.New("insufficient permissions")
)
