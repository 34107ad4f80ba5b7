package auth

import "errors"

// Role represents the kind of caller a token was issued to.
type Role string

const (
	// RoleClient is a booking front end (kiosk, app backend) that requests
	// allocations and starts machines on behalf of its users.
	RoleClient Role = "client"

	// RoleOperator is laundry staff. Operators can do everything a client
	// can and are issued tokens by machinectl.
	RoleOperator Role = "operator"
)

// ValidRoles is the set of roles a token may carry.
var ValidRoles = []Role{RoleClient, RoleOperator}

// IsValidRole returns true if r is a known role.
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
	ErrTokenInvalid  = errors.New("invalid token")
	ErrInvalidRole   = errors.New("invalid role")
	ErrMissingSecret = errors.New("jwt secret is empty")
)
