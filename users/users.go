package users

import "fmt"

// Role represents one of the closed set of roles a user can hold.
type Role string

const (
	RoleUser       Role = "USER"       // Regular learner account
	RoleInstructor Role = "INSTRUCTOR" // Can publish and manage lessons
	RoleAdmin      Role = "ADMIN"      // Platform administration
)

// Provider identifies how the account was created.
type Provider string

const (
	ProviderLocal  Provider = "LOCAL"
	ProviderGoogle Provider = "GOOGLE"
)

// User is the backend's view of an account as delivered to the client.
// It is immutable once fetched and replaced wholesale on re-login.
type User struct {
	ID            int64    `json:"id"`            // Unique identifier for the user
	Email         string   `json:"email"`         // User's email address
	Name          string   `json:"name"`          // Display name
	Roles         []Role   `json:"roles"`         // Roles held; order is significant for default selection
	Provider      Provider `json:"provider"`      // LOCAL or GOOGLE
	EmailVerified bool     `json:"emailVerified"` // Whether the backend has verified the email
}

// ParseRole validates a raw role string against the closed role set.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleUser, RoleInstructor, RoleAdmin:
		return Role(s), nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// HasRole reports whether the user holds the given role.
func (u *User) HasRole(role Role) bool {
	if u == nil {
		return false
	}
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// DefaultRole returns the role a freshly authenticated session should
// activate. The backend lists roles in priority order, so the first entry is
// the deliberate default, not an array-order accident.
func DefaultRole(roles []Role) (Role, bool) {
	if len(roles) == 0 {
		return "", false
	}
	return roles[0], true
}
