package session

import "errors"

var (
	ErrNoRefreshToken       = errors.New("no refresh token available")
	ErrInvalidRoleSelection = errors.New("role not held by the current user")
	ErrNotAuthenticated     = errors.New("no authenticated session")
)
