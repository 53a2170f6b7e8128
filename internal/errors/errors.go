// Package errors holds cross-cutting failure classes shared by the SDK's
// packages. Domain-specific sentinels live with their packages (session,
// credstore, oauthbridge).
package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrStorage classifies credential persistence read/write failures.
	ErrStorage = errors.New("credential storage failure")

	// ErrNetwork classifies failed backend calls (login, refresh, user fetch).
	ErrNetwork = errors.New("network failure")
)

// Mark chains err behind a failure class so callers can match the class with
// errors.Is while keeping the underlying cause.
func Mark(class, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", class, err)
}
