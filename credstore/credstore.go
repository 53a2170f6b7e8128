// Package credstore defines durable, process-surviving key/value persistence
// for the client's credentials. Implementations must make multi-key writes and
// removals atomic so related keys (the token pair, the cached user, the active
// role) are never observed half-written.
package credstore

import (
	"context"
	"errors"
)

// ErrNotFound indicates a requested key has no stored value.
var ErrNotFound = errors.New("credential key not found")

// Logical keys of the auth partition. They are written and removed together;
// only the session manager touches them.
const (
	KeyAccessToken  = "accessToken"
	KeyRefreshToken = "refreshToken"
	KeyUser         = "user" // JSON-serialized users.User
	KeyActiveRole   = "activeRole"
)

// AuthKeys lists every key of the auth partition, in storage order.
var AuthKeys = []string{KeyAccessToken, KeyRefreshToken, KeyUser, KeyActiveRole}

// Store is the persistence primitive the session manager builds on.
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)
	// MultiGet returns the values for the given keys. Absent keys are simply
	// missing from the result map; only storage-level failures return an error.
	MultiGet(ctx context.Context, keys ...string) (map[string]string, error)
	// MultiSet writes all pairs atomically: either every key is persisted or
	// none is.
	MultiSet(ctx context.Context, pairs map[string]string) error
	// MultiRemove deletes all keys atomically. Removing an absent key is not
	// an error.
	MultiRemove(ctx context.Context, keys ...string) error
}
