// Package session owns the client's authenticated session: the in-memory
// view of who is signed in, the persisted credentials it is derived from, and
// every transition between the two. It is the only code path that writes the
// credential store's auth keys.
package session

import (
	"github.com/lessonhub/go-authclient/users"
)

// Session is the in-memory authenticated state, derived from and kept
// consistent with persisted credentials. It is never constructed with a user
// but no token pair, and ActiveRole is always one of the user's roles (or
// empty if the user holds none).
type Session struct {
	User          *users.User
	ActiveRole    users.Role
	Authenticated bool
}
