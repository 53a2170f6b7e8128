// Package token holds the client-side token pair issued by the backend.
// Tokens are opaque strings; expiry is enforced server-side.
package token

// Pair is an access/refresh token pair. The two tokens are always persisted
// and read together. An access-token-only refresh response is stored alongside
// the previously held refresh token so the pair stays complete.
type Pair struct {
	AccessToken  string
	RefreshToken string
}

// Complete reports whether both tokens are present.
func (p Pair) Complete() bool {
	return p.AccessToken != "" && p.RefreshToken != ""
}
