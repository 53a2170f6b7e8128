package session

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/lessonhub/go-authclient/authapi"
	"github.com/lessonhub/go-authclient/credstore"
	interrors "github.com/lessonhub/go-authclient/internal/errors"
	"github.com/lessonhub/go-authclient/oauthbridge"
	"github.com/lessonhub/go-authclient/token"
	"github.com/lessonhub/go-authclient/users"
)

// TokenRefresher is the narrow backend surface the manager needs to renew a
// token pair. authapi.Client satisfies it.
type TokenRefresher interface {
	RefreshToken(ctx context.Context, refreshToken string) (*authapi.AuthResponse, error)
}

// Manager owns the authoritative in-memory Session and mutates it together
// with the credential store. All persistence happens before the in-memory
// update, so downstream consumers never observe state that is not yet durable.
type Manager struct {
	store     credstore.Store
	refresher TokenRefresher
	logger    zerolog.Logger

	lock    sync.RWMutex
	current Session
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the manager logger.
func WithLogger(logger zerolog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a session manager over the given credential store.
func NewManager(store credstore.Store, refresher TokenRefresher, options ...ManagerOption) (*Manager, error) {
	if store == nil {
		return nil, errors.New("[NewManager] store is required")
	}
	if refresher == nil {
		return nil, errors.New("[NewManager] refresher is required")
	}

	manager := &Manager{
		store:     store,
		refresher: refresher,
		logger:    zerolog.Nop(),
	}
	for _, opt := range options {
		opt(manager)
	}
	return manager, nil
}

// Current returns the in-memory session.
func (m *Manager) Current() Session {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return m.current
}

// AccessToken returns the persisted access token, if any.
func (m *Manager) AccessToken(ctx context.Context) (string, bool) {
	value, err := m.store.Get(ctx, credstore.KeyAccessToken)
	if err != nil || value == "" {
		return "", false
	}
	return value, true
}

// Restore derives the session from the credential store at startup. A user
// record without an access token (or vice versa) is partial state and yields
// an unauthenticated session; storage failures are treated the same way.
// Restore fails closed rather than trusting a torn write.
func (m *Manager) Restore(ctx context.Context) Session {
	values, err := m.store.MultiGet(ctx, credstore.AuthKeys...)
	if err != nil {
		m.logger.Warn().Err(err).Msg("credential read failed, restoring unauthenticated")
		return m.setCurrent(Session{})
	}

	userJSON, hasUser := values[credstore.KeyUser]
	accessToken := values[credstore.KeyAccessToken]
	if !hasUser || accessToken == "" {
		return m.setCurrent(Session{})
	}

	var user users.User
	if err := json.Unmarshal([]byte(userJSON), &user); err != nil {
		m.logger.Warn().Err(err).Msg("stored user record unreadable, restoring unauthenticated")
		return m.setCurrent(Session{})
	}

	activeRole := m.resolveActiveRole(&user, values[credstore.KeyActiveRole])
	m.logger.Info().Str("email", user.Email).Str("activeRole", string(activeRole)).Msg("session restored")
	return m.setCurrent(Session{User: &user, ActiveRole: activeRole, Authenticated: true})
}

// resolveActiveRole applies the restore policy: a persisted active role is
// honoured only if the restored user still holds it; otherwise the first role
// in the user's list is the deliberate default.
func (m *Manager) resolveActiveRole(user *users.User, persisted string) users.Role {
	if persisted != "" {
		if role, err := users.ParseRole(persisted); err == nil && user.HasRole(role) {
			return role
		}
	}
	role, _ := users.DefaultRole(user.Roles)
	return role
}

// Activate persists the outcome of a successful authentication and makes the
// session authenticated. It is the only entry point by which that happens.
// The multi-key write completes before the in-memory session is replaced.
func (m *Manager) Activate(ctx context.Context, pair token.Pair, user *users.User) (Session, error) {
	if user == nil {
		return Session{}, errors.New("[Manager.Activate] user is required")
	}
	if !pair.Complete() {
		return Session{}, errors.New("[Manager.Activate] token pair is incomplete")
	}

	userJSON, err := json.Marshal(user)
	if err != nil {
		return Session{}, errors.Wrap(err, "[Manager.Activate] marshal user")
	}

	activeRole, _ := users.DefaultRole(user.Roles)
	pairs := map[string]string{
		credstore.KeyAccessToken:  pair.AccessToken,
		credstore.KeyRefreshToken: pair.RefreshToken,
		credstore.KeyUser:         string(userJSON),
	}
	if activeRole != "" {
		pairs[credstore.KeyActiveRole] = string(activeRole)
	}

	if err := m.store.MultiSet(ctx, pairs); err != nil {
		return Session{}, interrors.Mark(interrors.ErrStorage, errors.Wrap(err, "[Manager.Activate] persist credentials"))
	}

	m.logger.Info().Str("email", user.Email).Str("activeRole", string(activeRole)).Msg("session activated")
	return m.setCurrent(Session{User: user, ActiveRole: activeRole, Authenticated: true}), nil
}

// SetActiveRole switches the active role. The role must be held by the
// current user; no network access is involved and tokens are untouched.
func (m *Manager) SetActiveRole(ctx context.Context, role users.Role) error {
	current := m.Current()
	if !current.Authenticated {
		return ErrNotAuthenticated
	}
	if !current.User.HasRole(role) {
		return errors.Wrapf(ErrInvalidRoleSelection, "[Manager.SetActiveRole] %q", role)
	}

	if err := m.store.MultiSet(ctx, map[string]string{credstore.KeyActiveRole: string(role)}); err != nil {
		return interrors.Mark(interrors.ErrStorage, errors.Wrap(err, "[Manager.SetActiveRole] persist role"))
	}

	m.lock.Lock()
	m.current.ActiveRole = role
	m.lock.Unlock()

	m.logger.Info().Str("activeRole", string(role)).Msg("active role changed")
	return nil
}

// Logout removes all persisted auth keys and clears the in-memory session
// unconditionally. A cleared in-memory session is the security-relevant
// outcome, so storage failures are logged, never propagated.
func (m *Manager) Logout(ctx context.Context) {
	if err := m.store.MultiRemove(ctx, credstore.AuthKeys...); err != nil {
		m.logger.Error().Err(err).Msg("failed to remove persisted credentials during logout")
	}
	m.setCurrent(Session{})
	m.logger.Info().Msg("logged out")
}

// RefreshTokens exchanges the persisted refresh token for a new pair and
// persists it without touching the user or active role. Any failure tears the
// session down: there is no partial-refresh state.
func (m *Manager) RefreshTokens(ctx context.Context) error {
	refreshToken, err := m.store.Get(ctx, credstore.KeyRefreshToken)
	if err != nil {
		if errors.Is(err, credstore.ErrNotFound) {
			return m.failRefresh(ctx, ErrNoRefreshToken)
		}
		return m.failRefresh(ctx, interrors.Mark(interrors.ErrStorage, err))
	}
	if refreshToken == "" {
		return m.failRefresh(ctx, ErrNoRefreshToken)
	}

	resp, err := m.refresher.RefreshToken(ctx, refreshToken)
	if err != nil {
		return m.failRefresh(ctx, interrors.Mark(interrors.ErrNetwork, err))
	}

	// An access-token-only response is stored alongside the refresh token we
	// already hold, keeping the pair complete.
	newRefreshToken := resp.RefreshToken
	if newRefreshToken == "" {
		newRefreshToken = refreshToken
	}

	err = m.store.MultiSet(ctx, map[string]string{
		credstore.KeyAccessToken:  resp.AccessToken,
		credstore.KeyRefreshToken: newRefreshToken,
	})
	if err != nil {
		return m.failRefresh(ctx, interrors.Mark(interrors.ErrStorage, err))
	}

	m.logger.Info().Msg("token pair refreshed")
	return nil
}

// LoginWith runs one OAuth handoff and activates the session if it succeeds.
// A cancelled handoff is an informational outcome, not an error.
func (m *Manager) LoginWith(ctx context.Context, handoff oauthbridge.Handoff) (oauthbridge.Outcome, error) {
	outcome, err := handoff.Authenticate(ctx)
	if err != nil {
		return outcome, errors.Wrap(err, "[Manager.LoginWith]")
	}

	if outcome.Status == oauthbridge.StatusSucceeded {
		if _, err := m.Activate(ctx, outcome.Pair, outcome.User); err != nil {
			return outcome, errors.Wrap(err, "[Manager.LoginWith] activate")
		}
	}
	return outcome, nil
}

func (m *Manager) failRefresh(ctx context.Context, cause error) error {
	m.logger.Warn().Err(cause).Msg("token refresh failed, tearing session down")
	m.Logout(ctx)
	return errors.Wrap(cause, "[Manager.RefreshTokens]")
}

func (m *Manager) setCurrent(sess Session) Session {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.current = sess
	return sess
}
