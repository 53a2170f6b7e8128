package session_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/lessonhub/go-authclient/authapi"
	"github.com/lessonhub/go-authclient/credstore"
	"github.com/lessonhub/go-authclient/credstore/storefakes"
	"github.com/lessonhub/go-authclient/oauthbridge"
	"github.com/lessonhub/go-authclient/session"
	"github.com/lessonhub/go-authclient/token"
	"github.com/lessonhub/go-authclient/users"
)

const (
	testUserEmail   = "john.doe@example.com"
	testAccessToken = "a1"
	testRefresh     = "r1"
)

type fakeRefresher struct {
	resp     *authapi.AuthResponse
	err      error
	calls    int
	gotToken string
}

func (f *fakeRefresher) RefreshToken(_ context.Context, refreshToken string) (*authapi.AuthResponse, error) {
	f.calls++
	f.gotToken = refreshToken
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

type testFixture struct {
	store     *storefakes.FakeStore
	refresher *fakeRefresher
	manager   *session.Manager
}

func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()

	store := storefakes.NewFakeStore()
	refresher := &fakeRefresher{}
	manager, err := session.NewManager(store, refresher)
	require.NoError(t, err)

	return &testFixture{store: store, refresher: refresher, manager: manager}
}

func testUser(roles ...users.Role) *users.User {
	return &users.User{
		ID:            1,
		Email:         testUserEmail,
		Name:          "John Doe",
		Roles:         roles,
		Provider:      users.ProviderGoogle,
		EmailVerified: true,
	}
}

func (f *testFixture) seed(t *testing.T, user *users.User, accessToken, refreshToken, activeRole string) {
	t.Helper()

	pairs := map[string]string{}
	if user != nil {
		userJSON, err := json.Marshal(user)
		require.NoError(t, err)
		pairs[credstore.KeyUser] = string(userJSON)
	}
	if accessToken != "" {
		pairs[credstore.KeyAccessToken] = accessToken
	}
	if refreshToken != "" {
		pairs[credstore.KeyRefreshToken] = refreshToken
	}
	if activeRole != "" {
		pairs[credstore.KeyActiveRole] = activeRole
	}
	f.store.Seed(pairs)
}

func TestRestoreFailsClosedOnPartialState(t *testing.T) {
	tests := []struct {
		name        string
		user        *users.User
		accessToken string
	}{
		{name: "user without access token", user: testUser(users.RoleUser)},
		{name: "access token without user", accessToken: testAccessToken},
		{name: "nothing persisted"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := setupTestFixture(t)
			f.seed(t, tc.user, tc.accessToken, "", "")

			sess := f.manager.Restore(context.Background())

			require.False(t, sess.Authenticated)
			require.Nil(t, sess.User)
		})
	}
}

func TestRestoreDefaultsToFirstRole(t *testing.T) {
	f := setupTestFixture(t)
	f.seed(t, testUser(users.RoleUser, users.RoleInstructor), testAccessToken, "", "")

	sess := f.manager.Restore(context.Background())

	require.True(t, sess.Authenticated)
	require.Equal(t, users.RoleUser, sess.ActiveRole)
}

func TestRestoreHonoursPersistedActiveRole(t *testing.T) {
	f := setupTestFixture(t)
	f.seed(t, testUser(users.RoleUser, users.RoleInstructor), testAccessToken, testRefresh, "INSTRUCTOR")

	sess := f.manager.Restore(context.Background())

	require.True(t, sess.Authenticated)
	require.Equal(t, users.RoleInstructor, sess.ActiveRole)
}

func TestRestoreRejectsStalePersistedRole(t *testing.T) {
	f := setupTestFixture(t)
	f.seed(t, testUser(users.RoleUser), testAccessToken, testRefresh, "ADMIN")

	sess := f.manager.Restore(context.Background())

	require.True(t, sess.Authenticated)
	require.Equal(t, users.RoleUser, sess.ActiveRole)
}

func TestRestoreFailsClosedOnStorageFailure(t *testing.T) {
	f := setupTestFixture(t)
	f.seed(t, testUser(users.RoleUser), testAccessToken, testRefresh, "")
	f.store.GetErr = errors.New("disk on fire")

	sess := f.manager.Restore(context.Background())

	require.False(t, sess.Authenticated)
}

func TestRestoreFailsClosedOnUnreadableUser(t *testing.T) {
	f := setupTestFixture(t)
	f.store.Seed(map[string]string{
		credstore.KeyUser:        "{not json",
		credstore.KeyAccessToken: testAccessToken,
	})

	sess := f.manager.Restore(context.Background())

	require.False(t, sess.Authenticated)
}

func TestActivatePersistsAllKeysAndActivates(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	sess, err := f.manager.Activate(ctx, token.Pair{AccessToken: "tok1", RefreshToken: "ref1"}, testUser(users.RoleInstructor, users.RoleUser))
	require.NoError(t, err)

	require.True(t, sess.Authenticated)
	require.Equal(t, users.RoleInstructor, sess.ActiveRole)

	stored, err := f.store.MultiGet(ctx, credstore.AuthKeys...)
	require.NoError(t, err)
	require.Equal(t, "tok1", stored[credstore.KeyAccessToken])
	require.Equal(t, "ref1", stored[credstore.KeyRefreshToken])
	require.Equal(t, "INSTRUCTOR", stored[credstore.KeyActiveRole])
	require.Contains(t, stored[credstore.KeyUser], testUserEmail)
}

func TestActivateRejectsIncompletePair(t *testing.T) {
	f := setupTestFixture(t)

	_, err := f.manager.Activate(context.Background(), token.Pair{AccessToken: "tok1"}, testUser(users.RoleUser))
	require.Error(t, err)
	require.False(t, f.manager.Current().Authenticated)
}

func TestActivateDoesNotTouchMemoryWhenPersistFails(t *testing.T) {
	f := setupTestFixture(t)
	f.store.SetErr = errors.New("disk full")

	_, err := f.manager.Activate(context.Background(), token.Pair{AccessToken: "tok1", RefreshToken: "ref1"}, testUser(users.RoleUser))
	require.Error(t, err)
	require.False(t, f.manager.Current().Authenticated)
}

func TestSetActiveRole(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	_, err := f.manager.Activate(ctx, token.Pair{AccessToken: "tok1", RefreshToken: "ref1"}, testUser(users.RoleUser, users.RoleInstructor))
	require.NoError(t, err)

	require.NoError(t, f.manager.SetActiveRole(ctx, users.RoleInstructor))
	require.Equal(t, users.RoleInstructor, f.manager.Current().ActiveRole)

	stored, err := f.store.Get(ctx, credstore.KeyActiveRole)
	require.NoError(t, err)
	require.Equal(t, "INSTRUCTOR", stored)
}

func TestSetActiveRoleRejectsUnheldRole(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	_, err := f.manager.Activate(ctx, token.Pair{AccessToken: "tok1", RefreshToken: "ref1"}, testUser(users.RoleUser))
	require.NoError(t, err)

	err = f.manager.SetActiveRole(ctx, users.RoleAdmin)
	require.ErrorIs(t, err, session.ErrInvalidRoleSelection)
	require.Equal(t, users.RoleUser, f.manager.Current().ActiveRole)
}

func TestSetActiveRoleRequiresSession(t *testing.T) {
	f := setupTestFixture(t)

	err := f.manager.SetActiveRole(context.Background(), users.RoleUser)
	require.ErrorIs(t, err, session.ErrNotAuthenticated)
}

func TestLogoutClearsStoreAndMemory(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	_, err := f.manager.Activate(ctx, token.Pair{AccessToken: "tok1", RefreshToken: "ref1"}, testUser(users.RoleUser))
	require.NoError(t, err)

	f.manager.Logout(ctx)

	require.False(t, f.manager.Current().Authenticated)
	require.Equal(t, 0, f.store.Len())
}

func TestLogoutClearsMemoryEvenWhenStorageFails(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	_, err := f.manager.Activate(ctx, token.Pair{AccessToken: "tok1", RefreshToken: "ref1"}, testUser(users.RoleUser))
	require.NoError(t, err)
	f.store.RemoveErr = errors.New("flaky storage")

	f.manager.Logout(ctx)

	require.False(t, f.manager.Current().Authenticated)
	require.Equal(t, 0, f.store.Len())
}

func TestRefreshTokensPersistsNewPair(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	_, err := f.manager.Activate(ctx, token.Pair{AccessToken: "tok1", RefreshToken: "ref1"}, testUser(users.RoleUser, users.RoleInstructor))
	require.NoError(t, err)
	require.NoError(t, f.manager.SetActiveRole(ctx, users.RoleInstructor))

	f.refresher.resp = &authapi.AuthResponse{AccessToken: "tok2", RefreshToken: "ref2"}

	require.NoError(t, f.manager.RefreshTokens(ctx))
	require.Equal(t, "ref1", f.refresher.gotToken)

	stored, err := f.store.MultiGet(ctx, credstore.AuthKeys...)
	require.NoError(t, err)
	require.Equal(t, "tok2", stored[credstore.KeyAccessToken])
	require.Equal(t, "ref2", stored[credstore.KeyRefreshToken])

	// User and active role are untouched by a refresh.
	require.Contains(t, stored[credstore.KeyUser], testUserEmail)
	require.Equal(t, "INSTRUCTOR", stored[credstore.KeyActiveRole])
	require.Equal(t, users.RoleInstructor, f.manager.Current().ActiveRole)
}

func TestRefreshTokensKeepsRefreshTokenOnAccessOnlyResponse(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	_, err := f.manager.Activate(ctx, token.Pair{AccessToken: "tok1", RefreshToken: "ref1"}, testUser(users.RoleUser))
	require.NoError(t, err)

	f.refresher.resp = &authapi.AuthResponse{AccessToken: "tok2"}

	require.NoError(t, f.manager.RefreshTokens(ctx))

	stored, err := f.store.MultiGet(ctx, credstore.KeyAccessToken, credstore.KeyRefreshToken)
	require.NoError(t, err)
	require.Equal(t, "tok2", stored[credstore.KeyAccessToken])
	require.Equal(t, "ref1", stored[credstore.KeyRefreshToken])
}

func TestRefreshTokensFailsWithoutRefreshToken(t *testing.T) {
	f := setupTestFixture(t)

	err := f.manager.RefreshTokens(context.Background())
	require.ErrorIs(t, err, session.ErrNoRefreshToken)
	require.Equal(t, 0, f.refresher.calls)
}

func TestRefreshFailureTearsSessionDown(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	_, err := f.manager.Activate(ctx, token.Pair{AccessToken: "tok1", RefreshToken: "ref1"}, testUser(users.RoleUser))
	require.NoError(t, err)

	f.refresher.err = errors.New("network down")

	require.Error(t, f.manager.RefreshTokens(ctx))
	require.Equal(t, 0, f.store.Len())
	require.False(t, f.manager.Current().Authenticated)

	sess := f.manager.Restore(ctx)
	require.False(t, sess.Authenticated)
}

type fakeHandoff struct {
	outcome oauthbridge.Outcome
	err     error
}

func (f *fakeHandoff) Authenticate(context.Context) (oauthbridge.Outcome, error) {
	return f.outcome, f.err
}

func TestLoginWithActivatesOnSuccess(t *testing.T) {
	f := setupTestFixture(t)
	handoff := &fakeHandoff{outcome: oauthbridge.Outcome{
		Status: oauthbridge.StatusSucceeded,
		Pair:   token.Pair{AccessToken: "tok1", RefreshToken: "ref1"},
		User:   testUser(users.RoleAdmin),
	}}

	outcome, err := f.manager.LoginWith(context.Background(), handoff)
	require.NoError(t, err)
	require.Equal(t, oauthbridge.StatusSucceeded, outcome.Status)
	require.True(t, f.manager.Current().Authenticated)
	require.Equal(t, users.RoleAdmin, f.manager.Current().ActiveRole)
}

func TestLoginWithLeavesStoreEmptyOnCancel(t *testing.T) {
	f := setupTestFixture(t)
	handoff := &fakeHandoff{outcome: oauthbridge.Outcome{Status: oauthbridge.StatusCancelled}}

	outcome, err := f.manager.LoginWith(context.Background(), handoff)
	require.NoError(t, err)
	require.Equal(t, oauthbridge.StatusCancelled, outcome.Status)
	require.False(t, f.manager.Current().Authenticated)
	require.Equal(t, 0, f.store.Len())
}
