package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/SaubhagyaSapkota/identity-and-access-management-system/internal/models"
	"github.com/SaubhagyaSapkota/identity-and-access-management-system/pkg/crypto"
)

func TestCreateSessionPersistsHashedRefreshToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	pair, session, err := env.service.CreateSession(ctx, LoginInput{
		UserID:    "42",
		Email:     "user@example.com",
		IPAddress: " 10.0.0.1 ",
		UserAgent: "unit-test",
	})
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)
	require.True(t, pair.AccessTokenExpiresAt.Equal(env.clock.Now().Add(15*time.Minute)))
	require.True(t, pair.RefreshTokenExpiresAt.Equal(env.clock.Now().Add(7*24*time.Hour)))

	var stored models.Session
	require.NoError(t, env.db.Take(&stored, "id = ?", session.ID).Error)
	require.Equal(t, "42", stored.UserID)
	require.Equal(t, "10.0.0.1", stored.IPAddress)
	require.Equal(t, "unit-test", stored.UserAgent)
	require.Equal(t, crypto.SHA256Hex(pair.RefreshToken), stored.RefreshTokenHash)
	require.NotContains(t, stored.RefreshTokenHash, pair.RefreshToken)
	require.True(t, stored.ExpiresAt.Equal(pair.RefreshTokenExpiresAt))

	access, err := env.issuer.Verify(pair.AccessToken, AccessToken)
	require.NoError(t, err)
	require.Equal(t, access.ID, stored.AccessTokenID)

	refresh, err := env.issuer.Verify(pair.RefreshToken, RefreshToken)
	require.NoError(t, err)

	snapshot, hit, err := env.cache.Get(ctx, "42", access.ID)
	require.NoError(t, err)
	require.True(t, hit)
	require.Equal(t, refresh.ID, snapshot.RefreshTokenID)
	require.Equal(t, session.ID, snapshot.SessionID)

	active, err := env.cache.AllActive(ctx, "42")
	require.NoError(t, err)
	require.Equal(t, []string{access.ID}, active)

	mapped, ok, err := env.cache.AccessForRefresh(ctx, refresh.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, access.ID, mapped)
}

func TestCreateSessionSurvivesCacheOutage(t *testing.T) {
	env := newTestEnv(t)
	env.volatile.failSets(errors.New("cache down"))

	pair, _ := env.login(t, "42")

	env.volatile.failSets(nil)
	_, err := env.authenticate(pair.AccessToken)
	require.NoError(t, err)
}

func TestCreateSessionRequiresUser(t *testing.T) {
	env := newTestEnv(t)

	_, _, err := env.service.CreateSession(context.Background(), LoginInput{})
	require.Error(t, err)
}

func TestRefreshSessionRotatesPair(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	first, sessionID := env.login(t, "42")

	env.clock.Advance(5 * time.Minute)

	second, session, err := env.service.RefreshSession(ctx, first.RefreshToken)
	require.NoError(t, err)
	require.Equal(t, sessionID, session.ID, "rotation continues the same session")
	require.NotEqual(t, first.AccessToken, second.AccessToken)
	require.NotEqual(t, first.RefreshToken, second.RefreshToken)
	require.Equal(t, crypto.SHA256Hex(second.RefreshToken), session.RefreshTokenHash)

	oldAccess, err := env.issuer.Verify(first.AccessToken, AccessToken)
	require.NoError(t, err)
	newAccess, err := env.issuer.Verify(second.AccessToken, AccessToken)
	require.NoError(t, err)
	require.Equal(t, newAccess.ID, session.AccessTokenID)

	_, err = env.authenticate(first.AccessToken)
	require.ErrorIs(t, err, ErrBlacklisted)

	principal, err := env.authenticate(second.AccessToken)
	require.NoError(t, err)
	require.Equal(t, sessionID, principal.SessionID)

	_, hit, err := env.cache.Get(ctx, "42", oldAccess.ID)
	require.NoError(t, err)
	require.False(t, hit)

	active, err := env.cache.AllActive(ctx, "42")
	require.NoError(t, err)
	require.Equal(t, []string{newAccess.ID}, active)
}

func TestRefreshScenarioReuseRevokesEverything(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	a1r1, _ := env.login(t, "42")
	a2r2, _, err := env.service.RefreshSession(ctx, a1r1.RefreshToken)
	require.NoError(t, err)

	_, err = env.authenticate(a1r1.AccessToken)
	require.Error(t, err)
	_, err = env.authenticate(a2r2.AccessToken)
	require.NoError(t, err)

	_, _, err = env.service.RefreshSession(ctx, a1r1.RefreshToken)
	require.ErrorIs(t, err, ErrTokenReuseDetected)
	require.Equal(t, 401, RefreshAppError(err).StatusCode)
	require.Equal(t, "AUTH_LOGIN_REQUIRED", RefreshAppError(err).Code)

	_, err = env.authenticate(a2r2.AccessToken)
	require.Error(t, err, "access tokens issued before the reuse must be rejected")

	_, _, err = env.service.RefreshSession(ctx, a2r2.RefreshToken)
	require.Error(t, err)
	require.Equal(t, 401, RefreshAppError(err).StatusCode)

	sessions, err := env.store.ListActiveForUser(ctx, "42")
	require.NoError(t, err)
	require.Empty(t, sessions)
}

func TestReuseRevokesEverySessionOfTheUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	laptop, _ := env.login(t, "42")
	phone, _ := env.login(t, "42")
	other, _ := env.login(t, "7")

	_, _, err := env.service.RefreshSession(ctx, laptop.RefreshToken)
	require.NoError(t, err)

	_, _, err = env.service.RefreshSession(ctx, laptop.RefreshToken)
	require.ErrorIs(t, err, ErrTokenReuseDetected)

	_, err = env.authenticate(phone.AccessToken)
	require.Error(t, err)
	_, _, err = env.service.RefreshSession(ctx, phone.RefreshToken)
	require.Error(t, err)

	_, err = env.authenticate(other.AccessToken)
	require.NoError(t, err, "other users are untouched")
}

func TestReuseRevocationIgnoresCallerCancellation(t *testing.T) {
	env := newTestEnv(t)

	first, _ := env.login(t, "42")
	sibling, _ := env.login(t, "42")
	_, _, err := env.service.RefreshSession(context.Background(), first.RefreshToken)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err = env.service.RefreshSession(ctx, first.RefreshToken)
	require.ErrorIs(t, err, ErrTokenReuseDetected)

	sessions, err := env.store.ListActiveForUser(context.Background(), "42")
	require.NoError(t, err)
	require.Empty(t, sessions)

	_, err = env.authenticate(sibling.AccessToken)
	require.Error(t, err)
}

func TestRefreshFailsClosedWhenBlacklistUnavailable(t *testing.T) {
	env := newTestEnv(t)
	pair, _ := env.login(t, "42")

	env.volatile.failGets("blacklist:", errors.New("cache down"))

	_, _, err := env.service.RefreshSession(context.Background(), pair.RefreshToken)
	require.ErrorIs(t, err, ErrInfrastructureUnavailable)
	require.Equal(t, 500, RefreshAppError(err).StatusCode)

	// Nothing was rotated.
	env.volatile.failGets("", nil)
	_, _, err = env.service.RefreshSession(context.Background(), pair.RefreshToken)
	require.NoError(t, err)
}

func TestRefreshRejectsInvalidAndExpiredTokens(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	pair, _ := env.login(t, "42")

	_, _, err := env.service.RefreshSession(ctx, pair.AccessToken)
	require.ErrorIs(t, err, ErrInvalidToken)
	require.Equal(t, 401, RefreshAppError(err).StatusCode)

	_, _, err = env.service.RefreshSession(ctx, "garbage")
	require.ErrorIs(t, err, ErrInvalidToken)

	env.clock.Advance(7*24*time.Hour + time.Second)
	_, _, err = env.service.RefreshSession(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, ErrExpiredToken)
	require.Equal(t, 401, RefreshAppError(err).StatusCode)
}

func TestRefreshWithoutStoredSession(t *testing.T) {
	env := newTestEnv(t)

	orphan, err := env.issuer.IssueRefreshToken(Subject{UserID: "42"})
	require.NoError(t, err)

	_, _, err = env.service.RefreshSession(context.Background(), orphan.Token)
	require.ErrorIs(t, err, ErrSessionNotFound)
	require.Equal(t, 401, RefreshAppError(err).StatusCode)
}

func TestRefreshRejectsSubjectMismatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	forged, err := env.issuer.IssueRefreshToken(Subject{UserID: "attacker"})
	require.NoError(t, err)
	_, err = env.store.Create(ctx, newStoredSession("42", "a1", crypto.SHA256Hex(forged.Token), env.clock.Now().Add(time.Hour)))
	require.NoError(t, err)

	_, _, err = env.service.RefreshSession(ctx, forged.Token)
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRefreshAfterLogoutIsRejected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	pair, _ := env.login(t, "42")

	principal, err := env.authenticate(pair.AccessToken)
	require.NoError(t, err)
	require.NoError(t, env.service.RevokeSession(ctx, "42", principal.TokenID, principal.ExpiresAt))

	_, _, err = env.service.RefreshSession(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, ErrBlacklisted)
	require.Equal(t, 401, RefreshAppError(err).StatusCode)
}

func TestConcurrentRefreshSucceedsOnce(t *testing.T) {
	env := newTestEnv(t)
	pair, _ := env.login(t, "42")

	const workers = 4
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := env.service.RefreshSession(context.Background(), pair.RefreshToken)
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, successes)
}

func TestLogoutLeavesSiblingSessionsAlone(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	laptop, _ := env.login(t, "42")
	phone, _ := env.login(t, "42")

	principal, err := env.authenticate(laptop.AccessToken)
	require.NoError(t, err)
	require.NoError(t, env.service.RevokeSession(ctx, "42", principal.TokenID, principal.ExpiresAt))

	_, err = env.authenticate(laptop.AccessToken)
	require.ErrorIs(t, err, ErrBlacklisted)

	// A refresh token retired by logout is rejected without touching other sessions.
	_, _, err = env.service.RefreshSession(ctx, laptop.RefreshToken)
	require.ErrorIs(t, err, ErrBlacklisted)
	require.Equal(t, "AUTH_LOGIN_REQUIRED", RefreshAppError(err).Code)

	_, err = env.authenticate(phone.AccessToken)
	require.NoError(t, err)
	_, _, err = env.service.RefreshSession(ctx, phone.RefreshToken)
	require.NoError(t, err)

	sessions, err := env.store.ListActiveForUser(ctx, "42")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
}

func TestLogoutAfterRotationStillDetectsReplay(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	laptop, _ := env.login(t, "42")
	phone, _ := env.login(t, "42")

	rotated, _, err := env.service.RefreshSession(ctx, laptop.RefreshToken)
	require.NoError(t, err)

	principal, err := env.authenticate(rotated.AccessToken)
	require.NoError(t, err)
	require.NoError(t, env.service.RevokeSession(ctx, "42", principal.TokenID, principal.ExpiresAt))

	// The rotated refresh token is still a replay and takes the phone down with it.
	_, _, err = env.service.RefreshSession(ctx, laptop.RefreshToken)
	require.ErrorIs(t, err, ErrTokenReuseDetected)
	_, err = env.authenticate(phone.AccessToken)
	require.Error(t, err)
}

func TestLogoutBlacklistsAccessForRemainingLifetime(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	pair, _ := env.login(t, "42")

	principal, err := env.authenticate(pair.AccessToken)
	require.NoError(t, err)

	env.clock.Advance(principal.ExpiresAt.Sub(env.clock.Now()) - time.Minute)
	require.NoError(t, env.service.RevokeSession(ctx, "42", principal.TokenID, principal.ExpiresAt))

	listed, err := env.cache.IsBlacklisted(ctx, principal.TokenID)
	require.NoError(t, err)
	require.True(t, listed)

	env.clock.Advance(time.Minute)
	listed, err = env.cache.IsBlacklisted(ctx, principal.TokenID)
	require.NoError(t, err)
	require.False(t, listed, "entry lives only as long as the access token")
}

func TestRotationBlacklistsOldRefreshAsRotated(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	pair, _ := env.login(t, "42")

	claims, err := env.issuer.Verify(pair.RefreshToken, RefreshToken)
	require.NoError(t, err)

	_, _, err = env.service.RefreshSession(ctx, pair.RefreshToken)
	require.NoError(t, err)

	reason, listed, err := env.cache.BlacklistReason(ctx, claims.ID)
	require.NoError(t, err)
	require.True(t, listed)
	require.Equal(t, RetiredRotated, reason)
}

func TestLogoutIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	pair, _ := env.login(t, "42")

	claims, err := env.issuer.Verify(pair.AccessToken, AccessToken)
	require.NoError(t, err)

	require.NoError(t, env.service.RevokeSession(ctx, "42", claims.ID, claims.ExpiresAt.Time))
	require.NoError(t, env.service.RevokeSession(ctx, "42", claims.ID, claims.ExpiresAt.Time))

	stored, err := env.store.FindByAccessTokenID(ctx, claims.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.RevokedAt)

	_, err = env.authenticate(pair.AccessToken)
	require.Error(t, err)

	require.ErrorIs(t, env.service.RevokeSession(ctx, "42", "unknown", time.Time{}), ErrSessionNotFound)
}

func TestLogoutRejectsForeignSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	pair, _ := env.login(t, "42")

	claims, err := env.issuer.Verify(pair.AccessToken, AccessToken)
	require.NoError(t, err)

	require.ErrorIs(t, env.service.RevokeSession(ctx, "7", claims.ID, claims.ExpiresAt.Time), ErrSessionNotFound)
	_, err = env.authenticate(pair.AccessToken)
	require.NoError(t, err)
}

func TestLogoutSurvivesWithColdCache(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	pair, _ := env.login(t, "42")

	claims, err := env.issuer.Verify(pair.AccessToken, AccessToken)
	require.NoError(t, err)
	require.NoError(t, env.cache.Delete(ctx, "42", claims.ID))

	require.NoError(t, env.service.RevokeSession(ctx, "42", claims.ID, claims.ExpiresAt.Time))

	_, err = env.authenticate(pair.AccessToken)
	require.ErrorIs(t, err, ErrBlacklisted)
	_, _, err = env.service.RefreshSession(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRevokeSessionByID(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	laptop, laptopID := env.login(t, "42")
	phone, _ := env.login(t, "42")

	require.ErrorIs(t, env.service.RevokeSessionByID(ctx, "7", laptopID), ErrSessionNotFound)
	require.ErrorIs(t, env.service.RevokeSessionByID(ctx, "42", "missing"), ErrSessionNotFound)

	require.NoError(t, env.service.RevokeSessionByID(ctx, "42", laptopID))

	_, err := env.authenticate(laptop.AccessToken)
	require.Error(t, err)
	_, err = env.authenticate(phone.AccessToken)
	require.NoError(t, err)
}

func TestRevokeUserSessions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	laptop, _ := env.login(t, "42")
	phone, _ := env.login(t, "42")
	other, _ := env.login(t, "7")

	ids, err := env.service.RevokeUserSessions(ctx, "42")
	require.NoError(t, err)
	require.Len(t, ids, 2)

	for _, pair := range []TokenPair{laptop, phone} {
		_, err := env.authenticate(pair.AccessToken)
		require.ErrorIs(t, err, ErrBlacklisted)
		_, _, err = env.service.RefreshSession(ctx, pair.RefreshToken)
		require.Error(t, err)
	}

	for _, id := range ids {
		_, hit, err := env.cache.Get(ctx, "42", id)
		require.NoError(t, err)
		require.False(t, hit)
	}
	active, err := env.cache.AllActive(ctx, "42")
	require.NoError(t, err)
	require.Empty(t, active)

	_, err = env.authenticate(other.AccessToken)
	require.NoError(t, err)

	_, err = env.service.RevokeUserSessions(ctx, "")
	require.Error(t, err)
}

func TestListSessions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, first := env.login(t, "42")
	env.clock.Advance(time.Second)
	_, second := env.login(t, "42")
	env.login(t, "7")

	sessions, err := env.service.ListSessions(ctx, "42")
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	require.Equal(t, second, sessions[0].ID)
	require.Equal(t, first, sessions[1].ID)
}

func TestCleanupExpiredDelegatesToStore(t *testing.T) {
	env := newTestEnv(t)
	env.login(t, "42")

	env.clock.Advance(7*24*time.Hour + DefaultSessionRetention + time.Minute)

	removed, err := env.service.CleanupExpired(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)
}
