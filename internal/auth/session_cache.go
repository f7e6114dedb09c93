package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/SaubhagyaSapkota/identity-and-access-management-system/internal/cache"
)

const (
	sessionKeyPrefix       = "session:"
	userSessionsKeyPrefix  = "user_sessions:"
	blacklistKeyPrefix     = "blacklist:"
	refreshAccessKeyPrefix = "refresh_access:"

	// DefaultSnapshotTTL keeps cached sessions shorter lived than the sessions themselves.
	DefaultSnapshotTTL = 15 * time.Minute
	// DefaultCacheTimeout bounds every session cache round trip.
	DefaultCacheTimeout = 250 * time.Millisecond
)

// RetireReason records why a token identifier was blacklisted.
type RetireReason string

const (
	// RetiredRotated marks identifiers superseded by a refresh rotation. A
	// rotated refresh token presented again is a replay.
	RetiredRotated RetireReason = "rotated"
	// RetiredRevoked marks identifiers of sessions ended by logout or revocation.
	RetiredRevoked RetireReason = "revoked"
)

// Snapshot is the denormalised session view cached under (userID, accessTokenID).
type Snapshot struct {
	UserID         string    `json:"user_id"`
	Email          string    `json:"email,omitempty"`
	SessionID      string    `json:"session_id"`
	AccessTokenID  string    `json:"access_token_id"`
	RefreshTokenID string    `json:"refresh_token_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// SessionCacheConfig describes tunable behaviour for the SessionCache.
type SessionCacheConfig struct {
	// Timeout bounds each call against the volatile store.
	Timeout time.Duration
	// TrackTTL is the lifetime of the per-user active session set.
	TrackTTL time.Duration
}

// SessionCache mirrors active sessions in the volatile store and holds the token blacklist.
// It never decides validity on its own; errors are returned for the caller to judge.
type SessionCache struct {
	store    cache.Store
	timeout  time.Duration
	trackTTL time.Duration
}

// NewSessionCache wraps a volatile store.
func NewSessionCache(store cache.Store, cfg SessionCacheConfig) (*SessionCache, error) {
	if store == nil {
		return nil, errors.New("session cache: store is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultCacheTimeout
	}
	trackTTL := cfg.TrackTTL
	if trackTTL <= 0 {
		trackTTL = DefaultRefreshTokenTTL
	}

	return &SessionCache{store: store, timeout: timeout, trackTTL: trackTTL}, nil
}

// Put caches a snapshot under (snapshot.UserID, snapshot.AccessTokenID).
func (c *SessionCache) Put(ctx context.Context, snapshot Snapshot, ttl time.Duration) error {
	if snapshot.UserID == "" || snapshot.AccessTokenID == "" {
		return errors.New("session cache: user id and access token id are required")
	}
	if ttl <= 0 {
		ttl = DefaultSnapshotTTL
	}

	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("session cache: marshal: %w", err)
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return c.store.Set(ctx, sessionKey(snapshot.UserID, snapshot.AccessTokenID), payload, ttl)
}

// Get returns the cached snapshot, reporting false on a miss.
func (c *SessionCache) Get(ctx context.Context, userID, accessTokenID string) (*Snapshot, bool, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	data, found, err := c.store.Get(ctx, sessionKey(userID, accessTokenID))
	if err != nil || !found {
		return nil, false, err
	}

	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, false, fmt.Errorf("session cache: decode: %w", err)
	}
	return &snapshot, true, nil
}

// Delete drops the cached snapshot.
func (c *SessionCache) Delete(ctx context.Context, userID, accessTokenID string) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return c.store.Delete(ctx, sessionKey(userID, accessTokenID))
}

// TrackActive records accessTokenID in the user's active set.
func (c *SessionCache) TrackActive(ctx context.Context, userID, accessTokenID string) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return c.store.AddToSet(ctx, userSessionsKey(userID), c.trackTTL, accessTokenID)
}

// Untrack removes accessTokenID from the user's active set.
func (c *SessionCache) Untrack(ctx context.Context, userID, accessTokenID string) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return c.store.RemoveFromSet(ctx, userSessionsKey(userID), accessTokenID)
}

// AllActive lists the access token ids tracked for a user.
func (c *SessionCache) AllActive(ctx context.Context, userID string) ([]string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return c.store.SetMembers(ctx, userSessionsKey(userID))
}

// ForgetUser drops the user's active set.
func (c *SessionCache) ForgetUser(ctx context.Context, userID string) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return c.store.Delete(ctx, userSessionsKey(userID))
}

// Blacklist retires tokenID for ttl. A non-positive ttl means the token has
// already expired naturally and nothing is written.
func (c *SessionCache) Blacklist(ctx context.Context, tokenID string, reason RetireReason, ttl time.Duration) error {
	if tokenID == "" || ttl <= 0 {
		return nil
	}
	if reason == "" {
		reason = RetiredRevoked
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return c.store.Set(ctx, blacklistKey(tokenID), []byte(reason), ttl)
}

// IsBlacklisted reports whether tokenID was retired. Callers must fail closed on error.
func (c *SessionCache) IsBlacklisted(ctx context.Context, tokenID string) (bool, error) {
	_, found, err := c.BlacklistReason(ctx, tokenID)
	return found, err
}

// BlacklistReason returns why tokenID was retired, reporting false when it is not blacklisted.
// Entries without a recognised reason read as RetiredRevoked.
func (c *SessionCache) BlacklistReason(ctx context.Context, tokenID string) (RetireReason, bool, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	data, found, err := c.store.Get(ctx, blacklistKey(tokenID))
	if err != nil || !found {
		return "", false, err
	}
	if RetireReason(data) == RetiredRotated {
		return RetiredRotated, true, nil
	}
	return RetiredRevoked, true, nil
}

// MapRefreshToAccess correlates a refresh token id with the access token id issued alongside it.
func (c *SessionCache) MapRefreshToAccess(ctx context.Context, refreshTokenID, accessTokenID string, ttl time.Duration) error {
	if refreshTokenID == "" || accessTokenID == "" || ttl <= 0 {
		return nil
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return c.store.Set(ctx, refreshAccessKey(refreshTokenID), []byte(accessTokenID), ttl)
}

// AccessForRefresh resolves the access token id mapped to refreshTokenID.
func (c *SessionCache) AccessForRefresh(ctx context.Context, refreshTokenID string) (string, bool, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	data, found, err := c.store.Get(ctx, refreshAccessKey(refreshTokenID))
	if err != nil || !found {
		return "", false, err
	}
	return string(data), true, nil
}

// UnmapRefresh removes a refresh to access correlation.
func (c *SessionCache) UnmapRefresh(ctx context.Context, refreshTokenID string) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return c.store.Delete(ctx, refreshAccessKey(refreshTokenID))
}

func (c *SessionCache) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, c.timeout)
}

func sessionKey(userID, accessTokenID string) string {
	return sessionKeyPrefix + userID + ":" + accessTokenID
}

func userSessionsKey(userID string) string {
	return userSessionsKeyPrefix + userID
}

func blacklistKey(tokenID string) string {
	return blacklistKeyPrefix + tokenID
}

func refreshAccessKey(refreshTokenID string) string {
	return refreshAccessKeyPrefix + refreshTokenID
}
