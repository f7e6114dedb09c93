package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/SaubhagyaSapkota/identity-and-access-management-system/internal/models"
	"github.com/SaubhagyaSapkota/identity-and-access-management-system/pkg/crypto"
	"github.com/SaubhagyaSapkota/identity-and-access-management-system/pkg/logger"
)

// DefaultReuseRevokeAttempts bounds the revoke-all retries after a detected refresh token reuse.
const DefaultReuseRevokeAttempts = 3

// SessionServiceConfig describes tunable behaviour for the SessionService.
type SessionServiceConfig struct {
	SnapshotTTL         time.Duration
	ReuseRevokeAttempts int
	Clock               func() time.Time
}

// LoginInput carries an identity already confirmed by the credential subsystem plus client metadata.
type LoginInput struct {
	UserID    string
	Email     string
	IPAddress string
	UserAgent string
}

// TokenPair represents an access token and refresh token pair.
type TokenPair struct {
	AccessToken           string
	RefreshToken          string
	AccessTokenExpiresAt  time.Time
	RefreshTokenExpiresAt time.Time
}

// SessionService manages creation, rotation, and revocation of user sessions.
// The store is always written before the cache, and cache failures after a
// committed store write are logged rather than returned.
type SessionService struct {
	issuer        *TokenIssuer
	store         *SessionStore
	cache         *SessionCache
	snapshotTTL   time.Duration
	reuseAttempts int
	now           func() time.Time
	log           *zap.Logger
}

// NewSessionService constructs a session manager from its collaborators.
func NewSessionService(issuer *TokenIssuer, store *SessionStore, sessionCache *SessionCache, cfg SessionServiceConfig) (*SessionService, error) {
	if issuer == nil {
		return nil, errors.New("session service: token issuer is required")
	}
	if store == nil {
		return nil, errors.New("session service: session store is required")
	}
	if sessionCache == nil {
		return nil, errors.New("session service: session cache is required")
	}

	ttl := cfg.SnapshotTTL
	if ttl <= 0 {
		ttl = DefaultSnapshotTTL
	}

	attempts := cfg.ReuseRevokeAttempts
	if attempts <= 0 {
		attempts = DefaultReuseRevokeAttempts
	}

	clock := time.Now
	if cfg.Clock != nil {
		clock = cfg.Clock
	}

	return &SessionService{
		issuer:        issuer,
		store:         store,
		cache:         sessionCache,
		snapshotTTL:   ttl,
		reuseAttempts: attempts,
		now:           clock,
		log:           logger.WithModule("auth.session"),
	}, nil
}

// CreateSession issues the first token pair for a confirmed identity and persists its session.
func (s *SessionService) CreateSession(ctx context.Context, input LoginInput) (TokenPair, *models.Session, error) {
	if strings.TrimSpace(input.UserID) == "" {
		return TokenPair{}, nil, errors.New("session service: user id is required")
	}

	subject := Subject{UserID: input.UserID, Email: input.Email}

	var (
		access, refresh IssuedToken
		session         *models.Session
		err             error
	)
	// A refresh hash collision is retried once with a fresh pair.
	for attempt := 0; attempt < 2; attempt++ {
		access, refresh, err = s.issuePair(subject)
		if err != nil {
			return TokenPair{}, nil, err
		}

		session, err = s.store.Create(ctx, &models.Session{
			UserID:           input.UserID,
			AccessTokenID:    access.ID,
			RefreshTokenHash: crypto.SHA256Hex(refresh.Token),
			IPAddress:        strings.TrimSpace(input.IPAddress),
			UserAgent:        strings.TrimSpace(input.UserAgent),
			ExpiresAt:        refresh.ExpiresAt,
		})
		if !errors.Is(err, ErrConstraintViolation) {
			break
		}
		s.log.Warn("session insert collided, retrying", zap.String("user_id", input.UserID))
	}
	if err != nil {
		return TokenPair{}, nil, fmt.Errorf("session service: create session: %w", err)
	}

	s.cacheIssued(ctx, session, input.Email, access, refresh)

	return pairOf(access, refresh), session, nil
}

// ListSessions returns the caller's active sessions.
func (s *SessionService) ListSessions(ctx context.Context, userID string) ([]models.Session, error) {
	return s.store.ListActiveForUser(ctx, userID)
}

// RevokeSession logs out the session bound to accessTokenID. Sibling sessions are untouched.
// accessExpiresAt bounds how long the access id stays blacklisted; a zero value
// falls back to the full access token lifetime. Revoking an already revoked session succeeds.
func (s *SessionService) RevokeSession(ctx context.Context, userID, accessTokenID string, accessExpiresAt time.Time) error {
	owned, err := s.store.FindByAccessTokenID(ctx, accessTokenID)
	if err != nil {
		return err
	}
	if owned.UserID != userID {
		return ErrSessionNotFound
	}

	session, err := s.store.Revoke(ctx, accessTokenID)
	if err != nil {
		return err
	}

	s.retireCached(ctx, session.UserID, session.AccessTokenID, accessExpiresAt, session.ExpiresAt)
	return nil
}

// RevokeSessionByID revokes one of the caller's sessions by its durable id.
func (s *SessionService) RevokeSessionByID(ctx context.Context, userID, sessionID string) error {
	session, err := s.store.FindByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.UserID != userID {
		return ErrSessionNotFound
	}
	return s.RevokeSession(ctx, userID, session.AccessTokenID, time.Time{})
}

// RevokeUserSessions terminates every session of a user in the store and the cache.
// It returns the access token ids that were retired.
func (s *SessionService) RevokeUserSessions(ctx context.Context, userID string) ([]string, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errors.New("session service: user id is required")
	}

	revoked, err := s.store.RevokeAllForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	tracked, err := s.cache.AllActive(ctx, userID)
	if err != nil {
		s.log.Warn("list tracked sessions failed", zap.String("user_id", userID), zap.Error(err))
	}

	ids := unique(revoked, tracked)
	for _, id := range ids {
		s.retireCached(ctx, userID, id, time.Time{}, time.Time{})
	}
	if err := s.cache.ForgetUser(ctx, userID); err != nil {
		s.log.Warn("drop tracked sessions failed", zap.String("user_id", userID), zap.Error(err))
	}

	s.log.Info("revoked all sessions", zap.String("user_id", userID), zap.Int("count", len(revoked)))
	return ids, nil
}

// CleanupExpired purges expired and revoked sessions past retention.
func (s *SessionService) CleanupExpired(ctx context.Context) (int64, error) {
	return s.store.CleanupExpired(ctx)
}

func (s *SessionService) issuePair(subject Subject) (IssuedToken, IssuedToken, error) {
	access, err := s.issuer.IssueAccessToken(subject)
	if err != nil {
		return IssuedToken{}, IssuedToken{}, fmt.Errorf("session service: issue access token: %w", err)
	}
	refresh, err := s.issuer.IssueRefreshToken(subject)
	if err != nil {
		return IssuedToken{}, IssuedToken{}, fmt.Errorf("session service: issue refresh token: %w", err)
	}
	return access, refresh, nil
}

// cacheIssued mirrors a freshly committed token pair into the cache.
func (s *SessionService) cacheIssued(ctx context.Context, session *models.Session, email string, access, refresh IssuedToken) {
	snapshot := Snapshot{
		UserID:         session.UserID,
		Email:          email,
		SessionID:      session.ID,
		AccessTokenID:  access.ID,
		RefreshTokenID: refresh.ID,
		CreatedAt:      session.CreatedAt,
	}

	fields := []zap.Field{zap.String("user_id", session.UserID), zap.String("token_id", access.ID)}
	if err := s.cache.Put(ctx, snapshot, s.snapshotTTL); err != nil {
		s.log.Warn("cache session snapshot failed", append(fields, zap.Error(err))...)
	}
	if err := s.cache.TrackActive(ctx, session.UserID, access.ID); err != nil {
		s.log.Warn("track session failed", append(fields, zap.Error(err))...)
	}
	if err := s.cache.MapRefreshToAccess(ctx, refresh.ID, access.ID, refresh.ExpiresAt.Sub(s.now())); err != nil {
		s.log.Warn("map refresh token failed", append(fields, zap.Error(err))...)
	}
}

// retireCached removes a session's cache entries and blacklists its identifiers
// as revoked. The refresh id is only known while the snapshot is still cached;
// zero expiries fall back to the issuer lifetimes.
func (s *SessionService) retireCached(ctx context.Context, userID, accessTokenID string, accessExpiresAt, refreshExpiresAt time.Time) {
	fields := []zap.Field{zap.String("user_id", userID), zap.String("token_id", accessTokenID)}

	snapshot, hit, err := s.cache.Get(ctx, userID, accessTokenID)
	if err != nil {
		s.log.Warn("read session snapshot failed", append(fields, zap.Error(err))...)
	}

	if err := s.cache.Delete(ctx, userID, accessTokenID); err != nil {
		s.log.Warn("delete session snapshot failed", append(fields, zap.Error(err))...)
	}
	if err := s.cache.Untrack(ctx, userID, accessTokenID); err != nil {
		s.log.Warn("untrack session failed", append(fields, zap.Error(err))...)
	}
	accessTTL := s.issuer.AccessTTL()
	if !accessExpiresAt.IsZero() {
		accessTTL = accessExpiresAt.Sub(s.now())
	}
	if err := s.cache.Blacklist(ctx, accessTokenID, RetiredRevoked, accessTTL); err != nil {
		s.log.Error("blacklist access token failed", append(fields, zap.Error(err))...)
	}

	if hit && snapshot.RefreshTokenID != "" {
		ttl := s.issuer.RefreshTTL()
		if !refreshExpiresAt.IsZero() {
			ttl = refreshExpiresAt.Sub(s.now())
		}
		if err := s.cache.Blacklist(ctx, snapshot.RefreshTokenID, RetiredRevoked, ttl); err != nil {
			s.log.Error("blacklist refresh token failed", append(fields, zap.Error(err))...)
		}
		if err := s.cache.UnmapRefresh(ctx, snapshot.RefreshTokenID); err != nil {
			s.log.Warn("unmap refresh token failed", append(fields, zap.Error(err))...)
		}
	}
}

func pairOf(access, refresh IssuedToken) TokenPair {
	return TokenPair{
		AccessToken:           access.Token,
		RefreshToken:          refresh.Token,
		AccessTokenExpiresAt:  access.ExpiresAt,
		RefreshTokenExpiresAt: refresh.ExpiresAt,
	}
}

func unique(lists ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, list := range lists {
		for _, id := range list {
			if id == "" {
				continue
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}
