package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/SaubhagyaSapkota/identity-and-access-management-system/pkg/logger"
	"github.com/SaubhagyaSapkota/identity-and-access-management-system/pkg/metrics"
)

// Principal is the authenticated caller attached to a request.
type Principal struct {
	UserID    string
	Email     string
	TokenID   string
	SessionID string
	ExpiresAt time.Time
}

// GateConfig describes tunable behaviour for the Gate.
type GateConfig struct {
	SnapshotTTL time.Duration
}

// Gate authenticates access tokens: signature and expiry first, then the
// blacklist, then the session cache with the store as fallback of record.
type Gate struct {
	issuer      *TokenIssuer
	store       *SessionStore
	cache       *SessionCache
	snapshotTTL time.Duration
	log         *zap.Logger
}

// NewGate wires the gate dependencies.
func NewGate(issuer *TokenIssuer, store *SessionStore, sessionCache *SessionCache, cfg GateConfig) (*Gate, error) {
	if issuer == nil || store == nil || sessionCache == nil {
		return nil, errors.New("gate: issuer, store and cache are required")
	}

	ttl := cfg.SnapshotTTL
	if ttl <= 0 {
		ttl = DefaultSnapshotTTL
	}

	return &Gate{
		issuer:      issuer,
		store:       store,
		cache:       sessionCache,
		snapshotTTL: ttl,
		log:         logger.WithModule("auth.gate"),
	}, nil
}

// Authenticate validates the Authorization header value and resolves the principal.
func (g *Gate) Authenticate(ctx context.Context, authorization string) (*Principal, error) {
	token, ok := BearerToken(authorization)
	if !ok {
		return nil, g.reject("missing", ErrTokenMissing)
	}

	claims, err := g.issuer.Verify(token, AccessToken)
	if err != nil {
		if errors.Is(err, ErrExpiredToken) {
			return nil, g.reject("expired", err)
		}
		return nil, g.reject("invalid", err)
	}

	// The blacklist outranks any cached snapshot; there is no other source for revocation.
	blacklisted, err := g.cache.IsBlacklisted(ctx, claims.ID)
	if err != nil {
		g.log.Error("blacklist check failed", zap.String("token_id", claims.ID), zap.Error(err))
		return nil, g.reject("error", fmt.Errorf("%w: blacklist check: %v", ErrInfrastructureUnavailable, err))
	}
	if blacklisted {
		return nil, g.reject("revoked", ErrBlacklisted)
	}

	snapshot, hit, err := g.cache.Get(ctx, claims.UserID, claims.ID)
	switch {
	case err != nil:
		metrics.SessionCacheLookups.WithLabelValues("error").Inc()
		g.log.Warn("session cache lookup failed", zap.String("token_id", claims.ID), zap.Error(err))
	case hit && snapshot.UserID == claims.UserID:
		metrics.SessionCacheLookups.WithLabelValues("hit").Inc()
		metrics.GateDecisions.WithLabelValues("accepted").Inc()
		return principalFrom(claims, snapshot.SessionID, snapshot.Email), nil
	default:
		metrics.SessionCacheLookups.WithLabelValues("miss").Inc()
	}

	session, err := g.store.FindActiveByAccessTokenID(ctx, claims.ID)
	if errors.Is(err, ErrSessionNotFound) {
		return nil, g.reject("session_not_found", err)
	}
	if err != nil {
		g.log.Error("session store lookup failed", zap.String("token_id", claims.ID), zap.Error(err))
		return nil, g.reject("error", fmt.Errorf("%w: %v", ErrInfrastructureUnavailable, err))
	}
	if session.UserID != claims.UserID {
		return nil, g.reject("session_not_found", ErrSessionNotFound)
	}

	fresh := Snapshot{
		UserID:        session.UserID,
		Email:         claims.Email,
		SessionID:     session.ID,
		AccessTokenID: session.AccessTokenID,
		CreatedAt:     session.CreatedAt,
	}
	if err := g.cache.Put(ctx, fresh, g.snapshotTTL); err != nil {
		g.log.Warn("session cache repopulate failed", zap.String("token_id", claims.ID), zap.Error(err))
	} else if err := g.cache.TrackActive(ctx, session.UserID, session.AccessTokenID); err != nil {
		g.log.Warn("session cache track failed", zap.String("token_id", claims.ID), zap.Error(err))
	}

	metrics.GateDecisions.WithLabelValues("accepted").Inc()
	return principalFrom(claims, session.ID, claims.Email), nil
}

func (g *Gate) reject(reason string, err error) error {
	metrics.GateDecisions.WithLabelValues(reason).Inc()
	if reason != "error" {
		g.log.Debug("request rejected", zap.String("reason", reason), zap.Error(err))
	}
	return err
}

func principalFrom(claims *Claims, sessionID, email string) *Principal {
	if email == "" {
		email = claims.Email
	}
	principal := &Principal{
		UserID:    claims.UserID,
		Email:     email,
		TokenID:   claims.ID,
		SessionID: sessionID,
	}
	if claims.ExpiresAt != nil {
		principal.ExpiresAt = claims.ExpiresAt.Time
	}
	return principal
}

// BearerToken extracts the credential from an "Authorization: Bearer <token>" value.
func BearerToken(authorization string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(authorization), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
