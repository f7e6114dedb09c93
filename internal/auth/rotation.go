package auth

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/SaubhagyaSapkota/identity-and-access-management-system/internal/models"
	"github.com/SaubhagyaSapkota/identity-and-access-management-system/pkg/crypto"
	"github.com/SaubhagyaSapkota/identity-and-access-management-system/pkg/metrics"
)

// RefreshSession exchanges a refresh token for a new pair and retires the old identifiers.
//
// A refresh token whose id was retired by an earlier rotation is treated as
// stolen: every session of the user is revoked and ErrTokenReuseDetected is
// returned. The revocation runs on a context detached from the caller's
// cancellation and is retried. A refresh token retired by logout only fails
// with ErrBlacklisted.
func (s *SessionService) RefreshSession(ctx context.Context, refreshToken string) (TokenPair, *models.Session, error) {
	claims, err := s.issuer.Verify(refreshToken, RefreshToken)
	if err != nil {
		s.rotationResult("rejected")
		s.log.Info("refresh rejected", zap.Error(err))
		return TokenPair{}, nil, err
	}

	fields := []zap.Field{zap.String("user_id", claims.UserID), zap.String("token_id", claims.ID)}

	reason, blacklisted, err := s.cache.BlacklistReason(ctx, claims.ID)
	if err != nil {
		s.rotationResult("error")
		s.log.Error("blacklist check failed", append(fields, zap.Error(err))...)
		return TokenPair{}, nil, fmt.Errorf("%w: blacklist check: %v", ErrInfrastructureUnavailable, err)
	}
	if blacklisted {
		if reason == RetiredRotated {
			s.rotationResult("reuse")
			s.handleReuse(ctx, claims)
			return TokenPair{}, nil, ErrTokenReuseDetected
		}
		s.rotationResult("rejected")
		s.log.Info("refresh token was revoked", fields...)
		return TokenPair{}, nil, ErrBlacklisted
	}

	oldHash := crypto.SHA256Hex(refreshToken)
	session, err := s.store.FindActiveByRefreshTokenHash(ctx, oldHash)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			s.rotationResult("rejected")
			s.log.Info("refresh token has no active session", fields...)
			return TokenPair{}, nil, ErrSessionNotFound
		}
		s.rotationResult("error")
		return TokenPair{}, nil, err
	}
	if session.UserID != claims.UserID {
		s.rotationResult("rejected")
		s.log.Warn("refresh token subject does not own session", append(fields, zap.String("session_id", session.ID))...)
		return TokenPair{}, nil, ErrSessionNotFound
	}
	previousAccessID := session.AccessTokenID

	access, refresh, err := s.issuePair(Subject{UserID: claims.UserID, Email: claims.Email})
	if err != nil {
		s.rotationResult("error")
		return TokenPair{}, nil, err
	}

	rotated, err := s.store.Rotate(ctx, RotateParams{
		SessionID:           session.ID,
		PreviousRefreshHash: oldHash,
		NewAccessTokenID:    access.ID,
		NewRefreshHash:      crypto.SHA256Hex(refresh.Token),
		NewExpiresAt:        refresh.ExpiresAt,
	})
	if err != nil {
		s.rotationResult("error")
		if errors.Is(err, ErrConcurrentRevocation) {
			s.log.Warn("session changed during rotation", append(fields, zap.String("session_id", session.ID))...)
		}
		return TokenPair{}, nil, err
	}

	// The store row is committed; everything below only derives cache state from it.
	// The old refresh id goes first so a replay is recognised as early as possible.
	if claims.ExpiresAt != nil {
		if err := s.cache.Blacklist(ctx, claims.ID, RetiredRotated, claims.ExpiresAt.Time.Sub(s.now())); err != nil {
			s.log.Error("blacklist rotated refresh token failed", append(fields, zap.Error(err))...)
		}
	}

	retired := []string{previousAccessID}
	if mapped, ok, err := s.cache.AccessForRefresh(ctx, claims.ID); err != nil {
		s.log.Warn("resolve refresh mapping failed", append(fields, zap.Error(err))...)
	} else if ok {
		retired = append(retired, mapped)
	}
	for _, id := range unique(retired) {
		if err := s.cache.Delete(ctx, claims.UserID, id); err != nil {
			s.log.Warn("delete rotated snapshot failed", append(fields, zap.Error(err))...)
		}
		if err := s.cache.Untrack(ctx, claims.UserID, id); err != nil {
			s.log.Warn("untrack rotated session failed", append(fields, zap.Error(err))...)
		}
		if err := s.cache.Blacklist(ctx, id, RetiredRotated, s.issuer.AccessTTL()); err != nil {
			s.log.Error("blacklist rotated access token failed", append(fields, zap.Error(err))...)
		}
	}
	if err := s.cache.UnmapRefresh(ctx, claims.ID); err != nil {
		s.log.Warn("unmap rotated refresh token failed", append(fields, zap.Error(err))...)
	}

	s.cacheIssued(ctx, rotated, claims.Email, access, refresh)

	s.rotationResult("success")
	return pairOf(access, refresh), rotated, nil
}

// handleReuse revokes every session of the user behind a replayed refresh token.
func (s *SessionService) handleReuse(ctx context.Context, claims *Claims) {
	metrics.TokenReuseDetected.Inc()
	s.log.Warn("refresh token reuse detected, revoking all sessions",
		zap.String("user_id", claims.UserID), zap.String("token_id", claims.ID))

	detached := context.WithoutCancel(ctx)
	var err error
	for attempt := 1; attempt <= s.reuseAttempts; attempt++ {
		if _, err = s.RevokeUserSessions(detached, claims.UserID); err == nil {
			return
		}
		s.log.Error("revoke after reuse failed",
			zap.String("user_id", claims.UserID), zap.Int("attempt", attempt), zap.Error(err))
	}
}

func (s *SessionService) rotationResult(result string) {
	metrics.TokenRotations.WithLabelValues(result).Inc()
}
