package auth

import (
	"errors"

	apperrors "github.com/SaubhagyaSapkota/identity-and-access-management-system/pkg/errors"
)

var (
	// ErrTokenMissing indicates the request carried no bearer credential.
	ErrTokenMissing = errors.New("auth: bearer token missing")
	// ErrExpiredToken indicates a well-formed token whose expiry has passed.
	ErrExpiredToken = errors.New("auth: token expired")
	// ErrInvalidToken covers bad signatures, malformed tokens and wrong token classes.
	ErrInvalidToken = errors.New("auth: token invalid")
	// ErrBlacklisted marks a token identifier that was retired before its natural expiry.
	ErrBlacklisted = errors.New("auth: token revoked")
	// ErrSessionNotFound indicates no active session backs the presented token.
	ErrSessionNotFound = errors.New("auth: session not found")
	// ErrTokenReuseDetected is returned when an already rotated refresh token is presented again.
	// Every session of the owning user has been revoked by the time it is returned.
	ErrTokenReuseDetected = errors.New("auth: refresh token reuse detected")
	// ErrConcurrentRevocation signals that a session was revoked or rotated between read and write.
	ErrConcurrentRevocation = errors.New("auth: session changed during rotation")
	// ErrInfrastructureUnavailable wraps store or cache failures on a path that must fail closed.
	ErrInfrastructureUnavailable = errors.New("auth: infrastructure unavailable")
	// ErrConstraintViolation reports a unique key collision. Callers may retry with fresh tokens.
	ErrConstraintViolation = errors.New("auth: constraint violation")

	// ErrInvalidCredentials is returned when the supplied email/password pair is invalid.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrAccountDisabled signals that the user has been deactivated.
	ErrAccountDisabled = errors.New("auth: account disabled")
	// ErrEmailTaken signals a registration for an email that already has an account.
	ErrEmailTaken = errors.New("auth: email already registered")
)

// GateAppError maps an Authenticate failure onto the client facing error.
func GateAppError(err error) *apperrors.AppError {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrTokenMissing):
		return apperrors.ErrTokenMissing
	case errors.Is(err, ErrExpiredToken):
		return apperrors.ErrTokenExpired
	case errors.Is(err, ErrInvalidToken):
		return apperrors.ErrTokenInvalid
	case errors.Is(err, ErrBlacklisted):
		return apperrors.ErrTokenRevoked
	case errors.Is(err, ErrSessionNotFound):
		return apperrors.ErrSessionNotFound
	default:
		return apperrors.ErrInternalServer.WithInternal(err)
	}
}

// RefreshAppError maps a rotation failure onto the client facing error.
// Expired, invalid, reused and unknown refresh tokens all surface as
// ErrLoginRequired so that a replayed token is indistinguishable from a stale one.
func RefreshAppError(err error) *apperrors.AppError {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrTokenMissing),
		errors.Is(err, ErrExpiredToken),
		errors.Is(err, ErrInvalidToken),
		errors.Is(err, ErrBlacklisted),
		errors.Is(err, ErrSessionNotFound),
		errors.Is(err, ErrTokenReuseDetected):
		return apperrors.ErrLoginRequired
	default:
		return apperrors.ErrInternalServer.WithInternal(err)
	}
}
