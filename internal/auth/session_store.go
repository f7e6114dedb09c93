package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/SaubhagyaSapkota/identity-and-access-management-system/internal/models"
	"github.com/SaubhagyaSapkota/identity-and-access-management-system/pkg/metrics"
)

const (
	// DefaultStoreTimeout bounds every session store query.
	DefaultStoreTimeout = 3 * time.Second
	// DefaultSessionRetention keeps expired or revoked rows around for this long before cleanup.
	DefaultSessionRetention = 24 * time.Hour
)

// SessionStoreConfig describes tunable behaviour for the SessionStore.
type SessionStoreConfig struct {
	Timeout   time.Duration
	Retention time.Duration
	Clock     func() time.Time
}

// RotateParams carries the identifiers a session moves to on rotation.
// PreviousRefreshHash must match the row, so two rotations racing on one
// refresh token cannot both succeed.
type RotateParams struct {
	SessionID           string
	PreviousRefreshHash string
	NewAccessTokenID    string
	NewRefreshHash      string
	NewExpiresAt        time.Time
}

// SessionStore is the durable record of issued sessions.
// A session is active while revoked_at IS NULL AND expires_at > now.
type SessionStore struct {
	db        *gorm.DB
	timeout   time.Duration
	retention time.Duration
	now       func() time.Time
}

// NewSessionStore constructs a gorm backed session store.
func NewSessionStore(db *gorm.DB, cfg SessionStoreConfig) (*SessionStore, error) {
	if db == nil {
		return nil, errors.New("session store: db is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultStoreTimeout
	}

	retention := cfg.Retention
	if retention <= 0 {
		retention = DefaultSessionRetention
	}

	clock := time.Now
	if cfg.Clock != nil {
		clock = cfg.Clock
	}

	return &SessionStore{
		db:        db,
		timeout:   timeout,
		retention: retention,
		now:       clock,
	}, nil
}

// Create inserts a new session row.
func (s *SessionStore) Create(ctx context.Context, session *models.Session) (*models.Session, error) {
	if session == nil {
		return nil, errors.New("session store: session is nil")
	}
	if strings.TrimSpace(session.UserID) == "" || session.AccessTokenID == "" || session.RefreshTokenHash == "" {
		return nil, errors.New("session store: user id, access token id and refresh hash are required")
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	now := s.clock()
	session.CreatedAt = now
	session.UpdatedAt = now
	session.ExpiresAt = session.ExpiresAt.UTC()
	session.RevokedAt = nil

	if err := s.db.WithContext(ctx).Create(session).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, fmt.Errorf("session store: create session: %w", ErrConstraintViolation)
		}
		return nil, fmt.Errorf("session store: create session: %w", err)
	}

	metrics.ActiveSessions.Inc()
	return session, nil
}

// FindActiveByAccessTokenID returns the active session currently bound to an access token id.
func (s *SessionStore) FindActiveByAccessTokenID(ctx context.Context, accessTokenID string) (*models.Session, error) {
	return s.findActive(ctx, "access_token_id = ?", accessTokenID)
}

// FindActiveByRefreshTokenHash returns the active session whose current refresh token hashes to hash.
func (s *SessionStore) FindActiveByRefreshTokenHash(ctx context.Context, hash string) (*models.Session, error) {
	return s.findActive(ctx, "refresh_token_hash = ?", hash)
}

func (s *SessionStore) findActive(ctx context.Context, query string, value string) (*models.Session, error) {
	if strings.TrimSpace(value) == "" {
		return nil, ErrSessionNotFound
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var session models.Session
	err := s.db.WithContext(ctx).
		Where(query, value).
		Where("revoked_at IS NULL AND expires_at > ?", s.clock()).
		Take(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session store: find session: %w", err)
	}
	return &session, nil
}

// FindByID returns a session by its durable id regardless of state.
func (s *SessionStore) FindByID(ctx context.Context, id string) (*models.Session, error) {
	return s.findAny(ctx, "id = ?", id)
}

// FindByAccessTokenID returns the session bound to an access token id regardless of state.
func (s *SessionStore) FindByAccessTokenID(ctx context.Context, accessTokenID string) (*models.Session, error) {
	return s.findAny(ctx, "access_token_id = ?", accessTokenID)
}

func (s *SessionStore) findAny(ctx context.Context, query string, value string) (*models.Session, error) {
	if strings.TrimSpace(value) == "" {
		return nil, ErrSessionNotFound
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var session models.Session
	err := s.db.WithContext(ctx).Where(query, value).Take(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session store: find session: %w", err)
	}
	return &session, nil
}

// ListActiveForUser lists a user's active sessions, newest first.
func (s *SessionStore) ListActiveForUser(ctx context.Context, userID string) ([]models.Session, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var sessions []models.Session
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND revoked_at IS NULL AND expires_at > ?", userID, s.clock()).
		Order("created_at DESC").
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("session store: list sessions: %w", err)
	}
	return sessions, nil
}

// Revoke marks the session bound to accessTokenID as revoked.
// Revoking an already revoked session is a no-op that returns the stored row unchanged.
// ErrSessionNotFound is returned only when no row carries that access token id.
func (s *SessionStore) Revoke(ctx context.Context, accessTokenID string) (*models.Session, error) {
	if strings.TrimSpace(accessTokenID) == "" {
		return nil, ErrSessionNotFound
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	now := s.clock()
	var session models.Session
	revoked := false

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.Session{}).
			Where("access_token_id = ? AND revoked_at IS NULL", accessTokenID).
			Updates(map[string]any{"revoked_at": now, "updated_at": now})
		if result.Error != nil {
			return result.Error
		}
		revoked = result.RowsAffected > 0

		return tx.Take(&session, "access_token_id = ?", accessTokenID).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session store: revoke session: %w", err)
	}

	if revoked {
		metrics.ActiveSessions.Dec()
	}
	return &session, nil
}

// RevokeAllForUser revokes every live session of a user and returns the access token ids it revoked.
func (s *SessionStore) RevokeAllForUser(ctx context.Context, userID string) ([]string, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errors.New("session store: user id is required")
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	now := s.clock()
	var ids []string

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Session{}).
			Where("user_id = ? AND revoked_at IS NULL", userID).
			Pluck("access_token_id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		return tx.Model(&models.Session{}).
			Where("user_id = ? AND access_token_id IN ? AND revoked_at IS NULL", userID, ids).
			Updates(map[string]any{"revoked_at": now, "updated_at": now}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("session store: revoke user sessions: %w", err)
	}

	if len(ids) > 0 {
		metrics.ActiveSessions.Sub(float64(len(ids)))
	}
	return ids, nil
}

// Rotate moves a live session onto a new token pair in place.
// Zero affected rows means the session was revoked or already rotated
// since it was read, reported as ErrConcurrentRevocation.
func (s *SessionStore) Rotate(ctx context.Context, params RotateParams) (*models.Session, error) {
	if params.SessionID == "" || params.NewAccessTokenID == "" || params.NewRefreshHash == "" {
		return nil, errors.New("session store: incomplete rotation parameters")
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	now := s.clock()
	var session models.Session

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.Session{}).
			Where("id = ? AND revoked_at IS NULL AND refresh_token_hash = ?", params.SessionID, params.PreviousRefreshHash).
			Updates(map[string]any{
				"access_token_id":    params.NewAccessTokenID,
				"refresh_token_hash": params.NewRefreshHash,
				"expires_at":         params.NewExpiresAt.UTC(),
				"updated_at":         now,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrConcurrentRevocation
		}
		return tx.Take(&session, "id = ?", params.SessionID).Error
	})
	switch {
	case err == nil:
		return &session, nil
	case errors.Is(err, ErrConcurrentRevocation):
		return nil, ErrConcurrentRevocation
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return nil, fmt.Errorf("session store: rotate session: %w", ErrConstraintViolation)
	default:
		return nil, fmt.Errorf("session store: rotate session: %w", err)
	}
}

// CleanupExpired deletes rows that expired or were revoked before the retention horizon.
func (s *SessionStore) CleanupExpired(ctx context.Context) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	now := s.clock()
	horizon := now.Add(-s.retention)

	var activeExpired int64
	if err := s.db.WithContext(ctx).
		Model(&models.Session{}).
		Where("expires_at < ? AND revoked_at IS NULL", horizon).
		Count(&activeExpired).Error; err != nil {
		return 0, fmt.Errorf("session store: count expired sessions: %w", err)
	}

	result := s.db.WithContext(ctx).
		Where("expires_at < ?", horizon).
		Or("revoked_at IS NOT NULL AND revoked_at < ?", horizon).
		Delete(&models.Session{})
	if result.Error != nil {
		return 0, fmt.Errorf("session store: cleanup expired sessions: %w", result.Error)
	}

	if activeExpired > 0 {
		metrics.ActiveSessions.Sub(float64(activeExpired))
	}

	return result.RowsAffected, nil
}

func (s *SessionStore) clock() time.Time {
	return s.now().UTC()
}

func (s *SessionStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, s.timeout)
}
