package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/SaubhagyaSapkota/identity-and-access-management-system/internal/models"
	"github.com/SaubhagyaSapkota/identity-and-access-management-system/pkg/crypto"
)

// RegisterInput captures the details required to register a new local user.
type RegisterInput struct {
	Name     string
	Email    string
	Password string
}

// AuthenticateInput contains metadata required to authenticate a local user.
type AuthenticateInput struct {
	Email     string
	Password  string
	IPAddress string
}

// LocalCredentials implements email/password authentication against the users table.
// It only confirms identity; sessions are issued by SessionService.
type LocalCredentials struct {
	db    *gorm.DB
	clock func() time.Time
}

// NewLocalCredentials builds the credential checker.
func NewLocalCredentials(db *gorm.DB, clock func() time.Time) (*LocalCredentials, error) {
	if db == nil {
		return nil, errors.New("local credentials: db is required")
	}
	if clock == nil {
		clock = time.Now
	}
	return &LocalCredentials{db: db, clock: clock}, nil
}

// Register creates a new local user with a hashed password.
func (p *LocalCredentials) Register(ctx context.Context, input RegisterInput) (*models.User, error) {
	email := normalizeEmail(input.Email)
	if strings.TrimSpace(input.Name) == "" || email == "" || input.Password == "" {
		return nil, errors.New("local credentials: name, email and password are required")
	}

	hashed, err := crypto.HashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("local credentials: hash password: %w", err)
	}

	user := &models.User{
		Name:     strings.TrimSpace(input.Name),
		Email:    email,
		Password: hashed,
		IsActive: true,
	}

	if err := p.db.WithContext(ctx).Create(user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("local credentials: create user: %w", err)
	}

	return user, nil
}

// Authenticate verifies the supplied credentials and returns the associated user when successful.
// Unknown emails and wrong passwords both yield ErrInvalidCredentials.
func (p *LocalCredentials) Authenticate(ctx context.Context, input AuthenticateInput) (*models.User, error) {
	email := normalizeEmail(input.Email)
	if email == "" || input.Password == "" {
		return nil, ErrInvalidCredentials
	}

	var user models.User
	err := p.db.WithContext(ctx).Where("email = ?", email).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("local credentials: query user: %w", err)
	}

	if !crypto.VerifyPassword(user.Password, input.Password) {
		return nil, ErrInvalidCredentials
	}

	if !user.IsActive {
		return nil, ErrAccountDisabled
	}

	now := p.clock()
	user.LastLoginAt = &now
	user.LastLoginIP = strings.TrimSpace(input.IPAddress)

	if err := p.db.WithContext(ctx).Model(&user).Updates(map[string]any{
		"last_login_at": now,
		"last_login_ip": user.LastLoginIP,
	}).Error; err != nil {
		return nil, fmt.Errorf("local credentials: update user: %w", err)
	}

	return &user, nil
}

// FindUser loads a user by id.
func (p *LocalCredentials) FindUser(ctx context.Context, userID string) (*models.User, error) {
	var user models.User
	err := p.db.WithContext(ctx).Take(&user, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("local credentials: find user: %w", err)
	}
	return &user, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
