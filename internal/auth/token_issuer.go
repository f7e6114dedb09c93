package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// DefaultAccessTokenTTL defines the fallback validity period for access tokens.
	DefaultAccessTokenTTL = 15 * time.Minute
	// DefaultRefreshTokenTTL is the fallback refresh token lifetime.
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour

	refreshTokenType = "refresh"
)

// TokenClass selects the secret and claim shape a token is verified against.
type TokenClass int

const (
	AccessToken TokenClass = iota
	RefreshToken
)

func (c TokenClass) String() string {
	if c == RefreshToken {
		return "refresh"
	}
	return "access"
}

// TokenIssuerConfig bundles the configuration required to build a TokenIssuer.
type TokenIssuerConfig struct {
	AccessSecret    string
	RefreshSecret   string
	Issuer          string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	Clock           func() time.Time
}

// Subject identifies the principal a token is minted for.
type Subject struct {
	UserID string
	Email  string
}

// Claims represents the custom claims embedded in issued JWTs. The token
// identifier travels in the registered jti claim.
type Claims struct {
	UserID string `json:"uid"`
	Email  string `json:"email,omitempty"`
	Type   string `json:"type,omitempty"`
	jwt.RegisteredClaims
}

// IssuedToken is a signed token together with its identifier and expiry.
type IssuedToken struct {
	Token     string
	ID        string
	ExpiresAt time.Time
}

// TokenIssuer mints and verifies access and refresh tokens. Each class is
// signed with its own secret, so one compromised secret cannot forge the other class.
type TokenIssuer struct {
	accessSecret  []byte
	refreshSecret []byte
	issuer        string
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

// NewTokenIssuer validates the signing configuration. Misconfigured secrets are a startup error.
func NewTokenIssuer(cfg TokenIssuerConfig) (*TokenIssuer, error) {
	if cfg.AccessSecret == "" {
		return nil, errors.New("token issuer: access secret must be provided")
	}
	if cfg.RefreshSecret == "" {
		return nil, errors.New("token issuer: refresh secret must be provided")
	}
	if cfg.AccessSecret == cfg.RefreshSecret {
		return nil, errors.New("token issuer: access and refresh secrets must differ")
	}

	accessTTL := cfg.AccessTokenTTL
	if accessTTL <= 0 {
		accessTTL = DefaultAccessTokenTTL
	}
	refreshTTL := cfg.RefreshTokenTTL
	if refreshTTL <= 0 {
		refreshTTL = DefaultRefreshTokenTTL
	}

	now := time.Now
	if cfg.Clock != nil {
		now = cfg.Clock
	}

	return &TokenIssuer{
		accessSecret:  []byte(cfg.AccessSecret),
		refreshSecret: []byte(cfg.RefreshSecret),
		issuer:        cfg.Issuer,
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
		now:           now,
	}, nil
}

// AccessTTL reports the configured access token lifetime.
func (i *TokenIssuer) AccessTTL() time.Duration { return i.accessTTL }

// RefreshTTL reports the configured refresh token lifetime.
func (i *TokenIssuer) RefreshTTL() time.Duration { return i.refreshTTL }

// IssueAccessToken signs a short lived access token with a fresh identifier.
func (i *TokenIssuer) IssueAccessToken(subject Subject) (IssuedToken, error) {
	return i.issue(subject, AccessToken)
}

// IssueRefreshToken signs a long lived refresh token with a fresh identifier.
func (i *TokenIssuer) IssueRefreshToken(subject Subject) (IssuedToken, error) {
	return i.issue(subject, RefreshToken)
}

func (i *TokenIssuer) issue(subject Subject, class TokenClass) (IssuedToken, error) {
	if strings.TrimSpace(subject.UserID) == "" {
		return IssuedToken{}, errors.New("token issuer: user id is required")
	}

	now := i.now()
	ttl, secret := i.accessTTL, i.accessSecret
	claimType := ""
	if class == RefreshToken {
		ttl, secret = i.refreshTTL, i.refreshSecret
		claimType = refreshTokenType
	}
	expiresAt := now.Add(ttl)
	id := uuid.NewString()

	claims := &Claims{
		UserID: subject.UserID,
		Email:  strings.TrimSpace(subject.Email),
		Type:   claimType,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id,
			Subject:   subject.UserID,
			Issuer:    i.issuer,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return IssuedToken{}, fmt.Errorf("token issuer: sign %s token: %w", class, err)
	}

	return IssuedToken{
		Token: signed,
		ID:    id,
		// NumericDate has second precision; report what the token actually carries.
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Verify checks signature, expiry and claim shape for the given class.
// It returns an error wrapping ErrExpiredToken or ErrInvalidToken.
func (i *TokenIssuer) Verify(tokenString string, class TokenClass) (*Claims, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return nil, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}

	secret := i.accessSecret
	if class == RefreshToken {
		secret = i.refreshSecret
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
		jwt.WithStrictDecoding(),
	}
	if i.issuer != "" {
		opts = append(opts, jwt.WithIssuer(i.issuer))
	}
	parser := jwt.NewParser(opts...)

	var claims Claims
	_, err := parser.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		return secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrExpiredToken, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if claims.UserID == "" || claims.ID == "" {
		return nil, fmt.Errorf("%w: missing user or token id claim", ErrInvalidToken)
	}

	switch class {
	case RefreshToken:
		if claims.Type != refreshTokenType {
			return nil, fmt.Errorf("%w: not a refresh token", ErrInvalidToken)
		}
	default:
		if claims.Type != "" {
			return nil, fmt.Errorf("%w: refresh token presented as access token", ErrInvalidToken)
		}
	}

	return &claims, nil
}
