package app

import (
	"time"

	"github.com/SaubhagyaSapkota/identity-and-access-management-system/internal/auth"
)

// TokenIssuerConfig converts AuthConfig into the parameters expected by the token issuer.
func (c AuthConfig) TokenIssuerConfig(clock func() time.Time) auth.TokenIssuerConfig {
	accessTTL := c.JWT.AccessTTL
	if accessTTL <= 0 {
		accessTTL = auth.DefaultAccessTokenTTL
	}
	refreshTTL := c.JWT.RefreshTTL
	if refreshTTL <= 0 {
		refreshTTL = auth.DefaultRefreshTokenTTL
	}

	return auth.TokenIssuerConfig{
		AccessSecret:    c.JWT.AccessSecret,
		RefreshSecret:   c.JWT.RefreshSecret,
		Issuer:          c.JWT.Issuer,
		AccessTokenTTL:  accessTTL,
		RefreshTokenTTL: refreshTTL,
		Clock:           clock,
	}
}

// SessionStoreConfig converts AuthConfig into SessionStore parameters.
func (c AuthConfig) SessionStoreConfig(clock func() time.Time) auth.SessionStoreConfig {
	timeout := c.Session.StoreTimeout
	if timeout <= 0 {
		timeout = auth.DefaultStoreTimeout
	}
	retention := c.Session.Retention
	if retention <= 0 {
		retention = auth.DefaultSessionRetention
	}

	return auth.SessionStoreConfig{
		Timeout:   timeout,
		Retention: retention,
		Clock:     clock,
	}
}

// SessionCacheConfig converts AuthConfig into SessionCache parameters.
func (c AuthConfig) SessionCacheConfig() auth.SessionCacheConfig {
	timeout := c.Session.CacheTimeout
	if timeout <= 0 {
		timeout = auth.DefaultCacheTimeout
	}

	return auth.SessionCacheConfig{
		Timeout:  timeout,
		TrackTTL: c.refreshTTL(),
	}
}

// GateConfig converts AuthConfig into authentication gate parameters.
func (c AuthConfig) GateConfig() auth.GateConfig {
	return auth.GateConfig{SnapshotTTL: c.snapshotTTL()}
}

// SessionServiceConfig converts AuthConfig into SessionService parameters.
func (c AuthConfig) SessionServiceConfig(clock func() time.Time) auth.SessionServiceConfig {
	return auth.SessionServiceConfig{
		SnapshotTTL:         c.snapshotTTL(),
		ReuseRevokeAttempts: auth.DefaultReuseRevokeAttempts,
		Clock:               clock,
	}
}

func (c AuthConfig) snapshotTTL() time.Duration {
	if c.Session.CacheTTL > 0 {
		return c.Session.CacheTTL
	}
	return auth.DefaultSnapshotTTL
}

func (c AuthConfig) refreshTTL() time.Duration {
	if c.JWT.RefreshTTL > 0 {
		return c.JWT.RefreshTTL
	}
	return auth.DefaultRefreshTokenTTL
}
