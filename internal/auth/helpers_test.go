package auth

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/SaubhagyaSapkota/identity-and-access-management-system/internal/cache"
	"github.com/SaubhagyaSapkota/identity-and-access-management-system/internal/database/testutil"
)

type testClock struct {
	mu      sync.Mutex
	current time.Time
}

func newTestClock() *testClock {
	return &testClock{current: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
}

type testEnv struct {
	db       *gorm.DB
	clock    *testClock
	volatile *faultyStore
	issuer   *TokenIssuer
	store    *SessionStore
	cache    *SessionCache
	gate     *Gate
	service  *SessionService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	clock := newTestClock()

	issuer, err := NewTokenIssuer(TokenIssuerConfig{
		AccessSecret:  "access-secret",
		RefreshSecret: "refresh-secret",
		Issuer:        "iam-test",
		Clock:         clock.Now,
	})
	require.NoError(t, err)

	store, err := NewSessionStore(db, SessionStoreConfig{Clock: clock.Now})
	require.NoError(t, err)

	volatile := &faultyStore{Store: cache.NewMemoryStore(cache.WithMemoryClock(clock.Now))}
	sessionCache, err := NewSessionCache(volatile, SessionCacheConfig{Timeout: 50 * time.Millisecond})
	require.NoError(t, err)

	gate, err := NewGate(issuer, store, sessionCache, GateConfig{})
	require.NoError(t, err)

	service, err := NewSessionService(issuer, store, sessionCache, SessionServiceConfig{Clock: clock.Now})
	require.NoError(t, err)

	return &testEnv{
		db:       db,
		clock:    clock,
		volatile: volatile,
		issuer:   issuer,
		store:    store,
		cache:    sessionCache,
		gate:     gate,
		service:  service,
	}
}

func (e *testEnv) login(t *testing.T, userID string) (TokenPair, string) {
	t.Helper()

	pair, session, err := e.service.CreateSession(context.Background(), LoginInput{
		UserID:    userID,
		Email:     userID + "@example.com",
		IPAddress: "10.0.0.1",
		UserAgent: "unit-test",
	})
	require.NoError(t, err)
	return pair, session.ID
}

func (e *testEnv) authenticate(token string) (*Principal, error) {
	return e.gate.Authenticate(context.Background(), "Bearer "+token)
}

// faultyStore wraps a cache.Store and injects failures for keys with a given prefix.
type faultyStore struct {
	cache.Store

	mu        sync.Mutex
	getPrefix string
	getErr    error
	blockGets bool
	setErr    error
}

func (f *faultyStore) failGets(prefix string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getPrefix, f.getErr = prefix, err
}

func (f *faultyStore) blockGet(prefix string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getPrefix, f.blockGets = prefix, true
}

func (f *faultyStore) failSets(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setErr = err
}

func (f *faultyStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	f.mu.Lock()
	prefix, err, block := f.getPrefix, f.getErr, f.blockGets
	f.mu.Unlock()

	if prefix != "" && strings.HasPrefix(key, prefix) {
		if block {
			<-ctx.Done()
			return nil, false, ctx.Err()
		}
		if err != nil {
			return nil, false, err
		}
	}
	return f.Store.Get(ctx, key)
}

func (f *faultyStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	f.mu.Lock()
	err := f.setErr
	f.mu.Unlock()

	if err != nil {
		return err
	}
	return f.Store.Set(ctx, key, value, ttl)
}

func (f *faultyStore) AddToSet(ctx context.Context, key string, ttl time.Duration, members ...string) error {
	f.mu.Lock()
	err := f.setErr
	f.mu.Unlock()

	if err != nil {
		return err
	}
	return f.Store.AddToSet(ctx, key, ttl, members...)
}
