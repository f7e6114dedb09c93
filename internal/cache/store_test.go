package cache

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/SaubhagyaSapkota/identity-and-access-management-system/internal/database/testutil"
)

type testClock struct {
	current time.Time
}

func (c *testClock) Now() time.Time { return c.current }

func (c *testClock) Advance(d time.Duration) { c.current = c.current.Add(d) }

func newTestClock() *testClock {
	return &testClock{current: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func storeFactories() map[string]func(t *testing.T, clock *testClock) Store {
	return map[string]func(t *testing.T, clock *testClock) Store{
		"memory": func(t *testing.T, clock *testClock) Store {
			return NewMemoryStore(WithMemoryClock(clock.Now))
		},
		"database": func(t *testing.T, clock *testClock) Store {
			db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
			return NewDatabaseStore(db, WithDatabaseClock(clock.Now))
		},
	}
}

func TestStoreSetGetExpiry(t *testing.T) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			clock := newTestClock()
			store := factory(t, clock)

			require.NoError(t, store.Set(ctx, "session:u1:a1", []byte("payload"), time.Minute))
			require.NoError(t, store.Set(ctx, "forever", []byte("x"), 0))

			value, ok, err := store.Get(ctx, "session:u1:a1")
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, []byte("payload"), value)

			clock.Advance(time.Minute)
			_, ok, err = store.Get(ctx, "session:u1:a1")
			require.NoError(t, err)
			require.False(t, ok)

			_, ok, err = store.Get(ctx, "forever")
			require.NoError(t, err)
			require.True(t, ok)
		})
	}
}

func TestStoreSetOverwrites(t *testing.T) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := factory(t, newTestClock())

			require.NoError(t, store.Set(ctx, "k", []byte("one"), time.Minute))
			require.NoError(t, store.Set(ctx, "k", []byte("two"), time.Minute))

			value, ok, err := store.Get(ctx, "k")
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, []byte("two"), value)
		})
	}
}

func TestStoreDelete(t *testing.T) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := factory(t, newTestClock())

			require.NoError(t, store.Set(ctx, "a", []byte("1"), time.Minute))
			require.NoError(t, store.Set(ctx, "b", []byte("2"), time.Minute))
			require.NoError(t, store.Delete(ctx, "a", "b", "missing"))
			require.NoError(t, store.Delete(ctx))

			_, ok, err := store.Get(ctx, "a")
			require.NoError(t, err)
			require.False(t, ok)
			_, ok, err = store.Get(ctx, "b")
			require.NoError(t, err)
			require.False(t, ok)
		})
	}
}

func TestStoreIncrementWithTTL(t *testing.T) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			clock := newTestClock()
			store := factory(t, clock)

			count, ttl, err := store.IncrementWithTTL(ctx, "rl:1", time.Minute)
			require.NoError(t, err)
			require.EqualValues(t, 1, count)
			require.Equal(t, time.Minute, ttl)

			clock.Advance(20 * time.Second)
			count, ttl, err = store.IncrementWithTTL(ctx, "rl:1", time.Minute)
			require.NoError(t, err)
			require.EqualValues(t, 2, count)
			require.Equal(t, 40*time.Second, ttl)

			clock.Advance(time.Minute)
			count, _, err = store.IncrementWithTTL(ctx, "rl:1", time.Minute)
			require.NoError(t, err)
			require.EqualValues(t, 1, count)
		})
	}
}

func TestStoreSets(t *testing.T) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			clock := newTestClock()
			store := factory(t, clock)

			members, err := store.SetMembers(ctx, "user_sessions:u1")
			require.NoError(t, err)
			require.Empty(t, members)

			require.NoError(t, store.AddToSet(ctx, "user_sessions:u1", time.Hour, "a1", "a2"))
			require.NoError(t, store.AddToSet(ctx, "user_sessions:u1", time.Hour, "a2", "a3"))

			members, err = store.SetMembers(ctx, "user_sessions:u1")
			require.NoError(t, err)
			sort.Strings(members)
			require.Equal(t, []string{"a1", "a2", "a3"}, members)

			require.NoError(t, store.RemoveFromSet(ctx, "user_sessions:u1", "a2", "missing"))
			members, err = store.SetMembers(ctx, "user_sessions:u1")
			require.NoError(t, err)
			sort.Strings(members)
			require.Equal(t, []string{"a1", "a3"}, members)

			require.NoError(t, store.RemoveFromSet(ctx, "user_sessions:u1", "a1", "a3"))
			members, err = store.SetMembers(ctx, "user_sessions:u1")
			require.NoError(t, err)
			require.Empty(t, members)
		})
	}
}

func TestStoreSetExpires(t *testing.T) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			clock := newTestClock()
			store := factory(t, clock)

			require.NoError(t, store.AddToSet(ctx, "s", time.Minute, "a"))
			clock.Advance(2 * time.Minute)

			members, err := store.SetMembers(ctx, "s")
			require.NoError(t, err)
			require.Empty(t, members)

			// A fresh add after expiry starts from an empty set.
			require.NoError(t, store.AddToSet(ctx, "s", time.Minute, "b"))
			members, err = store.SetMembers(ctx, "s")
			require.NoError(t, err)
			require.Equal(t, []string{"b"}, members)
		})
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	value := []byte("abc")
	require.NoError(t, store.Set(ctx, "k", value, 0))
	value[0] = 'z'

	got, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("abc"), got)
}

func TestMemoryStoreLen(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	store := NewMemoryStore(WithMemoryClock(clock.Now))

	require.NoError(t, store.Set(ctx, "a", []byte("1"), time.Second))
	require.NoError(t, store.Set(ctx, "b", []byte("1"), 0))
	require.Equal(t, 2, store.Len())

	clock.Advance(time.Second)
	require.Equal(t, 1, store.Len())
}

func TestNilDatabaseStore(t *testing.T) {
	require.Nil(t, NewDatabaseStore(nil))

	var store *DatabaseStore
	_, _, err := store.Get(context.Background(), "k")
	require.Error(t, err)
}
