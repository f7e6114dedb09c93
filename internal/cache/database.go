package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/SaubhagyaSapkota/identity-and-access-management-system/internal/models"
)

var errDatabaseStoreNotInitialised = errors.New("cache: database store not initialised")

// DatabaseStore implements the cache Store interface using the primary SQL database.
// Sets are persisted as a JSON array in a single cache entry.
type DatabaseStore struct {
	db  *gorm.DB
	now func() time.Time
}

// DatabaseStoreOption customises a DatabaseStore.
type DatabaseStoreOption func(*DatabaseStore)

// WithDatabaseClock overrides the time source used for expiry decisions.
func WithDatabaseClock(now func() time.Time) DatabaseStoreOption {
	return func(s *DatabaseStore) {
		if now != nil {
			s.now = func() time.Time { return now().UTC() }
		}
	}
}

// NewDatabaseStore constructs a database-backed Store.
func NewDatabaseStore(db *gorm.DB, opts ...DatabaseStoreOption) *DatabaseStore {
	if db == nil {
		return nil
	}
	store := &DatabaseStore{db: db, now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// IncrementWithTTL atomically increments a counter for the supplied key.
func (s *DatabaseStore) IncrementWithTTL(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	if s == nil {
		return 0, 0, errDatabaseStoreNotInitialised
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if window <= 0 {
		window = time.Minute
	}

	now := s.now()
	var (
		count  int64
		expiry time.Time
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		entry, found, err := lockEntry(tx, key)
		if err != nil {
			return err
		}

		if !found || entry.Expired(now) {
			count = 1
			expiry = now.Add(window)
		} else {
			current, _ := strconv.ParseInt(string(entry.Value), 10, 64)
			count = current + 1
			expiry = entry.ExpiresAt
		}

		next := models.CacheEntry{Key: key, Value: []byte(strconv.FormatInt(count, 10)), ExpiresAt: expiry}
		if !found {
			return tx.Create(&next).Error
		}
		return tx.Model(&models.CacheEntry{}).Where(keyEquals(key)).
			Updates(map[string]any{"value": next.Value, "expires_at": next.ExpiresAt, "updated_at": now}).Error
	})
	if err != nil {
		return 0, 0, err
	}

	return count, expiry.Sub(now), nil
}

// Set upserts the value for a given key with expiry.
func (s *DatabaseStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if s == nil {
		return errDatabaseStoreNotInitialised
	}
	if ctx == nil {
		ctx = context.Background()
	}

	entry := models.CacheEntry{
		Key:       key,
		Value:     value,
		ExpiresAt: s.expiry(ttl),
	}

	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "expires_at", "updated_at"}),
		}).Create(&entry).Error
}

// Get retrieves a value by key, respecting expiry.
func (s *DatabaseStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if s == nil {
		return nil, false, errDatabaseStoreNotInitialised
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var entry models.CacheEntry
	err := s.db.WithContext(ctx).Where(keyEquals(key)).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	if entry.Expired(s.now()) {
		_ = s.Delete(ctx, key)
		return nil, false, nil
	}

	return entry.Value, true, nil
}

// Delete removes keys from the store.
func (s *DatabaseStore) Delete(ctx context.Context, keys ...string) error {
	if s == nil {
		return errDatabaseStoreNotInitialised
	}
	if len(keys) == 0 {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	values := make([]any, 0, len(keys))
	for _, key := range keys {
		values = append(values, key)
	}
	return s.db.WithContext(ctx).
		Where(clause.IN{Column: clause.Column{Name: "key"}, Values: values}).
		Delete(&models.CacheEntry{}).Error
}

// AddToSet merges members into the set stored at key.
func (s *DatabaseStore) AddToSet(ctx context.Context, key string, ttl time.Duration, members ...string) error {
	if s == nil {
		return errDatabaseStoreNotInitialised
	}
	if len(members) == 0 {
		return nil
	}
	return s.mutateSet(ctx, key, func(set map[string]struct{}) {
		for _, member := range members {
			set[member] = struct{}{}
		}
	}, &ttl)
}

// RemoveFromSet removes members from the set stored at key. An emptied set is deleted.
func (s *DatabaseStore) RemoveFromSet(ctx context.Context, key string, members ...string) error {
	if s == nil {
		return errDatabaseStoreNotInitialised
	}
	if len(members) == 0 {
		return nil
	}
	return s.mutateSet(ctx, key, func(set map[string]struct{}) {
		for _, member := range members {
			delete(set, member)
		}
	}, nil)
}

// SetMembers returns the members of the set stored at key.
func (s *DatabaseStore) SetMembers(ctx context.Context, key string) ([]string, error) {
	raw, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return []string{}, err
	}
	var members []string
	if err := json.Unmarshal(raw, &members); err != nil {
		return nil, err
	}
	return members, nil
}

// mutateSet applies fn to the decoded set inside a locking transaction.
// A nil ttl keeps the current expiry.
func (s *DatabaseStore) mutateSet(ctx context.Context, key string, fn func(map[string]struct{}), ttl *time.Duration) error {
	if ctx == nil {
		ctx = context.Background()
	}
	now := s.now()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		entry, found, err := lockEntry(tx, key)
		if err != nil {
			return err
		}

		set := make(map[string]struct{})
		expiry := time.Time{}
		if found && !entry.Expired(now) {
			var current []string
			if err := json.Unmarshal(entry.Value, &current); err != nil {
				return err
			}
			for _, member := range current {
				set[member] = struct{}{}
			}
			expiry = entry.ExpiresAt
		}
		if ttl != nil {
			expiry = s.expiry(*ttl)
		}

		fn(set)

		if len(set) == 0 {
			if !found {
				return nil
			}
			return tx.Where(keyEquals(key)).Delete(&models.CacheEntry{}).Error
		}

		members := make([]string, 0, len(set))
		for member := range set {
			members = append(members, member)
		}
		value, err := json.Marshal(members)
		if err != nil {
			return err
		}

		if !found {
			return tx.Create(&models.CacheEntry{Key: key, Value: value, ExpiresAt: expiry}).Error
		}
		return tx.Model(&models.CacheEntry{}).Where(keyEquals(key)).
			Updates(map[string]any{"value": value, "expires_at": expiry, "updated_at": now}).Error
	})
}

func (s *DatabaseStore) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(ttl)
}

func lockEntry(tx *gorm.DB, key string) (models.CacheEntry, bool, error) {
	var entry models.CacheEntry
	// Acquire row-level lock
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where(keyEquals(key)).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return entry, false, nil
	}
	if err != nil {
		return entry, false, err
	}
	return entry, true, nil
}

// keyEquals quotes the key column, which is a reserved word on MySQL.
func keyEquals(key string) clause.Expression {
	return clause.Eq{Column: clause.Column{Name: "key"}, Value: key}
}
