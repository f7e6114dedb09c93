package database

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/SaubhagyaSapkota/identity-and-access-management-system/internal/models"
)

const (
	refreshHashActiveIndex = "idx_sessions_refresh_active"
	refreshHashPlainIndex  = "idx_sessions_refresh_hash"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	if db == nil {
		return errors.New("nil database handle")
	}

	if err := db.AutoMigrate(
		&models.User{},
		&models.Session{},
		&models.CacheEntry{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	if err := ensureRefreshHashIndex(db); err != nil {
		return fmt.Errorf("refresh hash index: %w", err)
	}

	return nil
}

// ensureRefreshHashIndex enforces uniqueness of refresh_token_hash among live sessions.
// MySQL has no partial indexes, so it only gets a lookup index there.
func ensureRefreshHashIndex(db *gorm.DB) error {
	switch db.Dialector.Name() {
	case "sqlite", "postgres":
		return db.Exec("CREATE UNIQUE INDEX IF NOT EXISTS " + refreshHashActiveIndex +
			" ON sessions (refresh_token_hash) WHERE revoked_at IS NULL").Error
	default:
		if db.Migrator().HasIndex(&models.Session{}, refreshHashPlainIndex) {
			return nil
		}
		return db.Exec("CREATE INDEX " + refreshHashPlainIndex + " ON sessions (refresh_token_hash)").Error
	}
}
