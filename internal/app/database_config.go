package app

import (
	"strings"

	"github.com/SaubhagyaSapkota/identity-and-access-management-system/internal/database"
)

// ConnectionConfig converts the database section into the connection parameters for the selected driver.
func (c DatabaseConfig) ConnectionConfig() database.Config {
	driver := strings.ToLower(strings.TrimSpace(c.Driver))
	if driver == "" {
		driver = "sqlite"
	}
	cfg := database.Config{
		Driver: driver,
		Path:   strings.TrimSpace(c.Path),
		DSN:    strings.TrimSpace(c.DSN),
	}

	var remote DBAuthConfig
	switch driver {
	case "postgres", "postgresql":
		remote = c.Postgres
	case "mysql":
		remote = c.MySQL
	default:
		return cfg
	}

	cfg.Host = strings.TrimSpace(remote.Host)
	cfg.Port = remote.Port
	cfg.Name = strings.TrimSpace(remote.Database)
	cfg.User = strings.TrimSpace(remote.Username)
	cfg.Password = remote.Password
	cfg.Options = remote.Options
	return cfg
}
