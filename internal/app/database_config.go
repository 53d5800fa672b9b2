package app

import (
	"strings"

	"github.com/devfolio/api/internal/database"
)

// DatabaseOpenConfig converts DatabaseConfig into the parameters expected by
// the database package.
func (c DatabaseConfig) DatabaseOpenConfig() database.Config {
	cfg := database.Config{
		Driver: strings.ToLower(strings.TrimSpace(c.Driver)),
		Path:   strings.TrimSpace(c.Path),
		DSN:    strings.TrimSpace(c.DSN),
	}

	switch cfg.Driver {
	case "", "sqlite":
		cfg.Driver = "sqlite"
	case "postgres", "postgresql":
		cfg.Driver = "postgres"
		cfg.Host = strings.TrimSpace(c.Postgres.Host)
		cfg.Port = c.Postgres.Port
		cfg.Name = strings.TrimSpace(c.Postgres.Database)
		cfg.User = strings.TrimSpace(c.Postgres.Username)
		cfg.Password = strings.TrimSpace(c.Postgres.Password)
	case "mysql":
		cfg.Host = strings.TrimSpace(c.MySQL.Host)
		cfg.Port = c.MySQL.Port
		cfg.Name = strings.TrimSpace(c.MySQL.Database)
		cfg.User = strings.TrimSpace(c.MySQL.Username)
		cfg.Password = strings.TrimSpace(c.MySQL.Password)
	default:
		// Leave the driver as-is so Open surfaces the unsupported driver error.
	}

	return cfg
}
