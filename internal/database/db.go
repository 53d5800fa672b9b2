package database

import (
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/devfolio/api/internal/models"
)

// Config contains database connection options.
type Config struct {
	Driver   string
	Path     string // SQLite database path when Driver == sqlite
	DSN      string // Optional DSN override for any driver
	Host     string
	Port     int
	Name     string
	User     string
	Password string
}

// Open initialises a gorm.DB using the provided configuration.
func Open(cfg Config) (*gorm.DB, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" {
		driver = "sqlite"
	}

	switch driver {
	case "sqlite":
		return openSQLite(cfg)
	case "postgres", "postgresql":
		return openPostgres(cfg)
	case "mysql":
		return openMySQL(cfg)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// AutoMigrate applies schema migrations for every persistent model.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.CacheEntry{},
	)
}
