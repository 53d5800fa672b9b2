package models

import "time"

// CacheEntry backs the database cache store used for rate limiting when no
// Redis instance is configured.
type CacheEntry struct {
	Key       string    `gorm:"primaryKey" json:"key"`
	Value     []byte    `json:"value"`
	ExpiresAt time.Time `gorm:"index" json:"expires_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
