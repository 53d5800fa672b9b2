package maintenance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/devfolio/api/internal/cache"
	"github.com/devfolio/api/internal/models"
	"github.com/devfolio/api/pkg/logger"
)

const (
	defaultTokenSpec = "@hourly"
	defaultCacheSpec = "@hourly"
)

// Cleaner coordinates background maintenance: expiring leftover verification
// and reset token state on user rows, and purging stale cache entries.
type Cleaner struct {
	db    *gorm.DB
	store *cache.DatabaseStore
	cron  *cron.Cron
	now   func() time.Time
	log   *zap.Logger

	tokenSchedule string
	cacheSchedule string
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithNow overrides the clock used for cleanup comparisons.
func WithNow(now func() time.Time) Option {
	return func(cleaner *Cleaner) {
		if now != nil {
			cleaner.now = now
		}
	}
}

// WithTokenSchedule overrides the cron specification for token state cleanup.
func WithTokenSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.tokenSchedule = spec
		}
	}
}

// WithCacheSchedule overrides the cron specification for cache purging.
func WithCacheSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.cacheSchedule = spec
		}
	}
}

// NewCleaner constructs a Cleaner with sensible defaults. A nil cache store
// skips the cache purge job.
func NewCleaner(db *gorm.DB, store *cache.DatabaseStore, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		db:            db,
		store:         store,
		now:           time.Now,
		tokenSchedule: defaultTokenSpec,
		cacheSchedule: defaultCacheSpec,
		log:           logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	return cleaner
}

// Start registers cleanup jobs with the cron scheduler and launches it.
func (c *Cleaner) Start() error {
	if c.db == nil && c.store == nil {
		return nil
	}

	if c.db != nil {
		if _, err := c.cron.AddFunc(c.tokenSchedule, func() {
			if _, err := CleanupTokenState(context.Background(), c.db, c.now()); err != nil {
				c.log.Warn("token state cleanup failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	if c.store != nil {
		if _, err := c.cron.AddFunc(c.cacheSchedule, func() {
			if _, err := c.store.PurgeExpired(context.Background(), c.now()); err != nil {
				c.log.Warn("cache purge failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	c.cron.Start()
	return nil
}

// Stop halts the scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes all configured cleanup routines sequentially. Used in
// tests and during graceful shutdown.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error

	if c.db != nil {
		if _, err := CleanupTokenState(ctx, c.db, c.now()); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	if c.store != nil {
		if _, err := c.store.PurgeExpired(ctx, c.now()); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	return errs
}

// TokenCleanupStats captures the number of user rows scrubbed per token kind.
type TokenCleanupStats struct {
	VerificationTokens int64
	ResetTokens        int64
}

// CleanupTokenState clears expired verification and reset token fields from
// user rows. The tokens are useless once expired; dropping the hashes keeps
// the lookup indexes small.
func CleanupTokenState(ctx context.Context, db *gorm.DB, now time.Time) (TokenCleanupStats, error) {
	if db == nil {
		return TokenCleanupStats{}, errors.New("cleanup token state: db is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	stats := TokenCleanupStats{}

	result := db.WithContext(ctx).Model(&models.User{}).
		Where("email_verification_expiry IS NOT NULL AND email_verification_expiry < ?", now).
		Updates(map[string]interface{}{
			"email_verification_token_hash": "",
			"email_verification_expiry":     nil,
		})
	if result.Error != nil {
		return stats, fmt.Errorf("cleanup token state: verification tokens: %w", result.Error)
	}
	stats.VerificationTokens = result.RowsAffected

	result = db.WithContext(ctx).Model(&models.User{}).
		Where("forgot_password_expiry IS NOT NULL AND forgot_password_expiry < ?", now).
		Updates(map[string]interface{}{
			"forgot_password_token_hash": "",
			"forgot_password_expiry":     nil,
		})
	if result.Error != nil {
		return stats, fmt.Errorf("cleanup token state: reset tokens: %w", result.Error)
	}
	stats.ResetTokens = result.RowsAffected

	return stats, nil
}
