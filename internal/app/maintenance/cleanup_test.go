package maintenance

import (
	"context"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/devfolio/api/internal/cache"
	"github.com/devfolio/api/internal/database"
	"github.com/devfolio/api/internal/models"
)

func newMaintenanceDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := database.Open(database.Config{Driver: "sqlite", Path: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))
	t.Cleanup(func() {
		require.NoError(t, db.Exec("DELETE FROM users").Error)
		require.NoError(t, db.Exec("DELETE FROM cache_entries").Error)
	})
	return db
}

func TestCleanupTokenState(t *testing.T) {
	db := newMaintenanceDB(t)
	now := time.Date(2026, 2, 10, 15, 0, 0, 0, time.UTC)

	expired := now.Add(-time.Hour)
	active := now.Add(time.Hour)

	stale := &models.User{
		Name:                       "Stale",
		Email:                      "stale@example.com",
		Provider:                   models.ProviderEmail,
		EmailVerificationTokenHash: "verify-expired",
		EmailVerificationExpiry:    &expired,
		ForgotPasswordTokenHash:    "reset-expired",
		ForgotPasswordExpiry:       &expired,
	}
	fresh := &models.User{
		Name:                       "Fresh",
		Email:                      "fresh@example.com",
		Provider:                   models.ProviderEmail,
		EmailVerificationTokenHash: "verify-active",
		EmailVerificationExpiry:    &active,
		ForgotPasswordTokenHash:    "reset-active",
		ForgotPasswordExpiry:       &active,
	}
	require.NoError(t, db.Create(stale).Error)
	require.NoError(t, db.Create(fresh).Error)

	stats, err := CleanupTokenState(context.Background(), db, now)
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.VerificationTokens)
	require.Equal(t, int64(1), stats.ResetTokens)

	var scrubbed models.User
	require.NoError(t, db.First(&scrubbed, "id = ?", stale.ID).Error)
	require.Empty(t, scrubbed.EmailVerificationTokenHash)
	require.Nil(t, scrubbed.EmailVerificationExpiry)
	require.Empty(t, scrubbed.ForgotPasswordTokenHash)
	require.Nil(t, scrubbed.ForgotPasswordExpiry)

	var untouched models.User
	require.NoError(t, db.First(&untouched, "id = ?", fresh.ID).Error)
	require.Equal(t, "verify-active", untouched.EmailVerificationTokenHash)
	require.NotNil(t, untouched.EmailVerificationExpiry)
	require.Equal(t, "reset-active", untouched.ForgotPasswordTokenHash)
}

func TestCleanerRunOnce(t *testing.T) {
	db := newMaintenanceDB(t)
	store := cache.NewDatabaseStore(db)

	now := time.Date(2026, 5, 20, 9, 0, 0, 0, time.UTC)
	expired := now.Add(-time.Hour)

	user := &models.User{
		Name:                       "Cleanup",
		Email:                      "cleanup@example.com",
		Provider:                   models.ProviderEmail,
		EmailVerificationTokenHash: "verify-hash",
		EmailVerificationExpiry:    &expired,
	}
	require.NoError(t, db.Create(user).Error)

	require.NoError(t, store.Set(context.Background(), "stale", []byte("x"), time.Minute))
	require.NoError(t, db.Model(&models.CacheEntry{}).
		Where("key = ?", "stale").
		Update("expires_at", expired).Error)

	c := NewCleaner(db, store,
		WithNow(func() time.Time { return now }),
		WithCron(cron.New(cron.WithLogger(cron.DiscardLogger))),
	)

	require.NoError(t, c.RunOnce(context.Background()))

	var cleaned models.User
	require.NoError(t, db.First(&cleaned, "id = ?", user.ID).Error)
	require.Empty(t, cleaned.EmailVerificationTokenHash)
	require.Nil(t, cleaned.EmailVerificationExpiry)

	var entries int64
	require.NoError(t, db.Model(&models.CacheEntry{}).Count(&entries).Error)
	require.Zero(t, entries)
}

func TestCleanerStartAndStop(t *testing.T) {
	db := newMaintenanceDB(t)

	c := NewCleaner(db, cache.NewDatabaseStore(db),
		WithTokenSchedule("@every 1h"),
		WithCacheSchedule("@every 1h"),
	)
	require.NoError(t, c.Start())
	<-c.Stop().Done()
}
