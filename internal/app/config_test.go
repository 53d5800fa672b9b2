package app

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/devfolio/api/internal/auth"
)

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join("testdata")
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.True(t, cfg.Server.IsProduction())
	require.Equal(t, "debug", cfg.Server.LogLevel)
	require.Equal(t, []string{"https://devfolio.example"}, cfg.Server.AllowedOrigins)
	require.Equal(t, 50, cfg.Server.RateLimit.MaxRequests)
	require.Equal(t, 30*time.Second, cfg.Server.RateLimit.Window)
	require.Equal(t, 10, cfg.Server.RateLimit.AuthMaxRequests)
	require.Equal(t, 15*time.Second, cfg.Server.RateLimit.AuthWindow)

	require.Equal(t, "postgres", cfg.Database.Driver)
	require.Equal(t, "db.example.com", cfg.Database.Postgres.Host)
	require.Equal(t, 5433, cfg.Database.Postgres.Port)

	require.True(t, cfg.Cache.Redis.Enabled)
	require.Equal(t, "redis.example.com:6380", cfg.Cache.Redis.Address)
	require.Equal(t, 2, cfg.Cache.Redis.DB)
	require.True(t, cfg.Cache.Redis.TLS)
	require.Equal(t, 3*time.Second, cfg.Cache.Redis.Timeout)

	require.Equal(t, "access-secret", cfg.Auth.AccessTokenSecret)
	require.Equal(t, "refresh-secret", cfg.Auth.RefreshTokenSecret)
	require.Equal(t, "devfolio-test", cfg.Auth.Issuer)
	require.Equal(t, 12*time.Hour, cfg.Auth.AccessTokenTTL)
	require.Equal(t, 120*time.Hour, cfg.Auth.RefreshTokenTTL)
	require.Equal(t, 10*time.Minute, cfg.Auth.TemporaryTokenTTL)
	require.Equal(t, 10, cfg.Auth.BcryptCost)
	require.Equal(t, "the-admin-code", cfg.Auth.AdminAccessCode)

	require.True(t, cfg.Email.SMTP.Enabled)
	require.Equal(t, "smtp.example.com", cfg.Email.SMTP.Host)
	require.Equal(t, 2525, cfg.Email.SMTP.Port)
	require.Equal(t, 15*time.Second, cfg.Email.SMTP.Timeout)

	require.Equal(t, "https://devfolio.example/verify-email", cfg.URLs.VerifyEmail)
	require.Equal(t, "https://devfolio.example/reset-password", cfg.URLs.ResetPassword)
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, 8000, cfg.Server.Port)
	require.False(t, cfg.Server.IsProduction())
	require.Equal(t, "info", cfg.Server.LogLevel)
	require.Equal(t, 100, cfg.Server.RateLimit.MaxRequests)
	require.Equal(t, time.Minute, cfg.Server.RateLimit.Window)
	require.Equal(t, 20, cfg.Server.RateLimit.AuthMaxRequests)
	require.Equal(t, time.Minute, cfg.Server.RateLimit.AuthWindow)
	require.Equal(t, "sqlite", cfg.Database.Driver)
	require.False(t, cfg.Cache.Redis.Enabled)
	require.Equal(t, 24*time.Hour, cfg.Auth.AccessTokenTTL)
	require.Equal(t, 240*time.Hour, cfg.Auth.RefreshTokenTTL)
	require.Equal(t, 20*time.Minute, cfg.Auth.TemporaryTokenTTL)
	require.Equal(t, 12, cfg.Auth.BcryptCost)
	require.False(t, cfg.Email.SMTP.Enabled)
}

func TestTokenServiceConfigFallbacks(t *testing.T) {
	cfg := AuthConfig{
		AccessTokenSecret:  " access ",
		RefreshTokenSecret: " refresh ",
	}

	tokenCfg := cfg.TokenServiceConfig()
	require.Equal(t, "access", tokenCfg.AccessSecret)
	require.Equal(t, "refresh", tokenCfg.RefreshSecret)
	require.Equal(t, auth.DefaultAccessTokenTTL, tokenCfg.AccessTokenTTL)
	require.Equal(t, auth.DefaultRefreshTokenTTL, tokenCfg.RefreshTokenTTL)
	require.Equal(t, auth.DefaultTemporaryTokenTTL, tokenCfg.TemporaryTokenTTL)
}

func TestAuthServiceConfigAdapter(t *testing.T) {
	cfg := &Config{
		Auth: AuthConfig{
			BcryptCost:      10,
			AdminAccessCode: " code ",
		},
		URLs: URLConfig{
			VerifyEmail:   "https://devfolio.example/verify-email",
			ResetPassword: "https://devfolio.example/reset-password",
		},
	}

	svcCfg := cfg.AuthServiceConfig()
	require.Equal(t, 10, svcCfg.BcryptCost)
	require.Equal(t, "code", svcCfg.AdminAccessCode)
	require.Equal(t, "https://devfolio.example/verify-email", svcCfg.VerifyEmailURL)
	require.Equal(t, "https://devfolio.example/reset-password", svcCfg.ResetPasswordURL)
}

func TestDatabaseOpenConfigAdapter(t *testing.T) {
	cfg := DatabaseConfig{
		Driver: " Postgres ",
		Postgres: DBAuthConfig{
			Host:     "db.example.com",
			Port:     5432,
			Database: "devfolio",
			Username: "svc",
			Password: "secret",
		},
	}

	open := cfg.DatabaseOpenConfig()
	require.Equal(t, "postgres", open.Driver)
	require.Equal(t, "db.example.com", open.Host)
	require.Equal(t, 5432, open.Port)
	require.Equal(t, "devfolio", open.Name)
	require.Equal(t, "svc", open.User)
	require.Equal(t, "secret", open.Password)

	require.Equal(t, "sqlite", DatabaseConfig{}.DatabaseOpenConfig().Driver)
}
