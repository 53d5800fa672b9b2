package app

import (
	"strings"

	"github.com/devfolio/api/internal/auth"
	"github.com/devfolio/api/internal/services"
)

// TokenServiceConfig converts AuthConfig into the parameters expected by the
// token service.
func (c AuthConfig) TokenServiceConfig() auth.TokenConfig {
	accessTTL := c.AccessTokenTTL
	if accessTTL <= 0 {
		accessTTL = auth.DefaultAccessTokenTTL
	}
	refreshTTL := c.RefreshTokenTTL
	if refreshTTL <= 0 {
		refreshTTL = auth.DefaultRefreshTokenTTL
	}
	temporaryTTL := c.TemporaryTokenTTL
	if temporaryTTL <= 0 {
		temporaryTTL = auth.DefaultTemporaryTokenTTL
	}

	return auth.TokenConfig{
		AccessSecret:      strings.TrimSpace(c.AccessTokenSecret),
		RefreshSecret:     strings.TrimSpace(c.RefreshTokenSecret),
		Issuer:            strings.TrimSpace(c.Issuer),
		AccessTokenTTL:    accessTTL,
		RefreshTokenTTL:   refreshTTL,
		TemporaryTokenTTL: temporaryTTL,
	}
}

// AuthServiceConfig converts the application configuration into AuthService
// parameters.
func (c *Config) AuthServiceConfig() services.AuthConfig {
	return services.AuthConfig{
		BcryptCost:       c.Auth.BcryptCost,
		AdminAccessCode:  strings.TrimSpace(c.Auth.AdminAccessCode),
		VerifyEmailURL:   strings.TrimSpace(c.URLs.VerifyEmail),
		ResetPasswordURL: strings.TrimSpace(c.URLs.ResetPassword),
	}
}
