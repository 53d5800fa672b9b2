package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config represents the runtime configuration for the Devfolio API.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Email    EmailConfig    `mapstructure:"email"`
	URLs     URLConfig      `mapstructure:"urls"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port           int             `mapstructure:"port"`
	Environment    string          `mapstructure:"environment"`
	LogLevel       string          `mapstructure:"log_level"`
	AllowedOrigins []string        `mapstructure:"allowed_origins"`
	RateLimit      RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig bounds requests per client within a fixed window. The auth
// endpoints get their own tighter budget on top of the global one.
type RateLimitConfig struct {
	MaxRequests     int           `mapstructure:"max_requests"`
	Window          time.Duration `mapstructure:"window"`
	AuthMaxRequests int           `mapstructure:"auth_max_requests"`
	AuthWindow      time.Duration `mapstructure:"auth_window"`
}

// IsProduction reports whether the server runs in production mode. Cookie
// security and log formatting key off this.
func (c ServerConfig) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver   string       `mapstructure:"driver"`
	Path     string       `mapstructure:"path"`
	DSN      string       `mapstructure:"dsn"`
	Postgres DBAuthConfig `mapstructure:"postgres"`
	MySQL    DBAuthConfig `mapstructure:"mysql"`
}

// DBAuthConfig represents host based database parameters.
type DBAuthConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// CacheConfig describes cache backends.
type CacheConfig struct {
	Redis RedisCacheConfig `mapstructure:"redis"`
}

// RedisCacheConfig holds Redis connection options.
type RedisCacheConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Address  string        `mapstructure:"address"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TLS      bool          `mapstructure:"tls"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// AuthConfig captures all authentication-related settings.
type AuthConfig struct {
	AccessTokenSecret  string        `mapstructure:"access_token_secret"`
	RefreshTokenSecret string        `mapstructure:"refresh_token_secret"`
	Issuer             string        `mapstructure:"issuer"`
	AccessTokenTTL     time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL    time.Duration `mapstructure:"refresh_token_ttl"`
	TemporaryTokenTTL  time.Duration `mapstructure:"temporary_token_ttl"`
	BcryptCost         int           `mapstructure:"bcrypt_cost"`
	AdminAccessCode    string        `mapstructure:"admin_access_code"`
}

// EmailConfig captures outbound email settings.
type EmailConfig struct {
	SMTP SMTPConfig `mapstructure:"smtp"`
}

// SMTPConfig defines SMTP dialer settings for sending email.
type SMTPConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	From     string        `mapstructure:"from"`
	UseTLS   bool          `mapstructure:"use_tls"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// URLConfig holds the frontend URLs embedded into outbound emails.
type URLConfig struct {
	VerifyEmail   string `mapstructure:"verify_email"`
	ResetPassword string `mapstructure:"reset_password"`
}

// LoadConfig initialises application configuration using Viper with sensible
// defaults. Environment variables use the DEVFOLIO_ prefix, e.g.
// DEVFOLIO_AUTH_ACCESS_TOKEN_SECRET.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.NewWithOptions(viper.ExperimentalBindStruct())
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("DEVFOLIO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.rate_limit.max_requests", 100)
	v.SetDefault("server.rate_limit.window", "1m")
	v.SetDefault("server.rate_limit.auth_max_requests", 20)
	v.SetDefault("server.rate_limit.auth_window", "1m")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/devfolio.sqlite")

	v.SetDefault("cache.redis.enabled", false)
	v.SetDefault("cache.redis.address", "127.0.0.1:6379")
	v.SetDefault("cache.redis.username", "")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.tls", false)
	v.SetDefault("cache.redis.timeout", "5s")

	v.SetDefault("auth.issuer", "devfolio")
	v.SetDefault("auth.access_token_ttl", "24h")
	v.SetDefault("auth.refresh_token_ttl", "240h") // 10 days
	v.SetDefault("auth.temporary_token_ttl", "20m")
	v.SetDefault("auth.bcrypt_cost", 12)

	v.SetDefault("email.smtp.enabled", false)
	v.SetDefault("email.smtp.host", "")
	v.SetDefault("email.smtp.port", 587)
	v.SetDefault("email.smtp.use_tls", true)
	v.SetDefault("email.smtp.timeout", "10s")

	v.SetDefault("urls.verify_email", "http://localhost:3000/verify-email")
	v.SetDefault("urls.reset_password", "http://localhost:3000/reset-password")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
