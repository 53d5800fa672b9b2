package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/devfolio/api/internal/api"
	"github.com/devfolio/api/internal/app"
	"github.com/devfolio/api/internal/app/maintenance"
	iauth "github.com/devfolio/api/internal/auth"
	"github.com/devfolio/api/internal/cache"
	"github.com/devfolio/api/internal/database"
	"github.com/devfolio/api/internal/middleware"
	"github.com/devfolio/api/internal/services"
	"github.com/devfolio/api/pkg/logger"
	"github.com/devfolio/api/pkg/mail"
)

const shutdownTimeout = 15 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("devfolio-api", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	var configPath string
	fs.StringVar(&configPath, "config", "", "Path to configuration directory or file")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadApplicationConfig(configPath)
	if err != nil {
		return err
	}

	if err := app.ConfigureLogging(cfg.Server.LogLevel, !cfg.Server.IsProduction()); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer logger.Sync() // best effort

	log := logger.WithModule("bootstrap")

	if err := ensureSecretsPresent(cfg); err != nil {
		return err
	}

	db, err := initialiseDatabase(cfg)
	if err != nil {
		return err
	}
	defer closeDatabase(db, log)

	dbStore := cache.NewDatabaseStore(db)

	var cacheStore cache.Store
	if cfg.Cache.Redis.Enabled {
		redisStore, redisErr := cache.NewRedisStore(cfg.Cache.RedisStoreConfig())
		if redisErr != nil {
			log.Warn("redis unavailable; falling back to database-backed cache", zap.Error(redisErr))
		} else {
			cacheStore = redisStore
			log.Info("redis connected", zap.String("addr", cfg.Cache.Redis.Address))
		}
	}
	if cacheStore == nil {
		cacheStore = dbStore
	}

	defer func() {
		if rs, ok := cacheStore.(*cache.RedisStore); ok && rs != nil {
			_ = rs.Close()
		}
	}()

	tokenService, err := iauth.NewTokenService(cfg.Auth.TokenServiceConfig())
	if err != nil {
		return fmt.Errorf("initialise token service: %w", err)
	}

	mailer, err := mail.NewSMTPMailer(cfg.Email.SMTPSettings())
	if err != nil {
		return fmt.Errorf("initialise mailer: %w", err)
	}
	if !cfg.Email.SMTP.Enabled {
		log.Warn("smtp disabled; verification and reset emails will not be delivered")
	}

	authService, err := services.NewAuthService(db, tokenService, mailer, cfg.AuthServiceConfig())
	if err != nil {
		return fmt.Errorf("initialise auth service: %w", err)
	}

	cleaner := maintenance.NewCleaner(db, dbStore)
	if err := cleaner.Start(); err != nil {
		return fmt.Errorf("start maintenance jobs: %w", err)
	}
	defer func() {
		stopCtx := cleaner.Stop()
		if err := cleaner.RunOnce(stopCtx); err != nil {
			log.Warn("maintenance shutdown cleanup failed", zap.Error(err))
		}
	}()

	rateStore := middleware.NewCacheRateStore(cacheStore)

	router, err := api.NewRouter(db, tokenService, cfg, authService, rateStore)
	if err != nil {
		return fmt.Errorf("build api router: %w", err)
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("graceful shutdown: %w", err)
	}

	if err, ok := <-serverErr; ok && err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	log.Info("server stopped gracefully")
	return nil
}

func loadApplicationConfig(path string) (*app.Config, error) {
	switch {
	case strings.TrimSpace(path) == "":
		return app.LoadConfig()
	default:
		info, err := os.Stat(path)
		if err == nil {
			if info.IsDir() {
				return app.LoadConfig(path)
			}
			return app.LoadConfig(filepath.Dir(path))
		}
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config path %q does not exist", path)
		}
		return nil, fmt.Errorf("stat config path: %w", err)
	}
}

func ensureSecretsPresent(cfg *app.Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Auth.AccessTokenSecret = strings.TrimSpace(cfg.Auth.AccessTokenSecret)
	if cfg.Auth.AccessTokenSecret == "" {
		return errors.New("auth.access_token_secret must be configured")
	}

	cfg.Auth.RefreshTokenSecret = strings.TrimSpace(cfg.Auth.RefreshTokenSecret)
	if cfg.Auth.RefreshTokenSecret == "" {
		return errors.New("auth.refresh_token_secret must be configured")
	}
	if cfg.Auth.RefreshTokenSecret == cfg.Auth.AccessTokenSecret {
		return errors.New("auth.refresh_token_secret must differ from auth.access_token_secret")
	}

	cfg.Auth.AdminAccessCode = strings.TrimSpace(cfg.Auth.AdminAccessCode)
	if cfg.Auth.AdminAccessCode == "" {
		return errors.New("auth.admin_access_code must be configured")
	}

	return nil
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := cfg.Database.DatabaseOpenConfig()
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	logger.WithModule("database").Info("database connected", zap.String("driver", dbCfg.Driver))

	return db, nil
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	if db == nil {
		return
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("failed to obtain underlying sql DB for closing", zap.Error(err))
		return
	}

	if err := sqlDB.Close(); err != nil {
		log.Warn("failed to close database", zap.Error(err))
	}
}
