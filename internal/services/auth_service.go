package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/devfolio/api/internal/auth"
	"github.com/devfolio/api/internal/models"
	"github.com/devfolio/api/pkg/crypto"
	apperrors "github.com/devfolio/api/pkg/errors"
	"github.com/devfolio/api/pkg/logger"
	"github.com/devfolio/api/pkg/mail"
	"github.com/devfolio/api/pkg/metrics"
)

// AuthConfig carries the flow-level settings of the AuthService. Secrets and
// URLs are injected here instead of being read from the environment so tests
// can supply their own.
type AuthConfig struct {
	BcryptCost       int
	AdminAccessCode  string
	VerifyEmailURL   string
	ResetPasswordURL string
}

// TokenPair bundles a freshly issued access and refresh token.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// SignUpInput carries the payload of a local registration.
type SignUpInput struct {
	Name     string
	Email    string
	Password string
}

// SignInInput carries the payload of a local sign-in.
type SignInInput struct {
	Email    string
	Password string
}

// AuthService orchestrates the account and token lifecycle: sign-up, email
// verification, sign-in/out, password reset, refresh rotation, and admin
// elevation.
type AuthService struct {
	db     *gorm.DB
	tokens *auth.TokenService
	mailer mail.Mailer
	cfg    AuthConfig
	log    *zap.Logger
}

// NewAuthService wires the service with its collaborators. The mailer may be
// nil, in which case verification and reset emails are skipped (useful in
// tests that inspect the database directly).
func NewAuthService(db *gorm.DB, tokens *auth.TokenService, mailer mail.Mailer, cfg AuthConfig) (*AuthService, error) {
	if db == nil {
		return nil, errors.New("auth service: db is required")
	}
	if tokens == nil {
		return nil, errors.New("auth service: token service is required")
	}
	if strings.TrimSpace(cfg.AdminAccessCode) == "" {
		return nil, errors.New("auth service: admin access code is required")
	}

	return &AuthService{
		db:     db,
		tokens: tokens,
		mailer: mailer,
		cfg:    cfg,
		log:    logger.WithModule("auth"),
	}, nil
}

// SignUp registers a new email-provider account and dispatches a
// verification email carrying the plain temporary token. Email delivery
// failure is logged and counted but does not fail the registration; the
// client can request a fresh verification email later.
func (s *AuthService) SignUp(ctx context.Context, input SignUpInput) (*models.User, error) {
	email := normalizeEmail(input.Email)
	name := strings.TrimSpace(input.Name)

	var existing models.User
	err := s.db.WithContext(ctx).
		Where("email = ? AND provider = ?", email, models.ProviderEmail).
		Take(&existing).Error
	if err == nil {
		return nil, apperrors.ErrConflict
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("auth service: check existing user: %w", err)
	}

	hash, err := crypto.HashPassword(input.Password, s.cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("auth service: hash password: %w", err)
	}

	verification, err := s.tokens.IssueTemporaryToken()
	if err != nil {
		return nil, fmt.Errorf("auth service: %w", err)
	}

	user := &models.User{
		Name:                       name,
		Email:                      email,
		Provider:                   models.ProviderEmail,
		PasswordHash:               hash,
		Avatar:                     avatarPlaceholder(name),
		EmailVerificationTokenHash: verification.Hash,
		EmailVerificationExpiry:    &verification.ExpiresAt,
	}

	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		return nil, fmt.Errorf("auth service: create user: %w", err)
	}

	s.sendTokenEmail(ctx, emailKindVerification, user.Email, verification.Plain)

	return user, nil
}

// VerifyEmail consumes a plain verification token. Unknown, expired, and
// already-consumed tokens are indistinguishable to the caller.
func (s *AuthService) VerifyEmail(ctx context.Context, plainToken string) error {
	plainToken = strings.TrimSpace(plainToken)
	if plainToken == "" {
		return apperrors.ErrInvalidOrExpiredToken
	}

	var user models.User
	err := s.db.WithContext(ctx).
		Where("email_verification_token_hash = ? AND email_verification_expiry >= ?",
			s.tokens.HashToken(plainToken), s.tokens.Now()).
		Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.ErrInvalidOrExpiredToken
	}
	if err != nil {
		return fmt.Errorf("auth service: find verification token: %w", err)
	}

	updates := map[string]any{
		"is_email_verified":             true,
		"email_verification_token_hash": "",
		"email_verification_expiry":     nil,
	}
	if err := s.db.WithContext(ctx).Model(&user).Updates(updates).Error; err != nil {
		return fmt.Errorf("auth service: mark verified: %w", err)
	}

	return nil
}

// SignIn authenticates an email-provider account and establishes a new
// session, revoking any previously stored refresh token.
func (s *AuthService) SignIn(ctx context.Context, input SignInInput) (*models.User, TokenPair, error) {
	email := normalizeEmail(input.Email)

	var user models.User
	err := s.db.WithContext(ctx).
		Where("email = ? AND provider = ?", email, models.ProviderEmail).
		Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		return nil, TokenPair{}, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, TokenPair{}, fmt.Errorf("auth service: find user: %w", err)
	}

	if !crypto.VerifyPassword(user.PasswordHash, input.Password) {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		return nil, TokenPair{}, apperrors.ErrInvalidCredentials
	}

	pair, err := s.issuePair(&user)
	if err != nil {
		return nil, TokenPair{}, err
	}

	// Single-slot refresh token: storing the new one revokes every prior
	// session for this user.
	if err := s.db.WithContext(ctx).Model(&user).
		Update("refresh_token", pair.RefreshToken).Error; err != nil {
		return nil, TokenPair{}, fmt.Errorf("auth service: store refresh token: %w", err)
	}
	user.RefreshToken = pair.RefreshToken

	metrics.AuthAttempts.WithLabelValues("success").Inc()

	return &user, pair, nil
}

// SignOut revokes the stored refresh token so a stolen one stops working the
// moment the user logs out, not when it expires.
func (s *AuthService) SignOut(ctx context.Context, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return apperrors.ErrUnauthorized
	}

	if err := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Update("refresh_token", "").Error; err != nil {
		return fmt.Errorf("auth service: clear refresh token: %w", err)
	}
	return nil
}

// ForgotPassword starts a reset flow for the account, overwriting any
// pending reset token. As with sign-up, delivery failure does not surface.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) error {
	email = normalizeEmail(email)

	var user models.User
	err := s.db.WithContext(ctx).
		Where("email = ? AND provider = ?", email, models.ProviderEmail).
		Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("auth service: find user: %w", err)
	}

	reset, err := s.tokens.IssueTemporaryToken()
	if err != nil {
		return fmt.Errorf("auth service: %w", err)
	}

	updates := map[string]any{
		"forgot_password_token_hash": reset.Hash,
		"forgot_password_expiry":     reset.ExpiresAt,
	}
	if err := s.db.WithContext(ctx).Model(&user).Updates(updates).Error; err != nil {
		return fmt.Errorf("auth service: store reset token: %w", err)
	}

	s.sendTokenEmail(ctx, emailKindPasswordReset, user.Email, reset.Plain)

	return nil
}

// ResetPassword consumes a plain reset token and stores the new password.
// On success the reset fields are cleared and the stored refresh token is
// revoked, so sessions established before the reset stop refreshing.
func (s *AuthService) ResetPassword(ctx context.Context, plainToken, newPassword, confirmPassword string) error {
	plainToken = strings.TrimSpace(plainToken)
	if plainToken == "" {
		return apperrors.ErrInvalidOrExpiredToken
	}

	var user models.User
	err := s.db.WithContext(ctx).
		Where("forgot_password_token_hash = ? AND forgot_password_expiry >= ?",
			s.tokens.HashToken(plainToken), s.tokens.Now()).
		Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.ErrInvalidOrExpiredToken
	}
	if err != nil {
		return fmt.Errorf("auth service: find reset token: %w", err)
	}

	if newPassword != confirmPassword {
		return apperrors.ErrPasswordMismatch
	}

	hash, err := crypto.HashPassword(newPassword, s.cfg.BcryptCost)
	if err != nil {
		return fmt.Errorf("auth service: hash password: %w", err)
	}

	updates := map[string]any{
		"password_hash":              hash,
		"forgot_password_token_hash": "",
		"forgot_password_expiry":     nil,
		"refresh_token":              "",
	}
	if err := s.db.WithContext(ctx).Model(&user).Updates(updates).Error; err != nil {
		return fmt.Errorf("auth service: store new password: %w", err)
	}

	return nil
}

// RefreshTokens rotates the single-slot refresh token. Rotation is an atomic
// conditional update keyed on the incoming token, so two concurrent calls
// with the same token cannot both succeed: the second sees zero affected
// rows and is treated as reuse.
func (s *AuthService) RefreshTokens(ctx context.Context, refreshToken string) (*models.User, TokenPair, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return nil, TokenPair{}, apperrors.ErrUnauthorized
	}

	claims, err := s.tokens.VerifyRefreshToken(refreshToken)
	if err != nil {
		metrics.TokenRefreshes.WithLabelValues("invalid").Inc()
		return nil, TokenPair{}, ErrInvalidRefreshToken.WithInternal(err)
	}

	var user models.User
	err = s.db.WithContext(ctx).Take(&user, "id = ?", claims.UserID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		metrics.TokenRefreshes.WithLabelValues("invalid").Inc()
		return nil, TokenPair{}, ErrInvalidRefreshToken
	}
	if err != nil {
		return nil, TokenPair{}, fmt.Errorf("auth service: load user: %w", err)
	}

	pair, err := s.issuePair(&user)
	if err != nil {
		return nil, TokenPair{}, err
	}

	result := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND refresh_token = ?", user.ID, refreshToken).
		Update("refresh_token", pair.RefreshToken)
	if result.Error != nil {
		return nil, TokenPair{}, fmt.Errorf("auth service: rotate refresh token: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		metrics.TokenRefreshes.WithLabelValues("reused").Inc()
		s.log.Warn("refresh token reuse detected", zap.String("user_id", user.ID))
		return nil, TokenPair{}, ErrRefreshTokenReused
	}

	metrics.TokenRefreshes.WithLabelValues("success").Inc()
	user.RefreshToken = pair.RefreshToken

	return &user, pair, nil
}

// GrantAdminAccess flips the admin flag when the supplied code matches the
// configured one. Comparison is constant time; there is no demotion path.
func (s *AuthService) GrantAdminAccess(ctx context.Context, userID, code string) error {
	if strings.TrimSpace(code) == "" {
		return apperrors.NewBadRequest("access code is required")
	}

	if !crypto.SecureCompare(code, s.cfg.AdminAccessCode) {
		return apperrors.ErrForbidden
	}

	if err := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Update("is_admin", true).Error; err != nil {
		return fmt.Errorf("auth service: grant admin: %w", err)
	}
	return nil
}

func (s *AuthService) issuePair(user *models.User) (TokenPair, error) {
	accessToken, err := s.tokens.IssueAccessToken(user)
	if err != nil {
		return TokenPair{}, fmt.Errorf("auth service: %w", err)
	}
	refreshToken, err := s.tokens.IssueRefreshToken(user)
	if err != nil {
		return TokenPair{}, fmt.Errorf("auth service: %w", err)
	}
	return TokenPair{AccessToken: accessToken, RefreshToken: refreshToken}, nil
}

type emailKind string

const (
	emailKindVerification  emailKind = "verification"
	emailKindPasswordReset emailKind = "password_reset"
)

// sendTokenEmail dispatches the plain temporary token embedded in a redirect
// URL. The decision to swallow delivery failures lives here, at the call
// site, rather than inside the mailer: the enclosing flow already persisted
// its state and reports success regardless.
func (s *AuthService) sendTokenEmail(ctx context.Context, kind emailKind, to, plainToken string) {
	if s.mailer == nil {
		return
	}

	var msg mail.Message
	switch kind {
	case emailKindVerification:
		msg = mail.Message{
			To:      []string{to},
			Subject: "Verify your devfolio account",
			Body: fmt.Sprintf("Welcome to devfolio!\n\nPlease confirm your email address by visiting the link below:\n%s/%s\n\nThe link expires in 20 minutes. If you did not create an account, you can ignore this message.\n",
				strings.TrimRight(s.cfg.VerifyEmailURL, "/"), plainToken),
		}
	case emailKindPasswordReset:
		msg = mail.Message{
			To:      []string{to},
			Subject: "Reset your devfolio password",
			Body: fmt.Sprintf("A password reset was requested for your account.\n\nVisit the link below to choose a new password:\n%s/%s\n\nThe link expires in 20 minutes. If you did not request a reset, you can ignore this message.\n",
				strings.TrimRight(s.cfg.ResetPasswordURL, "/"), plainToken),
		}
	}

	switch err := s.mailer.Send(ctx, msg); {
	case err == nil:
		metrics.EmailsSent.WithLabelValues(string(kind), "sent").Inc()
	case errors.Is(err, mail.ErrSMTPDisabled):
		metrics.EmailsSent.WithLabelValues(string(kind), "skipped").Inc()
		s.log.Debug("email delivery disabled, skipping dispatch",
			zap.String("kind", string(kind)),
		)
	default:
		metrics.EmailsSent.WithLabelValues(string(kind), "failed").Inc()
		s.log.Error("email dispatch failed",
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// avatarPlaceholder derives a deterministic placeholder image URL from the
// user's name initials.
func avatarPlaceholder(name string) string {
	initials := make([]rune, 0, 2)
	for _, word := range strings.Fields(name) {
		runes := []rune(word)
		if len(runes) == 0 {
			continue
		}
		initials = append(initials, runes[0])
		if len(initials) == 2 {
			break
		}
	}
	if len(initials) == 0 {
		initials = []rune{'U'}
	}

	return "https://ui-avatars.com/api/?name=" + url.QueryEscape(string(initials)) + "&background=random"
}
