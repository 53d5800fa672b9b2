package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/devfolio/api/internal/auth"
	"github.com/devfolio/api/internal/models"
	"github.com/devfolio/api/pkg/mail"
	"github.com/devfolio/api/pkg/metrics"

	apperrors "github.com/devfolio/api/pkg/errors"
)

const testAdminCode = "super-secret-admin-code"

type recordingMailer struct {
	messages []mail.Message
	fail     bool
	disabled bool
}

func (m *recordingMailer) Send(_ context.Context, msg mail.Message) error {
	if m.disabled {
		return mail.ErrSMTPDisabled
	}
	if m.fail {
		return errors.New("smtp: connection refused")
	}
	m.messages = append(m.messages, msg)
	return nil
}

// lastToken extracts the plain temporary token from the link embedded in the
// most recent email body.
func (m *recordingMailer) lastToken(t *testing.T) string {
	t.Helper()
	require.NotEmpty(t, m.messages)

	body := m.messages[len(m.messages)-1].Body
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "http") {
			parts := strings.Split(strings.TrimSpace(line), "/")
			return parts[len(parts)-1]
		}
	}
	t.Fatalf("no link found in email body: %q", body)
	return ""
}

type authTestEnv struct {
	db      *gorm.DB
	svc     *AuthService
	mailer  *recordingMailer
	current *time.Time
}

func newAuthTestEnv(t *testing.T) *authTestEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.User{}))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	current := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

	tokens, err := auth.NewTokenService(auth.TokenConfig{
		AccessSecret:      "access-secret-for-tests-32-bytes!!",
		RefreshSecret:     "refresh-secret-for-tests-32-byte!",
		Issuer:            "devfolio-test",
		AccessTokenTTL:    time.Hour,
		RefreshTokenTTL:   24 * time.Hour,
		TemporaryTokenTTL: 20 * time.Minute,
		Clock:             func() time.Time { return current },
	})
	require.NoError(t, err)

	mailer := &recordingMailer{}
	svc, err := NewAuthService(db, tokens, mailer, AuthConfig{
		BcryptCost:       4, // minimum cost keeps the suite fast
		AdminAccessCode:  testAdminCode,
		VerifyEmailURL:   "https://devfolio.dev/verify-email",
		ResetPasswordURL: "https://devfolio.dev/reset-password",
	})
	require.NoError(t, err)

	return &authTestEnv{db: db, svc: svc, mailer: mailer, current: &current}
}

func (e *authTestEnv) signUp(t *testing.T) *models.User {
	t.Helper()

	user, err := e.svc.SignUp(context.Background(), SignUpInput{
		Name:     "Ada Lovelace",
		Email:    "ada@example.com",
		Password: "password123",
	})
	require.NoError(t, err)
	return user
}

func (e *authTestEnv) reload(t *testing.T, id string) *models.User {
	t.Helper()

	var user models.User
	require.NoError(t, e.db.Take(&user, "id = ?", id).Error)
	return &user
}

func TestSignUpCreatesUnverifiedUser(t *testing.T) {
	env := newAuthTestEnv(t)

	user := env.signUp(t)
	require.NotEmpty(t, user.ID)
	require.Equal(t, "ada@example.com", user.Email)
	require.Equal(t, models.ProviderEmail, user.Provider)
	require.False(t, user.IsEmailVerified)
	require.NotEmpty(t, user.PasswordHash)
	require.NotEqual(t, "password123", user.PasswordHash)
	require.NotEmpty(t, user.EmailVerificationTokenHash)
	require.NotNil(t, user.EmailVerificationExpiry)
	require.Contains(t, user.Avatar, "ui-avatars.com")

	// The verification email carries the plain token, never the hash.
	token := env.mailer.lastToken(t)
	require.Len(t, token, 40)
	require.NotEqual(t, user.EmailVerificationTokenHash, token)
}

func TestSignUpDuplicateEmailConflicts(t *testing.T) {
	env := newAuthTestEnv(t)
	env.signUp(t)

	_, err := env.svc.SignUp(context.Background(), SignUpInput{
		Name:     "Ada Again",
		Email:    "Ada@Example.com", // case-insensitive match
		Password: "password456",
	})
	require.ErrorIs(t, err, apperrors.ErrConflict)
}

func TestSignUpSucceedsWhenEmailDeliveryFails(t *testing.T) {
	env := newAuthTestEnv(t)
	env.mailer.fail = true

	user, err := env.svc.SignUp(context.Background(), SignUpInput{
		Name:     "Ada Lovelace",
		Email:    "ada@example.com",
		Password: "password123",
	})
	require.NoError(t, err)
	require.NotEmpty(t, env.reload(t, user.ID).EmailVerificationTokenHash)
}

func TestSignUpWithDisabledMailerCountsSkipped(t *testing.T) {
	env := newAuthTestEnv(t)
	env.mailer.disabled = true

	sentBefore := promtestutil.ToFloat64(metrics.EmailsSent.WithLabelValues("verification", "sent"))
	skippedBefore := promtestutil.ToFloat64(metrics.EmailsSent.WithLabelValues("verification", "skipped"))

	_, err := env.svc.SignUp(context.Background(), SignUpInput{
		Name:     "Ada Lovelace",
		Email:    "ada@example.com",
		Password: "password123",
	})
	require.NoError(t, err)

	require.Equal(t, sentBefore, promtestutil.ToFloat64(metrics.EmailsSent.WithLabelValues("verification", "sent")))
	require.Equal(t, skippedBefore+1, promtestutil.ToFloat64(metrics.EmailsSent.WithLabelValues("verification", "skipped")))
}

func TestVerifyEmailConsumesToken(t *testing.T) {
	env := newAuthTestEnv(t)
	user := env.signUp(t)
	token := env.mailer.lastToken(t)

	require.NoError(t, env.svc.VerifyEmail(context.Background(), token))

	stored := env.reload(t, user.ID)
	require.True(t, stored.IsEmailVerified)
	require.Empty(t, stored.EmailVerificationTokenHash)
	require.Nil(t, stored.EmailVerificationExpiry)

	// Replaying the same plain token fails identically to a wrong token.
	err := env.svc.VerifyEmail(context.Background(), token)
	require.ErrorIs(t, err, apperrors.ErrInvalidOrExpiredToken)
}

func TestVerifyEmailExpiry(t *testing.T) {
	env := newAuthTestEnv(t)
	env.signUp(t)
	token := env.mailer.lastToken(t)

	*env.current = env.current.Add(21 * time.Minute)

	err := env.svc.VerifyEmail(context.Background(), token)
	require.ErrorIs(t, err, apperrors.ErrInvalidOrExpiredToken)
}

func TestVerifyEmailUnknownToken(t *testing.T) {
	env := newAuthTestEnv(t)

	err := env.svc.VerifyEmail(context.Background(), "deadbeef")
	require.ErrorIs(t, err, apperrors.ErrInvalidOrExpiredToken)

	err = env.svc.VerifyEmail(context.Background(), "")
	require.ErrorIs(t, err, apperrors.ErrInvalidOrExpiredToken)
}

func TestSignIn(t *testing.T) {
	env := newAuthTestEnv(t)
	created := env.signUp(t)

	_, _, err := env.svc.SignIn(context.Background(), SignInInput{
		Email:    "nobody@example.com",
		Password: "password123",
	})
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	_, _, err = env.svc.SignIn(context.Background(), SignInInput{
		Email:    "ada@example.com",
		Password: "wrong-password",
	})
	require.ErrorIs(t, err, apperrors.ErrInvalidCredentials)

	user, pair, err := env.svc.SignIn(context.Background(), SignInInput{
		Email:    "ada@example.com",
		Password: "password123",
	})
	require.NoError(t, err)
	require.Equal(t, created.ID, user.ID)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)
	require.Equal(t, pair.RefreshToken, env.reload(t, user.ID).RefreshToken)
}

func TestSignInOverwritesPriorRefreshToken(t *testing.T) {
	env := newAuthTestEnv(t)
	user := env.signUp(t)

	_, first, err := env.svc.SignIn(context.Background(), SignInInput{Email: "ada@example.com", Password: "password123"})
	require.NoError(t, err)

	*env.current = env.current.Add(time.Second)

	_, second, err := env.svc.SignIn(context.Background(), SignInInput{Email: "ada@example.com", Password: "password123"})
	require.NoError(t, err)
	require.NotEqual(t, first.RefreshToken, second.RefreshToken)
	require.Equal(t, second.RefreshToken, env.reload(t, user.ID).RefreshToken)

	// The first session's refresh token was revoked by the second sign-in.
	_, _, err = env.svc.RefreshTokens(context.Background(), first.RefreshToken)
	require.ErrorIs(t, err, ErrRefreshTokenReused)
}

func TestRefreshRotation(t *testing.T) {
	env := newAuthTestEnv(t)
	env.signUp(t)

	_, pair, err := env.svc.SignIn(context.Background(), SignInInput{Email: "ada@example.com", Password: "password123"})
	require.NoError(t, err)

	*env.current = env.current.Add(time.Second)

	_, rotated, err := env.svc.RefreshTokens(context.Background(), pair.RefreshToken)
	require.NoError(t, err)
	require.NotEqual(t, pair.RefreshToken, rotated.RefreshToken)

	// The consumed token is rejected on replay.
	_, _, err = env.svc.RefreshTokens(context.Background(), pair.RefreshToken)
	require.ErrorIs(t, err, ErrRefreshTokenReused)

	*env.current = env.current.Add(time.Second)

	// The new token works exactly once.
	_, _, err = env.svc.RefreshTokens(context.Background(), rotated.RefreshToken)
	require.NoError(t, err)
	_, _, err = env.svc.RefreshTokens(context.Background(), rotated.RefreshToken)
	require.ErrorIs(t, err, ErrRefreshTokenReused)
}

func TestRefreshRejectsInvalidTokens(t *testing.T) {
	env := newAuthTestEnv(t)

	_, _, err := env.svc.RefreshTokens(context.Background(), "")
	require.ErrorIs(t, err, apperrors.ErrUnauthorized)

	_, _, err = env.svc.RefreshTokens(context.Background(), "garbage.token.value")
	require.ErrorIs(t, err, ErrInvalidRefreshToken)
	require.ErrorIs(t, err, auth.ErrTokenMalformed)
}

func TestRefreshExpiredToken(t *testing.T) {
	env := newAuthTestEnv(t)
	env.signUp(t)

	_, pair, err := env.svc.SignIn(context.Background(), SignInInput{Email: "ada@example.com", Password: "password123"})
	require.NoError(t, err)

	*env.current = env.current.Add(25 * time.Hour)

	_, _, err = env.svc.RefreshTokens(context.Background(), pair.RefreshToken)
	require.ErrorIs(t, err, ErrInvalidRefreshToken)
	require.ErrorIs(t, err, auth.ErrTokenExpired)
}

func TestSignOutRevokesRefreshToken(t *testing.T) {
	env := newAuthTestEnv(t)
	user := env.signUp(t)

	_, pair, err := env.svc.SignIn(context.Background(), SignInInput{Email: "ada@example.com", Password: "password123"})
	require.NoError(t, err)

	require.NoError(t, env.svc.SignOut(context.Background(), user.ID))
	require.Empty(t, env.reload(t, user.ID).RefreshToken)

	// The still-valid JWT no longer matches a stored slot.
	_, _, err = env.svc.RefreshTokens(context.Background(), pair.RefreshToken)
	require.ErrorIs(t, err, ErrRefreshTokenReused)
}

func TestForgotAndResetPassword(t *testing.T) {
	env := newAuthTestEnv(t)
	user := env.signUp(t)

	_, pair, err := env.svc.SignIn(context.Background(), SignInInput{Email: "ada@example.com", Password: "password123"})
	require.NoError(t, err)

	require.ErrorIs(t,
		env.svc.ForgotPassword(context.Background(), "nobody@example.com"),
		apperrors.ErrNotFound)

	require.NoError(t, env.svc.ForgotPassword(context.Background(), "ada@example.com"))
	token := env.mailer.lastToken(t)

	err = env.svc.ResetPassword(context.Background(), token, "newpass123", "different123")
	require.ErrorIs(t, err, apperrors.ErrPasswordMismatch)

	require.NoError(t, env.svc.ResetPassword(context.Background(), token, "newpass123", "newpass123"))

	stored := env.reload(t, user.ID)
	require.Empty(t, stored.ForgotPasswordTokenHash)
	require.Nil(t, stored.ForgotPasswordExpiry)
	require.Empty(t, stored.RefreshToken)

	// Pre-reset sessions stop refreshing.
	_, _, err = env.svc.RefreshTokens(context.Background(), pair.RefreshToken)
	require.ErrorIs(t, err, ErrRefreshTokenReused)

	// The consumed reset token is gone.
	err = env.svc.ResetPassword(context.Background(), token, "again123", "again123")
	require.ErrorIs(t, err, apperrors.ErrInvalidOrExpiredToken)

	// Old password rejected, new password accepted.
	_, _, err = env.svc.SignIn(context.Background(), SignInInput{Email: "ada@example.com", Password: "password123"})
	require.ErrorIs(t, err, apperrors.ErrInvalidCredentials)

	_, _, err = env.svc.SignIn(context.Background(), SignInInput{Email: "ada@example.com", Password: "newpass123"})
	require.NoError(t, err)
}

func TestResetPasswordExpiredToken(t *testing.T) {
	env := newAuthTestEnv(t)
	env.signUp(t)

	require.NoError(t, env.svc.ForgotPassword(context.Background(), "ada@example.com"))
	token := env.mailer.lastToken(t)

	*env.current = env.current.Add(21 * time.Minute)

	err := env.svc.ResetPassword(context.Background(), token, "newpass123", "newpass123")
	require.ErrorIs(t, err, apperrors.ErrInvalidOrExpiredToken)
}

func TestForgotPasswordOverwritesPendingReset(t *testing.T) {
	env := newAuthTestEnv(t)
	env.signUp(t)

	require.NoError(t, env.svc.ForgotPassword(context.Background(), "ada@example.com"))
	first := env.mailer.lastToken(t)

	require.NoError(t, env.svc.ForgotPassword(context.Background(), "ada@example.com"))
	second := env.mailer.lastToken(t)
	require.NotEqual(t, first, second)

	// Only the latest token is honoured.
	err := env.svc.ResetPassword(context.Background(), first, "newpass123", "newpass123")
	require.ErrorIs(t, err, apperrors.ErrInvalidOrExpiredToken)
	require.NoError(t, env.svc.ResetPassword(context.Background(), second, "newpass123", "newpass123"))
}

func TestGrantAdminAccess(t *testing.T) {
	env := newAuthTestEnv(t)
	user := env.signUp(t)

	err := env.svc.GrantAdminAccess(context.Background(), user.ID, "")
	require.ErrorContains(t, err, "access code is required")

	err = env.svc.GrantAdminAccess(context.Background(), user.ID, "wrong-code")
	require.ErrorIs(t, err, apperrors.ErrForbidden)
	require.False(t, env.reload(t, user.ID).IsAdmin)

	require.NoError(t, env.svc.GrantAdminAccess(context.Background(), user.ID, testAdminCode))
	require.True(t, env.reload(t, user.ID).IsAdmin)
}

func TestAvatarPlaceholder(t *testing.T) {
	require.Contains(t, avatarPlaceholder("Ada Lovelace"), "name=AL")
	require.Contains(t, avatarPlaceholder("ada"), "name=a")
	require.Contains(t, avatarPlaceholder(""), "name=U")
}
