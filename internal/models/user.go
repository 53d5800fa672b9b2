package models

import "time"

// AuthProvider identifies how an account authenticates. Only the email
// provider carries a password hash; the others are reserved for future
// OAuth sign-in and exist so the (email, provider) pair stays unique
// instead of email alone.
type AuthProvider string

const (
	ProviderEmail  AuthProvider = "email"
	ProviderGoogle AuthProvider = "google"
	ProviderGithub AuthProvider = "github"
)

// User is the credential-store record backing every auth flow.
type User struct {
	BaseModel

	Name   string `gorm:"not null" json:"name"`
	Avatar string `json:"avatar"`

	Email    string       `gorm:"uniqueIndex:idx_users_email_provider;not null" json:"email"`
	Provider AuthProvider `gorm:"uniqueIndex:idx_users_email_provider;not null;default:email" json:"provider"`

	// PasswordHash is set only when Provider == ProviderEmail.
	PasswordHash string `json:"-"`

	IsEmailVerified bool `gorm:"default:false" json:"is_email_verified"`

	// Verification token state, present only between sign-up and a
	// successful verification.
	EmailVerificationTokenHash string     `gorm:"index" json:"-"`
	EmailVerificationExpiry    *time.Time `json:"-"`

	// Reset token state, present only while a password reset is pending.
	ForgotPasswordTokenHash string     `gorm:"index" json:"-"`
	ForgotPasswordExpiry    *time.Time `json:"-"`

	// RefreshToken is the single currently-valid refresh token for the
	// user. Overwritten on every sign-in and refresh, cleared on sign-out
	// and password reset.
	RefreshToken string `json:"-"`

	IsAdmin bool `gorm:"default:false" json:"is_admin"`
}

// PublicUser is the safe projection returned from auth endpoints.
type PublicUser struct {
	ID              string       `json:"id"`
	Name            string       `json:"name"`
	Email           string       `json:"email"`
	Avatar          string       `json:"avatar"`
	Provider        AuthProvider `json:"provider"`
	IsEmailVerified bool         `json:"is_email_verified"`
	IsAdmin         bool         `json:"is_admin"`
}

// Public returns the projection of the user that is safe to serialise.
func (u *User) Public() PublicUser {
	return PublicUser{
		ID:              u.ID,
		Name:            u.Name,
		Email:           u.Email,
		Avatar:          u.Avatar,
		Provider:        u.Provider,
		IsEmailVerified: u.IsEmailVerified,
		IsAdmin:         u.IsAdmin,
	}
}
