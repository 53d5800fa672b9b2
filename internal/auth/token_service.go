package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/devfolio/api/internal/models"
	"github.com/devfolio/api/pkg/crypto"
)

const (
	// DefaultAccessTokenTTL is the fallback validity period for access tokens.
	DefaultAccessTokenTTL = 24 * time.Hour
	// DefaultRefreshTokenTTL is the fallback validity period for refresh tokens.
	DefaultRefreshTokenTTL = 10 * 24 * time.Hour
	// DefaultTemporaryTokenTTL is the fallback window for email verification
	// and password reset tokens.
	DefaultTemporaryTokenTTL = 20 * time.Minute

	// temporaryTokenBytes is the entropy of the client-facing temporary token.
	temporaryTokenBytes = 20
)

// Tagged verification failures. Internal callers and tests can distinguish
// the real cause; the HTTP layer collapses all of them into a single 401.
var (
	ErrTokenExpired          = errors.New("token: expired")
	ErrTokenMalformed        = errors.New("token: malformed")
	ErrTokenSignatureInvalid = errors.New("token: signature invalid")
	ErrTokenMissingSubject   = errors.New("token: missing subject claim")
)

// TokenConfig bundles the configuration required to build a TokenService.
type TokenConfig struct {
	AccessSecret      string
	RefreshSecret     string
	Issuer            string
	AccessTokenTTL    time.Duration
	RefreshTokenTTL   time.Duration
	TemporaryTokenTTL time.Duration
	Clock             func() time.Time
}

// AccessClaims are embedded in issued access tokens.
type AccessClaims struct {
	UserID string `json:"id"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// RefreshClaims are embedded in issued refresh tokens. Deliberately minimal:
// the user id is enough to locate the stored single-slot token.
type RefreshClaims struct {
	UserID string `json:"id"`
	jwt.RegisteredClaims
}

// TemporaryToken pairs the client-facing random token with the hash the
// server persists. Plain is emailed exactly once and never logged or stored.
type TemporaryToken struct {
	Plain     string
	Hash      string
	ExpiresAt time.Time
}

// TokenService issues and verifies the three token families of the auth
// core: signed access tokens, signed refresh tokens, and opaque single-use
// temporary tokens.
type TokenService struct {
	accessSecret  []byte
	refreshSecret []byte
	issuer        string
	accessTTL     time.Duration
	refreshTTL    time.Duration
	temporaryTTL  time.Duration
	now           func() time.Time
}

// NewTokenService constructs a TokenService from the supplied configuration.
// Access and refresh secrets must differ so a leak of one does not
// compromise the other family.
func NewTokenService(cfg TokenConfig) (*TokenService, error) {
	if strings.TrimSpace(cfg.AccessSecret) == "" {
		return nil, errors.New("token service: access secret must be provided")
	}
	if strings.TrimSpace(cfg.RefreshSecret) == "" {
		return nil, errors.New("token service: refresh secret must be provided")
	}
	if cfg.AccessSecret == cfg.RefreshSecret {
		return nil, errors.New("token service: access and refresh secrets must differ")
	}

	accessTTL := cfg.AccessTokenTTL
	if accessTTL <= 0 {
		accessTTL = DefaultAccessTokenTTL
	}
	refreshTTL := cfg.RefreshTokenTTL
	if refreshTTL <= 0 {
		refreshTTL = DefaultRefreshTokenTTL
	}
	temporaryTTL := cfg.TemporaryTokenTTL
	if temporaryTTL <= 0 {
		temporaryTTL = DefaultTemporaryTokenTTL
	}

	now := time.Now
	if cfg.Clock != nil {
		now = cfg.Clock
	}

	return &TokenService{
		accessSecret:  []byte(cfg.AccessSecret),
		refreshSecret: []byte(cfg.RefreshSecret),
		issuer:        cfg.Issuer,
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
		temporaryTTL:  temporaryTTL,
		now:           now,
	}, nil
}

// IssueAccessToken signs an access token carrying the user id and email.
func (s *TokenService) IssueAccessToken(user *models.User) (string, error) {
	if user == nil || user.ID == "" {
		return "", errors.New("token service: user id is required")
	}

	now := s.now()
	claims := &AccessClaims{
		UserID: user.ID,
		Email:  user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   user.ID,
			Issuer:    s.issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.accessSecret)
	if err != nil {
		return "", fmt.Errorf("token service: sign access token: %w", err)
	}
	return signed, nil
}

// IssueRefreshToken signs a refresh token carrying only the user id, using
// the distinct refresh secret.
func (s *TokenService) IssueRefreshToken(user *models.User) (string, error) {
	if user == nil || user.ID == "" {
		return "", errors.New("token service: user id is required")
	}

	now := s.now()
	// Each refresh token carries a unique id so two tokens issued within the
	// same second never collide; rotation relies on old and new differing.
	claims := &RefreshClaims{
		UserID: user.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   user.ID,
			Issuer:    s.issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.refreshTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.refreshSecret)
	if err != nil {
		return "", fmt.Errorf("token service: sign refresh token: %w", err)
	}
	return signed, nil
}

// VerifyAccessToken parses and validates an access token.
func (s *TokenService) VerifyAccessToken(tokenString string) (*AccessClaims, error) {
	var claims AccessClaims
	if err := s.parse(tokenString, s.accessSecret, &claims); err != nil {
		return nil, err
	}
	if claims.UserID == "" {
		return nil, ErrTokenMissingSubject
	}
	return &claims, nil
}

// VerifyRefreshToken parses and validates a refresh token.
func (s *TokenService) VerifyRefreshToken(tokenString string) (*RefreshClaims, error) {
	var claims RefreshClaims
	if err := s.parse(tokenString, s.refreshSecret, &claims); err != nil {
		return nil, err
	}
	if claims.UserID == "" {
		return nil, ErrTokenMissingSubject
	}
	return &claims, nil
}

func (s *TokenService) parse(tokenString string, secret []byte, claims jwt.Claims) error {
	if strings.TrimSpace(tokenString) == "" {
		return ErrTokenMalformed
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)

	_, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return secret, nil
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrTokenExpired, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return fmt.Errorf("%w: %v", ErrTokenSignatureInvalid, err)
	default:
		return fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}
}

// IssueTemporaryToken generates a fresh single-use token pair for email
// verification or password reset flows.
func (s *TokenService) IssueTemporaryToken() (TemporaryToken, error) {
	plain, err := crypto.RandomHex(temporaryTokenBytes)
	if err != nil {
		return TemporaryToken{}, fmt.Errorf("token service: generate temporary token: %w", err)
	}

	return TemporaryToken{
		Plain:     plain,
		Hash:      crypto.SHA256Hex(plain),
		ExpiresAt: s.now().Add(s.temporaryTTL),
	}, nil
}

// HashToken maps a client-supplied plain temporary token onto its stored form.
func (s *TokenService) HashToken(plain string) string {
	return crypto.SHA256Hex(plain)
}

// Now exposes the service clock so collaborators share one time source.
func (s *TokenService) Now() time.Time {
	return s.now()
}
