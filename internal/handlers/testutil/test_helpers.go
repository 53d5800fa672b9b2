package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/devfolio/api/internal/api"
	"github.com/devfolio/api/internal/app"
	iauth "github.com/devfolio/api/internal/auth"
	"github.com/devfolio/api/internal/database"
	"github.com/devfolio/api/internal/middleware"
	"github.com/devfolio/api/internal/services"
	"github.com/devfolio/api/pkg/mail"
	"github.com/devfolio/api/pkg/response"
)

// AdminAccessCode is the elevation code wired into every test environment.
const AdminAccessCode = "integration-admin-code"

// RecordingMailer captures outbound messages so tests can extract the
// emailed verification and reset tokens.
type RecordingMailer struct {
	mu       sync.Mutex
	Messages []mail.Message
}

func (m *RecordingMailer) Send(_ context.Context, msg mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Messages = append(m.Messages, msg)
	return nil
}

// LastToken extracts the trailing token segment from the link in the most
// recently sent message.
func (m *RecordingMailer) LastToken(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.Messages, "no email was sent")

	body := m.Messages[len(m.Messages)-1].Body
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "http") {
			parts := strings.Split(line, "/")
			return parts[len(parts)-1]
		}
	}
	t.Fatalf("no link found in email body:\n%s", body)
	return ""
}

// Env encapsulates a fully-wired API instance backed by an in-memory
// database for handler tests.
type Env struct {
	T      *testing.T
	DB     *gorm.DB
	Router *gin.Engine
	Tokens *iauth.TokenService
	Mailer *RecordingMailer
}

// NewEnv provisions a fresh handler test environment with migrations applied.
func NewEnv(t *testing.T) *Env {
	t.Helper()

	gin.SetMode(gin.TestMode)

	db, err := database.Open(database.Config{Driver: "sqlite", Path: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))
	t.Cleanup(func() {
		require.NoError(t, db.Exec("DELETE FROM users").Error)
	})

	cfg := &app.Config{
		Auth: app.AuthConfig{
			AccessTokenSecret:  "integration-access-secret",
			RefreshTokenSecret: "integration-refresh-secret",
			Issuer:             "test-suite",
			AdminAccessCode:    AdminAccessCode,
			BcryptCost:         4,
		},
		URLs: app.URLConfig{
			VerifyEmail:   "http://localhost:3000/verify-email",
			ResetPassword: "http://localhost:3000/reset-password",
		},
	}

	tokens, err := iauth.NewTokenService(cfg.Auth.TokenServiceConfig())
	require.NoError(t, err)

	mailer := &RecordingMailer{}
	authSvc, err := services.NewAuthService(db, tokens, mailer, cfg.AuthServiceConfig())
	require.NoError(t, err)

	router, err := api.NewRouter(db, tokens, cfg, authSvc, middleware.NewMemoryRateStore())
	require.NoError(t, err)

	return &Env{
		T:      t,
		DB:     db,
		Router: router,
		Tokens: tokens,
		Mailer: mailer,
	}
}

// APIResponse represents the canonical API envelope returned by handlers.
type APIResponse struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *response.ErrorInfo `json:"error"`
}

// DecodeResponse parses the standard API response object from a recorder.
func DecodeResponse(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

// DecodeInto unmarshals the data payload into the provided destination.
func DecodeInto[T any](t *testing.T, raw json.RawMessage, dest *T) {
	t.Helper()
	if dest == nil {
		t.Fatal("destination must not be nil")
	}
	require.NoError(t, json.Unmarshal(raw, dest))
}

// UserPayload captures the subset of user fields returned from auth
// endpoints.
type UserPayload struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Email           string `json:"email"`
	Avatar          string `json:"avatar"`
	Provider        string `json:"provider"`
	IsEmailVerified bool   `json:"is_email_verified"`
	IsAdmin         bool   `json:"is_admin"`
}

// SignInResult bundles the JSON response from POST /api/v1/auth/sign-in.
type SignInResult struct {
	User         UserPayload `json:"user"`
	AccessToken  string      `json:"accessToken"`
	RefreshToken string      `json:"refreshToken"`
}

// SignUp registers a user and returns the verification token captured from
// the outbound email.
func (e *Env) SignUp(name, email, password string) (UserPayload, string) {
	e.T.Helper()

	w := e.Request(http.MethodPost, "/api/v1/auth/sign-up", map[string]string{
		"name":     name,
		"email":    email,
		"password": password,
	}, "")
	require.Equal(e.T, http.StatusCreated, w.Code, w.Body.String())

	resp := DecodeResponse(e.T, w)
	require.True(e.T, resp.Success, w.Body.String())

	var data struct {
		User UserPayload `json:"user"`
	}
	DecodeInto(e.T, resp.Data, &data)

	return data.User, e.Mailer.LastToken(e.T)
}

// SignIn authenticates and returns the issued token pair with the user.
func (e *Env) SignIn(email, password string) SignInResult {
	e.T.Helper()

	w := e.Request(http.MethodPost, "/api/v1/auth/sign-in", map[string]string{
		"email":    email,
		"password": password,
	}, "")
	require.Equal(e.T, http.StatusOK, w.Code, w.Body.String())

	resp := DecodeResponse(e.T, w)
	require.True(e.T, resp.Success, w.Body.String())

	var result SignInResult
	DecodeInto(e.T, resp.Data, &result)
	require.NotEmpty(e.T, result.AccessToken)
	require.NotEmpty(e.T, result.RefreshToken)
	return result
}

// Request executes an HTTP request against the test router, applying JSON
// encoding and the bearer token automatically.
func (e *Env) Request(method, path string, body any, token string) *httptest.ResponseRecorder {
	e.T.Helper()

	var buf *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(e.T, err)
		buf = bytes.NewBuffer(data)
	} else {
		buf = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, path, buf)
	require.NoError(e.T, err)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}

// Cookie returns the named cookie from a recorded response, or nil.
func Cookie(w *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}
