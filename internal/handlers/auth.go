package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/devfolio/api/internal/middleware"
	"github.com/devfolio/api/internal/services"
	appErrors "github.com/devfolio/api/pkg/errors"
	"github.com/devfolio/api/pkg/response"
)

// RefreshTokenCookie is the cookie carrying the refresh token. It is read as
// a fallback when the refresh request body carries no token.
const RefreshTokenCookie = "refreshToken"

// CookieConfig controls the attributes of the auth cookies issued alongside
// token responses.
type CookieConfig struct {
	// Secure should be true in production so cookies travel over HTTPS only.
	Secure bool
	Domain string

	AccessMaxAge  time.Duration
	RefreshMaxAge time.Duration
}

// AuthHandler exposes the account lifecycle over HTTP: registration, email
// verification, sign-in/out, password reset, token refresh and admin
// elevation.
type AuthHandler struct {
	svc     *services.AuthService
	cookies CookieConfig
}

func NewAuthHandler(svc *services.AuthService, cookies CookieConfig) *AuthHandler {
	return &AuthHandler{svc: svc, cookies: cookies}
}

type signUpRequest struct {
	Name     string `json:"name" validate:"required,min=2,max=100"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

// POST /api/v1/auth/sign-up
func (h *AuthHandler) SignUp(c *gin.Context) {
	var req signUpRequest
	if !bindAndValidate(c, &req) {
		return
	}

	user, err := h.svc.SignUp(requestContext(c), services.SignUpInput{
		Name:     strings.TrimSpace(req.Name),
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"user": user.Public()})
}

type signInRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// POST /api/v1/auth/sign-in
func (h *AuthHandler) SignIn(c *gin.Context) {
	var req signInRequest
	if !bindAndValidate(c, &req) {
		return
	}

	user, pair, err := h.svc.SignIn(requestContext(c), services.SignInInput{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	h.setAuthCookies(c, pair)
	response.Success(c, http.StatusOK, gin.H{
		"user":         user.Public(),
		"accessToken":  pair.AccessToken,
		"refreshToken": pair.RefreshToken,
	})
}

// POST /api/v1/auth/sign-out
func (h *AuthHandler) SignOut(c *gin.Context) {
	user, ok := middleware.UserFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	if err := h.svc.SignOut(requestContext(c), user.ID); err != nil {
		response.Error(c, err)
		return
	}

	h.clearAuthCookies(c)
	response.Success(c, http.StatusOK, gin.H{})
}

type forgetPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// POST /api/v1/auth/forget-password
func (h *AuthHandler) ForgetPassword(c *gin.Context) {
	var req forgetPasswordRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.svc.ForgotPassword(requestContext(c), req.Email); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{})
}

type resetPasswordRequest struct {
	NewPassword     string `json:"newPassword" validate:"required,min=8,max=72"`
	ConfirmPassword string `json:"confirmPassword" validate:"required"`
}

// POST /api/v1/auth/reset-password/:resetToken
func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var req resetPasswordRequest
	if !bindAndValidate(c, &req) {
		return
	}

	token := strings.TrimSpace(c.Param("resetToken"))
	if err := h.svc.ResetPassword(requestContext(c), token, req.NewPassword, req.ConfirmPassword); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{})
}

// POST /api/v1/auth/verify-email/:verificationToken
func (h *AuthHandler) VerifyEmail(c *gin.Context) {
	token := strings.TrimSpace(c.Param("verificationToken"))
	if err := h.svc.VerifyEmail(requestContext(c), token); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{})
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// POST /api/v1/auth/refresh-token
//
// The refresh token is taken from the request body when present, falling
// back to the refreshToken cookie set at sign-in.
func (h *AuthHandler) RefreshToken(c *gin.Context) {
	var req refreshRequest
	if c.Request.Body != nil && c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, appErrors.NewBadRequest("invalid JSON payload"))
			return
		}
	}

	token := strings.TrimSpace(req.RefreshToken)
	if token == "" {
		if cookie, err := c.Cookie(RefreshTokenCookie); err == nil {
			token = strings.TrimSpace(cookie)
		}
	}

	_, pair, err := h.svc.RefreshTokens(requestContext(c), token)
	if err != nil {
		h.clearAuthCookies(c)
		response.Error(c, err)
		return
	}

	h.setAuthCookies(c, pair)
	response.Success(c, http.StatusOK, gin.H{
		"accessToken":  pair.AccessToken,
		"refreshToken": pair.RefreshToken,
	})
}

type adminAccessRequest struct {
	Code string `json:"code" validate:"required"`
}

// POST /api/v1/auth/admin-access-request
func (h *AuthHandler) AdminAccessRequest(c *gin.Context) {
	user, ok := middleware.UserFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req adminAccessRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.svc.GrantAdminAccess(requestContext(c), user.ID, req.Code); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{})
}

// GET /api/v1/auth/verify-access
func (h *AuthHandler) VerifyAccess(c *gin.Context) {
	user, ok := middleware.UserFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"isAdmin": user.IsAdmin})
}

func (h *AuthHandler) setAuthCookies(c *gin.Context, pair services.TokenPair) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.AccessTokenCookie, pair.AccessToken,
		cookieMaxAge(h.cookies.AccessMaxAge), "/", h.cookies.Domain, h.cookies.Secure, true)
	c.SetCookie(RefreshTokenCookie, pair.RefreshToken,
		cookieMaxAge(h.cookies.RefreshMaxAge), "/", h.cookies.Domain, h.cookies.Secure, true)
}

func (h *AuthHandler) clearAuthCookies(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.AccessTokenCookie, "", -1, "/", h.cookies.Domain, h.cookies.Secure, true)
	c.SetCookie(RefreshTokenCookie, "", -1, "/", h.cookies.Domain, h.cookies.Secure, true)
}

func cookieMaxAge(ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}
	return int(ttl.Seconds())
}
