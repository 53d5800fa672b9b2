package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	iauth "github.com/devfolio/api/internal/auth"
	"github.com/devfolio/api/internal/models"
	appErrors "github.com/devfolio/api/pkg/errors"
	"github.com/devfolio/api/pkg/response"
)

const (
	// AccessTokenCookie is the cookie checked before the Authorization header.
	AccessTokenCookie = "accessToken"

	CtxUserKey   = "currentUser"
	CtxUserIDKey = "userID"
)

// Session authenticates a request and loads the account behind it.
//
// The access token is read from the accessToken cookie first, then from a
// Bearer Authorization header. The token only proves identity at issue time,
// so the user row is reloaded on every request; a token for a deleted account
// is rejected even if the signature is still valid.
func Session(tokens *iauth.TokenService, db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractAccessToken(c)
		if token == "" {
			unauthorized(c)
			return
		}

		claims, err := tokens.VerifyAccessToken(token)
		if err != nil {
			// All verification failures collapse to 401
			unauthorized(c)
			return
		}

		var user models.User
		err = db.WithContext(c.Request.Context()).First(&user, "id = ?", claims.UserID).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				unauthorized(c)
				return
			}
			response.Error(c, appErrors.ErrInternalServer.WithInternal(err))
			c.Abort()
			return
		}

		c.Set(CtxUserKey, &user)
		c.Set(CtxUserIDKey, user.ID)
		c.Next()
	}
}

// RequireAdmin allows the request through only when the authenticated user
// holds the admin flag. It must run after Session.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := UserFromContext(c)
		if !ok {
			unauthorized(c)
			return
		}
		if !user.IsAdmin {
			response.Error(c, appErrors.ErrForbidden)
			c.Abort()
			return
		}
		c.Next()
	}
}

// UserFromContext returns the user loaded by the Session middleware.
func UserFromContext(c *gin.Context) (*models.User, bool) {
	value, ok := c.Get(CtxUserKey)
	if !ok {
		return nil, false
	}
	user, ok := value.(*models.User)
	return user, ok
}

func extractAccessToken(c *gin.Context) string {
	if cookie, err := c.Cookie(AccessTokenCookie); err == nil && cookie != "" {
		return cookie
	}

	authz := c.GetHeader("Authorization")
	if len(authz) > 7 && strings.EqualFold(authz[:7], "Bearer ") {
		return strings.TrimSpace(authz[7:])
	}
	return ""
}

func unauthorized(c *gin.Context) {
	c.Header("WWW-Authenticate", "Bearer")
	response.Error(c, appErrors.ErrUnauthorized)
	c.Abort()
}
