package api

import (
	"github.com/gin-gonic/gin"

	"github.com/devfolio/api/internal/handlers"
)

func registerAuthRoutes(api *gin.RouterGroup, h *handlers.AuthHandler, requireSession gin.HandlerFunc) {
	auth := api.Group("/auth")
	{
		auth.POST("/sign-up", h.SignUp)
		auth.POST("/sign-in", h.SignIn)
		auth.POST("/forget-password", h.ForgetPassword)
		auth.POST("/reset-password/:resetToken", h.ResetPassword)
		auth.POST("/verify-email/:verificationToken", h.VerifyEmail)
		auth.POST("/refresh-token", h.RefreshToken)

		auth.POST("/sign-out", requireSession, h.SignOut)
		auth.POST("/admin-access-request", requireSession, h.AdminAccessRequest)
		auth.GET("/verify-access", requireSession, h.VerifyAccess)
	}
}
