package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/devfolio/api/pkg/response"
)

// Health returns a status payload useful for readiness checks. When a
// database handle is supplied, its connectivity is reported alongside.
func Health(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		payload := gin.H{"status": "ok"}

		if db != nil {
			dbStatus := "ok"
			sqlDB, err := db.DB()
			if err == nil {
				err = sqlDB.PingContext(requestContext(c))
			}
			if err != nil {
				dbStatus = "unreachable"
				payload["status"] = "degraded"
			}
			payload["database"] = dbStatus
		}

		response.Success(c, http.StatusOK, payload)
	}
}
