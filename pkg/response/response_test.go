package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	appErrors "github.com/devfolio/api/pkg/errors"
)

func performRequest(handler gin.HandlerFunc) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/test", handler)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	r.ServeHTTP(w, req)
	return w
}

func TestSuccess(t *testing.T) {
	w := performRequest(func(c *gin.Context) {
		Success(c, http.StatusCreated, gin.H{"id": "user-1"})
	})

	require.Equal(t, http.StatusCreated, w.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	require.Nil(t, resp.Error)
}

func TestErrorWithAppError(t *testing.T) {
	w := performRequest(func(c *gin.Context) {
		Error(c, appErrors.ErrInvalidOrExpiredToken)
	})

	require.Equal(t, appErrors.StatusInvalidOrExpiredToken, w.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.False(t, resp.Success)
	require.Equal(t, "INVALID_OR_EXPIRED_TOKEN", resp.Error.Code)
}

func TestErrorWithGenericError(t *testing.T) {
	w := performRequest(func(c *gin.Context) {
		Error(c, errors.New("database exploded"))
	})

	require.Equal(t, http.StatusInternalServerError, w.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "INTERNAL_SERVER_ERROR", resp.Error.Code)
	// Internal details must never leak to clients.
	require.NotContains(t, w.Body.String(), "exploded")
}

func TestErrorWithNil(t *testing.T) {
	w := performRequest(func(c *gin.Context) {
		Error(c, nil)
	})

	require.Equal(t, http.StatusInternalServerError, w.Code)
}
