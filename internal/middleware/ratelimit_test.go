package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(RateLimit(NewMemoryRateStore(), 2, 100*time.Millisecond))
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	// First two requests should pass
	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		r.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)
	}

	// Third request within the window is rejected
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	time.Sleep(120 * time.Millisecond)

	// After the window resets, requests pass again
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/ping", nil)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestScopedRateLimitIndependentCounters(t *testing.T) {
	gin.SetMode(gin.TestMode)

	store := NewMemoryRateStore()
	r := gin.New()
	r.Use(RateLimit(store, 10, time.Minute))
	auth := r.Group("/auth")
	auth.Use(ScopedRateLimit(store, "auth", 1, time.Minute))
	auth.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	r.GET("/open", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/ping", nil))
	require.Equal(t, http.StatusOK, w.Code)

	// Second hit trips the auth budget even though the global one has room
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/ping", nil))
	require.Equal(t, http.StatusTooManyRequests, w.Code)

	// Routes outside the group only see the global budget
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/open", nil))
	require.Equal(t, http.StatusOK, w.Code)
}

type failingRateStore struct{}

func (failingRateStore) Increment(context.Context, string, time.Duration) (int, time.Duration, error) {
	return 0, 0, context.DeadlineExceeded
}

func TestRateLimitStoreFailureFailsOpen(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(RateLimit(failingRateStore{}, 1, time.Minute))
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		r.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)
	}
}

func TestMemoryRateStoreWindow(t *testing.T) {
	store := NewMemoryRateStore()
	ctx := context.Background()

	count, ttl, err := store.Increment(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.Equal(t, 1, count)
	require.Greater(t, ttl, time.Duration(0))

	count, _, err = store.Increment(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.Equal(t, 2, count)
}
