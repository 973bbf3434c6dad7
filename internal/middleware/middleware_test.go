package middleware

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/andybalholm/brotli"
	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-lms/internal/config"
	"github.com/stemsi/exstem-lms/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newAuth(t *testing.T) *service.AuthService {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return service.NewAuthService(&config.Config{
		JWTSecret:  "middleware-secret",
		JWTExpiry:  time.Hour,
		BcryptCost: 4,
	}, rdb)
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequireStudentJWT(t *testing.T) {
	auth := newAuth(t)
	token, err := auth.GenerateStudentToken(context.Background(), 7, "0007")
	require.NoError(t, err)

	r := gin.New()
	r.GET("/me", RequireStudentJWT(auth), CheckSingleDeviceSession(auth), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"id": GetClaims(c).UserID})
	})

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	w := serve(r, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "TOKEN_REQUIRED")

	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	w = serve(r, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "TOKEN_INVALID")

	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = serve(r, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"id":7}`, w.Body.String())

	// Resetting the login session revokes the token.
	require.NoError(t, auth.ResetStudentSession(context.Background(), 7))
	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = serve(r, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "SESSION_INVALIDATED")
}

func TestRequireStudentWSAuth(t *testing.T) {
	auth := newAuth(t)
	token, err := auth.GenerateStudentToken(context.Background(), 3, "0003")
	require.NoError(t, err)

	r := gin.New()
	r.GET("/ws", RequireStudentWSAuth(auth), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	w := serve(r, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = serve(r, httptest.NewRequest(http.MethodGet, "/ws?token="+token, nil))
	assert.Equal(t, http.StatusNoContent, w.Code)

	require.NoError(t, auth.ResetStudentSession(context.Background(), 3))
	w = serve(r, httptest.NewRequest(http.MethodGet, "/ws?token="+token, nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRateLimiterRefillsPerInterval(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rl := NewRateLimiter(2, time.Minute, clock)

	r := gin.New()
	r.POST("/upload", rl.Middleware(), func(c *gin.Context) { c.Status(http.StatusOK) })

	hit := func(ip string) int {
		req := httptest.NewRequest(http.MethodPost, "/upload", nil)
		req.RemoteAddr = ip + ":1234"
		return serve(r, req).Code
	}

	assert.Equal(t, http.StatusOK, hit("10.0.0.1"))
	assert.Equal(t, http.StatusOK, hit("10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, hit("10.0.0.1"))
	assert.Equal(t, http.StatusOK, hit("10.0.0.2"))

	clock.Advance(time.Minute)
	assert.Equal(t, http.StatusOK, hit("10.0.0.1"))
}

func TestRateLimiterForgetsIdleVisitors(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rl := NewRateLimiter(1, time.Hour, clock)

	assert.True(t, rl.allow("ip:a"))
	assert.False(t, rl.allow("ip:a"))

	clock.Advance(visitorTTL + time.Minute)
	assert.True(t, rl.allow("ip:b"))

	rl.mu.Lock()
	_, kept := rl.visitors["ip:a"]
	rl.mu.Unlock()
	assert.False(t, kept)
}

func TestBrotliCompressesLargeBodies(t *testing.T) {
	body := strings.Repeat(`{"question":"What is the unit of force?"}`, 100)

	r := gin.New()
	r.Use(Brotli())
	r.GET("/big", func(c *gin.Context) { c.Data(http.StatusOK, "application/json", []byte(body)) })
	r.GET("/small", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/file", func(c *gin.Context) { c.Data(http.StatusOK, "application/pdf", []byte(body)) })

	req := httptest.NewRequest(http.MethodGet, "/big", nil)
	req.Header.Set("Accept-Encoding", "gzip, br;q=1.0")
	w := serve(r, req)
	require.Equal(t, "br", w.Header().Get("Content-Encoding"))
	decoded, err := io.ReadAll(brotli.NewReader(bytes.NewReader(w.Body.Bytes())))
	require.NoError(t, err)
	assert.Equal(t, body, string(decoded))

	req = httptest.NewRequest(http.MethodGet, "/small", nil)
	req.Header.Set("Accept-Encoding", "br")
	w = serve(r, req)
	assert.Empty(t, w.Header().Get("Content-Encoding"))
	assert.Equal(t, "ok", w.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/file", nil)
	req.Header.Set("Accept-Encoding", "br")
	w = serve(r, req)
	assert.Empty(t, w.Header().Get("Content-Encoding"))
	assert.Equal(t, body, w.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/big", nil)
	w = serve(r, req)
	assert.Empty(t, w.Header().Get("Content-Encoding"))
}

func TestNoStore(t *testing.T) {
	r := gin.New()
	r.GET("/state", NoStore(), func(c *gin.Context) { c.Status(http.StatusOK) })
	w := serve(r, httptest.NewRequest(http.MethodGet, "/state", nil))
	assert.Equal(t, "private, no-store", w.Header().Get("Cache-Control"))
}

func TestImmutableFiles(t *testing.T) {
	r := gin.New()
	r.GET("/uploads/a.pdf", ImmutableFiles(time.Hour), func(c *gin.Context) { c.Status(http.StatusOK) })
	w := serve(r, httptest.NewRequest(http.MethodGet, "/uploads/a.pdf", nil))
	assert.Equal(t, "private, max-age=3600, immutable", w.Header().Get("Cache-Control"))
}

func TestSingleDeviceSessionRedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	auth := service.NewAuthService(&config.Config{JWTSecret: "s", JWTExpiry: time.Hour}, rdb)

	token, err := auth.GenerateStudentToken(context.Background(), 11, "0011")
	require.NoError(t, err)

	r := gin.New()
	r.GET("/me", RequireStudentJWT(auth), CheckSingleDeviceSession(auth), func(c *gin.Context) { c.Status(http.StatusOK) })
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	mr.Close()
	w := serve(r, req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
