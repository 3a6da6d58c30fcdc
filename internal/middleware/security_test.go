package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"monsoon/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func okRouter(middleware ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(middleware...)
	r.GET("/ok", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	return r
}

func get(r http.Handler, target string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimitMiddleware(t *testing.T) {
	r := okRouter(RateLimitMiddleware(NewRateLimiterWith(rate.Every(time.Hour), 2)))

	assert.Equal(t, http.StatusOK, get(r, "/ok", nil).Code)
	assert.Equal(t, http.StatusOK, get(r, "/ok", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, get(r, "/ok", nil).Code)
}

func TestRateLimiterPerIP(t *testing.T) {
	rl := NewSubscribeRateLimiter()
	assert.Same(t, rl.GetLimiter("10.0.0.1"), rl.GetLimiter("10.0.0.1"))
	assert.NotSame(t, rl.GetLimiter("10.0.0.1"), rl.GetLimiter("10.0.0.2"))
}

func TestSecurityHeadersMiddleware(t *testing.T) {
	w := get(okRouter(SecurityHeadersMiddleware()), "/ok", nil)
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
}

func TestOriginAllowed(t *testing.T) {
	tests := []struct {
		name    string
		origin  string
		allowed []string
		want    bool
	}{
		{"empty list accepts any origin", "http://x.test", nil, true},
		{"empty list rejects missing origin", "", nil, false},
		{"exact match", "http://a.test/", []string{"http://a.test"}, true},
		{"no match", "http://b.test", []string{"http://a.test"}, false},
		{"wildcard", "http://b.test", []string{"*"}, true},
		{"host only entry", "https://a.test:8443", []string{"a.test:8443"}, true},
		{"app scheme", "monsoon://localhost", []string{"monsoon://app"}, true},
		{"null origin for app", "null", []string{"monsoon://app"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, OriginAllowed(tt.origin, tt.allowed))
		})
	}
}

func TestCORSMiddleware(t *testing.T) {
	r := okRouter(CORSMiddleware([]string{"http://a.test"}))

	w := get(r, "/ok", map[string]string{"Origin": "http://a.test"})
	assert.Equal(t, "http://a.test", w.Header().Get("Access-Control-Allow-Origin"))

	w = get(r, "/ok", map[string]string{"Origin": "http://evil.test"})
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))

	req := httptest.NewRequest(http.MethodOptions, "/ok", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestIPWhitelist(t *testing.T) {
	wl := NewIPWhitelist([]string{"10.0.0.5"})
	assert.True(t, wl.IsAllowed("127.0.0.1"))
	assert.True(t, wl.IsAllowed("10.0.0.5"))
	assert.True(t, wl.IsAllowed("10.0.0.5:4242"))
	assert.False(t, wl.IsAllowed("10.0.0.6"))

	assert.True(t, NewIPWhitelist(nil).IsAllowed("203.0.113.9"))

	// httptest requests come from 192.0.2.1
	r := okRouter(IPWhitelistMiddleware(wl))
	assert.Equal(t, http.StatusForbidden, get(r, "/ok", nil).Code)
}

func TestTokenAuthMiddleware(t *testing.T) {
	services.InitAuthService("middleware-test-secret-long-enough-for-hs256", time.Hour)
	token, err := services.GenerateToken("sampler-01")
	require.NoError(t, err)

	r := okRouter(TokenAuthMiddleware())

	assert.Equal(t, http.StatusUnauthorized, get(r, "/ok", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, get(r, "/ok?token=a.b.c-but-not-a-real-token", nil).Code)
	assert.Equal(t, http.StatusOK, get(r, "/ok?token="+token, nil).Code)
	assert.Equal(t, http.StatusOK, get(r, "/ok", map[string]string{"Authorization": "Bearer " + token}).Code)
}

func TestInputValidator(t *testing.T) {
	v := NewInputValidator()

	assert.True(t, v.ValidateServerName("sampler-01.local"))
	assert.False(t, v.ValidateServerName(""))
	assert.False(t, v.ValidateServerName("bad name"))

	assert.True(t, v.ValidateToken("aaaaaaaaaa.bbbbbbbbbb.cccccccccc"))
	assert.False(t, v.ValidateToken("short"))
	assert.False(t, v.ValidateToken("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"))
}
