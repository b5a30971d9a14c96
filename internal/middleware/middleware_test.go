package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"tempmailhub/backend/internal/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(handlers ...gin.HandlerFunc) func(req *http.Request) *httptest.ResponseRecorder {
	router := gin.New()
	router.Use(handlers...)
	router.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	router.POST("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	return func(req *http.Request) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}
}

func TestAPIKeyAuth(t *testing.T) {
	t.Run("未配置密钥时直接放行", func(t *testing.T) {
		do := serve(APIKeyAuth(""))
		w := do(httptest.NewRequest(http.MethodGet, "/ping", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("缺失Authorization头被拒绝", func(t *testing.T) {
		do := serve(APIKeyAuth("secret"))
		w := do(httptest.NewRequest(http.MethodGet, "/ping", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), `"success":false`)
	})

	t.Run("非Bearer格式被拒绝", func(t *testing.T) {
		do := serve(APIKeyAuth("secret"))
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.Header.Set("Authorization", "secret")
		assert.Equal(t, http.StatusUnauthorized, do(req).Code)
	})

	t.Run("密钥不匹配被拒绝", func(t *testing.T) {
		do := serve(APIKeyAuth("secret"))
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.Header.Set("Authorization", "Bearer wrong")
		assert.Equal(t, http.StatusUnauthorized, do(req).Code)
	})

	t.Run("密钥匹配放行", func(t *testing.T) {
		do := serve(APIKeyAuth("secret"))
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.Header.Set("Authorization", "Bearer secret")
		assert.Equal(t, http.StatusOK, do(req).Code)
	})
}

func TestSecurityHeaders(t *testing.T) {
	do := serve(SecurityHeaders())
	w := do(httptest.NewRequest(http.MethodGet, "/ping", nil))

	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.NotEmpty(t, w.Header().Get("Referrer-Policy"))
}

func TestRequestLogger(t *testing.T) {
	// 只验证中间件不干扰请求处理
	do := serve(RequestLogger(zap.NewNop()))
	w := do(httptest.NewRequest(http.MethodGet, "/ping?q=1", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pong", w.Body.String())
}

func TestRequestSizeLimit(t *testing.T) {
	t.Run("超限请求被拒绝", func(t *testing.T) {
		do := serve(RequestSizeLimit(8))
		req := httptest.NewRequest(http.MethodPost, "/ping", nil)
		req.ContentLength = 1024
		w := do(req)
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	})

	t.Run("限内请求放行", func(t *testing.T) {
		do := serve(RequestSizeLimit(1024))
		req := httptest.NewRequest(http.MethodPost, "/ping", nil)
		req.ContentLength = 8
		assert.Equal(t, http.StatusOK, do(req).Code)
	})
}

func TestRateLimiter(t *testing.T) {
	t.Run("突发额度内放行额度外拦截", func(t *testing.T) {
		rl := NewRateLimiter(config.RateLimitConfig{Enabled: true, RequestsPerMinute: 60, Burst: 2}, nil)
		do := serve(rl.Handler())

		req := func() *http.Request {
			r := httptest.NewRequest(http.MethodGet, "/ping", nil)
			r.RemoteAddr = "10.0.0.1:1234"
			return r
		}

		assert.Equal(t, http.StatusOK, do(req()).Code)
		assert.Equal(t, http.StatusOK, do(req()).Code)
		w := do(req())
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Contains(t, w.Body.String(), "rate limit exceeded")
	})

	t.Run("不同IP互不影响", func(t *testing.T) {
		rl := NewRateLimiter(config.RateLimitConfig{Enabled: true, RequestsPerMinute: 60, Burst: 1}, nil)
		do := serve(rl.Handler())

		first := httptest.NewRequest(http.MethodGet, "/ping", nil)
		first.RemoteAddr = "10.0.0.1:1234"
		second := httptest.NewRequest(http.MethodGet, "/ping", nil)
		second.RemoteAddr = "10.0.0.2:1234"

		assert.Equal(t, http.StatusOK, do(first).Code)
		assert.Equal(t, http.StatusOK, do(second).Code)
	})
}
