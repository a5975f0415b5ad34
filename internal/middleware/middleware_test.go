package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"decant_shop/internal/auth"
	"decant_shop/internal/testutil"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func init() { gin.SetMode(gin.TestMode) }

func whoami(c *gin.Context) {
	p, ok := CurrentUser(c)
	c.JSON(http.StatusOK, gin.H{"user_id": p.UserID, "admin": p.IsAdmin, "auth": ok})
}

func do(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthGuards(t *testing.T) {
	iss := auth.NewIssuer("secret", time.Hour)
	userToken, err := iss.Issue(3, false)
	require.NoError(t, err)
	adminToken, err := iss.Issue(1, true)
	require.NoError(t, err)

	r := gin.New()
	r.GET("/me", RequireAuth(iss), whoami)
	r.GET("/opt", OptionalAuth(iss), whoami)
	r.GET("/admin", RequireAuth(iss), RequireAdmin(), whoami)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	assert.Equal(t, http.StatusUnauthorized, do(r, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer nope")
	w := do(r, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"success":false,"message":"Sesión inválida o expirada"}`, w.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(&http.Cookie{Name: TokenCookie, Value: userToken})
	w = do(r, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user_id":3,"admin":false,"auth":true}`, w.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/opt", nil)
	req.Header.Set("Authorization", "Bearer nope")
	w = do(r, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user_id":0,"admin":false,"auth":false}`, w.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+userToken)
	assert.Equal(t, http.StatusForbidden, do(r, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "bearer "+adminToken)
	assert.Equal(t, http.StatusOK, do(r, req).Code)
}

func TestRedisRateLimit(t *testing.T) {
	mr, rdb := testutil.NewRedis(t)
	iss := auth.NewIssuer("secret", time.Hour)
	token, err := iss.Issue(9, false)
	require.NoError(t, err)

	r := gin.New()
	r.POST("/checkout", OptionalAuth(iss), RedisRateLimit(rdb, "checkout", 2, time.Minute, zaptest.NewLogger(t)), whoami)

	guest := func() *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/checkout", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		return req
	}
	assert.Equal(t, http.StatusOK, do(r, guest()).Code)
	assert.Equal(t, http.StatusOK, do(r, guest()).Code)
	w := do(r, guest())
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), `"success":false`)

	// 登录用户单独计数
	req := guest()
	req.Header.Set("Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusOK, do(r, req).Code)
	assert.True(t, mr.Exists("rate_limit:checkout:user:9"))

	// Redis 不可用时放行
	mr.Close()
	assert.Equal(t, http.StatusOK, do(r, guest()).Code)
}

func TestCORS(t *testing.T) {
	r := gin.New()
	r.Use(CORS("https://shop.example"))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/x", nil)
	req.Header.Set("Origin", "https://shop.example")
	w := do(r, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://shop.example", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "https://evil.example")
	w = do(r, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
