package middleware

import (
	"net/http"
	"strings"

	"decant_shop/internal/auth"

	"github.com/gin-gonic/gin"
)

const (
	TokenCookie = "token"
	ctxUserKey  = "auth.user"
)

// Principal 当前请求的登录身份。
type Principal struct {
	UserID  uint
	IsAdmin bool
}

// CurrentUser 取出登录身份；访客返回 ok=false。
func CurrentUser(c *gin.Context) (Principal, bool) {
	v, ok := c.Get(ctxUserKey)
	if !ok {
		return Principal{}, false
	}
	p, ok := v.(Principal)
	return p, ok
}

// tokenFrom 优先读 cookie，其次 Authorization: Bearer。
func tokenFrom(c *gin.Context) string {
	if v, err := c.Cookie(TokenCookie); err == nil && v != "" {
		return v
	}
	h := c.GetHeader("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// RequireAuth 未登录或令牌无效返回 401。
func RequireAuth(issuer *auth.Issuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := tokenFrom(c)
		if raw == "" {
			abort(c, http.StatusUnauthorized, "No autenticado")
			return
		}
		claims, err := issuer.Parse(raw)
		if err != nil {
			abort(c, http.StatusUnauthorized, "Sesión inválida o expirada")
			return
		}
		c.Set(ctxUserKey, Principal{UserID: claims.UserID, IsAdmin: claims.IsAdmin})
		c.Next()
	}
}

// OptionalAuth 令牌无效时按访客处理。
func OptionalAuth(issuer *auth.Issuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		if raw := tokenFrom(c); raw != "" {
			if claims, err := issuer.Parse(raw); err == nil {
				c.Set(ctxUserKey, Principal{UserID: claims.UserID, IsAdmin: claims.IsAdmin})
			}
		}
		c.Next()
	}
}

// RequireAdmin 需挂在 RequireAuth 之后。
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := CurrentUser(c)
		if !ok {
			abort(c, http.StatusUnauthorized, "No autenticado")
			return
		}
		if !p.IsAdmin {
			abort(c, http.StatusForbidden, "Acceso restringido a administradores")
			return
		}
		c.Next()
	}
}
