package router

import (
	"errors"
	"net/http"

	"decant_shop/internal/auth"
	"decant_shop/internal/config"
	"decant_shop/internal/middleware"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func setTokenCookie(c *gin.Context, cfg config.AppConfig, token string, maxAge int) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.TokenCookie, token, maxAge, "/", "", cfg.CookieSecure, true)
}

func register(svc *auth.Service, cfg config.AppConfig, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req auth.RegisterInput
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, "Datos inválidos")
			return
		}
		u, token, err := svc.Register(c.Request.Context(), req)
		switch {
		case errors.Is(err, auth.ErrInvalidInput):
			fail(c, http.StatusBadRequest, err.Error())
			return
		case errors.Is(err, auth.ErrEmailTaken):
			fail(c, http.StatusBadRequest, err.Error())
			return
		case err != nil:
			internalError(c, logger, "register", err)
			return
		}
		setTokenCookie(c, cfg, token, int(cfg.TokenTTL.Seconds()))
		ok(c, http.StatusCreated, gin.H{"user": u, "token": token})
	}
}

func login(svc *auth.Service, cfg config.AppConfig, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Email    string `json:"email" binding:"required"`
			Password string `json:"password" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, "Correo y contraseña son obligatorios")
			return
		}
		u, token, err := svc.Login(c.Request.Context(), req.Email, req.Password)
		if errors.Is(err, auth.ErrInvalidCredentials) {
			fail(c, http.StatusUnauthorized, err.Error())
			return
		}
		if err != nil {
			internalError(c, logger, "login", err)
			return
		}
		setTokenCookie(c, cfg, token, int(cfg.TokenTTL.Seconds()))
		ok(c, http.StatusOK, gin.H{"user": u, "token": token})
	}
}

func logout(cfg config.AppConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		setTokenCookie(c, cfg, "", -1)
		ok(c, http.StatusOK, gin.H{"message": "Sesión cerrada"})
	}
}

func me(svc *auth.Service, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		u, err := svc.Me(c.Request.Context(), mustUser(c).UserID)
		if errors.Is(err, auth.ErrUserNotFound) {
			fail(c, http.StatusUnauthorized, err.Error())
			return
		}
		if err != nil {
			internalError(c, logger, "me", err)
			return
		}
		ok(c, http.StatusOK, gin.H{"user": u})
	}
}
