package router

import (
	"net/http"
	"strconv"

	"decant_shop/internal/middleware"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const msgInternal = "Error interno del servidor"

func ok(c *gin.Context, status int, body gin.H) {
	if body == nil {
		body = gin.H{}
	}
	body["success"] = true
	c.JSON(status, body)
}

func fail(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"success": false, "message": msg})
}

// internalError 记录原始错误，客户端只看到通用提示。
func internalError(c *gin.Context, logger *zap.Logger, msg string, err error) {
	logger.Error(msg,
		zap.String("trace_id", middleware.GetTraceID(c.Request.Context())),
		zap.String("path", c.FullPath()),
		zap.Error(err))
	_ = c.Error(err)
	fail(c, http.StatusInternalServerError, msgInternal)
}

func paramID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil || id == 0 {
		fail(c, http.StatusBadRequest, "ID inválido")
		return 0, false
	}
	return uint(id), true
}

// mustUser 仅用于 RequireAuth 之后的处理函数。
func mustUser(c *gin.Context) middleware.Principal {
	p, _ := middleware.CurrentUser(c)
	return p
}
