package router

import (
	"errors"
	"io"
	"net/http"

	"decant_shop/internal/promo"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// broadcastDiscount 请求体可省略；邮件由 Dispatcher 异步限速发送。
func broadcastDiscount(svc *promo.Service, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Campaign string `json:"campaign"`
		}
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			fail(c, http.StatusBadRequest, "Datos inválidos")
			return
		}
		res, err := svc.BroadcastDiscount(c.Request.Context(), req.Campaign)
		if errors.Is(err, promo.ErrNoRecipients) {
			fail(c, http.StatusBadRequest, "No hay usuarios para enviar correos")
			return
		}
		if err != nil {
			internalError(c, logger, "discount broadcast", err)
			return
		}
		ok(c, http.StatusAccepted, gin.H{
			"message":  "Correos de descuento en cola",
			"campaign": res.Campaign,
			"queued":   res.Queued,
			"failed":   res.Failed,
		})
	}
}
