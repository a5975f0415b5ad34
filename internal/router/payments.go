package router

import (
	"errors"
	"net/http"

	"decant_shop/internal/model"
	"decant_shop/internal/order"
	"decant_shop/internal/payment"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// mercadoPagoWebhook 渠道不解析响应体：没有任何写入的失败返回 500 让渠道重试，其余一律 200。
func mercadoPagoWebhook(confirmer *payment.Confirmer, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var ev payment.Event
		if err := c.ShouldBindJSON(&ev); err != nil {
			logger.Debug("webhook body not json, using query", zap.Error(err))
		}
		// 旧版 IPN 只在 query 里带 type/topic 与 id
		if ev.Type == "" {
			ev.Type = c.Query("type")
			if ev.Type == "" {
				ev.Type = c.Query("topic")
			}
		}
		if ev.Data.ID == "" {
			id := c.Query("data.id")
			if id == "" {
				id = c.Query("id")
			}
			ev.Data.ID = payment.EventID(id)
		}

		out, err := confirmer.Handle(c.Request.Context(), ev)
		if err != nil {
			logger.Error("webhook processing failed",
				zap.String("transaction_id", string(ev.Data.ID)), zap.Error(err))
			c.Status(http.StatusInternalServerError)
			return
		}
		logger.Info("webhook processed",
			zap.String("transaction_id", string(ev.Data.ID)), zap.String("outcome", string(out)))
		c.Status(http.StatusOK)
	}
}

// createIntent 为自己的待支付订单创建 Stripe PaymentIntent，金额取服务端订单总额。
func createIntent(orders *order.Service, intents payment.IntentCreator, currency string, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			OrderID string `json:"orderId" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, "orderId es obligatorio")
			return
		}
		o, err := orders.Get(c.Request.Context(), req.OrderID)
		if errors.Is(err, order.ErrNotFound) {
			fail(c, http.StatusNotFound, err.Error())
			return
		}
		if err != nil {
			internalError(c, logger, "load order for intent", err)
			return
		}
		p := mustUser(c)
		if o.UserID == nil || *o.UserID != p.UserID {
			fail(c, http.StatusForbidden, "El pedido no te pertenece")
			return
		}
		if o.Status != model.OrderPending {
			fail(c, http.StatusBadRequest, "El pedido no está pendiente de pago")
			return
		}
		secret, err := intents.CreateIntent(c.Request.Context(), o.OrderNo, o.Total, currency)
		if errors.Is(err, payment.ErrStripeDisabled) {
			fail(c, http.StatusServiceUnavailable, "Pago con tarjeta no disponible")
			return
		}
		if err != nil {
			internalError(c, logger, "create payment intent", err)
			return
		}
		ok(c, http.StatusOK, gin.H{"clientSecret": secret})
	}
}
