package router

import (
	"errors"
	"net/http"

	"decant_shop/internal/model"
	"decant_shop/internal/order"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func listMyOrders(orders *order.Service, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := orders.ListForUser(c.Request.Context(), mustUser(c).UserID)
		if err != nil {
			internalError(c, logger, "list orders", err)
			return
		}
		ok(c, http.StatusOK, gin.H{"orders": list})
	}
}

func listAllOrders(orders *order.Service, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var status model.OrderStatus
		if s := c.Query("status"); s != "" {
			st, valid := model.ParseOrderStatus(s)
			if !valid {
				fail(c, http.StatusBadRequest, order.ErrInvalidStatus.Error())
				return
			}
			status = st
		}
		list, err := orders.ListAll(c.Request.Context(), status)
		if err != nil {
			internalError(c, logger, "list all orders", err)
			return
		}
		ok(c, http.StatusOK, gin.H{"orders": list})
	}
}

// getOrder 本人或管理员可查看。
func getOrder(orders *order.Service, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		o, err := orders.Get(c.Request.Context(), c.Param("orderId"))
		if errors.Is(err, order.ErrNotFound) {
			fail(c, http.StatusNotFound, err.Error())
			return
		}
		if err != nil {
			internalError(c, logger, "get order", err)
			return
		}
		p := mustUser(c)
		if !p.IsAdmin && (o.UserID == nil || *o.UserID != p.UserID) {
			// 不暴露他人订单是否存在
			fail(c, http.StatusNotFound, order.ErrNotFound.Error())
			return
		}
		ok(c, http.StatusOK, gin.H{"order": o})
	}
}

func updateOrderStatus(orders *order.Service, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Status string `json:"status" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, "El estado es obligatorio")
			return
		}
		o, changed, err := orders.UpdateStatus(c.Request.Context(), c.Param("orderId"), model.OrderStatus(req.Status))
		switch {
		case errors.Is(err, order.ErrNotFound):
			fail(c, http.StatusNotFound, err.Error())
			return
		case errors.Is(err, order.ErrInvalidStatus), errors.Is(err, order.ErrIllegalTransition):
			fail(c, http.StatusBadRequest, err.Error())
			return
		case errors.Is(err, order.ErrConcurrentUpdate):
			fail(c, http.StatusConflict, err.Error())
			return
		case err != nil:
			internalError(c, logger, "update order status", err)
			return
		}
		ok(c, http.StatusOK, gin.H{"order": o, "changed": changed})
	}
}

func deleteOrder(orders *order.Service, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		err := orders.Delete(c.Request.Context(), c.Param("orderId"))
		if errors.Is(err, order.ErrNotFound) {
			fail(c, http.StatusNotFound, "Orden no encontrada")
			return
		}
		if err != nil {
			internalError(c, logger, "delete order", err)
			return
		}
		ok(c, http.StatusOK, gin.H{"message": "Orden eliminada"})
	}
}
