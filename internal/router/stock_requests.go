package router

import (
	"errors"
	"net/http"

	"decant_shop/internal/model"
	"decant_shop/internal/stockreq"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func createStockRequest(svc *stockreq.Service, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			ProductID uint `json:"productId" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, "productId es obligatorio")
			return
		}
		sr, err := svc.Create(c.Request.Context(), mustUser(c).UserID, req.ProductID)
		switch {
		case errors.Is(err, stockreq.ErrProductNotFound):
			fail(c, http.StatusNotFound, err.Error())
			return
		case errors.Is(err, stockreq.ErrDuplicate):
			fail(c, http.StatusBadRequest, err.Error())
			return
		case err != nil:
			internalError(c, logger, "create stock request", err)
			return
		}
		ok(c, http.StatusCreated, gin.H{"request": sr})
	}
}

// listStockRequests 管理员看全部，普通用户只看自己的。
func listStockRequests(svc *stockreq.Service, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		p := mustUser(c)
		var (
			list []model.StockRequest
			err  error
		)
		if p.IsAdmin {
			list, err = svc.ListAll(c.Request.Context())
		} else {
			list, err = svc.ListForUser(c.Request.Context(), p.UserID)
		}
		if err != nil {
			internalError(c, logger, "list stock requests", err)
			return
		}
		ok(c, http.StatusOK, gin.H{"requests": list})
	}
}

func updateStockRequest(svc *stockreq.Service, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, valid := paramID(c, "id")
		if !valid {
			return
		}
		var req struct {
			Status string `json:"status" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, "El estado es obligatorio")
			return
		}
		sr, err := svc.UpdateStatus(c.Request.Context(), id, model.StockRequestStatus(req.Status))
		switch {
		case errors.Is(err, stockreq.ErrInvalidStatus), errors.Is(err, stockreq.ErrDuplicate):
			fail(c, http.StatusBadRequest, err.Error())
			return
		case errors.Is(err, stockreq.ErrNotFound):
			fail(c, http.StatusNotFound, err.Error())
			return
		case err != nil:
			internalError(c, logger, "update stock request", err)
			return
		}
		ok(c, http.StatusOK, gin.H{"request": sr})
	}
}

func deleteStockRequest(svc *stockreq.Service, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, valid := paramID(c, "id")
		if !valid {
			return
		}
		err := svc.Delete(c.Request.Context(), id)
		if errors.Is(err, stockreq.ErrNotFound) {
			fail(c, http.StatusNotFound, err.Error())
			return
		}
		if err != nil {
			internalError(c, logger, "delete stock request", err)
			return
		}
		ok(c, http.StatusOK, nil)
	}
}
