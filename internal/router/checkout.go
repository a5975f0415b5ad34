package router

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"decant_shop/internal/checkout"
	"decant_shop/internal/inventory"
	"decant_shop/internal/middleware"
	"decant_shop/internal/model"
	rediskey "decant_shop/pkg/redis"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const idempotencyTTL = 24 * time.Hour

type checkoutRequest struct {
	Items           []checkout.CartLine `json:"items" binding:"dive"`
	DeliveryMethod  string              `json:"deliveryMethod"`
	ShippingAddress checkout.Address    `json:"shippingAddress"`
	Email           string              `json:"email"`
}

// createCheckout 结账入口。带 Idempotency-Key 时同一键只会创建一个订单：
// 处理中返回 409，已成功直接返回之前的结果。
func createCheckout(svc *checkout.Service, rdb *rd.Client, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req checkoutRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, "Solicitud inválida")
			return
		}

		var (
			identity checkout.Identity
			scope    string
		)
		if p, ok := middleware.CurrentUser(c); ok {
			identity = checkout.AuthenticatedCheckout{UserID: p.UserID}
			scope = fmt.Sprintf("user:%d", p.UserID)
		} else {
			identity = checkout.GuestCheckout{Email: req.Email}
			scope = "guest:" + strings.ToLower(strings.TrimSpace(req.Email))
		}

		ctx := c.Request.Context()
		idemKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
		stateKey := ""
		if idemKey != "" && rdb != nil {
			key := rediskey.CheckoutStateKey(scope, idemKey)
			claimed, err := rediskey.ClaimCheckout(ctx, rdb, key, idempotencyTTL)
			switch {
			case err != nil:
				// Redis 不可用时不做幂等，继续下单
				logger.Warn("idempotency store unavailable", zap.Error(err))
			case claimed:
				stateKey = key
			default:
				replayCheckout(c, rdb, key, logger)
				return
			}
		}

		res, err := svc.Checkout(ctx, checkout.Request{
			Lines:    req.Items,
			Delivery: model.DeliveryMethod(req.DeliveryMethod),
			Address:  req.ShippingAddress,
			Identity: identity,
		})
		if stateKey != "" {
			st := rediskey.CheckoutState{Status: rediskey.CheckoutSuccess}
			if err != nil {
				// 只保存返回给客户端的内容，原始错误仅写日志
				code, msg := checkoutFailure(err)
				st = rediskey.CheckoutState{Status: rediskey.CheckoutFailed, Code: code, Reason: msg}
			} else {
				st.OrderNo, st.CheckoutURL = res.OrderNo, res.CheckoutURL
			}
			if perr := rediskey.PutCheckoutState(context.WithoutCancel(ctx), rdb, stateKey, st, idempotencyTTL); perr != nil {
				logger.Warn("store checkout state", zap.Error(perr))
			}
		}
		if err != nil {
			checkoutError(c, err, logger)
			return
		}
		ok(c, http.StatusOK, gin.H{"orderId": res.OrderNo, "checkout_url": res.CheckoutURL})
	}
}

func replayCheckout(c *gin.Context, rdb *rd.Client, key string, logger *zap.Logger) {
	st, found, err := rediskey.GetCheckoutState(c.Request.Context(), rdb, key)
	if err != nil {
		internalError(c, logger, "load checkout state", err)
		return
	}
	switch {
	case !found, st.Status == rediskey.CheckoutPending:
		fail(c, http.StatusConflict, "Tu pedido se está procesando")
	case st.Status == rediskey.CheckoutSuccess:
		ok(c, http.StatusOK, gin.H{"orderId": st.OrderNo, "checkout_url": st.CheckoutURL})
	case st.Code >= http.StatusBadRequest && st.Reason != "":
		// 与首次失败的响应保持一致
		fail(c, st.Code, st.Reason)
	default:
		fail(c, http.StatusConflict, "La solicitud anterior falló")
	}
}

// checkoutFailure 把结账错误映射为状态码与面向客户端的提示。
// 非预期错误只给出通用提示，不包含内部错误内容。
func checkoutFailure(err error) (int, string) {
	switch {
	case errors.Is(err, inventory.ErrProductNotFound), errors.Is(err, inventory.ErrVariantNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, checkout.ErrUnknownAccount):
		return http.StatusUnauthorized, err.Error()
	case checkout.IsValidation(err), errors.Is(err, inventory.ErrInsufficientStock):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, checkout.ErrProviderUnavailable):
		return http.StatusInternalServerError, checkout.ErrProviderUnavailable.Error()
	default:
		return http.StatusInternalServerError, msgInternal
	}
}

func checkoutError(c *gin.Context, err error, logger *zap.Logger) {
	code, msg := checkoutFailure(err)
	if code >= http.StatusInternalServerError {
		logger.Error("checkout failed",
			zap.String("trace_id", middleware.GetTraceID(c.Request.Context())),
			zap.Error(err))
		_ = c.Error(err)
	}
	fail(c, code, msg)
}
