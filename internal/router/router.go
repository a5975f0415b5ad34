package router

import (
	"net/http"

	"decant_shop/internal/auth"
	"decant_shop/internal/checkout"
	"decant_shop/internal/config"
	"decant_shop/internal/inventory"
	"decant_shop/internal/metrics"
	"decant_shop/internal/middleware"
	"decant_shop/internal/notify"
	"decant_shop/internal/order"
	"decant_shop/internal/payment"
	"decant_shop/internal/promo"
	"decant_shop/internal/stockreq"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Deps 路由依赖，全部在 main 中构造后注入。
type Deps struct {
	DB     *gorm.DB
	Redis  *rd.Client
	Config config.AppConfig
	Logger *zap.Logger

	Issuer        *auth.Issuer
	Auth          *auth.Service
	Ledger        *inventory.Ledger
	Validator     *checkout.Validator
	Checkout      *checkout.Service
	Orders        *order.Service
	Confirmer     *payment.Confirmer
	Intents       payment.IntentCreator
	StockRequests *stockreq.Service
	Notifications *notify.Service
	Promo         *promo.Service
}

// Setup 注册全部 HTTP 路由。
func Setup(r *gin.Engine, d Deps) {
	requireAuth := middleware.RequireAuth(d.Issuer)
	optionalAuth := middleware.OptionalAuth(d.Issuer)
	requireAdmin := middleware.RequireAdmin()

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"msg": "pong"})
	})
	r.GET("/metrics", metrics.Handler())

	// 支付渠道回调，不做鉴权与限流
	r.POST("/webhooks/mercadopago", mercadoPagoWebhook(d.Confirmer, d.Logger))

	checkoutChain := []gin.HandlerFunc{
		optionalAuth,
		middleware.RedisRateLimit(d.Redis, "checkout", d.Config.CheckoutRateLimit, d.Config.CheckoutRateWindow, d.Logger),
		createCheckout(d.Checkout, d.Redis, d.Logger),
	}
	r.POST("/checkout", checkoutChain...)

	api := r.Group("/api")

	authG := api.Group("/auth")
	authG.POST("/register", register(d.Auth, d.Config, d.Logger))
	authG.POST("/login", login(d.Auth, d.Config, d.Logger))
	authG.POST("/logout", logout(d.Config))
	authG.GET("/me", requireAuth, me(d.Auth, d.Logger))

	api.GET("/products", listProducts(d.DB, d.Logger))
	api.GET("/products/:id", getProduct(d.DB, d.Logger))
	api.PUT("/products/:id/variants/:variantId/stock", requireAuth, requireAdmin, setVariantStock(d.Ledger, d.Logger))

	api.POST("/cart/refresh", refreshCart(d.Validator, d.Logger))

	pay := api.Group("/payments")
	pay.POST("/checkout", checkoutChain...)
	pay.POST("/create-intent", requireAuth, createIntent(d.Orders, d.Intents, d.Config.Currency, d.Logger))

	orders := api.Group("/orders", requireAuth)
	orders.GET("", listMyOrders(d.Orders, d.Logger))
	orders.GET("/all", requireAdmin, listAllOrders(d.Orders, d.Logger))
	orders.GET("/:orderId", getOrder(d.Orders, d.Logger))
	orders.PUT("/:orderId/status", requireAdmin, updateOrderStatus(d.Orders, d.Logger))
	orders.DELETE("/:orderId", requireAdmin, deleteOrder(d.Orders, d.Logger))

	sr := api.Group("/stock-requests", requireAuth)
	sr.POST("", createStockRequest(d.StockRequests, d.Logger))
	sr.GET("", listStockRequests(d.StockRequests, d.Logger))
	sr.PUT("/:id", requireAdmin, updateStockRequest(d.StockRequests, d.Logger))
	sr.DELETE("/:id", requireAdmin, deleteStockRequest(d.StockRequests, d.Logger))

	nt := api.Group("/notifications", requireAuth)
	nt.GET("", listMyNotifications(d.Notifications, d.Logger))
	nt.PUT("/:id/read", markNotificationRead(d.Notifications, d.Logger))

	adminNt := api.Group("/admin/notifications", requireAuth, requireAdmin)
	adminNt.GET("", listAdminNotifications(d.Notifications, d.Logger))
	adminNt.POST("", createAdminNotification(d.Notifications, d.Logger))
	adminNt.PUT("/:id", updateNotification(d.Notifications, d.Logger))
	adminNt.DELETE("/:id", deleteNotification(d.Notifications, d.Logger))

	api.POST("/admin/discount", requireAuth, requireAdmin, broadcastDiscount(d.Promo, d.Logger))

	addr := api.Group("/addresses", requireAuth)
	addr.GET("", listAddresses(d.DB, d.Logger))
	addr.POST("", createAddress(d.DB, d.Logger))
	addr.PUT("/:id", updateAddress(d.DB, d.Logger))
	addr.DELETE("/:id", deleteAddress(d.DB, d.Logger))
}
