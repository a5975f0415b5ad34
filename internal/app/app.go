// Package app 组装服务端与命令行共用的依赖。
package app

import (
	"context"
	"errors"
	"fmt"

	"decant_shop/internal/auth"
	"decant_shop/internal/checkout"
	"decant_shop/internal/config"
	"decant_shop/internal/database"
	"decant_shop/internal/fulfillment"
	"decant_shop/internal/inventory"
	"decant_shop/internal/notify"
	"decant_shop/internal/order"
	"decant_shop/internal/payment"
	"decant_shop/internal/queue"
	"decant_shop/internal/router"
	"decant_shop/internal/promo"
	"decant_shop/internal/stockreq"

	rd "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// App 持有进程内的全部长生命周期对象。
type App struct {
	Config config.AppConfig
	Logger *zap.Logger
	DB     *gorm.DB
	Redis  *rd.Client

	Outbox   *queue.Outbox
	Ledger   *inventory.Ledger
	Pipeline *fulfillment.Pipeline
	Orders   *order.Service
	Worker   *fulfillment.Worker
	Deps     router.Deps
}

// New 打开数据库与 Redis，迁移表结构并构造各服务。
func New(ctx context.Context, cfg config.AppConfig, logger *zap.Logger) (*App, error) {
	db, err := database.Open(cfg)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(db); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	rdb := rd.NewClient(&rd.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	if err := rdb.Ping(ctx).Err(); err != nil {
		// 限流与幂等会降级，但 outbox 依赖 Redis，这里仍然报错
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	outbox := queue.NewOutbox(rdb, cfg.OrderEventStream)
	ledger := inventory.NewLedger(db, logger)
	pipeline := fulfillment.NewPipeline(db, ledger, outbox, logger)
	orders := order.NewService(db, ledger, pipeline, outbox, logger)
	validator := checkout.NewValidator(db)
	provider := payment.NewMercadoPago(payment.MercadoPagoConfig{
		BaseURL:     cfg.MPBaseURL,
		AccessToken: cfg.MPAccessToken,
		Currency:    cfg.Currency,
		ClientURL:   cfg.ClientURL,
		APIURL:      cfg.APIURL,
		Timeout:     cfg.ProviderTimeout,
	})
	issuer := auth.NewIssuer(cfg.JWTSecret, cfg.TokenTTL)

	a := &App{
		Config:   cfg,
		Logger:   logger,
		DB:       db,
		Redis:    rdb,
		Outbox:   outbox,
		Ledger:   ledger,
		Pipeline: pipeline,
		Orders:   orders,
		Worker:   fulfillment.NewWorker(pipeline, orders, cfg.ReservationTTL, cfg.SweepInterval, logger),
	}
	a.Deps = router.Deps{
		DB:        db,
		Redis:     rdb,
		Config:    cfg,
		Logger:    logger,
		Issuer:    issuer,
		Auth:      auth.NewService(db, issuer, logger),
		Ledger:    ledger,
		Validator: validator,
		Checkout: checkout.NewService(db, validator, ledger, orders, provider, checkout.Config{
			Shipping: checkout.ShippingPolicy{
				FreeThreshold: cfg.FreeShippingThreshold,
				Flat:          cfg.StandardShipping,
			},
			ProviderTimeout: cfg.ProviderTimeout,
		}, logger),
		Orders:        orders,
		Confirmer:     payment.NewConfirmer(db, provider, pipeline, payment.NewRedisLocker(rdb, cfg.ProviderTimeout*3), cfg.Currency, logger),
		Intents:       payment.NewStripeIntents(cfg.StripeSecretKey),
		StockRequests: stockreq.NewService(db, outbox, logger),
		Notifications: notify.NewService(db, logger),
		Promo:         promo.NewService(db, outbox, logger),
	}
	return a, nil
}

// Mailer 未配置 Resend 时退化为只打日志；真实发信按 EMAIL_INTERVAL_MS 限速。
func (a *App) Mailer() notify.Mailer {
	if a.Config.ResendAPIKey == "" {
		a.Logger.Warn("RESEND_API_KEY not set, emails are logged only")
		return notify.NewLogMailer(a.Logger)
	}
	resendMailer := notify.NewResendMailer(a.Config.ResendAPIKey, a.Config.EmailFromName, a.Config.EmailFrom)
	return notify.NewThrottledMailer(resendMailer, a.Config.EmailInterval)
}

func (a *App) Close() error {
	var errs []error
	if err := a.Redis.Close(); err != nil {
		errs = append(errs, err)
	}
	if sqlDB, err := a.DB.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
