package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"decant_shop/internal/database"
	"decant_shop/internal/fulfillment"
	"decant_shop/internal/metrics"
	"decant_shop/internal/model"
	"decant_shop/internal/notify"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Outcome webhook 处理结果，除错误外都应答 200。
type Outcome string

const (
	OutcomeIgnored         Outcome = "ignored"
	OutcomeNotApproved     Outcome = "not_approved"
	OutcomeMissingOrderRef Outcome = "missing_order_ref"
	OutcomeOrderNotFound   Outcome = "order_not_found"
	OutcomeInFlight        Outcome = "in_flight"
	OutcomeDuplicate       Outcome = "duplicate"
	OutcomeConfirmed       Outcome = "confirmed"
	OutcomeInactiveOrder   Outcome = "inactive_order"
)

// EventID 兼容字符串与数字两种 data.id。
type EventID string

func (id *EventID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*id = EventID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("data.id: %w", err)
	}
	*id = EventID(n.String())
	return nil
}

// Event MercadoPago 通知体。
type Event struct {
	Type   string `json:"type"`
	Action string `json:"action"`
	Data   struct {
		ID EventID `json:"id"`
	} `json:"data"`
}

// Locker 同一交易号的处理互斥；拿不到锁时 ok=false。
type Locker interface {
	Lock(ctx context.Context, transactionID string) (release func(), ok bool, err error)
}

// Confirmer 支付确认处理器。Payment 的 (method, transaction_id) 唯一索引是最终去重依据。
type Confirmer struct {
	db       *gorm.DB
	provider Provider
	pipeline *fulfillment.Pipeline
	locker   Locker
	currency string
	logger   *zap.Logger
}

func NewConfirmer(db *gorm.DB, provider Provider, pipeline *fulfillment.Pipeline, locker Locker, currency string, logger *zap.Logger) *Confirmer {
	return &Confirmer{db: db, provider: provider, pipeline: pipeline, locker: locker, currency: currency, logger: logger}
}

var errAlreadyRecorded = errors.New("payment already recorded")

// Handle 处理一次通知。返回错误表示没有任何写入，渠道重试是安全的。
func (c *Confirmer) Handle(ctx context.Context, ev Event) (Outcome, error) {
	out, err := c.handle(ctx, ev)
	if err != nil {
		metrics.RecordWebhook("error")
		return out, err
	}
	metrics.RecordWebhook(string(out))
	return out, nil
}

func (c *Confirmer) handle(ctx context.Context, ev Event) (Outcome, error) {
	txID := strings.TrimSpace(string(ev.Data.ID))
	if ev.Type != "payment" || txID == "" {
		return OutcomeIgnored, nil
	}

	p, err := c.provider.GetPayment(ctx, txID)
	if err != nil {
		if errors.Is(err, ErrPaymentNotFound) {
			c.logger.Warn("webhook for unknown provider payment", zap.String("transaction_id", txID))
			return OutcomeIgnored, nil
		}
		return "", fmt.Errorf("fetch payment %s: %w", txID, err)
	}
	if p.Status != StatusApproved {
		c.logger.Info("payment not approved", zap.String("transaction_id", txID), zap.String("status", p.Status))
		return OutcomeNotApproved, nil
	}
	orderNo := p.OrderNo()
	if orderNo == "" {
		c.logger.Warn("approved payment without order reference", zap.String("transaction_id", txID))
		return OutcomeMissingOrderRef, nil
	}

	if c.locker != nil {
		release, ok, err := c.locker.Lock(ctx, txID)
		switch {
		case err != nil:
			// Redis 不可用时降级为仅依赖唯一索引
			c.logger.Warn("webhook lock unavailable", zap.String("transaction_id", txID), zap.Error(err))
		case !ok:
			return OutcomeInFlight, nil
		default:
			defer release()
		}
	}

	var existing model.Payment
	err = c.db.WithContext(ctx).
		Where("method = ? AND transaction_id = ?", model.PaymentMethodMercadoPago, txID).
		First(&existing).Error
	if err == nil {
		c.resume(ctx, existing.OrderID)
		return OutcomeDuplicate, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", fmt.Errorf("lookup payment %s: %w", txID, err)
	}

	var o model.Order
	if err := c.db.WithContext(ctx).Where("order_no = ?", orderNo).First(&o).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.logger.Error("approved payment for unknown order",
				zap.String("transaction_id", txID), zap.String("order_no", orderNo))
			return OutcomeOrderNotFound, nil
		}
		return "", fmt.Errorf("load order %s: %w", orderNo, err)
	}

	amount := p.Amount()
	if amount != o.Total {
		c.logger.Warn("payment amount differs from order total",
			zap.String("order_no", o.OrderNo), zap.Int64("paid", amount), zap.Int64("total", o.Total))
	}
	paidAt := time.Now()
	if p.DateApproved != nil {
		paidAt = *p.DateApproved
	}
	currency := p.CurrencyID
	if currency == "" {
		currency = c.currency
	}

	inactive := false
	err = c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		pay := &model.Payment{
			OrderID:       o.ID,
			UserID:        o.UserID,
			GuestEmail:    o.GuestEmail,
			Method:        model.PaymentMethodMercadoPago,
			TransactionID: txID,
			Amount:        amount,
			Currency:      currency,
			Status:        model.PaymentApproved,
			PaidAt:        &paidAt,
		}
		if err := tx.Create(pay).Error; err != nil {
			if database.IsUniqueViolation(err) {
				return errAlreadyRecorded
			}
			return err
		}

		res := tx.Model(&model.Order{}).
			Where("id = ? AND status = ?", o.ID, model.OrderPending).
			Updates(map[string]any{
				"status":                 model.OrderPaid,
				"payment_method":         model.PaymentMethodMercadoPago,
				"payment_transaction_id": txID,
				"payment_paid_at":        paidAt,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// 订单已不是 pending（例如预占过期被取消）：保留支付记录，交由管理员处理
			inactive = true
			if err := tx.First(&o, o.ID).Error; err != nil {
				return err
			}
			n := notify.PaymentForInactiveOrder(&o, txID, amount)
			return tx.Create(&n).Error
		}
		if amount != o.Total {
			n := notify.PaymentAmountMismatch(&o, txID, amount)
			return tx.Create(&n).Error
		}
		return nil
	})
	switch {
	case errors.Is(err, errAlreadyRecorded):
		c.resume(ctx, o.ID)
		return OutcomeDuplicate, nil
	case err != nil:
		return "", fmt.Errorf("record payment %s: %w", txID, err)
	case inactive:
		c.logger.Error("payment received for non-pending order",
			zap.String("order_no", o.OrderNo), zap.String("status", string(o.Status)), zap.String("transaction_id", txID))
		return OutcomeInactiveOrder, nil
	}

	c.logger.Info("payment confirmed", zap.String("order_no", o.OrderNo), zap.String("transaction_id", txID))
	c.resume(ctx, o.ID)
	return OutcomeConfirmed, nil
}

// resume 运行支付后处理。失败只记录，后台 Worker 会补跑。
func (c *Confirmer) resume(ctx context.Context, orderID uint) {
	if err := c.pipeline.Run(ctx, orderID); err != nil {
		c.logger.Error("fulfillment pipeline", zap.Uint("order_id", orderID), zap.Error(err))
	}
}
