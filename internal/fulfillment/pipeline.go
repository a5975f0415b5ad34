// Package fulfillment 执行支付成功后的处理步骤：扣库存、集章、通知。
// 每一步由订单上的独立标记列保护，条件更新标记与该步骤的写入处于同一事务，
// 因此重复执行或崩溃后恢复都不会重复生效。
package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"decant_shop/internal/inventory"
	"decant_shop/internal/metrics"
	"decant_shop/internal/model"
	"decant_shop/internal/notify"
	"decant_shop/internal/queue"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	StepStock   = "stock"
	StepLoyalty = "loyalty"
	StepNotify  = "notify"
)

var errStepDone = errors.New("step already applied")

type step struct {
	name   string
	marker string
	apply  func(ctx context.Context, tx *gorm.DB, o *model.Order) error
}

// Pipeline 支付后处理流水线。
type Pipeline struct {
	db     *gorm.DB
	ledger *inventory.Ledger
	events queue.Sink
	logger *zap.Logger
	steps  []step
}

func NewPipeline(db *gorm.DB, ledger *inventory.Ledger, events queue.Sink, logger *zap.Logger) *Pipeline {
	p := &Pipeline{db: db, ledger: ledger, events: events, logger: logger}
	p.steps = []step{
		{name: StepStock, marker: "stock_applied_at", apply: p.applyStock},
		{name: StepLoyalty, marker: "loyalty_applied_at", apply: p.applyLoyalty},
		{name: StepNotify, marker: "notified_at", apply: p.applyNotify},
	}
	return p
}

// Run 按顺序执行尚未完成的步骤，遇到第一个失败即停止。
// 未支付的订单直接返回。
func (p *Pipeline) Run(ctx context.Context, orderID uint) error {
	var o model.Order
	if err := p.db.WithContext(ctx).Preload("Items").First(&o, orderID).Error; err != nil {
		return fmt.Errorf("load order %d: %w", orderID, err)
	}
	if o.Payment.PaidAt == nil || o.Status == model.OrderPending {
		return nil
	}

	for _, s := range p.steps {
		err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			res := tx.Model(&model.Order{}).
				Where("id = ? AND "+s.marker+" IS NULL", o.ID).
				UpdateColumn(s.marker, time.Now())
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return errStepDone
			}
			return s.apply(ctx, tx, &o)
		})
		if errors.Is(err, errStepDone) {
			continue
		}
		if err != nil {
			metrics.RecordPipelineStep(s.name, "error")
			return fmt.Errorf("order %s step %s: %w", o.OrderNo, s.name, err)
		}
		metrics.RecordPipelineStep(s.name, "ok")
		p.logger.Info("fulfillment step applied", zap.String("order_no", o.OrderNo), zap.String("step", s.name))
	}
	return nil
}

func (p *Pipeline) applyStock(ctx context.Context, tx *gorm.DB, o *model.Order) error {
	res, err := p.ledger.ApplyOrder(ctx, tx, o)
	if err != nil {
		return err
	}
	if res.Partial() {
		p.logger.Warn("partial stock application",
			zap.String("order_no", o.OrderNo),
			zap.Int("applied", res.Applied),
			zap.Int("skipped", res.Skipped))
	}
	return nil
}

// applyLoyalty 每件商品一枚章，上限 MaxStamps；访客订单跳过。
func (p *Pipeline) applyLoyalty(ctx context.Context, tx *gorm.DB, o *model.Order) error {
	if o.UserID == nil {
		return nil
	}
	n := o.Quantity()
	res := tx.WithContext(ctx).Model(&model.User{}).Where("id = ?", *o.UserID).
		UpdateColumns(map[string]any{
			"stamps": gorm.Expr("CASE WHEN stamps + ? > ? THEN ? ELSE stamps + ? END", n, model.MaxStamps, model.MaxStamps, n),
			"card":   true,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		p.logger.Warn("loyalty skipped, user missing", zap.String("order_no", o.OrderNo), zap.Uint("user_id", *o.UserID))
	}
	return nil
}

// applyNotify 登录用户收到站内通知；事件写入 outbox 放在最后，失败则整步回滚等待重试。
func (p *Pipeline) applyNotify(ctx context.Context, tx *gorm.DB, o *model.Order) error {
	email, name := o.GuestEmail, ""
	if o.UserID != nil {
		n := notify.PaymentConfirmed(o)
		if err := tx.Create(&n).Error; err != nil {
			return fmt.Errorf("create notification: %w", err)
		}
		var u model.User
		if err := tx.Select("email", "username").First(&u, *o.UserID).Error; err == nil {
			email, name = u.Email, u.Username
		}
	}
	return p.events.Append(ctx, queue.OrderEvent{
		EventID: queue.OrderEventID(queue.EventOrderPaid, o.OrderNo, string(model.OrderPaid)),
		Type:    queue.EventOrderPaid,
		OrderNo: o.OrderNo,
		Status:  string(model.OrderPaid),
		Email:   email,
		Name:    name,
	})
}

// Reconcile 找出已支付但仍有步骤未完成的订单并补跑，返回处理数量。
func (p *Pipeline) Reconcile(ctx context.Context) (int, error) {
	var ids []uint
	err := p.db.WithContext(ctx).Model(&model.Order{}).
		Where("payment_paid_at IS NOT NULL AND status <> ?", model.OrderPending).
		Where("(stock_applied_at IS NULL OR loyalty_applied_at IS NULL OR notified_at IS NULL)").
		Order("id").
		Limit(100).
		Pluck("id", &ids).Error
	if err != nil {
		return 0, err
	}
	done := 0
	for _, id := range ids {
		if err := p.Run(ctx, id); err != nil {
			p.logger.Error("reconcile order", zap.Uint("order_id", id), zap.Error(err))
			continue
		}
		done++
	}
	return done, nil
}
