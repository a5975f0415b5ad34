package queue

import (
	"context"
	"fmt"

	"decant_shop/internal/database"
	"decant_shop/internal/metrics"
	"decant_shop/internal/model"
	"decant_shop/internal/notify"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Dispatcher 把事件转换为邮件：送达邮件、到货提醒与折扣日群发。
// 每个 event_id 先写 email_dispatches，唯一冲突说明已发送过。
type Dispatcher struct {
	db     *gorm.DB
	mailer notify.Mailer
	logger *zap.Logger
}

func NewDispatcher(db *gorm.DB, mailer notify.Mailer, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{db: db, mailer: mailer, logger: logger}
}

func (d *Dispatcher) Handle(ctx context.Context, ev OrderEvent) error {
	var (
		email notify.Email
		kind  string
	)
	switch {
	case ev.Type == EventOrderStatusChanged && ev.Status == string(model.OrderDelivered):
		kind = "delivered"
		email = notify.DeliveredEmail(ev.Email, ev.Name, ev.OrderNo)
	case ev.Type == EventBackInStock:
		kind = "back_in_stock"
		email = notify.BackInStockEmail(ev.Email, ev.ProductName)
	case ev.Type == EventDiscount:
		kind = "discount"
		email = notify.DiscountEmail(ev.Email, ev.Name)
	default:
		return nil
	}
	if ev.Email == "" {
		d.logger.Warn("event without recipient", zap.String("event_id", ev.EventID))
		return nil
	}

	row := &model.EmailDispatch{EventID: ev.EventID, Kind: kind, Recipient: ev.Email}
	if err := d.db.WithContext(ctx).Create(row).Error; err != nil {
		if database.IsUniqueViolation(err) {
			return nil
		}
		return fmt.Errorf("record dispatch: %w", err)
	}

	if err := d.mailer.Send(ctx, email); err != nil {
		metrics.RecordEmail(kind, "error")
		// 删除记录，让重试有机会再次发送
		if delErr := d.db.WithContext(ctx).Delete(row).Error; delErr != nil {
			d.logger.Error("rollback dispatch record", zap.String("event_id", ev.EventID), zap.Error(delErr))
		}
		return err
	}
	metrics.RecordEmail(kind, "ok")
	d.logger.Info("email sent", zap.String("kind", kind), zap.String("event_id", ev.EventID))
	return nil
}
