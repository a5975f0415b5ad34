package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"decant_shop/internal/fulfillment"
	"decant_shop/internal/inventory"
	"decant_shop/internal/model"
	"decant_shop/internal/notify"
	"decant_shop/internal/queue"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	ReasonProviderUnavailable = "payment_provider_unavailable"
	ReasonReservationExpired  = "reservation_expired"
)

var (
	ErrNotFound          = errors.New("pedido no encontrado")
	ErrInvalidStatus     = errors.New("estado inválido")
	ErrIllegalTransition = errors.New("transición de estado no permitida")
	ErrConcurrentUpdate  = errors.New("el pedido fue modificado, reintenta")
)

// Service 订单查询与管理员状态流转。
type Service struct {
	db       *gorm.DB
	ledger   *inventory.Ledger
	pipeline *fulfillment.Pipeline
	events   queue.Sink
	logger   *zap.Logger
}

func NewService(db *gorm.DB, ledger *inventory.Ledger, pipeline *fulfillment.Pipeline, events queue.Sink, logger *zap.Logger) *Service {
	return &Service{db: db, ledger: ledger, pipeline: pipeline, events: events, logger: logger}
}

// Get 按 order_no 读取订单。
func (s *Service) Get(ctx context.Context, orderNo string) (*model.Order, error) {
	var o model.Order
	if err := s.db.WithContext(ctx).Preload("Items").Where("order_no = ?", orderNo).First(&o).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &o, nil
}

// ListForUser 用户自己的订单，最新在前。
func (s *Service) ListForUser(ctx context.Context, userID uint) ([]model.Order, error) {
	var list []model.Order
	err := s.db.WithContext(ctx).Preload("Items").
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&list).Error
	return list, err
}

// ListAll 管理员查看全部订单，可按状态过滤。
func (s *Service) ListAll(ctx context.Context, status model.OrderStatus) ([]model.Order, error) {
	q := s.db.WithContext(ctx).Preload("Items").Order("created_at DESC")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var list []model.Order
	err := q.Find(&list).Error
	return list, err
}

// UpdateStatus 管理员变更订单状态。changed=false 表示目标状态与当前相同，不做任何事。
func (s *Service) UpdateStatus(ctx context.Context, orderNo string, next model.OrderStatus) (*model.Order, bool, error) {
	if _, ok := model.ParseOrderStatus(string(next)); !ok {
		return nil, false, ErrInvalidStatus
	}

	var (
		o           model.Order
		changed     bool
		email, name string
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Preload("Items").Where("order_no = ?", orderNo).First(&o).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if o.Status == next {
			return nil
		}
		if !o.Status.CanTransitionTo(next) {
			return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, o.Status, next)
		}

		prev := o.Status
		now := time.Now()
		updates := map[string]any{"status": next}
		switch next {
		case model.OrderPaid:
			// 管理员人工确认收款（如转账），补齐支付信息以便后续处理
			if o.Payment.PaidAt == nil {
				updates["payment_paid_at"] = now
				updates["payment_method"] = model.PaymentMethodManual
				o.Payment.PaidAt = &now
				o.Payment.Method = model.PaymentMethodManual
			}
		case model.OrderShipped:
			updates["shipped_at"] = now
			o.ShippedAt = &now
		case model.OrderDelivered:
			updates["delivered_at"] = now
			o.DeliveredAt = &now
		}

		res := tx.Model(&model.Order{}).Where("id = ? AND status = ?", o.ID, prev).Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrConcurrentUpdate
		}
		o.Status = next
		changed = true

		if next == model.OrderCancelled && prev == model.OrderPending {
			if err := s.releaseOnce(ctx, tx, &o); err != nil {
				return err
			}
		}
		if o.UserID != nil {
			n := notify.StatusChanged(&o, next)
			if err := tx.Create(&n).Error; err != nil {
				return fmt.Errorf("status notification: %w", err)
			}
		}
		email, name = s.contact(tx, &o)
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	if changed {
		s.logger.Info("order status updated", zap.String("order_no", o.OrderNo), zap.String("status", string(next)))
		// 状态变更已提交，事件投递失败只记录日志，不回滚状态
		if err := s.events.Append(ctx, queue.OrderEvent{
			EventID: queue.OrderEventID(queue.EventOrderStatusChanged, o.OrderNo, string(next)),
			Type:    queue.EventOrderStatusChanged,
			OrderNo: o.OrderNo,
			Status:  string(next),
			Email:   email,
			Name:    name,
		}); err != nil {
			s.logger.Error("append status event", zap.String("order_no", o.OrderNo), zap.Error(err))
		}
		if next == model.OrderPaid {
			if err := s.pipeline.Run(ctx, o.ID); err != nil {
				// 后台 Worker 会补跑
				s.logger.Error("fulfillment after manual payment", zap.String("order_no", o.OrderNo), zap.Error(err))
			}
		}
	}
	return &o, changed, nil
}

// Delete 管理员删除订单。库存尚未扣减的订单先归还预占；支付记录保留用于对账。
func (s *Service) Delete(ctx context.Context, orderNo string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var o model.Order
		if err := tx.Preload("Items").Where("order_no = ?", orderNo).First(&o).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if o.StockAppliedAt == nil {
			if err := s.releaseOnce(ctx, tx, &o); err != nil {
				return err
			}
		}
		if err := tx.Where("order_id = ?", o.ID).Delete(&model.OrderItem{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&model.Order{}, o.ID).Error; err != nil {
			return err
		}
		s.logger.Info("order deleted", zap.String("order_no", o.OrderNo), zap.String("status", string(o.Status)))
		return nil
	})
}

// FailCheckout 支付渠道不可用时取消刚创建的订单并释放预占。
func (s *Service) FailCheckout(ctx context.Context, orderID uint, reason string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var o model.Order
		if err := tx.Preload("Items").First(&o, orderID).Error; err != nil {
			return err
		}
		_, err := s.cancelPending(ctx, tx, &o, reason)
		return err
	})
}

// ExpireStale 取消创建时间早于 olderThan 的待支付订单。
func (s *Service) ExpireStale(ctx context.Context, olderThan time.Duration) (int, error) {
	var ids []uint
	cutoff := time.Now().Add(-olderThan)
	if err := s.db.WithContext(ctx).Model(&model.Order{}).
		Where("status = ? AND created_at < ?", model.OrderPending, cutoff).
		Order("id").
		Limit(200).
		Pluck("id", &ids).Error; err != nil {
		return 0, err
	}

	expired := 0
	for _, id := range ids {
		var done bool
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var o model.Order
			if err := tx.Preload("Items").First(&o, id).Error; err != nil {
				return err
			}
			var err error
			done, err = s.cancelPending(ctx, tx, &o, ReasonReservationExpired)
			return err
		})
		if err != nil {
			s.logger.Error("expire order", zap.Uint("order_id", id), zap.Error(err))
			continue
		}
		if done {
			expired++
		}
	}
	return expired, nil
}

// cancelPending 仅当订单仍为 pending 时取消并释放预占；已被支付等并发变更时返回 false。
func (s *Service) cancelPending(ctx context.Context, tx *gorm.DB, o *model.Order, reason string) (bool, error) {
	res := tx.Model(&model.Order{}).
		Where("id = ? AND status = ?", o.ID, model.OrderPending).
		Updates(map[string]any{"status": model.OrderCancelled, "failure_reason": reason})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	o.Status = model.OrderCancelled
	o.FailureReason = reason
	return true, s.releaseOnce(ctx, tx, o)
}

// releaseOnce 以 reservation_released_at 为标记，保证预占只归还一次。
func (s *Service) releaseOnce(ctx context.Context, tx *gorm.DB, o *model.Order) error {
	res := tx.Model(&model.Order{}).
		Where("id = ? AND reservation_released_at IS NULL", o.ID).
		UpdateColumn("reservation_released_at", time.Now())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return nil
	}
	return s.ledger.Release(ctx, tx, o.Items)
}

// contact 访客取下单邮箱，登录用户取账户邮箱。
func (s *Service) contact(tx *gorm.DB, o *model.Order) (string, string) {
	if o.UserID == nil {
		return o.GuestEmail, ""
	}
	var u model.User
	if err := tx.Select("email", "username").First(&u, *o.UserID).Error; err != nil {
		s.logger.Warn("order owner missing", zap.String("order_no", o.OrderNo), zap.Error(err))
		return "", ""
	}
	return u.Email, u.Username
}
