// Package promo 向全部注册用户群发折扣日邮件。
package promo

import (
	"context"
	"errors"
	"strings"
	"time"

	"decant_shop/internal/model"
	"decant_shop/internal/queue"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrNoRecipients = errors.New("no hay usuarios para enviar correos")

const batchSize = 200

// Broadcast 一次群发的结果。Failed 为写入 outbox 失败的用户数，可用同一 campaign 重发。
type Broadcast struct {
	Campaign string `json:"campaign"`
	Queued   int    `json:"queued"`
	Failed   int    `json:"failed"`
}

// Service 邮件本身由 Dispatcher 限速发送，这里只负责写事件。
type Service struct {
	db     *gorm.DB
	events queue.Sink
	logger *zap.Logger
	now    func() time.Time
}

func NewService(db *gorm.DB, events queue.Sink, logger *zap.Logger) *Service {
	return &Service{db: db, events: events, logger: logger, now: time.Now}
}

// BroadcastDiscount 为每个用户写一条折扣事件。campaign 为空时取当天日期，
// 同一 campaign 重复调用不会重复发信。
func (s *Service) BroadcastDiscount(ctx context.Context, campaign string) (*Broadcast, error) {
	campaign = strings.TrimSpace(campaign)
	if campaign == "" {
		campaign = s.now().Format("2006-01-02")
	}
	out := &Broadcast{Campaign: campaign}

	var users []model.User
	res := s.db.WithContext(ctx).Select("id", "email", "username").
		FindInBatches(&users, batchSize, func(tx *gorm.DB, _ int) error {
			for _, u := range users {
				ev := queue.OrderEvent{
					EventID:    queue.DiscountEventID(campaign, u.ID),
					Type:       queue.EventDiscount,
					Email:      u.Email,
					Name:       u.Username,
					OccurredAt: s.now(),
				}
				if err := s.events.Append(ctx, ev); err != nil {
					out.Failed++
					s.logger.Error("append discount event", zap.Uint("user_id", u.ID), zap.Error(err))
					continue
				}
				out.Queued++
			}
			return ctx.Err()
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if out.Queued+out.Failed == 0 {
		return nil, ErrNoRecipients
	}
	s.logger.Info("discount broadcast queued",
		zap.String("campaign", campaign), zap.Int("queued", out.Queued), zap.Int("failed", out.Failed))
	return out, nil
}
