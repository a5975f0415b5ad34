// Package stockreq 管理到货提醒登记。
package stockreq

import (
	"context"
	"errors"
	"fmt"
	"time"

	"decant_shop/internal/database"
	"decant_shop/internal/model"
	"decant_shop/internal/notify"
	"decant_shop/internal/queue"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrNotFound        = errors.New("solicitud no encontrada")
	ErrProductNotFound = errors.New("producto no encontrado")
	ErrDuplicate       = errors.New("ya tienes una solicitud pendiente para este producto")
	ErrInvalidStatus   = errors.New("estado inválido")
)

type Service struct {
	db     *gorm.DB
	events queue.Sink
	logger *zap.Logger
}

func NewService(db *gorm.DB, events queue.Sink, logger *zap.Logger) *Service {
	return &Service{db: db, events: events, logger: logger}
}

// Create 登记提醒并通知管理员；同一商品已有 pending 时返回 ErrDuplicate。
func (s *Service) Create(ctx context.Context, userID, productID uint) (*model.StockRequest, error) {
	var req *model.StockRequest
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var p model.Product
		if err := tx.First(&p, productID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrProductNotFound
			}
			return err
		}
		var u model.User
		if err := tx.Select("id", "email").First(&u, userID).Error; err != nil {
			return err
		}

		req = &model.StockRequest{UserID: userID, ProductID: productID, Status: model.StockRequestPending}
		if err := tx.Omit("User", "Product").Create(req).Error; err != nil {
			if database.IsUniqueViolation(err) {
				return ErrDuplicate
			}
			return err
		}
		n := notify.StockRequested(&u, &p)
		return tx.Create(&n).Error
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("stock request created", zap.Uint("user_id", userID), zap.Uint("product_id", productID))
	return req, nil
}

func (s *Service) ListForUser(ctx context.Context, userID uint) ([]model.StockRequest, error) {
	var list []model.StockRequest
	err := s.db.WithContext(ctx).Preload("Product").
		Where("user_id = ?", userID).Order("created_at DESC").Find(&list).Error
	return list, err
}

func (s *Service) ListAll(ctx context.Context) ([]model.StockRequest, error) {
	var list []model.StockRequest
	err := s.db.WithContext(ctx).Preload("User").Preload("Product").
		Order("created_at DESC").Find(&list).Error
	return list, err
}

// UpdateStatus 首次改为 notified 时给用户发站内通知并写入到货事件（邮件）。
func (s *Service) UpdateStatus(ctx context.Context, id uint, status model.StockRequestStatus) (*model.StockRequest, error) {
	if !status.Valid() {
		return nil, ErrInvalidStatus
	}
	var (
		req      model.StockRequest
		notified bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Preload("User").Preload("Product").First(&req, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if req.Status == status {
			return nil
		}
		res := tx.Model(&model.StockRequest{}).
			Where("id = ? AND status = ?", req.ID, req.Status).
			Update("status", status)
		if res.Error != nil {
			if database.IsUniqueViolation(res.Error) {
				return ErrDuplicate
			}
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("stock request %d changed concurrently", req.ID)
		}
		notified = status == model.StockRequestNotified
		req.Status = status
		if notified {
			n := notify.BackInStock(req.UserID, &req.Product)
			return tx.Create(&n).Error
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if notified {
		ev := queue.OrderEvent{
			EventID:     queue.StockEventID(req.ID),
			Type:        queue.EventBackInStock,
			Email:       req.User.Email,
			Name:        req.User.Username,
			ProductID:   req.ProductID,
			ProductName: req.Product.Name,
			OccurredAt:  time.Now(),
		}
		if err := s.events.Append(ctx, ev); err != nil {
			s.logger.Error("append back-in-stock event", zap.Uint("stock_request_id", req.ID), zap.Error(err))
		}
	}
	return &req, nil
}

func (s *Service) Delete(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Delete(&model.StockRequest{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
