package notify

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"decant_shop/internal/model"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrNotFound  = errors.New("notification not found")
	ErrForbidden = errors.New("notification belongs to another user")
	ErrInvalid   = errors.New("invalid notification")
)

// Service 站内通知的读写。
type Service struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewService(db *gorm.DB, logger *zap.Logger) *Service {
	return &Service{db: db, logger: logger}
}

// Create 直接落库一条通知。
func (s *Service) Create(ctx context.Context, n *model.Notification) error {
	return s.db.WithContext(ctx).Create(n).Error
}

// AdminInput 管理员手动发送的通知。
type AdminInput struct {
	Scope    model.NotificationScope
	UserID   *uint
	Type     model.NotificationType
	Title    string
	Message  string
	Priority model.Priority
	Meta     map[string]string
}

// CreateByAdmin 校验作用域后创建；空 key 的 meta 会被丢弃。
func (s *Service) CreateByAdmin(ctx context.Context, in AdminInput) (*model.Notification, error) {
	if strings.TrimSpace(in.Title) == "" || strings.TrimSpace(in.Message) == "" {
		return nil, fmt.Errorf("%w: title and message are required", ErrInvalid)
	}
	if !in.Scope.Valid() {
		return nil, fmt.Errorf("%w: scope %q", ErrInvalid, in.Scope)
	}
	if in.Scope == model.ScopeUser && in.UserID == nil {
		return nil, fmt.Errorf("%w: user scope requires user_id", ErrInvalid)
	}
	if in.Scope != model.ScopeUser {
		in.UserID = nil
	}
	if in.Type == "" {
		in.Type = model.NotifySystem
	}
	if !in.Type.Valid() {
		return nil, fmt.Errorf("%w: type %q", ErrInvalid, in.Type)
	}
	if in.Priority == "" {
		in.Priority = model.PriorityMedium
	}
	if !in.Priority.Valid() {
		return nil, fmt.Errorf("%w: priority %q", ErrInvalid, in.Priority)
	}

	meta := make(map[string]string, len(in.Meta))
	for k, v := range in.Meta {
		if strings.TrimSpace(k) == "" {
			continue
		}
		meta[k] = v
	}

	n := &model.Notification{
		Scope:    in.Scope,
		UserID:   in.UserID,
		Type:     in.Type,
		Title:    in.Title,
		Message:  in.Message,
		Priority: in.Priority,
		Meta:     meta,
	}
	if err := s.Create(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}

// ListForUser 返回用户自己的通知与全局通知（排除 admin 类型）。
func (s *Service) ListForUser(ctx context.Context, userID uint) ([]model.Notification, error) {
	var list []model.Notification
	err := s.db.WithContext(ctx).
		Where("(scope = ? AND user_id = ?) OR (scope = ? AND type <> ?)",
			model.ScopeUser, userID, model.ScopeGlobal, model.NotifyAdmin).
		Order("created_at DESC").
		Find(&list).Error
	return list, err
}

// ListAdmin 返回管理员与全局通知。
func (s *Service) ListAdmin(ctx context.Context) ([]model.Notification, error) {
	var list []model.Notification
	err := s.db.WithContext(ctx).
		Where("scope IN ?", []model.NotificationScope{model.ScopeAdmin, model.ScopeGlobal}).
		Order("created_at DESC").
		Find(&list).Error
	return list, err
}

// MarkRead user 作用域由本人置 read；admin/global 作用域把用户加入 read_by。
func (s *Service) MarkRead(ctx context.Context, id, userID uint, isAdmin bool) (*model.Notification, error) {
	var n model.Notification
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&n, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		switch n.Scope {
		case model.ScopeUser:
			if n.UserID == nil || *n.UserID != userID {
				return ErrForbidden
			}
			n.Read = true
			return tx.Model(&n).Update("read", true).Error
		case model.ScopeAdmin:
			if !isAdmin {
				return ErrForbidden
			}
		}
		if slices.Contains(n.ReadBy, userID) {
			return nil
		}
		n.ReadBy = append(n.ReadBy, userID)
		return tx.Model(&n).Select("read_by").Updates(&model.Notification{ReadBy: n.ReadBy}).Error
	})
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// Delete 管理员删除通知。
func (s *Service) Delete(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Delete(&model.Notification{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// AdminUpdate 部分更新；nil 字段保持原值。作用域与接收人不可修改。
type AdminUpdate struct {
	Type     *model.NotificationType
	Title    *string
	Message  *string
	Priority *model.Priority
	Meta     map[string]string
}

// Update 管理员修改已发送的通知。
func (s *Service) Update(ctx context.Context, id uint, in AdminUpdate) (*model.Notification, error) {
	if in.Title != nil && strings.TrimSpace(*in.Title) == "" {
		return nil, fmt.Errorf("%w: title cannot be empty", ErrInvalid)
	}
	if in.Message != nil && strings.TrimSpace(*in.Message) == "" {
		return nil, fmt.Errorf("%w: message cannot be empty", ErrInvalid)
	}
	if in.Type != nil && !in.Type.Valid() {
		return nil, fmt.Errorf("%w: type %q", ErrInvalid, *in.Type)
	}
	if in.Priority != nil && !in.Priority.Valid() {
		return nil, fmt.Errorf("%w: priority %q", ErrInvalid, *in.Priority)
	}

	var n model.Notification
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&n, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if in.Type != nil {
			n.Type = *in.Type
		}
		if in.Title != nil {
			n.Title = *in.Title
		}
		if in.Message != nil {
			n.Message = *in.Message
		}
		if in.Priority != nil {
			n.Priority = *in.Priority
		}
		if in.Meta != nil {
			meta := make(map[string]string, len(in.Meta))
			for k, v := range in.Meta {
				if strings.TrimSpace(k) != "" {
					meta[k] = v
				}
			}
			n.Meta = meta
		}
		return tx.Save(&n).Error
	})
	if err != nil {
		return nil, err
	}
	return &n, nil
}
