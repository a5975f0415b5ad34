package model

import (
	"slices"
	"time"
)

type NotificationScope string

const (
	ScopeUser   NotificationScope = "user"
	ScopeAdmin  NotificationScope = "admin"
	ScopeGlobal NotificationScope = "global"
)

func (s NotificationScope) Valid() bool {
	return s == ScopeUser || s == ScopeAdmin || s == ScopeGlobal
}

type NotificationType string

const (
	NotifyOrder  NotificationType = "order"
	NotifySystem NotificationType = "system"
	NotifyPromo  NotificationType = "promo"
	NotifyAdmin  NotificationType = "admin"
	NotifyStock  NotificationType = "stock"
)

func (t NotificationType) Valid() bool {
	switch t {
	case NotifyOrder, NotifySystem, NotifyPromo, NotifyAdmin, NotifyStock:
		return true
	}
	return false
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

func (p Priority) Valid() bool {
	return p == PriorityLow || p == PriorityMedium || p == PriorityHigh
}

// Notification 站内通知。user 作用域用 Read，admin/global 作用域用 ReadBy 记录已读用户。
type Notification struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Scope    NotificationScope `gorm:"size:16;not null;index" json:"scope"`
	UserID   *uint             `gorm:"index" json:"user_id,omitempty"`
	Type     NotificationType  `gorm:"size:16;not null" json:"type"`
	Title    string            `gorm:"size:255;not null" json:"title"`
	Message  string            `gorm:"type:text;not null" json:"message"`
	Meta     map[string]string `gorm:"serializer:json" json:"meta,omitempty"`
	Read     bool              `gorm:"not null;default:false" json:"read"`
	ReadBy   []uint            `gorm:"serializer:json" json:"read_by,omitempty"`
	Priority Priority          `gorm:"size:8;not null;default:medium" json:"priority"`
}

func (Notification) TableName() string { return "notifications" }

// IsReadBy 判断某用户是否已读。
func (n *Notification) IsReadBy(userID uint) bool {
	if n.Scope == ScopeUser {
		return n.Read
	}
	return slices.Contains(n.ReadBy, userID)
}
