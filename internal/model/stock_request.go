package model

import "time"

type StockRequestStatus string

const (
	StockRequestPending  StockRequestStatus = "pending"
	StockRequestNotified StockRequestStatus = "notified"
	StockRequestResolved StockRequestStatus = "resolved"
)

func (s StockRequestStatus) Valid() bool {
	return s == StockRequestPending || s == StockRequestNotified || s == StockRequestResolved
}

// StockRequest 到货提醒。同一用户同一商品最多一条 pending（部分唯一索引）。
type StockRequest struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	UserID    uint               `gorm:"not null;uniqueIndex:idx_stock_request_pending,where:status = 'pending'" json:"user_id"`
	ProductID uint               `gorm:"not null;uniqueIndex:idx_stock_request_pending,where:status = 'pending'" json:"product_id"`
	Status    StockRequestStatus `gorm:"size:16;not null;default:pending" json:"status"`

	User    User    `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Product Product `gorm:"foreignKey:ProductID" json:"product,omitempty"`
}

func (StockRequest) TableName() string { return "stock_requests" }

// EmailDispatch 记录已发送的事件邮件，EventID 唯一，用于 Kafka 至少一次投递下的去重。
type EmailDispatch struct {
	ID        uint      `gorm:"primarykey"`
	CreatedAt time.Time
	EventID   string `gorm:"size:128;uniqueIndex;not null"`
	Kind      string `gorm:"size:32;not null"`
	Recipient string `gorm:"size:255;not null"`
}

func (EmailDispatch) TableName() string { return "email_dispatches" }

// All 返回需要自动迁移的全部模型。
func All() []any {
	return []any{
		&User{}, &Address{},
		&Product{}, &Variant{},
		&Order{}, &OrderItem{}, &Payment{},
		&Notification{}, &StockRequest{}, &EmailDispatch{},
	}
}
