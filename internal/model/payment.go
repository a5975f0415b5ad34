package model

import "time"

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentApproved PaymentStatus = "approved"
	PaymentRejected PaymentStatus = "rejected"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

const (
	PaymentMethodMercadoPago = "mercadopago"
	PaymentMethodStripe      = "stripe"
	PaymentMethodManual      = "manual"
)

// Payment 支付记录。(method, transaction_id) 唯一，即 webhook 幂等键。
type Payment struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	OrderID       uint          `gorm:"not null;index" json:"order_id"`
	UserID        *uint         `gorm:"index" json:"user_id,omitempty"`
	GuestEmail    string        `gorm:"size:255" json:"guest_email,omitempty"`
	Method        string        `gorm:"size:32;not null;uniqueIndex:idx_payment_method_tx" json:"method"`
	TransactionID string        `gorm:"size:128;not null;uniqueIndex:idx_payment_method_tx" json:"transaction_id"`
	Amount        int64         `gorm:"not null" json:"amount"`
	Currency      string        `gorm:"size:8;not null" json:"currency"`
	Status        PaymentStatus `gorm:"size:16;not null" json:"status"`
	PaidAt        *time.Time    `json:"paid_at"`
}

func (Payment) TableName() string { return "payments" }
