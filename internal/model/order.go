package model

import (
	"errors"
	"fmt"
	"time"
)

// OrderStatus 订单状态，只能向前流转。
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderPaid      OrderStatus = "paid"
	OrderShipped   OrderStatus = "shipped"
	OrderDelivered OrderStatus = "delivered"
	OrderCancelled OrderStatus = "cancelled"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderPending: {OrderPaid, OrderCancelled},
	OrderPaid:    {OrderShipped, OrderDelivered, OrderCancelled},
	OrderShipped: {OrderDelivered, OrderCancelled},
}

// ParseOrderStatus 校验外部传入的状态值。
func ParseOrderStatus(s string) (OrderStatus, bool) {
	switch st := OrderStatus(s); st {
	case OrderPending, OrderPaid, OrderShipped, OrderDelivered, OrderCancelled:
		return st, true
	}
	return "", false
}

// CanTransitionTo 判断 s -> next 是否合法。相同状态不算流转，由调用方按无操作处理。
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s OrderStatus) IsTerminal() bool {
	return s == OrderDelivered || s == OrderCancelled
}

// DeliveryMethod 配送方式。
type DeliveryMethod string

const (
	DeliveryShipping DeliveryMethod = "shipping"
	DeliveryPickup   DeliveryMethod = "pickup"
)

func (m DeliveryMethod) Valid() bool {
	return m == DeliveryShipping || m == DeliveryPickup
}

// ShippingAddress 下单时的收货信息快照。
type ShippingAddress struct {
	Street string `gorm:"size:255" json:"street"`
	City   string `gorm:"size:128" json:"city"`
	State  string `gorm:"size:128" json:"state"`
	Phone  string `gorm:"size:32" json:"phone"`
}

// PaymentInfo 支付确认后写入。
type PaymentInfo struct {
	Method        string     `gorm:"size:32" json:"method"`
	TransactionID string     `gorm:"size:128;index" json:"transaction_id"`
	PaidAt        *time.Time `json:"paid_at"`
}

// Order 订单聚合。金额均为 CLP 整数，单价取下单时快照。
type Order struct {
	ID        uint      `gorm:"primarykey" json:"-"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	OrderNo    string      `gorm:"size:64;uniqueIndex;not null" json:"order_no"`
	UserID     *uint       `gorm:"index" json:"user_id,omitempty"`
	GuestEmail string      `gorm:"size:255" json:"guest_email,omitempty"`
	Items      []OrderItem `gorm:"constraint:OnDelete:CASCADE" json:"items"`

	Subtotal     int64 `gorm:"not null" json:"subtotal"`
	ShippingCost int64 `gorm:"not null;default:0" json:"shipping_cost"`
	Total        int64 `gorm:"not null" json:"total"`

	DeliveryMethod  DeliveryMethod  `gorm:"size:16;not null" json:"delivery_method"`
	PickupLocation  string          `gorm:"size:255" json:"pickup_location,omitempty"`
	ShippingAddress ShippingAddress `gorm:"embedded;embeddedPrefix:shipping_" json:"shipping_address"`
	Payment         PaymentInfo     `gorm:"embedded;embeddedPrefix:payment_" json:"payment_info"`
	PreferenceID    string          `gorm:"size:128" json:"-"`

	Status        OrderStatus `gorm:"size:16;not null;index;default:pending" json:"status"`
	FailureReason string      `gorm:"size:64" json:"failure_reason,omitempty"`
	ShippedAt     *time.Time  `json:"shipped_at,omitempty"`
	DeliveredAt   *time.Time  `json:"delivered_at,omitempty"`

	// 预占库存释放标记，保证只释放一次
	ReservationReleasedAt *time.Time `json:"-"`
	// 支付后处理各步骤的完成标记
	StockAppliedAt   *time.Time `json:"-"`
	LoyaltyAppliedAt *time.Time `json:"-"`
	NotifiedAt       *time.Time `json:"-"`
}

func (Order) TableName() string { return "orders" }

func (o *Order) IsGuest() bool { return o.UserID == nil }

// Quantity 订单商品总件数。
func (o *Order) Quantity() int {
	n := 0
	for _, it := range o.Items {
		n += it.Quantity
	}
	return n
}

// Recompute 按快照单价重新计算小计与总额。
func (o *Order) Recompute() {
	var sub int64
	for _, it := range o.Items {
		sub += it.LineTotal()
	}
	o.Subtotal = sub
	o.Total = sub + o.ShippingCost
}

// CheckInvariants 校验金额与身份约束。
func (o *Order) CheckInvariants() error {
	if len(o.Items) == 0 {
		return errors.New("order has no items")
	}
	var sub int64
	for _, it := range o.Items {
		if it.Quantity < 1 {
			return fmt.Errorf("item %d: quantity must be >= 1", it.VariantID)
		}
		sub += it.LineTotal()
	}
	if o.Subtotal != sub {
		return fmt.Errorf("subtotal %d != sum of lines %d", o.Subtotal, sub)
	}
	if o.Total != o.Subtotal+o.ShippingCost {
		return fmt.Errorf("total %d != subtotal %d + shipping %d", o.Total, o.Subtotal, o.ShippingCost)
	}
	if o.UserID == nil && o.GuestEmail == "" {
		return errors.New("guest order requires an email")
	}
	return nil
}

// OrderItem 订单行，保存下单时的商品名、图片和单价。
type OrderItem struct {
	ID        uint   `gorm:"primarykey" json:"-"`
	OrderID   uint   `gorm:"not null;index" json:"-"`
	ProductID uint   `gorm:"not null" json:"product_id"`
	VariantID uint   `gorm:"not null" json:"variant_id"`
	Name      string `gorm:"size:128;not null" json:"name"`
	Image     string `gorm:"size:512" json:"image"`
	Volume    int    `gorm:"not null" json:"volume"`
	Price     int64  `gorm:"not null" json:"price"`
	Quantity  int    `gorm:"not null" json:"quantity"`
}

func (OrderItem) TableName() string { return "order_items" }

func (i OrderItem) LineTotal() int64 { return i.Price * int64(i.Quantity) }
