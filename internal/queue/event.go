package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// EventType 订单相关事件类型。
type EventType string

const (
	EventOrderPaid          EventType = "order.paid"
	EventOrderStatusChanged EventType = "order.status_changed"
	EventBackInStock        EventType = "stock.back_in_stock"
	EventDiscount           EventType = "promo.discount"
)

// OrderEvent 写入 outbox 并转发到 Kafka 的事件。
type OrderEvent struct {
	EventID     string    `json:"event_id"`
	Type        EventType `json:"type"`
	OrderNo     string    `json:"order_no,omitempty"`
	Status      string    `json:"status,omitempty"`
	Email       string    `json:"email,omitempty"`
	Name        string    `json:"name,omitempty"`
	ProductID   uint      `json:"product_id,omitempty"`
	ProductName string    `json:"product_name,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// Sink 事件写入端（outbox）。
type Sink interface {
	Append(ctx context.Context, ev OrderEvent) error
}

// OrderEventID 同一订单同一状态只生成一个事件 ID，重复投递由消费端去重。
func OrderEventID(t EventType, orderNo, status string) string {
	return fmt.Sprintf("%s:%s:%s", t, orderNo, status)
}

// StockEventID 到货提醒以 stock request 为粒度去重。
func StockEventID(requestID uint) string {
	return fmt.Sprintf("%s:%d", EventBackInStock, requestID)
}

// DiscountEventID 同一活动对同一用户只发一次。
func DiscountEventID(campaign string, userID uint) string {
	return fmt.Sprintf("%s:%s:%d", EventDiscount, campaign, userID)
}

// Validate 做最小字段校验，防止消费者处理脏消息。
func (e OrderEvent) Validate() error {
	if e.EventID == "" {
		return fmt.Errorf("event_id is required")
	}
	switch e.Type {
	case EventOrderPaid, EventOrderStatusChanged:
		if e.OrderNo == "" {
			return fmt.Errorf("order_no is required for %s", e.Type)
		}
	case EventBackInStock:
		if e.ProductID == 0 {
			return fmt.Errorf("product_id is required for %s", e.Type)
		}
	case EventDiscount:
		if e.Email == "" {
			return fmt.Errorf("email is required for %s", e.Type)
		}
	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	return nil
}

// values 展开为 Redis Stream 字段。
func (e OrderEvent) values() map[string]any {
	return map[string]any{
		"event_id":     e.EventID,
		"type":         string(e.Type),
		"order_no":     e.OrderNo,
		"status":       e.Status,
		"email":        e.Email,
		"name":         e.Name,
		"product_id":   strconv.FormatUint(uint64(e.ProductID), 10),
		"product_name": e.ProductName,
		"occurred_at":  strconv.FormatInt(e.OccurredAt.UnixMilli(), 10),
	}
}
