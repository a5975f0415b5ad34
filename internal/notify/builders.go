package notify

import (
	"fmt"
	"strconv"

	"decant_shop/internal/model"
)

// 以下构造函数集中维护通知文案，调用方负责在自己的事务里落库。

// LowStock 规格库存低于阈值时通知管理员。
func LowStock(p *model.Product, v *model.Variant) model.Notification {
	return model.Notification{
		Scope:    model.ScopeAdmin,
		Type:     model.NotifyStock,
		Title:    "Stock bajo",
		Message:  fmt.Sprintf("%s %dml tiene %d unidades disponibles", p.Name, v.Volume, v.Stock),
		Priority: model.PriorityHigh,
		Meta: map[string]string{
			"product_id": strconv.FormatUint(uint64(p.ID), 10),
			"variant_id": strconv.FormatUint(uint64(v.ID), 10),
			"stock":      strconv.FormatInt(v.Stock, 10),
		},
	}
}

// PaymentConfirmed 支付成功后通知下单用户。
func PaymentConfirmed(o *model.Order) model.Notification {
	return model.Notification{
		Scope:    model.ScopeUser,
		UserID:   o.UserID,
		Type:     model.NotifyOrder,
		Title:    "Pago confirmado",
		Message:  fmt.Sprintf("Tu pago de $%d fue confirmado. Estamos preparando tu pedido.", o.Total),
		Priority: model.PriorityMedium,
		Meta:     map[string]string{"order_id": o.OrderNo},
	}
}

var statusCopy = map[model.OrderStatus][2]string{
	model.OrderPaid:      {"Pago confirmado", "Tu pedido fue marcado como pagado."},
	model.OrderShipped:   {"Pedido enviado", "Tu pedido va en camino."},
	model.OrderDelivered: {"Pedido entregado", "Tu pedido fue entregado. ¡Disfrútalo!"},
	model.OrderCancelled: {"Pedido cancelado", "Tu pedido fue cancelado."},
}

// StatusChanged 管理员变更订单状态后通知用户。
func StatusChanged(o *model.Order, status model.OrderStatus) model.Notification {
	c, ok := statusCopy[status]
	if !ok {
		c = [2]string{"Actualización de pedido", "El estado de tu pedido cambió a " + string(status) + "."}
	}
	return model.Notification{
		Scope:    model.ScopeUser,
		UserID:   o.UserID,
		Type:     model.NotifyOrder,
		Title:    c[0],
		Message:  c[1],
		Priority: model.PriorityMedium,
		Meta:     map[string]string{"order_id": o.OrderNo, "status": string(status)},
	}
}

// PaymentForInactiveOrder 已取消（或已非待支付）订单收到支付时提醒管理员人工处理。
func PaymentForInactiveOrder(o *model.Order, transactionID string, amount int64) model.Notification {
	return model.Notification{
		Scope:    model.ScopeAdmin,
		Type:     model.NotifyAdmin,
		Title:    "Pago recibido para pedido no pendiente",
		Message:  fmt.Sprintf("Pedido %s en estado %s recibió el pago %s por $%d", o.OrderNo, o.Status, transactionID, amount),
		Priority: model.PriorityHigh,
		Meta: map[string]string{
			"order_id":       o.OrderNo,
			"transaction_id": transactionID,
			"status":         string(o.Status),
		},
	}
}

// PaymentAmountMismatch 支付金额与订单总额不一致，订单照常置为已支付，交由管理员核对。
func PaymentAmountMismatch(o *model.Order, transactionID string, paid int64) model.Notification {
	return model.Notification{
		Scope:    model.ScopeAdmin,
		Type:     model.NotifyAdmin,
		Title:    "Monto de pago no coincide",
		Message:  fmt.Sprintf("Pedido %s: total $%d, pagado $%d (transacción %s)", o.OrderNo, o.Total, paid, transactionID),
		Priority: model.PriorityHigh,
		Meta: map[string]string{
			"order_id":       o.OrderNo,
			"transaction_id": transactionID,
			"expected":       strconv.FormatInt(o.Total, 10),
			"paid":           strconv.FormatInt(paid, 10),
		},
	}
}

// StockRequested 用户登记到货提醒时通知管理员。
func StockRequested(u *model.User, p *model.Product) model.Notification {
	return model.Notification{
		Scope:    model.ScopeAdmin,
		Type:     model.NotifyStock,
		Title:    "Nueva solicitud de stock",
		Message:  fmt.Sprintf("%s solicitó stock de %s", u.Email, p.Name),
		Priority: model.PriorityHigh,
		Meta:     map[string]string{"product_id": strconv.FormatUint(uint64(p.ID), 10)},
	}
}

// BackInStock 到货提醒被处理时通知用户。
func BackInStock(userID uint, p *model.Product) model.Notification {
	uid := userID
	return model.Notification{
		Scope:    model.ScopeUser,
		UserID:   &uid,
		Type:     model.NotifyStock,
		Title:    "Producto disponible",
		Message:  p.Name + " volvió a estar disponible.",
		Priority: model.PriorityMedium,
		Meta:     map[string]string{"product_id": strconv.FormatUint(uint64(p.ID), 10)},
	}
}
