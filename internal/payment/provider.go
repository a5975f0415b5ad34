package payment

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

var ErrPaymentNotFound = errors.New("provider payment not found")

// PreferenceItem 支付偏好中的一行。金额为整数 CLP。
type PreferenceItem struct {
	ID        string
	Title     string
	Quantity  int
	UnitPrice int64
}

// PreferenceRequest 创建托管支付页所需数据。
type PreferenceRequest struct {
	Items      []PreferenceItem
	PayerEmail string
	// OrderNo 同时写入 metadata.order_id 与 external_reference
	OrderNo string
	Guest   bool
}

// Preference 渠道返回的托管支付页。
type Preference struct {
	ID        string
	InitPoint string
}

// ProviderPayment 从渠道重新查询到的支付详情。
type ProviderPayment struct {
	ID                string
	Status            string
	TransactionAmount float64
	CurrencyID        string
	DateApproved      *time.Time
	ExternalReference string
	Metadata          map[string]any
}

const StatusApproved = "approved"

// Amount 渠道金额转为整数。
func (p ProviderPayment) Amount() int64 {
	return int64(math.Round(p.TransactionAmount))
}

// OrderNo 从 metadata 取订单号，兼容 order_id 与 orderId，最后回退到 external_reference。
func (p ProviderPayment) OrderNo() string {
	for _, k := range []string{"order_id", "orderId"} {
		if v, ok := p.Metadata[k]; ok {
			if s := strings.TrimSpace(fmt.Sprint(v)); s != "" && s != "<nil>" {
				return s
			}
		}
	}
	return strings.TrimSpace(p.ExternalReference)
}

// Provider 托管支付渠道。
type Provider interface {
	CreatePreference(ctx context.Context, req PreferenceRequest) (Preference, error)
	GetPayment(ctx context.Context, id string) (ProviderPayment, error)
}
