package payment

import (
	"context"
	"errors"
	"strings"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

var ErrStripeDisabled = errors.New("stripe is not configured")

// IntentCreator 为订单创建卡支付意图，返回 client secret。
type IntentCreator interface {
	CreateIntent(ctx context.Context, orderNo string, amount int64, currency string) (string, error)
}

// StripeIntents 基于 stripe-go 客户端，不使用全局 stripe.Key。
type StripeIntents struct {
	api *client.API
}

// NewStripeIntents secretKey 为空时返回 nil，调用方据此关闭该接口。
func NewStripeIntents(secretKey string) *StripeIntents {
	if secretKey == "" {
		return nil
	}
	api := &client.API{}
	api.Init(secretKey, nil)
	return &StripeIntents{api: api}
}

func (s *StripeIntents) CreateIntent(ctx context.Context, orderNo string, amount int64, currency string) (string, error) {
	if s == nil {
		return "", ErrStripeDisabled
	}
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(strings.ToLower(currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	params.AddMetadata("order_id", orderNo)
	pi, err := s.api.PaymentIntents.New(params)
	if err != nil {
		return "", err
	}
	return pi.ClientSecret, nil
}
