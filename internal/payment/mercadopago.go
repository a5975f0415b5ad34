package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sony/gobreaker/v2"
)

// MercadoPagoConfig 客户端配置。
type MercadoPagoConfig struct {
	BaseURL     string
	AccessToken string
	Currency    string
	// ClientURL 用于拼接支付完成后的回跳地址
	ClientURL string
	// APIURL 用于拼接 webhook 回调地址
	APIURL  string
	Timeout time.Duration
}

// MercadoPago REST 客户端，所有调用经过熔断器。
type MercadoPago struct {
	cfg  MercadoPagoConfig
	http *http.Client
	cb   *gobreaker.CircuitBreaker[[]byte]
}

func NewMercadoPago(cfg MercadoPagoConfig) *MercadoPago {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &MercadoPago{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		cb: gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
			Name:        "mercadopago",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 5
			},
			// 404 是业务结果，不计入熔断
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, ErrPaymentNotFound)
			},
		}),
	}
}

type mpItem struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Quantity   int    `json:"quantity"`
	UnitPrice  int64  `json:"unit_price"`
	CurrencyID string `json:"currency_id"`
}

type mpPreferenceRequest struct {
	Items             []mpItem          `json:"items"`
	Payer             map[string]string `json:"payer"`
	Metadata          map[string]any    `json:"metadata"`
	ExternalReference string            `json:"external_reference"`
	BackURLs          map[string]string `json:"back_urls"`
	AutoReturn        string            `json:"auto_return"`
	NotificationURL   string            `json:"notification_url"`
}

type mpPreferenceResponse struct {
	ID               string `json:"id"`
	InitPoint        string `json:"init_point"`
	SandboxInitPoint string `json:"sandbox_init_point"`
}

type mpPaymentResponse struct {
	ID                json.Number    `json:"id"`
	Status            string         `json:"status"`
	TransactionAmount float64        `json:"transaction_amount"`
	CurrencyID        string         `json:"currency_id"`
	DateApproved      string         `json:"date_approved"`
	ExternalReference string         `json:"external_reference"`
	Metadata          map[string]any `json:"metadata"`
}

// CreatePreference 创建 Checkout Pro 偏好，返回托管支付页地址。
func (m *MercadoPago) CreatePreference(ctx context.Context, req PreferenceRequest) (Preference, error) {
	body := mpPreferenceRequest{
		Items: make([]mpItem, 0, len(req.Items)),
		Payer: map[string]string{"email": req.PayerEmail},
		Metadata: map[string]any{
			"order_id": req.OrderNo,
			"guest":    req.Guest,
		},
		ExternalReference: req.OrderNo,
		BackURLs: map[string]string{
			"success": m.cfg.ClientURL + "/checkout/success",
			"failure": m.cfg.ClientURL + "/checkout/failure",
			"pending": m.cfg.ClientURL + "/checkout/pending",
		},
		AutoReturn:      "approved",
		NotificationURL: m.cfg.APIURL + "/webhooks/mercadopago",
	}
	for _, it := range req.Items {
		body.Items = append(body.Items, mpItem{
			ID:         it.ID,
			Title:      it.Title,
			Quantity:   it.Quantity,
			UnitPrice:  it.UnitPrice,
			CurrencyID: m.cfg.Currency,
		})
	}

	raw, err := m.do(ctx, http.MethodPost, "/checkout/preferences", body)
	if err != nil {
		return Preference{}, err
	}
	var out mpPreferenceResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return Preference{}, fmt.Errorf("decode preference: %w", err)
	}
	link := out.InitPoint
	if link == "" {
		link = out.SandboxInitPoint
	}
	if out.ID == "" || link == "" {
		return Preference{}, errors.New("mercadopago: preference without id or init_point")
	}
	return Preference{ID: out.ID, InitPoint: link}, nil
}

// GetPayment 按支付 ID 重新查询，webhook 内容一律不直接信任。
func (m *MercadoPago) GetPayment(ctx context.Context, id string) (ProviderPayment, error) {
	raw, err := m.do(ctx, http.MethodGet, "/v1/payments/"+url.PathEscape(id), nil)
	if err != nil {
		return ProviderPayment{}, err
	}
	var out mpPaymentResponse
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return ProviderPayment{}, fmt.Errorf("decode payment: %w", err)
	}
	p := ProviderPayment{
		ID:                out.ID.String(),
		Status:            out.Status,
		TransactionAmount: out.TransactionAmount,
		CurrencyID:        out.CurrencyID,
		ExternalReference: out.ExternalReference,
		Metadata:          out.Metadata,
	}
	if out.DateApproved != "" {
		if t, err := time.Parse(time.RFC3339, out.DateApproved); err == nil {
			p.DateApproved = &t
		}
	}
	return p, nil
}

func (m *MercadoPago) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	return m.cb.Execute(func() ([]byte, error) {
		var rdr io.Reader
		if body != nil {
			b, err := json.Marshal(body)
			if err != nil {
				return nil, err
			}
			rdr = bytes.NewReader(b)
		}
		req, err := http.NewRequestWithContext(ctx, method, m.cfg.BaseURL+path, rdr)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+m.cfg.AccessToken)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := m.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("mercadopago %s %s: %w", method, path, err)
		}
		defer resp.Body.Close()
		raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, err
		}
		switch {
		case resp.StatusCode == http.StatusNotFound:
			return nil, ErrPaymentNotFound
		case resp.StatusCode >= 300:
			return nil, fmt.Errorf("mercadopago %s %s: status %s: %s", method, path, strconv.Itoa(resp.StatusCode), truncate(raw, 200))
		}
		return raw, nil
	})
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n])
	}
	return string(b)
}
