package notify

import (
	"context"
	"fmt"
	"html"
	"time"

	"github.com/resend/resend-go/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Email 一封事务邮件。
type Email struct {
	To      string
	Subject string
	HTML    string
}

// Mailer 发送事务邮件。
type Mailer interface {
	Send(ctx context.Context, e Email) error
}

// ResendMailer 通过 Resend API 发信。
type ResendMailer struct {
	client *resend.Client
	from   string
}

func NewResendMailer(apiKey, fromName, fromAddr string) *ResendMailer {
	return &ResendMailer{
		client: resend.NewClient(apiKey),
		from:   fmt.Sprintf("%s <%s>", fromName, fromAddr),
	}
}

func (m *ResendMailer) Send(ctx context.Context, e Email) error {
	_, err := m.client.Emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    m.from,
		To:      []string{e.To},
		Subject: e.Subject,
		Html:    e.HTML,
	})
	if err != nil {
		return fmt.Errorf("resend send to %s: %w", e.To, err)
	}
	return nil
}

// LogMailer 未配置 RESEND_API_KEY 时只打日志。
type LogMailer struct {
	logger *zap.Logger
}

func NewLogMailer(logger *zap.Logger) *LogMailer { return &LogMailer{logger: logger} }

func (m *LogMailer) Send(_ context.Context, e Email) error {
	m.logger.Info("email (not sent)", zap.String("to", e.To), zap.String("subject", e.Subject))
	return nil
}

// DeliveredEmail 订单送达邮件。
func DeliveredEmail(to, name, orderNo string) Email {
	if name == "" {
		name = "cliente"
	}
	return Email{
		To:      to,
		Subject: "Tu pedido fue entregado",
		HTML: fmt.Sprintf("<p>Hola %s,</p><p>Tu pedido <strong>%s</strong> fue entregado. ¡Gracias por comprar con nosotros!</p>",
			html.EscapeString(name), html.EscapeString(orderNo)),
	}
}

// BackInStockEmail 到货提醒邮件。
func BackInStockEmail(to, productName string) Email {
	return Email{
		To:      to,
		Subject: productName + " volvió a estar disponible",
		HTML:    fmt.Sprintf("<p>%s ya está disponible nuevamente en la tienda.</p>", html.EscapeString(productName)),
	}
}

// DiscountEmail 折扣日群发邮件。
func DiscountEmail(to, name string) Email {
	if name == "" {
		name = "cliente"
	}
	return Email{
		To:      to,
		Subject: "Hoy es día de descuento 🖤",
		HTML: fmt.Sprintf("<p>Hola %s,</p><p>Hoy tenemos descuentos especiales en toda la tienda. ¡No te los pierdas!</p>",
			html.EscapeString(name)),
	}
}

// ThrottledMailer 限制两封邮件之间的最小间隔。
type ThrottledMailer struct {
	next    Mailer
	limiter *rate.Limiter
}

// NewThrottledMailer interval <= 0 时不限速。
func NewThrottledMailer(next Mailer, interval time.Duration) *ThrottledMailer {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &ThrottledMailer{next: next, limiter: rate.NewLimiter(limit, 1)}
}

func (m *ThrottledMailer) Send(ctx context.Context, e Email) error {
	if err := m.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait mail slot: %w", err)
	}
	return m.next.Send(ctx, e)
}
