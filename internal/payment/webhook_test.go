package payment_test

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"decant_shop/internal/fulfillment"
	"decant_shop/internal/inventory"
	"decant_shop/internal/model"
	"decant_shop/internal/payment"
	"decant_shop/internal/queue"
	"decant_shop/internal/queue/queuetest"
	"decant_shop/internal/testutil"
	rediskey "decant_shop/pkg/redis"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

type stubProvider struct {
	mu       sync.Mutex
	payments map[string]payment.ProviderPayment
	err      error
	lookups  int
}

func (s *stubProvider) CreatePreference(context.Context, payment.PreferenceRequest) (payment.Preference, error) {
	return payment.Preference{}, errors.New("not used")
}

func (s *stubProvider) GetPayment(_ context.Context, id string) (payment.ProviderPayment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups++
	if s.err != nil {
		return payment.ProviderPayment{}, s.err
	}
	p, ok := s.payments[id]
	if !ok {
		return payment.ProviderPayment{}, payment.ErrPaymentNotFound
	}
	return p, nil
}

type webhookFixture struct {
	db        *gorm.DB
	provider  *stubProvider
	events    *queuetest.EventRecorder
	confirmer *payment.Confirmer
}

func newWebhookFixture(t *testing.T, locker payment.Locker) *webhookFixture {
	db := testutil.NewDB(t)
	logger := zaptest.NewLogger(t)
	ledger := inventory.NewLedger(db, logger)
	events := &queuetest.EventRecorder{}
	provider := &stubProvider{payments: map[string]payment.ProviderPayment{}}
	pipeline := fulfillment.NewPipeline(db, ledger, events, logger)
	return &webhookFixture{
		db:        db,
		provider:  provider,
		events:    events,
		confirmer: payment.NewConfirmer(db, provider, pipeline, locker, "CLP", logger),
	}
}

func paymentEvent(id string) payment.Event {
	var ev payment.Event
	ev.Type = "payment"
	ev.Data.ID = payment.EventID(id)
	return ev
}

func approved(txID, orderNo string, amount float64) payment.ProviderPayment {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return payment.ProviderPayment{
		ID:                txID,
		Status:            payment.StatusApproved,
		TransactionAmount: amount,
		CurrencyID:        "CLP",
		DateApproved:      &at,
		Metadata:          map[string]any{"order_id": orderNo},
	}
}

func countPayments(t *testing.T, db *gorm.DB) int64 {
	var n int64
	require.NoError(t, db.Model(&model.Payment{}).Count(&n).Error)
	return n
}

// 已批准的支付：订单置为 paid，扣减库存并释放预占，登录用户集章并收到通知。
func TestConfirmApprovedPayment(t *testing.T) {
	f := newWebhookFixture(t, nil)
	u := testutil.SeedUser(t, f.db, "ana@example.com")
	p := testutil.SeedProduct(t, f.db, "bleu", model.Variant{Volume: 5, Price: 15000, Stock: 5})
	o := testutil.SeedPendingOrder(t, f.db, &u.ID, "", model.OrderItem{
		ProductID: p.ID, VariantID: p.Variants[0].ID, Name: "bleu", Volume: 5, Price: 15000, Quantity: 2,
	})
	f.provider.payments["9001"] = approved("9001", o.OrderNo, float64(o.Total))

	out, err := f.confirmer.Handle(context.Background(), paymentEvent("9001"))
	require.NoError(t, err)
	assert.Equal(t, payment.OutcomeConfirmed, out)

	got := testutil.ReloadOrder(t, f.db, o.ID)
	assert.Equal(t, model.OrderPaid, got.Status)
	assert.Equal(t, "9001", got.Payment.TransactionID)
	assert.Equal(t, model.PaymentMethodMercadoPago, got.Payment.Method)
	require.NotNil(t, got.Payment.PaidAt)
	assert.NotNil(t, got.StockAppliedAt)
	assert.NotNil(t, got.LoyaltyAppliedAt)
	assert.NotNil(t, got.NotifiedAt)

	v := testutil.ReloadVariant(t, f.db, p.Variants[0].ID)
	assert.Equal(t, int64(3), v.Stock)
	assert.Equal(t, int64(0), v.Reserved)
	assert.Equal(t, model.ProductLowStock, testutil.ReloadProduct(t, f.db, p.ID).Status)

	var user model.User
	require.NoError(t, f.db.First(&user, u.ID).Error)
	assert.Equal(t, 2, user.Stamps)

	var notes []model.Notification
	require.NoError(t, f.db.Where("scope = ? AND user_id = ?", model.ScopeUser, u.ID).Find(&notes).Error)
	assert.Len(t, notes, 1)

	paid := f.events.OfType(queue.EventOrderPaid)
	require.Len(t, paid, 1)
	assert.Equal(t, "ana@example.com", paid[0].Email)
	assert.Equal(t, int64(1), countPayments(t, f.db))
}

// 同一通知重复投递：只有一条 Payment，库存只扣一次。
func TestDuplicateWebhookAppliesOnce(t *testing.T) {
	f := newWebhookFixture(t, nil)
	p := testutil.SeedProduct(t, f.db, "oud", model.Variant{Volume: 3, Price: 9000, Stock: 10})
	o := testutil.SeedPendingOrder(t, f.db, nil, "g@example.com", model.OrderItem{
		ProductID: p.ID, VariantID: p.Variants[0].ID, Name: "oud", Volume: 3, Price: 9000, Quantity: 1,
	})
	f.provider.payments["42"] = approved("42", o.OrderNo, float64(o.Total))

	first, err := f.confirmer.Handle(context.Background(), paymentEvent("42"))
	require.NoError(t, err)
	assert.Equal(t, payment.OutcomeConfirmed, first)

	second, err := f.confirmer.Handle(context.Background(), paymentEvent("42"))
	require.NoError(t, err)
	assert.Equal(t, payment.OutcomeDuplicate, second)

	assert.Equal(t, int64(1), countPayments(t, f.db))
	assert.Equal(t, int64(9), testutil.ReloadVariant(t, f.db, p.Variants[0].ID).Stock)
	assert.Len(t, f.events.OfType(queue.EventOrderPaid), 1)
}

// 重复投递会补跑之前失败的步骤。
func TestDuplicateWebhookResumesPipeline(t *testing.T) {
	f := newWebhookFixture(t, nil)
	p := testutil.SeedProduct(t, f.db, "iris", model.Variant{Volume: 5, Price: 7000, Stock: 10})
	o := testutil.SeedPendingOrder(t, f.db, nil, "g@example.com", model.OrderItem{
		ProductID: p.ID, VariantID: p.Variants[0].ID, Name: "iris", Volume: 5, Price: 7000, Quantity: 1,
	})
	f.provider.payments["77"] = approved("77", o.OrderNo, float64(o.Total))
	f.events.FailNext = 1

	out, err := f.confirmer.Handle(context.Background(), paymentEvent("77"))
	require.NoError(t, err)
	assert.Equal(t, payment.OutcomeConfirmed, out)
	assert.Nil(t, testutil.ReloadOrder(t, f.db, o.ID).NotifiedAt)

	out, err = f.confirmer.Handle(context.Background(), paymentEvent("77"))
	require.NoError(t, err)
	assert.Equal(t, payment.OutcomeDuplicate, out)
	assert.NotNil(t, testutil.ReloadOrder(t, f.db, o.ID).NotifiedAt)
	assert.Len(t, f.events.OfType(queue.EventOrderPaid), 1)
	assert.Equal(t, int64(9), testutil.ReloadVariant(t, f.db, p.Variants[0].ID).Stock)
}

func TestWebhookOutcomesWithoutWrites(t *testing.T) {
	f := newWebhookFixture(t, nil)
	p := testutil.SeedProduct(t, f.db, "musk", model.Variant{Volume: 5, Price: 5000, Stock: 3})
	o := testutil.SeedPendingOrder(t, f.db, nil, "g@example.com", model.OrderItem{
		ProductID: p.ID, VariantID: p.Variants[0].ID, Name: "musk", Volume: 5, Price: 5000, Quantity: 1,
	})
	f.provider.payments["1"] = payment.ProviderPayment{ID: "1", Status: "pending", Metadata: map[string]any{"order_id": o.OrderNo}}
	f.provider.payments["2"] = payment.ProviderPayment{ID: "2", Status: payment.StatusApproved}
	f.provider.payments["3"] = approved("3", "no-such-order", 5000)

	merchant := paymentEvent("1")
	merchant.Type = "merchant_order"

	cases := []struct {
		name string
		ev   payment.Event
		want payment.Outcome
	}{
		{"non payment topic", merchant, payment.OutcomeIgnored},
		{"missing id", paymentEvent(""), payment.OutcomeIgnored},
		{"unknown provider payment", paymentEvent("404"), payment.OutcomeIgnored},
		{"not approved", paymentEvent("1"), payment.OutcomeNotApproved},
		{"no order reference", paymentEvent("2"), payment.OutcomeMissingOrderRef},
		{"unknown order", paymentEvent("3"), payment.OutcomeOrderNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := f.confirmer.Handle(context.Background(), tc.ev)
			require.NoError(t, err)
			assert.Equal(t, tc.want, out)
		})
	}
	assert.Zero(t, countPayments(t, f.db))
	assert.Equal(t, model.OrderPending, testutil.ReloadOrder(t, f.db, o.ID).Status)
}

func TestWebhookFallsBackToExternalReference(t *testing.T) {
	f := newWebhookFixture(t, nil)
	p := testutil.SeedProduct(t, f.db, "neroli", model.Variant{Volume: 10, Price: 12000, Stock: 4})
	o := testutil.SeedPendingOrder(t, f.db, nil, "g@example.com", model.OrderItem{
		ProductID: p.ID, VariantID: p.Variants[0].ID, Name: "neroli", Volume: 10, Price: 12000, Quantity: 1,
	})
	pay := approved("555", "", float64(o.Total))
	pay.Metadata = map[string]any{"orderId": nil}
	pay.ExternalReference = o.OrderNo
	f.provider.payments["555"] = pay

	out, err := f.confirmer.Handle(context.Background(), paymentEvent("555"))
	require.NoError(t, err)
	assert.Equal(t, payment.OutcomeConfirmed, out)
	assert.Equal(t, model.OrderPaid, testutil.ReloadOrder(t, f.db, o.ID).Status)
}

// 渠道查询失败：没有写入，返回错误让渠道重试。
func TestWebhookProviderErrorIsRetryable(t *testing.T) {
	f := newWebhookFixture(t, nil)
	f.provider.err = errors.New("connection reset")

	_, err := f.confirmer.Handle(context.Background(), paymentEvent("9"))
	require.Error(t, err)
	assert.Zero(t, countPayments(t, f.db))
}

// 订单已取消后才收到支付：保留支付记录，订单不复活，通知管理员。
func TestPaymentForCancelledOrder(t *testing.T) {
	f := newWebhookFixture(t, nil)
	p := testutil.SeedProduct(t, f.db, "vetiver", model.Variant{Volume: 5, Price: 6000, Stock: 5})
	o := testutil.SeedPendingOrder(t, f.db, nil, "g@example.com", model.OrderItem{
		ProductID: p.ID, VariantID: p.Variants[0].ID, Name: "vetiver", Volume: 5, Price: 6000, Quantity: 1,
	})
	require.NoError(t, f.db.Model(&model.Order{}).Where("id = ?", o.ID).Update("status", model.OrderCancelled).Error)
	f.provider.payments["88"] = approved("88", o.OrderNo, float64(o.Total))

	out, err := f.confirmer.Handle(context.Background(), paymentEvent("88"))
	require.NoError(t, err)
	assert.Equal(t, payment.OutcomeInactiveOrder, out)

	assert.Equal(t, int64(1), countPayments(t, f.db))
	got := testutil.ReloadOrder(t, f.db, o.ID)
	assert.Equal(t, model.OrderCancelled, got.Status)
	assert.Nil(t, got.StockAppliedAt)
	assert.Equal(t, int64(5), testutil.ReloadVariant(t, f.db, p.Variants[0].ID).Stock)

	var alerts []model.Notification
	require.NoError(t, f.db.Where("scope = ?", model.ScopeAdmin).Find(&alerts).Error)
	require.Len(t, alerts, 1)
	assert.Equal(t, o.OrderNo, alerts[0].Meta["order_id"])
	assert.Equal(t, "88", alerts[0].Meta["transaction_id"])
}

// 金额不一致时订单仍置为 paid，并给管理员留一条高优先级通知。
func TestAmountMismatchAlertsAdmin(t *testing.T) {
	f := newWebhookFixture(t, nil)
	p := testutil.SeedProduct(t, f.db, "oud", model.Variant{Volume: 5, Price: 20000, Stock: 50})
	o := testutil.SeedPendingOrder(t, f.db, nil, "g@example.com", model.OrderItem{
		ProductID: p.ID, VariantID: p.Variants[0].ID, Name: "oud", Volume: 5, Price: 20000, Quantity: 1,
	})
	f.provider.payments["77"] = approved("77", o.OrderNo, float64(o.Total-5000))

	out, err := f.confirmer.Handle(context.Background(), paymentEvent("77"))
	require.NoError(t, err)
	assert.Equal(t, payment.OutcomeConfirmed, out)
	assert.Equal(t, model.OrderPaid, testutil.ReloadOrder(t, f.db, o.ID).Status)

	var alerts []model.Notification
	require.NoError(t, f.db.Where("scope = ? AND title = ?", model.ScopeAdmin, "Monto de pago no coincide").Find(&alerts).Error)
	require.Len(t, alerts, 1)
	assert.Equal(t, model.PriorityHigh, alerts[0].Priority)
	assert.Equal(t, o.OrderNo, alerts[0].Meta["order_id"])
	assert.Equal(t, "77", alerts[0].Meta["transaction_id"])
	assert.Equal(t, strconv.FormatInt(o.Total-5000, 10), alerts[0].Meta["paid"])

	// 重复投递不会再写通知
	_, err = f.confirmer.Handle(context.Background(), paymentEvent("77"))
	require.NoError(t, err)
	var n int64
	require.NoError(t, f.db.Model(&model.Notification{}).Where("title = ?", "Monto de pago no coincide").Count(&n).Error)
	assert.Equal(t, int64(1), n)
}

// 另一个投递持有锁时直接返回 in_flight，不查库也不写入。
func TestWebhookInFlightLock(t *testing.T) {
	_, rdb := testutil.NewRedis(t)
	f := newWebhookFixture(t, payment.NewRedisLocker(rdb, time.Minute))
	p := testutil.SeedProduct(t, f.db, "rose", model.Variant{Volume: 5, Price: 8000, Stock: 5})
	o := testutil.SeedPendingOrder(t, f.db, nil, "g@example.com", model.OrderItem{
		ProductID: p.ID, VariantID: p.Variants[0].ID, Name: "rose", Volume: 5, Price: 8000, Quantity: 1,
	})
	f.provider.payments["31"] = approved("31", o.OrderNo, float64(o.Total))

	key := rediskey.WebhookLockKey(model.PaymentMethodMercadoPago, "31")
	require.NoError(t, rdb.Set(context.Background(), key, "other-worker", time.Minute).Err())

	out, err := f.confirmer.Handle(context.Background(), paymentEvent("31"))
	require.NoError(t, err)
	assert.Equal(t, payment.OutcomeInFlight, out)
	assert.Zero(t, countPayments(t, f.db))

	require.NoError(t, rdb.Del(context.Background(), key).Err())
	out, err = f.confirmer.Handle(context.Background(), paymentEvent("31"))
	require.NoError(t, err)
	assert.Equal(t, payment.OutcomeConfirmed, out)
	assert.Zero(t, rdb.Exists(context.Background(), key).Val(), "lock released after processing")
}

// Redis 不可用时降级为唯一索引去重。
func TestWebhookLockUnavailableDegrades(t *testing.T) {
	mr, rdb := testutil.NewRedis(t)
	f := newWebhookFixture(t, payment.NewRedisLocker(rdb, time.Minute))
	p := testutil.SeedProduct(t, f.db, "amber", model.Variant{Volume: 5, Price: 8000, Stock: 5})
	o := testutil.SeedPendingOrder(t, f.db, nil, "g@example.com", model.OrderItem{
		ProductID: p.ID, VariantID: p.Variants[0].ID, Name: "amber", Volume: 5, Price: 8000, Quantity: 1,
	})
	f.provider.payments["32"] = approved("32", o.OrderNo, float64(o.Total))
	mr.Close()

	out, err := f.confirmer.Handle(context.Background(), paymentEvent("32"))
	require.NoError(t, err)
	assert.Equal(t, payment.OutcomeConfirmed, out)
}

func TestEventIDAcceptsStringOrNumber(t *testing.T) {
	var a, b payment.Event
	require.NoError(t, json.Unmarshal([]byte(`{"type":"payment","data":{"id":"123"}}`), &a))
	require.NoError(t, json.Unmarshal([]byte(`{"type":"payment","data":{"id":123456789012}}`), &b))
	assert.Equal(t, payment.EventID("123"), a.Data.ID)
	assert.Equal(t, payment.EventID("123456789012"), b.Data.ID)

	var bad payment.Event
	assert.Error(t, json.Unmarshal([]byte(`{"data":{"id":{}}}`), &bad))
}
