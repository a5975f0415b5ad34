package checkout_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"decant_shop/internal/checkout"
	"decant_shop/internal/fulfillment"
	"decant_shop/internal/inventory"
	"decant_shop/internal/model"
	"decant_shop/internal/order"
	"decant_shop/internal/payment"
	"decant_shop/internal/queue/queuetest"
	"decant_shop/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

type fakeProvider struct {
	mu   sync.Mutex
	reqs []payment.PreferenceRequest
	fail error
}

func (f *fakeProvider) CreatePreference(_ context.Context, req payment.PreferenceRequest) (payment.Preference, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.fail != nil {
		return payment.Preference{}, f.fail
	}
	return payment.Preference{ID: "pref-" + req.OrderNo, InitPoint: "https://mp.example/init/" + req.OrderNo}, nil
}

func (f *fakeProvider) GetPayment(context.Context, string) (payment.ProviderPayment, error) {
	return payment.ProviderPayment{}, payment.ErrPaymentNotFound
}

func (f *fakeProvider) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}

type fixture struct {
	db       *gorm.DB
	provider *fakeProvider
	svc      *checkout.Service
}

func newFixture(t *testing.T) *fixture {
	db := testutil.NewDB(t)
	logger := zaptest.NewLogger(t)
	ledger := inventory.NewLedger(db, logger)
	events := &queuetest.EventRecorder{}
	orders := order.NewService(db, ledger, fulfillment.NewPipeline(db, ledger, events, logger), events, logger)
	provider := &fakeProvider{}
	svc := checkout.NewService(db, checkout.NewValidator(db), ledger, orders, provider, checkout.Config{
		Shipping: checkout.ShippingPolicy{FreeThreshold: 40000, Flat: 4500},
	}, logger)
	return &fixture{db: db, provider: provider, svc: svc}
}

var shipTo = checkout.Address{Street: "Av. Siempre Viva 742", City: "Santiago", State: "RM", Phone: "+56911111111"}

func loadOrder(t *testing.T, db *gorm.DB, orderNo string) model.Order {
	var o model.Order
	require.NoError(t, db.Preload("Items").Where("order_no = ?", orderNo).First(&o).Error)
	return o
}

// 访客配送订单：运费 4500，服务端单价，托管支付页包含运费行。
func TestGuestCheckoutWithShipping(t *testing.T) {
	f := newFixture(t)
	p := testutil.SeedProduct(t, f.db, "bleu", model.Variant{Volume: 5, Price: 15000, Stock: 5})

	res, err := f.svc.Checkout(context.Background(), checkout.Request{
		Lines:    []checkout.CartLine{{ProductID: p.ID, VariantID: p.Variants[0].ID, Quantity: 2}},
		Delivery: model.DeliveryShipping,
		Address:  shipTo,
		Identity: checkout.GuestCheckout{Email: " Guest@Example.com "},
	})
	require.NoError(t, err)
	assert.Equal(t, "https://mp.example/init/"+res.OrderNo, res.CheckoutURL)

	o := loadOrder(t, f.db, res.OrderNo)
	assert.Equal(t, model.OrderPending, o.Status)
	assert.Equal(t, int64(30000), o.Subtotal)
	assert.Equal(t, int64(4500), o.ShippingCost)
	assert.Equal(t, int64(34500), o.Total)
	assert.Equal(t, "guest@example.com", o.GuestEmail)
	assert.Nil(t, o.UserID)
	assert.Equal(t, "pref-"+res.OrderNo, o.PreferenceID)
	assert.Empty(t, o.Payment.TransactionID)
	require.NoError(t, o.CheckInvariants())

	require.Equal(t, 1, f.provider.calls())
	req := f.provider.reqs[0]
	assert.Equal(t, "guest@example.com", req.PayerEmail)
	assert.True(t, req.Guest)
	assert.Equal(t, res.OrderNo, req.OrderNo)
	require.Len(t, req.Items, 2)
	assert.Equal(t, payment.PreferenceItem{ID: "shipping", Title: "Envío", Quantity: 1, UnitPrice: 4500}, req.Items[1])

	assert.Equal(t, int64(2), testutil.ReloadVariant(t, f.db, p.Variants[0].ID).Reserved)
	assert.Equal(t, int64(5), testutil.ReloadVariant(t, f.db, p.Variants[0].ID).Stock)
}

// 登录用户自取且达到包邮阈值：运费 0，地址替换为门店，保留电话。
func TestAuthenticatedPickupFreeShipping(t *testing.T) {
	f := newFixture(t)
	u := testutil.SeedUser(t, f.db, "ana@example.com")
	p := testutil.SeedProduct(t, f.db, "aventus", model.Variant{Volume: 10, Price: 25000, Stock: 5})

	res, err := f.svc.Checkout(context.Background(), checkout.Request{
		Lines:    []checkout.CartLine{{ProductID: p.ID, VariantID: p.Variants[0].ID, Quantity: 2}},
		Delivery: model.DeliveryPickup,
		Address:  checkout.Address{Phone: "+56922222222"},
		Identity: checkout.AuthenticatedCheckout{UserID: u.ID},
	})
	require.NoError(t, err)

	o := loadOrder(t, f.db, res.OrderNo)
	require.NotNil(t, o.UserID)
	assert.Equal(t, u.ID, *o.UserID)
	assert.Empty(t, o.GuestEmail)
	assert.Zero(t, o.ShippingCost)
	assert.Equal(t, int64(50000), o.Total)
	assert.Equal(t, model.ShippingAddress{Street: "Retiro en persona", City: "Los Andes", State: "Valparaíso", Phone: "+56922222222"}, o.ShippingAddress)

	req := f.provider.reqs[0]
	assert.Equal(t, "ana@example.com", req.PayerEmail)
	assert.False(t, req.Guest)
	assert.Len(t, req.Items, 1)
}

func TestShippingQuote(t *testing.T) {
	policy := checkout.ShippingPolicy{FreeThreshold: 40000, Flat: 4500}
	assert.Equal(t, int64(4500), policy.Quote(model.DeliveryShipping, 39999))
	assert.Equal(t, int64(0), policy.Quote(model.DeliveryShipping, 40000))
	assert.Equal(t, int64(0), policy.Quote(model.DeliveryPickup, 100))
}

// 库存不足：不创建订单，不调用支付渠道。
func TestCheckoutInsufficientStock(t *testing.T) {
	f := newFixture(t)
	p := testutil.SeedProduct(t, f.db, "oud", model.Variant{Volume: 3, Price: 9000, Stock: 1})

	_, err := f.svc.Checkout(context.Background(), checkout.Request{
		Lines:    []checkout.CartLine{{ProductID: p.ID, VariantID: p.Variants[0].ID, Quantity: 2}},
		Delivery: model.DeliveryShipping,
		Address:  shipTo,
		Identity: checkout.GuestCheckout{Email: "g@example.com"},
	})
	require.ErrorIs(t, err, inventory.ErrInsufficientStock)
	var ce *checkout.CartError
	require.ErrorAs(t, err, &ce)
	assert.Contains(t, ce.Message, "oud")
	assert.True(t, checkout.IsValidation(err))

	var n int64
	require.NoError(t, f.db.Model(&model.Order{}).Count(&n).Error)
	assert.Zero(t, n)
	assert.Zero(t, f.provider.calls())
}

func TestCheckoutPreconditionsInOrder(t *testing.T) {
	f := newFixture(t)
	p := testutil.SeedProduct(t, f.db, "musk", model.Variant{Volume: 5, Price: 5000, Stock: 3})
	line := []checkout.CartLine{{ProductID: p.ID, VariantID: p.Variants[0].ID, Quantity: 1}}
	guest := checkout.GuestCheckout{Email: "g@example.com"}

	cases := []struct {
		name string
		req  checkout.Request
		want error
	}{
		{"empty cart beats everything", checkout.Request{Delivery: "drone"}, checkout.ErrEmptyCart},
		{"delivery before address", checkout.Request{Lines: line, Delivery: "drone"}, checkout.ErrInvalidDelivery},
		{"address before identity", checkout.Request{Lines: line, Delivery: model.DeliveryShipping, Address: checkout.Address{Street: "x"}}, checkout.ErrIncompleteAddress},
		{"pickup needs phone", checkout.Request{Lines: line, Delivery: model.DeliveryPickup, Identity: guest}, checkout.ErrPhoneRequired},
		{"guest needs email", checkout.Request{Lines: line, Delivery: model.DeliveryShipping, Address: shipTo, Identity: checkout.GuestCheckout{}}, checkout.ErrEmailRequired},
		{"stale account", checkout.Request{Lines: line, Delivery: model.DeliveryShipping, Address: shipTo, Identity: checkout.AuthenticatedCheckout{UserID: 999}}, checkout.ErrUnknownAccount},
		{"zero quantity", checkout.Request{Lines: []checkout.CartLine{{ProductID: p.ID, VariantID: p.Variants[0].ID}}, Delivery: model.DeliveryShipping, Address: shipTo, Identity: guest}, checkout.ErrInvalidQuantity},
		{"unknown product", checkout.Request{Lines: []checkout.CartLine{{ProductID: 999, VariantID: 1, Quantity: 1}}, Delivery: model.DeliveryShipping, Address: shipTo, Identity: guest}, inventory.ErrProductNotFound},
		{"unknown variant", checkout.Request{Lines: []checkout.CartLine{{ProductID: p.ID, VariantID: 999, Quantity: 1}}, Delivery: model.DeliveryShipping, Address: shipTo, Identity: guest}, inventory.ErrVariantNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Checkout(context.Background(), tc.req)
			assert.ErrorIs(t, err, tc.want)
		})
	}
	assert.Zero(t, f.provider.calls())
}

// 支付渠道失败：订单取消并释放预占，返回 ErrProviderUnavailable。
func TestCheckoutProviderFailureCompensates(t *testing.T) {
	f := newFixture(t)
	f.provider.fail = errors.New("mercadopago 503")
	p := testutil.SeedProduct(t, f.db, "iris", model.Variant{Volume: 5, Price: 7000, Stock: 2})

	_, err := f.svc.Checkout(context.Background(), checkout.Request{
		Lines:    []checkout.CartLine{{ProductID: p.ID, VariantID: p.Variants[0].ID, Quantity: 2}},
		Delivery: model.DeliveryShipping,
		Address:  shipTo,
		Identity: checkout.GuestCheckout{Email: "g@example.com"},
	})
	require.ErrorIs(t, err, checkout.ErrProviderUnavailable)
	assert.False(t, checkout.IsValidation(err))

	var orders []model.Order
	require.NoError(t, f.db.Find(&orders).Error)
	require.Len(t, orders, 1)
	assert.Equal(t, model.OrderCancelled, orders[0].Status)
	assert.Equal(t, order.ReasonProviderUnavailable, orders[0].FailureReason)
	assert.Equal(t, int64(0), testutil.ReloadVariant(t, f.db, p.Variants[0].ID).Reserved)
}

// 后续改价不影响已创建订单的金额。
func TestOrderKeepsSnapshotPrices(t *testing.T) {
	f := newFixture(t)
	p := testutil.SeedProduct(t, f.db, "neroli", model.Variant{Volume: 10, Price: 12000, Stock: 4})

	res, err := f.svc.Checkout(context.Background(), checkout.Request{
		Lines:    []checkout.CartLine{{ProductID: p.ID, VariantID: p.Variants[0].ID, Quantity: 1}, {ProductID: p.ID, VariantID: p.Variants[0].ID, Quantity: 2}},
		Delivery: model.DeliveryShipping,
		Address:  shipTo,
		Identity: checkout.GuestCheckout{Email: "g@example.com"},
	})
	require.NoError(t, err)
	require.NoError(t, f.db.Model(&model.Variant{}).Where("id = ?", p.Variants[0].ID).Update("price", 99999).Error)

	o := loadOrder(t, f.db, res.OrderNo)
	require.Len(t, o.Items, 1, "duplicate lines are merged")
	assert.Equal(t, 3, o.Items[0].Quantity)
	assert.Equal(t, int64(12000), o.Items[0].Price)
	assert.Equal(t, int64(36000+4500), o.Total)
	require.NoError(t, o.CheckInvariants())
}

// 最后一件商品并发结账：恰好一个成功。
func TestConcurrentCheckoutForLastUnit(t *testing.T) {
	f := newFixture(t)
	p := testutil.SeedProduct(t, f.db, "rare", model.Variant{Volume: 3, Price: 20000, Stock: 1})

	const buyers = 6
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		rejected  int
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Checkout(context.Background(), checkout.Request{
				Lines:    []checkout.CartLine{{ProductID: p.ID, VariantID: p.Variants[0].ID, Quantity: 1}},
				Delivery: model.DeliveryShipping,
				Address:  shipTo,
				Identity: checkout.GuestCheckout{Email: "g@example.com"},
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
			} else if errors.Is(err, inventory.ErrInsufficientStock) {
				rejected++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, buyers-1, rejected)
	v := testutil.ReloadVariant(t, f.db, p.Variants[0].ID)
	assert.Equal(t, int64(1), v.Reserved)
	assert.Equal(t, int64(1), v.Stock)
}

func TestRefreshClampsAndDrops(t *testing.T) {
	f := newFixture(t)
	p := testutil.SeedProduct(t, f.db, "vetiver",
		model.Variant{Volume: 5, Price: 6000, Stock: 2},
		model.Variant{Volume: 10, Price: 11000, Stock: 0},
	)
	v := checkout.NewValidator(f.db)

	res, err := v.Refresh(context.Background(), []checkout.CartLine{
		{ProductID: p.ID, VariantID: p.Variants[0].ID, Quantity: 5},
		{ProductID: p.ID, VariantID: p.Variants[1].ID, Quantity: 1},
		{ProductID: 999, VariantID: 1, Quantity: 1},
	})
	require.NoError(t, err)
	assert.True(t, res.Changed)
	require.Len(t, res.Items, 2)
	assert.Equal(t, 2, res.Items[0].Quantity)
	assert.True(t, res.Items[0].Available)
	assert.Equal(t, 0, res.Items[1].Quantity)
	assert.False(t, res.Items[1].Available)
	assert.Equal(t, int64(12000), res.Total)

	same, err := v.Refresh(context.Background(), []checkout.CartLine{{ProductID: p.ID, VariantID: p.Variants[0].ID, Quantity: 1}})
	require.NoError(t, err)
	assert.False(t, same.Changed)
}

func TestRefreshMergesDuplicateVariants(t *testing.T) {
	f := newFixture(t)
	p := testutil.SeedProduct(t, f.db, "iris", model.Variant{Volume: 5, Price: 7000, Stock: 4})
	v := checkout.NewValidator(f.db)
	vid := p.Variants[0].ID

	res, err := v.Refresh(context.Background(), []checkout.CartLine{
		{ProductID: p.ID, VariantID: vid, Quantity: 2},
		{ProductID: p.ID, VariantID: vid, Quantity: 3},
		{ProductID: p.ID, VariantID: vid, Quantity: -1},
	})
	require.NoError(t, err)
	assert.True(t, res.Changed)
	require.Len(t, res.Items, 1)
	// 2+3 合并后再截断到库存 4
	assert.Equal(t, 4, res.Items[0].Quantity)
	assert.Equal(t, int64(28000), res.Total)

	merged, err := v.Refresh(context.Background(), []checkout.CartLine{
		{ProductID: p.ID, VariantID: vid, Quantity: 1},
		{ProductID: p.ID, VariantID: vid, Quantity: 1},
	})
	require.NoError(t, err)
	assert.True(t, merged.Changed)
	require.Len(t, merged.Items, 1)
	assert.Equal(t, 2, merged.Items[0].Quantity)
}
