package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"decant_shop/internal/model"
	"decant_shop/internal/notify"
	"decant_shop/internal/testutil"

	rd "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakePublisher struct {
	mu   sync.Mutex
	got  []OrderEvent
	fail error
}

func (f *fakePublisher) Publish(_ context.Context, ev OrderEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.got = append(f.got, ev)
	return nil
}

type fakeMailer struct {
	sent []notify.Email
	fail error
}

func (m *fakeMailer) Send(_ context.Context, e notify.Email) error {
	if m.fail != nil {
		return m.fail
	}
	m.sent = append(m.sent, e)
	return nil
}

func TestEventValidate(t *testing.T) {
	assert.Error(t, OrderEvent{Type: EventOrderPaid, OrderNo: "o"}.Validate())
	assert.Error(t, OrderEvent{EventID: "x", Type: EventOrderPaid}.Validate())
	assert.Error(t, OrderEvent{EventID: "x", Type: EventBackInStock}.Validate())
	assert.Error(t, OrderEvent{EventID: "x", Type: "order.shipped"}.Validate())
	assert.NoError(t, OrderEvent{EventID: "x", Type: EventBackInStock, ProductID: 3}.Validate())
	assert.Error(t, OrderEvent{EventID: "x", Type: EventDiscount}.Validate())
	assert.NoError(t, OrderEvent{EventID: "x", Type: EventDiscount, Email: "a@example.com"}.Validate())
}

func TestRelayForwardsAndAcks(t *testing.T) {
	_, rdb := testutil.NewRedis(t)
	ctx := context.Background()
	pub := &fakePublisher{}
	relay := NewRelay(rdb, pub, zaptest.NewLogger(t), "events", "relay", "relay-1")
	require.NoError(t, relay.ensureGroup(ctx))
	require.NoError(t, relay.ensureGroup(ctx), "BUSYGROUP is tolerated")

	outbox := NewOutbox(rdb, "events")
	ev := OrderEvent{
		EventID:    OrderEventID(EventOrderStatusChanged, "ord-1", "delivered"),
		Type:       EventOrderStatusChanged,
		OrderNo:    "ord-1",
		Status:     "delivered",
		Email:      "ana@example.com",
		OccurredAt: time.UnixMilli(1700000000000),
	}
	require.NoError(t, outbox.Append(ctx, ev))

	msgs, err := relay.readGroup(ctx, ">", -1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.NoError(t, relay.processOne(ctx, msgs[0]))

	require.Len(t, pub.got, 1)
	assert.Equal(t, ev, pub.got[0])
	n, err := rdb.XLen(ctx, "events").Result()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRelayKeepsMessageWhenPublishFails(t *testing.T) {
	_, rdb := testutil.NewRedis(t)
	ctx := context.Background()
	pub := &fakePublisher{fail: errors.New("broker down")}
	relay := NewRelay(rdb, pub, zaptest.NewLogger(t), "events", "relay", "relay-1")
	require.NoError(t, relay.ensureGroup(ctx))
	require.NoError(t, NewOutbox(rdb, "events").Append(ctx, OrderEvent{EventID: "e1", Type: EventOrderPaid, OrderNo: "o1"}))

	msgs, err := relay.readGroup(ctx, ">", -1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Error(t, relay.processOne(ctx, msgs[0]))

	pending, err := relay.readGroup(ctx, "0", -1)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestRelayDropsMalformed(t *testing.T) {
	_, rdb := testutil.NewRedis(t)
	ctx := context.Background()
	pub := &fakePublisher{}
	relay := NewRelay(rdb, pub, zaptest.NewLogger(t), "events", "relay", "relay-1")
	require.NoError(t, relay.ensureGroup(ctx))

	_, err := parseOrderEvent(map[string]interface{}{"type": "order.paid"})
	assert.Error(t, err)

	require.NoError(t, rdb.XAdd(ctx, &rd.XAddArgs{Stream: "events", Values: map[string]any{"type": "order.paid"}}).Err())
	msgs, err := relay.readGroup(ctx, ">", -1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.NoError(t, relay.processOne(ctx, msgs[0]))
	assert.Empty(t, pub.got)
}

func TestDispatcherSendsDeliveredOnce(t *testing.T) {
	db := testutil.NewDB(t)
	mailer := &fakeMailer{}
	d := NewDispatcher(db, mailer, zaptest.NewLogger(t))
	ctx := context.Background()

	ev := OrderEvent{
		EventID: OrderEventID(EventOrderStatusChanged, "ord-9", string(model.OrderDelivered)),
		Type:    EventOrderStatusChanged,
		OrderNo: "ord-9",
		Status:  string(model.OrderDelivered),
		Email:   "ana@example.com",
		Name:    "Ana",
	}
	require.NoError(t, d.Handle(ctx, ev))
	require.NoError(t, d.Handle(ctx, ev))
	require.Len(t, mailer.sent, 1)
	assert.Equal(t, "ana@example.com", mailer.sent[0].To)
	assert.Contains(t, mailer.sent[0].HTML, "ord-9")

	shipped := ev
	shipped.EventID = OrderEventID(EventOrderStatusChanged, "ord-9", "shipped")
	shipped.Status = "shipped"
	require.NoError(t, d.Handle(ctx, shipped))
	assert.Len(t, mailer.sent, 1)
}

func TestDispatcherRetriesAfterSendFailure(t *testing.T) {
	db := testutil.NewDB(t)
	mailer := &fakeMailer{fail: errors.New("resend 500")}
	d := NewDispatcher(db, mailer, zaptest.NewLogger(t))
	ctx := context.Background()
	ev := OrderEvent{EventID: StockEventID(4), Type: EventBackInStock, ProductID: 1, ProductName: "Oud", Email: "ana@example.com"}

	assert.Error(t, d.Handle(ctx, ev))
	var n int64
	require.NoError(t, db.Model(&model.EmailDispatch{}).Count(&n).Error)
	assert.Zero(t, n)

	mailer.fail = nil
	require.NoError(t, d.Handle(ctx, ev))
	assert.Len(t, mailer.sent, 1)
}

func TestDispatcherSendsDiscountOncePerCampaign(t *testing.T) {
	db := testutil.NewDB(t)
	mailer := &fakeMailer{}
	d := NewDispatcher(db, mailer, zaptest.NewLogger(t))
	ctx := context.Background()

	ev := OrderEvent{EventID: DiscountEventID("2026-10-19", 7), Type: EventDiscount, Email: "ana@example.com", Name: "Ana"}
	require.NoError(t, d.Handle(ctx, ev))
	require.NoError(t, d.Handle(ctx, ev))
	require.Len(t, mailer.sent, 1)
	assert.Contains(t, mailer.sent[0].HTML, "Ana")

	next := ev
	next.EventID = DiscountEventID("2026-10-26", 7)
	require.NoError(t, d.Handle(ctx, next))
	assert.Len(t, mailer.sent, 2)

	var row model.EmailDispatch
	require.NoError(t, db.Where("event_id = ?", ev.EventID).First(&row).Error)
	assert.Equal(t, "discount", row.Kind)
}

type countingHandler struct {
	calls int
	okAt  int
}

func (h *countingHandler) Handle(context.Context, OrderEvent) error {
	h.calls++
	if h.calls >= h.okAt {
		return nil
	}
	return errors.New("transient")
}

func TestHandleWithRetry(t *testing.T) {
	h := &countingHandler{okAt: 2}
	c := &Consumer{handler: h, logger: zaptest.NewLogger(t), maxRetries: 3}
	require.NoError(t, c.handleWithRetry(context.Background(), OrderEvent{EventID: "e"}))
	assert.Equal(t, 2, h.calls)
}
