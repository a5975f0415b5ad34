package checkout

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"decant_shop/internal/inventory"
	"decant_shop/internal/metrics"
	"decant_shop/internal/model"
	"decant_shop/internal/order"
	"decant_shop/internal/payment"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Address 客户端提交的收货信息。
type Address struct {
	Street string `json:"street"`
	City   string `json:"city"`
	State  string `json:"state"`
	Phone  string `json:"phone"`
}

// Request 一次结账请求。
type Request struct {
	Lines    []CartLine
	Delivery model.DeliveryMethod
	Address  Address
	Identity Identity
}

// Result 返回给客户端的订单号与托管支付页。
type Result struct {
	OrderNo     string `json:"orderId"`
	CheckoutURL string `json:"checkout_url"`
}

// Service 结账编排：校验 → 预占库存并创建 pending 订单 → 创建支付偏好。
type Service struct {
	db        *gorm.DB
	validator *Validator
	ledger    *inventory.Ledger
	orders    *order.Service
	provider  payment.Provider
	shipping  ShippingPolicy
	pickup    PickupLocation
	timeout   time.Duration
	logger    *zap.Logger
}

// Config 结账相关的可调参数。
type Config struct {
	Shipping        ShippingPolicy
	Pickup          PickupLocation
	ProviderTimeout time.Duration
}

func NewService(db *gorm.DB, validator *Validator, ledger *inventory.Ledger, orders *order.Service,
	provider payment.Provider, cfg Config, logger *zap.Logger) *Service {
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = 10 * time.Second
	}
	if cfg.Pickup.Street == "" {
		cfg.Pickup = DefaultPickup
	}
	return &Service{
		db:        db,
		validator: validator,
		ledger:    ledger,
		orders:    orders,
		provider:  provider,
		shipping:  cfg.Shipping,
		pickup:    cfg.Pickup,
		timeout:   cfg.ProviderTimeout,
		logger:    logger,
	}
}

// Checkout 执行结账。校验类错误不会创建订单，也不会调用支付渠道。
func (s *Service) Checkout(ctx context.Context, req Request) (*Result, error) {
	res, err := s.checkout(ctx, req)
	switch {
	case err == nil:
		metrics.RecordCheckout("ok")
	case IsValidation(err), errors.Is(err, inventory.ErrInsufficientStock):
		metrics.RecordCheckout("rejected")
	case errors.Is(err, ErrUnknownAccount):
		metrics.RecordCheckout("unauthorized")
	default:
		metrics.RecordCheckout("error")
	}
	return res, err
}

func (s *Service) checkout(ctx context.Context, req Request) (*Result, error) {
	if len(req.Lines) == 0 {
		return nil, ErrEmptyCart
	}
	if !req.Delivery.Valid() {
		return nil, ErrInvalidDelivery
	}
	addr, pickupLabel, err := s.shippingAddress(req.Delivery, req.Address)
	if err != nil {
		return nil, err
	}
	userID, email, err := s.resolveIdentity(ctx, req.Identity)
	if err != nil {
		return nil, err
	}

	cart, err := s.validator.Validate(ctx, req.Lines)
	if err != nil {
		return nil, err
	}

	o := &model.Order{
		OrderNo:         uuid.NewString(),
		UserID:          userID,
		Items:           cart.Items,
		ShippingCost:    s.shipping.Quote(req.Delivery, cart.Subtotal),
		DeliveryMethod:  req.Delivery,
		PickupLocation:  pickupLabel,
		ShippingAddress: addr,
		Payment:         model.PaymentInfo{Method: model.PaymentMethodMercadoPago},
		Status:          model.OrderPending,
	}
	if userID == nil {
		o.GuestEmail = email
	}
	o.Recompute()
	if err := o.CheckInvariants(); err != nil {
		return nil, fmt.Errorf("build order: %w", err)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.ledger.Reserve(ctx, tx, cart.Lines()); err != nil {
			return err
		}
		return tx.Create(o).Error
	})
	if err != nil {
		if errors.Is(err, inventory.ErrInsufficientStock) {
			return nil, s.stockError(cart, err)
		}
		return nil, fmt.Errorf("create order: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	pref, err := s.provider.CreatePreference(pctx, s.preferenceFor(o, email))
	if err != nil {
		s.logger.Error("create payment preference",
			zap.String("order_no", o.OrderNo), zap.Error(err))
		// 补偿：取消订单并释放预占，不留悬挂订单
		if cerr := s.orders.FailCheckout(context.WithoutCancel(ctx), o.ID, order.ReasonProviderUnavailable); cerr != nil {
			s.logger.Error("compensate failed checkout", zap.String("order_no", o.OrderNo), zap.Error(cerr))
		}
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	if err := s.db.WithContext(ctx).Model(&model.Order{}).Where("id = ?", o.ID).
		UpdateColumn("preference_id", pref.ID).Error; err != nil {
		s.logger.Warn("store preference id", zap.String("order_no", o.OrderNo), zap.Error(err))
	}
	s.logger.Info("checkout created",
		zap.String("order_no", o.OrderNo),
		zap.Int64("total", o.Total),
		zap.Bool("guest", o.IsGuest()))
	return &Result{OrderNo: o.OrderNo, CheckoutURL: pref.InitPoint}, nil
}

// shippingAddress 自取时替换为门店地址，仅保留电话。
func (s *Service) shippingAddress(m model.DeliveryMethod, a Address) (model.ShippingAddress, string, error) {
	phone := strings.TrimSpace(a.Phone)
	if m == model.DeliveryPickup {
		if phone == "" {
			return model.ShippingAddress{}, "", ErrPhoneRequired
		}
		return model.ShippingAddress{
			Street: s.pickup.Street,
			City:   s.pickup.City,
			State:  s.pickup.State,
			Phone:  phone,
		}, s.pickup.Label, nil
	}
	addr := model.ShippingAddress{
		Street: strings.TrimSpace(a.Street),
		City:   strings.TrimSpace(a.City),
		State:  strings.TrimSpace(a.State),
		Phone:  phone,
	}
	if addr.Street == "" || addr.City == "" || addr.State == "" || addr.Phone == "" {
		return model.ShippingAddress{}, "", ErrIncompleteAddress
	}
	return addr, "", nil
}

func (s *Service) resolveIdentity(ctx context.Context, id Identity) (*uint, string, error) {
	switch v := id.(type) {
	case GuestCheckout:
		email := strings.ToLower(strings.TrimSpace(v.Email))
		if email == "" {
			return nil, "", ErrEmailRequired
		}
		return nil, email, nil
	case AuthenticatedCheckout:
		var u model.User
		if err := s.db.WithContext(ctx).Select("id", "email").First(&u, v.UserID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, "", ErrUnknownAccount
			}
			return nil, "", err
		}
		uid := u.ID
		return &uid, u.Email, nil
	default:
		return nil, "", ErrEmailRequired
	}
}

func (s *Service) preferenceFor(o *model.Order, email string) payment.PreferenceRequest {
	items := make([]payment.PreferenceItem, 0, len(o.Items)+1)
	for _, it := range o.Items {
		items = append(items, payment.PreferenceItem{
			ID:        strconv.FormatUint(uint64(it.VariantID), 10),
			Title:     fmt.Sprintf("%s %dml", it.Name, it.Volume),
			Quantity:  it.Quantity,
			UnitPrice: it.Price,
		})
	}
	if o.ShippingCost > 0 {
		items = append(items, payment.PreferenceItem{
			ID:        "shipping",
			Title:     "Envío",
			Quantity:  1,
			UnitPrice: o.ShippingCost,
		})
	}
	return payment.PreferenceRequest{
		Items:      items,
		PayerEmail: email,
		OrderNo:    o.OrderNo,
		Guest:      o.IsGuest(),
	}
}

// stockError 预占失败时补上商品名，便于用户理解。
func (s *Service) stockError(cart *Cart, err error) error {
	var se *inventory.StockError
	if errors.As(err, &se) {
		for _, it := range cart.Items {
			if it.VariantID == se.VariantID {
				return &CartError{ProductID: it.ProductID, VariantID: it.VariantID,
					Message: fmt.Sprintf("Stock insuficiente para %s %dml", it.Name, it.Volume),
					Err:     inventory.ErrInsufficientStock}
			}
		}
	}
	return &CartError{Message: "Stock insuficiente", Err: inventory.ErrInsufficientStock}
}
