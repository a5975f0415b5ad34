package checkout

import (
	"context"
	"fmt"

	"decant_shop/internal/inventory"
	"decant_shop/internal/model"

	"gorm.io/gorm"
)

// CartLine 客户端提交的购物车行，价格一律以服务端为准。
type CartLine struct {
	ProductID uint `json:"productId" binding:"required"`
	VariantID uint `json:"variantId" binding:"required"`
	Quantity  int  `json:"quantity"`
}

// Cart 校验通过的购物车，Items 已带快照单价。
type Cart struct {
	Items    []model.OrderItem
	Subtotal int64
}

// Lines 转换为库存预占行。
func (c *Cart) Lines() []inventory.Line {
	out := make([]inventory.Line, 0, len(c.Items))
	for _, it := range c.Items {
		out = append(out, inventory.Line{ProductID: it.ProductID, VariantID: it.VariantID, Quantity: it.Quantity})
	}
	return out
}

// ShippingPolicy 运费策略。
type ShippingPolicy struct {
	FreeThreshold int64
	Flat          int64
}

// Quote 自取免运费；配送时小计达到阈值包邮。
func (p ShippingPolicy) Quote(method model.DeliveryMethod, subtotal int64) int64 {
	if method == model.DeliveryPickup || subtotal >= p.FreeThreshold {
		return 0
	}
	return p.Flat
}

// PickupLocation 门店自取地址。
type PickupLocation struct {
	Label  string
	Street string
	City   string
	State  string
}

var DefaultPickup = PickupLocation{
	Label:  "Los Andes",
	Street: "Retiro en persona",
	City:   "Los Andes",
	State:  "Valparaíso",
}

// Validator 用实时库存与价格校验购物车。
type Validator struct {
	db *gorm.DB
}

func NewValidator(db *gorm.DB) *Validator {
	return &Validator{db: db}
}

// Validate 严格校验：任一行商品或规格不存在、数量超过可售都返回错误。
// 同一规格的多行会先合并。
func (v *Validator) Validate(ctx context.Context, lines []CartLine) (*Cart, error) {
	if len(lines) == 0 {
		return nil, ErrEmptyCart
	}
	merged, err := mergeLines(lines)
	if err != nil {
		return nil, err
	}
	products, err := v.loadProducts(ctx, merged)
	if err != nil {
		return nil, err
	}

	cart := &Cart{Items: make([]model.OrderItem, 0, len(merged))}
	for _, ln := range merged {
		p, ok := products[ln.ProductID]
		if !ok {
			return nil, &CartError{ProductID: ln.ProductID, VariantID: ln.VariantID,
				Message: "Producto no encontrado", Err: inventory.ErrProductNotFound}
		}
		variant, ok := p.FindVariant(ln.VariantID)
		if !ok {
			return nil, &CartError{ProductID: ln.ProductID, VariantID: ln.VariantID,
				Message: fmt.Sprintf("Variante no encontrada para %s", p.Name), Err: inventory.ErrVariantNotFound}
		}
		if avail := variant.Available(); int64(ln.Quantity) > avail {
			return nil, &CartError{ProductID: ln.ProductID, VariantID: ln.VariantID,
				Message: fmt.Sprintf("Stock insuficiente para %s %dml (disponible: %d)", p.Name, variant.Volume, avail),
				Err:     inventory.ErrInsufficientStock}
		}
		item := model.OrderItem{
			ProductID: p.ID,
			VariantID: variant.ID,
			Name:      p.Name,
			Image:     p.Image,
			Volume:    variant.Volume,
			Price:     variant.Price,
			Quantity:  ln.Quantity,
		}
		cart.Items = append(cart.Items, item)
		cart.Subtotal += item.LineTotal()
	}
	return cart, nil
}

// RefreshedLine 刷新后的购物车行。
type RefreshedLine struct {
	ProductID uint   `json:"productId"`
	VariantID uint   `json:"variantId"`
	Name      string `json:"name"`
	Image     string `json:"image"`
	Volume    int    `json:"volume"`
	Price     int64  `json:"price"`
	Stock     int64  `json:"stock"`
	Quantity  int    `json:"quantity"`
	Available bool   `json:"available"`
}

// RefreshResult Changed 表示有行被删除或数量被调整。
type RefreshResult struct {
	Items   []RefreshedLine `json:"items"`
	Total   int64           `json:"total"`
	Changed bool            `json:"changed"`
}

// Refresh 宽松校验：丢弃不存在或数量为负的行，合并重复规格，数量截断到可售数量。
// 数量为 0 的行保留，用于展示已售罄的商品。
func (v *Validator) Refresh(ctx context.Context, lines []CartLine) (*RefreshResult, error) {
	out := &RefreshResult{Items: make([]RefreshedLine, 0, len(lines))}
	valid := make([]CartLine, 0, len(lines))
	for _, ln := range lines {
		if ln.Quantity < 0 {
			out.Changed = true
			continue
		}
		valid = append(valid, ln)
	}
	lines = sumDuplicates(valid)
	if len(lines) != len(valid) {
		out.Changed = true
	}
	if len(lines) == 0 {
		return out, nil
	}
	products, err := v.loadProducts(ctx, lines)
	if err != nil {
		return nil, err
	}
	for _, ln := range lines {
		p, ok := products[ln.ProductID]
		if !ok {
			out.Changed = true
			continue
		}
		variant, ok := p.FindVariant(ln.VariantID)
		if !ok {
			out.Changed = true
			continue
		}
		avail := variant.Available()
		qty := ln.Quantity
		if int64(qty) > avail {
			qty = int(avail)
		}
		if qty < 0 {
			qty = 0
		}
		if qty != ln.Quantity {
			out.Changed = true
		}
		out.Total += variant.Price * int64(qty)
		out.Items = append(out.Items, RefreshedLine{
			ProductID: p.ID,
			VariantID: variant.ID,
			Name:      p.Name,
			Image:     p.Image,
			Volume:    variant.Volume,
			Price:     variant.Price,
			Stock:     avail,
			Quantity:  qty,
			Available: avail > 0,
		})
	}
	return out, nil
}

func (v *Validator) loadProducts(ctx context.Context, lines []CartLine) (map[uint]*model.Product, error) {
	ids := make([]uint, 0, len(lines))
	for _, ln := range lines {
		ids = append(ids, ln.ProductID)
	}
	var list []model.Product
	if err := v.db.WithContext(ctx).Preload("Variants").Where("id IN ?", ids).Find(&list).Error; err != nil {
		return nil, fmt.Errorf("load products: %w", err)
	}
	out := make(map[uint]*model.Product, len(list))
	for i := range list {
		out[list[i].ID] = &list[i]
	}
	return out, nil
}

// mergeLines 校验数量后合并重复行。
func mergeLines(lines []CartLine) ([]CartLine, error) {
	for _, ln := range lines {
		if ln.Quantity < 1 {
			return nil, &CartError{ProductID: ln.ProductID, VariantID: ln.VariantID,
				Message: "La cantidad debe ser al menos 1", Err: ErrInvalidQuantity}
		}
	}
	return sumDuplicates(lines), nil
}

// sumDuplicates 合并同一规格的重复行，保持首次出现的顺序。
func sumDuplicates(lines []CartLine) []CartLine {
	type key struct{ p, v uint }
	index := make(map[key]int, len(lines))
	out := make([]CartLine, 0, len(lines))
	for _, ln := range lines {
		k := key{ln.ProductID, ln.VariantID}
		if i, ok := index[k]; ok {
			out[i].Quantity += ln.Quantity
			continue
		}
		index[k] = len(out)
		out = append(out, ln)
	}
	return out
}
