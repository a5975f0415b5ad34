package inventory

import (
	"context"
	"errors"
	"fmt"

	"decant_shop/internal/metrics"
	"decant_shop/internal/model"
	"decant_shop/internal/notify"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	// LowStockThreshold 规格库存不高于该值时提醒管理员
	LowStockThreshold = 5
	// lowStatusBelow 商品总库存低于该值时状态为 low_stock
	lowStatusBelow = 7
)

var (
	ErrProductNotFound   = errors.New("product not found")
	ErrVariantNotFound   = errors.New("variant not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidQuantity   = errors.New("quantity must be >= 1")
)

// StockError 标明是哪一行库存不足，便于前端提示。
type StockError struct {
	ProductID uint
	VariantID uint
	Err       error
}

func (e *StockError) Error() string {
	return fmt.Sprintf("product %d variant %d: %v", e.ProductID, e.VariantID, e.Err)
}

func (e *StockError) Unwrap() error { return e.Err }

// StatusFor 由总库存推导商品状态。
func StatusFor(total int64) model.ProductStatus {
	switch {
	case total <= 0:
		return model.ProductOutOfStock
	case total < lowStatusBelow:
		return model.ProductLowStock
	default:
		return model.ProductInStock
	}
}

// Line 一行库存占用。
type Line struct {
	ProductID uint
	VariantID uint
	Quantity  int
}

// ApplyResult 订单扣减结果。Skipped > 0 表示部分行对应的商品已不存在。
type ApplyResult struct {
	Applied int
	Skipped int
}

func (r ApplyResult) Partial() bool { return r.Skipped > 0 }

// Ledger 规格库存账本。所有写方法都接收调用方的事务。
type Ledger struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewLedger(db *gorm.DB, logger *zap.Logger) *Ledger {
	return &Ledger{db: db, logger: logger}
}

// Reserve 原子地为每一行占用库存：只有 stock - reserved >= q 时才更新。
// 任一行失败返回 ErrInsufficientStock，调用方回滚整个事务。
func (l *Ledger) Reserve(ctx context.Context, tx *gorm.DB, lines []Line) error {
	for _, ln := range lines {
		if ln.Quantity < 1 {
			return &StockError{ProductID: ln.ProductID, VariantID: ln.VariantID, Err: ErrInvalidQuantity}
		}
		res := tx.WithContext(ctx).Model(&model.Variant{}).
			Where("id = ? AND product_id = ? AND stock - reserved >= ?", ln.VariantID, ln.ProductID, ln.Quantity).
			UpdateColumn("reserved", gorm.Expr("reserved + ?", ln.Quantity))
		if res.Error != nil {
			return fmt.Errorf("reserve variant %d: %w", ln.VariantID, res.Error)
		}
		if res.RowsAffected == 0 {
			return &StockError{ProductID: ln.ProductID, VariantID: ln.VariantID, Err: ErrInsufficientStock}
		}
	}
	return nil
}

// Release 归还订单占用，结果不低于 0。
func (l *Ledger) Release(ctx context.Context, tx *gorm.DB, items []model.OrderItem) error {
	for _, it := range items {
		err := tx.WithContext(ctx).Model(&model.Variant{}).
			Where("id = ? AND product_id = ?", it.VariantID, it.ProductID).
			UpdateColumn("reserved", clampedSub("reserved", it.Quantity)).Error
		if err != nil {
			return fmt.Errorf("release variant %d: %w", it.VariantID, err)
		}
	}
	return nil
}

// DecrementStock 支付成功后扣减：库存与占用各减 qty 并截断到 0，sold 累加，重算商品状态。
// 规格库存 <= LowStockThreshold 时在同一事务内写一条管理员通知。
func (l *Ledger) DecrementStock(ctx context.Context, tx *gorm.DB, productID, variantID uint, qty int) error {
	if qty < 1 {
		return ErrInvalidQuantity
	}
	tx = tx.WithContext(ctx)

	var p model.Product
	if err := tx.Select("id", "name").First(&p, productID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrProductNotFound
		}
		return err
	}
	var v model.Variant
	if err := tx.Where("id = ? AND product_id = ?", variantID, productID).First(&v).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrVariantNotFound
		}
		return err
	}

	// 先更新商品行：同一商品的并发扣减在此串行，后续汇总读到的是最新库存
	if err := tx.Model(&model.Product{}).Where("id = ?", productID).
		UpdateColumn("sold", gorm.Expr("sold + ?", qty)).Error; err != nil {
		return fmt.Errorf("update sold: %w", err)
	}
	if err := tx.Model(&model.Variant{}).Where("id = ?", variantID).
		UpdateColumns(map[string]any{
			"stock":    clampedSub("stock", qty),
			"reserved": clampedSub("reserved", qty),
		}).Error; err != nil {
		return fmt.Errorf("decrement variant %d: %w", variantID, err)
	}

	if _, err := l.recomputeStatus(tx, productID); err != nil {
		return err
	}

	if err := tx.First(&v, variantID).Error; err != nil {
		return err
	}
	if v.Stock <= LowStockThreshold {
		n := notify.LowStock(&p, &v)
		if err := tx.Create(&n).Error; err != nil {
			return fmt.Errorf("low stock notification: %w", err)
		}
	}
	return nil
}

// ApplyOrder 按订单行扣减库存。商品或规格已删除的行记录日志并跳过。
func (l *Ledger) ApplyOrder(ctx context.Context, tx *gorm.DB, o *model.Order) (ApplyResult, error) {
	var res ApplyResult
	for _, it := range o.Items {
		err := l.DecrementStock(ctx, tx, it.ProductID, it.VariantID, it.Quantity)
		switch {
		case err == nil:
			res.Applied++
		case errors.Is(err, ErrProductNotFound), errors.Is(err, ErrVariantNotFound):
			res.Skipped++
			l.logger.Warn("skip stock decrement for missing line",
				zap.String("order_no", o.OrderNo),
				zap.Uint("product_id", it.ProductID),
				zap.Uint("variant_id", it.VariantID),
				zap.Error(err))
		default:
			return res, fmt.Errorf("apply order %s: %w", o.OrderNo, err)
		}
	}
	if res.Skipped > 0 {
		metrics.RecordStockSkipped(res.Skipped)
	}
	return res, nil
}

// SetVariantStock 管理员直接设置规格库存，返回更新后的商品。
func (l *Ledger) SetVariantStock(ctx context.Context, productID, variantID uint, stock int64) (*model.Product, error) {
	if stock < 0 {
		return nil, fmt.Errorf("stock must be >= 0")
	}
	var p model.Product
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Variant{}).
			Where("id = ? AND product_id = ?", variantID, productID).
			UpdateColumn("stock", stock)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var n int64
			if err := tx.Model(&model.Product{}).Where("id = ?", productID).Count(&n).Error; err != nil {
				return err
			}
			if n == 0 {
				return ErrProductNotFound
			}
			return ErrVariantNotFound
		}
		if _, err := l.recomputeStatus(tx, productID); err != nil {
			return err
		}
		return tx.Preload("Variants").First(&p, productID).Error
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// recomputeStatus 汇总规格库存并写回商品状态。
func (l *Ledger) recomputeStatus(tx *gorm.DB, productID uint) (int64, error) {
	var total int64
	if err := tx.Model(&model.Variant{}).
		Where("product_id = ?", productID).
		Select("COALESCE(SUM(stock), 0)").
		Scan(&total).Error; err != nil {
		return 0, fmt.Errorf("sum stock: %w", err)
	}
	if err := tx.Model(&model.Product{}).Where("id = ?", productID).
		UpdateColumn("status", StatusFor(total)).Error; err != nil {
		return 0, fmt.Errorf("update status: %w", err)
	}
	return total, nil
}

// clampedSub 生成 col - n 且不低于 0 的表达式（SQLite 与 Postgres 通用）。
func clampedSub(col string, n int) clause.Expr {
	return gorm.Expr("CASE WHEN "+col+" >= ? THEN "+col+" - ? ELSE 0 END", n, n)
}
