// Package testutil 提供测试用的内存数据库、Redis 与数据构造。
package testutil

import (
	"fmt"
	"testing"
	"time"

	"decant_shop/internal/database"
	"decant_shop/internal/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	rd "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDB 每个测试独立的共享缓存内存库，单连接保证事务串行。
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, database.Migrate(db))
	return db
}

// NewRedis 启动 miniredis 并返回客户端。
func NewRedis(t *testing.T) (*miniredis.Miniredis, *rd.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := rd.NewClient(&rd.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

// SeedProduct 创建一个商品及其规格，价格与库存按 volume 顺序给出。
func SeedProduct(t *testing.T, db *gorm.DB, name string, variants ...model.Variant) *model.Product {
	t.Helper()
	var total int64
	for _, v := range variants {
		total += v.Stock
	}
	status := model.ProductInStock
	switch {
	case total == 0:
		status = model.ProductOutOfStock
	case total < 7:
		status = model.ProductLowStock
	}
	p := &model.Product{
		Name:     name,
		Brand:    "Maison Test",
		Category: model.CategoryUnisex,
		Image:    "https://img.example/" + name + ".jpg",
		Status:   status,
		Variants: variants,
	}
	require.NoError(t, db.Create(p).Error)
	return p
}

// SeedUser 创建普通用户。
func SeedUser(t *testing.T, db *gorm.DB, email string) *model.User {
	t.Helper()
	u := &model.User{Email: email, PasswordHash: "x", Username: email}
	require.NoError(t, db.Create(u).Error)
	return u
}

// ReloadVariant 读取最新的规格行。
func ReloadVariant(t *testing.T, db *gorm.DB, id uint) model.Variant {
	t.Helper()
	var v model.Variant
	require.NoError(t, db.First(&v, id).Error)
	return v
}

// ReloadProduct 读取最新的商品行。
func ReloadProduct(t *testing.T, db *gorm.DB, id uint) model.Product {
	t.Helper()
	var p model.Product
	require.NoError(t, db.Preload("Variants").First(&p, id).Error)
	return p
}

// SeedPaidOrder 创建一个已支付的订单，库存占用按订单数量同步写入。
func SeedPaidOrder(t *testing.T, db *gorm.DB, userID *uint, guestEmail string, items ...model.OrderItem) *model.Order {
	t.Helper()
	now := time.Now()
	o := &model.Order{
		OrderNo:        uuid.NewString(),
		UserID:         userID,
		GuestEmail:     guestEmail,
		Items:          items,
		DeliveryMethod: model.DeliveryShipping,
		Status:         model.OrderPaid,
		Payment: model.PaymentInfo{
			Method:        model.PaymentMethodMercadoPago,
			TransactionID: uuid.NewString(),
			PaidAt:        &now,
		},
	}
	o.Recompute()
	require.NoError(t, db.Create(o).Error)
	for _, it := range items {
		require.NoError(t, db.Model(&model.Variant{}).Where("id = ?", it.VariantID).
			UpdateColumn("reserved", gorm.Expr("reserved + ?", it.Quantity)).Error)
	}
	return o
}

// ReloadOrder 读取最新订单（含订单行）。
func ReloadOrder(t *testing.T, db *gorm.DB, id uint) model.Order {
	t.Helper()
	var o model.Order
	require.NoError(t, db.Preload("Items").First(&o, id).Error)
	return o
}

// SeedPendingOrder 创建待支付订单并写入对应的库存占用。
func SeedPendingOrder(t *testing.T, db *gorm.DB, userID *uint, guestEmail string, items ...model.OrderItem) *model.Order {
	t.Helper()
	o := SeedPaidOrder(t, db, userID, guestEmail, items...)
	require.NoError(t, db.Model(&model.Order{}).Where("id = ?", o.ID).Updates(map[string]any{
		"status":                 model.OrderPending,
		"payment_transaction_id": "",
		"payment_paid_at":        nil,
	}).Error)
	o.Status = model.OrderPending
	o.Payment.TransactionID = ""
	o.Payment.PaidAt = nil
	return o
}
