package router

import (
	"errors"
	"net/http"

	"decant_shop/internal/checkout"
	"decant_shop/internal/inventory"
	"decant_shop/internal/model"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// listProducts 商品列表，可按 category 过滤。
func listProducts(db *gorm.DB, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		q := db.WithContext(c.Request.Context()).Preload("Variants").Order("id")
		if cat := model.Category(c.Query("category")); cat != "" {
			if !cat.Valid() {
				fail(c, http.StatusBadRequest, "Categoría inválida")
				return
			}
			q = q.Where("category = ?", cat)
		}
		var list []model.Product
		if err := q.Find(&list).Error; err != nil {
			internalError(c, logger, "list products", err)
			return
		}
		ok(c, http.StatusOK, gin.H{"products": list})
	}
}

func getProduct(db *gorm.DB, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, valid := paramID(c, "id")
		if !valid {
			return
		}
		var p model.Product
		if err := db.WithContext(c.Request.Context()).Preload("Variants").First(&p, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				fail(c, http.StatusNotFound, "Producto no encontrado")
				return
			}
			internalError(c, logger, "get product", err)
			return
		}
		ok(c, http.StatusOK, gin.H{"product": p})
	}
}

// setVariantStock 管理员设置规格库存，商品状态随之重算。
func setVariantStock(ledger *inventory.Ledger, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		pid, valid := paramID(c, "id")
		if !valid {
			return
		}
		vid, valid := paramID(c, "variantId")
		if !valid {
			return
		}
		var req struct {
			Stock *int64 `json:"stock" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil || *req.Stock < 0 {
			fail(c, http.StatusBadRequest, "El stock debe ser un entero mayor o igual a 0")
			return
		}
		p, err := ledger.SetVariantStock(c.Request.Context(), pid, vid, *req.Stock)
		switch {
		case errors.Is(err, inventory.ErrProductNotFound):
			fail(c, http.StatusNotFound, "Producto no encontrado")
			return
		case errors.Is(err, inventory.ErrVariantNotFound):
			fail(c, http.StatusNotFound, "Variante no encontrada")
			return
		case err != nil:
			internalError(c, logger, "set variant stock", err)
			return
		}
		ok(c, http.StatusOK, gin.H{"product": p})
	}
}

// refreshCart 用实时库存与价格刷新购物车，不做严格校验。
func refreshCart(v *checkout.Validator, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Items []checkout.CartLine `json:"items" binding:"dive"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, "Carrito inválido")
			return
		}
		res, err := v.Refresh(c.Request.Context(), req.Items)
		if err != nil {
			internalError(c, logger, "refresh cart", err)
			return
		}
		ok(c, http.StatusOK, gin.H{"items": res.Items, "total": res.Total, "changed": res.Changed})
	}
}
