package router

import (
	"net/http"
	"strings"

	"decant_shop/internal/model"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func listAddresses(db *gorm.DB, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var list []model.Address
		err := db.WithContext(c.Request.Context()).
			Where("user_id = ?", mustUser(c).UserID).
			Order("is_default DESC, id").
			Find(&list).Error
		if err != nil {
			internalError(c, logger, "list addresses", err)
			return
		}
		ok(c, http.StatusOK, gin.H{"addresses": list})
	}
}

// createAddress 第一个地址自动设为默认。
func createAddress(db *gorm.DB, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Label  string `json:"label"`
			Street string `json:"street"`
			City   string `json:"city"`
			State  string `json:"state"`
			Phone  string `json:"phone"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, "Datos inválidos")
			return
		}
		a := model.Address{
			UserID: mustUser(c).UserID,
			Label:  strings.TrimSpace(req.Label),
			Street: strings.TrimSpace(req.Street),
			City:   strings.TrimSpace(req.City),
			State:  strings.TrimSpace(req.State),
			Phone:  strings.TrimSpace(req.Phone),
		}
		if a.Street == "" || a.City == "" || a.State == "" || a.Phone == "" {
			fail(c, http.StatusBadRequest, "La dirección está incompleta")
			return
		}
		if a.Label == "" {
			a.Label = "Casa"
		}
		err := db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
			var n int64
			if err := tx.Model(&model.Address{}).Where("user_id = ?", a.UserID).Count(&n).Error; err != nil {
				return err
			}
			a.IsDefault = n == 0
			return tx.Create(&a).Error
		})
		if err != nil {
			internalError(c, logger, "create address", err)
			return
		}
		ok(c, http.StatusCreated, gin.H{"address": a})
	}
}

// updateAddress 部分更新；设为默认时取消其他地址的默认标记。
func updateAddress(db *gorm.DB, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, valid := paramID(c, "id")
		if !valid {
			return
		}
		var req struct {
			Label     *string `json:"label"`
			Street    *string `json:"street"`
			City      *string `json:"city"`
			State     *string `json:"state"`
			Phone     *string `json:"phone"`
			IsDefault *bool   `json:"isDefault"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, "Datos inválidos")
			return
		}
		uid := mustUser(c).UserID
		var a model.Address
		incomplete := false
		err := db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
			if err := tx.Where("id = ? AND user_id = ?", id, uid).Limit(1).Find(&a).Error; err != nil {
				return err
			}
			if a.ID == 0 {
				return nil
			}
			for _, f := range []struct {
				src *string
				dst *string
			}{{req.Label, &a.Label}, {req.Street, &a.Street}, {req.City, &a.City}, {req.State, &a.State}, {req.Phone, &a.Phone}} {
				if f.src != nil {
					*f.dst = strings.TrimSpace(*f.src)
				}
			}
			if a.Street == "" || a.City == "" || a.State == "" || a.Phone == "" {
				incomplete = true
				return nil
			}
			if a.Label == "" {
				a.Label = "Casa"
			}
			// 只能通过把另一个地址设为默认来取消默认
			if req.IsDefault != nil && *req.IsDefault && !a.IsDefault {
				if err := tx.Model(&model.Address{}).
					Where("user_id = ? AND id <> ?", uid, a.ID).
					Update("is_default", false).Error; err != nil {
					return err
				}
				a.IsDefault = true
			}
			return tx.Save(&a).Error
		})
		switch {
		case err != nil:
			internalError(c, logger, "update address", err)
			return
		case a.ID == 0:
			fail(c, http.StatusNotFound, "Dirección no encontrada")
			return
		case incomplete:
			fail(c, http.StatusBadRequest, "La dirección está incompleta")
			return
		}
		ok(c, http.StatusOK, gin.H{"address": a})
	}
}

// deleteAddress 删除默认地址时由最早的地址接替。
func deleteAddress(db *gorm.DB, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, valid := paramID(c, "id")
		if !valid {
			return
		}
		uid := mustUser(c).UserID
		found := true
		err := db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
			var a model.Address
			if err := tx.Where("id = ? AND user_id = ?", id, uid).Limit(1).Find(&a).Error; err != nil {
				return err
			}
			if a.ID == 0 {
				found = false
				return nil
			}
			if err := tx.Delete(&a).Error; err != nil {
				return err
			}
			if !a.IsDefault {
				return nil
			}
			var next model.Address
			if err := tx.Where("user_id = ?", uid).Order("id").Limit(1).Find(&next).Error; err != nil {
				return err
			}
			if next.ID == 0 {
				return nil
			}
			return tx.Model(&next).Update("is_default", true).Error
		})
		if err != nil {
			internalError(c, logger, "delete address", err)
			return
		}
		if !found {
			fail(c, http.StatusNotFound, "Dirección no encontrada")
			return
		}
		ok(c, http.StatusOK, nil)
	}
}
