package model

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// ProductStatus 由所有规格库存之和推导，不允许直接写入。
type ProductStatus string

const (
	ProductInStock    ProductStatus = "in_stock"
	ProductLowStock   ProductStatus = "low_stock"
	ProductOutOfStock ProductStatus = "out_of_stock"
)

// Category 香水适用人群。
type Category string

const (
	CategoryMen    Category = "men"
	CategoryWomen  Category = "women"
	CategoryUnisex Category = "unisex"
)

func (c Category) Valid() bool {
	switch c {
	case CategoryMen, CategoryWomen, CategoryUnisex:
		return true
	}
	return false
}

// Tag 香调标签，强度 1-10。
type Tag struct {
	Name      string `json:"name"`
	Intensity int    `json:"intensity"`
}

func (t Tag) Valid() bool {
	return strings.TrimSpace(t.Name) != "" && t.Intensity >= 1 && t.Intensity <= 10
}

// Product 香水商品，按分装规格（Variant）售卖。
type Product struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Name        string        `gorm:"size:128;not null" json:"name"`
	Description string        `gorm:"type:text" json:"description"`
	Brand       string        `gorm:"size:64;not null" json:"brand"`
	Category    Category      `gorm:"size:16;not null" json:"category"`
	Image       string        `gorm:"size:512" json:"image"`
	Tags        []Tag         `gorm:"serializer:json" json:"tags"`
	OnSale      bool          `gorm:"not null;default:false" json:"on_sale"`
	Sold        int64         `gorm:"not null;default:0" json:"sold"`
	Status      ProductStatus `gorm:"size:16;not null;index;default:out_of_stock" json:"status"`
	Variants    []Variant     `gorm:"constraint:OnDelete:CASCADE" json:"variants"`
}

func (Product) TableName() string { return "products" }

// TotalStock 累加已加载的规格库存。
func (p *Product) TotalStock() int64 {
	var total int64
	for _, v := range p.Variants {
		total += v.Stock
	}
	return total
}

// FindVariant 在已加载的规格中按 ID 查找。
func (p *Product) FindVariant(id uint) (*Variant, bool) {
	for i := range p.Variants {
		if p.Variants[i].ID == id {
			return &p.Variants[i], true
		}
	}
	return nil, false
}

// Variant 分装规格：容量（ml）、单价、库存。
// Reserved 为待支付订单占用的数量，可售 = Stock - Reserved。
type Variant struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ProductID uint  `gorm:"not null;index" json:"product_id"`
	Volume    int   `gorm:"not null" json:"volume"`
	Price     int64 `gorm:"not null" json:"price"` // CLP
	Stock     int64 `gorm:"not null;default:0" json:"stock"`
	Reserved  int64 `gorm:"not null;default:0" json:"reserved"`
}

func (Variant) TableName() string { return "variants" }

// Available 可售数量，不会小于 0。
func (v Variant) Available() int64 {
	if n := v.Stock - v.Reserved; n > 0 {
		return n
	}
	return 0
}

// ValidVolume 只允许 3/5/10 ml 三种分装。
func ValidVolume(ml int) bool {
	return ml == 3 || ml == 5 || ml == 10
}
