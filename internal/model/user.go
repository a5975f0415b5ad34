package model

import "time"

// MaxStamps 会员卡集章上限。
const MaxStamps = 10

type User struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Email        string `gorm:"size:255;uniqueIndex;not null" json:"email"`
	PasswordHash string `gorm:"size:255;not null" json:"-"`
	Username     string `gorm:"size:64;not null" json:"username"`
	IsAdmin      bool   `gorm:"not null;default:false" json:"is_admin"`
	Stamps       int    `gorm:"not null;default:0" json:"stamps"`
	Card         bool   `gorm:"not null;default:false" json:"card"`
}

func (User) TableName() string { return "users" }

// Address 用户地址簿。
type Address struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	UserID    uint   `gorm:"not null;index" json:"user_id"`
	Label     string `gorm:"size:32;not null;default:Casa" json:"label"`
	Street    string `gorm:"size:255;not null" json:"street"`
	City      string `gorm:"size:128;not null" json:"city"`
	State     string `gorm:"size:128;not null" json:"state"`
	Phone     string `gorm:"size:32;not null" json:"phone"`
	IsDefault bool   `gorm:"not null;default:false" json:"is_default"`
}

func (Address) TableName() string { return "addresses" }
