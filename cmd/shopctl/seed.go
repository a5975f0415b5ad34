package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"decant_shop/internal/auth"
	"decant_shop/internal/inventory"
	"decant_shop/internal/model"

	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

type seedFile struct {
	Products []seedProduct `yaml:"products"`
	Admins   []seedAdmin   `yaml:"admins"`
}

type seedProduct struct {
	Name        string        `yaml:"name"`
	Brand       string        `yaml:"brand"`
	Category    string        `yaml:"category"`
	Description string        `yaml:"description"`
	Image       string        `yaml:"image"`
	OnSale      bool          `yaml:"on_sale"`
	Tags        []model.Tag   `yaml:"tags"`
	Variants    []seedVariant `yaml:"variants"`
}

type seedVariant struct {
	Volume int   `yaml:"volume"`
	Price  int64 `yaml:"price"`
	Stock  int64 `yaml:"stock"`
}

type seedAdmin struct {
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
	Username string `yaml:"username"`
}

type seedResult struct {
	Products        int
	SkippedProducts int
	Admins          int
}

func loadSeed(path string) (*seedFile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parseSeed(b)
}

func parseSeed(b []byte) (*seedFile, error) {
	var s seedFile
	if err := yaml.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}
	for i, p := range s.Products {
		if strings.TrimSpace(p.Name) == "" || strings.TrimSpace(p.Brand) == "" {
			return nil, fmt.Errorf("product #%d: name and brand are required", i+1)
		}
		if !model.Category(p.Category).Valid() {
			return nil, fmt.Errorf("product %q: invalid category %q", p.Name, p.Category)
		}
		if len(p.Variants) == 0 {
			return nil, fmt.Errorf("product %q: at least one variant is required", p.Name)
		}
		for _, tag := range p.Tags {
			if !tag.Valid() {
				return nil, fmt.Errorf("product %q: tag %q needs a name and an intensity between 1 and 10", p.Name, tag.Name)
			}
		}
		for _, v := range p.Variants {
			if !model.ValidVolume(v.Volume) || v.Price <= 0 || v.Stock < 0 {
				return nil, fmt.Errorf("product %q: invalid variant %+v", p.Name, v)
			}
		}
	}
	for _, a := range s.Admins {
		if a.Email == "" || len(a.Password) < auth.MinPasswordLen {
			return nil, fmt.Errorf("admin %q: email and a password of at least %d chars are required", a.Email, auth.MinPasswordLen)
		}
	}
	return &s, nil
}

// applySeed 按名称+品牌跳过已存在的商品，按邮箱跳过已存在的用户，可重复执行。
func applySeed(ctx context.Context, db *gorm.DB, s *seedFile) (seedResult, error) {
	var res seedResult
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, sp := range s.Products {
			var n int64
			if err := tx.Model(&model.Product{}).Where("name = ? AND brand = ?", sp.Name, sp.Brand).Count(&n).Error; err != nil {
				return err
			}
			if n > 0 {
				res.SkippedProducts++
				continue
			}
			p := model.Product{
				Name:        sp.Name,
				Brand:       sp.Brand,
				Category:    model.Category(sp.Category),
				Description: sp.Description,
				Image:       sp.Image,
				OnSale:      sp.OnSale,
				Tags:        sp.Tags,
			}
			for _, v := range sp.Variants {
				p.Variants = append(p.Variants, model.Variant{Volume: v.Volume, Price: v.Price, Stock: v.Stock})
			}
			p.Status = inventory.StatusFor(p.TotalStock())
			if err := tx.Create(&p).Error; err != nil {
				return fmt.Errorf("create product %q: %w", sp.Name, err)
			}
			res.Products++
		}

		for _, sa := range s.Admins {
			email := strings.ToLower(strings.TrimSpace(sa.Email))
			var u model.User
			err := tx.Where("email = ?", email).First(&u).Error
			if err == nil {
				if !u.IsAdmin {
					if err := tx.Model(&u).Update("is_admin", true).Error; err != nil {
						return err
					}
				}
				continue
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			hash, err := auth.HashPassword(sa.Password)
			if err != nil {
				return err
			}
			username := sa.Username
			if username == "" {
				username = strings.Split(email, "@")[0]
			}
			if err := tx.Create(&model.User{Email: email, PasswordHash: hash, Username: username, IsAdmin: true}).Error; err != nil {
				return fmt.Errorf("create admin %q: %w", email, err)
			}
			res.Admins++
		}
		return nil
	})
	return res, err
}
