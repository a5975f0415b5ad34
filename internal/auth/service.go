// Package auth 负责注册、登录与令牌。
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"decant_shop/internal/database"
	"decant_shop/internal/model"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const MinPasswordLen = 6

var (
	ErrEmailTaken         = errors.New("el correo ya está registrado")
	ErrInvalidCredentials = errors.New("credenciales inválidas")
	ErrInvalidInput       = errors.New("datos de registro inválidos")
	ErrUserNotFound       = errors.New("usuario no encontrado")
)

type Service struct {
	db     *gorm.DB
	issuer *Issuer
	logger *zap.Logger
}

func NewService(db *gorm.DB, issuer *Issuer, logger *zap.Logger) *Service {
	return &Service{db: db, issuer: issuer, logger: logger}
}

type RegisterInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Username string `json:"username"`
}

// Register 创建用户并直接签发令牌。
func (s *Service) Register(ctx context.Context, in RegisterInput) (*model.User, string, error) {
	email := normalizeEmail(in.Email)
	username := strings.TrimSpace(in.Username)
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, "", fmt.Errorf("%w: correo inválido", ErrInvalidInput)
	}
	if len(in.Password) < MinPasswordLen {
		return nil, "", fmt.Errorf("%w: la contraseña debe tener al menos %d caracteres", ErrInvalidInput, MinPasswordLen)
	}
	if username == "" {
		return nil, "", fmt.Errorf("%w: el nombre de usuario es obligatorio", ErrInvalidInput)
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, "", fmt.Errorf("hash password: %w", err)
	}
	u := &model.User{Email: email, PasswordHash: hash, Username: username}
	if err := s.db.WithContext(ctx).Create(u).Error; err != nil {
		if database.IsUniqueViolation(err) {
			return nil, "", ErrEmailTaken
		}
		return nil, "", fmt.Errorf("create user: %w", err)
	}
	token, err := s.issuer.Issue(u.ID, u.IsAdmin)
	if err != nil {
		return nil, "", fmt.Errorf("issue token: %w", err)
	}
	s.logger.Info("user registered", zap.Uint("user_id", u.ID))
	return u, token, nil
}

// Login 用户不存在与密码错误返回同一个错误。
func (s *Service) Login(ctx context.Context, email, password string) (*model.User, string, error) {
	var u model.User
	err := s.db.WithContext(ctx).Where("email = ?", normalizeEmail(email)).First(&u).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", fmt.Errorf("load user: %w", err)
	}
	if !CheckPassword(u.PasswordHash, password) {
		return nil, "", ErrInvalidCredentials
	}
	token, err := s.issuer.Issue(u.ID, u.IsAdmin)
	if err != nil {
		return nil, "", fmt.Errorf("issue token: %w", err)
	}
	return &u, token, nil
}

func (s *Service) Me(ctx context.Context, userID uint) (*model.User, error) {
	var u model.User
	if err := s.db.WithContext(ctx).First(&u, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
