package checkout

import (
	"errors"
)

var (
	ErrEmptyCart           = errors.New("el carrito está vacío")
	ErrInvalidDelivery     = errors.New("método de entrega inválido")
	ErrIncompleteAddress   = errors.New("la dirección de envío está incompleta")
	ErrPhoneRequired       = errors.New("el teléfono es obligatorio")
	ErrEmailRequired       = errors.New("el correo es obligatorio para compras como invitado")
	ErrUnknownAccount      = errors.New("usuario no encontrado")
	ErrInvalidQuantity     = errors.New("cantidad inválida")
	ErrProviderUnavailable = errors.New("no se pudo iniciar el pago")
)

// CartError 购物车行校验失败，Message 面向用户。
type CartError struct {
	ProductID uint
	VariantID uint
	Message   string
	Err       error
}

func (e *CartError) Error() string { return e.Message }

func (e *CartError) Unwrap() error { return e.Err }

// IsValidation 判断错误是否应返回 400。
func IsValidation(err error) bool {
	var ce *CartError
	if errors.As(err, &ce) {
		return true
	}
	for _, target := range []error{
		ErrEmptyCart, ErrInvalidDelivery, ErrIncompleteAddress,
		ErrPhoneRequired, ErrEmailRequired, ErrInvalidQuantity,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
