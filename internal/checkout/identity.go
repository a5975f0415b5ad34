package checkout

// Identity 下单身份：访客或已登录用户，二者只能取其一。
type Identity interface {
	isIdentity()
}

// GuestCheckout 访客下单，必须提供联系邮箱。
type GuestCheckout struct {
	Email string
}

// AuthenticatedCheckout 已登录用户下单，邮箱取自账户。
type AuthenticatedCheckout struct {
	UserID uint
}

func (GuestCheckout) isIdentity()         {}
func (AuthenticatedCheckout) isIdentity() {}
