package redis

import "fmt"

// WebhookLockKey 同一支付交易的 webhook 处理锁。
func WebhookLockKey(method, transactionID string) string {
	return fmt.Sprintf("decant_shop:webhook:lock:%s:%s", method, transactionID)
}

// CheckoutStateKey 存储下单幂等键对应的处理状态（pending/success/failed）。
func CheckoutStateKey(scope, idemKey string) string {
	return fmt.Sprintf("decant_shop:checkout:idem:%s:%s", scope, idemKey)
}

// RateLimitKey 限流计数键，subject 为 user:<id> 或 ip:<addr>。
func RateLimitKey(route, subject string) string {
	return fmt.Sprintf("rate_limit:%s:%s", route, subject)
}
