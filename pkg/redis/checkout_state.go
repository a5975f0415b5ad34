package redis

import (
	"context"
	"strconv"
	"time"

	rd "github.com/redis/go-redis/v9"
)

const (
	// CheckoutPending 表示请求正在处理。
	CheckoutPending = "pending"
	// CheckoutSuccess 表示已创建订单与支付链接。
	CheckoutSuccess = "success"
	// CheckoutFailed 表示处理失败（终态，可用新的幂等键重试）。
	CheckoutFailed = "failed"
)

// CheckoutState 对应 Redis 内的幂等状态结构。
type CheckoutState struct {
	Status      string
	OrderNo     string
	CheckoutURL string
	// Code 与 Reason 为首次失败时返回给客户端的状态码与提示，重放时原样返回
	Code   int
	Reason string
}

// ClaimCheckout 原子占用幂等键：首次调用写入 pending 并返回 true。
func ClaimCheckout(ctx context.Context, rdb *rd.Client, key string, ttl time.Duration) (bool, error) {
	ok, err := rdb.HSetNX(ctx, key, "status", CheckoutPending).Result()
	if err != nil || !ok {
		return ok, err
	}
	if ttl > 0 {
		if err := rdb.Expire(ctx, key, ttl).Err(); err != nil {
			return true, err
		}
	}
	return true, nil
}

// GetCheckoutState 查询幂等键当前状态。found=false 表示 key 不存在。
func GetCheckoutState(ctx context.Context, rdb *rd.Client, key string) (CheckoutState, bool, error) {
	m, err := rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return CheckoutState{}, false, err
	}
	if len(m) == 0 {
		return CheckoutState{}, false, nil
	}

	out := CheckoutState{
		Status:      m["status"],
		OrderNo:     m["order_no"],
		CheckoutURL: m["checkout_url"],
		Reason:      m["reason"],
	}
	if c, err := strconv.Atoi(m["code"]); err == nil {
		out.Code = c
	}
	if out.Status == "" {
		out.Status = CheckoutPending
	}
	return out, true, nil
}

// PutCheckoutState 更新状态，并刷新 key TTL。
func PutCheckoutState(ctx context.Context, rdb *rd.Client, key string, st CheckoutState, ttl time.Duration) error {
	pipe := rdb.TxPipeline()
	pipe.HSet(ctx, key,
		"status", st.Status,
		"order_no", st.OrderNo,
		"checkout_url", st.CheckoutURL,
		"code", strconv.Itoa(st.Code),
		"reason", st.Reason,
	)
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}
