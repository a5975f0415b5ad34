package payment

import (
	"context"
	"time"

	"decant_shop/internal/model"
	rediskey "decant_shop/pkg/redis"

	"github.com/google/uuid"
	rd "github.com/redis/go-redis/v9"
)

// RedisLocker 用 SETNX 锁串行化同一交易号的并发投递。
type RedisLocker struct {
	rdb *rd.Client
	ttl time.Duration
}

func NewRedisLocker(rdb *rd.Client, ttl time.Duration) *RedisLocker {
	return &RedisLocker{rdb: rdb, ttl: ttl}
}

func (l *RedisLocker) Lock(ctx context.Context, transactionID string) (func(), bool, error) {
	key := rediskey.WebhookLockKey(model.PaymentMethodMercadoPago, transactionID)
	token := uuid.NewString()
	ok, err := rediskey.AcquireLock(ctx, l.rdb, key, token, l.ttl)
	if err != nil || !ok {
		return nil, ok, err
	}
	return func() {
		_ = rediskey.ReleaseLockIfMatch(context.WithoutCancel(ctx), l.rdb, key, token)
	}, true, nil
}
