package redis

import (
	"context"
	"time"

	rd "github.com/redis/go-redis/v9"
)

// luaReleaseLockIfMatch 仅当锁值匹配 token 时才删除，避免误删他人续上的锁。
const luaReleaseLockIfMatch = `
local lockKey = KEYS[1]
local token = ARGV[1]
if redis.call('GET', lockKey) == token then
  return redis.call('DEL', lockKey)
end
return 0
`

// AcquireLock SETNX 加锁并设置过期，ok=false 表示锁已被占用。
func AcquireLock(ctx context.Context, rdb *rd.Client, key, token string, ttl time.Duration) (bool, error) {
	return rdb.SetNX(ctx, key, token, ttl).Result()
}

// ReleaseLockIfMatch 安全释放锁。
func ReleaseLockIfMatch(ctx context.Context, rdb *rd.Client, key, token string) error {
	_, err := rdb.Eval(ctx, luaReleaseLockIfMatch, []string{key}, token).Int()
	return err
}
