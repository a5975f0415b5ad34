package middleware

import (
	"fmt"
	"net/http"
	"time"

	rediskey "decant_shop/pkg/redis"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// luaRateLimit：Redis 滑动窗口限流 Lua 脚本（原子操作）
// KEYS[1]=限流key，ARGV[1]=当前时间戳(ms)，ARGV[2]=窗口开始时间戳(ms)，ARGV[3]=窗口秒数，
// ARGV[4]=成员，ARGV[5]=上限
// 返回：当前窗口内的请求数，超限返回 -1
const luaRateLimit = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local windowStart = tonumber(ARGV[2])
local windowSec = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '0', windowStart)

local count = redis.call('ZCARD', key)

if count < tonumber(ARGV[5]) then
  redis.call('ZADD', key, now, member)
  redis.call('EXPIRE', key, windowSec)
  return count + 1
else
  return -1
end
`

// RedisRateLimit 按登录用户限流，访客按 IP。需挂在 OptionalAuth/RequireAuth 之后。
func RedisRateLimit(rdb *rd.Client, route string, limit int, window time.Duration, logger *zap.Logger) gin.HandlerFunc {
	windowSec := int64(window.Seconds())
	if windowSec < 1 {
		windowSec = 1
	}
	return func(c *gin.Context) {
		subject := "ip:" + c.ClientIP()
		if p, ok := CurrentUser(c); ok {
			subject = fmt.Sprintf("user:%d", p.UserID)
		}
		key := rediskey.RateLimitKey(route, subject)

		now := time.Now()
		nowMs := now.UnixMilli()
		windowStart := nowMs - windowSec*1000
		member := fmt.Sprintf("%d-%d", nowMs, now.UnixNano())

		res, err := rdb.Eval(c.Request.Context(), luaRateLimit, []string{key},
			nowMs, windowStart, windowSec, member, limit).Int()
		if err != nil {
			// Redis 出错时放行（降级策略）
			logger.Warn("rate limit unavailable", zap.String("route", route), zap.Error(err))
			c.Next()
			return
		}
		if res < 0 {
			abort(c, http.StatusTooManyRequests, "Demasiadas solicitudes, intenta más tarde")
			return
		}
		c.Next()
	}
}
