package redisx

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

func Exists(ctx context.Context, rdb *redis.Client, key string) (bool, error) {
	n, err := rdb.Exists(ctx, key).Result()
	return n > 0, err
}

// SetOnce claims key for ttl; false means another caller already holds it.
func SetOnce(ctx context.Context, rdb *redis.Client, key string, value any, ttl time.Duration) (bool, error) {
	return rdb.SetNX(ctx, key, value, ttl).Result()
}

var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Lock takes key for ttl under a fresh owner token. ok is false when someone
// else holds it.
func Lock(ctx context.Context, rdb *redis.Client, key string, ttl time.Duration) (token string, ok bool, err error) {
	token = uuid.NewString()
	ok, err = rdb.SetNX(ctx, key, token, ttl).Result()
	return token, ok, err
}

// Unlock releases key only while token still owns it, so an expired lock
// taken over by another caller is left alone.
func Unlock(ctx context.Context, rdb *redis.Client, key, token string) error {
	return unlockScript.Run(ctx, rdb, []string{key}, token).Err()
}

var statusScript = redis.NewScript(`
local cached = tonumber(redis.call("HGET", KEYS[1], "version") or "0")
if cached > tonumber(ARGV[2]) then
	return 0
end
redis.call("HSET", KEYS[1], "doc", ARGV[1], "version", ARGV[2])
redis.call("PEXPIRE", KEYS[1], ARGV[3])
return 1
`)

// CacheOrderStatus stores doc for the order unless a newer version is cached
// already. It reports whether doc was written.
func CacheOrderStatus(ctx context.Context, rdb *redis.Client, orderID string, version int64, doc []byte, ttl time.Duration) (bool, error) {
	n, err := statusScript.Run(ctx, rdb, []string{OrderStatusKey(orderID)}, doc, version, ttl.Milliseconds()).Int()
	return n == 1, err
}

// CachedOrderStatus returns the cached status document, or redis.Nil.
func CachedOrderStatus(ctx context.Context, rdb *redis.Client, orderID string) (string, error) {
	return rdb.HGet(ctx, OrderStatusKey(orderID), "doc").Result()
}
