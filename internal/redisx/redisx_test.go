package redisx

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "cart:cust-1", CartKey("cust-1"))
	assert.Equal(t, "idem:checkout:cust-1:abc", IdemCheckoutKey("cust-1", "abc"))
	assert.Equal(t, "order_status:o1", OrderStatusKey("o1"))
	assert.Equal(t, "lock:checkout:cust-1", CheckoutLockKey("cust-1"))
	assert.Equal(t, "dedup:inventory:ev-1", DedupKey("inventory", "ev-1"))
}

func TestSetOnceAndExists(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ctx := context.Background()

	ok, err := Exists(ctx, rdb, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	claimed, err := SetOnce(ctx, rdb, "k", "first", TTLIdempotency)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = SetOnce(ctx, rdb, "k", "second", TTLIdempotency)
	require.NoError(t, err)
	assert.False(t, claimed)

	v, err := mr.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "first", v)
	assert.Equal(t, TTLIdempotency, mr.TTL("k"))

	ok, err = Exists(ctx, rdb, "k")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLockUnlock(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ctx := context.Background()
	key := CheckoutLockKey("cust-1")

	token, ok, err := Lock(ctx, rdb, key, TTLCheckoutLock)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = Lock(ctx, rdb, key, TTLCheckoutLock)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, Unlock(ctx, rdb, key, "someone-else"))
	assert.True(t, mr.Exists(key))

	require.NoError(t, Unlock(ctx, rdb, key, token))
	assert.False(t, mr.Exists(key))

	_, ok, err = Lock(ctx, rdb, key, TTLCheckoutLock)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCacheOrderStatus_KeepsNewestVersion(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ctx := context.Background()

	_, err := CachedOrderStatus(ctx, rdb, "o1")
	assert.ErrorIs(t, err, redis.Nil)

	wrote, err := CacheOrderStatus(ctx, rdb, "o1", 3, []byte(`{"version":3}`), TTLStatusCache)
	require.NoError(t, err)
	assert.True(t, wrote)

	wrote, err = CacheOrderStatus(ctx, rdb, "o1", 2, []byte(`{"version":2}`), TTLStatusCache)
	require.NoError(t, err)
	assert.False(t, wrote)

	doc, err := CachedOrderStatus(ctx, rdb, "o1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"version":3}`, doc)
	assert.Equal(t, TTLStatusCache, mr.TTL(OrderStatusKey("o1")))

	wrote, err = CacheOrderStatus(ctx, rdb, "o1", 4, []byte(`{"version":4}`), TTLStatusCache)
	require.NoError(t, err)
	assert.True(t, wrote)
	doc, err = CachedOrderStatus(ctx, rdb, "o1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"version":4}`, doc)
}
