package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/go-storefront-orders/internal/apperr"
	"github.com/ariefcatur/go-storefront-orders/internal/redisx"
)

// RedisStore keeps each cart as one JSON value under cart:{customer}.
// Every save refreshes the TTL, so idle carts expire.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = redisx.TTLCart
	}
	return &RedisStore{client: client, ttl: ttl}
}

func (r *RedisStore) Load(ctx context.Context, customerID string) (*Cart, error) {
	data, err := r.client.Get(ctx, redisx.CartKey(customerID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return New(customerID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: redis get cart: %v", apperr.ErrUnavailable, err)
	}

	var c Cart
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("unmarshal cart %s: %w", customerID, err)
	}
	return &c, nil
}

func (r *RedisStore) Save(ctx context.Context, c *Cart) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal cart %s: %w", c.CustomerID, err)
	}
	if err := r.client.Set(ctx, redisx.CartKey(c.CustomerID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("%w: redis set cart: %v", apperr.ErrUnavailable, err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, customerID string) error {
	if err := r.client.Del(ctx, redisx.CartKey(customerID)).Err(); err != nil {
		return fmt.Errorf("%w: redis delete cart: %v", apperr.ErrUnavailable, err)
	}
	return nil
}
