package ledger

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// OnHandCache keeps hot on-hand figures in Redis. Concurrent fills for the
// same key collapse into a single repository read.
type OnHandCache struct {
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewOnHandCache instantiates the cache helper. A nil client disables
// caching and every read goes to the loader.
func NewOnHandCache(client *redis.Client, ttl time.Duration) *OnHandCache {
	return &OnHandCache{client: client, ttl: ttl}
}

func onHandKey(productID, variantID, locationID int64) string {
	return fmt.Sprintf("stock:onhand:%d:%d:%d", locationID, productID, variantID)
}

// Fetch returns the cached on-hand quantity, populating it via loader on miss.
func (c *OnHandCache) Fetch(ctx context.Context, productID, variantID, locationID int64, loader func(context.Context) (int64, error)) (int64, error) {
	if c == nil || c.client == nil {
		return loader(ctx)
	}
	key := onHandKey(productID, variantID, locationID)
	raw, err := c.client.Get(ctx, key).Result()
	if err == nil {
		if qty, parseErr := strconv.ParseInt(raw, 10, 64); parseErr == nil {
			return qty, nil
		}
	} else if err != redis.Nil {
		return 0, fmt.Errorf("ledger: cache get: %w", err)
	}

	value, err, _ := c.group.Do(key, func() (any, error) {
		qty, err := loader(ctx)
		if err != nil {
			return int64(0), err
		}
		if setErr := c.client.Set(ctx, key, strconv.FormatInt(qty, 10), c.ttl).Err(); setErr != nil {
			return qty, nil // serve the fresh value even when the cache write fails
		}
		return qty, nil
	})
	if err != nil {
		return 0, err
	}
	return value.(int64), nil
}

// Invalidate drops the cached figure after a ledger append commits.
func (c *OnHandCache) Invalidate(ctx context.Context, productID, variantID, locationID int64) {
	if c == nil || c.client == nil {
		return
	}
	_ = c.client.Del(ctx, onHandKey(productID, variantID, locationID)).Err()
}
