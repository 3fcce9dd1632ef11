package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dzmarkets/pricewire/pkg/models"
)

const cachePrefix = "price:"

// SnapshotCache keeps the latest hydrated entry per product+market in Redis
// so other services can read current prices without hitting Postgres.
// Best-effort: the hub logs and continues when a write fails.
type SnapshotCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSnapshotCache(client *redis.Client, ttl time.Duration) *SnapshotCache {
	return &SnapshotCache{client: client, ttl: ttl}
}

func cacheKey(productID, marketID string) string {
	return fmt.Sprintf("%s%s:%s", cachePrefix, productID, marketID)
}

func (c *SnapshotCache) Store(ctx context.Context, e models.PriceEntry) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, cacheKey(e.ProductID, e.MarketID), payload, c.ttl).Err()
}

// Latest returns the cached entry, or false when nothing is cached.
func (c *SnapshotCache) Latest(ctx context.Context, productID, marketID string) (models.PriceEntry, bool, error) {
	var e models.PriceEntry

	payload, err := c.client.Get(ctx, cacheKey(productID, marketID)).Bytes()
	if err == redis.Nil {
		return e, false, nil
	}
	if err != nil {
		return e, false, err
	}
	if err := json.Unmarshal(payload, &e); err != nil {
		return e, false, err
	}
	return e, true, nil
}
