package stock

import (
	"context"
	"errors"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const displayHashKey = "stock:display"

// DisplayCache mirrors display_quantity into a Redis hash for storefront reads.
type DisplayCache struct {
	client redis.UniversalClient
}

// NewDisplayCache instantiates the cache helper.
func NewDisplayCache(client redis.UniversalClient) *DisplayCache {
	return &DisplayCache{client: client}
}

// SetDisplay stores the committed display quantity of a product.
func (c *DisplayCache) SetDisplay(ctx context.Context, productID string, display int64) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.HSet(ctx, displayHashKey, productID, display).Err()
}

// Display returns the cached display quantity and whether it was present.
func (c *DisplayCache) Display(ctx context.Context, productID string) (int64, bool, error) {
	if c == nil || c.client == nil {
		return 0, false, nil
	}
	raw, err := c.client.HGet(ctx, displayHashKey, productID).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

// Warm rewrites the hash from the given ledger rows.
func (c *DisplayCache) Warm(ctx context.Context, entries []LedgerEntry) error {
	if c == nil || c.client == nil || len(entries) == 0 {
		return nil
	}
	values := make(map[string]interface{}, len(entries))
	for _, entry := range entries {
		values[entry.ProductID] = entry.DisplayQuantity
	}
	return c.client.HSet(ctx, displayHashKey, values).Err()
}
