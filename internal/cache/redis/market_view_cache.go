package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/predictionperps/internal/domain"
)

// MarketViewCache implements domain.MarketViewCache as JSON strings under
// market:view:{id}.
type MarketViewCache struct {
	c *Client
}

// NewMarketViewCache creates a MarketViewCache.
func NewMarketViewCache(c *Client) *MarketViewCache {
	return &MarketViewCache{c: c}
}

func (mc *MarketViewCache) viewKey(id string) string { return mc.c.key("market:view:", id) }

// Set stores v for ttl.
func (mc *MarketViewCache) Set(ctx context.Context, v domain.MarketView, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("redis: marshal market view %s: %w", v.MarketID, err)
	}
	if err := mc.c.rdb.Set(ctx, mc.viewKey(v.MarketID), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set market view %s: %w", v.MarketID, err)
	}
	return nil
}

// Get returns the cached view or domain.ErrNotFound.
func (mc *MarketViewCache) Get(ctx context.Context, id string) (domain.MarketView, error) {
	data, err := mc.c.rdb.Get(ctx, mc.viewKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.MarketView{}, domain.ErrNotFound
		}
		return domain.MarketView{}, fmt.Errorf("redis: get market view %s: %w", id, err)
	}
	var v domain.MarketView
	if err := json.Unmarshal(data, &v); err != nil {
		return domain.MarketView{}, fmt.Errorf("redis: unmarshal market view %s: %w", id, err)
	}
	return v, nil
}

// Invalidate drops the view of id.
func (mc *MarketViewCache) Invalidate(ctx context.Context, id string) error {
	if err := mc.c.rdb.Del(ctx, mc.viewKey(id)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate market view %s: %w", id, err)
	}
	return nil
}

var _ domain.MarketViewCache = (*MarketViewCache)(nil)
