package stock

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// Cache stores folded stock levels. Entries are hints: the projector always
// re-checks them against the ledger before use.
type Cache interface {
	Get(ctx context.Context, tenantID uuid.UUID, catalogItemID string, locationID uuid.UUID) (*StockLevel, bool, error)
	Set(ctx context.Context, level *StockLevel) error
	Invalidate(ctx context.Context, tenantID uuid.UUID, catalogItemID string, locationID uuid.UUID) error
}

type projectionStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	ProjectionKey(tenantID, catalogItemID, locationID string) string
}

// RedisCache keeps stock levels under vcl:projection:<tenant>:<item>:<location>.
type RedisCache struct {
	store projectionStore
	ttl   time.Duration
}

// NewRedisCache returns a projection cache backed by the platform redis client.
func NewRedisCache(store projectionStore, ttl time.Duration) *RedisCache {
	return &RedisCache{store: store, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, tenantID uuid.UUID, catalogItemID string, locationID uuid.UUID) (*StockLevel, bool, error) {
	if c == nil || c.store == nil {
		return nil, false, nil
	}
	raw, err := c.store.Get(ctx, c.key(tenantID, catalogItemID, locationID))
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var level StockLevel
	if err := json.Unmarshal([]byte(raw), &level); err != nil {
		return nil, false, nil
	}
	return &level, true, nil
}

func (c *RedisCache) Set(ctx context.Context, level *StockLevel) error {
	if c == nil || c.store == nil || level == nil {
		return nil
	}
	body, err := json.Marshal(level)
	if err != nil {
		return err
	}
	return c.store.Set(ctx, c.key(level.TenantID, level.CatalogItemID, level.LocationID), string(body), c.ttl)
}

func (c *RedisCache) Invalidate(ctx context.Context, tenantID uuid.UUID, catalogItemID string, locationID uuid.UUID) error {
	if c == nil || c.store == nil {
		return nil
	}
	return c.store.Del(ctx, c.key(tenantID, catalogItemID, locationID))
}

func (c *RedisCache) key(tenantID uuid.UUID, catalogItemID string, locationID uuid.UUID) string {
	return c.store.ProjectionKey(tenantID.String(), catalogItemID, locationID.String())
}
