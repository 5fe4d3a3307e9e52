package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/partsmarket/golang_services/internal/payment_service/domain"
)

const keyPrefix = "payment:catalog:"

// CachedCatalog is a Redis read-through cache in front of another catalog.
// Cache failures are logged and the underlying catalog is used directly.
type CachedCatalog struct {
	next   domain.PackageCatalog
	rdb    redis.UniversalClient
	ttl    time.Duration
	logger *slog.Logger
}

func NewCachedCatalog(next domain.PackageCatalog, rdb redis.UniversalClient, ttl time.Duration, logger *slog.Logger) *CachedCatalog {
	return &CachedCatalog{
		next:   next,
		rdb:    rdb,
		ttl:    ttl,
		logger: logger.With("component", "catalog_cache"),
	}
}

func (c *CachedCatalog) GetPackage(ctx context.Context, id string) (*domain.PackageDefinition, error) {
	key := keyPrefix + "package:" + id
	var cached domain.PackageDefinition
	if c.load(ctx, key, &cached) {
		return &cached, nil
	}

	pkg, err := c.next.GetPackage(ctx, id)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, pkg)
	return pkg, nil
}

func (c *CachedCatalog) ListActive(ctx context.Context, category domain.CreditCategory) ([]domain.PackageDefinition, error) {
	key := keyPrefix + "active:" + string(category)
	if category == "" {
		key = keyPrefix + "active:all"
	}
	var cached []domain.PackageDefinition
	if c.load(ctx, key, &cached) {
		return cached, nil
	}

	pkgs, err := c.next.ListActive(ctx, category)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, pkgs)
	return pkgs, nil
}

// Invalidate drops every cached catalog key. Called after seeding.
func (c *CachedCatalog) Invalidate(ctx context.Context) error {
	iter := c.rdb.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scanning catalog keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	return c.rdb.Del(ctx, keys...).Err()
}

func (c *CachedCatalog) load(ctx context.Context, key string, dst any) bool {
	data, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.WarnContext(ctx, "Catalog cache read failed", "key", key, "error", err)
		}
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		c.logger.WarnContext(ctx, "Discarding undecodable catalog cache entry", "key", key, "error", err)
		return false
	}
	return true
}

func (c *CachedCatalog) store(ctx context.Context, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.WarnContext(ctx, "Catalog cache write failed", "key", key, "error", err)
	}
}
