package products

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	pkgerrors "github.com/commercekit/checkout-backend/pkg/errors"
	"github.com/commercekit/checkout-backend/pkg/logger"
	"github.com/commercekit/checkout-backend/pkg/redis"
)

// snapshotSchemaVersion guards cached payloads across deploys. A version
// mismatch is treated as a cache miss.
const snapshotSchemaVersion = 1

type cachedSnapshot struct {
	SchemaVersion int      `json:"schema_version"`
	Snapshot      Snapshot `json:"snapshot"`
}

// CachedCatalog decorates a Catalog with a Redis read-through cache. Cache
// failures degrade to the inner catalog; they never fail a lookup.
type CachedCatalog struct {
	inner Catalog
	cache *redis.Client
	logg  *logger.Logger
	ttl   time.Duration
}

// NewCachedCatalog wires the caching decorator.
func NewCachedCatalog(inner Catalog, cache *redis.Client, logg *logger.Logger, ttl time.Duration) (*CachedCatalog, error) {
	if inner == nil {
		return nil, fmt.Errorf("inner catalog is required")
	}
	if cache == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedCatalog{inner: inner, cache: cache, logg: logg, ttl: ttl}, nil
}

func (c *CachedCatalog) GetSnapshot(ctx context.Context, productID uuid.UUID) (*Snapshot, error) {
	if cached := c.lookup(ctx, productID); cached != nil {
		return cached, nil
	}

	snapshot, err := c.inner.GetSnapshot(ctx, productID)
	if err != nil {
		return nil, err
	}
	c.fill(ctx, *snapshot)
	return snapshot, nil
}

func (c *CachedCatalog) GetSnapshots(ctx context.Context, productIDs []uuid.UUID) (map[uuid.UUID]Snapshot, error) {
	snapshots := make(map[uuid.UUID]Snapshot, len(productIDs))
	misses := make([]uuid.UUID, 0, len(productIDs))
	for _, productID := range productIDs {
		if cached := c.lookup(ctx, productID); cached != nil {
			snapshots[productID] = *cached
			continue
		}
		misses = append(misses, productID)
	}
	if len(misses) == 0 {
		return snapshots, nil
	}

	loaded, err := c.inner.GetSnapshots(ctx, misses)
	if err != nil {
		return nil, err
	}
	for productID, snapshot := range loaded {
		snapshots[productID] = snapshot
		c.fill(ctx, snapshot)
	}
	return snapshots, nil
}

func (c *CachedCatalog) lookup(ctx context.Context, productID uuid.UUID) *Snapshot {
	raw, err := c.cache.Get(ctx, c.cache.ProductCacheKey(productID.String()))
	if errors.Is(err, redis.ErrNil) {
		return nil
	}
	if err != nil {
		c.logg.Warn(c.logg.WithField(ctx, "product_id", productID.String()), "product cache read failed")
		return nil
	}

	var cached cachedSnapshot
	if err := json.Unmarshal([]byte(raw), &cached); err != nil || cached.SchemaVersion != snapshotSchemaVersion {
		return nil
	}
	return &cached.Snapshot
}

func (c *CachedCatalog) fill(ctx context.Context, snapshot Snapshot) {
	payload, err := json.Marshal(cachedSnapshot{SchemaVersion: snapshotSchemaVersion, Snapshot: snapshot})
	if err != nil {
		return
	}
	key := c.cache.ProductCacheKey(snapshot.ProductID.String())
	if err := c.cache.Set(ctx, key, string(payload), c.ttl); err != nil {
		c.logg.Warn(c.logg.WithField(ctx, "product_id", snapshot.ProductID.String()), "product cache write failed")
	}
}

// Invalidate drops the cached snapshot after a catalog write.
func (c *CachedCatalog) Invalidate(ctx context.Context, productID uuid.UUID) error {
	if err := c.cache.Del(ctx, c.cache.ProductCacheKey(productID.String())); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "invalidating product cache")
	}
	return nil
}
