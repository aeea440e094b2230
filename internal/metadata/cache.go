// Package metadata caches query details, the column and view descriptions
// that filter validation and view selection need.
package metadata

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/pitabwire/dataregion/internal/observability"
	"github.com/pitabwire/dataregion/model"
)

// Recorder receives cache hit and miss counts. *observability.Metrics
// satisfies it.
type Recorder interface {
	RecordMetadataCacheHit()
	RecordMetadataCacheMiss()
}

type nopRecorder struct{}

func (nopRecorder) RecordMetadataCacheHit()  {}
func (nopRecorder) RecordMetadataCacheMiss() {}

// Cache is a model.QueryService that answers from memory while an entry is
// fresh and asks the upstream service otherwise.
type Cache struct {
	upstream   model.QueryService
	ttl        time.Duration
	maxEntries int
	rec        Recorder

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	details   model.QueryDetails
	expiresAt time.Time
}

// NewCache creates a cache in front of upstream. rec may be nil.
func NewCache(upstream model.QueryService, ttl time.Duration, maxEntries int, rec Recorder) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	if rec == nil {
		rec = nopRecorder{}
	}
	return &Cache{
		upstream:   upstream,
		ttl:        ttl,
		maxEntries: maxEntries,
		rec:        rec,
		cache:      make(map[string]cacheEntry),
	}
}

// GetQueryDetails returns the details of req's query.
func (c *Cache) GetQueryDetails(ctx context.Context, req model.QueryDetailsRequest) (qd model.QueryDetails, err error) {
	key := cacheKey(req)
	ctx, span := observability.StartSpan(ctx, "metadata.query_details",
		observability.AttrSchema.String(req.SchemaName),
		observability.AttrQuery.String(req.QueryName),
	)
	defer func() { observability.EndSpanWithError(span, err) }()

	if details, hit := c.getFromCache(key); hit {
		c.rec.RecordMetadataCacheHit()
		span.SetAttributes(observability.AttrCacheHit.Bool(true))
		return details, nil
	}
	c.rec.RecordMetadataCacheMiss()
	span.SetAttributes(observability.AttrCacheHit.Bool(false))

	details, err := c.upstream.GetQueryDetails(ctx, req)
	if err != nil {
		return model.QueryDetails{}, fmt.Errorf("query details %s.%s: %w", req.SchemaName, req.QueryName, err)
	}
	if details.Exception != "" {
		return model.QueryDetails{}, model.NewServerExceptionError(details.Exception)
	}

	c.putInCache(key, details)
	return details, nil
}

// Column returns the column with fieldKey in schema.query. An unknown
// column is NOT_FOUND.
func (c *Cache) Column(ctx context.Context, schema, query, fieldKey string) (model.ColumnInfo, error) {
	details, err := c.GetQueryDetails(ctx, model.QueryDetailsRequest{SchemaName: schema, QueryName: query})
	if err != nil {
		return model.ColumnInfo{}, err
	}
	col, ok := details.Column(fieldKey)
	if !ok {
		return model.ColumnInfo{}, model.NewNotFoundError(
			fmt.Sprintf("column %q not found in %s.%s", fieldKey, schema, query),
		)
	}
	return col, nil
}

// cacheKey identifies req. Field order does not matter.
func cacheKey(req model.QueryDetailsRequest) string {
	fields := slices.Clone(req.Fields)
	slices.Sort(fields)
	return fmt.Sprintf("query:%s:%s:%s:%s", req.SchemaName, req.QueryName, req.ViewName, strings.Join(fields, ","))
}

// getFromCache returns cached details if the entry exists and hasn't expired.
func (c *Cache) getFromCache(key string) (model.QueryDetails, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, exists := c.cache[key]
	if !exists || time.Now().After(entry.expiresAt) {
		return model.QueryDetails{}, false
	}
	return entry.details, true
}

// putInCache stores details with the cache TTL.
func (c *Cache) putInCache(key string, details model.QueryDetails) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.cache) >= c.maxEntries {
		c.evictExpired()
	}
	if len(c.cache) >= c.maxEntries {
		c.evictOldest()
	}

	c.cache[key] = cacheEntry{
		details:   details,
		expiresAt: time.Now().Add(c.ttl),
	}
}

// evictExpired removes expired entries. Must be called with mu held.
func (c *Cache) evictExpired() {
	now := time.Now()
	for k, v := range c.cache {
		if now.After(v.expiresAt) {
			delete(c.cache, k)
		}
	}
}

// evictOldest removes the entry closest to expiry. Must be called with mu held.
func (c *Cache) evictOldest() {
	var oldest string
	var at time.Time
	for k, v := range c.cache {
		if oldest == "" || v.expiresAt.Before(at) {
			oldest, at = k, v.expiresAt
		}
	}
	delete(c.cache, oldest)
}

// Invalidate removes every entry of schema.query. An empty query removes
// the whole schema.
func (c *Cache) Invalidate(schema, query string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prefix := "query:" + schema + ":"
	if query != "" {
		prefix += query + ":"
	}
	for k := range c.cache {
		if strings.HasPrefix(k, prefix) {
			delete(c.cache, k)
		}
	}
}

// CacheLen returns the number of entries in the cache. For testing.
func (c *Cache) CacheLen() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}
