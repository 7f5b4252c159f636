package sqlstore

import (
	"context"
	"fmt"
	"net/url"

	"github.com/goliatone/go-autoreply/core"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

const kvCacheKeyPrefix = "go-autoreply::kv::v1::"

type cachedValue struct {
	Value string
	Found bool
}

// CachedKVStore serves reads through a repository cache and invalidates the
// cached entry on every write. Prefix listings always hit the base store.
type CachedKVStore struct {
	base  core.KeyValueStore
	cache repositorycache.CacheService
}

func NewCachedKVStore(base core.KeyValueStore, cacheService repositorycache.CacheService) (*CachedKVStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base kv store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: kv cache service is required")
	}
	return &CachedKVStore{base: base, cache: cacheService}, nil
}

// KVCacheKey is go-autoreply::kv::v1::<key> with the key URL-path escaped.
func KVCacheKey(key string) string {
	return kvCacheKeyPrefix + url.PathEscape(key)
}

func (s *CachedKVStore) Get(ctx context.Context, key string) (string, bool, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return "", false, fmt.Errorf("sqlstore: cached kv store is not configured")
	}
	cached, err := repositorycache.GetOrFetch(ctx, s.cache, KVCacheKey(key), func(ctx context.Context) (cachedValue, error) {
		value, found, fetchErr := s.base.Get(ctx, key)
		if fetchErr != nil {
			return cachedValue{}, fetchErr
		}
		return cachedValue{Value: value, Found: found}, nil
	})
	if err != nil {
		return "", false, err
	}
	return cached.Value, cached.Found, nil
}

func (s *CachedKVStore) Set(ctx context.Context, key string, value string) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached kv store is not configured")
	}
	if err := s.base.Set(ctx, key, value); err != nil {
		return err
	}
	return s.cache.Delete(ctx, KVCacheKey(key))
}

func (s *CachedKVStore) Delete(ctx context.Context, key string) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached kv store is not configured")
	}
	if err := s.base.Delete(ctx, key); err != nil {
		return err
	}
	return s.cache.Delete(ctx, KVCacheKey(key))
}

func (s *CachedKVStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	if s == nil || s.base == nil {
		return nil, fmt.Errorf("sqlstore: cached kv store is not configured")
	}
	return s.base.Keys(ctx, prefix)
}

var _ core.KeyValueStore = (*CachedKVStore)(nil)
