package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// KeyPrefix namespaces every key pylonkit writes to Redis
const KeyPrefix = "pylon"

// DeploymentKey builds the cache key of a deployment-scoped entry
func DeploymentKey(deploymentID string, parts ...string) string {
	key := KeyPrefix + ":" + deploymentID
	for _, p := range parts {
		key += ":" + p
	}
	return key
}

// ScopedCache confines a Cache to the keys of one deployment
type ScopedCache struct {
	cache        Cache
	deploymentID string
	ttl          time.Duration
}

// NewScopedCache wraps c for deploymentID. A zero ttl stores entries without expiry.
func NewScopedCache(c Cache, deploymentID string, ttl time.Duration) *ScopedCache {
	return &ScopedCache{cache: c, deploymentID: deploymentID, ttl: ttl}
}

// DeploymentID returns the deployment the cache is scoped to
func (s *ScopedCache) DeploymentID() string {
	return s.deploymentID
}

// Key returns the full Redis key for a scoped key
func (s *ScopedCache) Key(key string) string {
	return DeploymentKey(s.deploymentID, key)
}

// GetJSON decodes the entry at key into dst. It reports false on a miss.
func (s *ScopedCache) GetJSON(ctx context.Context, key string, dst interface{}) (bool, error) {
	data, err := s.cache.Get(ctx, s.Key(key))
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		// A corrupt entry is dropped and treated as a miss
		_ = s.cache.Delete(ctx, s.Key(key))
		return false, nil
	}
	return true, nil
}

// SetJSON stores v at key with the cache TTL
func (s *ScopedCache) SetJSON(ctx context.Context, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}
	return s.cache.Set(ctx, s.Key(key), data, s.ttl)
}

// Delete removes one scoped key
func (s *ScopedCache) Delete(ctx context.Context, key string) error {
	return s.cache.Delete(ctx, s.Key(key))
}

// Invalidate removes every entry under prefix. An empty prefix clears the deployment.
func (s *ScopedCache) Invalidate(ctx context.Context, prefix string) error {
	if prefix == "" {
		return s.cache.DeletePrefix(ctx, DeploymentKey(s.deploymentID)+":")
	}
	return s.cache.DeletePrefix(ctx, s.Key(prefix))
}
