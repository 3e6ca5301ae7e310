/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package redisx

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/altairalabs/omnia/internal/keyengine"
)

// SharedCache is the Redis-backed shared layer of ActiveKidRegistry (spec
// §4.5). It is a thin TTL-indexed string map; capacity bounding is left to
// Redis's own maxmemory policy, mirroring the LockManager's index-based cap
// only where fencing genuinely matters.
type SharedCache struct {
	client    goredis.UniversalClient
	keyPrefix string
}

// NewSharedCache wires a SharedCache over an already-connected client.
func NewSharedCache(client goredis.UniversalClient, keyPrefix string) *SharedCache {
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}
	return &SharedCache{client: client, keyPrefix: keyPrefix}
}

var _ keyengine.SharedCache = (*SharedCache)(nil)

func (c *SharedCache) cacheKey(key string) string {
	return c.keyPrefix + "activekid:" + key
}

// Get implements keyengine.SharedCache.
func (c *SharedCache) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.client.Get(ctx, c.cacheKey(key)).Result()
	if err != nil {
		if err == goredis.Nil {
			return "", false, nil
		}
		return "", false, fmt.Errorf("redisx: get %s: %w", key, err)
	}
	return val, true, nil
}

// Set implements keyengine.SharedCache.
func (c *SharedCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.cacheKey(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redisx: set %s: %w", key, err)
	}
	return nil
}

// Delete implements keyengine.SharedCache.
func (c *SharedCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.cacheKey(key)).Err(); err != nil {
		return fmt.Errorf("redisx: delete %s: %w", key, err)
	}
	return nil
}
