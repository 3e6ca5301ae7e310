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
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/altairalabs/omnia/internal/keyengine"
)

// releaseScript deletes a lock key only if its current value matches the
// presented token (fencing, spec §4.4) and removes the key's index entry.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	redis.call("ZREM", KEYS[2], KEYS[1])
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// refreshScript extends a held lock's TTL only if the presented token still
// matches, and bumps its index score to the new expiry.
var refreshScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	redis.call("PEXPIRE", KEYS[1], ARGV[2])
	redis.call("ZADD", KEYS[2], ARGV[3], KEYS[1])
	return 1
end
return 0
`)

// LockManager is the Redis-backed, bounded, fenced-token LockManager
// (spec §4.4, C4). It tracks currently held locks in a sorted set (score =
// expiry, in unix milliseconds) so a global capacity cap can be enforced and
// opportunistically pruned without scanning keys by pattern.
type LockManager struct {
	client              goredis.UniversalClient
	keyPrefix           string
	indexKey            string
	capacity            int
	onCapacityExhausted func()
}

// NewLockManager wires a LockManager over an already-connected client.
// capacity bounds the total number of locks the manager will grant at once
// across all keys (spec §4.4's "global capacity cap"). onCapacityExhausted,
// if non-nil, is called each time Acquire refuses an attempt because the
// index is at capacity (distinct from refusing because the specific key is
// already held); wire it to an observability counter to track §4.4's
// capacity cap as a condition worth alerting on.
func NewLockManager(client goredis.UniversalClient, keyPrefix string, capacity int, onCapacityExhausted func()) *LockManager {
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}
	if capacity <= 0 {
		capacity = 256
	}
	return &LockManager{
		client:              client,
		keyPrefix:           keyPrefix,
		indexKey:            keyPrefix + "locks:index",
		capacity:            capacity,
		onCapacityExhausted: onCapacityExhausted,
	}
}

var _ keyengine.LockManager = (*LockManager)(nil)

func (m *LockManager) lockKey(key string) string {
	return m.keyPrefix + "lock:" + key
}

// Acquire implements keyengine.LockManager. Before each attempt, index
// entries whose underlying lock has already expired are pruned; when the
// capacity is reached, the attempt fails even if the specific key is free.
func (m *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (keyengine.Lock, error) {
	now := time.Now()
	if err := m.client.ZRemRangeByScore(ctx, m.indexKey, "-inf", fmt.Sprintf("%d", now.UnixMilli())).Err(); err != nil {
		return keyengine.Lock{}, fmt.Errorf("%w: pruning lock index: %v", keyengine.ErrStoreFailure, err)
	}

	count, err := m.client.ZCard(ctx, m.indexKey).Result()
	if err != nil {
		return keyengine.Lock{}, fmt.Errorf("%w: counting held locks: %v", keyengine.ErrStoreFailure, err)
	}
	if int(count) >= m.capacity {
		if m.onCapacityExhausted != nil {
			m.onCapacityExhausted()
		}
		return keyengine.Lock{}, keyengine.ErrLockNotAcquired
	}

	tokenBytes := make([]byte, 16)
	if _, err := rand.Read(tokenBytes); err != nil {
		return keyengine.Lock{}, fmt.Errorf("keyengine/redisx: generating lock token: %w", err)
	}
	token := hex.EncodeToString(tokenBytes)

	lockKey := m.lockKey(key)
	ok, err := m.client.SetNX(ctx, lockKey, token, ttl).Result()
	if err != nil {
		return keyengine.Lock{}, fmt.Errorf("%w: acquiring lock: %v", keyengine.ErrStoreFailure, err)
	}
	if !ok {
		return keyengine.Lock{}, keyengine.ErrLockNotAcquired
	}

	expiresAt := now.Add(ttl).UnixMilli()
	if err := m.client.ZAdd(ctx, m.indexKey, goredis.Z{Score: float64(expiresAt), Member: lockKey}).Err(); err != nil {
		_ = m.client.Del(ctx, lockKey).Err()
		return keyengine.Lock{}, fmt.Errorf("%w: indexing lock: %v", keyengine.ErrStoreFailure, err)
	}

	return keyengine.Lock{Key: key, Token: token}, nil
}

// Release implements keyengine.LockManager.
func (m *LockManager) Release(ctx context.Context, lock keyengine.Lock) error {
	lockKey := m.lockKey(lock.Key)
	if err := releaseScript.Run(ctx, m.client, []string{lockKey, m.indexKey}, lock.Token).Err(); err != nil {
		return fmt.Errorf("%w: releasing lock: %v", keyengine.ErrStoreFailure, err)
	}
	return nil
}

// Refresh implements keyengine.LockManager.
func (m *LockManager) Refresh(ctx context.Context, lock keyengine.Lock, ttl time.Duration) error {
	lockKey := m.lockKey(lock.Key)
	expiresAt := time.Now().Add(ttl).UnixMilli()
	res, err := refreshScript.Run(ctx, m.client, []string{lockKey, m.indexKey}, lock.Token, ttl.Milliseconds(), expiresAt).Int()
	if err != nil {
		return fmt.Errorf("%w: refreshing lock: %v", keyengine.ErrStoreFailure, err)
	}
	if res == 0 {
		return fmt.Errorf("%w: refresh on %s", keyengine.ErrLockNotAcquired, lock.Key)
	}
	return nil
}
