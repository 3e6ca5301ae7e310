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

package keyengine

import (
	"context"
	"time"
)

// Lock is a held, fenced lock handle returned by LockManager.Acquire. Token
// must be presented to Release so a stale holder (one whose TTL already
// expired and was reassigned) cannot release someone else's lock.
type Lock struct {
	Key   string
	Token string
}

// LockManager is the distributed mutual-exclusion contract used to
// serialize rotation per domain (spec §4.4, C4). Implementations must
// provide:
//
//   - Atomic acquire: at most one caller holds a given key at a time.
//   - A global capacity cap: once the number of concurrently held locks
//     reaches the cap, further Acquire calls fail with ErrLockNotAcquired
//     rather than blocking indefinitely.
//   - Fencing by token: Release only succeeds if the caller presents the
//     token it was issued at Acquire time.
//   - TTL auto-release: a lock whose TTL elapses without a Release is
//     reclaimable by another caller.
type LockManager interface {
	// Acquire attempts to take key for ttl. It returns ErrLockNotAcquired
	// if the key is already held, or if the manager is at capacity.
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lock, error)
	// Release relinquishes lock. Releasing with a stale or unknown token is
	// a no-op: it must never release a lock acquired by someone else.
	Release(ctx context.Context, lock Lock) error
	// Refresh extends a held lock's TTL, failing with ErrLockNotAcquired if
	// the token no longer matches the current holder.
	Refresh(ctx context.Context, lock Lock, ttl time.Duration) error
}
