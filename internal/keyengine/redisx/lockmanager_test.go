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
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/altairalabs/omnia/internal/keyengine"
)

func setupTestClient(t *testing.T) (goredis.UniversalClient, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestLockManager_AcquireReleaseRoundTrip(t *testing.T) {
	client, _ := setupTestClient(t)
	lm := NewLockManager(client, "", 10, nil)
	ctx := context.Background()

	lock, err := lm.Acquire(ctx, "user", time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, lock.Token)

	require.NoError(t, lm.Release(ctx, lock))

	// Released; a second acquire on the same key now succeeds.
	_, err = lm.Acquire(ctx, "user", time.Minute)
	require.NoError(t, err)
}

func TestLockManager_SecondAcquireOnHeldKeyFails(t *testing.T) {
	client, _ := setupTestClient(t)
	lm := NewLockManager(client, "", 10, nil)
	ctx := context.Background()

	_, err := lm.Acquire(ctx, "user", time.Minute)
	require.NoError(t, err)

	_, err = lm.Acquire(ctx, "user", time.Minute)
	require.ErrorIs(t, err, keyengine.ErrLockNotAcquired)
}

func TestLockManager_ReleaseWithStaleTokenIsNoOp(t *testing.T) {
	client, _ := setupTestClient(t)
	lm := NewLockManager(client, "", 10, nil)
	ctx := context.Background()

	lock, err := lm.Acquire(ctx, "user", time.Minute)
	require.NoError(t, err)

	stale := lock
	stale.Token = "not-the-real-token"
	require.NoError(t, lm.Release(ctx, stale))

	// Still held: a fresh acquire on the same key fails.
	_, err = lm.Acquire(ctx, "user", time.Minute)
	require.ErrorIs(t, err, keyengine.ErrLockNotAcquired)
}

func TestLockManager_CapacityCapRejectsBeyondLimit(t *testing.T) {
	client, _ := setupTestClient(t)
	lm := NewLockManager(client, "", 1, nil)
	ctx := context.Background()

	_, err := lm.Acquire(ctx, "a", time.Minute)
	require.NoError(t, err)

	_, err = lm.Acquire(ctx, "b", time.Minute)
	require.ErrorIs(t, err, keyengine.ErrLockNotAcquired)
}

func TestLockManager_CapacityExhaustedHookFiresOnlyOnCapacityRejection(t *testing.T) {
	client, _ := setupTestClient(t)
	var exhaustedCount int
	lm := NewLockManager(client, "", 1, func() { exhaustedCount++ })
	ctx := context.Background()

	_, err := lm.Acquire(ctx, "a", time.Minute)
	require.NoError(t, err)
	require.Equal(t, 0, exhaustedCount)

	// Rejected for capacity, not because "a" itself is held again.
	_, err = lm.Acquire(ctx, "b", time.Minute)
	require.ErrorIs(t, err, keyengine.ErrLockNotAcquired)
	require.Equal(t, 1, exhaustedCount)

	// Rejected because the specific key is already held: capacity is not the
	// cause, so the hook must not fire again.
	lm2 := NewLockManager(client, "", 10, func() { exhaustedCount++ })
	_, err = lm2.Acquire(ctx, "a", time.Minute)
	require.ErrorIs(t, err, keyengine.ErrLockNotAcquired)
	require.Equal(t, 1, exhaustedCount)
}

func TestLockManager_TTLAutoRelease(t *testing.T) {
	client, mr := setupTestClient(t)
	lm := NewLockManager(client, "", 10, nil)
	ctx := context.Background()

	_, err := lm.Acquire(ctx, "user", time.Second)
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)

	_, err = lm.Acquire(ctx, "user", time.Minute)
	require.NoError(t, err)
}

func TestLockManager_RefreshExtendsTTL(t *testing.T) {
	client, _ := setupTestClient(t)
	lm := NewLockManager(client, "", 10, nil)
	ctx := context.Background()

	lock, err := lm.Acquire(ctx, "user", time.Second)
	require.NoError(t, err)

	require.NoError(t, lm.Refresh(ctx, lock, time.Minute))
}

func TestLockManager_RefreshWithStaleTokenFails(t *testing.T) {
	client, _ := setupTestClient(t)
	lm := NewLockManager(client, "", 10, nil)
	ctx := context.Background()

	lock, err := lm.Acquire(ctx, "user", time.Minute)
	require.NoError(t, err)

	stale := lock
	stale.Token = "wrong"
	err = lm.Refresh(ctx, stale, time.Minute)
	require.ErrorIs(t, err, keyengine.ErrLockNotAcquired)
}
