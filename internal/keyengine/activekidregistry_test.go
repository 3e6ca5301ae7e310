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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// memorySharedCache is a trivial in-process SharedCache fake; the TTL
// argument is ignored and entries never expire (tests only assert presence).
type memorySharedCache struct {
	mu    sync.Mutex
	items map[string]string
	gets  int
}

func newMemorySharedCache() *memorySharedCache {
	return &memorySharedCache{items: make(map[string]string)}
}

func (c *memorySharedCache) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	v, ok := c.items[key]
	return v, ok, nil
}

func (c *memorySharedCache) Set(_ context.Context, key, value string, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = value
	return nil
}

func (c *memorySharedCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
	return nil
}

func TestActiveKidRegistry_GetFallsThroughToPolicyStore(t *testing.T) {
	store := newMemoryPolicyStore()
	require.NoError(t, store.CreatePolicy(context.Background(), RotationPolicy{Domain: "USER", ActiveKid: "USER-kid-1", Enabled: true}))

	shared := newMemorySharedCache()
	reg := NewActiveKidRegistry(shared, store, time.Minute, 0)

	kid, ok, err := reg.Get(context.Background(), "USER")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "USER-kid-1", kid)

	// Populated both layers.
	_, ok, _ = shared.Get(context.Background(), "USER")
	require.True(t, ok)
}

func TestActiveKidRegistry_GetPrefersLocalThenShared(t *testing.T) {
	store := newMemoryPolicyStore()
	shared := newMemorySharedCache()
	reg := NewActiveKidRegistry(shared, store, time.Minute, 0)

	// Seed the shared layer directly; PolicyStore has no record at all, so a
	// PolicyStore miss here would be wrong.
	require.NoError(t, shared.Set(context.Background(), "SVC", "SVC-kid-9", time.Minute))

	kid, ok, err := reg.Get(context.Background(), "SVC")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "SVC-kid-9", kid)
}

func TestActiveKidRegistry_GetMissingPolicyReturnsFalse(t *testing.T) {
	store := newMemoryPolicyStore()
	reg := NewActiveKidRegistry(newMemorySharedCache(), store, time.Minute, 0)

	_, ok, err := reg.Get(context.Background(), "GHOST")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestActiveKidRegistry_SetRefusesOnMismatch(t *testing.T) {
	store := newMemoryPolicyStore()
	require.NoError(t, store.CreatePolicy(context.Background(), RotationPolicy{Domain: "USER", ActiveKid: "USER-kid-1", Enabled: true}))
	reg := NewActiveKidRegistry(newMemorySharedCache(), store, time.Minute, 0)

	err := reg.Set(context.Background(), "USER", "USER-kid-WRONG")
	require.ErrorIs(t, err, ErrFatal)

	// No side effect: the stored policy is untouched.
	policy, err := store.FindByDomain(context.Background(), "USER")
	require.NoError(t, err)
	require.Equal(t, "USER-kid-1", policy.ActiveKid)

	// And the caches were not populated with the rejected value.
	_, ok := reg.local.Get("USER")
	require.False(t, ok)
}

func TestActiveKidRegistry_SetAcceptsMatchingKid(t *testing.T) {
	store := newMemoryPolicyStore()
	require.NoError(t, store.CreatePolicy(context.Background(), RotationPolicy{Domain: "USER", ActiveKid: "USER-kid-1", Enabled: true}))
	shared := newMemorySharedCache()
	reg := NewActiveKidRegistry(shared, store, time.Minute, 0)

	require.NoError(t, reg.Set(context.Background(), "USER", "USER-kid-1"))

	kid, ok := reg.local.Get("USER")
	require.True(t, ok)
	require.Equal(t, "USER-kid-1", kid)
}

func TestActiveKidRegistry_DeleteClearsBothLayers(t *testing.T) {
	store := newMemoryPolicyStore()
	require.NoError(t, store.CreatePolicy(context.Background(), RotationPolicy{Domain: "USER", ActiveKid: "USER-kid-1", Enabled: true}))
	shared := newMemorySharedCache()
	reg := NewActiveKidRegistry(shared, store, time.Minute, 0)

	_, _, err := reg.Get(context.Background(), "USER")
	require.NoError(t, err)

	require.NoError(t, reg.Delete(context.Background(), "USER"))

	_, ok := reg.local.Get("USER")
	require.False(t, ok)
	_, ok, _ = shared.Get(context.Background(), "USER")
	require.False(t, ok)
}
