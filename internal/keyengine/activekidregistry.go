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
	"errors"
	"fmt"
	"time"
)

// SharedCache is the external, TTL-indexed layer of ActiveKidRegistry (spec
// §4.5), backed by an external store shared across process instances.
// Entries expire by TTL only; no entry-count cap is enforced (unlike
// LockManager's capacity-capped index).
type SharedCache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

const defaultRegistryLocalCapacity = 1024

// ActiveKidRegistry is the authoritative domain -> active KID mapping,
// two-layer read-through cached over PolicyStore (spec §4.5, C5).
// PolicyStore remains the source of truth; the caches only ever reflect
// what it has already acknowledged.
type ActiveKidRegistry struct {
	local       *boundedLRU
	shared      SharedCache
	policyStore PolicyStore
	ttl         time.Duration
}

// NewActiveKidRegistry constructs a registry with the given shared cache,
// backing PolicyStore, and cache TTL. localCapacity bounds the process-local
// layer; a non-positive value falls back to defaultRegistryLocalCapacity.
func NewActiveKidRegistry(shared SharedCache, policyStore PolicyStore, ttl time.Duration, localCapacity int) *ActiveKidRegistry {
	if localCapacity <= 0 {
		localCapacity = defaultRegistryLocalCapacity
	}
	return &ActiveKidRegistry{
		local:       newBoundedLRU(localCapacity),
		shared:      shared,
		policyStore: policyStore,
		ttl:         ttl,
	}
}

// Get resolves domain's active KID: local map, then shared cache, then
// PolicyStore. A PolicyStore hit populates both caches with the configured
// TTL. Returns (kid, true, nil) on a hit; (_, false, nil) if no policy
// exists for domain (spec: "returns null if no policy exists").
func (r *ActiveKidRegistry) Get(ctx context.Context, domain string) (string, bool, error) {
	if kid, ok := r.local.Get(domain); ok {
		return kid, true, nil
	}

	if r.shared != nil {
		kid, ok, err := r.shared.Get(ctx, domain)
		if err != nil {
			return "", false, fmt.Errorf("%w: shared cache get: %v", ErrStoreFailure, err)
		}
		if ok {
			r.local.Set(domain, kid)
			return kid, true, nil
		}
	}

	policy, err := r.policyStore.FindByDomain(ctx, domain)
	if err != nil {
		if isNotFound(err) {
			return "", false, nil
		}
		return "", false, err
	}

	r.local.Set(domain, policy.ActiveKid)
	if r.shared != nil {
		if err := r.shared.Set(ctx, domain, policy.ActiveKid, r.ttl); err != nil {
			return "", false, fmt.Errorf("%w: shared cache set: %v", ErrStoreFailure, err)
		}
	}
	return policy.ActiveKid, true, nil
}

// Set writes kid into both cache layers for domain, but only after
// confirming PolicyStore.findByDomain(domain).activeKid == kid. A mismatch
// is refused outright: the registry never mutates the caller's policy and
// never speculatively caches a KID the PolicyStore has not acknowledged
// (spec §9 Open Question: refuse, no side effect).
func (r *ActiveKidRegistry) Set(ctx context.Context, domain, kid string) error {
	policy, err := r.policyStore.FindByDomain(ctx, domain)
	if err != nil {
		return err
	}
	if policy.ActiveKid != kid {
		return fmt.Errorf("%w: registry set for %s: cache kid %s disagrees with policy kid %s", ErrFatal, domain, kid, policy.ActiveKid)
	}

	r.local.Set(domain, kid)
	if r.shared != nil {
		if err := r.shared.Set(ctx, domain, kid, r.ttl); err != nil {
			return fmt.Errorf("%w: shared cache set: %v", ErrStoreFailure, err)
		}
	}
	return nil
}

// Delete clears domain from both cache layers.
func (r *ActiveKidRegistry) Delete(ctx context.Context, domain string) error {
	r.local.Delete(domain)
	if r.shared != nil {
		if err := r.shared.Delete(ctx, domain); err != nil {
			return fmt.Errorf("%w: shared cache delete: %v", ErrStoreFailure, err)
		}
	}
	return nil
}

func isNotFound(err error) bool {
	return err != nil && errors.Is(err, ErrNotFound)
}
