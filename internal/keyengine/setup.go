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
)

// SetupOptions customizes a domain's initial policy. A zero value selects
// the package defaults.
type SetupOptions struct {
	RotationIntervalDays int
	Schedule             string
	Note                 string
}

const defaultRotationIntervalDays = 90

// InitialSetupDomain creates the first key pair and policy for domain. It is
// a no-op (Skipped, not an error) if a policy already exists, per spec §7
// ("initialSetupDomain twice -> returns an already-exists outcome, not an
// error") and §6.
func (e *RotationEngine) InitialSetupDomain(ctx context.Context, domain string, opts SetupOptions) Result[string] {
	domain, err := ValidateDomain(domain)
	if err != nil {
		return Failed[string](err)
	}

	if _, err := e.policyStore.FindByDomain(ctx, domain); err == nil {
		return Skipped[string]("policy already exists for domain")
	} else if !errors.Is(err, ErrNotFound) {
		return Failed[string](err)
	}

	now := e.now()
	kid, err := NewKID(domain, now)
	if err != nil {
		return Failed[string](err)
	}
	publicPEM, privatePEM, err := generateRSAKeyPair(e.cfg.RSAKeyBits)
	if err != nil {
		return Failed[string](fmt.Errorf("%w: generating initial key pair: %v", ErrStoreFailure, err))
	}
	if err := e.keyStore.SaveKeyPair(domain, kid, publicPEM, privatePEM); err != nil {
		return Failed[string](err)
	}
	if err := e.metaStore.WriteOrigin(domain, kid, KeyMetadata{KID: kid, Domain: domain, CreatedAt: now}); err != nil {
		_ = e.keyStore.DeletePrivateKey(domain, kid)
		_ = e.keyStore.DeletePublicKey(domain, kid)
		return Failed[string](err)
	}

	intervalDays := opts.RotationIntervalDays
	if intervalDays <= 0 {
		intervalDays = defaultRotationIntervalDays
	}
	policy := RotationPolicy{
		Domain:               domain,
		ActiveKid:            kid,
		RotationIntervalDays: intervalDays,
		Schedule:             opts.Schedule,
		RotatedAt:            now,
		NextRotationAt:       now.AddDate(0, 0, intervalDays),
		Enabled:              true,
		Note:                 opts.Note,
	}
	if err := e.policyStore.CreatePolicy(ctx, policy); err != nil {
		_ = e.metaStore.DeleteOrigin(domain, kid)
		_ = e.keyStore.DeletePrivateKey(domain, kid)
		_ = e.keyStore.DeletePublicKey(domain, kid)
		return Failed[string](err)
	}

	if err := e.registry.Set(ctx, domain, kid); err != nil {
		e.log.Warnw("populating active kid registry after initial setup", "domain", domain, "kid", kid, "error", err)
	}

	return Ok(kid)
}
