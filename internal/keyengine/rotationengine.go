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

	"go.uber.org/zap"
)

// UpdateRotationDatesFunc is the caller-supplied transactional extension
// hook invoked during Commit (spec §4.6.3.c, §9 "async/callbacks for
// transactional participation"). Returning an error aborts the enclosing
// rotation.
type UpdateRotationDatesFunc func(ctx context.Context, session PolicySession) error

// InvalidateFunc is called by the Engine to evict a KID from a read-side
// cache (Signer, JwksBuilder) on commit and on expiry.
type InvalidateFunc func(kid string)

// EngineConfig tunes RotationEngine behaviour.
type EngineConfig struct {
	// LockTTL bounds a single rotation attempt; it must exceed the expected
	// rotation time plus a safety margin (spec §4.6.1 suggests 5 minutes).
	LockTTL time.Duration
	// RSAKeyBits is the modulus length used for generated key pairs.
	RSAKeyBits int
}

// DefaultEngineConfig returns the documented defaults: a 5 minute lock TTL
// and 4096-bit RSA keys.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		LockTTL:    5 * time.Minute,
		RSAKeyBits: DefaultRSAKeyBits,
	}
}

// RotationEngine owns the prepare/commit/rollback state machine for a
// single domain's rotation (spec §4.6, C6).
type RotationEngine struct {
	keyStore       KeyStore
	metaStore      MetadataStore
	policyStore    PolicyStore
	lockManager    LockManager
	registry       *ActiveKidRegistry
	cfg            EngineConfig
	now            func() time.Time
	invalidate     InvalidateFunc
	log            *zap.SugaredLogger
	janitor        *Janitor
	recordDuration func(time.Duration)
}

// NewRotationEngine wires the components a rotation needs. invalidate may
// be nil (no cache invalidation hook wired). recordDuration may be nil; if
// set, it is called once per RotateDomain attempt (any outcome) with the
// wall-clock time spent across the full acquire/prepare/commit/release
// cycle, for observing rotation latency.
func NewRotationEngine(
	keyStore KeyStore,
	metaStore MetadataStore,
	policyStore PolicyStore,
	lockManager LockManager,
	registry *ActiveKidRegistry,
	cfg EngineConfig,
	invalidate InvalidateFunc,
	log *zap.SugaredLogger,
	recordDuration func(time.Duration),
) *RotationEngine {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &RotationEngine{
		keyStore:       keyStore,
		metaStore:      metaStore,
		policyStore:    policyStore,
		lockManager:    lockManager,
		registry:       registry,
		cfg:            cfg,
		now:            time.Now,
		invalidate:     invalidate,
		log:            log,
		janitor:        NewJanitor(keyStore, metaStore, invalidate, log),
		recordDuration: recordDuration,
	}
}

func lockKeyForDomain(domain string) string {
	return "rotation:" + domain
}

// RotateDomain runs one full Acquire -> Prepare -> Commit (-> Rollback) ->
// Release cycle for domain. On success, Result.Value is the new active KID.
func (e *RotationEngine) RotateDomain(ctx context.Context, domain string, updateRotationDates UpdateRotationDatesFunc) Result[string] {
	if e.recordDuration != nil {
		start := e.now()
		defer func() { e.recordDuration(e.now().Sub(start)) }()
	}

	domain, err := ValidateDomain(domain)
	if err != nil {
		return Failed[string](err)
	}

	lock, err := e.lockManager.Acquire(ctx, lockKeyForDomain(domain), e.cfg.LockTTL)
	if err != nil {
		if errors.Is(err, ErrLockNotAcquired) {
			return Skipped[string]("lock not acquired")
		}
		return Failed[string](fmt.Errorf("%w: acquiring rotation lock: %v", ErrStoreFailure, err))
	}
	defer func() {
		if relErr := e.lockManager.Release(ctx, lock); relErr != nil {
			e.log.Warnw("releasing rotation lock", "domain", domain, "error", relErr)
		}
	}()

	return e.prepareAndCommit(ctx, domain, updateRotationDates)
}

// rotationState tracks how far prepare/commit progressed, so rollback knows
// exactly what to undo.
type rotationState struct {
	newKeySaved      bool
	newOriginWritten bool
	oldArchived      bool
	oldOriginDeleted bool
	sessionStarted   bool
}

func (e *RotationEngine) prepareAndCommit(ctx context.Context, domain string, updateRotationDates UpdateRotationDatesFunc) Result[string] {
	policy, err := e.policyStore.FindByDomain(ctx, domain)
	if err != nil {
		return Failed[string](err)
	}

	oldKid, ok, err := e.registry.Get(ctx, domain)
	if err != nil {
		return Failed[string](err)
	}
	if !ok || oldKid == "" {
		return Failed[string](fmt.Errorf("%w: domain %s has no active key; use initial setup instead", ErrNoActiveKey, domain))
	}

	oldMeta, err := e.metaStore.ReadOrigin(domain, oldKid)
	if err != nil {
		return Failed[string](fmt.Errorf("%w: reading origin metadata for active kid %s: %v", ErrFatal, oldKid, err))
	}

	now := e.now()
	newKid, err := NewKID(domain, now)
	if err != nil {
		return Failed[string](err)
	}

	var st rotationState
	rollback := func(cause error, session PolicySession) Result[string] {
		if err := e.rollback(ctx, domain, oldKid, newKid, oldMeta, &st, session); err != nil {
			return Failed[string](fmt.Errorf("%w: rollback failed after %w: %v", ErrFatal, cause, err))
		}
		return Failed[string](cause)
	}

	// Prepare.
	publicPEM, privatePEM, err := generateRSAKeyPair(e.cfg.RSAKeyBits)
	if err != nil {
		return rollback(fmt.Errorf("%w: generating new key pair: %v", ErrStoreFailure, err), nil)
	}
	if err := e.keyStore.SaveKeyPair(domain, newKid, publicPEM, privatePEM); err != nil {
		return rollback(err, nil)
	}
	st.newKeySaved = true

	if err := e.metaStore.WriteOrigin(domain, newKid, KeyMetadata{KID: newKid, Domain: domain, CreatedAt: now}); err != nil {
		return rollback(err, nil)
	}
	st.newOriginWritten = true

	expiresAt := now.Add(PublicTTL).Add(Grace)
	archived := oldMeta
	archived.ExpiresAt = &expiresAt
	if err := e.metaStore.WriteArchive(oldKid, archived); err != nil {
		return rollback(err, nil)
	}
	st.oldArchived = true

	if err := e.metaStore.DeleteOrigin(domain, oldKid); err != nil {
		return rollback(err, nil)
	}
	st.oldOriginDeleted = true

	// Commit.
	session, err := e.policyStore.GetSession(ctx)
	if err != nil {
		return rollback(fmt.Errorf("%w: opening policy session: %v", ErrStoreFailure, err), nil)
	}
	if err := session.StartTransaction(ctx); err != nil {
		return rollback(fmt.Errorf("%w: starting policy transaction: %v", ErrStoreFailure, err), session)
	}
	st.sessionStarted = true

	ack := RotationAck{Domain: domain, RotationIntervalDays: policy.RotationIntervalDays, ExpectedOldKid: oldKid}
	if err := e.policyStore.AcknowledgeSuccessfulRotation(ctx, session, ack, newKid, now); err != nil {
		return rollback(err, session)
	}

	if updateRotationDates != nil {
		if err := updateRotationDates(ctx, session); err != nil {
			return rollback(fmt.Errorf("%w: updateRotationDatesCallback: %v", ErrStoreFailure, err), session)
		}
	}

	if err := session.CommitTransaction(ctx); err != nil {
		return rollback(err, session)
	}
	_ = session.EndSession(ctx)

	// Post-commit, best effort.
	if err := e.janitor.deletePrivate(domain, oldKid); err != nil {
		e.log.Warnw("deleting retired private key after commit", "domain", domain, "kid", oldKid, "error", err)
	}
	if err := e.registry.Set(ctx, domain, newKid); err != nil {
		e.log.Warnw("refreshing active kid registry after commit", "domain", domain, "kid", newKid, "error", err)
	}
	if e.invalidate != nil {
		e.invalidate(oldKid)
		e.invalidate(newKid)
	}

	return Ok(newKid)
}

// rollback undoes whatever prepare/commit progress is recorded in st. It
// deletes the new KID's material, restores the old KID's origin metadata,
// aborts any open session, and never leaves the PolicyStore's activeKid
// pointing anywhere but oldKid.
func (e *RotationEngine) rollback(ctx context.Context, domain, oldKid, newKid string, oldMeta KeyMetadata, st *rotationState, session PolicySession) error {
	if session != nil && st.sessionStarted {
		if err := session.AbortTransaction(ctx); err != nil {
			return fmt.Errorf("aborting policy transaction: %w", err)
		}
		_ = session.EndSession(ctx)
	}

	if st.oldOriginDeleted {
		restored := oldMeta
		restored.ExpiresAt = nil
		if err := e.metaStore.WriteOrigin(domain, oldKid, restored); err != nil {
			return fmt.Errorf("restoring origin metadata for %s: %w", oldKid, err)
		}
	}
	if st.oldArchived {
		if err := e.janitor.deleteArchivedMetadata(oldKid); err != nil {
			return fmt.Errorf("removing premature archive record for %s: %w", oldKid, err)
		}
	}
	if st.newOriginWritten {
		if err := e.janitor.deleteOriginMetadata(domain, newKid); err != nil {
			return fmt.Errorf("removing origin metadata for %s: %w", newKid, err)
		}
	}
	if st.newKeySaved {
		if err := e.janitor.deletePrivate(domain, newKid); err != nil {
			return fmt.Errorf("removing private key for %s: %w", newKid, err)
		}
		if err := e.janitor.deletePublic(domain, newKid); err != nil {
			return fmt.Errorf("removing public key for %s: %w", newKid, err)
		}
	}

	policy, err := e.policyStore.FindByDomain(ctx, domain)
	if err != nil {
		return fmt.Errorf("verifying policy after rollback: %w", err)
	}
	if policy.ActiveKid != oldKid {
		return fmt.Errorf("invariant violated: activeKid is %s after rollback, want %s", policy.ActiveKid, oldKid)
	}
	return nil
}
