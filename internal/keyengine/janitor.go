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
	"time"

	"go.uber.org/zap"
)

// CleanupSummary aggregates one runCleanup pass.
type CleanupSummary struct {
	Removed []string // KIDs reaped
	Errors  map[string]error
}

// Janitor applies expiry to retired public keys and reaps expired archived
// metadata (spec §4.8, C8).
type Janitor struct {
	keyStore   KeyStore
	metaStore  MetadataStore
	invalidate InvalidateFunc
	now        func() time.Time
	log        *zap.SugaredLogger
}

// NewJanitor wires a Janitor. invalidate may be nil.
func NewJanitor(keyStore KeyStore, metaStore MetadataStore, invalidate InvalidateFunc, log *zap.SugaredLogger) *Janitor {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Janitor{keyStore: keyStore, metaStore: metaStore, invalidate: invalidate, now: time.Now, log: log}
}

// RunCleanup enumerates archived metadata, reaps every record whose
// expiresAt has elapsed, and continues past per-item failures (spec §4.8,
// §7: "per-item failures logged and skipped; never fatal").
func (j *Janitor) RunCleanup() CleanupSummary {
	summary := CleanupSummary{Errors: make(map[string]error)}

	records, err := j.metaStore.ReadAllArchived()
	if err != nil {
		summary.Errors["*"] = err
		return summary
	}

	now := j.now()
	for _, meta := range records {
		if !meta.IsExpired(now) {
			continue
		}
		if err := j.reap(meta); err != nil {
			j.log.Warnw("reaping expired key", "kid", meta.KID, "domain", meta.Domain, "error", err)
			summary.Errors[meta.KID] = err
			continue
		}
		summary.Removed = append(summary.Removed, meta.KID)
	}
	return summary
}

func (j *Janitor) reap(meta KeyMetadata) error {
	if err := j.deletePublic(meta.Domain, meta.KID); err != nil {
		return err
	}
	if err := j.deleteArchivedMetadata(meta.KID); err != nil {
		return err
	}
	if j.invalidate != nil {
		j.invalidate(meta.KID)
	}
	return nil
}

// deletePublic removes a domain's public key file (also used directly by
// the RotationEngine's rollback to remove a new KID's public key).
func (j *Janitor) deletePublic(domain, kid string) error {
	return j.keyStore.DeletePublicKey(domain, kid)
}

// deletePrivate removes a domain's private key file.
func (j *Janitor) deletePrivate(domain, kid string) error {
	return j.keyStore.DeletePrivateKey(domain, kid)
}

// deleteOriginMetadata removes a domain's origin metadata record.
func (j *Janitor) deleteOriginMetadata(domain, kid string) error {
	return j.metaStore.DeleteOrigin(domain, kid)
}

// deleteArchivedMetadata removes a global archive metadata record.
func (j *Janitor) deleteArchivedMetadata(kid string) error {
	return j.metaStore.DeleteArchived(kid)
}

// addKeyExpiry moves a key's metadata from origin to archive with
// expiresAt = now + PUBLIC_TTL + GRACE, mirroring the ordering the
// RotationEngine uses during prepare (archive write before origin delete).
// Exposed for callers outside the Engine (e.g. administrative forced
// retirement) that need the same transition.
func (j *Janitor) addKeyExpiry(domain, kid string) error {
	meta, err := j.metaStore.ReadOrigin(domain, kid)
	if err != nil {
		return err
	}
	expiresAt := j.now().Add(PublicTTL).Add(Grace)
	meta.ExpiresAt = &expiresAt
	if err := j.metaStore.WriteArchive(kid, meta); err != nil {
		return err
	}
	return j.metaStore.DeleteOrigin(domain, kid)
}
