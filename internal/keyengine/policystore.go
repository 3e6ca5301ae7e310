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

// RotationPolicy is the per-domain rotation record held by PolicyStore
// (spec §3). nextRotationAt is always recomputed by the Engine, never by
// external callers.
type RotationPolicy struct {
	Domain               string
	ActiveKid            string
	RotationIntervalDays int
	// Schedule is an optional cron expression (robfig/cron syntax). When
	// non-empty it overrides RotationIntervalDays for computing the next
	// due time (SPEC_FULL.md supplemented feature); RotationIntervalDays
	// remains authoritative when Schedule is empty.
	Schedule       string
	RotatedAt      time.Time
	NextRotationAt time.Time
	Enabled        bool
	Note           string
}

// IsDue reports whether the policy is due for rotation at now, per spec §3:
// enabled && nextRotationAt <= now.
func (p RotationPolicy) IsDue(now time.Time) bool {
	return p.Enabled && !p.NextRotationAt.After(now)
}

// RotationAck is the set of fields written by acknowledgeSuccessfulRotation
// within a PolicyStore session.
type RotationAck struct {
	Domain               string
	RotationIntervalDays int
	// ExpectedOldKid is the activeKid this rotation attempt observed before
	// preparing the new key. AcknowledgeSuccessfulRotation must verify the
	// store still names this kid as active before committing newKid, per
	// spec §5's lock-expiry precondition check, and fail the rotation
	// otherwise instead of silently overwriting a successor's commit.
	ExpectedOldKid string
}

// PolicySession is an opaque transactional handle. Callers (including a
// caller-supplied updateRotationDatesCallback) perform additional writes
// against it; returning an error aborts the enclosing rotation.
type PolicySession interface {
	StartTransaction(ctx context.Context) error
	CommitTransaction(ctx context.Context) error
	AbortTransaction(ctx context.Context) error
	EndSession(ctx context.Context) error
}

// PolicyStore is the transactional per-domain rotation policy store (spec
// §4.3, C3).
type PolicyStore interface {
	FindByDomain(ctx context.Context, domain string) (RotationPolicy, error)
	CreatePolicy(ctx context.Context, policy RotationPolicy) error
	UpdatePolicy(ctx context.Context, policy RotationPolicy) error
	DeletePolicy(ctx context.Context, domain string) error
	Enable(ctx context.Context, domain string) error
	Disable(ctx context.Context, domain string) error

	// GetDueForRotation returns enabled policies with nextRotationAt <= now.
	GetDueForRotation(ctx context.Context, now time.Time) ([]RotationPolicy, error)

	// UpdateRotationDates persists {domain, activeKid, rotatedAt,
	// nextRotationAt} within session.
	UpdateRotationDates(ctx context.Context, session PolicySession, domain, activeKid string, rotatedAt, nextRotationAt time.Time) error

	// AcknowledgeSuccessfulRotation computes rotatedAt = now,
	// nextRotationAt = rotatedAt + intervalDays*86400000 (or the next cron
	// occurrence if the stored policy's Schedule parses), and persists both along with
	// activeKid = newKid within session. It must first verify that
	// active_kid still equals ack.ExpectedOldKid (the lock-expiry
	// precondition check, spec §5) and return ErrPreconditionFailed without
	// committing anything if it does not.
	AcknowledgeSuccessfulRotation(ctx context.Context, session PolicySession, ack RotationAck, newKid string, now time.Time) error

	// GetSession returns a fresh transactional handle.
	GetSession(ctx context.Context) (PolicySession, error)
}
