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

import "errors"

// Sentinel errors shared across the key lifecycle engine. Components wrap
// these with fmt.Errorf("%w: ...") so callers can classify failures with
// errors.Is without parsing messages.
var (
	// ErrNotFound indicates a requested key, metadata record, or policy does
	// not exist.
	ErrNotFound = errors.New("keyengine: not found")
	// ErrAlreadyExists indicates a policy already exists for a domain
	// (initialSetupDomain is a no-op in this case, not an error).
	ErrAlreadyExists = errors.New("keyengine: already exists")
	// ErrInvalidDomain indicates a malformed or empty domain identifier.
	ErrInvalidDomain = errors.New("keyengine: invalid domain")
	// ErrNoActiveKey indicates a rotation or sign attempt found no active
	// KID for the domain.
	ErrNoActiveKey = errors.New("keyengine: no active signing key")
	// ErrLockNotAcquired indicates the LockManager could not grant the lock,
	// either because another holder has it or the global capacity is full.
	ErrLockNotAcquired = errors.New("keyengine: lock not acquired")
	// ErrStoreFailure indicates a KeyStore/MetadataStore/PolicyStore I/O or
	// transaction failure. RotationEngine treats this as the rollback
	// trigger.
	ErrStoreFailure = errors.New("keyengine: store failure")
	// ErrFatal indicates an invariant violation detected mid-rotation (e.g.
	// rollback itself failed, or the active KID no longer matches after
	// rollback). Callers should treat this as unrecoverable for the process.
	ErrFatal = errors.New("keyengine: fatal invariant violation")
	// ErrPayloadTooLarge indicates a sign request's payload exceeded the
	// configured maximum.
	ErrPayloadTooLarge = errors.New("keyengine: payload too large")
	// ErrTTLExceeded indicates a sign request asked for an expiry further out
	// than PUBLIC_TTL_MS permits.
	ErrTTLExceeded = errors.New("keyengine: requested expiry exceeds public TTL")
	// ErrOutOfRange indicates a configuration value fell outside its
	// documented bounds.
	ErrOutOfRange = errors.New("keyengine: value out of range")
	// ErrPreconditionFailed indicates a commit's precondition check found
	// the PolicyStore state no longer matches what the caller expected
	// (e.g. activeKid changed after the rotation lock's TTL expired and a
	// successor already committed).
	ErrPreconditionFailed = errors.New("keyengine: precondition failed")
)
