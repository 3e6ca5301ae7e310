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
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SignOptions customizes a single sign() call.
type SignOptions struct {
	// ExpiresAt, if non-zero, sets the token's exp claim. It must not be
	// further than PublicTTL past iat.
	ExpiresAt time.Time
}

// Signer produces RS256-signed compact tokens for a domain's current
// active key, caching the imported private key handle per KID (spec §4.9,
// C9). The read path never blocks the RotationEngine.
type Signer struct {
	registry *ActiveKidRegistry
	keyStore KeyStore
	now      func() time.Time

	mu    sync.RWMutex
	cache map[string]*rsa.PrivateKey // kid -> imported private key
}

// NewSigner wires a Signer over the shared ActiveKidRegistry and KeyStore.
func NewSigner(registry *ActiveKidRegistry, keyStore KeyStore) *Signer {
	return &Signer{
		registry: registry,
		keyStore: keyStore,
		now:      time.Now,
		cache:    make(map[string]*rsa.PrivateKey),
	}
}

func (s *Signer) privateKey(domain, kid string) (*rsa.PrivateKey, error) {
	s.mu.RLock()
	key, ok := s.cache[kid]
	s.mu.RUnlock()
	if ok {
		return key, nil
	}

	pem, err := s.keyStore.LoadPrivateKey(domain, kid)
	if err != nil {
		return nil, err
	}
	key, err = parseRSAPrivateKeyPEM(pem)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}

	s.mu.Lock()
	s.cache[kid] = key
	s.mu.Unlock()
	return key, nil
}

// Invalidate evicts kid from the signer cache. Wired as the RotationEngine
// and Janitor's cache-invalidation callback.
func (s *Signer) Invalidate(kid string) {
	s.mu.Lock()
	delete(s.cache, kid)
	s.mu.Unlock()
}

// Sign produces a compact RS256 JWT for domain using its current active
// key. Payload claims become the token's claim set; claims are copied so
// the caller's map is never mutated. A domain without an active key fails
// with ErrNoActiveKey; a payload larger than MaxPayloadBytes fails with
// ErrPayloadTooLarge (spec §8 boundary behavior); a requested exp further
// than PublicTTL past iat fails with ErrTTLExceeded (spec §8 scenario 6).
func (s *Signer) Sign(ctx context.Context, domain string, payload map[string]any, opts SignOptions) (string, error) {
	domain, err := ValidateDomain(domain)
	if err != nil {
		return "", err
	}

	marshaled, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("%w: marshaling payload: %v", ErrStoreFailure, err)
	}
	if len(marshaled) > MaxPayloadBytes {
		return "", fmt.Errorf("%w: payload is %d bytes, exceeds %d", ErrPayloadTooLarge, len(marshaled), MaxPayloadBytes)
	}

	kid, ok, err := s.registry.Get(ctx, domain)
	if err != nil {
		return "", err
	}
	if !ok || kid == "" {
		return "", fmt.Errorf("%w: domain %s", ErrNoActiveKey, domain)
	}

	key, err := s.privateKey(domain, kid)
	if err != nil {
		return "", err
	}

	now := s.now()
	claims := jwt.MapClaims{}
	for k, v := range payload {
		claims[k] = v
	}
	claims["iat"] = now.Unix()

	expiresAt := opts.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = now.Add(PublicTTL)
	}
	if expiresAt.Sub(now) > PublicTTL {
		return "", fmt.Errorf("%w: requested exp %s exceeds PUBLIC_TTL_MS from iat", ErrTTLExceeded, expiresAt)
	}
	claims["exp"] = expiresAt.Unix()

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid

	return token.SignedString(key)
}
