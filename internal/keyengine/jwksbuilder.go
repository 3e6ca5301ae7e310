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
	"encoding/base64"
	"fmt"
	"math/big"
	"sync"
)

// JWK is a single RSA JSON Web Key, per spec §6's wire format.
type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWKS is the wire envelope returned by getJwks(domain).
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// JwksBuilder enumerates a domain's public keys and builds JWKs, caching
// the derivation keyed by KID (spec §4.9, C9). The JWKS for a domain
// contains its active public key and every retired-but-not-yet-expired
// public key.
type JwksBuilder struct {
	keyStore KeyStore

	mu    sync.RWMutex
	cache map[string]JWK // kid -> JWK
}

// NewJwksBuilder wires a JwksBuilder over the shared KeyStore.
func NewJwksBuilder(keyStore KeyStore) *JwksBuilder {
	return &JwksBuilder{keyStore: keyStore, cache: make(map[string]JWK)}
}

// Invalidate evicts kid from the JWK derivation cache. Wired as the
// RotationEngine and Janitor's cache-invalidation callback.
func (b *JwksBuilder) Invalidate(kid string) {
	b.mu.Lock()
	delete(b.cache, kid)
	b.mu.Unlock()
}

func (b *JwksBuilder) jwkFor(domain, kid string) (JWK, error) {
	b.mu.RLock()
	jwk, ok := b.cache[kid]
	b.mu.RUnlock()
	if ok {
		return jwk, nil
	}

	pem, err := b.keyStore.LoadPublicKey(domain, kid)
	if err != nil {
		return JWK{}, err
	}
	key, err := parseRSAPublicKeyPEM(pem)
	if err != nil {
		return JWK{}, fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}

	jwk = JWK{
		Kty: "RSA",
		Use: "sig",
		Alg: "RS256",
		Kid: kid,
		N:   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
	}

	b.mu.Lock()
	b.cache[kid] = jwk
	b.mu.Unlock()
	return jwk, nil
}

// GetJwks enumerates the KeyStore's public KIDs for domain and returns
// their JWKs. A domain with no key material present surfaces ErrNotFound
// (spec §7: "JWKS for a domain with no key material present -> StoreFailure
// surfaced as NotFound").
func (b *JwksBuilder) GetJwks(domain string) (JWKS, error) {
	domain, err := ValidateDomain(domain)
	if err != nil {
		return JWKS{}, err
	}

	kids, err := b.keyStore.ListPublicKids(domain)
	if err != nil {
		return JWKS{}, err
	}
	if len(kids) == 0 {
		return JWKS{}, fmt.Errorf("%w: no public keys for domain %s", ErrNotFound, domain)
	}

	keys := make([]JWK, 0, len(kids))
	for _, kid := range kids {
		jwk, err := b.jwkFor(domain, kid)
		if err != nil {
			return JWKS{}, err
		}
		keys = append(keys, jwk)
	}
	return JWKS{Keys: keys}, nil
}
