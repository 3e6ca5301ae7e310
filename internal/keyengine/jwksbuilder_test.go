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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJwksBuilder_GetJwksAfterSetupHasOneKey(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	setup := h.engine.InitialSetupDomain(ctx, "user", SetupOptions{})
	require.True(t, setup.IsOK())

	builder := NewJwksBuilder(h.keyStore)
	jwks, err := builder.GetJwks("user")
	require.NoError(t, err)
	require.Len(t, jwks.Keys, 1)
	require.Equal(t, "RSA", jwks.Keys[0].Kty)
	require.Equal(t, "sig", jwks.Keys[0].Use)
	require.Equal(t, "RS256", jwks.Keys[0].Alg)
	require.Equal(t, setup.Value, jwks.Keys[0].Kid)
}

func TestJwksBuilder_GetJwksAfterRotationHasTwoKeys(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	setup := h.engine.InitialSetupDomain(ctx, "user", SetupOptions{})
	require.True(t, setup.IsOK())

	result := h.engine.RotateDomain(ctx, "user", nil)
	require.True(t, result.IsOK())

	builder := NewJwksBuilder(h.keyStore)
	jwks, err := builder.GetJwks("user")
	require.NoError(t, err)
	require.Len(t, jwks.Keys, 2)
}

func TestJwksBuilder_GetJwksMissingDomainReturnsNotFound(t *testing.T) {
	h := newTestHarness(t)
	builder := NewJwksBuilder(h.keyStore)
	_, err := builder.GetJwks("ghost")
	require.ErrorIs(t, err, ErrNotFound)
}
