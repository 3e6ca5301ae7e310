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
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFileKeyStore_SaveAndLoad(t *testing.T) {
	store := NewFileKeyStore(t.TempDir())

	err := store.SaveKeyPair("USER", "USER-20260101-000000-deadbeef", []byte("pub"), []byte("priv"))
	require.NoError(t, err)

	pub, err := store.LoadPublicKey("USER", "USER-20260101-000000-deadbeef")
	require.NoError(t, err)
	require.Equal(t, []byte("pub"), pub)

	priv, err := store.LoadPrivateKey("USER", "USER-20260101-000000-deadbeef")
	require.NoError(t, err)
	require.Equal(t, []byte("priv"), priv)
}

func TestFileKeyStore_FileModes(t *testing.T) {
	base := t.TempDir()
	store := NewFileKeyStore(base)
	kid := "USER-20260101-000000-deadbeef"
	require.NoError(t, store.SaveKeyPair("USER", kid, []byte("pub"), []byte("priv")))

	privInfo, err := os.Stat(store.privatePath("USER", kid))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(privateKeyFileMode), privInfo.Mode().Perm())

	pubInfo, err := os.Stat(store.publicPath("USER", kid))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(publicKeyFileMode), pubInfo.Mode().Perm())
}

func TestFileKeyStore_LoadMissing_NotFound(t *testing.T) {
	store := NewFileKeyStore(t.TempDir())
	_, err := store.LoadPrivateKey("USER", "nope")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFileKeyStore_ListKids(t *testing.T) {
	store := NewFileKeyStore(t.TempDir())
	require.NoError(t, store.SaveKeyPair("USER", "kid-1", []byte("a"), []byte("a")))
	require.NoError(t, store.SaveKeyPair("USER", "kid-2", []byte("b"), []byte("b")))

	kids, err := store.ListPrivateKids("USER")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"kid-1", "kid-2"}, kids)

	kids, err = store.ListPublicKids("USER")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"kid-1", "kid-2"}, kids)
}

func TestFileKeyStore_ListKids_MissingDomain(t *testing.T) {
	store := NewFileKeyStore(t.TempDir())
	kids, err := store.ListPrivateKids("NOBODY")
	require.NoError(t, err)
	require.Empty(t, kids)
}

func TestFileKeyStore_DeleteIsIdempotent(t *testing.T) {
	store := NewFileKeyStore(t.TempDir())
	require.NoError(t, store.SaveKeyPair("USER", "kid-1", []byte("a"), []byte("a")))

	require.NoError(t, store.DeletePrivateKey("USER", "kid-1"))
	require.NoError(t, store.DeletePrivateKey("USER", "kid-1")) // second call: still success

	_, err := store.LoadPrivateKey("USER", "kid-1")
	require.True(t, errors.Is(err, ErrNotFound))
}

func TestFileKeyStore_CleanTmpResidue(t *testing.T) {
	base := t.TempDir()
	store := NewFileKeyStore(base)
	require.NoError(t, os.MkdirAll(store.privateDir("USER"), 0o700))
	require.NoError(t, os.MkdirAll(store.publicDir("USER"), 0o755))

	orphan := filepath.Join(store.privateDir("USER"), "kid-3.pem.tmp")
	require.NoError(t, os.WriteFile(orphan, []byte("partial"), 0o600))

	require.NoError(t, store.CleanTmpResidue("USER"))

	_, err := os.Stat(orphan)
	require.True(t, os.IsNotExist(err))
}

func TestFileKeyStore_SaveKeyPair_PartialFailureCleansUp(t *testing.T) {
	base := t.TempDir()
	store := NewFileKeyStore(base)
	kid := "USER-20260101-000000-deadbeef"

	// Make the public dir unwritable after the private temp succeeds by
	// pre-creating the public final path as a directory, which forces the
	// rename step to fail.
	require.NoError(t, os.MkdirAll(store.publicDir("USER"), 0o755))
	require.NoError(t, os.MkdirAll(store.publicPath("USER", kid), 0o755))

	err := store.SaveKeyPair("USER", kid, []byte("pub"), []byte("priv"))
	require.Error(t, err)

	// Private temp/final must not linger after rollback.
	_, err = os.Stat(store.privatePath("USER", kid))
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(store.privatePath("USER", kid) + tmpSuffix)
	require.True(t, os.IsNotExist(err))
}
