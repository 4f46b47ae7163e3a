/*
Copyright 2013 The Camlistore Authors

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

package keeper

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWeakKeeperRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sidecar")
	k := NewWeak(path)
	require.NoError(t, k.Save([]byte("hello")))

	got, err := k.Load()
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)
}

func TestWeakKeeperMissingFile(t *testing.T) {
	k := NewWeak(filepath.Join(t.TempDir(), "missing"))
	_, err := k.Load()
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWeakKeeperCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sidecar")
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o644))
	k := NewWeak(path)
	_, err := k.Load()
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStrongKeeperRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sidecar")
	k, err := NewStrong(path)
	require.NoError(t, err)

	require.NoError(t, k.Save([]byte("v1")))
	got, err := k.Load()
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), got)

	require.NoError(t, k.Save([]byte("v2")))
	got, err = k.Load()
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)
}

func TestStrongKeeperSurvivesCorruptOneSide(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sidecar")
	k, err := NewStrong(path)
	require.NoError(t, err)
	require.NoError(t, k.Save([]byte("v1")))
	require.NoError(t, k.Save([]byte("v2")))

	// Corrupt whichever file holds the OLDER generation; the newer one must
	// still be recoverable.
	require.NoError(t, os.WriteFile(path+".a", []byte("garbage-but-long-enough"), 0o644))

	k2, err := NewStrong(path)
	require.NoError(t, err)
	got, err := k2.Load()
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)
}
