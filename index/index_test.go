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

package index

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *Index {
	t.Helper()
	ix, err := Open(filepath.Join(t.TempDir(), "index.levi"))
	require.NoError(t, err)
	t.Cleanup(func() { ix.Close() })
	return ix
}

func TestAddGetRoundTrip(t *testing.T) {
	ix := openTemp(t)
	require.NoError(t, ix.Add([]byte("hello"), 42, false, false))

	offset, special, del, found, err := ix.Get([]byte("hello"))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, uint32(42), offset)
	assert.False(t, special)
	assert.False(t, del)

	_, _, _, found, err = ix.Get([]byte("missing"))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestAddOverwrite(t *testing.T) {
	ix := openTemp(t)
	require.NoError(t, ix.Add([]byte("k"), 1, false, false))
	require.NoError(t, ix.Add([]byte("k"), 2, false, true))

	offset, _, del, found, err := ix.Get([]byte("k"))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, uint32(2), offset)
	assert.True(t, del)
}

func TestDel(t *testing.T) {
	ix := openTemp(t)
	require.NoError(t, ix.Add([]byte("k"), 1, false, false))
	found, err := ix.Del([]byte("k"))
	require.NoError(t, err)
	assert.True(t, found)

	_, _, _, found, err = ix.Get([]byte("k"))
	require.NoError(t, err)
	assert.False(t, found)

	found, err = ix.Del([]byte("k"))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestManyKeysForceSplits(t *testing.T) {
	ix := openTemp(t)
	const n = 2000
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%06d", i))
		require.NoError(t, ix.Add(key, uint32(i), false, false))
	}
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%06d", i))
		offset, _, _, found, err := ix.Get(key)
		require.NoError(t, err)
		require.True(t, found, "key %s", key)
		assert.Equal(t, uint32(i), offset)
	}

	entries, err := ix.Scan()
	require.NoError(t, err)
	require.Len(t, entries, n)
	for i := 1; i < len(entries); i++ {
		assert.True(t, string(entries[i-1].Key) < string(entries[i].Key), "scan out of order at %d", i)
	}
}

func TestScanReflectsExactEntrySet(t *testing.T) {
	ix := openTemp(t)
	want := []Entry{
		{Key: []byte("a"), Offset: 1},
		{Key: []byte("b"), Offset: 2, Special: true},
		{Key: []byte("c"), Offset: 3, Del: true},
	}
	for _, e := range want {
		require.NoError(t, ix.Add(e.Key, e.Offset, e.Special, e.Del))
	}

	got, err := ix.Scan()
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Scan() mismatch (-want +got):\n%s", diff)
	}
}

func TestReopenPersists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.levi")

	ix, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, ix.Add([]byte("durable"), 7, false, false))
	require.NoError(t, ix.Sync())
	require.NoError(t, ix.Close())

	ix2, err := Open(path)
	require.NoError(t, err)
	defer ix2.Close()

	offset, _, _, found, err := ix2.Get([]byte("durable"))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, uint32(7), offset)
}
