/*
Copyright 2013 Google Inc.

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

package shard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShardPutGet(t *testing.T) {
	s, err := Open(t.TempDir(), nil, 0, 0)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Put([]byte("k"), []byte("v")))

	v, found, err := s.Get([]byte("k"), nil)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("v"), v)
}

func TestShardDelete(t *testing.T) {
	s, err := Open(t.TempDir(), nil, 0, 0)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Put([]byte("k"), []byte("v")))
	require.NoError(t, s.Delete([]byte("k")))

	_, found, err := s.Get([]byte("k"), nil)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestShardSnapshotIsolation(t *testing.T) {
	s, err := Open(t.TempDir(), nil, 0, 0)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Put([]byte("k"), []byte("v1")))
	snap := s.Snapshot()
	require.NoError(t, s.Put([]byte("k"), []byte("v2")))

	v, found, err := s.Get([]byte("k"), snap)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("v1"), v)
	snap.Release()
}

func TestShardReopenRecovers(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir, nil, 0, 0)
	require.NoError(t, err)
	require.NoError(t, s.Put([]byte("k"), []byte("v")))
	require.NoError(t, s.Close())

	s2, err := Open(dir, nil, 0, 0)
	require.NoError(t, err)
	defer s2.Close()

	v, found, err := s2.Get([]byte("k"), nil)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("v"), v)
}

func TestShardScanExcludesDeleted(t *testing.T) {
	s, err := Open(t.TempDir(), nil, 0, 0)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Put([]byte("a"), []byte("1")))
	require.NoError(t, s.Put([]byte("b"), []byte("2")))
	require.NoError(t, s.Delete([]byte("a")))

	entries, err := s.Scan()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, []byte("b"), entries[0].Key)
}
