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

package aggregator

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregatorPutGet(t *testing.T) {
	a, err := Open(t.TempDir(), nil)
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, a.Put([]byte("k"), []byte("v")))
	v, found, err := a.Get([]byte("k"))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("v"), v)
}

func TestAggregatorStartsWithOneShard(t *testing.T) {
	a, err := Open(t.TempDir(), nil)
	require.NoError(t, err)
	defer a.Close()
	assert.Equal(t, 1, a.ShardCount())
}

func TestAggregatorSplitPreservesAllKeys(t *testing.T) {
	a, err := Open(t.TempDir(), nil)
	require.NoError(t, err)
	defer a.Close()

	const n = 200
	for i := 0; i < n; i++ {
		k := []byte(fmt.Sprintf("key-%05d", i))
		require.NoError(t, a.Put(k, k))
	}
	require.NoError(t, a.Split(0))
	assert.Equal(t, 2, a.ShardCount())

	for i := 0; i < n; i++ {
		k := []byte(fmt.Sprintf("key-%05d", i))
		v, found, err := a.Get(k)
		require.NoError(t, err)
		require.True(t, found, "missing key %s after split", k)
		assert.Equal(t, k, v)
	}
}

func TestAggregatorSplitRoutesByRange(t *testing.T) {
	a, err := Open(t.TempDir(), nil)
	require.NoError(t, err)
	defer a.Close()

	const n = 100
	for i := 0; i < n; i++ {
		k := []byte(fmt.Sprintf("key-%05d", i))
		require.NoError(t, a.Put(k, k))
	}
	require.NoError(t, a.Split(0))

	a.mu.RLock()
	lower := a.ranges[1].lower
	a.mu.RUnlock()
	require.NotNil(t, lower)

	i := a.find(lower)
	assert.Equal(t, 1, i)
	i = a.find([]byte("key-00000"))
	assert.Equal(t, 0, i)
}

func TestAggregatorMergeReunitesKeys(t *testing.T) {
	a, err := Open(t.TempDir(), nil)
	require.NoError(t, err)
	defer a.Close()

	const n = 200
	for i := 0; i < n; i++ {
		k := []byte(fmt.Sprintf("key-%05d", i))
		require.NoError(t, a.Put(k, k))
	}
	require.NoError(t, a.Split(0))
	require.Equal(t, 2, a.ShardCount())

	require.NoError(t, a.Merge(0))
	assert.Equal(t, 1, a.ShardCount())

	for i := 0; i < n; i++ {
		k := []byte(fmt.Sprintf("key-%05d", i))
		v, found, err := a.Get(k)
		require.NoError(t, err)
		require.True(t, found, "missing key %s after merge", k)
		assert.Equal(t, k, v)
	}
}

func TestAggregatorReopenRecoversAfterSplit(t *testing.T) {
	dir := t.TempDir()
	a, err := Open(dir, nil)
	require.NoError(t, err)

	const n = 50
	for i := 0; i < n; i++ {
		k := []byte(fmt.Sprintf("key-%05d", i))
		require.NoError(t, a.Put(k, k))
	}
	require.NoError(t, a.Split(0))
	require.NoError(t, a.Close())

	a2, err := Open(dir, nil)
	require.NoError(t, err)
	defer a2.Close()

	assert.Equal(t, 2, a2.ShardCount())
	for i := 0; i < n; i++ {
		k := []byte(fmt.Sprintf("key-%05d", i))
		v, found, err := a2.Get(k)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, k, v)
	}
}

func TestAggregatorRecoveryCleansScratchDirs(t *testing.T) {
	dir := t.TempDir()
	a, err := Open(dir, nil)
	require.NoError(t, err)
	require.NoError(t, a.Put([]byte("k"), []byte("v")))
	require.NoError(t, a.Close())

	// Simulate a crash mid-split: leave a scratch directory behind.
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "00000099_a"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "00000001+00000002"), 0o755))

	a2, err := Open(dir, nil)
	require.NoError(t, err)
	defer a2.Close()

	_, err = os.Stat(filepath.Join(dir, "00000099_a"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "00000001+00000002"))
	assert.True(t, os.IsNotExist(err))

	v, found, err := a2.Get([]byte("k"))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("v"), v)
}
