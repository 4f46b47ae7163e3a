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

package overlay

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JimChengLin/levidb/index"
	"github.com/JimChengLin/levidb/seqgen"
)

func newOverlay(t *testing.T) *Overlay {
	t.Helper()
	idx, err := index.Open(filepath.Join(t.TempDir(), "index.levi"))
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return New(idx, seqgen.New())
}

func TestOverlayServesPendingBeforeIndex(t *testing.T) {
	o := newOverlay(t)
	o.Push(1, []Edit{{Key: []byte("k"), Offset: 99}})

	offset, _, _, found, err := o.Get([]byte("k"), nil)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, uint32(99), offset)
}

func TestOverlaySnapshotIsolation(t *testing.T) {
	o := newOverlay(t)
	snap := o.Snapshot()
	o.Push(snap.SeqNum()+1, []Edit{{Key: []byte("k"), Offset: 1}})

	_, _, _, found, err := o.Get([]byte("k"), snap)
	require.NoError(t, err)
	assert.False(t, found, "snapshot taken before the write must not see it")

	_, _, _, found, err = o.Get([]byte("k"), nil)
	require.NoError(t, err)
	assert.True(t, found)
}

func TestOverlayDrainFoldsIntoIndex(t *testing.T) {
	o := newOverlay(t)
	o.Push(1, []Edit{{Key: []byte("a"), Offset: 1}})
	o.Push(2, []Edit{{Key: []byte("b"), Offset: 2}})
	require.NoError(t, o.Drain())
	assert.Equal(t, 0, o.Pending())

	offset, _, _, found, err := o.index.Get([]byte("a"))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, uint32(1), offset)
}
