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

package record

import (
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempLog(t *testing.T) *os.File {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "levidb-log-*")
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

func TestWriterReaderRoundTrip(t *testing.T) {
	f := tempLog(t)
	w := NewWriter(f, 0, nil)
	r := NewReader(f, nil)

	off, err := w.AddRecord([]byte("hello"), []byte("world"))
	require.NoError(t, err)

	rec, _, err := r.ReadAt(off)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), rec.Key)
	assert.Equal(t, []byte("world"), rec.Value)
	assert.False(t, rec.Del)
}

func TestWriterDeletionMarker(t *testing.T) {
	f := tempLog(t)
	w := NewWriter(f, 0, nil)
	r := NewReader(f, nil)

	off, err := w.AddRecordForDel([]byte("gone"))
	require.NoError(t, err)

	rec, _, err := r.ReadAt(off)
	require.NoError(t, err)
	assert.True(t, rec.Del)
	assert.Equal(t, []byte("gone"), rec.Key)
	assert.Empty(t, rec.Value)
}

func TestWriterSpansBlockBoundary(t *testing.T) {
	f := tempLog(t)
	w := NewWriter(f, 0, nil)
	r := NewReader(f, nil)

	big := make([]byte, BlockSize+1000)
	for i := range big {
		big[i] = byte(i)
	}
	off, err := w.AddRecord([]byte("k"), big)
	require.NoError(t, err)

	rec, _, err := r.ReadAt(off)
	require.NoError(t, err)
	assert.Equal(t, big, rec.Value)
}

func TestAddRecordsMayDelIsOneBatch(t *testing.T) {
	f := tempLog(t)
	w := NewWriter(f, 0, nil)
	r := NewReader(f, nil)

	keys := [][]byte{[]byte("a"), []byte("b"), []byte("c")}
	vals := [][]byte{[]byte("1"), []byte("2"), []byte("3")}
	dels := []bool{false, false, true}

	offs, err := w.AddRecordsMayDel(keys, vals, dels)
	require.NoError(t, err)
	require.Len(t, offs, 3)

	for i, off := range offs {
		rec, _, err := r.ReadAt(off)
		require.NoError(t, err)
		assert.Equal(t, keys[i], rec.Key)
		assert.Equal(t, dels[i], rec.Del)
	}
}

func TestCompressedGroupRoundTrip(t *testing.T) {
	f := tempLog(t)
	w := NewWriter(f, 0, nil)
	r := NewReader(f, nil)

	keys := [][]byte{[]byte("a"), []byte("b"), []byte("c")}
	vals := [][]byte{[]byte("11"), []byte("22"), []byte("33")}

	off, err := w.AddCompressedRecords(keys, vals)
	require.NoError(t, err)

	g, _, err := r.ReadGroupAt(off)
	require.NoError(t, err)
	assert.Equal(t, keys, g.Keys)
	assert.Equal(t, vals, g.Values)
	assert.Equal(t, 1, g.Find([]byte("b")))
	assert.Equal(t, -1, g.Find([]byte("z")))
}

func TestTableIteratorExpandsGroups(t *testing.T) {
	f := tempLog(t)
	w := NewWriter(f, 0, nil)

	_, err := w.AddRecord([]byte("a"), []byte("1"))
	require.NoError(t, err)
	_, err = w.AddCompressedRecords([][]byte{[]byte("b"), []byte("c")}, [][]byte{[]byte("2"), []byte("3")})
	require.NoError(t, err)

	it := NewTableIterator(f, w.Size())
	var keys []string
	for {
		e, err := it.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		keys = append(keys, string(e.Key))
	}
	assert.Equal(t, []string{"a", "b", "c"}, keys)
}

func TestRecoveryIteratorSkipsCorruption(t *testing.T) {
	f := tempLog(t)
	w := NewWriter(f, 0, nil)

	_, err := w.AddRecord([]byte("a"), []byte("1"))
	require.NoError(t, err)
	corruptOffset := w.Size()
	_, err = w.AddRecord([]byte("b"), []byte("2"))
	require.NoError(t, err)

	// Flip a byte in the second record's checksum to simulate torn-write
	// corruption.
	_, err = f.WriteAt([]byte{0xFF}, corruptOffset)
	require.NoError(t, err)

	var corruptions []Corruption
	it := NewRecoveryIterator(f, w.Size(), func(c Corruption) { corruptions = append(corruptions, c) }, nil)
	var keys []string
	for {
		e, err := it.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		keys = append(keys, string(e.Key))
	}
	assert.Equal(t, []string{"a"}, keys)
	assert.NotEmpty(t, corruptions)
}

func TestCacheRoundTrip(t *testing.T) {
	c := NewCache(4, 4)
	rec := Record{Key: []byte("k"), Value: []byte("v")}
	c.PutRecord(10, rec)

	got, ok := c.GetRecord(10)
	require.True(t, ok)
	assert.Equal(t, rec, got)

	c.Invalidate(10)
	_, ok = c.GetRecord(10)
	assert.False(t, ok)
}
