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
	"bytes"
	"encoding/binary"

	"github.com/JimChengLin/levidb/arena"
	"github.com/JimChengLin/levidb/levierr"
)

const (
	kindInternal byte = 0
	kindLeaf     byte = 1
)

const (
	internalDiscOff  = 1
	internalLeftOff  = 9
	internalRightOff = 13
	internalSize     = 17
)

const (
	leafCountOff = 1
	leafDataOff  = 3
)

const (
	entryFlagSpecial = 1 << 0
	entryFlagDel     = 1 << 1
)

// minEntryOverhead is the per-entry leaf cost with a zero-length key
// (2-byte length prefix + 4-byte offset + 1-byte flags). Go has no
// static_assert, so the Rank/PageSize compatibility the original enforced at
// compile time is checked once here at package load instead.
const minEntryOverhead = 2 + 4 + 1

func init() {
	if leafDataOff+Rank*minEntryOverhead > PageSize {
		panic("index: Rank is incompatible with PageSize")
	}
}

// entry is one decoded leaf-bucket slot.
type entry struct {
	Key     []byte
	Offset  uint32
	Special bool
	Del     bool
}

func putInternal(page []byte, disc uint64, left, right uint32) {
	page[0] = kindInternal
	binary.LittleEndian.PutUint64(page[internalDiscOff:], disc)
	binary.LittleEndian.PutUint32(page[internalLeftOff:], left)
	binary.LittleEndian.PutUint32(page[internalRightOff:], right)
}

func getInternal(page []byte) (disc uint64, left, right uint32) {
	disc = binary.LittleEndian.Uint64(page[internalDiscOff:])
	left = binary.LittleEndian.Uint32(page[internalLeftOff:])
	right = binary.LittleEndian.Uint32(page[internalRightOff:])
	return
}

func isLeaf(page []byte) bool { return page[0] == kindLeaf }

// decodeLeaf parses every entry out of a leaf page, in stored (sorted)
// order, copying each key with a plain per-key allocation.
func decodeLeaf(page []byte) []entry {
	return decodeLeafWithArena(page, nil)
}

// decodeLeafWithArena is decodeLeaf but reconstructs key bytes out of ar
// when ar is non-nil, instead of one make([]byte, ...) per key. Scan uses
// this with one Arena shared across an entire walk, since it is the one
// caller that copies many small keys in a single short-lived batch; Get/Add/
// Del keep the plain per-key path since each only copies at most one or two
// keys per call.
func decodeLeafWithArena(page []byte, ar *arena.Arena) []entry {
	count := binary.LittleEndian.Uint16(page[leafCountOff:])
	entries := make([]entry, 0, count)
	off := leafDataOff
	for i := uint16(0); i < count; i++ {
		klen := binary.LittleEndian.Uint16(page[off:])
		off += 2
		var key []byte
		if ar != nil {
			if klen == 0 {
				key = []byte{}
			} else {
				key = ar.Append(page[off : off+int(klen)])
			}
		} else {
			key = append([]byte(nil), page[off:off+int(klen)]...)
		}
		off += int(klen)
		value := binary.LittleEndian.Uint32(page[off:])
		off += 4
		flags := page[off]
		off++
		entries = append(entries, entry{
			Key:     key,
			Offset:  value,
			Special: flags&entryFlagSpecial != 0,
			Del:     flags&entryFlagDel != 0,
		})
	}
	return entries
}

// putLeaf serializes entries (already sorted ascending by Key) into page,
// zeroing the rest. It panics if the caller failed to check leafFits first.
func putLeaf(page []byte, entries []entry) {
	for i := range page {
		page[i] = 0
	}
	page[0] = kindLeaf
	binary.LittleEndian.PutUint16(page[leafCountOff:], uint16(len(entries)))
	off := leafDataOff
	for _, e := range entries {
		binary.LittleEndian.PutUint16(page[off:], uint16(len(e.Key)))
		off += 2
		copy(page[off:], e.Key)
		off += len(e.Key)
		binary.LittleEndian.PutUint32(page[off:], e.Offset)
		off += 4
		var flags byte
		if e.Special {
			flags |= entryFlagSpecial
		}
		if e.Del {
			flags |= entryFlagDel
		}
		page[off] = flags
		off++
	}
	if off > PageSize {
		panic("index: leaf page overflow")
	}
}

// leafByteSize reports how many bytes entries would occupy if serialized via
// putLeaf.
func leafByteSize(entries []entry) int {
	n := leafDataOff
	for _, e := range entries {
		n += 2 + len(e.Key) + 4 + 1
	}
	return n
}

// leafFits reports whether entries can still be serialized into one page,
// both under the byte budget and the Rank fan-out cap.
func leafFits(entries []entry) bool {
	return len(entries) <= Rank && leafByteSize(entries) <= PageSize
}

// findInLeaf returns the index of key in entries (sorted ascending), and
// whether it was found; if not found, the index is where it would be
// inserted to keep the slice sorted.
func findInLeaf(entries []entry, key []byte) (int, bool) {
	lo, hi := 0, len(entries)
	for lo < hi {
		mid := (lo + hi) / 2
		c := bytes.Compare(entries[mid].Key, key)
		switch {
		case c == 0:
			return mid, true
		case c < 0:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return lo, false
}

func requireLeaf(page []byte, op string) error {
	if !isLeaf(page) {
		return levierr.Corruptionf(op, "expected leaf page, found internal")
	}
	return nil
}
