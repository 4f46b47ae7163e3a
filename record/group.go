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
	"encoding/binary"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/JimChengLin/levidb/levierr"
	"github.com/JimChengLin/levidb/varint"
)

// Group is a decoded compressed-group payload: a sorted run of keys and their
// values, written as a single log record and compressed together (spec.md
// §4.1's "Compressed-group payload"). A Group is what the index's "special"
// slots point at: one log offset fans out into every key in the group.
type Group struct {
	Keys   [][]byte
	Values [][]byte

	nextOffset uint32 // the log offset immediately following this group's chunks
}

// Len reports how many (key, value) pairs the group holds.
func (g *Group) Len() int { return len(g.Keys) }

// Find returns the index of key within the group via binary search, or -1.
func (g *Group) Find(key []byte) int {
	lo, hi := 0, len(g.Keys)
	for lo < hi {
		mid := (lo + hi) / 2
		c := compare(g.Keys[mid], key)
		if c == 0 {
			return mid
		}
		if c < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return -1
}

func compare(a, b []byte) int {
	switch {
	case len(a) < len(b):
		n := len(a)
		for i := 0; i < n; i++ {
			if a[i] != b[i] {
				if a[i] < b[i] {
					return -1
				}
				return 1
			}
		}
		return -1
	default:
		n := len(b)
		for i := 0; i < n; i++ {
			if a[i] != b[i] {
				if a[i] < b[i] {
					return -1
				}
				return 1
			}
		}
		if len(a) == len(b) {
			return 0
		}
		return 1
	}
}

var (
	encoderPool = sync.Pool{New: func() interface{} {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			panic(err)
		}
		return enc
	}}
	decoderPool = sync.Pool{New: func() interface{} {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			panic(err)
		}
		return dec
	}}
)

// encodeGroup lays out keys/values as:
//
//	meta_len : u16
//	meta     : meta_len bytes = [varint32 of k_len, ...] [varint32 of v_len, ...]
//	body     : zstd(concat(keys) || concat(values))
//
// keys must already be sorted ascending; this is the on-disk shape a shard
// compresses a batch into when shard.Write is called with tryCompress and the
// batch passes EncodeGroupIfSmaller (spec.md §4.1). Split and merge do not
// write groups: they copy entries forward one Put at a time.
// There is no separate element count field: meta_len bounds exactly where
// meta ends, so decodeGroup recovers the count by decoding varints until
// that many bytes are consumed and splitting the resulting list in half
// (key lengths first, then value lengths, per the fixed write order above).
func encodeGroup(keys, values [][]byte) ([]byte, error) {
	if len(keys) != len(values) {
		return nil, levierr.InvalidArgumentf("record.encodeGroup", "keys/values length mismatch")
	}
	var meta, body []byte
	for _, k := range keys {
		meta = varint.AppendUint32(meta, uint32(len(k)))
	}
	for _, v := range values {
		meta = varint.AppendUint32(meta, uint32(len(v)))
	}
	for _, k := range keys {
		body = append(body, k...)
	}
	for _, v := range values {
		body = append(body, v...)
	}
	if len(meta) > 0xFFFF {
		return nil, levierr.InvalidArgumentf("record.encodeGroup", "meta too large (%d bytes)", len(meta))
	}

	enc := encoderPool.Get().(*zstd.Encoder)
	defer encoderPool.Put(enc)
	compressed := enc.EncodeAll(body, nil)

	out := make([]byte, 2, 2+len(meta)+len(compressed))
	binary.LittleEndian.PutUint16(out, uint16(len(meta)))
	out = append(out, meta...)
	out = append(out, compressed...)
	return out, nil
}

// EncodeGroupIfSmaller encodes keys/values as a compressed group and reports
// whether it is worth keeping: spec.md §4.4's batched-write rule only commits
// the compressed form when it saves at least 1/8 (12.5%) against the raw
// concatenated key+value bytes, falling back to plain per-record writes
// otherwise. keys must already be sorted ascending.
func EncodeGroupIfSmaller(keys, values [][]byte) (payload []byte, ok bool, err error) {
	payload, err = encodeGroup(keys, values)
	if err != nil {
		return nil, false, err
	}
	var raw int
	for _, k := range keys {
		raw += len(k)
	}
	for _, v := range values {
		raw += len(v)
	}
	return payload, len(payload)*8 <= raw*7, nil
}

func decodeGroup(payload []byte) (*Group, error) {
	if len(payload) < 2 {
		return nil, levierr.Corruptionf("record.decodeGroup", "payload too short for meta_len")
	}
	metaLen := int(binary.LittleEndian.Uint16(payload))
	if metaLen > len(payload)-2 {
		return nil, levierr.Corruptionf("record.decodeGroup", "invalid meta length")
	}
	meta := payload[2 : 2+metaLen]
	compressed := payload[2+metaLen:]

	var lens []uint32
	for len(meta) > 0 {
		v, vn := varint.Uint32(meta)
		if vn <= 0 {
			return nil, levierr.Corruptionf("record.decodeGroup", "truncated length list")
		}
		lens = append(lens, v)
		meta = meta[vn:]
	}
	if len(lens)%2 != 0 {
		return nil, levierr.Corruptionf("record.decodeGroup", "odd-length key/value length list")
	}
	count := len(lens) / 2
	keyLens := lens[:count]
	valLens := lens[count:]

	dec := decoderPool.Get().(*zstd.Decoder)
	defer decoderPool.Put(dec)
	body, err := dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, levierr.Corruptionf("record.decodeGroup", "zstd decode failed: %v", err)
	}

	g := &Group{Keys: make([][]byte, count), Values: make([][]byte, count)}
	off := 0
	for i, l := range keyLens {
		if off+int(l) > len(body) {
			return nil, levierr.Corruptionf("record.decodeGroup", "key %d overruns body", i)
		}
		g.Keys[i] = body[off : off+int(l)]
		off += int(l)
	}
	for i, l := range valLens {
		if off+int(l) > len(body) {
			return nil, levierr.Corruptionf("record.decodeGroup", "value %d overruns body", i)
		}
		g.Values[i] = body[off : off+int(l)]
		off += int(l)
	}
	return g, nil
}
