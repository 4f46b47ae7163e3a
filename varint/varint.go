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

// Package varint provides the varint32 helpers used by the log record and
// compressed-group formats (spec.md §4.1). It is a thin, 32-bit-scoped
// wrapper over encoding/binary's LEB128 implementation: no example repo in
// this corpus ships a standalone varint package (the closest analogues —
// multiformats/go-varint, used transitively by perkeep's IPFS stack — are
// varint-over-io.Reader helpers for a different wire format), so this stays
// on the standard library rather than inventing a dependency with no
// grounding.
package varint

import "encoding/binary"

// MaxLen32 is the maximum number of bytes a PutUint32 call can produce.
const MaxLen32 = 5

// PutUint32 encodes v into buf (which must have length >= MaxLen32) and
// returns the number of bytes written.
func PutUint32(buf []byte, v uint32) int {
	return binary.PutUvarint(buf, uint64(v))
}

// AppendUint32 appends the varint32 encoding of v to buf.
func AppendUint32(buf []byte, v uint32) []byte {
	return binary.AppendUvarint(buf, uint64(v))
}

// Uint32 decodes a varint32 from buf, returning the value and the number of
// bytes consumed. n is 0 on error (buf too short) and -1 if the encoded value
// overflows 32 bits.
func Uint32(buf []byte) (v uint32, n int) {
	u, m := binary.Uvarint(buf)
	if m <= 0 {
		return 0, m
	}
	if u > 1<<32-1 {
		return 0, -1
	}
	return uint32(u), m
}

// Len32 reports how many bytes PutUint32 would need for v.
func Len32(v uint32) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}
