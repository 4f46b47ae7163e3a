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

// Copyright 2011 The LevelDB-Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package crc32c implements the CRC32C (Castagnoli) checksum used for every
// on-disk integrity check in LeviDB: log chunk headers, index free-list
// pages, and keeper sidecars.
//
// Unlike the historical leveldb-go crc package (which additionally masks the
// raw checksum with a rotate-and-add, to reduce the odds that arbitrary
// payload bytes coincidentally look like a checksum), LeviDB's on-disk format
// calls for the unmasked value produced by the SSE4.2 CRC32 instruction, so
// that a software fallback computes byte-identical checksums to the hardware
// path. To calculate the checksum of some data:
//
//	var sum uint32 = crc32c.New(data).Value()
package crc32c

import "hash/crc32"

var table = crc32.MakeTable(crc32.Castagnoli)

// CRC is an in-progress Castagnoli CRC32 checksum.
type CRC uint32

// New returns the checksum of b.
func New(b []byte) CRC {
	return CRC(0).Update(b)
}

// Update extends c with b.
func (c CRC) Update(b []byte) CRC {
	return CRC(crc32.Update(uint32(c), table, b))
}

// Value returns the checksum as it is stored on disk.
func (c CRC) Value() uint32 {
	return uint32(c)
}

// Extend is a convenience for the common "checksum of A, then extended with
// B" pattern used by the keeper sidecars (value struct followed by a
// trailing blob).
func Extend(seed uint32, b []byte) uint32 {
	return CRC(seed).Update(b).Value()
}
