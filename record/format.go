// Copyright 2011 The LevelDB-Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.
// Adapted for LeviDB's richer chunk-type encoding (spec.md §4.1).

// Package record implements LeviDB's append-only log: block-framed,
// CRC-verified records addressable by 32-bit file offset, with optional
// grouped zstd compression and dependency-checked corruption recovery.
//
// The wire format is the classic LevelDB one (32 KiB blocks, 7 byte chunk
// headers, FULL/FIRST/MIDDLE/LAST chunk splitting — see the original
// pebble/leveldb-go record package this one is grounded on) with the type
// byte widened to also carry the batch-concat type, the compressed bit and
// the deletion bit, per spec.md §4.1:
//
//	bits 0-1: batch-concat type   {FULL, FIRST, MIDDLE, LAST}
//	bits 2-3: record-concat type  {FULL, FIRST, MIDDLE, LAST}
//	bit  4:   compressed
//	bit  5:   deletion marker
//	bits 6-7: reserved
package record

import (
	"encoding/binary"

	"github.com/JimChengLin/levidb/crc32c"
)

// ConcatType is the shared FULL/FIRST/MIDDLE/LAST enumeration used by both
// the batch-concat and record-concat fields of a chunk's type byte.
type ConcatType uint8

const (
	Full ConcatType = iota
	First
	Middle
	Last
)

func (c ConcatType) String() string {
	switch c {
	case Full:
		return "FULL"
	case First:
		return "FIRST"
	case Middle:
		return "MIDDLE"
	case Last:
		return "LAST"
	default:
		return "?"
	}
}

const (
	// BlockSize is the fixed log block size (spec.md §3: "Log block").
	BlockSize = 32 * 1024
	// HeaderSize is the 7 byte chunk header: 4 byte CRC, 2 byte length, 1
	// byte type.
	HeaderSize = 7

	// MaxFileSize is the hard 4 GiB cap on a shard's data file (spec.md §1,
	// §6); offsets are 32-bit.
	MaxFileSize = 1<<32 - 1

	// NoOffset is the reserved sentinel meaning "no such record" (spec.md
	// §3).
	NoOffset uint32 = 0xFFFFFFFF
)

const (
	batchShift  = 0
	recordShift = 2
	compressedBit = 1 << 4
	delBit        = 1 << 5

	concatMask = 0x3
)

// chunkType packs the four fields of spec.md §4.1 into one byte.
type chunkType uint8

func makeChunkType(batch, rec ConcatType, compressed, del bool) chunkType {
	t := chunkType(batch&concatMask) << batchShift
	t |= chunkType(rec&concatMask) << recordShift
	if compressed {
		t |= compressedBit
	}
	if del {
		t |= delBit
	}
	return t
}

func (t chunkType) batch() ConcatType  { return ConcatType((t >> batchShift) & concatMask) }
func (t chunkType) record() ConcatType { return ConcatType((t >> recordShift) & concatMask) }
func (t chunkType) compressed() bool   { return t&compressedBit != 0 }
func (t chunkType) del() bool          { return t&delBit != 0 }

// header is a decoded 7 byte chunk header.
type header struct {
	checksum uint32
	length   uint16
	typ      chunkType
}

func decodeHeader(b []byte) header {
	return header{
		checksum: binary.LittleEndian.Uint32(b[0:4]),
		length:   binary.LittleEndian.Uint16(b[4:6]),
		typ:      chunkType(b[6]),
	}
}

func encodeHeader(b []byte, typ chunkType, payload []byte) {
	binary.LittleEndian.PutUint16(b[4:6], uint16(len(payload)))
	b[6] = byte(typ)
	sum := crc32c.New(b[6:7]).Update(payload).Value()
	binary.LittleEndian.PutUint32(b[0:4], sum)
}

// recordConcatOK reports whether it is legal for a chunk with record-concat
// type `next` to follow one with record-concat type `prev` within the same
// logical record (spec.md §4.1 dependency-consistency rule).
func recordConcatOK(prev, next ConcatType) bool {
	switch prev {
	case Full, Last:
		return next == Full || next == First
	case First, Middle:
		return next == Middle || next == Last
	default:
		return false
	}
}
