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
	"os"

	"github.com/JimChengLin/levidb/crc32c"
	"github.com/JimChengLin/levidb/levierr"
	"github.com/JimChengLin/levidb/varint"
)

// Reader reads records back out of a shard's data file by offset. Unlike
// Writer it holds no mutex of its own and keeps no cursor across calls:
// spec.md §5 requires that readers open an independent file descriptor from
// the writer and never block behind it, so every Read call is a positional
// ReadAt against the fd it was constructed with.
type Reader struct {
	f     *os.File
	cache *Cache
}

// NewReader wraps f (opened read-only, or read-write but used read-only here)
// for positional record reads. cache may be nil to disable caching.
func NewReader(f *os.File, cache *Cache) *Reader {
	return &Reader{f: f, cache: cache}
}

// Record is one reassembled (key, value) pair read back from the log, plus
// whether it was a deletion marker.
type Record struct {
	Key     []byte
	Value   []byte
	Del     bool
	wireLen uint32 // bytes from the record's offset to the next record's offset
}

// ReadAt reassembles the full logical record (across FULL/FIRST/MIDDLE/LAST
// record-concat chunks if necessary) whose first chunk starts at offset.
func (r *Reader) ReadAt(offset uint32) (Record, uint32, error) {
	if r.cache != nil {
		if rec, ok := r.cache.GetRecord(offset); ok {
			return rec, uint32(int64(offset) + int64(rec.wireLen)), nil
		}
	}
	payload, compressed, del, next, err := r.readLogicalPayload(int64(offset))
	if err != nil {
		return Record{}, 0, err
	}
	if compressed {
		return Record{}, 0, levierr.InvalidArgumentf("record.ReadAt", "offset %d is a compressed group, use ReadGroup", offset)
	}
	key, value, err := decodeKV(payload, del)
	if err != nil {
		return Record{}, 0, err
	}
	rec := Record{Key: key, Value: value, Del: del, wireLen: uint32(next - int64(offset))}
	if r.cache != nil {
		r.cache.PutRecord(offset, rec)
	}
	return rec, uint32(next), nil
}

// ReadGroupAt reassembles the compressed-group payload whose first chunk
// starts at offset and decodes it.
func (r *Reader) ReadGroupAt(offset uint32) (*Group, uint32, error) {
	if r.cache != nil {
		if g, ok := r.cache.GetGroup(offset); ok {
			return g, g.nextOffset, nil
		}
	}
	payload, compressed, _, next, err := r.readLogicalPayload(int64(offset))
	if err != nil {
		return nil, 0, err
	}
	if !compressed {
		return nil, 0, levierr.InvalidArgumentf("record.ReadGroupAt", "offset %d is not a compressed group", offset)
	}
	g, err := decodeGroup(payload)
	if err != nil {
		return nil, 0, err
	}
	g.nextOffset = uint32(next)
	if r.cache != nil {
		r.cache.PutGroup(offset, g)
	}
	return g, uint32(next), nil
}

// readLogicalPayload reads and concatenates every record-concat chunk of the
// logical record starting at `at`, returning the assembled payload, whether
// it is flagged compressed/del, and the file offset immediately following
// the record (the next record's FULL/FIRST chunk, modulo block padding).
func (r *Reader) readLogicalPayload(at int64) (payload []byte, compressed, del bool, next int64, err error) {
	var prevRec ConcatType
	first := true
	for {
		hdr, body, n, rerr := r.readChunkAt(at)
		if rerr != nil {
			return nil, false, false, 0, rerr
		}
		rec := hdr.typ.record()
		if first {
			if rec != Full && rec != First {
				return nil, false, false, 0, levierr.Corruptionf("record.readLogicalPayload", "offset %d: expected FULL/FIRST chunk, got %s", at, rec)
			}
			compressed = hdr.typ.compressed()
			del = hdr.typ.del()
			first = false
		} else if !recordConcatOK(prevRec, rec) {
			return nil, false, false, 0, levierr.Corruptionf("record.readLogicalPayload", "offset %d: %s chunk cannot follow %s", at, rec, prevRec)
		}
		payload = append(payload, body...)
		prevRec = rec
		at = n
		if rec == Full || rec == Last {
			return payload, compressed, del, at, nil
		}
	}
}

// readChunkAt reads one physical chunk (header + payload) starting exactly
// at offset `at`, verifying its CRC, and returns the offset immediately
// following it.
func (r *Reader) readChunkAt(at int64) (header, []byte, int64, error) {
	posInBlock := at % BlockSize
	remaining := BlockSize - posInBlock
	if remaining < HeaderSize {
		at += remaining
		posInBlock = 0
	}

	hdrBuf := make([]byte, HeaderSize)
	if _, err := r.f.ReadAt(hdrBuf, at); err != nil {
		return header{}, nil, 0, levierr.IOErrorf("record.readChunkAt", "reading header at %d: %v", at, err)
	}
	hdr := decodeHeader(hdrBuf)

	body := make([]byte, hdr.length)
	if hdr.length > 0 {
		if _, err := r.f.ReadAt(body, at+HeaderSize); err != nil {
			return header{}, nil, 0, levierr.IOErrorf("record.readChunkAt", "reading payload at %d: %v", at+HeaderSize, err)
		}
	}

	got := crc32c.New(hdrBuf[6:7]).Update(body).Value()
	if got != hdr.checksum {
		return header{}, nil, 0, levierr.Corruptionf("record.readChunkAt", "checksum mismatch at offset %d", at)
	}

	return hdr, body, at + HeaderSize + int64(hdr.length), nil
}

func decodeKV(payload []byte, del bool) (key, value []byte, err error) {
	klen, n := varint.Uint32(payload)
	if n <= 0 || int(klen) > len(payload)-n {
		return nil, nil, levierr.Corruptionf("record.decodeKV", "invalid key length prefix")
	}
	key = payload[n : n+int(klen)]
	if del {
		return key, nil, nil
	}
	value = payload[n+int(klen):]
	return key, value, nil
}
