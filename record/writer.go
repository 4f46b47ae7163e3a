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
	"sync"

	"go.uber.org/zap"

	"github.com/JimChengLin/levidb/varint"
)

// Writer serializes appends to one shard's data file behind a single mutex,
// per spec.md §5 ("The log writer serializes add_* behind an internal mutex
// so that each record receives a unique increasing offset"). It is the log
// half of shard.Shard.
type Writer struct {
	mu   sync.Mutex
	f    *os.File
	size int64
	log  *zap.Logger
}

// NewWriter wraps f (opened read-write, positioned at its current end of
// file) as a log Writer. size is the file's current length.
func NewWriter(f *os.File, size int64, log *zap.Logger) *Writer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Writer{f: f, size: size, log: log}
}

// Size reports the current file length.
func (w *Writer) Size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.size
}

// item is one (key, value, del) entry to be chunked into the log.
type item struct {
	payload    []byte
	compressed bool
	del        bool
}

// AddRecord appends a normal (key, value) record and returns its offset.
func (w *Writer) AddRecord(key, value []byte) (uint32, error) {
	offs, err := w.appendItems([]item{{payload: encodeKV(key, value), compressed: false, del: false}})
	if err != nil {
		return 0, err
	}
	return offs[0], nil
}

// AddRecordForDel appends a deletion marker for key and returns its offset.
func (w *Writer) AddRecordForDel(key []byte) (uint32, error) {
	offs, err := w.appendItems([]item{{payload: encodeKV(key, nil), compressed: false, del: true}})
	if err != nil {
		return 0, err
	}
	return offs[0], nil
}

// AddCompressedRecords appends one compressed record group (spec.md §4.1
// "Compressed-group payload"). keys must be sorted; keys/values must be the
// same length.
func (w *Writer) AddCompressedRecords(keys, values [][]byte) (uint32, error) {
	payload, err := encodeGroup(keys, values)
	if err != nil {
		return 0, err
	}
	offs, err := w.appendItems([]item{{payload: payload, compressed: true, del: false}})
	if err != nil {
		return 0, err
	}
	return offs[0], nil
}

// AddEncodedGroup appends a compressed-group payload already produced by
// EncodeGroupIfSmaller, without re-encoding it. Used by a shard's batched
// write once it has decided the compressed form is worth keeping.
func (w *Writer) AddEncodedGroup(payload []byte) (uint32, error) {
	offs, err := w.appendItems([]item{{payload: payload, compressed: true, del: false}})
	if err != nil {
		return 0, err
	}
	return offs[0], nil
}

// AddRecordsMayDel writes N records as one batch (a single outer
// FIRST…LAST batch-concat run on their chunks) and returns one offset per
// input record. On ErrLogFull, nothing is appended: the writer stages the
// whole batch in memory first and only then issues a single file write, so a
// log-full mid-batch is all-or-nothing (spec.md §4.1).
func (w *Writer) AddRecordsMayDel(keys, values [][]byte, delFlags []bool) ([]uint32, error) {
	items := make([]item, len(keys))
	for i := range keys {
		items[i] = item{payload: encodeKV(keys[i], values[i]), del: delFlags[i]}
	}
	return w.appendItems(items)
}

func encodeKV(key, value []byte) []byte {
	buf := make([]byte, 0, varint.MaxLen32+len(key)+len(value))
	buf = varint.AppendUint32(buf, uint32(len(key)))
	buf = append(buf, key...)
	buf = append(buf, value...)
	return buf
}

// appendItems stages the chunked encoding of items into one contiguous
// buffer (computing block padding against the writer's current size), then
// — only if the whole thing fits under MaxFileSize — issues a single Write
// and advances w.size. It returns one offset per item, the offset of that
// item's first chunk header.
func (w *Writer) appendItems(items []item) ([]uint32, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var buf []byte
	offsets := make([]uint32, len(items))
	pos := w.size

	for i, it := range items {
		var batch ConcatType
		switch {
		case len(items) == 1:
			batch = Full
		case i == 0:
			batch = First
		case i == len(items)-1:
			batch = Last
		default:
			batch = Middle
		}

		offsets[i] = uint32(pos)
		chunks := splitChunks(pos, it.payload)
		for ci, c := range chunks {
			// Pad to the next block if the remaining space can't hold a
			// header; splitChunks already accounts for this by only
			// producing chunks that fit, but the gap itself must still be
			// physically zero-filled on disk.
			if c.padBefore > 0 {
				buf = append(buf, make([]byte, c.padBefore)...)
				pos += int64(c.padBefore)
			}
			rec := First
			switch {
			case len(chunks) == 1:
				rec = Full
			case ci == 0:
				rec = First
			case ci == len(chunks)-1:
				rec = Last
			default:
				rec = Middle
			}
			typ := makeChunkType(batch, rec, it.compressed, it.del)
			hdr := make([]byte, HeaderSize)
			encodeHeader(hdr, typ, c.payload)
			buf = append(buf, hdr...)
			buf = append(buf, c.payload...)
			pos += int64(HeaderSize + len(c.payload))
		}
	}

	if pos > MaxFileSize {
		return nil, ErrLogFull
	}

	n, err := w.f.Write(buf)
	if err != nil {
		return nil, err
	}
	w.size += int64(n)
	return offsets, nil
}

// chunkPiece is one physical chunk's payload slice, plus how many zero pad
// bytes must be emitted immediately before it to reach a block boundary.
type chunkPiece struct {
	payload   []byte
	padBefore int
}

// splitChunks lays payload out into one or more block-respecting chunks,
// starting at file offset `at`. It mirrors the writer-side half of the
// block-framing algorithm in spec.md §4.1.
func splitChunks(at int64, payload []byte) []chunkPiece {
	var out []chunkPiece
	for {
		posInBlock := at % BlockSize
		remaining := BlockSize - posInBlock
		padBefore := 0
		if remaining < HeaderSize {
			padBefore = int(remaining)
			at += remaining
			posInBlock = 0
			remaining = BlockSize
		}
		maxPayload := remaining - HeaderSize
		n := int64(len(payload))
		if n > maxPayload {
			n = maxPayload
		}
		out = append(out, chunkPiece{payload: payload[:n], padBefore: padBefore})
		payload = payload[n:]
		at += HeaderSize + n
		if len(payload) == 0 {
			break
		}
	}
	return out
}
