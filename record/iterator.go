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

	"go.uber.org/zap"
)

// Entry is one slot a TableIterator yields: either a plain record or a
// compressed group, always tagged with the file offset the index should
// point at for this key (spec.md §4.1 — index slots pointing into a group
// are flagged "special" so lookups know to decode and binary-search inside
// it rather than treat the offset as a plain record).
type Entry struct {
	Key     []byte
	Offset  uint32
	Special bool // true: Offset names a compressed group containing Key
	Del     bool
}

// TableIterator walks every record in a log file in on-disk order, in a
// single forward pass, expanding each compressed group into one Entry per
// contained key, and stops at the first corrupt chunk. Shard recovery does
// not use it; shard.Shard replays its log through RecoveryIterator.
type TableIterator struct {
	r       *Reader
	offset  int64
	size    int64
	pending []Entry
}

// NewTableIterator returns an iterator over the log held by f, whose current
// length is size.
func NewTableIterator(f *os.File, size int64) *TableIterator {
	return &TableIterator{r: NewReader(f, nil), size: size}
}

// Next returns the next Entry, or io.EOF once the whole file has been
// consumed.
func (it *TableIterator) Next() (Entry, error) {
	for len(it.pending) == 0 {
		if it.offset >= it.size {
			return Entry{}, io.EOF
		}
		payload, compressed, del, next, err := it.r.readLogicalPayload(it.offset)
		if err != nil {
			return Entry{}, err
		}
		offset := uint32(it.offset)
		it.offset = next
		if compressed {
			g, gerr := decodeGroup(payload)
			if gerr != nil {
				return Entry{}, gerr
			}
			for _, k := range g.Keys {
				it.pending = append(it.pending, Entry{Key: k, Offset: offset, Special: true})
			}
			continue
		}
		key, _, derr := decodeKV(payload, del)
		if derr != nil {
			return Entry{}, derr
		}
		it.pending = append(it.pending, Entry{Key: key, Offset: offset, Del: del})
	}
	e := it.pending[0]
	it.pending = it.pending[1:]
	return e, nil
}

// Corruption is reported by RecoveryIterator for each chunk run it had to
// skip over.
type Corruption struct {
	Offset int64
	Err    error
}

// RecoveryIterator is TableIterator's tolerant sibling: instead of stopping
// at the first corrupt chunk, it reports the corruption and resyncs to the
// next block boundary, looking for a valid FULL/FIRST header there (spec.md
// §4.1's "limited recovery" contract, same strategy as the leveldb/pebble
// record reader it's grounded on). It is used when opening a shard whose
// keeper sidecar was lost or whose log was not cleanly closed.
type RecoveryIterator struct {
	r        *Reader
	offset   int64
	size     int64
	pending  []Entry
	reporter func(Corruption)
	log      *zap.Logger
}

// NewRecoveryIterator returns a RecoveryIterator over f (length size),
// invoking reporter for every corruption encountered. reporter may be nil.
func NewRecoveryIterator(f *os.File, size int64, reporter func(Corruption), log *zap.Logger) *RecoveryIterator {
	if log == nil {
		log = zap.NewNop()
	}
	return &RecoveryIterator{r: NewReader(f, nil), size: size, reporter: reporter, log: log}
}

// Next returns the next recoverable Entry, or io.EOF once the tail of the
// file holds nothing more to recover.
func (it *RecoveryIterator) Next() (Entry, error) {
	for len(it.pending) == 0 {
		if it.offset >= it.size {
			return Entry{}, io.EOF
		}
		start := it.offset
		payload, compressed, del, next, err := it.r.readLogicalPayload(it.offset)
		if err != nil {
			it.report(Corruption{Offset: start, Err: err})
			it.resync(start)
			continue
		}
		offset := uint32(start)
		it.offset = next
		if compressed {
			g, gerr := decodeGroup(payload)
			if gerr != nil {
				it.report(Corruption{Offset: start, Err: gerr})
				continue
			}
			for _, k := range g.Keys {
				it.pending = append(it.pending, Entry{Key: k, Offset: offset, Special: true})
			}
			continue
		}
		key, _, derr := decodeKV(payload, del)
		if derr != nil {
			it.report(Corruption{Offset: start, Err: derr})
			continue
		}
		it.pending = append(it.pending, Entry{Key: key, Offset: offset, Del: del})
	}
	e := it.pending[0]
	it.pending = it.pending[1:]
	return e, nil
}

func (it *RecoveryIterator) report(c Corruption) {
	it.log.Warn("record: skipping corrupt chunk run", zap.Int64("offset", c.Offset), zap.Error(c.Err))
	if it.reporter != nil {
		it.reporter(c)
	}
}

// resync advances past the block containing failedAt and positions the
// iterator at the start of the next block, where a fresh FULL/FIRST chunk
// run is expected to begin (spec.md §4.1).
func (it *RecoveryIterator) resync(failedAt int64) {
	next := (failedAt/BlockSize + 1) * BlockSize
	if next <= it.offset {
		next = it.offset + BlockSize
	}
	it.offset = next
}
