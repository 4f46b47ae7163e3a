/*
Copyright 2013 Google Inc.

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

// Package shard implements DBSingle, the unit the aggregator splits and
// merges: one log file, one bit-degrade index (behind its MVCC overlay),
// and one keeper sidecar recording enough state to reopen cleanly,
// all bound together under a single RWMutex.
package shard

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/gofrs/flock"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/JimChengLin/levidb/index"
	"github.com/JimChengLin/levidb/index/overlay"
	"github.com/JimChengLin/levidb/keeper"
	"github.com/JimChengLin/levidb/levierr"
	"github.com/JimChengLin/levidb/record"
	"github.com/JimChengLin/levidb/seqgen"
)

// Shard is one self-contained (log, index, keeper) triple: LeviDB's
// DBSingle. It owns no notion of its own key range — the aggregator tracks
// which half-open key range each Shard is responsible for.
type Shard struct {
	dir string

	mu      sync.RWMutex
	logFile *os.File
	writer  *record.Writer
	reader  *record.Reader
	cache   *record.Cache
	idx     *index.Index
	overlay *overlay.Overlay
	gen     *seqgen.Generator
	keeper  *keeper.StrongKeeper
	flock   *flock.Flock

	log *zap.Logger
}

// meta is the small blob the shard's keeper sidecar persists: just enough to
// validate (not rebuild) state on reopen. The log and index are themselves
// durable; the keeper only pins down the log length last known to be fully
// indexed, so recovery can tell whether the log grew past it. When it did,
// recovery replays the whole log from offset 0, not from that length.
type meta struct {
	IndexedThrough uint32 `json:"indexed_through"`
}

// DefaultRecordCacheCap and DefaultGroupCacheCap size a shard's record.Cache
// when Open is called with a cache capacity of zero.
const (
	DefaultRecordCacheCap = 4096
	DefaultGroupCacheCap  = 512
)

// Open opens or creates a shard rooted at dir. recordCacheCap/groupCacheCap
// size the shard's record.Cache; either left at zero falls back to this
// package's defaults.
func Open(dir string, log *zap.Logger, recordCacheCap, groupCacheCap int) (*Shard, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if recordCacheCap <= 0 {
		recordCacheCap = DefaultRecordCacheCap
	}
	if groupCacheCap <= 0 {
		groupCacheCap = DefaultGroupCacheCap
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, levierr.IOErrorf("shard.Open", "mkdir %s: %v", dir, err)
	}

	fl := flock.New(filepath.Join(dir, "LOCK"))
	locked, err := fl.TryLock()
	if err != nil {
		return nil, levierr.IOErrorf("shard.Open", "locking %s: %v", dir, err)
	}
	if !locked {
		return nil, levierr.InvalidArgumentf("shard.Open", "shard %s is already open by another process", dir)
	}

	logPath := filepath.Join(dir, "data.log")
	f, err := os.OpenFile(logPath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		fl.Unlock()
		return nil, levierr.IOErrorf("shard.Open", "opening %s: %v", logPath, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		fl.Unlock()
		return nil, levierr.IOErrorf("shard.Open", "stat %s: %v", logPath, err)
	}

	idx, err := index.Open(filepath.Join(dir, "index.levi"))
	if err != nil {
		f.Close()
		fl.Unlock()
		return nil, err
	}

	kp, err := keeper.NewStrong(filepath.Join(dir, "meta"))
	if err != nil {
		idx.Close()
		f.Close()
		fl.Unlock()
		return nil, err
	}

	gen := seqgen.New()
	s := &Shard{
		dir:     dir,
		logFile: f,
		writer:  record.NewWriter(f, fi.Size(), log),
		cache:   record.NewCache(recordCacheCap, groupCacheCap),
		idx:     idx,
		gen:     gen,
		overlay: overlay.New(idx, gen),
		keeper:  kp,
		flock:   fl,
		log:     log,
	}
	s.reader = record.NewReader(f, s.cache)

	if err := s.recover(fi.Size()); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// recover replays the whole log back into the index when the log is longer
// than the keeper's last checkpoint, tolerating a torn tail write (spec.md
// §4.1, §4.4).
func (s *Shard) recover(logSize int64) error {
	var m meta
	if payload, err := s.keeper.Load(); err == nil {
		if len(payload) >= 4 {
			m.IndexedThrough = uint32(payload[0]) | uint32(payload[1])<<8 | uint32(payload[2])<<16 | uint32(payload[3])<<24
		}
	} else if err != keeper.ErrNotFound {
		return err
	}
	if int64(m.IndexedThrough) >= logSize {
		return nil
	}

	// Always replays from the start of the log rather than seeking to
	// IndexedThrough: re-adding already-indexed keys is idempotent (Add
	// upserts), and RecoveryIterator has no mid-file resync entry point yet.
	var corruptions []record.Corruption
	it := record.NewRecoveryIterator(s.logFile, logSize, func(c record.Corruption) {
		corruptions = append(corruptions, c)
	}, s.log)
	for {
		e, err := it.Next()
		if err != nil {
			break // io.EOF
		}
		if err := s.idx.Add(e.Key, e.Offset, e.Special, e.Del); err != nil {
			return err
		}
	}
	if len(corruptions) > 0 {
		s.log.Warn("shard: recovered with corrupt tail", zap.String("dir", s.dir), zap.Int("skipped", len(corruptions)))
	}
	return s.checkpoint(uint32(logSize))
}

func (s *Shard) checkpoint(indexedThrough uint32) error {
	payload := []byte{byte(indexedThrough), byte(indexedThrough >> 8), byte(indexedThrough >> 16), byte(indexedThrough >> 24)}
	return s.keeper.Save(payload)
}

// Get looks up key, optionally as of snap.
func (s *Shard) Get(key []byte, snap *seqgen.Snapshot) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	offset, special, del, found, err := s.overlay.Get(key, snap)
	if err != nil {
		return nil, false, err
	}
	if !found || del {
		return nil, false, nil
	}
	if special {
		g, _, err := s.reader.ReadGroupAt(offset)
		if err != nil {
			return nil, false, err
		}
		i := g.Find(key)
		if i < 0 {
			return nil, false, nil
		}
		return g.Values[i], true, nil
	}
	rec, _, err := s.reader.ReadAt(offset)
	if err != nil {
		return nil, false, err
	}
	return rec.Value, true, nil
}

// Put writes a (key, value) pair and makes it immediately visible.
func (s *Shard) Put(key, value []byte) error {
	return s.putMany([][]byte{key}, [][]byte{value}, []bool{false})
}

// Delete writes a tombstone for key.
func (s *Shard) Delete(key []byte) error {
	return s.putMany([][]byte{key}, nil, []bool{true})
}

func (s *Shard) putMany(keys, values [][]byte, dels []bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putManyLocked(keys, values, dels)
}

// putManyLocked is putMany's core, assuming s.mu is already held for writing.
// Write's compressed-group fallback path reuses it directly instead of
// re-acquiring the lock.
func (s *Shard) putManyLocked(keys, values [][]byte, dels []bool) error {
	vals := values
	if vals == nil {
		vals = make([][]byte, len(keys))
	}
	offsets, err := s.writer.AddRecordsMayDel(keys, vals, dels)
	if err != nil {
		return err
	}

	seq := s.gen.Next()
	edits := make([]overlay.Edit, len(keys))
	for i, k := range keys {
		edits[i] = overlay.Edit{Key: k, Offset: offsets[i], Del: dels[i]}
	}
	s.overlay.Push(seq, edits)
	return s.overlay.Drain()
}

// Write stages a batch of (key, value) pairs as a single indexed unit
// (spec.md §4.4/§4.5 "Batched write"). Keys need not arrive sorted; Write
// sorts its own copy before staging since both the index overlay and the
// compressed-group format require ascending key order.
//
// When tryCompress is set and the batch has more than one entry, Write
// encodes it as a single compressed group and keeps that form only if it
// saves at least 1/8 against the raw bytes (record.EncodeGroupIfSmaller);
// otherwise — and always when tryCompress is false, or the batch is a single
// entry — it falls back to one plain log record per key, still written and
// indexed as one batch.
func (s *Shard) Write(keys, values [][]byte, tryCompress bool) error {
	if len(keys) != len(values) {
		return levierr.InvalidArgumentf("shard.Write", "keys/values length mismatch")
	}
	if len(keys) == 0 {
		return nil
	}

	order := make([]int, len(keys))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool { return bytes.Compare(keys[order[i]], keys[order[j]]) < 0 })
	sortedKeys := make([][]byte, len(keys))
	sortedValues := make([][]byte, len(keys))
	for i, idx := range order {
		sortedKeys[i] = keys[idx]
		sortedValues[i] = values[idx]
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if tryCompress && len(sortedKeys) > 1 {
		payload, ok, err := record.EncodeGroupIfSmaller(sortedKeys, sortedValues)
		if err != nil {
			return err
		}
		if ok {
			offset, err := s.writer.AddEncodedGroup(payload)
			if err != nil {
				return err
			}
			seq := s.gen.Next()
			edits := make([]overlay.Edit, len(sortedKeys))
			for i, k := range sortedKeys {
				edits[i] = overlay.Edit{Key: k, Offset: offset, Special: true}
			}
			s.overlay.Push(seq, edits)
			return s.overlay.Drain()
		}
	}
	return s.putManyLocked(sortedKeys, sortedValues, make([]bool, len(sortedKeys)))
}

// Snapshot pins a read view of the shard.
func (s *Shard) Snapshot() *seqgen.Snapshot {
	return s.overlay.Snapshot()
}

// Size reports the shard's current log file size, used by the aggregator to
// decide when a split is due.
func (s *Shard) Size() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writer.Size()
}

// Scan returns every live (non-deleted) key in the shard, in ascending
// order. Used when rebuilding a split's two child shards.
func (s *Shard) Scan() ([]index.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries, err := s.idx.Scan()
	if err != nil {
		return nil, err
	}
	live := entries[:0]
	for _, e := range entries {
		if !e.Del {
			live = append(live, e)
		}
	}
	return live, nil
}

// Reader exposes the shard's record reader so the aggregator can read back
// the value behind each scanned entry when it copies entries into a new
// shard during a split or merge (the copy re-writes each value via Put).
func (s *Shard) Reader() *record.Reader { return s.reader }

// Dir reports the shard's directory.
func (s *Shard) Dir() string { return s.dir }

// Close flushes and releases every resource the shard holds.
func (s *Shard) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	err = multierr.Append(err, s.checkpoint(uint32(s.writer.Size())))
	err = multierr.Append(err, s.idx.Sync())
	err = multierr.Append(err, s.idx.Close())
	err = multierr.Append(err, s.logFile.Close())
	if s.flock != nil {
		err = multierr.Append(err, s.flock.Unlock())
	}
	return err
}
