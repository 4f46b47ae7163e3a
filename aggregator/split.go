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

package aggregator

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/JimChengLin/levidb/index"
	"github.com/JimChengLin/levidb/levierr"
	"github.com/JimChengLin/levidb/shard"
)

// Split divides the shard at a.ranges[i] into two shards at its median key.
// The two replacements are built from scratch in "<id>_a"/"<id>_b" scratch
// directories; only once both are complete and closed does Split retire the
// original directory, so a crash at any point before the final renames
// leaves the original shard untouched (recoverDirectory deletes the scratch
// dirs on the next Open and the split is simply retried later).
//
// Split holds compactMu for its whole duration (only one compaction runs at
// a time) but a.mu only briefly: once to snapshot the shard being split, and
// once at the end to splice the replacements into a.ranges. Since compactMu
// is the only thing that can otherwise change a.ranges, index i stays valid
// throughout, and the scan-and-rebuild in between runs with no DB-wide lock
// held — Get/Put/Delete/Write keep reaching the original shard the entire
// time, through its own mutex, right up until it's closed at the end.
func (a *DB) Split(i int) error {
	a.compactMu.Lock()
	defer a.compactMu.Unlock()

	a.mu.RLock()
	if i < 0 || i >= len(a.ranges) {
		a.mu.RUnlock()
		return levierr.InvalidArgumentf("aggregator.Split", "shard index %d out of range", i)
	}
	old := a.ranges[i]
	a.mu.RUnlock()

	entries, err := old.s.Scan()
	if err != nil {
		return err
	}
	if len(entries) < 2 {
		// Nothing sensible to split on; leave the shard oversized rather
		// than manufacture an empty sibling.
		return nil
	}
	mid := len(entries) / 2
	splitKey := entries[mid].Key

	idB, err := a.allocID()
	if err != nil {
		return err
	}

	dirA := old.s.Dir() + splitSuffixA
	dirB := old.s.Dir() + splitSuffixB

	sA, err := a.buildShardFromEntries(dirA, old.s, entries[:mid])
	if err != nil {
		os.RemoveAll(dirA)
		return err
	}
	sB, err := a.buildShardFromEntries(dirB, old.s, entries[mid:])
	if err != nil {
		sA.Close()
		os.RemoveAll(dirA)
		os.RemoveAll(dirB)
		return err
	}
	if err := sA.Close(); err != nil {
		sB.Close()
		os.RemoveAll(dirA)
		os.RemoveAll(dirB)
		return err
	}
	if err := sB.Close(); err != nil {
		os.RemoveAll(dirA)
		os.RemoveAll(dirB)
		return err
	}

	finalDirA := old.s.Dir() // the left half reuses the original's id and slot
	finalDirB := filepath.Join(a.root, idB)

	if err := old.s.Close(); err != nil {
		return err
	}
	if err := os.RemoveAll(finalDirA); err != nil {
		return levierr.IOErrorf("aggregator.Split", "clearing %s: %v", finalDirA, err)
	}
	if err := os.Rename(dirA, finalDirA); err != nil {
		return levierr.IOErrorf("aggregator.Split", "renaming %s: %v", dirA, err)
	}
	if err := os.Rename(dirB, finalDirB); err != nil {
		return levierr.IOErrorf("aggregator.Split", "renaming %s: %v", dirB, err)
	}
	if err := writeLowerBound(finalDirA, old.lower); err != nil {
		return err
	}
	if err := writeLowerBound(finalDirB, splitKey); err != nil {
		return err
	}

	reopenedA, err := a.openShard(finalDirA)
	if err != nil {
		return err
	}
	reopenedB, err := a.openShard(finalDirB)
	if err != nil {
		reopenedA.Close()
		return err
	}

	a.mu.Lock()
	newRanges := make([]shardRange, 0, len(a.ranges)+1)
	newRanges = append(newRanges, a.ranges[:i]...)
	newRanges = append(newRanges, shardRange{lower: old.lower, id: old.id, s: reopenedA})
	newRanges = append(newRanges, shardRange{lower: splitKey, id: idB, s: reopenedB})
	newRanges = append(newRanges, a.ranges[i+1:]...)
	a.ranges = newRanges
	a.mu.Unlock()

	a.log.Info("aggregator: split shard",
		zap.String("original", old.id), zap.Int("entries", len(entries)))
	return nil
}

// buildShardFromEntries creates a fresh shard at dir and replays entries
// (already-live key/value pairs scanned from src) into it via Put, so the
// new shard's log and index are self-consistent from the first byte rather
// than sharing storage with the shard it was split from.
func (a *DB) buildShardFromEntries(dir string, src *shard.Shard, entries []index.Entry) (*shard.Shard, error) {
	s, err := a.openShard(dir)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		value, found, err := readEntryValue(src, e)
		if err != nil {
			s.Close()
			return nil, err
		}
		if !found {
			continue
		}
		if err := s.Put(e.Key, value); err != nil {
			s.Close()
			return nil, err
		}
	}
	return s, nil
}

func readEntryValue(src *shard.Shard, e index.Entry) ([]byte, bool, error) {
	if !e.Special {
		rec, _, err := src.Reader().ReadAt(e.Offset)
		if err != nil {
			return nil, false, err
		}
		return rec.Value, true, nil
	}
	g, _, err := src.Reader().ReadGroupAt(e.Offset)
	if err != nil {
		return nil, false, err
	}
	idx := g.Find(e.Key)
	if idx < 0 {
		return nil, false, nil
	}
	return g.Values[idx], true, nil
}
