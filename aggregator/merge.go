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
	"strings"

	"go.uber.org/zap"

	"github.com/JimChengLin/levidb/levierr"
)

// mergeCompleteMarker is written into a merge's "<left>+<right>" scratch
// directory once its shard has been fully built and closed. Its presence is
// what tells recoverDirectory the difference between a scratch build that
// crashed mid-way (unsafe, delete it) and one whose product is complete and
// only needs to be committed into place (finish the commit instead).
const mergeCompleteMarker = "MERGE_COMPLETE"

// Merge combines the adjacent shards at a.ranges[i] and a.ranges[i+1] into a
// single shard, built in a "<left>+<right>" scratch directory. The product is
// renamed into its committed name (the left constituent's id) before either
// source directory is removed (spec.md §4.6): both sources are first renamed
// aside rather than deleted, so any crash between the scratch build finishing
// and the final cleanup still leaves finishMerge enough on disk — the
// completed scratch directory, plus whichever of the two renamed-aside
// sources it hasn't gotten to yet — to complete the commit on next Open
// instead of losing either shard's data.
//
// Like Split, Merge holds compactMu for its whole duration but a.mu only to
// snapshot the two shards being merged and, at the end, to splice the
// replacement into a.ranges — the scan-and-rebuild in between runs with no
// DB-wide lock held (spec.md §4.6: compaction must not stall reads/writes).
func (a *DB) Merge(i int) error {
	a.compactMu.Lock()
	defer a.compactMu.Unlock()

	a.mu.RLock()
	if i < 0 || i+1 >= len(a.ranges) {
		a.mu.RUnlock()
		return levierr.InvalidArgumentf("aggregator.Merge", "shard index %d has no right neighbor to merge with", i)
	}
	left, right := a.ranges[i], a.ranges[i+1]
	a.mu.RUnlock()

	leftEntries, err := left.s.Scan()
	if err != nil {
		return err
	}
	rightEntries, err := right.s.Scan()
	if err != nil {
		return err
	}

	scratchName := left.id + mergeSep + right.id
	scratch := filepath.Join(a.root, scratchName)
	merged, err := a.buildShardFromEntries(scratch, left.s, leftEntries)
	if err != nil {
		os.RemoveAll(scratch)
		return err
	}
	for _, e := range rightEntries {
		value, found, err := readEntryValue(right.s, e)
		if err != nil {
			merged.Close()
			os.RemoveAll(scratch)
			return err
		}
		if !found {
			continue
		}
		if err := merged.Put(e.Key, value); err != nil {
			merged.Close()
			os.RemoveAll(scratch)
			return err
		}
	}
	if err := merged.Close(); err != nil {
		os.RemoveAll(scratch)
		return err
	}
	if err := markMergeComplete(scratch); err != nil {
		return err
	}

	if err := left.s.Close(); err != nil {
		return err
	}
	if err := right.s.Close(); err != nil {
		return err
	}

	if err := finishMerge(a.root, scratchName); err != nil {
		return err
	}
	leftDir := filepath.Join(a.root, left.id)
	if err := writeLowerBound(leftDir, left.lower); err != nil {
		return err
	}

	reopened, err := a.openShard(leftDir)
	if err != nil {
		return err
	}

	a.mu.Lock()
	newRanges := make([]shardRange, 0, len(a.ranges)-1)
	newRanges = append(newRanges, a.ranges[:i]...)
	newRanges = append(newRanges, shardRange{lower: left.lower, id: left.id, s: reopened})
	newRanges = append(newRanges, a.ranges[i+2:]...)
	a.ranges = newRanges
	a.mu.Unlock()

	a.log.Info("aggregator: merged shards",
		zap.String("left", left.id), zap.String("right", right.id))
	return nil
}

func markMergeComplete(scratchDir string) error {
	if err := os.WriteFile(filepath.Join(scratchDir, mergeCompleteMarker), nil, 0o644); err != nil {
		return levierr.IOErrorf("aggregator.Merge", "marking %s complete: %v", scratchDir, err)
	}
	return nil
}

// finishMerge commits an already-complete merge scratch directory (named
// "<leftID>+<rightID>", with mergeCompleteMarker present) into leftID's slot.
// Whatever currently occupies leftID and rightID is renamed aside first
// (retireSuffix) rather than removed outright, then scratch is renamed into
// leftID's place, and only then are the two retired directories deleted. This
// makes finishMerge idempotent and safe to call for a merge interrupted at
// any point after its scratch shard finished building — both the normal
// Merge path and recoverDirectory call it for exactly that reason.
func finishMerge(root, scratchName string) error {
	parts := strings.SplitN(scratchName, mergeSep, 2)
	if len(parts) != 2 {
		return levierr.Corruptionf("aggregator.finishMerge", "malformed merge scratch name %q", scratchName)
	}
	leftID, rightID := parts[0], parts[1]
	scratch := filepath.Join(root, scratchName)
	target := filepath.Join(root, leftID)
	rightDir := filepath.Join(root, rightID)
	retiredTarget := target + retireSuffix
	retiredRight := rightDir + retireSuffix

	if _, err := os.Stat(target); err == nil {
		if err := os.Rename(target, retiredTarget); err != nil {
			return levierr.IOErrorf("aggregator.finishMerge", "retiring %s: %v", target, err)
		}
	}
	if _, err := os.Stat(rightDir); err == nil {
		if err := os.Rename(rightDir, retiredRight); err != nil {
			return levierr.IOErrorf("aggregator.finishMerge", "retiring %s: %v", rightDir, err)
		}
	}
	if err := os.Rename(scratch, target); err != nil {
		return levierr.IOErrorf("aggregator.finishMerge", "committing %s: %v", scratch, err)
	}
	os.RemoveAll(retiredTarget)
	os.RemoveAll(retiredRight)
	return nil
}

// MaybeMergeAround checks whether the shard at index i, or either neighbor
// sharing a border with it, has shrunk below MinShardSize and merges the
// first such adjacent pair it finds. Callers run this after a Delete, when
// shard occupancy can only shrink.
//
// i is taken on a best-effort basis: if a concurrent Split or Merge has
// already changed the shard layout by the time this runs, i may now name a
// different shard than the caller observed. That only costs a missed or
// misdirected merge opportunity, never correctness — a.ranges is only ever
// spliced under a.mu.Lock(), so this read under a.mu.RLock() never observes
// a half-updated slice, only a possibly-stale one.
func (a *DB) MaybeMergeAround(i int) error {
	a.mu.RLock()
	candidates := []int{}
	if i > 0 {
		candidates = append(candidates, i-1)
	}
	candidates = append(candidates, i)
	var target = -1
	for _, c := range candidates {
		if c < 0 || c+1 >= len(a.ranges) {
			continue
		}
		if a.ranges[c].s.Size() < a.MinShardSize || a.ranges[c+1].s.Size() < a.MinShardSize {
			target = c
			break
		}
	}
	a.mu.RUnlock()
	if target < 0 {
		return nil
	}
	return a.Merge(target)
}
