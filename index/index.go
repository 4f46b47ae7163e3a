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

package index

import (
	"sync"

	"github.com/JimChengLin/levidb/arena"
	"github.com/JimChengLin/levidb/levierr"
)

// Index is the bit-degrade index over one shard's keys: key bytes to log
// file offset (and the special/del flags describing how to interpret that
// offset), backed by a memory-mapped page File.
//
// Get walks the trie using per-page RLocks, handed over one at a time
// (classic lock coupling), so concurrent lookups never block each other or a
// concurrent write once that write has committed its pages. Writes (Add and
// Del, including an Add that splits a bucket) are serialized by structMu;
// Del never collapses a bucket back into its parent. A page is always fully built before the pointer that exposes it
// is swapped, so a reader can never observe a half-built subtree; this is a
// deliberately simpler stand-in for a full lock-free optimistic-retry scheme
// (see DESIGN.md).
type Index struct {
	file     *File
	structMu sync.Mutex
}

// Open opens or creates the index file at path.
func Open(path string) (*Index, error) {
	f, err := OpenFile(path)
	if err != nil {
		return nil, err
	}
	return &Index{file: f}, nil
}

// Close closes the underlying page file.
func (ix *Index) Close() error { return ix.file.Close() }

// Sync flushes the underlying page file.
func (ix *Index) Sync() error { return ix.file.Sync() }

// Get looks up key and reports its log offset, whether that offset names a
// compressed group ("special"), and whether the slot is a tombstone.
func (ix *Index) Get(key []byte) (offset uint32, special, del, found bool, err error) {
	page := ix.file.Root()
	lock := ix.file.lock(page)
	lock.RLock()
	for {
		data := ix.file.page(page)
		if isLeaf(data) {
			entries := decodeLeaf(data)
			lock.RUnlock()
			i, ok := findInLeaf(entries, key)
			if !ok {
				return 0, false, false, false, nil
			}
			e := entries[i]
			return e.Offset, e.Special, e.Del, true, nil
		}
		disc, left, right := getInternal(data)
		next := right
		if direction(key, disc) == 0 {
			next = left
		}
		nextLock := ix.file.lock(next)
		nextLock.RLock()
		lock.RUnlock()
		page, lock = next, nextLock
	}
}

// Add upserts key with the given offset/special/del flags.
func (ix *Index) Add(key []byte, offset uint32, special, del bool) error {
	ix.structMu.Lock()
	defer ix.structMu.Unlock()

	page, parentSlot := ix.walkToLeaf(key)
	lock := ix.file.lock(page)
	lock.Lock()
	data := ix.file.page(page)
	if err := requireLeaf(data, "index.Add"); err != nil {
		lock.Unlock()
		return err
	}
	entries := decodeLeaf(data)
	i, found := findInLeaf(entries, key)
	newEntry := entry{Key: append([]byte(nil), key...), Offset: offset, Special: special, Del: del}
	if found {
		entries[i] = newEntry
	} else {
		entries = append(entries, entry{})
		copy(entries[i+1:], entries[i:])
		entries[i] = newEntry
	}

	if leafFits(entries) {
		putLeaf(data, entries)
		lock.Unlock()
		return nil
	}
	lock.Unlock()

	// The bucket overflowed: build a fresh subtree for these entries and
	// swap the parent's pointer to it once it's fully built, then retire
	// the old page.
	newRoot, err := ix.buildSubtree(entries)
	if err != nil {
		return err
	}
	parentSlot.set(ix.file, newRoot)
	ix.file.freePage(page)
	return nil
}

// Del removes key from the index. found reports whether it was present.
func (ix *Index) Del(key []byte) (found bool, err error) {
	ix.structMu.Lock()
	defer ix.structMu.Unlock()

	page, _ := ix.walkToLeaf(key)
	lock := ix.file.lock(page)
	lock.Lock()
	defer lock.Unlock()
	data := ix.file.page(page)
	if err := requireLeaf(data, "index.Del"); err != nil {
		return false, err
	}
	entries := decodeLeaf(data)
	i, ok := findInLeaf(entries, key)
	if !ok {
		return false, nil
	}
	entries = append(entries[:i], entries[i+1:]...)
	putLeaf(data, entries)
	return true, nil
}

// childSlot names the place a subtree's page number is stored, so a
// structural rewrite can swap it in one write.
type childSlot struct {
	parent uint32
	isRoot bool
	isLeft bool
}

func (s childSlot) set(f *File, page uint32) {
	if s.isRoot {
		f.mu.Lock()
		f.setRoot(page)
		f.mu.Unlock()
		return
	}
	lock := f.lock(s.parent)
	lock.Lock()
	defer lock.Unlock()
	data := f.page(s.parent)
	disc, left, right := getInternal(data)
	if s.isLeft {
		left = page
	} else {
		right = page
	}
	putInternal(data, disc, left, right)
}

// walkToLeaf descends from the root to the leaf bucket that key belongs in,
// returning that leaf's page number and the slot that points at it.
func (ix *Index) walkToLeaf(key []byte) (uint32, childSlot) {
	page := ix.file.Root()
	slot := childSlot{isRoot: true}
	for {
		data := ix.file.page(page)
		if isLeaf(data) {
			return page, slot
		}
		disc, left, right := getInternal(data)
		if direction(key, disc) == 0 {
			slot = childSlot{parent: page, isLeft: true}
			page = left
		} else {
			slot = childSlot{parent: page, isLeft: false}
			page = right
		}
	}
}

// buildSubtree lays out entries (sorted ascending) as a fresh chain of
// pages: a single leaf if they fit, else an internal node split at the
// adjacent pair with the most significant (smallest-packed) discriminator,
// recursively built on both halves. This is the standard way to build a
// crit-bit tree from a sorted array: the minimal adjacent discriminator is
// guaranteed to separate the whole run into two contiguous, internally
// consistent groups.
func (ix *Index) buildSubtree(entries []entry) (uint32, error) {
	if leafFits(entries) {
		p, err := ix.file.allocPage()
		if err != nil {
			return 0, err
		}
		putLeaf(ix.file.page(p), entries)
		return p, nil
	}
	if len(entries) < 2 {
		// A single oversized entry cannot be split further; store it
		// alone and accept the page-size overrun rather than lose data.
		p, err := ix.file.allocPage()
		if err != nil {
			return 0, err
		}
		putLeaf(ix.file.page(p), entries)
		return p, nil
	}

	bestIdx := 0
	bestDisc := ^uint64(0)
	for i := 0; i+1 < len(entries); i++ {
		d, differ := discriminator(entries[i].Key, entries[i+1].Key)
		if !differ {
			return 0, levierr.InvalidArgumentf("index.buildSubtree", "duplicate key in bucket")
		}
		if d < bestDisc {
			bestDisc = d
			bestIdx = i
		}
	}

	leftEntries := entries[:bestIdx+1]
	rightEntries := entries[bestIdx+1:]
	leftPage, err := ix.buildSubtree(append([]entry(nil), leftEntries...))
	if err != nil {
		return 0, err
	}
	rightPage, err := ix.buildSubtree(append([]entry(nil), rightEntries...))
	if err != nil {
		return 0, err
	}
	p, err := ix.file.allocPage()
	if err != nil {
		return 0, err
	}
	putInternal(ix.file.page(p), bestDisc, leftPage, rightPage)
	return p, nil
}

// Scan returns every entry in the index in ascending key order. It takes a
// brief RLock per page as it walks, so it does not see a single consistent
// snapshot under concurrent writers — callers that need that guarantee
// should go through the MVCC overlay instead.
func (ix *Index) Scan() ([]Entry, error) {
	var out []Entry
	var ar arena.Arena
	var walk func(page uint32) error
	walk = func(page uint32) error {
		lock := ix.file.lock(page)
		lock.RLock()
		data := ix.file.page(page)
		if isLeaf(data) {
			entries := decodeLeafWithArena(data, &ar)
			lock.RUnlock()
			for _, e := range entries {
				out = append(out, Entry{Key: e.Key, Offset: e.Offset, Special: e.Special, Del: e.Del})
			}
			return nil
		}
		_, left, right := getInternal(data)
		lock.RUnlock()
		if err := walk(left); err != nil {
			return err
		}
		return walk(right)
	}
	if err := walk(ix.file.Root()); err != nil {
		return nil, err
	}
	return out, nil
}

// Entry is a public, copied view of one index slot, returned by Scan.
type Entry struct {
	Key     []byte
	Offset  uint32
	Special bool
	Del     bool
}
