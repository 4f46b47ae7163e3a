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

// Package index implements LeviDB's bit-degrade index: an ordered key to
// log-offset map stored as a crit-bit trie whose nodes live one-per-page in
// a memory-mapped file, so that Get/Add/Del touch only the pages on the path
// to their key instead of the whole structure.
//
// "Bit-degrade" names the trie's core trick: rather than branching on a
// literal bit position at every level (which needs one node per differing
// bit), each internal node stores a single discriminator identifying the
// highest differing bit between the two keys that caused the branch, so the
// trie degrades gracefully toward a flat structure as keys share long
// prefixes instead of growing one node per shared bit.
package index

import (
	"encoding/binary"
	"os"
	"sync"

	"github.com/edsrzf/mmap-go"

	"github.com/JimChengLin/levidb/crc32c"
	"github.com/JimChengLin/levidb/levierr"
)

const (
	// PageSize is the fixed size of every page in the index file, including
	// the page-0 header.
	PageSize = 4096

	// Rank bounds how many sorted entries a leaf bucket page may hold
	// before it must split into an internal node and two child leaves. It
	// is the index's fan-out knob: a larger rank means fewer, larger
	// linear-scanned buckets; a smaller one means a taller, more
	// pointer-chasing trie.
	Rank = 454

	nilPage uint32 = 0
)

// headerLayout describes the fixed fields kept in page 0.
const (
	hdrMagicOff    = 0
	hdrMagic       = 0x4c455649 // "LEVI"
	hdrRootOff     = 8
	hdrFreeListOff = 12
	hdrPageCntOff  = 16
)

// freeNodeLayout describes how a freed page's body is reused to hold the
// free list link: FreeNode{ next, checksum }. checksum covers next so a
// freed page whose link was corrupted after being freed is caught on reuse
// instead of being handed back out silently.
const (
	freeNextOff = 0
	freeCRCOff  = 4
)

// File is the memory-mapped page store backing one Index.
type File struct {
	f    *os.File
	mm   mmap.MMap
	mu   sync.RWMutex // guards mm (remap on growth) and the per-page lock slice
	locks []*sync.RWMutex

	flMu sync.Mutex // serializes free-list pop/push across concurrent splits/deletes
}

// OpenFile opens or creates the index file at path and maps it in.
func OpenFile(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, levierr.IOErrorf("index.OpenFile", "opening %s: %v", path, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, levierr.IOErrorf("index.OpenFile", "stat %s: %v", path, err)
	}

	pf := &File{f: f}
	if fi.Size() == 0 {
		if err := pf.initEmpty(); err != nil {
			f.Close()
			return nil, err
		}
	} else {
		if err := pf.mapExisting(fi.Size()); err != nil {
			f.Close()
			return nil, err
		}
	}
	return pf, nil
}

func (pf *File) initEmpty() error {
	if err := pf.f.Truncate(PageSize * 2); err != nil {
		return levierr.IOErrorf("index.initEmpty", "truncate: %v", err)
	}
	if err := pf.remap(); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(pf.mm[hdrMagicOff:], hdrMagic)
	binary.LittleEndian.PutUint32(pf.mm[hdrRootOff:], 1) // page 1: empty root leaf
	binary.LittleEndian.PutUint32(pf.mm[hdrFreeListOff:], nilPage)
	binary.LittleEndian.PutUint32(pf.mm[hdrPageCntOff:], 2)
	putLeaf(pf.page(1), nil)
	return pf.mm.Flush()
}

func (pf *File) mapExisting(size int64) error {
	if size%PageSize != 0 {
		return levierr.Corruptionf("index.mapExisting", "file size %d is not a multiple of the page size", size)
	}
	if err := pf.remap(); err != nil {
		return err
	}
	if binary.LittleEndian.Uint32(pf.mm[hdrMagicOff:]) != hdrMagic {
		return levierr.Corruptionf("index.mapExisting", "bad magic")
	}
	return nil
}

func (pf *File) remap() error {
	if pf.mm != nil {
		if err := pf.mm.Unmap(); err != nil {
			return levierr.IOErrorf("index.remap", "unmap: %v", err)
		}
	}
	mm, err := mmap.Map(pf.f, mmap.RDWR, 0)
	if err != nil {
		return levierr.IOErrorf("index.remap", "mmap: %v", err)
	}
	pf.mm = mm
	n := int(pf.pageCountLocked())
	if n < len(pf.locks) {
		n = len(pf.locks)
	}
	locks := make([]*sync.RWMutex, n)
	copy(locks, pf.locks)
	for i := range locks {
		if locks[i] == nil {
			locks[i] = &sync.RWMutex{}
		}
	}
	pf.locks = locks
	return nil
}

func (pf *File) pageCountLocked() uint32 {
	if len(pf.mm) < PageSize {
		return 0
	}
	return binary.LittleEndian.Uint32(pf.mm[hdrPageCntOff:])
}

// Root returns the page number of the trie's root node.
func (pf *File) Root() uint32 {
	pf.mu.RLock()
	defer pf.mu.RUnlock()
	return binary.LittleEndian.Uint32(pf.mm[hdrRootOff:])
}

func (pf *File) setRoot(p uint32) {
	binary.LittleEndian.PutUint32(pf.mm[hdrRootOff:], p)
}

// page returns the raw byte slice backing page n. Callers must hold the
// appropriate lock from Lock/RLock.
func (pf *File) page(n uint32) []byte {
	off := int64(n) * PageSize
	return pf.mm[off : off+PageSize]
}

// lock returns the per-page RWMutex for page n, growing the lock slice under
// pf.mu if needed.
func (pf *File) lock(n uint32) *sync.RWMutex {
	pf.mu.RLock()
	if int(n) < len(pf.locks) {
		l := pf.locks[n]
		pf.mu.RUnlock()
		return l
	}
	pf.mu.RUnlock()

	pf.mu.Lock()
	defer pf.mu.Unlock()
	for int(n) >= len(pf.locks) {
		pf.locks = append(pf.locks, &sync.RWMutex{})
	}
	return pf.locks[n]
}

// allocPage returns a fresh page number, reusing one from the free list when
// possible, else growing the file by one page.
func (pf *File) allocPage() (uint32, error) {
	pf.flMu.Lock()
	defer pf.flMu.Unlock()

	pf.mu.Lock()
	defer pf.mu.Unlock()

	head := binary.LittleEndian.Uint32(pf.mm[hdrFreeListOff:])
	if head != nilPage {
		freePage := pf.page(head)
		next := binary.LittleEndian.Uint32(freePage[freeNextOff:])
		wantCRC := binary.LittleEndian.Uint32(freePage[freeCRCOff:])
		if crc32c.New(freePage[freeNextOff:freeNextOff+4]).Value() != wantCRC {
			return 0, levierr.Corruptionf("index.allocPage", "free page %d has a bad checksum", head)
		}
		binary.LittleEndian.PutUint32(pf.mm[hdrFreeListOff:], next)
		return head, nil
	}

	n := pf.pageCountLocked()
	if err := pf.f.Truncate(int64(n+1) * PageSize); err != nil {
		return 0, levierr.IOErrorf("index.allocPage", "truncate: %v", err)
	}
	if err := pf.remapLocked(); err != nil {
		return 0, err
	}
	binary.LittleEndian.PutUint32(pf.mm[hdrPageCntOff:], n+1)
	return n, nil
}

// remapLocked is remap without re-taking pf.mu (caller already holds it).
func (pf *File) remapLocked() error {
	if pf.mm != nil {
		if err := pf.mm.Unmap(); err != nil {
			return levierr.IOErrorf("index.remap", "unmap: %v", err)
		}
	}
	mm, err := mmap.Map(pf.f, mmap.RDWR, 0)
	if err != nil {
		return levierr.IOErrorf("index.remap", "mmap: %v", err)
	}
	pf.mm = mm
	for uint32(len(pf.locks)) <= pf.pageCountLocked() {
		pf.locks = append(pf.locks, &sync.RWMutex{})
	}
	return nil
}

// freePage returns page n to the free list.
func (pf *File) freePage(n uint32) {
	pf.flMu.Lock()
	defer pf.flMu.Unlock()

	pf.mu.Lock()
	defer pf.mu.Unlock()

	head := binary.LittleEndian.Uint32(pf.mm[hdrFreeListOff:])
	freePage := pf.page(n)
	binary.LittleEndian.PutUint32(freePage[freeNextOff:], head)
	binary.LittleEndian.PutUint32(freePage[freeCRCOff:], crc32c.New(freePage[freeNextOff:freeNextOff+4]).Value())
	binary.LittleEndian.PutUint32(pf.mm[hdrFreeListOff:], n)
}

// Sync flushes the mapped pages to disk.
func (pf *File) Sync() error {
	pf.mu.RLock()
	defer pf.mu.RUnlock()
	if err := pf.mm.Flush(); err != nil {
		return levierr.IOErrorf("index.Sync", "flush: %v", err)
	}
	return nil
}

// Close unmaps and closes the underlying file.
func (pf *File) Close() error {
	pf.mu.Lock()
	defer pf.mu.Unlock()
	if err := pf.mm.Unmap(); err != nil {
		return levierr.IOErrorf("index.Close", "unmap: %v", err)
	}
	return pf.f.Close()
}
