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

// Package overlay implements the index's MVCC front end: a deque of
// sequence-numbered edit bundles sitting in front of the persistent
// bit-degrade index, so a snapshot taken before a write keeps seeing the old
// values until it is released, without the index itself needing to version
// anything on disk.
package overlay

import (
	"bytes"
	"container/list"
	"sync"

	"github.com/JimChengLin/levidb/index"
	"github.com/JimChengLin/levidb/seqgen"
)

// Edit is one pending change to a key. The sequence number it was written at
// is carried by the Bundle that holds it.
type Edit struct {
	Key     []byte
	Offset  uint32
	Special bool
	Del     bool
}

// Bundle groups every edit written as part of one logical write (a single
// AddRecordsMayDel or AddEncodedGroup call) under the sequence number
// assigned to it.
type Bundle struct {
	SeqNum uint64
	Edits  []Edit
}

// Overlay sits in front of an *index.Index: reads check the pending bundle
// deque first (newest to oldest) before falling through to the persistent
// index, and Drain folds bundles no snapshot can still see into the index so
// the deque doesn't grow without bound.
type Overlay struct {
	mu      sync.RWMutex
	index   *index.Index
	gen     *seqgen.Generator
	bundles list.List // of Bundle, oldest at Front
}

// New wraps idx with an MVCC overlay driven by gen.
func New(idx *index.Index, gen *seqgen.Generator) *Overlay {
	return &Overlay{index: idx, gen: gen}
}

// Snapshot pins the current sequence number so later Get calls against it
// keep seeing the state as of this call, even as new bundles are pushed.
func (o *Overlay) Snapshot() *seqgen.Snapshot {
	return o.gen.Snapshot()
}

// Push appends a new bundle of edits at the given sequence number. Callers
// must have already durably written the underlying log records; Push only
// makes them visible to readers.
func (o *Overlay) Push(seq uint64, edits []Edit) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.bundles.PushBack(Bundle{SeqNum: seq, Edits: edits})
}

// Get looks up key as of snap (or the latest state if snap is nil), checking
// pending bundles newest-first before falling through to the persistent
// index.
func (o *Overlay) Get(key []byte, snap *seqgen.Snapshot) (offset uint32, special, del, found bool, err error) {
	ceiling := uint64(1)<<63 - 1
	if snap != nil {
		ceiling = snap.SeqNum()
	}

	o.mu.RLock()
	for el := o.bundles.Back(); el != nil; el = el.Prev() {
		b := el.Value.(Bundle)
		if b.SeqNum > ceiling {
			continue
		}
		for i := len(b.Edits) - 1; i >= 0; i-- {
			e := b.Edits[i]
			if bytes.Equal(e.Key, key) {
				o.mu.RUnlock()
				return e.Offset, e.Special, e.Del, true, nil
			}
		}
	}
	o.mu.RUnlock()

	return o.index.Get(key)
}

// Drain folds every bundle whose sequence number is no longer protected by a
// live snapshot into the persistent index, then drops them from the deque.
// It should be called periodically (e.g. after every write, or on a timer)
// so the overlay doesn't grow without bound.
func (o *Overlay) Drain() error {
	floor := o.gen.OldestIgnoringLive(^uint64(0))

	o.mu.Lock()
	var toApply []Bundle
	for el := o.bundles.Front(); el != nil; {
		b := el.Value.(Bundle)
		if b.SeqNum >= floor {
			break
		}
		next := el.Next()
		o.bundles.Remove(el)
		toApply = append(toApply, b)
		el = next
	}
	o.mu.Unlock()

	for _, b := range toApply {
		for _, e := range b.Edits {
			if err := o.index.Add(e.Key, e.Offset, e.Special, e.Del); err != nil {
				return err
			}
		}
	}
	return nil
}

// Pending reports how many bundles are currently buffered ahead of the
// index.
func (o *Overlay) Pending() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.bundles.Len()
}
