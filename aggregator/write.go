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
	"bytes"
	"sort"

	"github.com/JimChengLin/levidb/levierr"
	"github.com/JimChengLin/levidb/shard"
)

// Write stages a batch of (key, value) pairs across however many shards own
// their keys (spec.md §4.4/§4.5 "Batched write"). The batch is sorted once,
// partitioned into one contiguous run per owning shard, and each run is
// handed to that shard's own shard.Write — so each shard touched by the
// batch gets exactly one log append (optionally one compressed group)
// instead of one per key.
//
// Splits triggered along the way are applied after every shard's share has
// been written, keyed by shard id rather than the index captured while
// partitioning: an earlier split in this same batch shifts every later
// shard's position in a.ranges, so re-locating by id is the only way to
// still name the right shard by the time a later split runs.
func (a *DB) Write(keys, values [][]byte, tryCompress bool) error {
	if len(keys) != len(values) {
		return levierr.InvalidArgumentf("aggregator.Write", "keys/values length mismatch")
	}
	if len(keys) == 0 {
		return nil
	}

	order := make([]int, len(keys))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool { return bytes.Compare(keys[order[i]], keys[order[j]]) < 0 })

	type writeGroup struct {
		id   string
		s    *shard.Shard
		keys [][]byte
		vals [][]byte
	}
	var groups []*writeGroup

	a.mu.RLock()
	for _, idx := range order {
		k, v := keys[idx], values[idx]
		i := a.find(k)
		if i < 0 {
			a.mu.RUnlock()
			return levierr.InvalidArgumentf("aggregator.Write", "no shard owns key range")
		}
		r := a.ranges[i]
		if len(groups) == 0 || groups[len(groups)-1].id != r.id {
			groups = append(groups, &writeGroup{id: r.id, s: r.s})
		}
		g := groups[len(groups)-1]
		g.keys = append(g.keys, k)
		g.vals = append(g.vals, v)
	}
	a.mu.RUnlock()

	touched := make([]string, 0, len(groups))
	for _, g := range groups {
		if err := g.s.Write(g.keys, g.vals, tryCompress); err != nil {
			return err
		}
		touched = append(touched, g.id)
	}

	for _, id := range touched {
		if err := a.maybeSplitByID(id); err != nil {
			return err
		}
	}
	return nil
}

// maybeSplitByID re-locates the shard currently holding id and splits it if
// it has grown past MaxShardSize. Unlike Put, which reuses the index it
// routed by, Write looks id up again here since an earlier iteration's Split
// can have shifted every later shard's index.
func (a *DB) maybeSplitByID(id string) error {
	a.mu.RLock()
	i := -1
	var size int64
	for idx, r := range a.ranges {
		if r.id == id {
			i = idx
			size = r.s.Size()
			break
		}
	}
	a.mu.RUnlock()
	if i < 0 || size <= a.MaxShardSize {
		return nil
	}
	return a.Split(i)
}
