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
	lru "github.com/hashicorp/golang-lru/v2"
)

// Cache holds recently-read records in front of the log file, keyed by their
// file offset. Spec.md §4.1 calls for two independent pools — one for plain
// records, one for compressed groups, since a single group hit is worth
// caching far more reads than a single plain record hit and the two should
// not evict each other.
type Cache struct {
	records *lru.Cache[uint32, Record]
	groups  *lru.Cache[uint32, *Group]
}

// NewCache builds a Cache with recordCap plain-record slots and groupCap
// compressed-group slots.
func NewCache(recordCap, groupCap int) *Cache {
	records, err := lru.New[uint32, Record](recordCap)
	if err != nil {
		panic(err)
	}
	groups, err := lru.New[uint32, *Group](groupCap)
	if err != nil {
		panic(err)
	}
	return &Cache{records: records, groups: groups}
}

// GetRecord returns the cached plain record at offset, if present.
func (c *Cache) GetRecord(offset uint32) (Record, bool) {
	return c.records.Get(offset)
}

// PutRecord caches rec under offset.
func (c *Cache) PutRecord(offset uint32, rec Record) {
	c.records.Add(offset, rec)
}

// GetGroup returns the cached compressed group at offset, if present.
func (c *Cache) GetGroup(offset uint32) (*Group, bool) {
	return c.groups.Get(offset)
}

// PutGroup caches g under offset.
func (c *Cache) PutGroup(offset uint32, g *Group) {
	c.groups.Add(offset, g)
}

// Invalidate drops any cached entry at offset from both pools.
func (c *Cache) Invalidate(offset uint32) {
	c.records.Remove(offset)
	c.groups.Remove(offset)
}
