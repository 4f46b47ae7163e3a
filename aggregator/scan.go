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

// KV is one (key, value) pair returned by Scan.
type KV struct {
	Key   []byte
	Value []byte
}

// Scan returns every live key in the store, in ascending order (spec.md
// §4.4/§4.5 "scan"). a.ranges is already kept sorted and disjoint by lower
// bound, so concatenating each shard's own (already-sorted, already-live)
// Scan in dispatcher order produces a single globally ordered sequence
// without needing a merge step.
func (a *DB) Scan() ([]KV, error) {
	a.mu.RLock()
	ranges := append([]shardRange(nil), a.ranges...)
	a.mu.RUnlock()

	var out []KV
	for _, r := range ranges {
		entries, err := r.s.Scan()
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			value, found, err := readEntryValue(r.s, e)
			if err != nil {
				return nil, err
			}
			if !found {
				continue
			}
			out = append(out, KV{Key: e.Key, Value: value})
		}
	}
	return out, nil
}
