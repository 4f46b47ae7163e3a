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

// Package levidb is a package-documentation-only root for the LeviDB storage
// core: an embedded, single-process, ordered key/value store built from a
// handful of composable pieces rather than one monolithic DB type.
//
// Start at aggregator.DB — it is what an embedder opens. It dispatches keys
// across a range-partitioned set of shard.Shards, each of which pairs an
// append-only log (record.Writer/Reader) with a memory-mapped bit-degrade
// index (index.Index) behind an MVCC overlay (index/overlay.Overlay), and
// drives the online split/merge compaction that keeps shard count matched
// to data volume. config.Load/config.Open read HuJSON option files for
// operators who prefer a file over constructing aggregator.Tuning by hand.
//
// There is deliberately no higher-level facade in this package: no
// transaction API beyond the raw snapshot mechanics index/overlay exposes,
// no CLI, no operator log. Those are out of scope for the storage core this
// module implements.
package levidb
