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

import "errors"

// ErrLogFull is returned by the Add* methods when appending would push the
// log past MaxFileSize (spec.md §1, §4.1), as an explicit sentinel rather
// than a thrown exception. shard.Shard passes it up to its caller unchanged,
// and aggregator.DB returns it as a plain error: it does not trigger a split,
// which the aggregator starts only when a shard's size exceeds MaxShardSize.
var ErrLogFull = errors.New("record: log full")

// ErrCorruption is not returned by this package's readers: a chunk that fails
// its CRC, has an impossible length, or breaks the record-concat order is
// reported as a levierr Corruption error instead.
var ErrCorruption = errors.New("record: corruption")
