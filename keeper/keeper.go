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

// Package keeper persists small sidecar metadata blobs (a shard's indexed log
// length, the aggregator's next shard id) next to the files they describe.
//
// It offers two durability levels, ported from LeviDB's keeper.h/
// meta_keeper.h: WeakKeeper writes its blob in place and tolerates losing the
// last write on a crash — acceptable when the owner can always rebuild the
// same state by replaying its log — while StrongKeeper double-buffers across
// two files and replaces one atomically per save, so a crash mid-write never
// leaves neither file readable.
package keeper

import (
	"bytes"
	"encoding/binary"
	"os"

	atomicfile "github.com/natefinch/atomic"

	"github.com/JimChengLin/levidb/crc32c"
	"github.com/JimChengLin/levidb/levierr"
)

// ErrNotFound is returned by Load when no valid blob could be recovered.
// Callers fall back to rebuilding their state from the log.
var ErrNotFound = levierr.NotFoundf("keeper", "no valid sidecar blob")

const recordOverhead = 4 + 8 // crc32c + generation

func encodeRecord(generation uint64, payload []byte) []byte {
	buf := make([]byte, recordOverhead+len(payload))
	binary.LittleEndian.PutUint64(buf[4:12], generation)
	copy(buf[12:], payload)
	sum := crc32c.New(buf[4:]).Value()
	binary.LittleEndian.PutUint32(buf[0:4], sum)
	return buf
}

func decodeRecord(buf []byte) (generation uint64, payload []byte, ok bool) {
	if len(buf) < recordOverhead {
		return 0, nil, false
	}
	want := binary.LittleEndian.Uint32(buf[0:4])
	got := crc32c.New(buf[4:]).Value()
	if want != got {
		return 0, nil, false
	}
	return binary.LittleEndian.Uint64(buf[4:12]), buf[12:], true
}

// WeakKeeper writes its blob directly to one file. A save that crashes
// mid-write can corrupt the file; Load detects that (checksum mismatch) and
// reports ErrNotFound rather than returning bad data.
type WeakKeeper struct {
	path string
}

// NewWeak returns a WeakKeeper backed by the file at path.
func NewWeak(path string) *WeakKeeper { return &WeakKeeper{path: path} }

// Save overwrites the sidecar file with payload.
func (k *WeakKeeper) Save(payload []byte) error {
	buf := encodeRecord(0, payload)
	if err := os.WriteFile(k.path, buf, 0o644); err != nil {
		return levierr.IOErrorf("keeper.WeakKeeper.Save", "writing %s: %v", k.path, err)
	}
	return nil
}

// Load reads the sidecar file back, or returns ErrNotFound.
func (k *WeakKeeper) Load() ([]byte, error) {
	buf, err := os.ReadFile(k.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, levierr.IOErrorf("keeper.WeakKeeper.Load", "reading %s: %v", k.path, err)
	}
	_, payload, ok := decodeRecord(buf)
	if !ok {
		return nil, ErrNotFound
	}
	return payload, nil
}

// StrongKeeper double-buffers across "<path>.a" and "<path>.b": each Save
// writes the NEXT generation to whichever file does not currently hold the
// latest one, via an atomic rename, so at least one file is always valid.
type StrongKeeper struct {
	pathA, pathB string
	generation   uint64
}

// NewStrong returns a StrongKeeper backed by "<path>.a" and "<path>.b",
// reading whichever currently holds the higher generation to seed its
// counter.
func NewStrong(path string) (*StrongKeeper, error) {
	k := &StrongKeeper{pathA: path + ".a", pathB: path + ".b"}
	genA, _, okA := k.readFile(k.pathA)
	genB, _, okB := k.readFile(k.pathB)
	switch {
	case okA && (!okB || genA >= genB):
		k.generation = genA
	case okB:
		k.generation = genB
	}
	return k, nil
}

func (k *StrongKeeper) readFile(path string) (generation uint64, payload []byte, ok bool) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return 0, nil, false
	}
	generation, payload, ok = decodeRecord(buf)
	return
}

// Save atomically writes payload as the new latest generation, to whichever
// of the two files is currently stale.
func (k *StrongKeeper) Save(payload []byte) error {
	genA, _, okA := k.readFile(k.pathA)
	target := k.pathA
	if okA && genA == k.generation {
		target = k.pathB
	}

	k.generation++
	buf := encodeRecord(k.generation, payload)
	if err := atomicfile.WriteFile(target, bytes.NewReader(buf)); err != nil {
		k.generation--
		return levierr.IOErrorf("keeper.StrongKeeper.Save", "writing %s: %v", target, err)
	}
	return nil
}

// Load returns whichever of the two files currently holds the higher
// generation, or ErrNotFound if neither is valid.
func (k *StrongKeeper) Load() ([]byte, error) {
	genA, payloadA, okA := k.readFile(k.pathA)
	genB, payloadB, okB := k.readFile(k.pathB)
	switch {
	case okA && (!okB || genA >= genB):
		return payloadA, nil
	case okB:
		return payloadB, nil
	default:
		return nil, ErrNotFound
	}
}
