/*
Copyright 2011 Google Inc.

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

// Package config defines the tunables an aggregator.DB is opened with, and a
// loader for reading them from an on-disk HuJSON file (JSON with comments
// and trailing commas) for operators who would rather edit a file than wire
// up Options in Go. It plays the role perkeep's jsonconfig.Obj plays for
// storage backends, without carrying over jsonconfig's config-registry
// machinery — there is only ever one kind of object to configure here.
package config

import (
	"encoding/json"
	"os"

	"github.com/tailscale/hujson"
	"go.uber.org/zap"

	"github.com/JimChengLin/levidb/aggregator"
	"github.com/JimChengLin/levidb/levierr"
)

// Options configures an aggregator.DB. Zero values fall back to the aggregator
// and shard packages' own defaults when passed to Open.
type Options struct {
	// Dir is the root directory holding every shard. Required.
	Dir string `json:"dir"`

	// MaxShardSize is the log size, in bytes, past which a shard splits
	// in two. Zero means aggregator.DefaultMaxShardSize.
	MaxShardSize int64 `json:"max_shard_size"`

	// MinShardSize is the log size, in bytes, under which two adjacent
	// shards become eligible to merge. Zero means
	// aggregator.DefaultMinShardSize.
	MinShardSize int64 `json:"min_shard_size"`

	// RecordCacheCap and GroupCacheCap size each shard's record.Cache.
	// Zero means the shard package's own defaults.
	RecordCacheCap int `json:"record_cache_cap"`
	GroupCacheCap  int `json:"group_cache_cap"`
}

// Load reads a HuJSON config file at path and decodes it into Options.
// HuJSON tolerates // and /* */ comments and trailing commas, so operators
// can annotate the file in place.
func Load(path string) (Options, error) {
	var opts Options
	raw, err := os.ReadFile(path)
	if err != nil {
		return opts, levierr.IOErrorf("config.Load", "reading %s: %v", path, err)
	}
	std, err := hujson.Standardize(raw)
	if err != nil {
		return opts, levierr.InvalidArgumentf("config.Load", "parsing %s: %v", path, err)
	}
	if err := json.Unmarshal(std, &opts); err != nil {
		return opts, levierr.InvalidArgumentf("config.Load", "decoding %s: %v", path, err)
	}
	return opts, nil
}

// Open opens an aggregator.DB at opts.Dir with the rest of opts applied as
// tuning.
func Open(opts Options, log *zap.Logger) (*aggregator.DB, error) {
	if opts.Dir == "" {
		return nil, levierr.InvalidArgumentf("config.Open", "Dir is required")
	}
	return aggregator.OpenTuned(opts.Dir, log, aggregator.Tuning{
		MaxShardSize:   opts.MaxShardSize,
		MinShardSize:   opts.MinShardSize,
		RecordCacheCap: opts.RecordCacheCap,
		GroupCacheCap:  opts.GroupCacheCap,
	})
}
