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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadParsesHuJSONWithComments(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "levidb.conf")
	body := `{
		// where shards live on disk
		"dir": "` + filepath.Join(dir, "data") + `",
		"max_shard_size": 1048576,
		"min_shard_size": 65536, // trailing comma below is fine too
	}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	opts, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "data"), opts.Dir)
	assert.EqualValues(t, 1048576, opts.MaxShardSize)
	assert.EqualValues(t, 65536, opts.MinShardSize)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.conf"))
	assert.Error(t, err)
}

func TestOpenRequiresDir(t *testing.T) {
	_, err := Open(Options{}, nil)
	assert.Error(t, err)
}

func TestOpenStartsAggregator(t *testing.T) {
	dir := t.TempDir()
	a, err := Open(Options{Dir: dir, MaxShardSize: 1024}, nil)
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, a.Put([]byte("k"), []byte("v")))
	v, found, err := a.Get([]byte("k"))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("v"), v)
}
