// Copyright 2021-2024 EMQ Technologies Co., Ltd.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package conf

import (
	"os"
	"path"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckpointConfValidate(t *testing.T) {
	tests := []struct {
		name string
		s    *CheckpointConf
		e    *CheckpointConf
		err  string
	}{
		{
			name: "valid",
			s:    &CheckpointConf{Interval: 10, Unaligned: true, AlignmentTimeout: 5, Retained: 3},
			e:    &CheckpointConf{Interval: 10, Unaligned: true, AlignmentTimeout: 5, Retained: 3},
		},
		{
			name: "invalid interval",
			s:    &CheckpointConf{Interval: 0, Retained: 3},
			e:    &CheckpointConf{Interval: 10, Retained: 3},
			err:  "invalidInterval:checkpoint interval must be greater than 0",
		},
		{
			name: "all invalid",
			s:    &CheckpointConf{Interval: -1, AlignmentTimeout: -2, MaxConcurrent: -1, Retained: 0},
			e:    &CheckpointConf{Interval: 10, AlignmentTimeout: 0, MaxConcurrent: 0, Retained: 3},
			err:  "invalidInterval:checkpoint interval must be greater than 0\ninvalidAlignmentTimeout:alignmentTimeout must not be negative\ninvalidMaxConcurrent:maxConcurrent must not be negative\ninvalidRetained:retained must be greater than 0",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCheckpointConf(tt.s)
			assert.Equal(t, tt.e, tt.s)
			if tt.err == "" {
				assert.NoError(t, err)
			} else {
				assert.EqualError(t, err, tt.err)
			}
		})
	}
}

func TestBenchConfValidate(t *testing.T) {
	c := &BenchConf{NumVertices: 1, Parallelism: 0, NumFinishedCheckpoints: -1, RecordSize: -1, SinkDelay: -1, BufferLength: 0}
	err := ValidateBenchConf(c)
	require.Error(t, err)
	assert.Equal(t, &BenchConf{NumVertices: 3, Parallelism: 4, NumFinishedCheckpoints: 10, RecordSize: 1024, SinkDelay: 1000, BufferLength: 64}, c)
	assert.NoError(t, ValidateBenchConf(&Default().Bench))
}

func TestStoreConfValidate(t *testing.T) {
	c := &StoreConf{Type: "SQLite"}
	require.NoError(t, ValidateStoreConf(c))
	assert.Equal(t, "sqlite", c.Type)
	assert.Equal(t, "checkpoint.db", c.Sqlite.Name)
	c = &StoreConf{}
	require.NoError(t, ValidateStoreConf(c))
	assert.Equal(t, "memory", c.Type)
	assert.Error(t, ValidateStoreConf(&StoreConf{Type: "badger"}))
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	p := path.Join(dir, ConfFileName)
	content := `
basic:
  debug: true
checkpoint:
  interval: 20
  unaligned: false
  maxConcurrent: 2
bench:
  parallelism: 2
  mode: ALIGNED
store:
  type: sqlite
  sqlite:
    path: /tmp/ckpt
`
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	t.Setenv("BARRIERFLOW__CHECKPOINT__ALIGNMENTTIMEOUT", "5")
	t.Setenv("BARRIERFLOW__BENCH__MODE", "1")
	t.Setenv("BARRIERFLOW__STORE__REDIS__PASSWORD", "secret")

	require.NoError(t, InitConf(p))
	assert.True(t, Config.Basic.Debug)
	assert.Equal(t, 20, Config.Checkpoint.Interval)
	assert.False(t, Config.Checkpoint.Unaligned)
	assert.Equal(t, 5, Config.Checkpoint.AlignmentTimeout)
	assert.Equal(t, 2, Config.Checkpoint.MaxConcurrent)
	// untouched defaults are kept
	assert.Equal(t, 3, Config.Checkpoint.Retained)
	assert.Equal(t, 10, Config.Bench.NumFinishedCheckpoints)
	assert.Equal(t, 2, Config.Bench.Parallelism)
	// numeric env value is decoded into the string field
	assert.Equal(t, "1", Config.Bench.Mode)
	assert.Equal(t, "sqlite", Config.Store.Type)
	assert.Equal(t, "/tmp/ckpt", Config.Store.Sqlite.Path)
	assert.Equal(t, "checkpoint.db", Config.Store.Sqlite.Name)
	assert.Equal(t, "secret", Config.Store.Redis.Password)
	assert.Equal(t, "127.0.0.1:6379", Config.Store.Redis.Addr)
	Config = Default()
}

func TestLoadMissingFile(t *testing.T) {
	c := Default()
	t.Setenv("NOTEXIST__BENCH__RECORDSIZE", "16")
	require.NoError(t, LoadConfigFromPath(path.Join(t.TempDir(), "notexist.yaml"), c))
	assert.Equal(t, 16, c.Bench.RecordSize)
}

func TestEnvNotSection(t *testing.T) {
	c := Default()
	p := path.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(p, []byte("bench: 3\n"), 0o644))
	t.Setenv("BAD__BENCH__MODE", "0")
	assert.Error(t, LoadConfigFromPath(p, c))
}

func TestPrintable(t *testing.T) {
	m := map[string]interface{}{
		"addr":     "127.0.0.1:6379",
		"password": "secret",
		"nested":   map[string]interface{}{"Password": "x", "db": 1},
	}
	assert.Equal(t, map[string]interface{}{
		"addr":     "127.0.0.1:6379",
		"password": "***",
		"nested":   map[string]interface{}{"Password": "***", "db": 1},
	}, Printable(m))
}
